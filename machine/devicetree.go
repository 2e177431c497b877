package machine

import (
	"fmt"

	"rvcore/devtree"
)

func reg64(hi, lo uint64) []uint32 {
	return []uint32{uint32(hi >> 32), uint32(hi), uint32(lo >> 32), uint32(lo)}
}

// BuildDeviceTree assembles the standard /cpus, /memory, /soc tree
// (spec.md §6) for this machine's current configuration and PLIC. extra
// device nodes (already built by the caller with devtree.New/Child — a
// concrete device backend lives outside this package, §1) are appended
// under /soc in the order given.
//
// Grounded on the shape the pack's reference rv64 hypervisor code builds
// once at boot before hart setup (see DESIGN.md); generated fresh here
// from the machine's actual hart count/RAM/PLIC rather than hardcoded.
func (m *Machine) BuildDeviceTree(extra ...*devtree.Node) ([]byte, error) {
	isa := "rv32imac"
	mmuType := "riscv,sv32"
	if m.cfg.XLEN == 64 {
		isa = "rv64imac"
	}

	root := devtree.New("")
	root.Add(devtree.PropU32("#address-cells", 2))
	root.Add(devtree.PropU32("#size-cells", 2))
	root.Add(devtree.PropStrings("compatible", "rvcore,virt"))
	root.Add(devtree.PropString("model", "rvcore virtual machine"))

	cpus := root.Child("cpus")
	cpus.Add(devtree.PropU32("#address-cells", 1))
	cpus.Add(devtree.PropU32("#size-cells", 0))
	cpus.Add(devtree.PropU32("timebase-frequency", 10000000))

	for i := range m.harts {
		cpu := cpus.Child(fmt.Sprintf("cpu@%x", i))
		cpu.Add(devtree.PropString("device_type", "cpu"))
		cpu.Add(devtree.PropU32("reg", uint32(i)))
		cpu.Add(devtree.PropStrings("compatible", "riscv"))
		cpu.Add(devtree.PropString("riscv,isa", isa))
		// mmu-type is SV32 regardless of XLEN: the mmu package
		// implements only the SV32 walk, not SV39/SV48.
		cpu.Add(devtree.PropString("mmu-type", mmuType))
		cpu.Add(devtree.PropString("status", "okay"))

		intc := cpu.Child("interrupt-controller")
		intc.Add(devtree.PropStrings("compatible", "riscv,cpu-intc"))
		intc.Add(devtree.PropU32("#interrupt-cells", 1))
		intc.Add(devtree.Prop{Name: "interrupt-controller"})
	}

	mem := root.Child(fmt.Sprintf("memory@%x", m.cfg.MemBase))
	mem.Add(devtree.PropStrings("device_type", "memory"))
	mem.Add(devtree.PropCells("reg", reg64(m.cfg.MemBase, m.cfg.MemSize)...))

	soc := root.Child("soc")
	soc.Add(devtree.PropU32("#address-cells", 2))
	soc.Add(devtree.PropU32("#size-cells", 2))
	soc.Add(devtree.PropStrings("compatible", "simple-bus"))
	soc.Add(devtree.Prop{Name: "ranges"})

	plicNode := soc.Child(fmt.Sprintf("plic@%x", m.cfg.PLICBase))
	plicNode.Add(devtree.PropStrings("compatible", "sifive,plic-1.0.0"))
	plicNode.Add(devtree.PropU32("#interrupt-cells", 1))
	plicNode.Add(devtree.Prop{Name: "interrupt-controller"})
	plicNode.Add(devtree.PropCells("reg", reg64(m.cfg.PLICBase, plicCtxEnd)...))
	plicNode.Add(devtree.PropU32("riscv,ndev", uint32(m.cfg.PLICSources)))

	soc.Children = append(soc.Children, extra...)

	return devtree.Build(root, uint32(m.cfg.BootHartID))
}
