package csr

import "rvcore/isa"

// Standard CSR addresses used by NewStandard. Only the subset this core
// needs is named; anything else is simply unimplemented (ErrUnimplemented).
const (
	Sstatus  = 0x100
	Sie      = 0x104
	Stvec    = 0x105
	Scounteren = 0x106
	Senvcfg  = 0x10A
	Sscratch = 0x140
	Sepc     = 0x141
	Scause   = 0x142
	Stval    = 0x143
	Sip      = 0x144
	Satp     = 0x180

	Mstatus    = 0x300
	Misa       = 0x301
	Medeleg    = 0x302
	Mideleg    = 0x303
	Mie        = 0x304
	Mtvec      = 0x305
	Mcounteren = 0x306
	Mstatush   = 0x310
	Mscratch   = 0x340
	Mepc       = 0x341
	Mcause     = 0x342
	Mtval      = 0x343
	Mip        = 0x344

	Cycle    = 0xC00
	Time     = 0xC01
	Instret  = 0xC02
	CycleH   = 0xC80
	TimeH    = 0xC81
	InstretH = 0xC82

	Mvendorid   = 0xF11
	Marchid     = 0xF12
	Mimpid      = 0xF13
	Mhartid     = 0xF14
	Mconfigptr  = 0xF15
)

// mstatus bit layout (RV64; the low 32 bits match RV32's mstatus).
const (
	MstatusSIE  = uint64(1) << 1
	MstatusMIE  = uint64(1) << 3
	MstatusSPIE = uint64(1) << 5
	MstatusMPIE = uint64(1) << 7
	MstatusSPP  = uint64(1) << 8
	MstatusMPPShift = 11
	MstatusMPPMask  = uint64(0x3) << MstatusMPPShift
	MstatusFSShift  = 13
	MstatusFSMask   = uint64(0x3) << MstatusFSShift
	MstatusMPRV = uint64(1) << 17
	MstatusSUM  = uint64(1) << 18
	MstatusMXR  = uint64(1) << 19
	MstatusTVM  = uint64(1) << 20
	MstatusTW   = uint64(1) << 21
	MstatusTSR  = uint64(1) << 22
	MstatusSDRV32 = uint64(1) << 31
	MstatusSDRV64 = uint64(1) << 63
)

// MstatusWritableMask is the set of bits a Machine-mode write to mstatus
// may actually change; everything else is WARL-pinned to its reset value
// (spec.md §4.3: "mstatus has a fixed writable mask").
const MstatusWritableMask = MstatusSIE | MstatusMIE | MstatusSPIE | MstatusMPIE |
	MstatusSPP | MstatusMPPMask | MstatusFSMask | MstatusMPRV | MstatusSUM |
	MstatusMXR | MstatusTVM | MstatusTW | MstatusTSR

// SstatusMask is the subset of mstatus visible through the sstatus view,
// the literal value spec.md §4.3 calls out ("e.g. 0x800DE133 in the
// reference").
const SstatusMask = uint64(0x800DE133)

// NewStandard builds the conventional M/S/U-mode CSR set for one hart:
// mstatus/sstatus, the trap CSRs (tvec/scratch/epc/cause/tval) for both
// M and S, medeleg/mideleg, mie/mip (with sie/sip as masked views),
// satp, counteren, the read-only id registers, and the cycle/time/
// instret counters (driven by the callbacks the hart supplies).
func NewStandard(xlen isa.XLEN, hartID uint64, cycle, instret func() uint64, time func() uint64) *File {
	f := New(xlen)

	mstatus := f.Define(Mstatus, isa.PrivMachine, MstatusWritableMask, 0)
	mstatus.Set = func(newRaw uint64) {
		sd := uint64(0)
		if newRaw&MstatusFSMask == MstatusFSMask {
			sd = MstatusSDRV64
		}
		mstatus.val = (newRaw &^ (MstatusSDRV64)) | sd
	}

	f.DefineWith(Sstatus, isa.PrivSupervisor,
		func() uint64 { return mstatus.get() & SstatusMask },
		func(newRaw uint64) {
			mstatus.set((mstatus.get() &^ SstatusMask) | (newRaw & SstatusMask))
		})

	// misa: RV32/64IMAC, read-only (MXL in top 2 bits, extension bits
	// for I/M/A/C).
	mxl := uint64(1)
	if xlen == isa.XLEN64 {
		mxl = 2
	}
	extBits := uint64(0)
	for _, c := range "IMAC" {
		extBits |= 1 << uint(c-'A')
	}
	misaShift := uint(30)
	if xlen == isa.XLEN64 {
		misaShift = 62
	}
	f.Define(Misa, isa.PrivMachine, 0, mxl<<misaShift|extBits)

	f.Define(Medeleg, isa.PrivMachine, ^uint64(0), 0)
	f.Define(Mideleg, isa.PrivMachine, ^uint64(0), 0)

	mie := f.Define(Mie, isa.PrivMachine, ^uint64(0), 0)
	sieMask := uint64(1<<isa.IntSSoftware | 1<<isa.IntSTimer | 1<<isa.IntSExternal)
	f.DefineWith(Sie, isa.PrivSupervisor,
		func() uint64 { return mie.get() & sieMask },
		func(newRaw uint64) { mie.set((mie.get() &^ sieMask) | (newRaw & sieMask)) })

	mip := f.Define(Mip, isa.PrivMachine, uint64(1<<isa.IntSSoftware|1<<isa.IntSTimer|1<<isa.IntSExternal), 0)
	f.DefineWith(Sip, isa.PrivSupervisor,
		func() uint64 { return mip.get() & sieMask },
		func(newRaw uint64) { mip.set((mip.get() &^ sieMask) | (newRaw & sieMask)) })

	f.Define(Mtvec, isa.PrivMachine, ^uint64(0), 0)
	f.Define(Stvec, isa.PrivSupervisor, ^uint64(0), 0)
	f.Define(Mscratch, isa.PrivMachine, ^uint64(0), 0)
	f.Define(Sscratch, isa.PrivSupervisor, ^uint64(0), 0)
	f.Define(Mepc, isa.PrivMachine, ^uint64(1), 0)
	f.Define(Sepc, isa.PrivSupervisor, ^uint64(1), 0)
	f.Define(Mcause, isa.PrivMachine, ^uint64(0), 0)
	f.Define(Scause, isa.PrivSupervisor, ^uint64(0), 0)
	f.Define(Mtval, isa.PrivMachine, ^uint64(0), 0)
	f.Define(Stval, isa.PrivSupervisor, ^uint64(0), 0)
	f.Define(Mcounteren, isa.PrivMachine, 0x7, 0)
	f.Define(Scounteren, isa.PrivSupervisor, 0x7, 0)
	f.Define(Senvcfg, isa.PrivSupervisor, 0, 0)
	f.Define(Mstatush, isa.PrivMachine, 0, 0)

	f.Define(Satp, isa.PrivSupervisor, ^uint64(0), 0)

	lowHalf := func(v func() uint64) func() uint64 { return v }
	if xlen == isa.XLEN32 {
		lowHalf = func(v func() uint64) func() uint64 {
			return func() uint64 { return v() & 0xFFFFFFFF }
		}
	}
	f.DefineWith(Cycle, isa.PrivUser, lowHalf(cycle), nil)
	f.DefineWith(Instret, isa.PrivUser, lowHalf(instret), nil)
	f.DefineWith(Time, isa.PrivUser, lowHalf(time), nil)
	if xlen == isa.XLEN32 {
		f.DefineWith(CycleH, isa.PrivUser, func() uint64 { return cycle() >> 32 }, nil)
		f.DefineWith(InstretH, isa.PrivUser, func() uint64 { return instret() >> 32 }, nil)
		f.DefineWith(TimeH, isa.PrivUser, func() uint64 { return time() >> 32 }, nil)
	}

	f.Define(Mvendorid, isa.PrivMachine, 0, 0)
	f.Define(Marchid, isa.PrivMachine, 0, 0)
	f.Define(Mimpid, isa.PrivMachine, 0, 0)
	f.Define(Mhartid, isa.PrivMachine, 0, hartID)
	f.Define(Mconfigptr, isa.PrivMachine, 0, 0)

	return f
}
