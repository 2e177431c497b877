package machine

import "encoding/binary"

// openSBIMagic is the FW_DYNAMIC magic value "OSBI" read little-endian
// as a 32-bit word (spec.md §6: magic=0x4942534F).
const openSBIMagic = 0x4942534F

// openSBIVersion is the FW_DYNAMIC struct version this helper emits.
const openSBIVersion = 2

// FWDynamicInfo is the boot struct a loader places at the address
// passed in `a2` when launching M-mode firmware (spec.md §6):
// `{magic, version, next_addr, next_mode, options, boot_hart}`,
// little-endian, 24 bytes — six 32-bit fields, matching the literal byte
// count this spec calls out rather than upstream OpenSBI's wider
// 64-bit-field ABI.
type FWDynamicInfo struct {
	NextAddr uint32
	NextMode uint32
	Options  uint32
	BootHart uint32
}

// MarshalFWDynamic encodes info as the 24-byte FW_DYNAMIC struct.
func MarshalFWDynamic(info FWDynamicInfo) [24]byte {
	var b [24]byte
	binary.LittleEndian.PutUint32(b[0:4], openSBIMagic)
	binary.LittleEndian.PutUint32(b[4:8], openSBIVersion)
	binary.LittleEndian.PutUint32(b[8:12], info.NextAddr)
	binary.LittleEndian.PutUint32(b[12:16], info.NextMode)
	binary.LittleEndian.PutUint32(b[16:20], info.Options)
	binary.LittleEndian.PutUint32(b[20:24], info.BootHart)
	return b
}

// UnmarshalFWDynamic decodes a 24-byte FW_DYNAMIC struct, reporting
// whether its magic/version fields match what this core emits.
func UnmarshalFWDynamic(b [24]byte) (info FWDynamicInfo, ok bool) {
	magic := binary.LittleEndian.Uint32(b[0:4])
	version := binary.LittleEndian.Uint32(b[4:8])
	if magic != openSBIMagic || version != openSBIVersion {
		return FWDynamicInfo{}, false
	}
	info.NextAddr = binary.LittleEndian.Uint32(b[8:12])
	info.NextMode = binary.LittleEndian.Uint32(b[12:16])
	info.Options = binary.LittleEndian.Uint32(b[16:20])
	info.BootHart = binary.LittleEndian.Uint32(b[20:24])
	return info, true
}

// dtbAlignment and dtbReserve implement spec.md §6's DTB placement rule:
// "DTB placed at mem_base + mem_size - 8 MiB, aligned to 2 MiB".
const (
	dtbReserve   = 8 * 1024 * 1024
	dtbAlignment = 2 * 1024 * 1024
)

// DTBAddress returns the guest-physical address a generated device tree
// should be placed at for the machine's configured RAM layout.
func (m *Machine) DTBAddress() uint64 {
	raw := m.cfg.MemBase + m.cfg.MemSize - dtbReserve
	return raw &^ (dtbAlignment - 1)
}

// BootArgs returns the a0 (hartid) / a1 (dtb_addr) register pair a
// loader should set before releasing bootHart, per spec.md §6.
func (m *Machine) BootArgs(bootHart uint64) (a0, a1 uint64) {
	return bootHart, m.DTBAddress()
}

// LoadDTB writes a flattened device tree blob at DTBAddress, one byte at
// a time so the write works regardless of the blob's length parity
// (mmiobus.Access requires a power-of-two size per access).
func (m *Machine) LoadDTB(blob []byte) error {
	addr := m.DTBAddress()
	for i, b := range blob {
		buf := [1]byte{b}
		if err := m.bus.Access(addr+uint64(i), 1, true, buf[:]); err != nil {
			return err
		}
	}
	return nil
}
