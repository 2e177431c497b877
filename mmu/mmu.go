// Package mmu implements the SV32-style page-table walk and TLB
// described in spec.md §4.2: guest virtual addresses are translated
// through a two-level page table rooted at satp, with a small
// directly-addressed TLB caching RAM-backed translations.
//
// Grounded on the teacher's memory_bus.go address-decode path (RAM fast
// path checked first, MMIO region lookup as the fallback) generalized
// here with a translation stage in front of it; the TLB entry shape
// (tag + cached host-reachable target) follows the same "cache the
// common case, recompute the rare one" pattern the teacher uses for its
// page-aligned RAM bitmap.
package mmu

import (
	"fmt"

	"rvcore/isa"
)

// PTE bit positions, SV32 layout (spec.md glossary).
const (
	pteV = 1 << 0
	pteR = 1 << 1
	pteW = 1 << 2
	pteX = 1 << 3
	pteU = 1 << 4
	pteG = 1 << 5
	pteA = 1 << 6
	pteD = 1 << 7
)

const (
	pageSize  = 4096
	pageShift = 12
	// PPN field is bits [31:10] of the 32-bit PTE (22 bits).
	ptePPNShift = 10
	ptePPNMask  = 0x3FFFFF
)

// PhysBus is the physical address space a translated address is
// ultimately resolved against: RAM or an MMIO region (mmiobus.Bus
// satisfies this without mmu importing it back).
type PhysBus interface {
	Access(addr uint64, size int, write bool, buf []byte) error
	InRAM(addr uint64, size uint64) bool
}

// Fault describes a translation failure; the caller (hart) maps it onto
// the appropriate xcause/xtval CSR pair and takes a trap.
type Fault struct {
	Cause uint64
	Tval  uint64
}

func (f *Fault) Error() string {
	return fmt.Sprintf("mmu: page fault cause=%d tval=%#x", f.Cause, f.Tval)
}

func pageFaultCause(kind isa.AccessKind) uint64 {
	switch kind {
	case isa.AccessExecute:
		return isa.ExcInstrPageFault
	case isa.AccessStore:
		return isa.ExcStorePageFault
	default:
		return isa.ExcLoadPageFault
	}
}

func accessFaultCause(kind isa.AccessKind) uint64 {
	switch kind {
	case isa.AccessExecute:
		return isa.ExcInstrAccessFault
	case isa.AccessStore:
		return isa.ExcStoreAccessFault
	default:
		return isa.ExcLoadAccessFault
	}
}

type tlbEntry struct {
	valid  bool
	vpn    uint64
	global bool
	access uint8 // the pteR/pteW/pteX bit of the access kind that was walked
	phys   uint64 // physical page base (bits above pageShift)
}

const (
	accR = pteR
	accW = pteW
	accX = pteX
)

func accessBit(kind isa.AccessKind) uint8 {
	switch kind {
	case isa.AccessExecute:
		return accX
	case isa.AccessStore:
		return accW
	default:
		return accR
	}
}

// MMU owns one hart's TLB and performs SV32 walks against a PhysBus.
// Not safe for concurrent use — owned by the single hart thread that
// holds it, same as the rest of the per-hart state (spec.md §5).
type MMU struct {
	bus PhysBus
	tlb []tlbEntry
}

// New creates an MMU with a direct-mapped TLB of the given size (must
// be a power of two; spec.md §4.2 leaves associativity as an
// implementation choice).
func New(bus PhysBus, tlbSize int) *MMU {
	if tlbSize <= 0 || tlbSize&(tlbSize-1) != 0 {
		tlbSize = 64
	}
	return &MMU{bus: bus, tlb: make([]tlbEntry, tlbSize)}
}

func (m *MMU) tlbIndex(vpn uint64) int {
	return int(vpn) & (len(m.tlb) - 1)
}

// Flush invalidates the whole TLB: SFENCE.VMA, a write to satp, or a
// privilege-mode change must all call this (spec.md §4.2).
func (m *MMU) Flush() {
	for i := range m.tlb {
		m.tlb[i] = tlbEntry{}
	}
}

// Translate resolves a guest virtual address to a physical one for the
// given access kind. satp is the raw CSR value, priv the current
// privilege mode, sum/mxr the corresponding mstatus bits. Returns a
// *Fault on any translation or permission failure.
func (m *MMU) Translate(virt uint64, kind isa.AccessKind, satp uint64, priv isa.Priv, sum, mxr bool) (uint64, *Fault) {
	if priv == isa.PrivMachine || (satp>>31)&1 == 0 {
		return virt, nil
	}

	vpn := virt >> pageShift
	want := accessBit(kind)
	idx := m.tlbIndex(vpn)
	if e := m.tlb[idx]; e.valid && e.vpn == vpn && e.access&want != 0 {
		return e.phys<<pageShift | (virt & (pageSize - 1)), nil
	}

	phys, access, fault := m.walk(uint32(virt), kind, satp, priv, sum, mxr)
	if fault != nil {
		return 0, fault
	}

	if m.bus.InRAM(phys&^uint64(pageSize-1), pageSize) {
		m.tlb[idx] = tlbEntry{valid: true, vpn: vpn, access: access & want, phys: phys >> pageShift}
	}
	return phys, nil
}

// walk performs the two-level SV32 page-table walk for vaddr, returning
// the resolved physical address and the access bits the leaf PTE
// actually grants (for TLB caching).
func (m *MMU) walk(vaddr uint32, kind isa.AccessKind, satp uint64, priv isa.Priv, sum, mxr bool) (uint64, uint8, *Fault) {
	vpn1 := uint32(vaddr>>22) & 0x3FF
	vpn0 := uint32(vaddr>>12) & 0x3FF
	pageOff := uint64(vaddr) & 0xFFF

	rootPPN := uint32(satp & ptePPNMask)
	pte1Addr := uint64(rootPPN)*pageSize + uint64(vpn1)*4
	pte1, err := m.readPTE(pte1Addr)
	if err != nil {
		return 0, 0, &Fault{Cause: accessFaultCause(kind), Tval: uint64(vaddr)}
	}
	if pte1&pteV == 0 {
		return 0, 0, &Fault{Cause: pageFaultCause(kind), Tval: uint64(vaddr)}
	}

	if pte1&(pteR|pteW|pteX) != 0 {
		// Level-1 leaf: a 4 MiB megapage. The low 10 bits of PPN must be
		// zero (they're supplied by vpn0 instead).
		ppn := (pte1 >> ptePPNShift) & ptePPNMask
		if ppn&0x3FF != 0 {
			return 0, 0, &Fault{Cause: pageFaultCause(kind), Tval: uint64(vaddr)}
		}
		if err := m.checkRights(pte1, kind, priv, sum, mxr); err != nil {
			err.Tval = uint64(vaddr)
			return 0, 0, err
		}
		m.setAccessedDirty(pte1Addr, pte1, kind)
		phys := (uint64(ppn>>10) << 22) | (uint64(vpn0) << 12) | pageOff
		return phys, uint8(pte1 & (pteR | pteW | pteX)), nil
	}

	// Not a leaf: descend to the second level.
	ppn := (pte1 >> ptePPNShift) & ptePPNMask
	pte0Addr := uint64(ppn)*pageSize + uint64(vpn0)*4
	pte0, err := m.readPTE(pte0Addr)
	if err != nil {
		return 0, 0, &Fault{Cause: accessFaultCause(kind), Tval: uint64(vaddr)}
	}
	if pte0&pteV == 0 || pte0&(pteR|pteW|pteX) == 0 {
		return 0, 0, &Fault{Cause: pageFaultCause(kind), Tval: uint64(vaddr)}
	}
	if err := m.checkRights(pte0, kind, priv, sum, mxr); err != nil {
		err.Tval = uint64(vaddr)
		return 0, 0, err
	}
	m.setAccessedDirty(pte0Addr, pte0, kind)
	leafPPN := (pte0 >> ptePPNShift) & ptePPNMask
	phys := (uint64(leafPPN) << 12) | pageOff
	return phys, uint8(pte0 & (pteR | pteW | pteX)), nil
}

func (m *MMU) checkRights(pte uint32, kind isa.AccessKind, priv isa.Priv, sum, mxr bool) *Fault {
	readable := pte&pteR != 0 || (mxr && pte&pteX != 0)
	ok := false
	switch kind {
	case isa.AccessExecute:
		ok = pte&pteX != 0
	case isa.AccessStore:
		ok = pte&pteW != 0
	default:
		ok = readable
	}
	if !ok {
		return &Fault{Cause: pageFaultCause(kind)}
	}
	if pte&pteU != 0 {
		if priv == isa.PrivSupervisor {
			// Supervisor may touch a User page only for load/store, and
			// only when SUM is set; never executable from Supervisor.
			if kind == isa.AccessExecute || !sum {
				return &Fault{Cause: pageFaultCause(kind)}
			}
		}
	} else if priv == isa.PrivUser {
		return &Fault{Cause: pageFaultCause(kind)}
	}
	return nil
}

// setAccessedDirty sets the PTE's A bit (and D bit on a write),
// writing the PTE back only if a bit actually changed. Concurrent
// walkers sharing the same page table (different harts) can race here;
// accepted as a known simplification (see DESIGN.md).
func (m *MMU) setAccessedDirty(addr uint64, pte uint32, kind isa.AccessKind) {
	updated := pte | pteA
	if kind == isa.AccessStore {
		updated |= pteD
	}
	if updated == pte {
		return
	}
	var buf [4]byte
	buf[0] = byte(updated)
	buf[1] = byte(updated >> 8)
	buf[2] = byte(updated >> 16)
	buf[3] = byte(updated >> 24)
	_ = m.bus.Access(addr, 4, true, buf[:])
}

func (m *MMU) readPTE(addr uint64) (uint32, error) {
	var buf [4]byte
	if err := m.bus.Access(addr, 4, false, buf[:]); err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}
