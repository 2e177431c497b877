package hart

import (
	"sync/atomic"

	"rvcore/bitops"
	"rvcore/csr"
	"rvcore/isa"
	"rvcore/mmu"
	"rvcore/plic"
)

// Reservation tracks the address an LR.W/LR.D is watching for SC to
// succeed against (spec.md §4.1: "Reservation is cleared on any store
// to the reserved address, on context switch, and on SC regardless of
// outcome").
type Reservation struct {
	valid bool
	addr  uint64
}

// Hart is one RISC-V hardware thread: register file, privilege state,
// CSR file, MMU/TLB, and the atomic event flags another thread may set
// (spec.md §5). Everything else here is owned exclusively by the
// goroutine that calls Step.
//
// Grounded on the teacher's cpu_ie32.go register-file-plus-execute-loop
// shape, generalized from a fixed 16-register retro CPU to a
// privilege-aware, XLEN-parameterized RISC-V hart; the atomic event
// flags replace that file's `sync.Mutex`-guarded interrupt state with
// the lock-free scheme spec.md §5 calls for.
type Hart struct {
	ID   uint64
	XLEN isa.XLEN

	regs [32]uint64
	pc   uint64
	priv isa.Priv

	CSR *csr.File
	MMU *mmu.MMU
	Bus mmu.PhysBus

	resv Reservation

	waitEvent atomic.Uint32
	evTrap    atomic.Uint32
	evInt     atomic.Uint32
	evIntMask atomic.Uint32

	trapCause atomic.Uint64
	trapTval  atomic.Uint64

	timerNow func() uint64
	timerCmp uint64

	// trapTaken is set by trapEntry so Step knows not to overwrite the
	// vectored PC with its own "advance PC" computation.
	trapTaken bool
}

// New creates a hart at reset: Machine mode, PC at resetPC, all
// registers zero.
func New(id uint64, xlen isa.XLEN, csrFile *csr.File, m *mmu.MMU, bus mmu.PhysBus, resetPC uint64, timerNow func() uint64) *Hart {
	h := &Hart{ID: id, XLEN: xlen, CSR: csrFile, MMU: m, Bus: bus, priv: isa.PrivMachine, pc: resetPC, timerNow: timerNow}
	h.waitEvent.Store(1)
	return h
}

// Reg reads general register i, masked to XLEN; X0 always reads 0.
func (h *Hart) Reg(i int) uint64 {
	if i == 0 {
		return 0
	}
	return h.regs[i] & h.XLEN.Mask()
}

// SetReg writes general register i; writes to X0 are discarded.
func (h *Hart) SetReg(i int, v uint64) {
	if i == 0 {
		return
	}
	h.regs[i] = v & h.XLEN.Mask()
}

func (h *Hart) PC() uint64      { return h.pc }
func (h *Hart) SetPC(v uint64)  { h.pc = v & h.XLEN.Mask() }
func (h *Hart) Priv() isa.Priv  { return h.priv }

func (h *Hart) satp() uint64 { return h.CSR.Peek(csr.Satp) }

func (h *Hart) sumBit() bool {
	return h.CSR.Peek(csr.Mstatus)&csr.MstatusSUM != 0
}

func (h *Hart) mxrBit() bool {
	return h.CSR.Peek(csr.Mstatus)&csr.MstatusMXR != 0
}

// clearReservation drops any outstanding LR reservation; called on
// context switch (trap entry/exit and privilege change) per spec.md §4.1.
func (h *Hart) clearReservation() { h.resv = Reservation{} }

// MachineExternalSink/SupervisorExternalSink satisfy plic.HartSink for
// this hart's two PLIC contexts (spec.md §3: "2 × hart count").
func (h *Hart) MachineExternalSink() plic.HartSink {
	return &externalSink{h: h, bit: isa.IntMExternal}
}

func (h *Hart) SupervisorExternalSink() plic.HartSink {
	return &externalSink{h: h, bit: isa.IntSExternal}
}

type externalSink struct {
	h   *Hart
	bit uint
}

// RaiseExternal/LowerExternal run on the PLIC's calling thread, never
// the hart's own — they may only touch the hart's atomic event-flag
// words (spec.md §5: CSRs are owned exclusively by the hart thread).
// The actual mip.MEIP/mip.SEIP bits are (re)synthesised from
// ev_int_mask by the hart itself at its next event poll.
func (s *externalSink) RaiseExternal() {
	atomicOr32(&s.h.evIntMask, uint32(1)<<s.bit)
	s.h.evInt.Store(1)
	s.h.waitEvent.Store(1)
}

func (s *externalSink) LowerExternal() {
	atomicAndNot32(&s.h.evIntMask, uint32(1)<<s.bit)
	s.h.evInt.Store(1)
}

func atomicOr32(v *atomic.Uint32, bits uint32) {
	for {
		old := v.Load()
		if old&bits == bits {
			return
		}
		if v.CompareAndSwap(old, old|bits) {
			return
		}
	}
}

func atomicAndNot32(v *atomic.Uint32, bits uint32) {
	for {
		old := v.Load()
		if old&bits == 0 {
			return
		}
		if v.CompareAndSwap(old, old&^bits) {
			return
		}
	}
}

// RequestTrap lets another thread (e.g. the machine, on a fatal host
// error it wants reflected into the guest) ask this hart to take a
// trap at its next event poll, per spec.md §4.1's `ev_trap` flag.
func (h *Hart) RequestTrap(cause, tval uint64) {
	h.trapCause.Store(cause)
	h.trapTval.Store(tval)
	h.evTrap.Store(1)
	h.waitEvent.Store(1)
}

// SetTimerCompare sets this hart's timer compare register (mtimecmp).
// Owned by the hart thread: guest writes to the CLINT-equivalent MMIO
// register should be routed here by the machine's device wiring.
func (h *Hart) SetTimerCompare(v uint64) { h.timerCmp = v }

// Halted reports whether the hart is currently blocked in WFI.
func (h *Hart) Halted() bool { return h.waitEvent.Load() == 0 }

// Pause clears wait_event, the same flag WFI blocks on, so Step stops
// fetching and only polls events until Resume is called (spec.md §5:
// "pausing signals each hart by clearing wait_event to 0").
func (h *Hart) Pause() { h.waitEvent.Store(0) }

// Resume sets wait_event back to 1 after a Pause.
func (h *Hart) Resume() { h.waitEvent.Store(1) }

// Reset returns the hart to its power-on state: Machine mode, PC at
// resetPC, registers zeroed, TLB flushed, reservation dropped. The CSR
// file itself is reset by the caller (machine.Machine.Reset owns the
// CSR set and recreates it, the same "machine owns reset order" split
// spec.md §5 describes for device state).
func (h *Hart) Reset(resetPC uint64) {
	h.regs = [32]uint64{}
	h.pc = resetPC & h.XLEN.Mask()
	h.priv = isa.PrivMachine
	h.clearReservation()
	h.MMU.Flush()
	h.waitEvent.Store(1)
	h.evTrap.Store(0)
	h.evInt.Store(0)
	h.evIntMask.Store(0)
	h.timerCmp = 0
	h.trapTaken = false
}

// Step executes exactly one instruction (compressed or not), advances
// PC, and polls pending events/interrupts. If the hart is halted in
// WFI it only polls events and returns.
func (h *Hart) Step() {
	if h.waitEvent.Load() == 0 {
		h.pollEvents()
		return
	}

	pc := h.pc
	low16, fault := h.fetch16(pc)
	if fault != nil {
		h.takeFault(fault)
		return
	}

	// Whether a second fetch is even attempted is decided purely from
	// the first halfword: a genuinely compressed instruction at the
	// last 2 bytes of a page must never speculatively fetch into the
	// next (possibly unmapped) page (spec.md §4.2).
	var inst Inst
	var length uint64
	if low16&0x3 != 0x3 {
		inst = Decode16(low16, h.XLEN)
		length = 2
	} else {
		high16, fault := h.fetch16(pc + 2)
		if fault != nil {
			h.takeFault(fault)
			return
		}
		inst = Decode32(uint32(low16) | uint32(high16)<<16)
		length = 4
	}

	if inst.Kind == KIllegal {
		h.takeTrap(isa.ExcIllegalInstr, uint64(inst.Raw), false)
		return
	}

	nextPC := pc + length
	h.exec(inst, pc, &nextPC)
	if !h.trapTaken {
		h.pc = nextPC & h.XLEN.Mask()
	}
	h.trapTaken = false
	h.pollEvents()
}

// fetch16 reads one 16-bit halfword for instruction fetch via the MMU,
// translating with AccessExecute.
func (h *Hart) fetch16(addr uint64) (uint16, *mmu.Fault) {
	phys, fault := h.MMU.Translate(addr, isa.AccessExecute, h.satp(), h.priv, h.sumBit(), h.mxrBit())
	if fault != nil {
		return 0, fault
	}
	var buf [2]byte
	if err := h.Bus.Access(phys, 2, false, buf[:]); err != nil {
		return 0, &mmu.Fault{Cause: isa.ExcInstrAccessFault, Tval: addr}
	}
	return bitops.Load16(buf[:], 0), nil
}

// loadMem/storeMem translate once and issue a single size-wide bus
// access when the access fits in one page, falling back to a
// byte-at-a-time, re-translate-per-page loop only across an actual
// page-boundary crossing (spec.md §4.2), assembling/disassembling the
// little-endian value around it.
func (h *Hart) loadMem(addr uint64, size int) (uint64, *mmu.Fault) {
	var buf [8]byte
	if err := h.accessSplit(addr, size, isa.AccessLoad, false, buf[:]); err != nil {
		return 0, err
	}
	return bitops.LoadSized(buf[:], 0, size), nil
}

func (h *Hart) storeMem(addr uint64, size int, v uint64) *mmu.Fault {
	var buf [8]byte
	bitops.StoreSized(buf[:], 0, size, v)
	return h.accessSplit(addr, size, isa.AccessStore, true, buf[:])
}

func (h *Hart) accessSplit(addr uint64, size int, kind isa.AccessKind, write bool, buf []byte) *mmu.Fault {
	const pageMask = 4095
	accessFault := func() *mmu.Fault {
		cause := uint64(isa.ExcLoadAccessFault)
		if kind == isa.AccessStore {
			cause = isa.ExcStoreAccessFault
		}
		return &mmu.Fault{Cause: cause, Tval: addr}
	}

	// The common case: the whole access lies in one page, so translate
	// once and issue a single size-wide access (spec.md §4.2 only
	// requires splitting when a crossing actually happens; devices with
	// MinOpSize > 1, e.g. the PLIC, would otherwise access-fault on
	// every load/store).
	if addr&^uint64(pageMask) == (addr+uint64(size)-1)&^uint64(pageMask) {
		phys, fault := h.MMU.Translate(addr, kind, h.satp(), h.priv, h.sumBit(), h.mxrBit())
		if fault != nil {
			fault.Tval = addr
			return fault
		}
		if err := h.Bus.Access(phys, size, write, buf[:size]); err != nil {
			return accessFault()
		}
		return nil
	}

	lastPage := ^uint64(0)
	var phys uint64
	for i := 0; i < size; i++ {
		va := addr + uint64(i)
		page := va &^ pageMask
		if page != lastPage {
			p, fault := h.MMU.Translate(va, kind, h.satp(), h.priv, h.sumBit(), h.mxrBit())
			if fault != nil {
				fault.Tval = addr
				return fault
			}
			phys = p
			lastPage = page
		} else {
			phys++
		}
		if err := h.Bus.Access(phys, 1, write, buf[i:i+1]); err != nil {
			return accessFault()
		}
	}
	return nil
}

func (h *Hart) takeFault(f *mmu.Fault) {
	h.takeTrap(f.Cause, f.Tval, false)
}

// Snapshot is a point-in-time dump of architectural state, for tests
// and debug tooling (grounded on the teacher's debug_snapshot.go — an
// introspection aid, not a tracing protocol).
type Snapshot struct {
	Regs [32]uint64
	PC   uint64
	Priv isa.Priv
}

func (h *Hart) Snapshot() Snapshot {
	s := Snapshot{PC: h.pc, Priv: h.priv}
	for i := range h.regs {
		s.Regs[i] = h.Reg(i)
	}
	return s
}
