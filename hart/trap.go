package hart

import (
	"rvcore/csr"
	"rvcore/isa"
)

// interruptOrder is the fixed priority spec.md §4.6 describes:
// "external > software > timer within each privilege, Machine >
// Supervisor > User" (User-level interrupts are architecturally
// undefined here and never populate mip/mie).
var interruptOrder = [...]uint64{
	isa.IntMExternal, isa.IntMSoftware, isa.IntMTimer,
	isa.IntSExternal, isa.IntSSoftware, isa.IntSTimer,
}

func isSLevelInterrupt(bit uint64) bool {
	return bit == isa.IntSExternal || bit == isa.IntSSoftware || bit == isa.IntSTimer
}

// trapEntry vectors the hart into cause `code` at `priv` (Machine unless
// medeleg/mideleg delegates it to Supervisor and the hart isn't already
// in Machine mode — spec.md §7: "a trap that originates at a higher
// privilege than the target is never delegated"), saving epc/cause/tval
// and the xPP/xPIE pair, then clearing the reservation (context switch,
// spec.md §4.1).
func (h *Hart) trapEntry(code uint64, tval uint64, isInterrupt bool, epc uint64) {
	fullCause := code
	if isInterrupt {
		fullCause |= isa.CauseInterruptBit
	}

	delegated := false
	if h.priv != isa.PrivMachine {
		deleg := h.CSR.Peek(csr.Medeleg)
		if isInterrupt {
			deleg = h.CSR.Peek(csr.Mideleg)
		}
		if code < 64 && deleg&(uint64(1)<<code) != 0 {
			delegated = true
		}
	}

	target := isa.PrivMachine
	if delegated {
		target = isa.PrivSupervisor
	}

	mstatus := h.CSR.Peek(csr.Mstatus)
	if target == isa.PrivMachine {
		h.CSR.Poke(csr.Mepc, epc&h.XLEN.Mask())
		h.CSR.Poke(csr.Mcause, fullCause)
		h.CSR.Poke(csr.Mtval, tval)

		if mstatus&csr.MstatusMIE != 0 {
			mstatus |= csr.MstatusMPIE
		} else {
			mstatus &^= csr.MstatusMPIE
		}
		mstatus &^= csr.MstatusMIE
		mstatus = (mstatus &^ csr.MstatusMPPMask) | (uint64(h.priv) << csr.MstatusMPPShift)
		h.CSR.Poke(csr.Mstatus, mstatus)

		tvec := h.CSR.Peek(csr.Mtvec)
		h.pc = vectorPC(tvec, code, isInterrupt) & h.XLEN.Mask()
	} else {
		h.CSR.Poke(csr.Sepc, epc&h.XLEN.Mask())
		h.CSR.Poke(csr.Scause, fullCause)
		h.CSR.Poke(csr.Stval, tval)

		if mstatus&csr.MstatusSIE != 0 {
			mstatus |= csr.MstatusSPIE
		} else {
			mstatus &^= csr.MstatusSPIE
		}
		mstatus &^= csr.MstatusSIE
		if h.priv == isa.PrivSupervisor {
			mstatus |= csr.MstatusSPP
		} else {
			mstatus &^= csr.MstatusSPP
		}
		h.CSR.Poke(csr.Mstatus, mstatus)

		tvec := h.CSR.Peek(csr.Stvec)
		h.pc = vectorPC(tvec, code, isInterrupt) & h.XLEN.Mask()
	}

	h.priv = target
	h.clearReservation()
	h.MMU.Flush()
	h.trapTaken = true
}

func vectorPC(tvec, code uint64, isInterrupt bool) uint64 {
	base := tvec &^ 0x3
	if isInterrupt && tvec&0x3 == 1 {
		return base + code*4
	}
	return base
}

// takeTrap is the synchronous-exception entry point: epc is always the
// address of the faulting instruction itself.
func (h *Hart) takeTrap(code, tval uint64, isInterrupt bool) {
	h.trapEntry(code, tval, isInterrupt, h.pc)
}

// execMRET/execSRET implement xRET per the standard privileged-ISA
// rule: restore xIE from xPIE, set xPIE to 1, switch to xPP, reset xPP
// to the least-privileged supported mode (User).
func (h *Hart) execMRET() {
	mstatus := h.CSR.Peek(csr.Mstatus)
	mpp := isa.Priv((mstatus & csr.MstatusMPPMask) >> csr.MstatusMPPShift)
	if mstatus&csr.MstatusMPIE != 0 {
		mstatus |= csr.MstatusMIE
	} else {
		mstatus &^= csr.MstatusMIE
	}
	mstatus |= csr.MstatusMPIE
	mstatus &^= csr.MstatusMPPMask
	h.CSR.Poke(csr.Mstatus, mstatus)

	h.priv = mpp
	h.pc = h.CSR.Peek(csr.Mepc) & h.XLEN.Mask()
	h.clearReservation()
	h.MMU.Flush()
	h.trapTaken = true
}

func (h *Hart) execSRET() {
	mstatus := h.CSR.Peek(csr.Mstatus)
	spp := isa.PrivUser
	if mstatus&csr.MstatusSPP != 0 {
		spp = isa.PrivSupervisor
	}
	if mstatus&csr.MstatusSPIE != 0 {
		mstatus |= csr.MstatusSIE
	} else {
		mstatus &^= csr.MstatusSIE
	}
	mstatus |= csr.MstatusSPIE
	mstatus &^= csr.MstatusSPP
	h.CSR.Poke(csr.Mstatus, mstatus)

	h.priv = spp
	h.pc = h.CSR.Peek(csr.Sepc) & h.XLEN.Mask()
	h.clearReservation()
	h.MMU.Flush()
	h.trapTaken = true
}

// pollEvents is the "check at least once per basic block" hook
// (spec.md §4.1): it drains a pending ev_trap request, re-synthesises
// mip's external-interrupt bits from ev_int_mask, polls the timer, and
// finally evaluates interrupt acceptance.
func (h *Hart) pollEvents() {
	if h.evTrap.Swap(0) != 0 {
		cause := h.trapCause.Load()
		tval := h.trapTval.Load()
		isInt := cause&isa.CauseInterruptBit != 0
		code := cause &^ isa.CauseInterruptBit
		h.trapEntry(code, tval, isInt, h.pc)
		return
	}
	if h.evInt.Swap(0) != 0 {
		mask := uint64(h.evIntMask.Load())
		extBits := uint64(1)<<isa.IntMExternal | uint64(1)<<isa.IntSExternal
		mip := h.CSR.Peek(csr.Mip)
		mip = (mip &^ extBits) | (mask & extBits)
		h.CSR.Poke(csr.Mip, mip)
	}
	h.checkTimer()
	h.acceptInterrupt()
}

// checkTimer implements the Machine-timer bit per spec.md §3/§4.6: "the
// hart polls timer.time >= timer.timecmp and asserts/deasserts the
// Machine-timer bit in ip accordingly".
func (h *Hart) checkTimer() {
	if h.timerNow == nil {
		return
	}
	bit := uint64(1) << isa.IntMTimer
	mip := h.CSR.Peek(csr.Mip)
	if h.timerNow() >= h.timerCmp {
		mip |= bit
	} else {
		mip &^= bit
	}
	h.CSR.Poke(csr.Mip, mip)
}

// acceptInterrupt implements spec.md §4.6's acceptance rule over the
// fixed interruptOrder priority list.
func (h *Hart) acceptInterrupt() {
	pending := h.CSR.Peek(csr.Mie) & h.CSR.Peek(csr.Mip)
	if pending == 0 {
		return
	}
	mideleg := h.CSR.Peek(csr.Mideleg)
	mstatus := h.CSR.Peek(csr.Mstatus)
	halted := h.Halted()

	for _, bit := range interruptOrder {
		if pending&(uint64(1)<<bit) == 0 {
			continue
		}
		target := isa.PrivMachine
		if isSLevelInterrupt(bit) && mideleg&(uint64(1)<<bit) != 0 {
			target = isa.PrivSupervisor
		}

		accept := false
		switch {
		case target > h.priv:
			accept = true
		case target == h.priv:
			if target == isa.PrivMachine {
				accept = mstatus&csr.MstatusMIE != 0 || halted
			} else {
				accept = mstatus&csr.MstatusSIE != 0 || halted
			}
		}
		if !accept {
			continue
		}

		epc := h.pc
		if halted {
			epc = h.pc + 4
		}
		h.waitEvent.Store(1)
		h.trapEntry(bit, 0, true, epc)
		return
	}
}
