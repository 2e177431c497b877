package hart

import (
	"math"
	"math/bits"

	"rvcore/bitops"
	"rvcore/csr"
	"rvcore/isa"
)

// exec carries out the architectural effect of one decoded instruction.
// pc is the address it was fetched from; *nextPC is the execute loop's
// default "advance past this instruction" target, which control-flow
// forms overwrite in place. Traps taken here set h.trapTaken, which
// tells Step not to also write *nextPC into h.pc.
func (h *Hart) exec(inst Inst, pc uint64, nextPC *uint64) {
	switch inst.Kind {
	case KLUI:
		h.SetReg(inst.Rd, uint64(inst.Imm))
	case KAUIPC:
		h.SetReg(inst.Rd, (pc+uint64(inst.Imm))&h.XLEN.Mask())
	case KJAL:
		h.SetReg(inst.Rd, *nextPC)
		*nextPC = (pc + uint64(inst.Imm)) & h.XLEN.Mask()
	case KJALR:
		target := (h.Reg(inst.Rs1) + uint64(inst.Imm)) &^ 1
		link := *nextPC
		h.SetReg(inst.Rd, link)
		*nextPC = target & h.XLEN.Mask()
	case KBranch:
		if h.branchTaken(inst) {
			*nextPC = (pc + uint64(inst.Imm)) & h.XLEN.Mask()
		}
	case KLoad:
		h.execLoad(inst)
	case KStore:
		h.execStore(inst)
	case KOpImm:
		h.execAluImm(inst)
	case KOp:
		h.execAluReg(inst)
	case KFence:
		// FENCE/FENCE.I: this model executes everything in program order
		// on a single goroutine per hart, so there is nothing to order.
	case KECALL:
		var cause uint64
		switch h.priv {
		case isa.PrivUser:
			cause = isa.ExcECallFromU
		case isa.PrivSupervisor:
			cause = isa.ExcECallFromS
		default:
			cause = isa.ExcECallFromM
		}
		h.takeTrap(cause, 0, false)
	case KEBREAK:
		h.takeTrap(isa.ExcBreakpoint, 0, false)
	case KMRET:
		h.execMRET()
	case KSRET:
		h.execSRET()
	case KWFI:
		h.execWFI()
		// The PC stays on the WFI while halted; acceptInterrupt records
		// pc+4 as the return address when it wakes the hart.
		*nextPC = pc
	case KSFENCEVMA:
		h.MMU.Flush()
	case KCSR:
		h.execCSR(inst)
	case KAMO:
		h.execAMO(inst)
	}
}

func (h *Hart) signedVal(v uint64) int64 {
	if h.XLEN == isa.XLEN32 {
		return int64(int32(uint32(v)))
	}
	return int64(v)
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (h *Hart) branchTaken(inst Inst) bool {
	a, b := h.Reg(inst.Rs1), h.Reg(inst.Rs2)
	switch inst.Branch {
	case BrEQ:
		return a == b
	case BrNE:
		return a != b
	case BrLT:
		return h.signedVal(a) < h.signedVal(b)
	case BrGE:
		return h.signedVal(a) >= h.signedVal(b)
	case BrLTU:
		return a < b
	case BrGEU:
		return a >= b
	}
	return false
}

// rv64OnlyLoad reports whether a load shape (LD, or LWU) only exists on
// RV64; LB/LH/LW/LBU/LHU are valid at either width.
func rv64OnlyLoad(size int, unsigned bool) bool {
	return size == 8 || (size == 4 && unsigned)
}

func (h *Hart) execLoad(inst Inst) {
	if rv64OnlyLoad(inst.Size, inst.Unsigned) && h.XLEN != isa.XLEN64 {
		h.takeTrap(isa.ExcIllegalInstr, uint64(inst.Raw), false)
		return
	}
	addr := (h.Reg(inst.Rs1) + uint64(inst.Imm)) & h.XLEN.Mask()
	val, fault := h.loadMem(addr, inst.Size)
	if fault != nil {
		h.takeFault(fault)
		return
	}
	if inst.Unsigned {
		h.SetReg(inst.Rd, val)
		return
	}
	h.SetReg(inst.Rd, uint64(bitops.SignExtend64(val, uint(inst.Size*8))))
}

func (h *Hart) execStore(inst Inst) {
	if inst.Size == 8 && h.XLEN != isa.XLEN64 {
		h.takeTrap(isa.ExcIllegalInstr, uint64(inst.Raw), false)
		return
	}
	addr := (h.Reg(inst.Rs1) + uint64(inst.Imm)) & h.XLEN.Mask()
	if fault := h.storeMem(addr, inst.Size, h.Reg(inst.Rs2)); fault != nil {
		h.takeFault(fault)
		return
	}
	// A store to the reserved address drops this hart's own reservation
	// (spec.md §4.1); invalidating other harts' reservations on the same
	// address is not modeled (see DESIGN.md).
	if h.resv.valid && h.resv.addr == addr {
		h.resv.valid = false
	}
}

func (h *Hart) shiftMask() uint64 {
	if h.XLEN == isa.XLEN32 {
		return 0x1F
	}
	return 0x3F
}

func (h *Hart) minSigned() int64 {
	if h.XLEN == isa.XLEN32 {
		return int64(int32(math.MinInt32))
	}
	return math.MinInt64
}

func (h *Hart) execAluImm(inst Inst) {
	if inst.W && h.XLEN != isa.XLEN64 {
		h.takeTrap(isa.ExcIllegalInstr, uint64(inst.Raw), false)
		return
	}
	a, imm := h.Reg(inst.Rs1), uint64(inst.Imm)
	if inst.W {
		h.SetReg(inst.Rd, h.aluOp32(inst.Alu, uint32(a), uint32(imm)))
		return
	}
	h.SetReg(inst.Rd, h.aluOp(inst.Alu, a, imm))
}

func (h *Hart) execAluReg(inst Inst) {
	if inst.W && h.XLEN != isa.XLEN64 {
		h.takeTrap(isa.ExcIllegalInstr, uint64(inst.Raw), false)
		return
	}
	a, b := h.Reg(inst.Rs1), h.Reg(inst.Rs2)
	if inst.W {
		h.SetReg(inst.Rd, h.aluOp32(inst.Alu, uint32(a), uint32(b)))
		return
	}
	h.SetReg(inst.Rd, h.aluOp(inst.Alu, a, b))
}

func (h *Hart) aluOp(op AluOp, a, b uint64) uint64 {
	mask := h.XLEN.Mask()
	switch op {
	case AluADD:
		return (a + b) & mask
	case AluSUB:
		return (a - b) & mask
	case AluSLL:
		return (a << (b & h.shiftMask())) & mask
	case AluSLT:
		return boolToU64(h.signedVal(a) < h.signedVal(b))
	case AluSLTU:
		return boolToU64(a < b)
	case AluXOR:
		return (a ^ b) & mask
	case AluSRL:
		return (a & mask) >> (b & h.shiftMask())
	case AluSRA:
		return uint64(h.signedVal(a)>>(b&h.shiftMask())) & mask
	case AluOR:
		return (a | b) & mask
	case AluAND:
		return (a & b) & mask
	case AluMUL:
		return (a * b) & mask
	case AluMULH:
		return h.mulh(a, b, true, true)
	case AluMULHSU:
		return h.mulh(a, b, true, false)
	case AluMULHU:
		return h.mulh(a, b, false, false)
	case AluDIV:
		return h.divSigned(a, b)
	case AluDIVU:
		return h.divUnsigned(a, b)
	case AluREM:
		return h.remSigned(a, b)
	case AluREMU:
		return h.remUnsigned(a, b)
	}
	return 0
}

// mulh computes the high half of a (possibly mixed-sign) XLEN×XLEN
// product via the standard unsigned-product correction: mulhu(a,b) minus
// b when a is negative, minus a when b is negative (spec.md §4.1).
func (h *Hart) mulh(a, b uint64, signedA, signedB bool) uint64 {
	if h.XLEN == isa.XLEN32 {
		var pa, pb int64
		if signedA {
			pa = int64(int32(uint32(a)))
		} else {
			pa = int64(uint32(a))
		}
		if signedB {
			pb = int64(int32(uint32(b)))
		} else {
			pb = int64(uint32(b))
		}
		prod := uint64(pa * pb)
		return uint64(int32(prod>>32)) & h.XLEN.Mask()
	}
	hi, _ := bits.Mul64(a, b)
	if signedA && int64(a) < 0 {
		hi -= b
	}
	if signedB && int64(b) < 0 {
		hi -= a
	}
	return hi
}

func (h *Hart) divUnsigned(a, b uint64) uint64 {
	mask := h.XLEN.Mask()
	a, b = a&mask, b&mask
	if b == 0 {
		return mask
	}
	return (a / b) & mask
}

func (h *Hart) remUnsigned(a, b uint64) uint64 {
	mask := h.XLEN.Mask()
	a, b = a&mask, b&mask
	if b == 0 {
		return a
	}
	return (a % b) & mask
}

func (h *Hart) divSigned(a, b uint64) uint64 {
	sa, sb := h.signedVal(a), h.signedVal(b)
	if sb == 0 {
		return h.XLEN.Mask()
	}
	if sa == h.minSigned() && sb == -1 {
		return uint64(sa) & h.XLEN.Mask()
	}
	return uint64(sa/sb) & h.XLEN.Mask()
}

func (h *Hart) remSigned(a, b uint64) uint64 {
	sa, sb := h.signedVal(a), h.signedVal(b)
	if sb == 0 {
		return a & h.XLEN.Mask()
	}
	if sa == h.minSigned() && sb == -1 {
		return 0
	}
	return uint64(sa%sb) & h.XLEN.Mask()
}

// aluOp32 implements the RV64 *W family: operate on the low 32 bits of
// each operand, sign-extending the 32-bit result back to 64 (spec.md
// §4.1). Divide-by-zero and overflow follow the same rules as the
// XLEN-wide forms, just at 32-bit width.
func (h *Hart) aluOp32(op AluOp, a, b uint32) uint64 {
	sext := func(v uint32) uint64 { return uint64(int64(int32(v))) }
	switch op {
	case AluADD:
		return sext(a + b)
	case AluSUB:
		return sext(a - b)
	case AluSLL:
		return sext(a << (b & 0x1F))
	case AluSRL:
		return sext(a >> (b & 0x1F))
	case AluSRA:
		return sext(uint32(int32(a) >> (b & 0x1F)))
	case AluMUL:
		return sext(a * b)
	case AluDIV:
		sa, sb := int32(a), int32(b)
		if sb == 0 {
			return sext(uint32(0xFFFFFFFF))
		}
		if sa == math.MinInt32 && sb == -1 {
			return sext(uint32(sa))
		}
		return sext(uint32(sa / sb))
	case AluDIVU:
		if b == 0 {
			return sext(uint32(0xFFFFFFFF))
		}
		return sext(a / b)
	case AluREM:
		sa, sb := int32(a), int32(b)
		if sb == 0 {
			return sext(uint32(sa))
		}
		if sa == math.MinInt32 && sb == -1 {
			return 0
		}
		return sext(uint32(sa % sb))
	case AluREMU:
		if b == 0 {
			return sext(a)
		}
		return sext(a % b)
	}
	return 0
}

func sizeMask(size int) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(size*8)) - 1
}

func (h *Hart) execAMO(inst Inst) {
	if inst.Size == 8 && h.XLEN != isa.XLEN64 {
		h.takeTrap(isa.ExcIllegalInstr, uint64(inst.Raw), false)
		return
	}
	addr := h.Reg(inst.Rs1) & h.XLEN.Mask()

	switch inst.Amo {
	case AmoLR:
		val, fault := h.loadMem(addr, inst.Size)
		if fault != nil {
			h.takeFault(fault)
			return
		}
		h.resv = Reservation{valid: true, addr: addr}
		h.SetReg(inst.Rd, uint64(bitops.SignExtend64(val, uint(inst.Size*8))))
		return
	case AmoSC:
		ok := h.resv.valid && h.resv.addr == addr
		h.resv.valid = false
		if !ok {
			h.SetReg(inst.Rd, 1)
			return
		}
		if fault := h.storeMem(addr, inst.Size, h.Reg(inst.Rs2)); fault != nil {
			h.takeFault(fault)
			return
		}
		h.SetReg(inst.Rd, 0)
		return
	}

	old, fault := h.loadMem(addr, inst.Size)
	if fault != nil {
		h.takeFault(fault)
		return
	}
	rs2 := h.Reg(inst.Rs2) & sizeMask(inst.Size)
	oldSigned := bitops.SignExtend64(old, uint(inst.Size*8))
	rs2Signed := bitops.SignExtend64(rs2, uint(inst.Size*8))

	var result uint64
	switch inst.Amo {
	case AmoSWAP:
		result = rs2
	case AmoADD:
		result = old + rs2
	case AmoXOR:
		result = old ^ rs2
	case AmoAND:
		result = old & rs2
	case AmoOR:
		result = old | rs2
	case AmoMIN:
		if oldSigned < rs2Signed {
			result = old
		} else {
			result = rs2
		}
	case AmoMAX:
		if oldSigned > rs2Signed {
			result = old
		} else {
			result = rs2
		}
	case AmoMINU:
		if old < rs2 {
			result = old
		} else {
			result = rs2
		}
	case AmoMAXU:
		if old > rs2 {
			result = old
		} else {
			result = rs2
		}
	}

	if fault := h.storeMem(addr, inst.Size, result); fault != nil {
		h.takeFault(fault)
		return
	}
	h.resv.valid = false
	h.SetReg(inst.Rd, uint64(oldSigned))
}

// execCSR performs one CSRRW/S/C(I) instruction. Per the architectural
// rule, CSRRS/CSRRC (and their immediate forms) only write when their
// source operand is nonzero — a read-only CSR may legally be the target
// of e.g. `csrrs x0, cycle` exactly because that never writes.
func (h *Hart) execCSR(inst Inst) {
	var data uint64
	if inst.CSRImm {
		data = uint64(inst.Rs1)
	} else {
		data = h.Reg(inst.Rs1)
	}

	op := csr.Op(inst.CSROp)
	write := true
	if op != csr.OpSwap {
		write = inst.Rs1 != 0
	}

	val, err := h.CSR.Access(inst.CSRNum, op, data, write, h.priv)
	if err != nil {
		h.takeTrap(isa.ExcIllegalInstr, uint64(inst.Raw), false)
		return
	}
	if write && inst.CSRNum == csr.Satp {
		h.MMU.Flush()
	}
	h.SetReg(inst.Rd, val)
}

func (h *Hart) execWFI() {
	// Halt; Step's trailing pollEvents call (run right after exec returns)
	// immediately re-evaluates acceptance, so a pending-and-enabled
	// interrupt resumes the hart within the same Step call rather than
	// waiting for the next one.
	h.waitEvent.Store(0)
}
