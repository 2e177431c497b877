package hart

import "rvcore/isa"

func cbit(raw uint16, i uint) uint32 { return uint32(raw>>i) & 1 }

func cfield(raw uint16, hi, lo uint) uint32 {
	width := hi - lo + 1
	mask := uint32(1)<<width - 1
	return uint32(raw>>lo) & mask
}

func creg(raw uint16, lo uint) int { return int(cfield(raw, lo+2, lo)) + 8 }

// Decode16 decodes one 16-bit compressed instruction, expanding it into
// the equivalent base-instruction Inst (spec.md §4.1: "final decoding
// inside each handler" — here, inside the decoder itself, since Go's
// switch plays the role the reference gives each handler function).
// Floating-point compressed forms (C.FLD/C.FSD/C.FLW/C.FSW and their SP
// variants) are not decoded: spec.md §4.1 lists FPU variants as
// optional.
func Decode16(raw uint16, xlen isa.XLEN) Inst {
	quadrant := raw & 0x3
	funct3 := (raw >> 13) & 0x7
	illegal16 := Inst{Kind: KIllegal, Raw: uint32(raw), Len: 2}

	switch quadrant {
	case 0:
		switch funct3 {
		case 0: // C.ADDI4SPN
			nz := cbit(raw, 10)<<9 | cbit(raw, 9)<<8 | cbit(raw, 8)<<7 | cbit(raw, 7)<<6 |
				cbit(raw, 12)<<5 | cbit(raw, 11)<<4 | cbit(raw, 5)<<3 | cbit(raw, 6)<<2
			if nz == 0 {
				return illegal16
			}
			rd := creg(raw, 2)
			return Inst{Kind: KOpImm, Len: 2, Rd: rd, Rs1: 2, Alu: AluADD, Imm: int64(nz), Raw: uint32(raw)}
		case 2: // C.LW
			off := cbit(raw, 5)<<6 | cfield(raw, 12, 10)<<3 | cbit(raw, 6)<<2
			return Inst{Kind: KLoad, Len: 2, Rd: creg(raw, 2), Rs1: creg(raw, 7), Imm: int64(off), Size: 4, Raw: uint32(raw)}
		case 3: // C.LD (RV64 only)
			if xlen != isa.XLEN64 {
				return illegal16
			}
			off := cfield(raw, 6, 5)<<6 | cfield(raw, 12, 10)<<3
			return Inst{Kind: KLoad, Len: 2, Rd: creg(raw, 2), Rs1: creg(raw, 7), Imm: int64(off), Size: 8, Raw: uint32(raw)}
		case 6: // C.SW
			off := cbit(raw, 5)<<6 | cfield(raw, 12, 10)<<3 | cbit(raw, 6)<<2
			return Inst{Kind: KStore, Len: 2, Rs1: creg(raw, 7), Rs2: creg(raw, 2), Imm: int64(off), Size: 4, Raw: uint32(raw)}
		case 7: // C.SD (RV64 only)
			if xlen != isa.XLEN64 {
				return illegal16
			}
			off := cfield(raw, 6, 5)<<6 | cfield(raw, 12, 10)<<3
			return Inst{Kind: KStore, Len: 2, Rs1: creg(raw, 7), Rs2: creg(raw, 2), Imm: int64(off), Size: 8, Raw: uint32(raw)}
		}
		return illegal16

	case 1:
		switch funct3 {
		case 0: // C.ADDI (incl. C.NOP)
			rd := int(cfield(raw, 11, 7))
			imm := signExt(uint64(cbit(raw, 12)<<5|cfield(raw, 6, 2)), 6)
			return Inst{Kind: KOpImm, Len: 2, Rd: rd, Rs1: rd, Alu: AluADD, Imm: imm, Raw: uint32(raw)}
		case 1: // C.JAL (RV32) / C.ADDIW (RV64)
			if xlen == isa.XLEN64 {
				rd := int(cfield(raw, 11, 7))
				imm := signExt(uint64(cbit(raw, 12)<<5|cfield(raw, 6, 2)), 6)
				return Inst{Kind: KOpImm, Len: 2, Rd: rd, Rs1: rd, Alu: AluADD, Imm: imm, W: true, Raw: uint32(raw)}
			}
			off := cjImm(raw)
			return Inst{Kind: KJAL, Len: 2, Rd: 1, Imm: off, Raw: uint32(raw)}
		case 2: // C.LI
			rd := int(cfield(raw, 11, 7))
			imm := signExt(uint64(cbit(raw, 12)<<5|cfield(raw, 6, 2)), 6)
			return Inst{Kind: KOpImm, Len: 2, Rd: rd, Rs1: 0, Alu: AluADD, Imm: imm, Raw: uint32(raw)}
		case 3:
			rd := int(cfield(raw, 11, 7))
			if rd == 2 { // C.ADDI16SP
				nz := cbit(raw, 12)<<9 | cbit(raw, 6)<<4 | cbit(raw, 5)<<6 | cfield(raw, 4, 3)<<7 | cbit(raw, 2)<<5
				imm := signExt(uint64(nz), 10)
				if imm == 0 {
					return illegal16
				}
				return Inst{Kind: KOpImm, Len: 2, Rd: 2, Rs1: 2, Alu: AluADD, Imm: imm, Raw: uint32(raw)}
			}
			// C.LUI
			nz := cbit(raw, 12)<<17 | cfield(raw, 6, 2)<<12
			imm := signExt(uint64(nz), 18)
			if imm == 0 {
				return illegal16
			}
			return Inst{Kind: KLUI, Len: 2, Rd: rd, Imm: imm, Raw: uint32(raw)}
		case 4: // ALU1 group
			rd := creg(raw, 7)
			funct2 := cfield(raw, 11, 10)
			switch funct2 {
			case 0, 1: // C.SRLI / C.SRAI
				shamt := int64(cbit(raw, 12)<<5 | cfield(raw, 6, 2))
				op := AluSRL
				if funct2 == 1 {
					op = AluSRA
				}
				return Inst{Kind: KOpImm, Len: 2, Rd: rd, Rs1: rd, Alu: op, Imm: shamt, Raw: uint32(raw)}
			case 2: // C.ANDI
				imm := signExt(uint64(cbit(raw, 12)<<5|cfield(raw, 6, 2)), 6)
				return Inst{Kind: KOpImm, Len: 2, Rd: rd, Rs1: rd, Alu: AluAND, Imm: imm, Raw: uint32(raw)}
			default: // funct2 == 3
				rs2 := creg(raw, 2)
				sub := cfield(raw, 6, 5)
				if cbit(raw, 12) == 0 {
					var op AluOp
					switch sub {
					case 0:
						op = AluSUB
					case 1:
						op = AluXOR
					case 2:
						op = AluOR
					default:
						op = AluAND
					}
					return Inst{Kind: KOp, Len: 2, Rd: rd, Rs1: rd, Rs2: rs2, Alu: op, Raw: uint32(raw)}
				}
				if xlen != isa.XLEN64 || sub > 1 {
					return illegal16
				}
				op := AluSUB
				if sub == 1 {
					op = AluADD
				}
				return Inst{Kind: KOp, Len: 2, Rd: rd, Rs1: rd, Rs2: rs2, Alu: op, W: true, Raw: uint32(raw)}
			}
		case 5: // C.J
			return Inst{Kind: KJAL, Len: 2, Rd: 0, Imm: cjImm(raw), Raw: uint32(raw)}
		case 6, 7: // C.BEQZ / C.BNEZ
			rs1 := creg(raw, 7)
			off := cbit(raw, 12)<<8 | cfield(raw, 11, 10)<<3 | cfield(raw, 6, 5)<<6 | cfield(raw, 4, 3)<<1 | cbit(raw, 2)<<5
			br := BrEQ
			if funct3 == 7 {
				br = BrNE
			}
			return Inst{Kind: KBranch, Len: 2, Rs1: rs1, Rs2: 0, Branch: br, Imm: signExt(uint64(off), 9), Raw: uint32(raw)}
		}
		return illegal16

	case 2:
		switch funct3 {
		case 0: // C.SLLI
			rd := int(cfield(raw, 11, 7))
			shamt := int64(cbit(raw, 12)<<5 | cfield(raw, 6, 2))
			if rd == 0 {
				return illegal16
			}
			return Inst{Kind: KOpImm, Len: 2, Rd: rd, Rs1: rd, Alu: AluSLL, Imm: shamt, Raw: uint32(raw)}
		case 2: // C.LWSP
			rd := int(cfield(raw, 11, 7))
			if rd == 0 {
				return illegal16
			}
			off := cbit(raw, 12)<<5 | cfield(raw, 6, 4)<<2 | cfield(raw, 3, 2)<<6
			return Inst{Kind: KLoad, Len: 2, Rd: rd, Rs1: 2, Imm: int64(off), Size: 4, Raw: uint32(raw)}
		case 3: // C.LDSP (RV64 only)
			if xlen != isa.XLEN64 {
				return illegal16
			}
			rd := int(cfield(raw, 11, 7))
			if rd == 0 {
				return illegal16
			}
			off := cbit(raw, 12)<<5 | cfield(raw, 6, 5)<<3 | cfield(raw, 4, 2)<<6
			return Inst{Kind: KLoad, Len: 2, Rd: rd, Rs1: 2, Imm: int64(off), Size: 8, Raw: uint32(raw)}
		case 4:
			rdRs1 := int(cfield(raw, 11, 7))
			rs2 := int(cfield(raw, 6, 2))
			if cbit(raw, 12) == 0 {
				if rs2 == 0 {
					if rdRs1 == 0 {
						return illegal16
					}
					return Inst{Kind: KJALR, Len: 2, Rd: 0, Rs1: rdRs1, Raw: uint32(raw)}
				}
				return Inst{Kind: KOp, Len: 2, Rd: rdRs1, Rs1: 0, Rs2: rs2, Alu: AluADD, Raw: uint32(raw)}
			}
			if rdRs1 == 0 && rs2 == 0 {
				return Inst{Kind: KEBREAK, Len: 2, Raw: uint32(raw)}
			}
			if rs2 == 0 {
				return Inst{Kind: KJALR, Len: 2, Rd: 1, Rs1: rdRs1, Raw: uint32(raw)}
			}
			return Inst{Kind: KOp, Len: 2, Rd: rdRs1, Rs1: rdRs1, Rs2: rs2, Alu: AluADD, Raw: uint32(raw)}
		case 6: // C.SWSP
			rs2 := int(cfield(raw, 6, 2))
			off := cfield(raw, 12, 9)<<2 | cfield(raw, 8, 7)<<6
			return Inst{Kind: KStore, Len: 2, Rs1: 2, Rs2: rs2, Imm: int64(off), Size: 4, Raw: uint32(raw)}
		case 7: // C.SDSP (RV64 only)
			if xlen != isa.XLEN64 {
				return illegal16
			}
			rs2 := int(cfield(raw, 6, 2))
			off := cfield(raw, 12, 10)<<3 | cfield(raw, 9, 7)<<6
			return Inst{Kind: KStore, Len: 2, Rs1: 2, Rs2: rs2, Imm: int64(off), Size: 8, Raw: uint32(raw)}
		}
		return illegal16
	}
	return illegal16
}

func cjImm(raw uint16) int64 {
	off := cbit(raw, 12)<<11 | cbit(raw, 11)<<4 | cfield(raw, 10, 9)<<8 | cbit(raw, 8)<<10 |
		cbit(raw, 7)<<6 | cbit(raw, 6)<<7 | cfield(raw, 5, 3)<<1 | cbit(raw, 2)<<5
	return signExt(uint64(off), 12)
}
