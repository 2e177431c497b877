// Package bitops provides the small bit-twiddling primitives shared by the
// hart, MMU and bus packages: sign extension, bitfield cut/replace, and
// little-endian load/store over a byte slice.
//
// None of this is RISC-V specific; it is kept separate so every package
// that needs a sign-extend or a field-cut imports one small, well-tested
// leaf instead of reimplementing it.
package bitops

import "encoding/binary"

// SignExtend32 sign-extends the low `bits` bits of v (as a 32-bit value) to
// a full int32. bits must be in [1, 32].
func SignExtend32(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}

// SignExtend64 sign-extends the low `bits` bits of v to a full int64.
// bits must be in [1, 64].
func SignExtend64(v uint64, bits uint) int64 {
	shift := 64 - bits
	return int64(v<<shift) >> shift
}

// Cut extracts bits [hi:lo] (inclusive) from v.
func Cut(v uint64, hi, lo uint) uint64 {
	width := hi - lo + 1
	mask := uint64(1)<<width - 1
	return (v >> lo) & mask
}

// Replace sets bits [hi:lo] of v to the low bits of field, leaving the
// rest of v unchanged.
func Replace(v uint64, hi, lo uint, field uint64) uint64 {
	width := hi - lo + 1
	mask := uint64(1)<<width - 1
	return (v &^ (mask << lo)) | ((field & mask) << lo)
}

// IsPow2 reports whether n is a power of two (n > 0).
func IsPow2(n uint) bool {
	return n > 0 && n&(n-1) == 0
}

// Load8/16/32/64 and Store8/16/32/64 read/write little-endian values from a
// byte slice at offset off. Callers are responsible for bounds checking;
// these panic on a short slice exactly as a slice index would, which is
// the same contract encoding/binary itself offers.

func Load8(b []byte, off int) uint8 { return b[off] }

func Store8(b []byte, off int, v uint8) { b[off] = v }

func Load16(b []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(b[off:])
}

func Store16(b []byte, off int, v uint16) {
	binary.LittleEndian.PutUint16(b[off:], v)
}

func Load32(b []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(b[off:])
}

func Store32(b []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(b[off:], v)
}

func Load64(b []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(b[off:])
}

func Store64(b []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(b[off:], v)
}

// LoadSized reads a size-byte (1/2/4/8) little-endian value starting at
// off, zero-extended into a uint64. It is used by the MMU/bus split path
// where the access width is only known at runtime.
func LoadSized(b []byte, off int, size int) uint64 {
	switch size {
	case 1:
		return uint64(Load8(b, off))
	case 2:
		return uint64(Load16(b, off))
	case 4:
		return uint64(Load32(b, off))
	case 8:
		return Load64(b, off)
	default:
		panic("bitops: unsupported load size")
	}
}

// StoreSized writes the low size*8 bits of v as a little-endian value.
func StoreSized(b []byte, off int, size int, v uint64) {
	switch size {
	case 1:
		Store8(b, off, uint8(v))
	case 2:
		Store16(b, off, uint16(v))
	case 4:
		Store32(b, off, uint32(v))
	case 8:
		Store64(b, off, v)
	default:
		panic("bitops: unsupported store size")
	}
}
