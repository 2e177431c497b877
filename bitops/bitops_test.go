package bitops

import "testing"

func TestSignExtend32(t *testing.T) {
	cases := []struct {
		v    uint32
		bits uint
		want int32
	}{
		{0x7FF, 12, 0x7FF},
		{0xFFF, 12, -1},
		{0x800, 12, -2048},
		{0x1, 1, -1},
	}
	for _, c := range cases {
		if got := SignExtend32(c.v, c.bits); got != c.want {
			t.Errorf("SignExtend32(%#x,%d) = %d, want %d", c.v, c.bits, got, c.want)
		}
	}
}

func TestSignExtend64(t *testing.T) {
	if got := SignExtend64(0xFFFFFFFF, 32); got != -1 {
		t.Errorf("SignExtend64 = %d, want -1", got)
	}
	if got := SignExtend64(0x7FFFFFFF, 32); got != 0x7FFFFFFF {
		t.Errorf("SignExtend64 = %d, want 0x7FFFFFFF", got)
	}
}

func TestCutReplace(t *testing.T) {
	v := uint64(0xABCD1234)
	field := Cut(v, 15, 0)
	if field != 0x1234 {
		t.Fatalf("Cut = %#x, want 0x1234", field)
	}
	v2 := Replace(v, 15, 0, 0xFFFF)
	if v2 != 0xABCDFFFF {
		t.Fatalf("Replace = %#x, want 0xABCDFFFF", v2)
	}
}

func TestIsPow2(t *testing.T) {
	for n := uint(1); n <= 1024; n *= 2 {
		if !IsPow2(n) {
			t.Errorf("IsPow2(%d) = false, want true", n)
		}
	}
	for _, n := range []uint{0, 3, 5, 6, 100} {
		if IsPow2(n) {
			t.Errorf("IsPow2(%d) = true, want false", n)
		}
	}
}

func TestLoadStoreSized(t *testing.T) {
	buf := make([]byte, 16)
	StoreSized(buf, 0, 4, 0xDEADBEEF)
	if got := LoadSized(buf, 0, 4); got != 0xDEADBEEF {
		t.Fatalf("LoadSized = %#x, want 0xDEADBEEF", got)
	}
	if buf[0] != 0xEF || buf[3] != 0xDE {
		t.Fatalf("StoreSized did not write little-endian: %x", buf[:4])
	}
	StoreSized(buf, 8, 8, 0x0102030405060708)
	if got := LoadSized(buf, 8, 8); got != 0x0102030405060708 {
		t.Fatalf("LoadSized 64 = %#x", got)
	}
}
