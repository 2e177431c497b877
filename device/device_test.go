package device

import "testing"

func TestI2CAddressSpaceAllocSkipsReserved(t *testing.T) {
	s := &I2CAddressSpace{}
	a, err := s.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if a != 0x08 {
		t.Fatalf("first alloc = %#x, want 0x08", a)
	}
	b, err := s.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if b != 0x09 {
		t.Fatalf("second alloc = %#x, want 0x09", b)
	}
}

func TestI2CAddressSpaceReserveThenAllocSkipsIt(t *testing.T) {
	s := &I2CAddressSpace{}
	if !s.Reserve(0x08) {
		t.Fatal("expected first reserve to succeed")
	}
	if s.Reserve(0x08) {
		t.Fatal("expected second reserve of the same address to fail")
	}
	a, err := s.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if a != 0x09 {
		t.Fatalf("alloc after reserving 0x08 = %#x, want 0x09", a)
	}
}

func TestI2CAddressSpaceFreeAllowsReuse(t *testing.T) {
	s := &I2CAddressSpace{}
	a, _ := s.Alloc()
	s.Free(a)
	b, err := s.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if b != a {
		t.Fatalf("expected freed address %#x to be reused, got %#x", a, b)
	}
}

func TestI2CAddressSpaceExhaustion(t *testing.T) {
	s := &I2CAddressSpace{}
	for i := 0; i < 0x78-0x08; i++ {
		if _, err := s.Alloc(); err != nil {
			t.Fatalf("Alloc %d: %v", i, err)
		}
	}
	if _, err := s.Alloc(); err != ErrNoFreeAddress {
		t.Fatalf("expected ErrNoFreeAddress, got %v", err)
	}
}
