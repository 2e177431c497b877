package machine

import "testing"

func TestDTBAddressAligned(t *testing.T) {
	m := newTestMachine(t)
	addr := m.DTBAddress()
	if addr%dtbAlignment != 0 {
		t.Fatalf("DTBAddress() = %#x, not %d-byte aligned", addr, dtbAlignment)
	}
	want := (m.cfg.MemBase + m.cfg.MemSize - dtbReserve) &^ (dtbAlignment - 1)
	if addr != want {
		t.Fatalf("DTBAddress() = %#x, want %#x", addr, want)
	}
}

func TestBootArgsMatchConvention(t *testing.T) {
	m := newTestMachine(t)
	a0, a1 := m.BootArgs(1)
	if a0 != 1 {
		t.Errorf("a0 = %d, want hartid 1", a0)
	}
	if a1 != m.DTBAddress() {
		t.Errorf("a1 = %#x, want DTBAddress() %#x", a1, m.DTBAddress())
	}
}

func TestFWDynamicRoundTrip(t *testing.T) {
	in := FWDynamicInfo{NextAddr: 0x80200000, NextMode: 1, Options: 0, BootHart: 0}
	blob := MarshalFWDynamic(in)
	out, ok := UnmarshalFWDynamic(blob)
	if !ok {
		t.Fatal("UnmarshalFWDynamic: ok = false for a value this package marshaled")
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestUnmarshalFWDynamicRejectsBadMagic(t *testing.T) {
	blob := MarshalFWDynamic(FWDynamicInfo{})
	blob[0] ^= 0xff
	if _, ok := UnmarshalFWDynamic(blob); ok {
		t.Fatal("UnmarshalFWDynamic accepted a corrupted magic")
	}
}

func TestLoadDTBWritesIntoRAM(t *testing.T) {
	m := newTestMachine(t)
	blob := []byte{0xde, 0xad, 0xbe, 0xef, 0x01}
	if err := m.LoadDTB(blob); err != nil {
		t.Fatalf("LoadDTB: %v", err)
	}

	addr := m.DTBAddress()
	var buf [5]byte
	for i := range buf {
		var b [1]byte
		if err := m.bus.Access(addr+uint64(i), 1, false, b[:]); err != nil {
			t.Fatalf("read back byte %d: %v", i, err)
		}
		buf[i] = b[0]
	}
	if string(buf[:]) != string(blob) {
		t.Fatalf("read back %v, want %v", buf, blob)
	}
}
