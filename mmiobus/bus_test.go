package mmiobus

import (
	"testing"

	"rvcore/physmem"
)

func newTestBus(t *testing.T) (*Bus, *physmem.Region) {
	t.Helper()
	ram, err := physmem.New(0x80000000, physmem.PageSize)
	if err != nil {
		t.Fatalf("physmem.New: %v", err)
	}
	t.Cleanup(func() { ram.Close() })
	return New(ram, physmem.PageSize, 0x100000000), ram
}

func echoDevice() (*DeviceType, map[uint64]byte) {
	store := make(map[uint64]byte)
	dt := &DeviceType{
		Name: "echo",
		Read: func(dev any, buf []byte, offset uint64, size int) bool {
			for i := 0; i < size; i++ {
				buf[i] = store[offset+uint64(i)]
			}
			return true
		},
		Write: func(dev any, buf []byte, offset uint64, size int) bool {
			for i := 0; i < size; i++ {
				store[offset+uint64(i)] = buf[i]
			}
			return true
		},
	}
	return dt, store
}

func TestAttachRejectsRAMOverlap(t *testing.T) {
	b, _ := newTestBus(t)
	dt, _ := echoDevice()
	r := &Region{Base: 0x80000000, Size: 0x1000, Type: dt}
	if err := b.Attach(r, 0); err == nil {
		t.Fatal("expected overlap error")
	}
}

func TestAttachAutoPlacement(t *testing.T) {
	b, _ := newTestBus(t)
	dt, _ := echoDevice()
	r1 := &Region{Size: 0x1000, Type: dt, Auto: true}
	if err := b.Attach(r1, 0x10000000); err != nil {
		t.Fatalf("Attach r1: %v", err)
	}
	r2 := &Region{Size: 0x1000, Type: dt, Auto: true}
	if err := b.Attach(r2, 0x10000000); err != nil {
		t.Fatalf("Attach r2: %v", err)
	}
	if r1.Base == r2.Base {
		t.Fatalf("expected distinct placements, both got %#x", r1.Base)
	}
}

func TestAccessDispatch(t *testing.T) {
	b, _ := newTestBus(t)
	dt, _ := echoDevice()
	r := &Region{Base: 0x10000000, Size: 0x1000, Type: dt, MinOpSize: 1, MaxOpSize: 4}
	if err := b.Attach(r, 0); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	out := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	if err := b.Access(0x10000010, 4, true, out); err != nil {
		t.Fatalf("write: %v", err)
	}
	in := make([]byte, 4)
	if err := b.Access(0x10000010, 4, false, in); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(in) != string(out) {
		t.Fatalf("round trip mismatch: got %x want %x", in, out)
	}
}

func TestAccessSplitsOverMaxOpSize(t *testing.T) {
	b, _ := newTestBus(t)
	dt, _ := echoDevice()
	r := &Region{Base: 0x10000000, Size: 0x1000, Type: dt, MinOpSize: 1, MaxOpSize: 2}
	if err := b.Attach(r, 0); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	out := []byte{1, 2, 3, 4}
	if err := b.Access(0x10000000, 4, true, out); err != nil {
		t.Fatalf("write: %v", err)
	}
	in := make([]byte, 4)
	if err := b.Access(0x10000000, 4, false, in); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(in) != string(out) {
		t.Fatalf("split access mismatch: got %v want %v", in, out)
	}
}

func TestAccessUnmappedFails(t *testing.T) {
	b, _ := newTestBus(t)
	if err := b.Access(0x20000000, 4, false, make([]byte, 4)); err == nil {
		t.Fatal("expected ErrNotFound for unmapped address")
	}
}

func TestResetAndCloseOrdering(t *testing.T) {
	b, _ := newTestBus(t)
	var order []string
	mk := func(name string) *DeviceType {
		return &DeviceType{
			Name:   name,
			Read:   func(any, []byte, uint64, int) bool { return true },
			Write:  func(any, []byte, uint64, int) bool { return true },
			Reset:  func(any) { order = append(order, "reset:"+name) },
			Remove: func(any) error { order = append(order, "remove:"+name); return nil },
		}
	}
	r1 := &Region{Size: 0x1000, Type: mk("a"), Auto: true}
	r2 := &Region{Size: 0x1000, Type: mk("b"), Auto: true}
	b.Attach(r1, 0x10000000)
	b.Attach(r2, 0x20000000)

	b.Reset()
	if len(order) != 2 || order[0] != "reset:a" || order[1] != "reset:b" {
		t.Fatalf("expected attach-order reset, got %v", order)
	}

	order = nil
	b.Close()
	if len(order) != 2 || order[0] != "remove:b" || order[1] != "remove:a" {
		t.Fatalf("expected reverse-attach-order teardown, got %v", order)
	}
}
