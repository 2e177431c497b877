package hart

import (
	"testing"

	"rvcore/isa"
)

// recordingBus wraps fakeBus and records the size of every Access call,
// rejecting any access narrower than minOpSize the way mmiobus.invoke
// does for a real device region (spec.md §4.4).
type recordingBus struct {
	*fakeBus
	minOpSize int
	sizes     []int
}

func (b *recordingBus) Access(addr uint64, size int, write bool, buf []byte) error {
	b.sizes = append(b.sizes, size)
	if size < b.minOpSize {
		return errAccessTooNarrow{}
	}
	return b.fakeBus.Access(addr, size, write, buf)
}

type errAccessTooNarrow struct{}

func (errAccessTooNarrow) Error() string { return "access narrower than device MinOpSize" }

func TestAccessSplitIssuesOneWideAccessWithinAPage(t *testing.T) {
	bus := &recordingBus{fakeBus: newFakeBus(1 << 16), minOpSize: 4}
	h := newHart(isa.XLEN64, bus.fakeBus)
	h.Bus = bus

	if _, fault := h.loadMem(0x100, 4); fault != nil {
		t.Fatalf("loadMem: %+v", fault)
	}
	if len(bus.sizes) != 1 || bus.sizes[0] != 4 {
		t.Fatalf("Access calls = %v, want exactly one call of size 4", bus.sizes)
	}

	bus.sizes = nil
	if fault := h.storeMem(0x200, 4, 0xdeadbeef); fault != nil {
		t.Fatalf("storeMem: %+v", fault)
	}
	if len(bus.sizes) != 1 || bus.sizes[0] != 4 {
		t.Fatalf("Access calls = %v, want exactly one call of size 4", bus.sizes)
	}
}

func TestAccessSplitFallsBackToByteLoopAcrossAPageBoundary(t *testing.T) {
	bus := &recordingBus{fakeBus: newFakeBus(1 << 16), minOpSize: 1}
	h := newHart(isa.XLEN64, bus.fakeBus)
	h.Bus = bus

	// 4-byte access starting 2 bytes before a page boundary: must split.
	addr := uint64(0x1000 - 2)
	if _, fault := h.loadMem(addr, 4); fault != nil {
		t.Fatalf("loadMem: %+v", fault)
	}
	if len(bus.sizes) != 4 {
		t.Fatalf("Access calls = %v, want 4 single-byte calls across the page split", bus.sizes)
	}
	for _, s := range bus.sizes {
		if s != 1 {
			t.Fatalf("Access calls = %v, want all size 1", bus.sizes)
		}
	}
}
