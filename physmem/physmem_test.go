package physmem

import "testing"

func TestNewRejectsBadSize(t *testing.T) {
	if _, err := New(0x80000000, 0); err == nil {
		t.Fatal("expected error for zero size")
	}
	if _, err := New(0x80000000, 100); err == nil {
		t.Fatal("expected error for non-page-multiple size")
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	r, err := New(0x80000000, PageSize)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	if err := r.Write(0x80000010, 4, 0x12345678); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := r.Read(0x80000010, 4)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != 0x12345678 {
		t.Fatalf("got %#x, want 0x12345678", got)
	}
}

func TestContainsAndRange(t *testing.T) {
	r, err := New(0x80000000, PageSize)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	if !r.Contains(0x80000000, PageSize) {
		t.Error("expected whole region to be contained")
	}
	if r.Contains(0x80000000, PageSize+1) {
		t.Error("expected oversized access to be rejected")
	}
	if _, err := r.Read(r.End(), 4); err == nil {
		t.Error("expected out-of-range read to fail")
	}
}

func TestResetZeroes(t *testing.T) {
	r, err := New(0x80000000, PageSize)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	r.Write(0x80000000, 4, 0xFFFFFFFF)
	r.Reset()
	got, _ := r.Read(0x80000000, 4)
	if got != 0 {
		t.Fatalf("expected zero after Reset, got %#x", got)
	}
}

func TestCloseThenUseErrors(t *testing.T) {
	r, err := New(0x80000000, PageSize)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := r.Read(0x80000000, 4); err == nil {
		t.Fatal("expected error reading from closed region")
	}
}
