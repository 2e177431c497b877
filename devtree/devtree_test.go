package devtree

import (
	"encoding/binary"
	"testing"
)

func TestBuildProducesValidHeader(t *testing.T) {
	root := New("")
	root.Add(PropU32("#address-cells", 2))
	root.Add(PropU32("#size-cells", 2))
	cpus := root.Child("cpus")
	cpus.Add(PropU32("#address-cells", 1))
	cpu0 := cpus.Child("cpu@0")
	cpu0.Add(PropString("device_type", "cpu"))
	cpu0.Add(PropU32("reg", 0))
	mem := root.Child("memory@80000000")
	mem.Add(PropStrings("compatible", "memory"))
	mem.Add(PropCells("reg", 0x80000000, 0x10000000))

	blob, err := Build(root, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(blob) < 40 {
		t.Fatalf("blob too short: %d bytes", len(blob))
	}
	gotMagic := binary.BigEndian.Uint32(blob[0:4])
	if gotMagic != magic {
		t.Fatalf("magic = %#x, want %#x", gotMagic, magic)
	}
	totalSize := binary.BigEndian.Uint32(blob[4:8])
	if int(totalSize) != len(blob) {
		t.Fatalf("totalsize = %d, want %d (actual blob length)", totalSize, len(blob))
	}
	ver := binary.BigEndian.Uint32(blob[20:24])
	if ver != version {
		t.Fatalf("version = %d, want %d", ver, version)
	}
}

func TestBuildRejectsNilRoot(t *testing.T) {
	if _, err := Build(nil, 0); err == nil {
		t.Fatal("expected error for nil root")
	}
}

func TestStringTableDeduplicates(t *testing.T) {
	root := New("")
	a := root.Child("a")
	a.Add(PropU32("reg", 1))
	b := root.Child("b")
	b.Add(PropU32("reg", 2))

	strs := newStringTable()
	off1 := strs.offset("reg")
	off2 := strs.offset("reg")
	if off1 != off2 {
		t.Fatalf("expected same offset for repeated name, got %d and %d", off1, off2)
	}
}

func TestPropCellsBigEndian(t *testing.T) {
	p := PropCells("reg", 0x80000000, 0x1000)
	if len(p.Raw) != 8 {
		t.Fatalf("len = %d, want 8", len(p.Raw))
	}
	if binary.BigEndian.Uint32(p.Raw[0:4]) != 0x80000000 {
		t.Fatalf("first cell = %#x, want 0x80000000", binary.BigEndian.Uint32(p.Raw[0:4]))
	}
	if binary.BigEndian.Uint32(p.Raw[4:8]) != 0x1000 {
		t.Fatalf("second cell = %#x, want 0x1000", binary.BigEndian.Uint32(p.Raw[4:8]))
	}
}
