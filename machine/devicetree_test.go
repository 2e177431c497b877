package machine

import (
	"bytes"
	"encoding/binary"
	"testing"

	"rvcore/devtree"
)

func TestBuildDeviceTreeProducesValidBlob(t *testing.T) {
	m := newTestMachine(t)

	blob, err := m.BuildDeviceTree()
	if err != nil {
		t.Fatalf("BuildDeviceTree: %v", err)
	}
	if len(blob) < 40 {
		t.Fatalf("blob too short: %d bytes", len(blob))
	}
	magic := binary.BigEndian.Uint32(blob[0:4])
	if magic != 0xd00dfeed {
		t.Fatalf("fdt magic = %#x, want 0xd00dfeed", magic)
	}
	totalSize := binary.BigEndian.Uint32(blob[4:8])
	if int(totalSize) != len(blob) {
		t.Fatalf("totalsize field = %d, actual blob = %d", totalSize, len(blob))
	}

	wantStrings := []string{
		"device_type", "riscv,isa", "mmu-type", "compatible",
		"reg", "riscv,ndev", "#interrupt-cells",
	}
	for _, s := range wantStrings {
		if !bytes.Contains(blob, []byte(s)) {
			t.Errorf("blob missing expected property name %q", s)
		}
	}
}

func TestBuildDeviceTreeIncludesExtraNodes(t *testing.T) {
	m := newTestMachine(t)

	extra := devtree.New("uart@10000000")
	extra.Add(devtree.PropStrings("compatible", "ns16550a"))

	blob, err := m.BuildDeviceTree(extra)
	if err != nil {
		t.Fatalf("BuildDeviceTree: %v", err)
	}
	if !bytes.Contains(blob, []byte("uart@10000000")) {
		t.Fatal("blob missing caller-supplied extra node name")
	}
	if !bytes.Contains(blob, []byte("ns16550a")) {
		t.Fatal("blob missing caller-supplied extra node property value")
	}
}

func TestBuildDeviceTreeReflectsHartCount(t *testing.T) {
	m := newTestMachine(t)

	blob, err := m.BuildDeviceTree()
	if err != nil {
		t.Fatalf("BuildDeviceTree: %v", err)
	}
	for i := range m.Harts() {
		name := []byte{}
		name = append(name, []byte("cpu@")...)
		name = append(name, byte('0'+i))
		if !bytes.Contains(blob, name) {
			t.Errorf("blob missing node for hart %d", i)
		}
	}
}
