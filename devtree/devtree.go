// Package devtree builds a minimal flattened device tree (DTB, DTSpec
// v17 binary format) describing the machine: /cpus, /memory, /soc, and
// one node per attached MMIO device (spec.md §6).
//
// Grounded on the boot-flow shape in the pack's reference RISC-V
// hypervisor code (internal/hv/riscv/rv64's GenerateFDT, called once at
// boot and written to a fixed guest address before hart setup) —
// reimplemented here as a standalone builder rather than copied, since
// the reference emits a fixed, hardcoded tree and this one is built from
// the machine's actual hart count, RAM layout and attached devices.
package devtree

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	magic       = 0xd00dfeed
	version     = 17
	lastCompVer = 16

	tokenBeginNode = 0x00000001
	tokenEndNode   = 0x00000002
	tokenProp      = 0x00000003
	tokenNop       = 0x00000004
	tokenEnd       = 0x00000009
)

// ErrEmptyTree is returned by Build when root is nil.
var ErrEmptyTree = errors.New("devtree: root node missing")

// Prop is a single property value. Use PropU32/PropU64/PropString/
// PropCells to build one; Raw is appended as-is (already big-endian).
type Prop struct {
	Name string
	Raw  []byte
}

// PropU32 encodes a single big-endian 32-bit cell property.
func PropU32(name string, v uint32) Prop {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return Prop{Name: name, Raw: b}
}

// PropU64 encodes a single big-endian 64-bit (two-cell) property.
func PropU64(name string, v uint64) Prop {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return Prop{Name: name, Raw: b}
}

// PropCells encodes a sequence of 32-bit cells, e.g. a multi-word `reg`
// or `interrupts` property.
func PropCells(name string, cells ...uint32) Prop {
	b := make([]byte, 4*len(cells))
	for i, c := range cells {
		binary.BigEndian.PutUint32(b[i*4:], c)
	}
	return Prop{Name: name, Raw: b}
}

// PropString encodes a single NUL-terminated string property.
func PropString(name, v string) Prop {
	return Prop{Name: name, Raw: append([]byte(v), 0)}
}

// PropStrings encodes a `compatible`-style stringlist: several
// NUL-terminated strings back to back.
func PropStrings(name string, values ...string) Prop {
	var b []byte
	for _, v := range values {
		b = append(b, v...)
		b = append(b, 0)
	}
	return Prop{Name: name, Raw: b}
}

// Node is one tree node: a name, its properties, and child nodes in
// declaration order.
type Node struct {
	Name     string
	Props    []Prop
	Children []*Node
}

// New creates a node named name (root should use "", per DTSpec's
// convention of an empty root name before the unit-address separator).
func New(name string) *Node {
	return &Node{Name: name}
}

// Add appends a property and returns the node, for chained construction.
func (n *Node) Add(p Prop) *Node {
	n.Props = append(n.Props, p)
	return n
}

// Child creates, appends and returns a new child node named name.
func (n *Node) Child(name string) *Node {
	c := New(name)
	n.Children = append(n.Children, c)
	return c
}

// stringTable accumulates property names into one deduplicated blob and
// hands out each name's byte offset into it (the struct block's prop
// token only carries length+nameoff+value).
type stringTable struct {
	buf     bytes.Buffer
	offsets map[string]uint32
}

func newStringTable() *stringTable {
	return &stringTable{offsets: make(map[string]uint32)}
}

func (s *stringTable) offset(name string) uint32 {
	if off, ok := s.offsets[name]; ok {
		return off
	}
	off := uint32(s.buf.Len())
	s.offsets[name] = off
	s.buf.WriteString(name)
	s.buf.WriteByte(0)
	return off
}

func align4(buf *bytes.Buffer) {
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
}

func writeNode(struc *bytes.Buffer, strs *stringTable, n *Node) {
	binary.Write(struc, binary.BigEndian, uint32(tokenBeginNode))
	struc.WriteString(n.Name)
	struc.WriteByte(0)
	align4(struc)

	for _, p := range n.Props {
		binary.Write(struc, binary.BigEndian, uint32(tokenProp))
		binary.Write(struc, binary.BigEndian, uint32(len(p.Raw)))
		binary.Write(struc, binary.BigEndian, strs.offset(p.Name))
		struc.Write(p.Raw)
		align4(struc)
	}

	for _, c := range n.Children {
		writeNode(struc, strs, c)
	}

	binary.Write(struc, binary.BigEndian, uint32(tokenEndNode))
}

// header mirrors the DTSpec v17 fixed fdt_header, all fields big-endian.
type header struct {
	Magic           uint32
	TotalSize       uint32
	OffDtStruct     uint32
	OffDtStrings    uint32
	OffMemRsvmap    uint32
	Version         uint32
	LastCompVersion uint32
	BootCpuidPhys   uint32
	SizeDtStrings   uint32
	SizeDtStruct    uint32
}

// Build serialises root into a flattened device tree blob. bootHartID is
// written into the header's boot_cpuid_phys field (spec.md §6: the boot
// hart's id).
func Build(root *Node, bootHartID uint32) ([]byte, error) {
	if root == nil {
		return nil, ErrEmptyTree
	}

	strs := newStringTable()
	var struc bytes.Buffer
	writeNode(&struc, strs, root)
	binary.Write(&struc, binary.BigEndian, uint32(tokenEnd))
	align4(&struc)

	strBuf := strs.buf.Bytes()

	const headerSize = 40
	const memRsvmapSize = 16 // one terminating all-zero entry

	offMemRsvmap := uint32(headerSize)
	offStruct := offMemRsvmap + memRsvmapSize
	offStrings := offStruct + uint32(struc.Len())
	total := offStrings + uint32(len(strBuf))

	h := header{
		Magic:           magic,
		TotalSize:       total,
		OffDtStruct:     offStruct,
		OffDtStrings:    offStrings,
		OffMemRsvmap:    offMemRsvmap,
		Version:         version,
		LastCompVersion: lastCompVer,
		BootCpuidPhys:   bootHartID,
		SizeDtStrings:   uint32(len(strBuf)),
		SizeDtStruct:    uint32(struc.Len()),
	}

	var out bytes.Buffer
	if err := binary.Write(&out, binary.BigEndian, h); err != nil {
		return nil, fmt.Errorf("devtree: write header: %w", err)
	}
	out.Write(make([]byte, memRsvmapSize)) // empty reservation map, terminated by the all-zero entry
	out.Write(struc.Bytes())
	out.Write(strBuf)
	return out.Bytes(), nil
}
