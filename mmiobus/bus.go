// Package mmiobus implements the physical address space's MMIO side: an
// ordered, non-overlapping set of device regions and the dispatch logic
// that routes a physical access either to RAM or to a registered region's
// handler.
//
// Grounded on the teacher's machine_bus.go Bus32/IORegion design (a
// contiguous RAM slice plus a map of registered regions, a page bitmap
// fast-path for the common "plain RAM access" case) — generalized here to
// a device-agnostic, alignment-aware region table per spec.md §4.4.
package mmiobus

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"rvcore/bitops"
	"rvcore/physmem"
)

var (
	// ErrOverlap is returned by Attach when the requested region would
	// overlap RAM or an already-registered region.
	ErrOverlap = errors.New("mmiobus: region overlaps an existing mapping")
	// ErrOutOfSpace is returned by Attach when no free slot could be
	// found for an auto-placed region (RVVM_INVALID_MMIO in §7).
	ErrOutOfSpace = errors.New("mmiobus: no free address range for region")
	// ErrNotFound is returned by Detach for an unknown region and by
	// Access when no region or RAM covers the address.
	ErrNotFound = errors.New("mmiobus: no region at address")
	// ErrAccessFault is returned when a region's handler reports failure,
	// surfacing as a load/store access fault to the caller (§7).
	ErrAccessFault = errors.New("mmiobus: device access fault")
	// ErrBadSize is returned when size is not a power of two or falls
	// outside [MinOpSize, MaxOpSize] even after clamping is impossible.
	ErrBadSize = errors.New("mmiobus: invalid access size")
)

// DeviceType groups the callbacks a region's device exposes. Read and
// Write are required; Update and Reset are optional (nil is a no-op).
// This is the external collaborator contract referenced in spec.md §6 —
// only the shape is specified here, concrete devices live outside this
// module.
type DeviceType struct {
	Name string

	// Read/Write service one aligned, power-of-two-sized access. offset
	// is already normalised to the region's origin. They return false on
	// failure (surfaces as ErrAccessFault).
	Read  func(dev any, buf []byte, offset uint64, size int) bool
	Write func(dev any, buf []byte, offset uint64, size int) bool

	// Update is invoked periodically (~100 Hz) from the bus's single
	// event thread (Bus.RunEventLoop). Optional.
	Update func(dev any)

	// Reset is invoked by Bus.Reset, in attach order. Optional.
	Reset func(dev any)

	// Remove is invoked by Bus.Detach / Bus.Close, in reverse attach
	// order. Optional.
	Remove func(dev any) error
}

// Region describes one registered MMIO device mapping (spec.md §3).
type Region struct {
	Base uint64
	Size uint64
	Data any
	Type *DeviceType

	// MinOpSize/MaxOpSize bound the access sizes (in bytes, powers of
	// two) the handler will be called with; wider accesses are split,
	// narrower ones rejected.
	MinOpSize int
	MaxOpSize int

	// Auto requests the bus pick the placement at Attach time (at or
	// after the caller-provided hint); Base is ignored on input and
	// populated on return.
	Auto bool
}

func (r *Region) end() uint64 { return r.Base + r.Size }

func (r *Region) contains(addr uint64) bool {
	return addr >= r.Base && addr < r.end()
}

func (r *Region) overlaps(base, size uint64) bool {
	return base < r.end() && r.Base < base+size
}

// Bus is the ordered set of MMIO regions attached to a Machine, plus the
// RAM region memory accesses fall through to when no MMIO region claims
// the address.
type Bus struct {
	mu         sync.Mutex
	ram        *physmem.Region
	regions    []*Region // kept sorted by Base; attach order remembered separately
	attachSeq  []*Region // attach order, for Reset/teardown fan-out
	alignment  uint64
	addrLimit  uint64
	stopEvents chan struct{}
	eventsDone chan struct{}
}

// New creates a Bus over the given RAM region. alignment quantises
// region sizes on Attach (spec.md §4.4); addrLimit is the top of the
// physical address space regions may be auto-placed within.
func New(ram *physmem.Region, alignment uint64, addrLimit uint64) *Bus {
	if alignment == 0 {
		alignment = physmem.PageSize
	}
	return &Bus{ram: ram, alignment: alignment, addrLimit: addrLimit}
}

func quantize(size, alignment uint64) uint64 {
	if size == 0 {
		return alignment
	}
	rem := size % alignment
	if rem == 0 {
		return size
	}
	return size + (alignment - rem)
}

// Attach registers a new region. If r.Auto is true, the bus scans for the
// first free, alignment-satisfying slot at or after hint; otherwise r.Base
// is used as given. Returns ErrOverlap if the (possibly auto-chosen)
// placement collides with RAM or an existing region, ErrOutOfSpace if no
// auto placement exists below addrLimit.
func (b *Bus) Attach(r *Region, hint uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r.Size = quantize(r.Size, b.alignment)
	if r.MinOpSize == 0 {
		r.MinOpSize = 1
	}
	if r.MaxOpSize == 0 {
		r.MaxOpSize = r.MinOpSize
	}

	if r.Auto {
		base, err := b.findFreeSlot(r.Size, hint)
		if err != nil {
			return err
		}
		r.Base = base
	} else if b.collides(r.Base, r.Size) {
		return fmt.Errorf("%w: [%#x,%#x)", ErrOverlap, r.Base, r.end())
	}

	b.regions = append(b.regions, r)
	sort.Slice(b.regions, func(i, j int) bool { return b.regions[i].Base < b.regions[j].Base })
	b.attachSeq = append(b.attachSeq, r)
	return nil
}

func (b *Bus) collides(base, size uint64) bool {
	if b.ram != nil && overlapsRange(b.ram.Base(), b.ram.End(), base, base+size) {
		return true
	}
	for _, existing := range b.regions {
		if existing.overlaps(base, size) {
			return true
		}
	}
	return false
}

func overlapsRange(aBase, aEnd, bBase, bEnd uint64) bool {
	return bBase < aEnd && aBase < bEnd
}

func (b *Bus) findFreeSlot(size uint64, hint uint64) (uint64, error) {
	candidate := quantize(hint, b.alignment)
	if candidate == 0 {
		candidate = b.alignment
	}
	for {
		if candidate+size > b.addrLimit {
			return 0, ErrOutOfSpace
		}
		if !b.collides(candidate, size) {
			return candidate, nil
		}
		candidate += b.alignment
	}
}

// Detach removes a region, calling its Remove hook if present. It does
// not enforce reverse-attach-order on its own; Close does that for full
// teardown.
func (b *Bus) Detach(r *Region) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.detachLocked(r)
}

func (b *Bus) detachLocked(r *Region) error {
	idx := -1
	for i, existing := range b.regions {
		if existing == r {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}
	b.regions = append(b.regions[:idx], b.regions[idx+1:]...)
	for i, existing := range b.attachSeq {
		if existing == r {
			b.attachSeq = append(b.attachSeq[:i], b.attachSeq[i+1:]...)
			break
		}
	}
	if r.Type != nil && r.Type.Remove != nil {
		return r.Type.Remove(r.Data)
	}
	return nil
}

// find returns the unique region containing addr, or nil.
func (b *Bus) find(addr uint64) *Region {
	// regions is sorted by Base and non-overlapping, so a binary search
	// would do; linear scan is simplest and the region count is small
	// (tens of devices, not thousands).
	for _, r := range b.regions {
		if r.contains(addr) {
			return r
		}
	}
	return nil
}

// Access performs a physical memory operation of the given size at addr:
// a RAM access if addr falls in the RAM region, otherwise dispatch to the
// owning MMIO region's handler, clamping/splitting per spec.md §4.4.
// write selects Write vs Read; buf must be len(size) bytes and is the
// source (write) or destination (read) data.
func (b *Bus) Access(addr uint64, size int, write bool, buf []byte) error {
	if size <= 0 || !bitops.IsPow2(uint(size)) {
		return fmt.Errorf("%w: size=%d", ErrBadSize, size)
	}
	if b.ram != nil && b.ram.Contains(addr, uint64(size)) {
		if write {
			return b.ram.Write(addr, size, bitops.LoadSized(buf, 0, size))
		}
		v, err := b.ram.Read(addr, size)
		if err != nil {
			return err
		}
		bitops.StoreSized(buf, 0, size, v)
		return nil
	}

	b.mu.Lock()
	r := b.find(addr)
	b.mu.Unlock()
	if r == nil {
		return fmt.Errorf("%w: %#x", ErrNotFound, addr)
	}
	return b.accessRegion(r, addr, size, write, buf)
}

// accessRegion clamps/splits a single access into the region's
// [MinOpSize, MaxOpSize] window and invokes its handler once per
// resulting aligned sub-access.
func (b *Bus) accessRegion(r *Region, addr uint64, size int, write bool, buf []byte) error {
	if size <= r.MaxOpSize {
		return b.invoke(r, addr, size, write, buf)
	}
	// Split into MaxOpSize-sized, aligned chunks.
	step := r.MaxOpSize
	for off := 0; off < size; off += step {
		chunk := step
		if off+chunk > size {
			chunk = size - off
		}
		if err := b.invoke(r, addr+uint64(off), chunk, write, buf[off:off+chunk]); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) invoke(r *Region, addr uint64, size int, write bool, buf []byte) error {
	if size < r.MinOpSize {
		return fmt.Errorf("%w: size=%d below min %d", ErrBadSize, size, r.MinOpSize)
	}
	offset := addr - r.Base
	offset -= offset % uint64(r.MinOpSize)
	var ok bool
	if write {
		ok = r.Type.Write(r.Data, buf, offset, size)
	} else {
		ok = r.Type.Read(r.Data, buf, offset, size)
	}
	if !ok {
		return fmt.Errorf("%w: region %q offset %#x", ErrAccessFault, r.Type.Name, offset)
	}
	return nil
}

// Reset calls every attached region's optional Reset hook in attach
// order (spec.md §4.4).
func (b *Bus) Reset() {
	b.mu.Lock()
	seq := append([]*Region(nil), b.attachSeq...)
	b.mu.Unlock()
	for _, r := range seq {
		if r.Type != nil && r.Type.Reset != nil {
			r.Type.Reset(r.Data)
		}
	}
}

// Close calls every attached region's optional Remove hook in reverse
// attach order, then drops them all (spec.md §4.4: "free calls each
// region's remove in reverse order").
func (b *Bus) Close() error {
	b.mu.Lock()
	seq := append([]*Region(nil), b.attachSeq...)
	b.mu.Unlock()

	var firstErr error
	for i := len(seq) - 1; i >= 0; i-- {
		if err := b.Detach(seq[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// InRAM reports whether the physical range [addr, addr+size) falls
// entirely within the bus's RAM region. Used by the MMU to decide
// whether a translated page may be cached in the TLB (spec.md §4.2:
// "host_ptr points into RAM only (MMIO never caches)").
func (b *Bus) InRAM(addr, size uint64) bool {
	return b.ram != nil && b.ram.Contains(addr, size)
}

// Regions returns a snapshot of the currently attached regions, sorted by
// base address.
func (b *Bus) Regions() []*Region {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Region, len(b.regions))
	copy(out, b.regions)
	return out
}
