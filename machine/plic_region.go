package machine

import (
	"encoding/binary"

	"rvcore/mmiobus"
)

// PLIC MMIO layout, base-relative, all 32-bit little-endian (spec.md §6).
const (
	plicPrioEnd      = 0x001000
	plicPendingBase  = 0x001000
	plicPendingEnd   = 0x001080
	plicEnableBase   = 0x002000
	plicEnableEnd    = 0x200000
	plicEnableStride = 0x80
	plicCtxBase      = 0x200000
	plicCtxEnd       = 0x4000000
	plicCtxStride    = 0x1000
)

// attachPLIC maps the whole PLIC MMIO window (spec.md §6's table) onto
// the bus as one region dispatching by offset.
func (m *Machine) attachPLIC() error {
	dt := &mmiobus.DeviceType{
		Name:  "sifive,plic-1.0.0",
		Read:  m.plicRead,
		Write: m.plicWrite,
	}
	r := &mmiobus.Region{
		Base:      m.cfg.PLICBase,
		Size:      plicCtxEnd,
		Type:      dt,
		Data:      m,
		MinOpSize: 4,
		MaxOpSize: 4,
	}
	return m.bus.Attach(r, 0)
}

func wordMaskSources(word int, numSources int, test func(src int) bool) uint32 {
	var v uint32
	for i := 0; i < 32; i++ {
		src := word*32 + i
		if src == 0 || src > numSources {
			continue
		}
		if test(src) {
			v |= uint32(1) << uint(i)
		}
	}
	return v
}

func (m *Machine) plicRead(dev any, buf []byte, offset uint64, size int) bool {
	mm := dev.(*Machine)
	switch {
	case offset < plicPrioEnd:
		src := int(offset / 4)
		binary.LittleEndian.PutUint32(buf, mm.plic.Priority(src))
		return true
	case offset >= plicPendingBase && offset < plicPendingEnd:
		word := int((offset - plicPendingBase) / 4)
		v := wordMaskSources(word, mm.cfg.PLICSources, mm.plic.Pending)
		binary.LittleEndian.PutUint32(buf, v)
		return true
	case offset >= plicEnableBase && offset < plicEnableEnd:
		rel := offset - plicEnableBase
		ctx := int(rel / plicEnableStride)
		word := int((rel % plicEnableStride) / 4)
		v := wordMaskSources(word, mm.cfg.PLICSources, func(src int) bool { return mm.plic.Enabled(ctx, src) })
		binary.LittleEndian.PutUint32(buf, v)
		return true
	case offset >= plicCtxBase && offset < plicCtxEnd:
		rel := offset - plicCtxBase
		ctx := int(rel / plicCtxStride)
		switch rel % plicCtxStride {
		case 0:
			binary.LittleEndian.PutUint32(buf, mm.plic.Threshold(ctx))
		case 4:
			binary.LittleEndian.PutUint32(buf, mm.plic.Claim(ctx))
		default:
			return false
		}
		return true
	}
	return false
}

func (m *Machine) plicWrite(dev any, buf []byte, offset uint64, size int) bool {
	mm := dev.(*Machine)
	v := binary.LittleEndian.Uint32(buf)
	switch {
	case offset < plicPrioEnd:
		src := int(offset / 4)
		mm.plic.SetPriority(src, v)
		return true
	case offset >= plicPendingBase && offset < plicPendingEnd:
		// Pending bits are read-only (spec.md §6's table).
		return true
	case offset >= plicEnableBase && offset < plicEnableEnd:
		rel := offset - plicEnableBase
		ctx := int(rel / plicEnableStride)
		word := int((rel % plicEnableStride) / 4)
		for i := 0; i < 32; i++ {
			src := word*32 + i
			if src == 0 || src > mm.cfg.PLICSources {
				continue
			}
			mm.plic.SetEnable(ctx, src, v&(uint32(1)<<uint(i)) != 0)
		}
		return true
	case offset >= plicCtxBase && offset < plicCtxEnd:
		rel := offset - plicCtxBase
		ctx := int(rel / plicCtxStride)
		switch rel % plicCtxStride {
		case 0:
			mm.plic.SetThreshold(ctx, v)
		case 4:
			mm.plic.Complete(ctx, v)
		default:
			return false
		}
		return true
	}
	return false
}
