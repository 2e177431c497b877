// Package plic implements the platform-level interrupt controller: per-
// source priority/pending/raised state, per-context enable bitmaps and
// threshold, and the claim/complete protocol, per spec.md §4.5.
//
// Grounded structurally on the teacher's coprocessor_manager.go: a
// fixed-size array of per-unit state (there, workers indexed by CPU
// type; here, sources indexed by IRQ id and contexts indexed by context
// id) guarded by a single mutex rather than the hand-rolled spinlock the
// original reference emulator uses for this path (spec.md §9 "Spinlock
// vs mutex" explicitly allows a native lock "when section length
// justifies it"; claim/complete/recompute touch several source and
// context words together, so a single mutex is simpler to get right
// than per-word atomics).
package plic

import (
	"sync"
	"sync/atomic"
)

// HartSink is the notification surface a context's owning hart exposes.
// A hart hands out one per context (see hart.Hart.MachineExternalSink/
// SupervisorExternalSink) — plic never imports hart, avoiding a
// dependency cycle.
type HartSink interface {
	RaiseExternal()
	LowerExternal()
}

// Context is one claim/complete target: either a hart's Machine-external
// or Supervisor-external interrupt line (spec.md §3: "2 × hart count").
type Context struct {
	enable    []bool
	threshold uint32
	sink      HartSink
	asserted  bool
}

// PLIC is the platform-level interrupt controller for one Machine.
// Source id 0 is reserved per spec.md §3 and is never pending/enabled.
type PLIC struct {
	mu sync.Mutex

	numSources int
	priority   []uint32
	pending    []bool
	raised     []bool

	contexts []*Context

	allocIRQ atomic.Uint32
}

// New creates a PLIC supporting IRQ ids 1..numSources (N ≤ 1024 per
// spec.md §3).
func New(numSources int) *PLIC {
	p := &PLIC{
		numSources: numSources,
		priority:   make([]uint32, numSources+1),
		pending:    make([]bool, numSources+1),
		raised:     make([]bool, numSources+1),
	}
	p.allocIRQ.Store(1) // IRQ 0 is reserved
	return p
}

// AllocIRQ returns the next unused IRQ id, for devices that request a
// dynamically assigned source (spec.md §6: "plic_alloc_irq").
func (p *PLIC) AllocIRQ() uint32 {
	return p.allocIRQ.Add(1) - 1
}

// AddContext registers a new claim/complete context bound to sink and
// returns its index.
func (p *PLIC) AddContext(sink HartSink) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	ctx := &Context{enable: make([]bool, p.numSources+1), sink: sink}
	p.contexts = append(p.contexts, ctx)
	return len(p.contexts) - 1
}

func (p *PLIC) valid(src int) bool { return src >= 1 && src <= p.numSources }

// SetPriority sets source src's 32-bit priority. A priority change can
// make any context newly (in)eligible, so it triggers a full
// recomputation across every context (spec.md §4.5).
func (p *PLIC) SetPriority(src int, pri uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.valid(src) {
		return
	}
	p.priority[src] = pri
	p.recomputeAllLocked()
}

// Priority returns source src's priority.
func (p *PLIC) Priority(src int) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.valid(src) {
		return 0
	}
	return p.priority[src]
}

// SetEnable sets whether context ctx accepts source src. Only that
// context's eligibility can change, so only it is recomputed.
func (p *PLIC) SetEnable(ctx, src int, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.valid(src) || ctx < 0 || ctx >= len(p.contexts) {
		return
	}
	p.contexts[ctx].enable[src] = enabled
	p.recomputeContextLocked(ctx)
}

// Enabled reports whether context ctx currently accepts source src.
func (p *PLIC) Enabled(ctx, src int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.valid(src) || ctx < 0 || ctx >= len(p.contexts) {
		return false
	}
	return p.contexts[ctx].enable[src]
}

// SetThreshold sets context ctx's priority threshold; sources with
// priority <= threshold are never eligible for that context.
func (p *PLIC) SetThreshold(ctx int, threshold uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx < 0 || ctx >= len(p.contexts) {
		return
	}
	p.contexts[ctx].threshold = threshold
	p.recomputeContextLocked(ctx)
}

// Threshold returns context ctx's current threshold.
func (p *PLIC) Threshold(ctx int) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx < 0 || ctx >= len(p.contexts) {
		return 0
	}
	return p.contexts[ctx].threshold
}

// SendIRQ marks source src pending and notifies every eligible context
// (spec.md §4.5). Multiple contexts (e.g. one per hart, or an M-mode and
// an S-mode context on the same hart) may independently be eligible and
// each gets its own external-interrupt line raised; see Claim for how
// the "first context to actually claim it" tie-break is resolved.
func (p *PLIC) SendIRQ(src int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.valid(src) {
		return
	}
	p.pending[src] = true
	p.recomputeAllLocked()
}

// RaiseIRQ marks source src as level-asserted ("raised") and sends it;
// LowerIRQ clears the level without touching the pending bit, which
// persists until claimed (spec.md §4.5).
func (p *PLIC) RaiseIRQ(src int) {
	p.mu.Lock()
	if p.valid(src) {
		p.raised[src] = true
	}
	p.mu.Unlock()
	p.SendIRQ(src)
}

func (p *PLIC) LowerIRQ(src int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.valid(src) {
		p.raised[src] = false
	}
}

// Claim implements a context's claim-register read: it scans every
// pending, enabled, above-threshold source, returns the highest
// priority one (ties broken by lowest id), and atomically clears its
// pending bit before returning. Returns 0 if no source is eligible.
//
// Open question resolved (spec.md §9): when two contexts are both
// eligible for the same pending source, whichever calls Claim first
// (serialized by PLIC.mu) wins and clears the shared pending bit, so the
// other context's later Claim naturally no longer sees it pending —
// "first-match" by construction, with no extra busy-tracking needed.
func (p *PLIC) Claim(ctx int) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx < 0 || ctx >= len(p.contexts) {
		return 0
	}
	best := p.bestEligibleLocked(ctx)
	if best == 0 {
		return 0
	}
	p.pending[best] = false
	// Clearing a pending bit is a global state change — other contexts
	// may also have had this source asserted and need to drop it too.
	p.recomputeAllLocked()
	return uint32(best)
}

// Complete implements a context's complete-register write: if the
// source is still level-raised, it is re-marked pending and contexts are
// renotified (spec.md §4.5).
func (p *PLIC) Complete(ctx int, src uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := int(src)
	if !p.valid(s) {
		return
	}
	if p.raised[s] {
		p.pending[s] = true
	}
	p.recomputeAllLocked()
}

// bestEligibleLocked returns the highest-priority pending+enabled source
// above ctx's threshold, ties broken by lowest id, or 0.
func (p *PLIC) bestEligibleLocked(ctx int) int {
	c := p.contexts[ctx]
	best := 0
	var bestPri uint32
	for src := 1; src <= p.numSources; src++ {
		if !p.pending[src] || !c.enable[src] {
			continue
		}
		pri := p.priority[src]
		if pri <= c.threshold {
			continue
		}
		if best == 0 || pri > bestPri {
			best = src
			bestPri = pri
		}
	}
	return best
}

func (p *PLIC) recomputeContextLocked(ctx int) {
	c := p.contexts[ctx]
	shouldAssert := p.bestEligibleLocked(ctx) != 0
	if shouldAssert == c.asserted {
		return
	}
	c.asserted = shouldAssert
	if shouldAssert {
		c.sink.RaiseExternal()
	} else {
		c.sink.LowerExternal()
	}
}

func (p *PLIC) recomputeAllLocked() {
	for i := range p.contexts {
		p.recomputeContextLocked(i)
	}
}

// Pending reports whether source src currently has its pending bit set.
func (p *PLIC) Pending(src int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.valid(src) {
		return false
	}
	return p.pending[src]
}
