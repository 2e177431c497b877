package plic

import "testing"

type fakeSink struct {
	raised  int
	lowered int
}

func (f *fakeSink) RaiseExternal() { f.raised++ }
func (f *fakeSink) LowerExternal() { f.lowered++ }

// TestRoutingScenario reproduces spec.md §8 scenario 3: priority[5]=7,
// threshold[ctx0]=3, enable[ctx0][5]=1; send_irq(5); claim on ctx0
// returns 5; write 5 to complete; claim returns 0.
func TestRoutingScenario(t *testing.T) {
	p := New(16)
	sink := &fakeSink{}
	ctx := p.AddContext(sink)

	p.SetPriority(5, 7)
	p.SetThreshold(ctx, 3)
	p.SetEnable(ctx, 5, true)

	p.SendIRQ(5)
	if sink.raised != 1 {
		t.Fatalf("expected external line raised once, got %d", sink.raised)
	}

	if got := p.Claim(ctx); got != 5 {
		t.Fatalf("Claim = %d, want 5", got)
	}
	if p.Pending(5) {
		t.Fatal("expected pending[5] clear after claim")
	}
	if sink.lowered != 1 {
		t.Fatalf("expected external line lowered after claim drained the queue, got %d", sink.lowered)
	}

	p.Complete(ctx, 5)
	// Source 5 was never "raised" (level-sensitive), only sent once, so
	// Complete must not re-mark it pending.
	if got := p.Claim(ctx); got != 0 {
		t.Fatalf("Claim after complete = %d, want 0", got)
	}
}

func TestIRQZeroReserved(t *testing.T) {
	p := New(16)
	sink := &fakeSink{}
	ctx := p.AddContext(sink)
	p.SetEnable(ctx, 0, true)
	p.SetPriority(0, 7)
	p.SendIRQ(0)
	if p.Pending(0) {
		t.Fatal("IRQ 0 must never become pending")
	}
}

func TestPriorityTieBreakLowestID(t *testing.T) {
	p := New(16)
	sink := &fakeSink{}
	ctx := p.AddContext(sink)
	p.SetThreshold(ctx, 0)
	for _, src := range []int{3, 7, 2} {
		p.SetPriority(src, 5)
		p.SetEnable(ctx, src, true)
	}
	p.SendIRQ(3)
	p.SendIRQ(7)
	p.SendIRQ(2)

	if got := p.Claim(ctx); got != 2 {
		t.Fatalf("Claim = %d, want lowest id 2 among equal priorities", got)
	}
}

func TestLevelSensitiveReraiseOnComplete(t *testing.T) {
	p := New(16)
	sink := &fakeSink{}
	ctx := p.AddContext(sink)
	p.SetPriority(4, 1)
	p.SetThreshold(ctx, 0)
	p.SetEnable(ctx, 4, true)

	p.RaiseIRQ(4) // raised + pending
	if got := p.Claim(ctx); got != 4 {
		t.Fatalf("Claim = %d, want 4", got)
	}
	if p.Pending(4) {
		t.Fatal("expected pending cleared by claim")
	}

	// raised[4] is still set; completing must re-mark pending and
	// renotify since the level is still asserted upstream.
	p.Complete(ctx, 4)
	if !p.Pending(4) {
		t.Fatal("expected Complete to re-mark a still-raised source pending")
	}
	if got := p.Claim(ctx); got != 4 {
		t.Fatalf("second Claim = %d, want 4 again", got)
	}
}

func TestThresholdBlocksEligibility(t *testing.T) {
	p := New(16)
	sink := &fakeSink{}
	ctx := p.AddContext(sink)
	p.SetPriority(1, 3)
	p.SetEnable(ctx, 1, true)
	p.SetThreshold(ctx, 3) // priority must be STRICTLY greater than threshold

	p.SendIRQ(1)
	if got := p.Claim(ctx); got != 0 {
		t.Fatalf("Claim = %d, want 0 (priority == threshold is not eligible)", got)
	}
}

func TestMultipleContextsIndependentlyNotified(t *testing.T) {
	p := New(16)
	sinkM := &fakeSink{}
	sinkS := &fakeSink{}
	ctxM := p.AddContext(sinkM)
	ctxS := p.AddContext(sinkS)

	p.SetPriority(9, 5)
	p.SetThreshold(ctxM, 0)
	p.SetThreshold(ctxS, 0)
	p.SetEnable(ctxM, 9, true)
	p.SetEnable(ctxS, 9, true)

	p.SendIRQ(9)
	if sinkM.raised != 1 || sinkS.raised != 1 {
		t.Fatalf("expected both contexts raised, got M=%d S=%d", sinkM.raised, sinkS.raised)
	}

	// Whichever context claims first wins; the other then sees nothing
	// pending ("first-match", see Claim's doc comment).
	if got := p.Claim(ctxM); got != 9 {
		t.Fatalf("ctxM Claim = %d, want 9", got)
	}
	if got := p.Claim(ctxS); got != 0 {
		t.Fatalf("ctxS Claim = %d, want 0 after ctxM already drained it", got)
	}
}

func TestAllocIRQMonotonic(t *testing.T) {
	p := New(1024)
	a := p.AllocIRQ()
	b := p.AllocIRQ()
	if b != a+1 {
		t.Fatalf("expected monotonically increasing ids, got %d then %d", a, b)
	}
	if a == 0 {
		t.Fatal("IRQ 0 is reserved and must never be allocated")
	}
}
