package machine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"rvcore/csr"
	"rvcore/mmu"
)

// Start acquires one goroutine per hart (spec.md §5: "each hart runs on
// a dedicated OS thread") plus the bus's device-update event loop, and
// moves the machine to StateRunning. Grounded on the teacher's
// coproc_worker_*.go + coprocessor_manager.go shape: one goroutine per
// execution unit, `go func(){ defer close(done); cpu.Execute() }()`,
// generalized here to one goroutine per hart joined through an
// errgroup.Group instead of a hand-joined `done` channel per worker.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateFreed {
		return ErrFreed
	}
	if m.state == StateRunning {
		return ErrAlreadyStarted
	}

	stopCh := make(chan struct{})
	m.stop = stopCh
	g, gctx := errgroup.WithContext(ctx)
	m.bus.RunEventLoop()

	for _, h := range m.harts {
		h := h
		g.Go(func() error {
			for {
				select {
				case <-stopCh:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				default:
					h.Step()
				}
			}
		})
	}

	m.runGroup = g
	m.state = StateRunning
	m.logger.Info("machine started", "harts", len(m.harts))
	return nil
}

// Pause signals every hart to stop fetching (spec.md §5: "clearing
// wait_event to 0") and waits for the signal to land, fanning the
// signal out across an errgroup the same way Start fans out the hart
// goroutines themselves.
func (m *Machine) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateFreed {
		return ErrFreed
	}
	if m.state != StateRunning {
		return ErrNotRunning
	}

	var g errgroup.Group
	for _, h := range m.harts {
		h := h
		g.Go(func() error { h.Pause(); return nil })
	}
	_ = g.Wait()

	m.state = StatePaused
	m.logger.Info("machine paused")
	return nil
}

// Resume reverses Pause, setting wait_event back to 1 on every hart and
// returning the machine to StateRunning. The hart goroutines themselves
// were never stopped by Pause, only halted at their own Step loop, so
// Resume needs no new goroutines.
func (m *Machine) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateFreed {
		return ErrFreed
	}
	if m.state != StatePaused {
		return ErrNotPaused
	}

	var g errgroup.Group
	for _, h := range m.harts {
		h := h
		g.Go(func() error { h.Resume(); return nil })
	}
	_ = g.Wait()

	m.state = StateRunning
	m.logger.Info("machine resumed")
	return nil
}

// Stop halts every hart goroutine started by Start and joins them,
// leaving the machine in StatePaused (device and RAM state survives;
// Free is what tears those down).
func (m *Machine) Stop() error {
	m.mu.Lock()
	if m.state == StateFreed {
		m.mu.Unlock()
		return ErrFreed
	}
	if m.state != StateRunning {
		m.mu.Unlock()
		return ErrNotRunning
	}
	stop := m.stop
	g := m.runGroup
	m.mu.Unlock()

	close(stop)
	bus := m.bus
	bus.StopEventLoop()
	err := g.Wait()

	m.mu.Lock()
	m.state = StatePaused
	m.mu.Unlock()
	m.logger.Info("machine stopped")
	return err
}

// Reset restores every hart to its power-on state (fresh CSR file, PC
// at cfg.MemBase, Machine mode, empty TLB) and runs every attached
// device's Reset hook in attach order (spec.md §4.4), the same
// attach-order fan-out the teacher's component_reset.go performs per
// component. The machine must be paused first: resetting a running hart
// out from under its own goroutine would race its register file.
func (m *Machine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateFreed {
		return ErrFreed
	}
	if m.state != StatePaused {
		return ErrNotPaused
	}

	for i, h := range m.harts {
		id := uint64(i)
		h.CSR = csr.NewStandard(m.cfg.XLEN, id, m.cycles, m.cycles, m.simTime)
		h.MMU = mmu.New(m.bus, 64)
		h.Reset(m.cfg.MemBase)
	}
	m.ram.Reset()
	m.bus.Reset()
	m.bootNS = monotonicEpoch()

	m.logger.Info("machine reset")
	return nil
}

// Free releases the machine's RAM and every attached device, calling
// Remove hooks in reverse attach order (spec.md §5: "freeing the machine
// while paused releases all device state in reverse attachment order").
// The machine must not be running.
func (m *Machine) Free() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateFreed {
		return nil
	}
	if m.state == StateRunning {
		return fmt.Errorf("machine: cannot free while running: %w", ErrNotPaused)
	}

	if err := m.bus.Close(); err != nil {
		m.logger.Warn("device teardown error during free", "error", err)
	}
	if err := m.ram.Close(); err != nil {
		m.logger.Warn("RAM release error during free", "error", err)
	}

	m.state = StateFreed
	m.logger.Info("machine freed")
	return nil
}
