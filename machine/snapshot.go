package machine

import "rvcore/hart"

// Snapshot is a point-in-time, read-only dump of every hart's
// architectural state plus the machine's lifecycle state, for tests and
// host introspection tooling (grounded on the teacher's
// debug_snapshot.go TakeSnapshot — an introspection aid, not a tracing
// protocol, so it survives spec.md §1's "debugger/tracing protocols"
// non-goal the same way structured logging does).
type Snapshot struct {
	State State
	Harts []hart.Snapshot
}

// Snapshot captures the current state of every hart. Safe to call at
// any lifecycle state, but only race-free against a paused or freed
// machine: calling it while StateRunning can observe a hart mid-Step
// (each hart field read is still well-formed, just not atomic as a
// whole, matching the teacher's own "snapshot isn't a pause" debug tool
// contract).
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{State: m.state}
	for _, h := range m.harts {
		s.Harts = append(s.Harts, h.Snapshot())
	}
	return s
}
