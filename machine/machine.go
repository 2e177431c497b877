// Package machine assembles one RISC-V system: guest RAM, the MMIO
// address space, the PLIC, and a hart per configured CPU, wired together
// and given a lifecycle (Created -> Started -> Paused/Running ->
// Reset/Freed) per spec.md §5.
//
// Grounded on the teacher's coprocessor_manager.go (a fixed table of
// worker CPUs, each run by its own goroutine, joined through a `done`
// channel) generalized from "one fixed set of coprocessor types" to
// "N identical RISC-V harts", and on component_reset.go/debug_snapshot.go
// for the reset/snapshot ambient tooling shape.
package machine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rvcore/csr"
	"rvcore/hart"
	"rvcore/isa"
	"rvcore/mmiobus"
	"rvcore/mmu"
	"rvcore/physmem"
	"rvcore/plic"
)

// State is the machine's lifecycle state (spec.md §5).
type State int

const (
	StateCreated State = iota
	StateRunning
	StatePaused
	StateFreed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateFreed:
		return "freed"
	default:
		return "unknown"
	}
}

var (
	// ErrAlreadyStarted is returned by Start when the machine is already
	// running.
	ErrAlreadyStarted = errors.New("machine: already started")
	// ErrNotRunning is returned by Pause when the machine isn't running.
	ErrNotRunning = errors.New("machine: not running")
	// ErrNotPaused is returned by Resume/Reset when the machine isn't
	// paused.
	ErrNotPaused = errors.New("machine: not paused")
	// ErrFreed is returned by any operation on a freed machine.
	ErrFreed = errors.New("machine: machine is freed")
)

// Config configures a new Machine (spec.md §6 boot protocol, §3 data
// model). No file-parsing layer sits in front of this: the CLI/loader
// that would populate it from flags is explicitly out of scope (§1).
type Config struct {
	MemBase uint64 // default 0x80000000, per §6
	MemSize uint64 // multiple of 4 KiB

	HartCount  int
	XLEN       isa.XLEN
	BootHartID uint64

	PLICBase    uint64 // default 0x0C000000
	PLICSources int    // default 32; N <= 1024 per §3

	MMIOAddrLimit uint64 // top of the auto-placement range for Attach
	MMIOAlignment uint64 // region size/address quantum, default 4 KiB

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.HartCount <= 0 {
		c.HartCount = 1
	}
	if c.PLICBase == 0 {
		c.PLICBase = 0x0C000000
	}
	if c.PLICSources <= 0 {
		c.PLICSources = 32
	}
	if c.MMIOAddrLimit == 0 {
		c.MMIOAddrLimit = uint64(1) << 34
	}
	if c.MMIOAlignment == 0 {
		c.MMIOAlignment = physmem.PageSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Machine owns one system's RAM, bus, PLIC and harts.
type Machine struct {
	mu     sync.Mutex
	cfg    Config
	logger *slog.Logger

	ram  *physmem.Region
	bus  *mmiobus.Bus
	plic *plic.PLIC

	harts   []*hart.Hart
	mctxs   []int // per-hart Machine-external PLIC context index
	sctxs   []int // per-hart Supervisor-external PLIC context index
	bootNS  time.Time

	state    State
	stop     chan struct{}
	runGroup *errgroup.Group
}

// New allocates RAM, builds the MMIO bus and PLIC, and constructs
// cfg.HartCount harts at reset state. The machine starts in
// StateCreated; call Start to run it.
func New(cfg Config) (*Machine, error) {
	cfg.setDefaults()

	ram, err := physmem.New(cfg.MemBase, int(cfg.MemSize))
	if err != nil {
		return nil, fmt.Errorf("machine: allocate RAM: %w", err)
	}

	bus := mmiobus.New(ram, cfg.MMIOAlignment, cfg.MMIOAddrLimit)
	plicCtl := plic.New(cfg.PLICSources)

	m := &Machine{
		cfg:    cfg,
		logger: cfg.Logger,
		ram:    ram,
		bus:    bus,
		plic:   plicCtl,
		bootNS: monotonicEpoch(),
	}

	for i := 0; i < cfg.HartCount; i++ {
		id := uint64(i)
		csrFile := csr.NewStandard(cfg.XLEN, id, m.cycles, m.cycles, m.simTime)
		mmuInst := mmu.New(bus, 64)
		h := hart.New(id, cfg.XLEN, csrFile, mmuInst, bus, cfg.MemBase, m.simTime)

		mctx := plicCtl.AddContext(h.MachineExternalSink())
		sctx := plicCtl.AddContext(h.SupervisorExternalSink())

		m.harts = append(m.harts, h)
		m.mctxs = append(m.mctxs, mctx)
		m.sctxs = append(m.sctxs, sctx)
	}

	if err := m.attachPLIC(); err != nil {
		ram.Close()
		return nil, err
	}

	m.logger.Info("machine created",
		"harts", cfg.HartCount, "xlen", cfg.XLEN,
		"mem_base", fmt.Sprintf("%#x", cfg.MemBase), "mem_size", cfg.MemSize,
		"plic_base", fmt.Sprintf("%#x", cfg.PLICBase), "plic_sources", cfg.PLICSources)
	return m, nil
}

// monotonicEpoch exists purely so m.cycles/m.simTime have a stable
// reference point; wall-clock isn't part of the architectural state
// (spec.md §1: "bit-exact timing" is an explicit non-goal).
func monotonicEpoch() time.Time { return time.Now() }

func (m *Machine) cycles() uint64  { return uint64(time.Since(m.bootNS)) }
func (m *Machine) simTime() uint64 { return uint64(time.Since(m.bootNS)) }

// Bus returns the machine's MMIO bus, for attaching device regions
// before Start (spec.md §6: "devices are registered into the machine's
// bus").
func (m *Machine) Bus() *mmiobus.Bus { return m.bus }

// PLIC returns the machine's interrupt controller, for AllocIRQ and
// device wiring.
func (m *Machine) PLIC() *plic.PLIC { return m.plic }

// Harts returns the machine's harts in id order.
func (m *Machine) Harts() []*hart.Hart { return m.harts }

// RAM returns the machine's guest RAM region.
func (m *Machine) RAM() *physmem.Region { return m.ram }

// State returns the machine's current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
