package esdm

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"
)

// Manager is the DRNG manager of §4.E: a lazily populated array of
// per-node DRNG instances plus the always-present "init" DRNG and an
// atomic-fallback DRNG, coordinated through a global pool trylock.
type Manager struct {
	logger hclog.Logger
	cfg    *Config

	init   *DRNG
	atomic *DRNG

	nodesMu sync.RWMutex
	nodes   map[uint32]*DRNG

	avail atomic.Bool
	state *StateMachine

	// poolLock serialises seeding attempts process-wide; it is the
	// non-blocking pool_trylock of §3/§4.F/§5. sync.Mutex.TryLock is the
	// stdlib primitive for this — no ecosystem package improves on it.
	poolLock sync.Mutex

	accountant *Accountant
	scheduler  *Scheduler

	hashCB HashCallback
	drngCB DRBGCallback
}

// NewManager wires a Manager over the given crypto callbacks, entropy
// sources, and configuration, but performs no allocation; call
// Initialise before first use.
func NewManager(cfg *Config, hashCB HashCallback, drngCB DRBGCallback, sources []Source, logger hclog.Logger) *Manager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("drng_mgr")

	m := &Manager{
		logger: logger,
		cfg:    cfg,
		nodes:  make(map[uint32]*DRNG),
		state:  NewStateMachine(logger),
		hashCB: hashCB,
		drngCB: drngCB,
	}
	m.init = NewDRNG("init", hashCB, drngCB, logger)
	m.atomic = NewDRNG("atomic", hashCB, drngCB, logger)
	m.accountant = NewAccountant(cfg, sources, logger)
	m.scheduler = NewScheduler(m, logger)
	return m
}

// Available reports esdm_get_available(): whether the init DRNG has been
// allocated successfully.
func (m *Manager) Available() bool { return m.avail.Load() }

// State returns the manager's state machine.
func (m *Manager) State() *StateMachine { return m.state }

// Scheduler returns the manager's seeding scheduler.
func (m *Manager) Scheduler() *Scheduler { return m.scheduler }

// InitDRNG returns the always-present fallback DRNG instance.
func (m *Manager) InitDRNG() *DRNG { return m.init }

// AtomicDRNG returns the atomic-fallback DRNG. Every Scheduler.Seed
// round reseeds it alongside the seeded instance; no generate path in
// this package reads from it.
func (m *Manager) AtomicDRNG() *DRNG { return m.atomic }

// Initialise allocates the init DRNG, runs crypto selftests, and marks
// the manager available (§4.E initialise()). It is idempotent.
func (m *Manager) Initialise(ctx context.Context) error {
	if m.Available() {
		return nil
	}

	m.init.lock.Lock()
	if m.avail.Load() {
		m.init.lock.Unlock()
		return nil
	}
	err := func() error {
		state, err := m.drngCB.Alloc(SecurityStrengthBytes)
		if err != nil {
			return NewError("manager.initialise", KindFatal, err)
		}
		m.init.state = state
		m.init.reset()
		return nil
	}()
	m.init.lock.Unlock()
	if err != nil {
		return err
	}

	m.logger.Debug("esdm for general use is available")
	m.avail.Store(true)

	if err := m.selftest(); err != nil {
		m.avail.Store(false)
		return err
	}

	m.cfg.Init()
	return nil
}

// selftest runs the hash and DRBG selftests of the currently installed
// callbacks (§4.E initialise(), §7: selftest failure is fatal and blocks
// avail from becoming true).
func (m *Manager) selftest() error {
	var merr *multierror.Error

	hashCB := m.init.currentHashCallback()
	if err := hashCB.Selftest(); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("hash selftest: %w", err))
	}

	m.init.lock.Lock()
	drngCB := m.init.drngCB
	m.init.lock.Unlock()
	if err := drngCB.Selftest(); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("drng selftest: %w", err))
	}

	if merr.ErrorOrNil() != nil {
		return NewError("manager.selftest", KindFatal, merr)
	}
	return nil
}

// Reset resets the counters of every per-node instance (or of the init
// DRNG when no per-node instance exists; the init DRNG is left as it is
// otherwise), resets the atomic DRNG, and restarts the state machine
// (§4.E reset()). The accountant's targets are fixed, so there is no
// entropy threshold for Reset to restore.
func (m *Manager) Reset() {
	m.nodesMu.RLock()
	nodes := make([]*DRNG, 0, len(m.nodes))
	for _, d := range m.nodes {
		nodes = append(nodes, d)
	}
	m.nodesMu.RUnlock()

	if len(nodes) == 0 {
		m.init.Reset()
	} else {
		for _, d := range nodes {
			d.Reset()
		}
	}
	m.atomic.Reset()
	m.state.Reset()
	m.logger.Debug("manager reset")
}

// ForceReseed implements §4.E force_reseed(): if the init DRNG is past
// its reseed threshold, only it is forced (it is the fallback every
// other DRNG depends on); otherwise every per-node DRNG and the atomic
// DRNG are forced.
func (m *Manager) ForceReseed() {
	m.nodesMu.RLock()
	nodes := make([]*DRNG, 0, len(m.nodes))
	for _, d := range m.nodes {
		nodes = append(nodes, d)
	}
	m.nodesMu.RUnlock()

	if len(nodes) == 0 || m.init.requestsSinceFullySeeded.Load() > DRNGReseedThresh {
		m.init.SetForceReseed(m.init.FullySeeded())
		m.logger.Debug("force reseed of initial DRNG")
		return
	}

	for _, d := range nodes {
		d.SetForceReseed(d.FullySeeded())
		m.logger.Debug("force reseed of DRNG on node", "drng", d.name)
	}
	m.atomic.SetForceReseed(m.atomic.FullySeeded())
}

// Finalize deallocates the DRBG state of every instance (§4.E
// finalize()).
func (m *Manager) Finalize() {
	m.init.Dealloc()
	m.atomic.Dealloc()

	m.nodesMu.RLock()
	defer m.nodesMu.RUnlock()
	for _, d := range m.nodes {
		d.Dealloc()
	}
}

// GetInstances returns a snapshot of the per-node DRNG map and an unlock
// function the caller must call when done, the Go equivalent of the
// get_instances()/put_instances() read-borrow discipline (§4.E).
func (m *Manager) GetInstances() (nodes map[uint32]*DRNG, put func()) {
	m.nodesMu.RLock()
	snap := make(map[uint32]*DRNG, len(m.nodes))
	for k, v := range m.nodes {
		snap[k] = v
	}
	return snap, m.nodesMu.RUnlock
}

// NodeInstance returns the DRNG for the given node if present and
// allocated, else the init DRNG (§4.E node_instance()).
func (m *Manager) NodeInstance(node uint32) *DRNG {
	nodes, put := m.GetInstances()
	defer put()
	if d, ok := nodes[node]; ok && d != nil {
		return d
	}
	return m.init
}

// EnsureNode lazily allocates a per-node DRNG the first time node is
// used (§3 lifecycle: "Per-node DRNGs are allocated lazily when the node
// is first used").
func (m *Manager) EnsureNode(node uint32) (*DRNG, error) {
	m.nodesMu.Lock()
	defer m.nodesMu.Unlock()
	if d, ok := m.nodes[node]; ok {
		return d, nil
	}
	d := NewDRNG(fmt.Sprintf("node-%d", node), m.hashCB, m.drngCB, m.logger)
	if err := d.Alloc(); err != nil {
		return nil, err
	}
	m.nodes[node] = d
	return d, nil
}

// poolTryLock attempts to acquire the global seeding interlock without
// blocking, returning false if a reseed is already in flight elsewhere.
func (m *Manager) poolTryLock() bool { return m.poolLock.TryLock() }

// poolUnlock releases the global seeding interlock.
func (m *Manager) poolUnlock() { m.poolLock.Unlock() }

// TryBeginSeedWork attempts to acquire the pool interlock for a
// background seeding round; callers that succeed must eventually call
// Scheduler().DrngSeedWork, which releases the interlock itself.
func (m *Manager) TryBeginSeedWork() bool { return m.poolTryLock() }

// Config returns the manager's configuration record.
func (m *Manager) Config() *Config { return m.cfg }

// CurrentNodeInstance resolves the DRNG to use for the calling node:
// the per-node instance if it exists and is fully seeded, else the init
// instance (§4.E esdm_drng_get_sleep()).
func (m *Manager) CurrentNodeInstance() *DRNG {
	node := m.cfg.CurrNode()
	nodes, put := m.GetInstances()
	defer put()
	if d, ok := nodes[node]; ok && d != nil && d.FullySeeded() {
		return d
	}
	return m.init
}
