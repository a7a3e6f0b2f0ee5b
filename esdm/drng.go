package esdm

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/sasha-s/go-deadlock"
	"go.uber.org/atomic"
)

// DRNG is one DRBG instance plus the reseed counters, timestamps, and
// locks the manager and scheduler coordinate through (§3 DRNG instance).
type DRNG struct {
	name   string
	logger hclog.Logger

	// lock is the exclusive write lock guarding drng/state/timestamps
	// for the duration of one seed or generate call.
	lock deadlock.Mutex

	// hashLock guards hashCB: many readers may generate concurrently
	// while a writer swaps the conditioning hash primitive.
	hashLock deadlock.RWMutex
	hashCB   HashCallback

	drngCB DRBGCallback
	state  DRBGState

	requests                 atomic.Int64
	requestsSinceFullySeeded atomic.Uint64
	lastSeededUnix           atomic.Int64
	fullySeeded              atomic.Bool
	forceReseed              atomic.Bool
}

// NewDRNG allocates a DRNG instance with the given callbacks but does
// not seed it; callers must Alloc the DRBG state before use.
func NewDRNG(name string, hashCB HashCallback, drngCB DRBGCallback, logger hclog.Logger) *DRNG {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	d := &DRNG{
		name:   name,
		logger: logger.Named("drng." + name),
		hashCB: hashCB,
		drngCB: drngCB,
	}
	d.reset()
	return d
}

// reset restores the counters to their post-construction values; it does
// not touch the allocated DRBG state. Caller must hold d.lock.
func (d *DRNG) reset() {
	d.requests.Store(DRNGReseedThresh)
	d.requestsSinceFullySeeded.Store(0)
	d.lastSeededUnix.Store(time.Now().Unix())
	d.fullySeeded.Store(false)
	d.forceReseed.Store(true)
}

// Alloc allocates the underlying DRBG state via drngCB.
func (d *DRNG) Alloc() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	state, err := d.drngCB.Alloc(SecurityStrengthBytes)
	if err != nil {
		return NewError("drng.alloc", KindFatal, err)
	}
	d.state = state
	d.reset()
	return nil
}

// Dealloc releases the underlying DRBG state (§4.E finalize()).
func (d *DRNG) Dealloc() {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.state != nil {
		d.drngCB.Dealloc(d.state)
		d.state = nil
	}
}

// Reset clears counters, demotes the instance and forces a reseed (§4.E
// reset()), under the instance lock.
func (d *DRNG) Reset() {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.reset()
	d.logger.Debug("reset")
}

// FullySeeded reports whether the instance has absorbed a seed with at
// least SecurityStrengthBits of accredited entropy.
func (d *DRNG) FullySeeded() bool { return d.fullySeeded.Load() }

// ForceReseed reports and can set the force_reseed flag.
func (d *DRNG) ForceReseed() bool      { return d.forceReseed.Load() }
func (d *DRNG) SetForceReseed(v bool)  { d.forceReseed.Store(v) }
func (d *DRNG) LastSeeded() time.Time { return time.Unix(d.lastSeededUnix.Load(), 0) }

// SwapHashCallback replaces the conditioning hash primitive under the
// hash reader/writer lock, letting in-flight generate calls finish with
// the old primitive.
func (d *DRNG) SwapHashCallback(cb HashCallback) {
	d.hashLock.Lock()
	defer d.hashLock.Unlock()
	d.hashCB = cb
}

func (d *DRNG) currentHashCallback() HashCallback {
	d.hashLock.RLock()
	defer d.hashLock.RUnlock()
	return d.hashCB
}

// Inject seeds the DRNG with buf, under the instance lock (§4.D inject).
// On success it resets requests to the reseed ceiling, updates
// lastSeeded, folds requestsSinceFullySeeded, and latches fullySeeded.
// On failure it sets forceReseed and leaves every counter untouched.
func (d *DRNG) Inject(buf []byte, fullySeededFlag bool) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.state == nil {
		return NewError("drng.inject", KindFatal, nil)
	}

	if err := d.drngCB.Seed(d.state, buf); err != nil {
		d.forceReseed.Store(true)
		d.logger.Warn("seeding failed", "error", err)
		return NewError("drng.inject", KindTransient, err)
	}

	generateCalls := DRNGReseedThresh - d.requests.Load()
	if fullySeededFlag {
		d.requestsSinceFullySeeded.Store(0)
	} else if generateCalls > 0 {
		d.requestsSinceFullySeeded.Add(uint64(generateCalls))
	}

	d.lastSeededUnix.Store(time.Now().Unix())
	d.requests.Store(DRNGReseedThresh)
	d.forceReseed.Store(false)

	if !d.fullySeeded.Load() && fullySeededFlag {
		d.fullySeeded.Store(true)
		d.logger.Debug("fully seeded")
	}
	return nil
}

// mustReseed reports must_reseed(drng) (§4.F): the reseed is due when
// decrementing requests reaches zero, force_reseed is set, or the last
// seed is older than reseedMaxTime.
func (d *DRNG) mustReseed(reseedMaxTime time.Duration) bool {
	if d.requests.Dec() <= 0 {
		return true
	}
	if d.forceReseed.Load() {
		return true
	}
	return time.Since(d.LastSeeded()) > reseedMaxTime
}

// unsetFullySeeded clears fullySeeded, e.g. after overuse demotion.
func (d *DRNG) unsetFullySeeded() {
	d.fullySeeded.Store(false)
}

// StaggerLastSeeded advances lastSeeded into the future by the anti
// reseed-storm stagger (§4.F, node*60s). The resulting timestamp is
// opaque and must only ever be compared through time.Since-style
// comparisons, never against another raw wall-clock value (§9).
func (d *DRNG) StaggerLastSeeded(node uint32) {
	d.lastSeededUnix.Add(int64(node) * 60)
}
