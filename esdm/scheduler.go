package esdm

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"
)

// Scheduler implements §4.F: it decides when a DRNG must reseed,
// composes and injects seed buffers, and enforces that at most one
// reseed is ever in flight across the whole manager.
type Scheduler struct {
	mgr    *Manager
	logger hclog.Logger

	// ReseedMaxTime is the maximum duration between reseeds before the
	// next generate call forces one, default ReseedMaxTimeDefault.
	ReseedMaxTime time.Duration
}

// NewScheduler builds a scheduler bound to mgr.
func NewScheduler(mgr *Manager, logger hclog.Logger) *Scheduler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Scheduler{
		mgr:           mgr,
		logger:        logger.Named("scheduler"),
		ReseedMaxTime: ReseedMaxTimeDefault,
	}
}

// MustReseed reports must_reseed(drng) (§4.F).
func (s *Scheduler) MustReseed(d *DRNG) bool {
	return d.mustReseed(s.ReseedMaxTime)
}

// Seed performs one seeding round of §4.F seed(drng): fill a seed buffer
// from the accountant, inject it into d, inject the same material into
// the atomic fallback, and zero the buffer before returning.
func (s *Scheduler) Seed(ctx context.Context, d *DRNG) error {
	buf := NewSeedBuffer()
	defer buf.Zero()

	credited, err := s.mgr.accountant.Fill(ctx, buf, d.FullySeeded())
	if err != nil {
		return err
	}

	fullySeededFlag := s.mgr.accountant.IsFullSeed(credited)
	data := buf.Bytes()
	defer zeroBytes(data)

	if err := d.Inject(data, fullySeededFlag); err != nil {
		s.logger.Warn("seeding failed", "drng", d.name, "error", err)
	}
	// Re-seed the atomic fallback from the same material regardless of
	// d's own seed outcome, so the fallback stays as fresh as possible.
	if err := s.mgr.atomic.Inject(data, fullySeededFlag); err != nil {
		s.logger.Warn("atomic seeding failed", "error", err)
	}

	if s.mgr.accountant.IsMinSeed(credited) {
		s.mgr.state.Advance(StateMinSeeded)
	}
	if fullySeededFlag {
		s.mgr.state.Advance(StateFullySeeded)
	}
	if fullySeededFlag && s.mgr.Available() {
		s.mgr.state.Advance(StateOperational)
	}

	metrics.IncrCounter([]string{"esdm", "scheduler", "seed"}, 1)
	return nil
}

// DrngSeedWork implements §4.F drng_seed_work(): seed one
// not-fully-seeded per-node DRNG (which one follows map iteration order);
// if every node is fully seeded, it only logs that fact and emits no
// event; if there is no per-node array, seed the init DRNG when it is
// not yet fully seeded. It loops while reseedWanted reports true, then
// releases the pool lock.
func (s *Scheduler) DrngSeedWork(ctx context.Context) {
	for {
		s.drngSeedWorkOnce(ctx)
		if !s.reseedWanted() {
			break
		}
	}
	s.mgr.poolUnlock()
}

func (s *Scheduler) drngSeedWorkOnce(ctx context.Context) {
	nodes, put := s.mgr.GetInstances()
	defer put()

	if len(nodes) == 0 {
		if !s.mgr.init.FullySeeded() {
			s.seedWorkOne(ctx, s.mgr.init, 0)
		}
		return
	}

	for node, d := range nodes {
		if d == nil || d.FullySeeded() {
			continue
		}
		s.seedWorkOne(ctx, d, node)
		return
	}

	s.logger.Debug("all nodes seeded")
}

func (s *Scheduler) seedWorkOne(ctx context.Context, d *DRNG, node uint32) {
	s.logger.Debug("reseed triggered by system events", "node", node)
	if err := s.Seed(ctx, d); err != nil {
		s.logger.Warn("seed work failed", "node", node, "error", err)
	}
	if d.FullySeeded() {
		// Prevent a reseed storm: stagger this node's next deadline.
		// The resulting timestamp is opaque (§9) and only ever compared
		// through time.Since, never against another raw timestamp.
		d.StaggerLastSeeded(node)
	}
}

// reseedWanted reports whether the entropy pool still wants to
// contribute more seed material this round. The accounting-level
// decision belongs to the accountant/sources; here it is approximated by
// asking whether the init DRNG (the always-present fallback) is still
// short of a full seed, which is the only globally meaningful signal
// available once the per-node loop above has made its one-instance
// progress for this call.
func (s *Scheduler) reseedWanted() bool {
	return !s.mgr.init.FullySeeded()
}

// Generate implements §4.D generate(): it demotes the
// instance out of fully-seeded on overuse, then loops in
// DRNGMaxReqSize chunks, reseeding through the pool interlock whenever a
// chunk finds must_reseed true and the interlock is free — otherwise it
// only marks force_reseed and keeps generating.
func (s *Scheduler) Generate(ctx context.Context, d *DRNG, out []byte) (int, error) {
	if !s.mgr.Available() {
		return 0, NewError("drng.generate", KindNotAvailable, nil)
	}
	if len(out) == 0 {
		return 0, nil
	}

	if d.requestsSinceFullySeeded.Load() > uint64(s.mgr.cfg.DRNGMaxWithoutReseed()) {
		d.unsetFullySeeded()
	}

	processed := 0
	for processed < len(out) {
		todo := len(out) - processed
		if todo > DRNGMaxReqSize {
			todo = DRNGMaxReqSize
		}

		if s.MustReseed(d) {
			if s.mgr.poolTryLock() {
				func() {
					defer s.mgr.poolUnlock()
					if err := s.Seed(ctx, d); err != nil {
						s.logger.Warn("reseed during generate failed", "error", err)
					}
				}()
			} else {
				d.SetForceReseed(true)
			}
		}

		d.lock.Lock()
		if d.state == nil {
			d.lock.Unlock()
			return processed, NewError("drng.generate", KindFatal, nil)
		}
		n, err := d.drngCB.Generate(d.state, out[processed:processed+todo])
		d.lock.Unlock()
		if err != nil || n != todo {
			s.logger.Warn("generate failed", "drng", d.name, "error", err)
			return processed, NewError("drng.generate", KindTransient, err)
		}
		processed += n
	}

	metrics.IncrCounter([]string{"esdm", "scheduler", "generate_bytes"}, float32(processed))
	return processed, nil
}
