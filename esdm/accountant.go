package esdm

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"
)

// Accountant implements the entropy accounting algorithm of §4.C: given
// per-source declared rates, it decides how many bits to request from
// each source on a poll, applies SP800-90C oversampling in FIPS mode, and
// caps and totals the credited result.
type Accountant struct {
	cfg     *Config
	sources []Source
	logger  hclog.Logger
}

// NewAccountant builds an accountant over the given sources. Sources are
// polled in registration order every seeding round.
func NewAccountant(cfg *Config, sources []Source, logger hclog.Logger) *Accountant {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Accountant{
		cfg:     cfg,
		sources: sources,
		logger:  logger.Named("accountant"),
	}
}

// oversamplingActive reports whether SP800-90C oversampling applies: in
// FIPS mode a request asks for target+OversamplingRateBits, and the
// credited total is scaled by SecurityStrengthBits /
// (SecurityStrengthBits+OversamplingRateBits) before it is compared
// against a threshold.
func (a *Accountant) oversamplingActive() bool {
	return a.cfg.FIPSEnabled()
}

// targetBits returns the entropy target for one seeding round: a higher
// target while the DRNG has never been fully seeded, matching "higher
// target on initial seeding".
func (a *Accountant) targetBits(fullySeeded bool) uint32 {
	if fullySeeded {
		return SecurityStrengthBits
	}
	return MinSeedEntropyBits
}

// requestBits returns the number of bits to request from the sources for
// one seeding round, target plus oversampling margin if active.
func (a *Accountant) requestBits(fullySeeded bool) uint32 {
	target := a.targetBits(fullySeeded)
	if a.oversamplingActive() {
		target += OversamplingRateBits
	}
	return target
}

// Fill polls every registered source and records its contribution into
// buf, capping each source's credited bits at SecurityStrengthBits. It
// returns the total credited bits, already discounted for oversampling
// if active, the way comparisons against thresholds expect.
func (a *Accountant) Fill(ctx context.Context, buf *SeedBuffer, fullySeeded bool) (uint32, error) {
	perSourceRequest := a.requestBits(fullySeeded) / uint32(max(1, len(a.sources)))

	var rawTotal uint32
	for _, src := range a.sources {
		payload, claimed, err := src.Poll(ctx, perSourceRequest)
		if err != nil {
			a.logger.Warn("source poll failed, crediting zero", "source", src.Name(), "error", err)
			continue
		}
		if claimed > SecurityStrengthBits {
			claimed = SecurityStrengthBits
		}
		buf.Set(src.Name(), payload, claimed)
		rawTotal += claimed
		metrics.IncrCounterWithLabels([]string{"esdm", "source", "polled_bits"}, float32(claimed),
			[]metrics.Label{{Name: "source", Value: src.Name()}})
	}

	credited := rawTotal
	if a.oversamplingActive() {
		credited = rawTotal * SecurityStrengthBits / (SecurityStrengthBits + OversamplingRateBits)
	}
	metrics.SetGauge([]string{"esdm", "accountant", "credited_bits"}, float32(credited))
	return credited, nil
}

// IsFullSeed reports whether credited bits reach full security strength.
func (a *Accountant) IsFullSeed(credited uint32) bool {
	return credited >= SecurityStrengthBits
}

// IsMinSeed reports whether credited bits reach the minimum seed target.
func (a *Accountant) IsMinSeed(credited uint32) bool {
	return credited >= MinSeedEntropyBits
}
