package esdm

import (
	"context"
	"testing"
)

type fakeSource struct {
	name    string
	claimed uint32
}

func (f fakeSource) Name() string { return f.name }

func (f fakeSource) Poll(ctx context.Context, requestBits uint32) ([]byte, uint32, error) {
	n := (requestBits + 7) / 8
	if n == 0 {
		n = 1
	}
	return make([]byte, n), f.claimed, nil
}

func (f fakeSource) FullySeeded(bits uint32) bool { return bits >= SecurityStrengthBits }

func TestAccountantCapsCreditedBitsAtSecurityStrength(t *testing.T) {
	cfg := NewConfig(nil)
	sources := []Source{
		fakeSource{name: "a", claimed: SecurityStrengthBits + 100},
		fakeSource{name: "b", claimed: SecurityStrengthBits + 100},
	}
	a := NewAccountant(cfg, sources, nil)

	buf := NewSeedBuffer()
	credited, err := a.Fill(context.Background(), buf, true)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if got := buf.TotalBits(); got != 2*SecurityStrengthBits {
		t.Fatalf("buf.TotalBits() = %d, want %d (each source capped)", got, 2*SecurityStrengthBits)
	}
	// Each source is capped at SecurityStrengthBits before summing, so
	// the raw total here is 2*SecurityStrengthBits; IsFullSeed must
	// still hold since no oversampling is active outside FIPS mode.
	if !a.IsFullSeed(credited) {
		t.Fatalf("credited = %d, want >= %d", credited, SecurityStrengthBits)
	}
}

func TestAccountantMinSeedThreshold(t *testing.T) {
	cfg := NewConfig(nil)
	sources := []Source{fakeSource{name: "a", claimed: MinSeedEntropyBits}}
	a := NewAccountant(cfg, sources, nil)

	buf := NewSeedBuffer()
	credited, err := a.Fill(context.Background(), buf, false)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if !a.IsMinSeed(credited) {
		t.Fatalf("credited = %d, want >= %d (min seed)", credited, MinSeedEntropyBits)
	}
	if a.IsFullSeed(credited) {
		t.Fatalf("credited = %d should not reach full seed", credited)
	}
}

func TestAccountantOversamplingDiscountsCreditedTotal(t *testing.T) {
	cfg := NewConfig(nil)
	cfg.SetForceFIPS(ForceFIPSEnabled)
	sources := []Source{fakeSource{name: "a", claimed: SecurityStrengthBits}}
	a := NewAccountant(cfg, sources, nil)

	buf := NewSeedBuffer()
	credited, err := a.Fill(context.Background(), buf, true)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if credited >= SecurityStrengthBits {
		t.Fatalf("expected oversampling to discount credited total below raw %d, got %d", SecurityStrengthBits, credited)
	}
}

func TestAccountantFillRecordsEverySource(t *testing.T) {
	cfg := NewConfig(nil)
	sources := []Source{
		fakeSource{name: "a", claimed: 10},
		fakeSource{name: "b", claimed: 20},
	}
	a := NewAccountant(cfg, sources, nil)

	buf := NewSeedBuffer()
	if _, err := a.Fill(context.Background(), buf, false); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if got := buf.TotalBits(); got != 30 {
		t.Fatalf("buf.TotalBits() = %d, want 30", got)
	}
}
