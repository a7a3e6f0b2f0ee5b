package esdm

import (
	"context"
	"testing"
)

func newTestManager(t *testing.T, sources []Source) *Manager {
	t.Helper()
	cfg := NewConfig(nil)
	if sources == nil {
		sources = []Source{fakeSource{name: "a", claimed: SecurityStrengthBits}}
	}
	return NewManager(cfg, DefaultHashCallback, DefaultDRBGCallback, sources, nil)
}

func TestManagerInitialiseIsIdempotent(t *testing.T) {
	mgr := newTestManager(t, nil)
	ctx := context.Background()

	if err := mgr.Initialise(ctx); err != nil {
		t.Fatalf("initialise: %v", err)
	}
	if !mgr.Available() {
		t.Fatal("expected manager available after initialise")
	}
	if err := mgr.Initialise(ctx); err != nil {
		t.Fatalf("second initialise: %v", err)
	}
}

func TestManagerSeedingAdvancesState(t *testing.T) {
	mgr := newTestManager(t, nil)
	ctx := context.Background()
	if err := mgr.Initialise(ctx); err != nil {
		t.Fatalf("initialise: %v", err)
	}

	if err := mgr.Scheduler().Seed(ctx, mgr.InitDRNG()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if mgr.State().Get() < StateFullySeeded {
		t.Fatalf("state = %v, want >= fully_seeded after a full-strength seed", mgr.State().Get())
	}
}

func TestManagerEnsureNodeLazilyAllocates(t *testing.T) {
	mgr := newTestManager(t, nil)
	if err := mgr.Initialise(context.Background()); err != nil {
		t.Fatalf("initialise: %v", err)
	}

	d, err := mgr.EnsureNode(1)
	if err != nil {
		t.Fatalf("ensure node: %v", err)
	}
	if d == nil {
		t.Fatal("expected non-nil per-node DRNG")
	}

	again, err := mgr.EnsureNode(1)
	if err != nil {
		t.Fatalf("ensure node again: %v", err)
	}
	if again != d {
		t.Fatal("EnsureNode must return the same instance for a repeated node")
	}
}

func TestManagerResetDemotesState(t *testing.T) {
	mgr := newTestManager(t, nil)
	ctx := context.Background()
	if err := mgr.Initialise(ctx); err != nil {
		t.Fatalf("initialise: %v", err)
	}
	if err := mgr.Scheduler().Seed(ctx, mgr.InitDRNG()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	mgr.Reset()
	if mgr.State().Get() != StateUninitialised {
		t.Fatalf("state after reset = %v, want uninitialised", mgr.State().Get())
	}
	if mgr.InitDRNG().FullySeeded() {
		t.Fatal("init DRNG must not be fully seeded after reset")
	}
}

func TestManagerForceReseedOnlyInitWhenNoNodes(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, nil)
	if err := mgr.Initialise(ctx); err != nil {
		t.Fatalf("initialise: %v", err)
	}
	// force_reseed only latches true for an already fully-seeded DRNG
	// (esdm_drng_force_reseed: force_reseed = fully_seeded); a DRNG
	// that was never seeded has nothing to force.
	if err := mgr.Scheduler().Seed(ctx, mgr.InitDRNG()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	mgr.ForceReseed()
	if !mgr.InitDRNG().ForceReseed() {
		t.Fatal("expected init DRNG force_reseed set once fully seeded, with no per-node DRNGs present")
	}
}
