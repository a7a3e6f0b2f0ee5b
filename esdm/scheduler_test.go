package esdm

import (
	"context"
	"testing"
)

func TestSchedulerGenerateProducesRequestedLength(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, nil)
	if err := mgr.Initialise(ctx); err != nil {
		t.Fatalf("initialise: %v", err)
	}
	if err := mgr.Scheduler().Seed(ctx, mgr.InitDRNG()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out := make([]byte, DRNGMaxReqSize*2+17)
	n, err := mgr.Scheduler().Generate(ctx, mgr.InitDRNG(), out)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if n != len(out) {
		t.Fatalf("generate produced %d bytes, want %d", n, len(out))
	}
}

func TestSchedulerGenerateFailsWhenManagerUnavailable(t *testing.T) {
	mgr := newTestManager(t, nil)
	out := make([]byte, 16)
	_, err := mgr.Scheduler().Generate(context.Background(), mgr.InitDRNG(), out)
	if !IsKind(err, KindNotAvailable) {
		t.Fatalf("err = %v, want KindNotAvailable", err)
	}
}

func TestSchedulerMustReseedWrapsMustReseed(t *testing.T) {
	mgr := newTestManager(t, nil)
	d := mgr.InitDRNG()
	d.SetForceReseed(true)
	if !mgr.Scheduler().MustReseed(d) {
		t.Fatal("expected MustReseed true when force_reseed is set")
	}
}

func TestSchedulerDrngSeedWorkSeedsInitWhenNoNodes(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, nil)
	if err := mgr.Initialise(ctx); err != nil {
		t.Fatalf("initialise: %v", err)
	}

	if !mgr.TryBeginSeedWork() {
		t.Fatal("expected to acquire the pool interlock")
	}
	mgr.Scheduler().DrngSeedWork(ctx)

	if !mgr.InitDRNG().FullySeeded() {
		t.Fatal("expected init DRNG fully seeded after drng_seed_work")
	}
	if !mgr.TryBeginSeedWork() {
		t.Fatal("expected pool interlock to be released after drng_seed_work")
	}
}

func TestSchedulerOnlyOneReseedInFlight(t *testing.T) {
	mgr := newTestManager(t, nil)
	if !mgr.TryBeginSeedWork() {
		t.Fatal("first trylock must succeed")
	}
	if mgr.TryBeginSeedWork() {
		t.Fatal("second trylock must fail while a reseed is in flight")
	}
	mgr.poolUnlock()
	if !mgr.TryBeginSeedWork() {
		t.Fatal("trylock must succeed again after unlock")
	}
	mgr.poolUnlock()
}
