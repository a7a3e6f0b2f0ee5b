package esdm

import (
	"testing"
	"time"
)

func newTestDRNG(t *testing.T) *DRNG {
	t.Helper()
	d := NewDRNG("test", DefaultHashCallback, DefaultDRBGCallback, nil)
	if err := d.Alloc(); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	return d
}

func TestDRNGInjectLatchesFullySeeded(t *testing.T) {
	d := newTestDRNG(t)
	if d.FullySeeded() {
		t.Fatal("fresh DRNG must not be fully seeded")
	}

	seed := make([]byte, SecurityStrengthBytes)
	if err := d.Inject(seed, true); err != nil {
		t.Fatalf("inject: %v", err)
	}
	if !d.FullySeeded() {
		t.Fatal("expected fully seeded after inject(fullySeededFlag=true)")
	}
	if d.ForceReseed() {
		t.Fatal("force_reseed must clear on successful inject")
	}
}

func TestDRNGMustReseedOnRequestExhaustion(t *testing.T) {
	d := newTestDRNG(t)
	d.requests.Store(1)
	if !d.mustReseed(ReseedMaxTimeDefault) {
		t.Fatal("expected must_reseed true when requests counter reaches zero")
	}
}

func TestDRNGMustReseedOnForceFlag(t *testing.T) {
	d := newTestDRNG(t)
	d.requests.Store(DRNGReseedThresh)
	d.SetForceReseed(true)
	if !d.mustReseed(ReseedMaxTimeDefault) {
		t.Fatal("expected must_reseed true when force_reseed is set")
	}
}

func TestDRNGMustReseedOnStaleTimestamp(t *testing.T) {
	d := newTestDRNG(t)
	d.requests.Store(DRNGReseedThresh)
	d.SetForceReseed(false)
	d.lastSeededUnix.Store(time.Now().Add(-2 * time.Hour).Unix())
	if !d.mustReseed(time.Hour) {
		t.Fatal("expected must_reseed true when last seed older than reseedMaxTime")
	}
}

func TestDRNGStaggerLastSeededIsMonotonicForward(t *testing.T) {
	d := newTestDRNG(t)
	before := d.LastSeeded()
	d.StaggerLastSeeded(3)
	after := d.LastSeeded()
	if !after.After(before) {
		t.Fatalf("stagger must move lastSeeded forward: before=%v after=%v", before, after)
	}
}

func TestDRNGInjectFailureSetsForceReseed(t *testing.T) {
	d := NewDRNG("test", DefaultHashCallback, failingDRBGCallback{}, nil)
	if err := d.Alloc(); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	d.SetForceReseed(false)
	if err := d.Inject([]byte("seed"), true); err == nil {
		t.Fatal("expected inject error from failing callback")
	}
	if !d.ForceReseed() {
		t.Fatal("force_reseed must be set after a failed inject")
	}
}

// failingDRBGCallback always fails Seed, for exercising the error path.
type failingDRBGCallback struct{}

func (failingDRBGCallback) Alloc(n int) (DRBGState, error) { return &struct{}{}, nil }
func (failingDRBGCallback) Seed(DRBGState, []byte) error   { return NewError("test.seed", KindTransient, nil) }
func (failingDRBGCallback) Generate(DRBGState, []byte) (int, error) {
	return 0, NewError("test.generate", KindFatal, nil)
}
func (failingDRBGCallback) Dealloc(DRBGState) {}
func (failingDRBGCallback) Selftest() error   { return nil }
