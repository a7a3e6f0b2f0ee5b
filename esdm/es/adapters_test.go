package es

import (
	"context"
	"testing"

	"github.com/esdm-project/esdm/esdm"
)

func fixedRate(v uint32) func() uint32 {
	return func() uint32 { return v }
}

func TestCPUPollClaimsAtMostRequested(t *testing.T) {
	src := NewCPU(fixedRate(esdm.SecurityStrengthBits))
	payload, claimed, err := src.Poll(context.Background(), 64)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(payload) == 0 {
		t.Fatal("expected non-empty payload")
	}
	if claimed > uint32(len(payload)*8) {
		t.Fatalf("claimed %d exceeds payload capacity %d bits", claimed, len(payload)*8)
	}
}

func TestKernelPollReturnsDistinctBytes(t *testing.T) {
	src := NewKernel(fixedRate(esdm.SecurityStrengthBits))
	p1, _, err := src.Poll(context.Background(), 256)
	if err != nil {
		t.Fatalf("poll 1: %v", err)
	}
	p2, _, err := src.Poll(context.Background(), 256)
	if err != nil {
		t.Fatalf("poll 2: %v", err)
	}
	if string(p1) == string(p2) {
		t.Fatal("two consecutive kernel polls must not return identical payloads")
	}
}

func TestJitterPollProducesRequestedLength(t *testing.T) {
	src := NewJitter(fixedRate(esdm.SecurityStrengthBits))
	payload, _, err := src.Poll(context.Background(), 100)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(payload) != 13 { // ceil(100/8)
		t.Fatalf("payload length = %d, want 13", len(payload))
	}
}

func TestSchedPollAdvancesRunningState(t *testing.T) {
	src := NewSched(fixedRate(esdm.SecurityStrengthBits))
	p1, _, _ := src.Poll(context.Background(), 64)
	p2, _, _ := src.Poll(context.Background(), 64)
	if string(p1) == string(p2) {
		t.Fatal("successive sched polls must differ since the running hash advances")
	}
}

func TestAuxAddEntropyThenPollDrainsPool(t *testing.T) {
	aux := NewAux()
	aux.AddEntropy([]byte("some pushed entropy"), 40)

	_, claimed, err := aux.Poll(context.Background(), 256)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if claimed != 40 {
		t.Fatalf("claimed = %d, want 40", claimed)
	}

	_, claimed2, err := aux.Poll(context.Background(), 256)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if claimed2 != 0 {
		t.Fatalf("second poll claimed = %d, want 0 (pool must drain, not duplicate credit)", claimed2)
	}
}

func TestAuxAddEntropyCapsCredit(t *testing.T) {
	aux := NewAux()
	aux.AddEntropy([]byte("a"), esdm.SecurityStrengthBits+500)
	aux.AddEntropy([]byte("b"), esdm.SecurityStrengthBits+500)

	_, claimed, err := aux.Poll(context.Background(), esdm.SecurityStrengthBits*4)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if claimed != esdm.SecurityStrengthBits {
		t.Fatalf("claimed = %d, want capped at %d", claimed, esdm.SecurityStrengthBits)
	}
}

func TestAuxImplementsPusher(t *testing.T) {
	var _ esdm.Pusher = NewAux()
}
