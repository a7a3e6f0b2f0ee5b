package esdm

import (
	"context"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// State is one of the four monotonically advancing operational states
// (§4.G).
type State int32

const (
	StateUninitialised State = iota
	StateMinSeeded
	StateFullySeeded
	StateOperational
)

func (s State) String() string {
	switch s {
	case StateUninitialised:
		return "uninitialised"
	case StateMinSeeded:
		return "min_seeded"
	case StateFullySeeded:
		return "fully_seeded"
	case StateOperational:
		return "operational"
	default:
		return "unknown"
	}
}

// StateMachine implements the global state transitions and the
// init_wait condition-variable discipline described in §4.G/§5:
// wakeups are broadcast, never single, and callers must re-check the
// predicate after waking (spurious wakeups are possible).
type StateMachine struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state State

	logger hclog.Logger

	// onAdvance is invoked with the lock released, once per transition,
	// so the RPC status publisher can post its semaphore exactly once
	// per advance (§8 property 8).
	onAdvance func(State)
}

// NewStateMachine returns a state machine in StateUninitialised.
func NewStateMachine(logger hclog.Logger) *StateMachine {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	sm := &StateMachine{
		state:  StateUninitialised,
		logger: logger.Named("state"),
	}
	sm.cond = sync.NewCond(&sm.mu)
	return sm
}

// OnAdvance registers the callback fired after every transition.
func (sm *StateMachine) OnAdvance(fn func(State)) {
	sm.mu.Lock()
	sm.onAdvance = fn
	sm.mu.Unlock()
}

// Get returns the current state.
func (sm *StateMachine) Get() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state
}

// Advance moves the state machine to target if target is strictly ahead
// of the current state (states are monotonic; Advance is a no-op
// otherwise). It broadcasts to every waiter and fires onAdvance exactly
// once when a transition actually happens.
func (sm *StateMachine) Advance(target State) {
	sm.mu.Lock()
	if target <= sm.state {
		sm.mu.Unlock()
		return
	}
	sm.state = target
	sm.logger.Debug("state advanced", "state", target.String())
	cb := sm.onAdvance
	sm.cond.Broadcast()
	sm.mu.Unlock()

	if cb != nil {
		cb(target)
	}
}

// Reset demotes the state machine back to StateUninitialised (§4.E
// reset()). Unlike Advance, this is an explicit regression.
func (sm *StateMachine) Reset() {
	sm.mu.Lock()
	sm.state = StateUninitialised
	sm.logger.Debug("state reset")
	cb := sm.onAdvance
	sm.cond.Broadcast()
	sm.mu.Unlock()

	if cb != nil {
		cb(StateUninitialised)
	}
}

// SleepWhileNonMinSeeded blocks until the state machine reaches at least
// StateMinSeeded, or ctx is done.
func (sm *StateMachine) SleepWhileNonMinSeeded(ctx context.Context) error {
	return sm.waitFor(ctx, StateMinSeeded, false)
}

// SleepWhileNonOperational blocks until StateOperational, unless
// nonblock is set, in which case it returns a KindWouldBlock error
// immediately if not already operational (§4.G, §8 property 4).
func (sm *StateMachine) SleepWhileNonOperational(ctx context.Context, nonblock bool) error {
	return sm.waitFor(ctx, StateOperational, nonblock)
}

func (sm *StateMachine) waitFor(ctx context.Context, target State, nonblock bool) error {
	sm.mu.Lock()
	if sm.state >= target {
		sm.mu.Unlock()
		return nil
	}
	if nonblock {
		sm.mu.Unlock()
		return NewError("state.wait", KindWouldBlock, nil)
	}

	// sync.Cond has no context support; a watcher goroutine broadcasts
	// on cancellation so Wait() unblocks and re-checks the predicate,
	// same re-check-after-wakeup discipline as every other waiter.
	done := make(chan struct{})
	if ctx != nil {
		stop := context.AfterFunc(ctx, func() {
			sm.mu.Lock()
			sm.cond.Broadcast()
			sm.mu.Unlock()
		})
		defer stop()
		defer close(done)
	}

	for sm.state < target {
		if ctx != nil && ctx.Err() != nil {
			sm.mu.Unlock()
			return ctx.Err()
		}
		sm.cond.Wait()
	}
	sm.mu.Unlock()
	return nil
}
