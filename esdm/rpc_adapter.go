package esdm

import (
	"context"
	"fmt"
)

// RPCCore adapts a Manager into the method surface the esdmrpc dispatch
// tables call into (§4.H). It is defined here, not in esdmrpc, so the
// RPC layer never needs to reach past Manager's exported API.
type RPCCore struct {
	mgr    *Manager
	pusher Pusher
}

// NewRPCCore wraps mgr for RPC dispatch. pusher may be nil if no
// push-mode source (e.g. aux) was registered, in which case
// AddEntropy/AddToEntCnt become no-ops.
func NewRPCCore(mgr *Manager, pusher Pusher) *RPCCore {
	return &RPCCore{mgr: mgr, pusher: pusher}
}

// Generate answers get_random_bytes: immediate, best-effort, no wait on
// the state machine (§4.H).
func (c *RPCCore) Generate(ctx context.Context, nonblock bool, n int) ([]byte, error) {
	out := make([]byte, n)
	d := c.mgr.CurrentNodeInstance()
	produced, err := c.mgr.Scheduler().Generate(ctx, d, out)
	return out[:produced], err
}

// GenerateFull answers get_random_bytes_full: wait for operational
// before generating.
func (c *RPCCore) GenerateFull(ctx context.Context, n int) ([]byte, error) {
	if err := c.mgr.State().SleepWhileNonOperational(ctx, false); err != nil {
		return nil, err
	}
	return c.Generate(ctx, false, n)
}

// GenerateMin answers get_random_bytes_min: wait for min_seeded before
// generating.
func (c *RPCCore) GenerateMin(ctx context.Context, n int) ([]byte, error) {
	if err := c.mgr.State().SleepWhileNonMinSeeded(ctx); err != nil {
		return nil, err
	}
	return c.Generate(ctx, false, n)
}

// EntropyLevel answers get_ent_lvl / rnd_get_ent_cnt: a coarse estimate
// derived from the current node instance's seeded state, expressed in
// bits out of SecurityStrengthBits.
func (c *RPCCore) EntropyLevel() uint32 {
	d := c.mgr.CurrentNodeInstance()
	if d.FullySeeded() {
		return SecurityStrengthBits
	}
	return 0
}

// MinReseedSeconds answers get_min_reseed_secs.
func (c *RPCCore) MinReseedSeconds() uint32 {
	return uint32(c.mgr.Scheduler().ReseedMaxTime.Seconds())
}

// WriteData answers the unprivileged write_data call: data is folded
// into the push-mode pool with zero claimed entropy, since an
// unprivileged caller cannot assert an entropy count (§4.H).
func (c *RPCCore) WriteData(data []byte) error {
	if c.pusher == nil {
		return NewError("rpc.write_data", KindNotAvailable, nil)
	}
	c.pusher.AddEntropy(data, 0)
	return nil
}

// AddEntropy answers the privileged rnd_add_entropy call.
func (c *RPCCore) AddEntropy(data []byte, entropyBits uint32) {
	if c.pusher == nil {
		return
	}
	c.pusher.AddEntropy(data, entropyBits)
	c.mgr.cfg.fireAddEntropy()
}

// AddToEntCnt answers the privileged rnd_add_to_ent_cnt call: credit
// bits without supplying fresh data.
func (c *RPCCore) AddToEntCnt(bits uint32) {
	if c.pusher == nil {
		return
	}
	c.pusher.AddEntropy(nil, bits)
}

// ClearPool answers the privileged rnd_clear_pool call.
func (c *RPCCore) ClearPool() {
	c.mgr.Reset()
}

// ReseedCRNG answers the privileged rnd_reseed_crng call: force a reseed
// of every instance and run one seeding round immediately.
func (c *RPCCore) ReseedCRNG(ctx context.Context) error {
	c.mgr.ForceReseed()
	if !c.mgr.poolTryLock() {
		return nil
	}
	c.mgr.Scheduler().DrngSeedWork(ctx)
	return nil
}

// Status answers the status call and feeds the SHM status record.
func (c *RPCCore) Status() (info string, operational bool, needEntropy bool) {
	state := c.mgr.State().Get()
	operational = state == StateOperational
	needEntropy = state < StateFullySeeded
	info = fmt.Sprintf("esdm: state=%s available=%v", state, c.mgr.Available())
	return info, operational, needEntropy
}
