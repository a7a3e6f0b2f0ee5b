package esdm

import "context"

// Source is the contract every entropy source adapter implements (§4.B).
// Adapters are stateless across polls and conservative: when the
// underlying source is unavailable they return a zero-entropy payload
// rather than failing.
type Source interface {
	// Name identifies the source for logging, metrics, and seed buffer
	// bookkeeping (e.g. "cpu", "jitter", "kernel", "sched", "aux").
	Name() string

	// Poll asks the source for up to requestBits of entropy. It returns
	// a conditioned payload and the number of bits the source claims for
	// it; the accountant is responsible for capping and crediting.
	Poll(ctx context.Context, requestBits uint32) (payload []byte, claimedBits uint32, err error)

	// FullySeeded reports whether bits credited from this source alone
	// would be enough to consider a DRNG fully seeded.
	FullySeeded(bits uint32) bool
}

// Pusher is implemented by push-mode sources (the auxiliary pool) that
// accept externally supplied entropy outside of the poll cycle, e.g. the
// privileged rnd_add_entropy RPC call.
type Pusher interface {
	Source
	AddEntropy(data []byte, entropyBits uint32)
}
