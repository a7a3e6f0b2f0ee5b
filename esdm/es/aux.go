package es

import (
	"context"
	"crypto/sha512"
	"sync"

	"github.com/esdm-project/esdm/esdm"
)

// Aux is the auxiliary push-mode pool fed by the privileged
// rnd_add_entropy / rnd_add_to_ent_cnt RPC calls: pushed payloads are
// folded into a running SHA-512 digest along with their claimed bits,
// and drained (not merely copied) on every poll so the same material is
// never credited twice.
type Aux struct {
	mu      sync.Mutex
	state   [sha512.Size]byte
	credits uint32
}

// NewAux returns an empty auxiliary pool.
func NewAux() *Aux {
	a := &Aux{}
	a.state = sha512.Sum512([]byte("esdm-aux-init"))
	return a
}

func (a *Aux) Name() string { return "aux" }

// AddEntropy folds externally supplied entropy into the pool, capping
// the accumulated, not-yet-drained credit at SecurityStrengthBits the
// same way a single source's contribution is capped (§4.B, rnd_add_entropy).
func (a *Aux) AddEntropy(data []byte, entropyBits uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	h := sha512.New()
	h.Write(a.state[:])
	h.Write(data)
	sum := h.Sum(nil)
	copy(a.state[:], sum)

	a.credits += entropyBits
	if a.credits > esdm.SecurityStrengthBits {
		a.credits = esdm.SecurityStrengthBits
	}
}

// Poll drains whatever has been pushed since the last poll. If nothing
// was pushed, it returns a zero-entropy payload rather than failing,
// matching the Source contract's conservative-source posture.
func (a *Aux) Poll(ctx context.Context, requestBits uint32) ([]byte, uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	payload := make([]byte, sha512.Size)
	copy(payload, a.state[:])

	claimed := a.credits
	if claimed > requestBits && requestBits > 0 {
		claimed = requestBits
	}
	a.credits = 0

	return payload, claimed, nil
}

func (a *Aux) FullySeeded(bits uint32) bool {
	return bits >= esdm.SecurityStrengthBits
}

var _ esdm.Pusher = (*Aux)(nil)
