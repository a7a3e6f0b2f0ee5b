package esdm

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"sync"
)

// DefaultHashCallback is the in-tree SHA-512 conditioning hash, the
// equivalent of the original esdm_builtin_sha512_cb. It performs no
// allocation beyond the hash.Hash state itself.
var DefaultHashCallback HashCallback = sha512HashCallback{}

type sha512HashCallback struct{}

type sha512State struct{}

func (sha512HashCallback) Alloc() (HashState, error) {
	return &sha512State{}, nil
}

func (sha512HashCallback) Final(_ HashState, msg []byte) ([]byte, error) {
	sum := sha512.Sum512(msg)
	return sum[:], nil
}

func (sha512HashCallback) Dealloc(HashState) {}

func (sha512HashCallback) Selftest() error {
	sum := sha512.Sum512([]byte("esdm-selftest"))
	if len(sum) != sha512.Size {
		return fmt.Errorf("sha512 selftest: unexpected digest size %d", len(sum))
	}
	return nil
}

// DefaultDRBGCallback is the in-tree HMAC-DRBG, the equivalent of the
// original esdm_builtin_hash_drbg_cb. It follows the SP800-90Ar1 HMAC_DRBG
// construction over SHA-512 (update/generate over K/V state), the same
// shape other_examples/DrKLO-Telegram__hmac_drbg.go and
// other_examples/canonical-go-sp800.90a-drbg__drbg.go use.
var DefaultDRBGCallback DRBGCallback = hmacDRBGCallback{}

type hmacDRBGCallback struct{}

// hmacDRBGState holds the K/V registers and its own mutex, so Seed and
// Generate are safe even on a state no DRNG instance lock guards (as in
// Selftest).
type hmacDRBGState struct {
	mu sync.Mutex
	k  []byte
	v  []byte
}

const hmacDRBGOutLen = sha512.Size

func (hmacDRBGCallback) Alloc(securityStrengthBytes int) (DRBGState, error) {
	if securityStrengthBytes <= 0 {
		return nil, fmt.Errorf("hmac drbg alloc: invalid security strength %d", securityStrengthBytes)
	}
	st := &hmacDRBGState{
		k: make([]byte, hmacDRBGOutLen),
		v: make([]byte, hmacDRBGOutLen),
	}
	for i := range st.v {
		st.v[i] = 1
	}
	// Instantiate with fresh kernel entropy so the DRBG is never used
	// un-seeded even before the first real Seed call lands.
	seed := make([]byte, securityStrengthBytes)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("hmac drbg alloc: %w", err)
	}
	st.update(seed)
	return st, nil
}

func (st *hmacDRBGState) update(data []byte) {
	mac := hmac.New(sha512.New, st.k)
	mac.Write(st.v)
	mac.Write([]byte{0})
	mac.Write(data)
	st.k = mac.Sum(nil)

	mac = hmac.New(sha512.New, st.k)
	mac.Write(st.v)
	st.v = mac.Sum(nil)

	if len(data) == 0 {
		return
	}

	mac = hmac.New(sha512.New, st.k)
	mac.Write(st.v)
	mac.Write([]byte{1})
	mac.Write(data)
	st.k = mac.Sum(nil)

	mac = hmac.New(sha512.New, st.k)
	mac.Write(st.v)
	st.v = mac.Sum(nil)
}

func (hmacDRBGCallback) Seed(state DRBGState, buf []byte) error {
	st, ok := state.(*hmacDRBGState)
	if !ok || st == nil {
		return fmt.Errorf("hmac drbg seed: invalid state")
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.update(buf)
	return nil
}

func (hmacDRBGCallback) Generate(state DRBGState, out []byte) (int, error) {
	st, ok := state.(*hmacDRBGState)
	if !ok || st == nil {
		return 0, fmt.Errorf("hmac drbg generate: invalid state")
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	written := 0
	for written < len(out) {
		mac := hmac.New(sha512.New, st.k)
		mac.Write(st.v)
		st.v = mac.Sum(nil)
		n := copy(out[written:], st.v)
		written += n
	}
	st.update(nil)
	return written, nil
}

func (hmacDRBGCallback) Dealloc(DRBGState) {}

func (hmacDRBGCallback) Selftest() error {
	st := &hmacDRBGState{k: make([]byte, hmacDRBGOutLen), v: make([]byte, hmacDRBGOutLen)}
	for i := range st.v {
		st.v[i] = 1
	}
	st.update([]byte("esdm-hmac-drbg-selftest"))
	out := make([]byte, 32)
	n, err := hmacDRBGCallback{}.Generate(st, out)
	if err != nil {
		return fmt.Errorf("hmac drbg selftest: %w", err)
	}
	if n != len(out) {
		return fmt.Errorf("hmac drbg selftest: short generate %d != %d", n, len(out))
	}
	return nil
}
