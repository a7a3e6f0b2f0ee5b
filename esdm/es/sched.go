package es

import (
	"context"
	"crypto/sha512"
	"encoding/binary"
	"runtime"
	"sync"
	"time"

	"github.com/esdm-project/esdm/esdm"
)

// Sched models scheduler-event entropy: it maintains a running SHA-512
// hash seeded by goroutine scheduling timestamps (the arrival time of
// each Poll call plus a short burst of runtime.Gosched-induced
// rescheduling), analogous to the original's use of interrupt and
// scheduler timing as a noise source.
type Sched struct {
	rate func() uint32

	mu    sync.Mutex
	state [sha512.Size]byte
}

func NewSched(rate func() uint32) *Sched {
	s := &Sched{rate: rate}
	s.state = sha512.Sum512([]byte("esdm-sched-init"))
	return s
}

func (s *Sched) Name() string { return "sched" }

func (s *Sched) Poll(ctx context.Context, requestBits uint32) ([]byte, uint32, error) {
	byteLen := (requestBits + 7) / 8
	if byteLen == 0 {
		byteLen = 1
	}

	out := make([]byte, 0, byteLen)
	for uint32(len(out)) < uint32(byteLen) {
		block := s.mix()
		out = append(out, block[:]...)
	}
	out = out[:byteLen]

	claimed := s.rate()
	maxClaim := byteLen * 8
	if claimed > uint32(maxClaim) {
		claimed = uint32(maxClaim)
	}
	return out, claimed, nil
}

// mix folds a fresh round of scheduling timestamps into the running
// state and returns the updated digest.
func (s *Sched) mix() [sha512.Size]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stamps [8]byte
	binary.LittleEndian.PutUint64(stamps[:], uint64(time.Now().UnixNano()))

	runtime.Gosched()

	var tail [8]byte
	binary.LittleEndian.PutUint64(tail[:], uint64(time.Now().UnixNano()))

	h := sha512.New()
	h.Write(s.state[:])
	h.Write(stamps[:])
	h.Write(tail[:])
	sum := h.Sum(nil)
	copy(s.state[:], sum)

	var out [sha512.Size]byte
	copy(out[:], sum)
	return out
}

func (s *Sched) FullySeeded(bits uint32) bool {
	return bits >= esdm.SecurityStrengthBits
}
