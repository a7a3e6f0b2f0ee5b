package es

import (
	"context"
	"crypto/sha512"
	"encoding/binary"
	"time"

	"github.com/esdm-project/esdm/esdm"
)

// jitterSamples is the number of monotonic-clock deltas folded into one
// conditioned output; each delta carries the scheduling/cache-latency
// jitter between two back-to-back clock reads.
const jitterSamples = 64

// Jitter is a CPU-timing jitter source: it samples the scheduling and
// memory-latency noise visible in successive monotonic clock reads and
// conditions the deltas through SHA-512, the same shape as the
// original's CPU Jitter RNG without linking its C implementation.
//
// Its declared rate is supplied by rate, which callers wire to read
// Config.JitterEntropyRate; Config.Init raises that rate to full security
// strength under FIPS mode while it is still at its default (§8 FIPS
// Jitter upgrade).
type Jitter struct {
	rate func() uint32
}

func NewJitter(rate func() uint32) *Jitter {
	return &Jitter{rate: rate}
}

func (j *Jitter) Name() string { return "jitter" }

func (j *Jitter) Poll(ctx context.Context, requestBits uint32) ([]byte, uint32, error) {
	byteLen := (requestBits + 7) / 8
	if byteLen == 0 {
		byteLen = 1
	}

	out := make([]byte, 0, byteLen)
	for uint32(len(out)) < uint32(byteLen) {
		block := j.sampleBlock()
		out = append(out, block[:]...)
	}
	out = out[:byteLen]

	claimed := j.rate()
	maxClaim := byteLen * 8
	if claimed > uint32(maxClaim) {
		claimed = uint32(maxClaim)
	}
	return out, claimed, nil
}

// sampleBlock takes jitterSamples back-to-back monotonic timestamps and
// hashes their deltas into one SHA-512 block of conditioned output.
func (j *Jitter) sampleBlock() [sha512.Size]byte {
	var deltas [jitterSamples]uint64
	prev := time.Now()
	for i := range deltas {
		now := time.Now()
		deltas[i] = uint64(now.Sub(prev))
		prev = now
	}

	var buf [jitterSamples * 8]byte
	for i, d := range deltas {
		binary.LittleEndian.PutUint64(buf[i*8:], d)
	}
	return sha512.Sum512(buf[:])
}

func (j *Jitter) FullySeeded(bits uint32) bool {
	return bits >= esdm.SecurityStrengthBits
}
