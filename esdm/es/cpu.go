// Package es provides the concrete entropy source adapters wired into
// the manager at startup: cpu, jitter, kernel, sched, and the push-mode
// aux pool.
package es

import (
	"context"
	"crypto/rand"

	"github.com/esdm-project/esdm/esdm"
)

// CPU wraps the platform CSPRNG as the "CPU hardware RNG" source. It is
// declared at a conservative rate rather than full strength, the same
// posture the original takes toward RDRAND/RDSEED-class sources: useful,
// but not trusted at face value.
type CPU struct {
	rate func() uint32
}

// NewCPU returns a CPU source whose declared rate is read from rate on
// every poll, so operators can retune it at runtime.
func NewCPU(rate func() uint32) *CPU {
	return &CPU{rate: rate}
}

func (c *CPU) Name() string { return "cpu" }

func (c *CPU) Poll(ctx context.Context, requestBits uint32) ([]byte, uint32, error) {
	byteLen := (requestBits + 7) / 8
	if byteLen == 0 {
		byteLen = 1
	}
	buf := make([]byte, byteLen)
	if _, err := rand.Read(buf); err != nil {
		return nil, 0, esdm.NewError("cpu.poll", esdm.KindTransient, err)
	}

	claimed := c.rate()
	maxClaim := byteLen * 8
	if claimed > uint32(maxClaim) {
		claimed = uint32(maxClaim)
	}
	return buf, claimed, nil
}

func (c *CPU) FullySeeded(bits uint32) bool {
	return bits >= esdm.SecurityStrengthBits
}
