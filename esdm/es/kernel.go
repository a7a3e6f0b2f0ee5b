package es

import (
	"context"
	"crypto/rand"

	"github.com/esdm-project/esdm/esdm"
)

// Kernel is a direct passthrough to the OS CSPRNG (crypto/rand.Reader),
// declared at Config.KernelEntropyRate. Unlike CPU, this source models
// getrandom(2)/urandom directly rather than a hardware instruction.
type Kernel struct {
	rate func() uint32
}

func NewKernel(rate func() uint32) *Kernel {
	return &Kernel{rate: rate}
}

func (k *Kernel) Name() string { return "kernel" }

func (k *Kernel) Poll(ctx context.Context, requestBits uint32) ([]byte, uint32, error) {
	byteLen := (requestBits + 7) / 8
	if byteLen == 0 {
		byteLen = 1
	}
	buf := make([]byte, byteLen)
	if _, err := rand.Read(buf); err != nil {
		return nil, 0, esdm.NewError("kernel.poll", esdm.KindTransient, err)
	}

	claimed := k.rate()
	maxClaim := byteLen * 8
	if claimed > uint32(maxClaim) {
		claimed = uint32(maxClaim)
	}
	return buf, claimed, nil
}

func (k *Kernel) FullySeeded(bits uint32) bool {
	return bits >= esdm.SecurityStrengthBits
}
