package esdm

// HashState and DRBGState are opaque handles owned by a crypto callback
// implementation; the manager never inspects them.
type HashState interface{}
type DRBGState interface{}

// HashCallback is the pluggable hash primitive descriptor (§4.A). A
// conditioning hash is used by entropy source adapters to compress raw
// samples into a payload of declared entropy.
type HashCallback interface {
	Alloc() (HashState, error)
	Final(state HashState, msg []byte) ([]byte, error)
	Dealloc(state HashState)
	// Selftest returns nil if the implementation is healthy. A callback
	// with no meaningful self test simply returns nil unconditionally.
	Selftest() error
}

// DRBGCallback is the pluggable DRBG primitive descriptor (§4.A).
type DRBGCallback interface {
	Alloc(securityStrengthBytes int) (DRBGState, error)
	// Seed returns an error on failure; on success the DRBG must have
	// absorbed buf as new entropy/state input.
	Seed(state DRBGState, buf []byte) error
	// Generate returns the number of bytes written to out, or an error.
	// A short write (n < len(out)) without error is a contract
	// violation and is treated as a fault by the caller.
	Generate(state DRBGState, out []byte) (int, error)
	Dealloc(state DRBGState)
	Selftest() error
}
