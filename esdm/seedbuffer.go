package esdm

// SeedBuffer aggregates one polling round's contributions across every
// entropy source: for each source, a conditioned payload and the bits of
// entropy the accountant credited to it (§3 Seed buffer).
type SeedBuffer struct {
	names   []string
	payload map[string][]byte
	bits    map[string]uint32
}

// NewSeedBuffer returns an empty buffer ready to receive contributions.
func NewSeedBuffer() *SeedBuffer {
	return &SeedBuffer{
		payload: make(map[string][]byte),
		bits:    make(map[string]uint32),
	}
}

// Set records source's contribution, overwriting any prior value for the
// same source name. Contributions are capped by the caller (the
// accountant) at SecurityStrengthBits before being stored here.
func (b *SeedBuffer) Set(source string, payload []byte, bits uint32) {
	if _, exists := b.payload[source]; !exists {
		b.names = append(b.names, source)
	}
	b.payload[source] = payload
	b.bits[source] = bits
}

// Bytes concatenates every source's payload, in the order contributions
// were first added, for injection into a DRBG's Seed call.
func (b *SeedBuffer) Bytes() []byte {
	var out []byte
	for _, name := range b.names {
		out = append(out, b.payload[name]...)
	}
	return out
}

// TotalBits sums the credited bits across every source, each already
// capped at SecurityStrengthBits by the accountant.
func (b *SeedBuffer) TotalBits() uint32 {
	var total uint32
	for _, name := range b.names {
		total += b.bits[name]
	}
	return total
}

// Zero overwrites every payload with zero bytes. It must be called
// before a seed buffer goes out of scope, matching the "seed buffers are
// securely zeroed on exit" resource policy (§5).
func (b *SeedBuffer) Zero() {
	for _, name := range b.names {
		p := b.payload[name]
		for i := range p {
			p[i] = 0
		}
	}
}

// zeroBytes overwrites a standalone byte slice, used for buffers outside
// a SeedBuffer (e.g. the concatenation Bytes returns).
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
