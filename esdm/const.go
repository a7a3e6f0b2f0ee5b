package esdm

import "time"

// Fixed points of the SP800-90A/B/C style accounting this manager
// implements; see SPEC_FULL.md §3.
const (
	// SecurityStrengthBits is the DRBG security strength the whole
	// manager is built around; entropy rates are bits per this budget.
	SecurityStrengthBits  = 256
	SecurityStrengthBytes = SecurityStrengthBits / 8

	// MinSeedEntropyBits is the credited-entropy threshold that advances
	// the state machine from uninitialised to min-seeded.
	MinSeedEntropyBits = 128

	// InitEntropyBits is the initial entropy threshold value. Nothing in
	// this package reads it; Manager.Reset has no threshold to restore.
	InitEntropyBits = 32

	// OversamplingRateBits is the fixed SP800-90C oversampling margin
	// added to every request, and divided back out of the credited
	// total, while in FIPS mode.
	OversamplingRateBits = 128

	// DRNGReseedThresh is the ceiling `requests` is reset to on every
	// successful seed, and the number of generate calls permitted
	// before a reseed is due.
	DRNGReseedThresh = 1 << 20

	// DRNGMaxWithoutReseedDefault bounds requestsSinceFullySeeded before
	// an instance is demoted out of fully-seeded.
	DRNGMaxWithoutReseedDefault = 1 << 30

	// DRNGMaxReqSize is the largest chunk a single drng_cb.Generate call
	// is asked to fill.
	DRNGMaxReqSize = 4096

	// RPCMaxPayload is the RPC size limit, in bytes: the largest random
	// byte count one request may ask for, and the largest encoded frame
	// (envelope fields plus payload) the wire protocol carries.
	RPCMaxPayload = 65500
)

// ReseedMaxTimeDefault is the default maximum duration between reseeds of
// a DRNG, enforced at the next generate call (not by a background timer).
var ReseedMaxTimeDefault = 600 * time.Second
