package esdmrpc

import (
	"context"
	"encoding/binary"

	"github.com/esdm-project/esdm/esdm"
)

// Handler answers one RPC method call and returns the payload to send
// back, or an error to fold into the envelope's Err/Ret fields.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Core is the subset of the manager's public surface the RPC layer
// calls into; kept as an interface so esdmrpc never imports esdm's
// concrete Manager type directly beyond what dispatch needs.
type Core interface {
	Generate(ctx context.Context, nonblock bool, n int) ([]byte, error)
	GenerateFull(ctx context.Context, n int) ([]byte, error)
	GenerateMin(ctx context.Context, n int) ([]byte, error)
	EntropyLevel() uint32
	MinReseedSeconds() uint32
	WriteData(data []byte) error
	AddEntropy(data []byte, entropyBits uint32)
	AddToEntCnt(bits uint32)
	ClearPool()
	ReseedCRNG(ctx context.Context) error

	// Status returns the human-readable info string and the two
	// booleans the SHM record exposes; the server assembles the rest of
	// the record (unpriv_threads, generation).
	Status() (info string, operational bool, needEntropy bool)
}

// UnprivilegedMethods returns the dispatch table for the unprivileged
// service of §4.H.
func UnprivilegedMethods(core Core) map[string]Handler {
	return map[string]Handler{
		"status": func(ctx context.Context, _ []byte) ([]byte, error) {
			info, _, _ := core.Status()
			return []byte(info), nil
		},
		"get_random_bytes": func(ctx context.Context, payload []byte) ([]byte, error) {
			n, err := decodeRequestedLen(payload)
			if err != nil {
				return nil, err
			}
			return core.Generate(ctx, true, n)
		},
		"get_random_bytes_full": func(ctx context.Context, payload []byte) ([]byte, error) {
			n, err := decodeRequestedLen(payload)
			if err != nil {
				return nil, err
			}
			return core.GenerateFull(ctx, n)
		},
		"get_random_bytes_min": func(ctx context.Context, payload []byte) ([]byte, error) {
			n, err := decodeRequestedLen(payload)
			if err != nil {
				return nil, err
			}
			return core.GenerateMin(ctx, n)
		},
		"get_ent_lvl": func(ctx context.Context, _ []byte) ([]byte, error) {
			return encodeU32(core.EntropyLevel()), nil
		},
		"get_min_reseed_secs": func(ctx context.Context, _ []byte) ([]byte, error) {
			return encodeU32(core.MinReseedSeconds()), nil
		},
		"write_data": func(ctx context.Context, payload []byte) ([]byte, error) {
			if err := core.WriteData(payload); err != nil {
				return nil, err
			}
			return nil, nil
		},
		"rnd_get_ent_cnt": func(ctx context.Context, _ []byte) ([]byte, error) {
			return encodeU32(core.EntropyLevel()), nil
		},
	}
}

// PrivilegedMethods returns the dispatch table for the privileged
// service of §4.H.
func PrivilegedMethods(core Core) map[string]Handler {
	return map[string]Handler{
		"rnd_add_to_ent_cnt": func(ctx context.Context, payload []byte) ([]byte, error) {
			bits, err := decodeU32(payload)
			if err != nil {
				return nil, err
			}
			core.AddToEntCnt(bits)
			return nil, nil
		},
		"rnd_add_entropy": func(ctx context.Context, payload []byte) ([]byte, error) {
			data, bits, err := decodeAddEntropy(payload)
			if err != nil {
				return nil, err
			}
			core.AddEntropy(data, bits)
			return nil, nil
		},
		"rnd_clear_pool": func(ctx context.Context, _ []byte) ([]byte, error) {
			core.ClearPool()
			return nil, nil
		},
		"rnd_reseed_crng": func(ctx context.Context, _ []byte) ([]byte, error) {
			if err := core.ReseedCRNG(ctx); err != nil {
				return nil, err
			}
			return nil, nil
		},
	}
}

func decodeRequestedLen(payload []byte) (int, error) {
	n, err := decodeU32(payload)
	if err != nil {
		return 0, err
	}
	if n > esdm.RPCMaxPayload {
		return 0, esdm.NewError("rpc.request_len", esdm.KindInvalidArgument, nil)
	}
	return int(n), nil
}

func encodeU32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

func decodeU32(payload []byte) (uint32, error) {
	if len(payload) < 4 {
		return 0, esdm.NewError("rpc.decode", esdm.KindInvalidArgument, nil)
	}
	return binary.BigEndian.Uint32(payload[:4]), nil
}

// decodeAddEntropy splits a rnd_add_entropy payload into its declared
// entropy bits (leading 4 bytes) and data (the remainder), mirroring the
// original ioctl's {entropy_count, buf} struct.
func decodeAddEntropy(payload []byte) (data []byte, bits uint32, err error) {
	if len(payload) < 4 {
		return nil, 0, esdm.NewError("rpc.decode", esdm.KindInvalidArgument, nil)
	}
	bits = binary.BigEndian.Uint32(payload[:4])
	return payload[4:], bits, nil
}
