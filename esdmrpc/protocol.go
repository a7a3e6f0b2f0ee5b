// Package esdmrpc implements the RPC service layer of §4.H: two
// filesystem-socket services (privileged and unprivileged), a
// length-prefixed msgpack wire protocol, and the shared status record.
package esdmrpc

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/esdm-project/esdm/esdm"
	"github.com/hashicorp/go-msgpack/codec"
)

// MaxPayload is the largest encoded frame (envelope fields plus payload)
// WriteFrame sends or ReadFrame accepts, §6; a payload must be smaller by
// the size of the envelope's other fields to fit.
const MaxPayload = esdm.RPCMaxPayload

var mh codec.MsgpackHandle

// Envelope is the wire-level request/response record: every frame on
// the connection is exactly one Envelope, length-prefixed. A response
// is correlated to its request by CallID, since responses may arrive
// out of order on a multi-worker connection (§6).
type Envelope struct {
	CallID  string
	Service string
	Method  string
	Payload []byte
	// Err carries a method-level failure as text (empty on success).
	// The envelope has no signed ret field; the size of a successful
	// response is len(Payload).
	Err string
}

// WriteFrame serialises env as a msgpack envelope prefixed with its
// 4-byte big-endian length, the "schema-driven length-prefixed framing"
// of §4.H/§6.
func WriteFrame(w io.Writer, env *Envelope) error {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, &mh)
	if err := enc.Encode(env); err != nil {
		return esdm.NewError("rpc.encode", esdm.KindInvalidArgument, err)
	}
	if len(buf) > MaxPayload {
		return esdm.NewError("rpc.encode", esdm.KindInvalidArgument,
			fmt.Errorf("frame of %d bytes exceeds MaxPayload %d", len(buf), MaxPayload))
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(buf)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return esdm.NewError("rpc.write", esdm.KindTransient, err)
	}
	if _, err := w.Write(buf); err != nil {
		return esdm.NewError("rpc.write", esdm.KindTransient, err)
	}
	return nil
}

// ReadFrame blocks until one full envelope has arrived on r.
func ReadFrame(r *bufio.Reader) (*Envelope, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > MaxPayload {
		return nil, esdm.NewError("rpc.read", esdm.KindInvalidArgument,
			fmt.Errorf("frame of %d bytes exceeds MaxPayload %d", n, MaxPayload))
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, esdm.NewError("rpc.read", esdm.KindTransient, err)
	}

	var env Envelope
	dec := codec.NewDecoderBytes(buf, &mh)
	if err := dec.Decode(&env); err != nil {
		return nil, esdm.NewError("rpc.decode", esdm.KindInvalidArgument, err)
	}
	return &env, nil
}
