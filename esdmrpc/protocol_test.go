package esdmrpc

import (
	"bufio"
	"bytes"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := &Envelope{
		CallID:  "call-1",
		Service: "unpriv",
		Method:  "get_random_bytes",
		Payload: []byte{1, 2, 3, 4},
	}
	if err := WriteFrame(&buf, req); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	got, err := ReadFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}

	if got.CallID != req.CallID || got.Service != req.Service || got.Method != req.Method {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, req)
	}
	if !bytes.Equal(got.Payload, req.Payload) {
		t.Fatalf("payload mismatch: got %v, want %v", got.Payload, req.Payload)
	}
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	req := &Envelope{
		CallID:  "call-2",
		Service: "unpriv",
		Method:  "write_data",
		Payload: make([]byte, MaxPayload+1),
	}
	if err := WriteFrame(&buf, req); err == nil {
		t.Fatal("expected error for payload exceeding MaxPayload")
	}
}

func TestReadFrameRejectsOversizedLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	var lenPrefix [4]byte
	lenPrefix[0] = 0xFF // forces a huge big-endian length
	buf.Write(lenPrefix[:])

	if _, err := ReadFrame(bufio.NewReader(&buf)); err == nil {
		t.Fatal("expected error for oversized length prefix")
	}
}

func TestNewCallIDReturnsDistinctTokens(t *testing.T) {
	id1, err := NewCallID()
	if err != nil {
		t.Fatalf("new call id: %v", err)
	}
	id2, err := NewCallID()
	if err != nil {
		t.Fatalf("new call id: %v", err)
	}
	if id1 == id2 {
		t.Fatal("expected distinct call ids")
	}
}
