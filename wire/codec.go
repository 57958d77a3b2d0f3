// Package wire implements the length-framed, marker-tagged RPC envelope
// carried between DHT peers: an 8-byte big-endian length, a 1-byte
// request/response marker, and a msgpack-encoded structured body.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Marker identifies the RPC variant carried by a frame.
type Marker byte

const (
	MarkerPing  Marker = 0x01
	MarkerStore Marker = 0x02
	MarkerFind  Marker = 0x03
)

func (m Marker) String() string {
	switch m {
	case MarkerPing:
		return "PING"
	case MarkerStore:
		return "STORE"
	case MarkerFind:
		return "FIND"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(m))
	}
}

// MaxFrameLen bounds the declared length field (marker byte + payload).
// Frames exceeding it are rejected without reading the payload.
const MaxFrameLen = 10 * 1024 * 1024

const lengthPrefixSize = 8

// FrameError is returned for any malformed frame: a short read, an
// unknown marker, a length exceeding MaxFrameLen, or a body that fails to
// decode. It is always fatal for the stream carrying it.
type FrameError struct {
	Reason string
	Err    error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wire: frame error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("wire: frame error: %s", e.Reason)
}

func (e *FrameError) Unwrap() error { return e.Err }

func frameErr(reason string, err error) error {
	return &FrameError{Reason: reason, Err: err}
}

// EncodeFrame serializes marker+payload into the wire representation:
// an 8-byte big-endian length followed by the marker byte and payload.
func EncodeFrame(marker Marker, payload []byte) ([]byte, error) {
	bodyLen := 1 + len(payload)
	if bodyLen > MaxFrameLen {
		return nil, frameErr("encoded body exceeds cap", nil)
	}
	buf := make([]byte, lengthPrefixSize+bodyLen)
	binary.BigEndian.PutUint64(buf[:lengthPrefixSize], uint64(bodyLen))
	buf[lengthPrefixSize] = byte(marker)
	copy(buf[lengthPrefixSize+1:], payload)
	return buf, nil
}

// WriteFrame writes a single frame to w.
func WriteFrame(w io.Writer, marker Marker, payload []byte) error {
	buf, err := EncodeFrame(marker, payload)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads a single frame from r, returning its marker and payload.
// A length exceeding MaxFrameLen is rejected before the payload is read.
func ReadFrame(r io.Reader) (Marker, []byte, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, frameErr("short length prefix", err)
	}
	bodyLen := binary.BigEndian.Uint64(lenBuf[:])
	if bodyLen == 0 {
		return 0, nil, frameErr("zero-length frame", nil)
	}
	if bodyLen > MaxFrameLen {
		return 0, nil, frameErr("declared length exceeds cap", nil)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, frameErr("short body read", err)
	}

	marker := Marker(body[0])
	switch marker {
	case MarkerPing, MarkerStore, MarkerFind:
	default:
		return 0, nil, frameErr(fmt.Sprintf("unknown marker 0x%02x", body[0]), nil)
	}

	return marker, body[1:], nil
}

// DecodeFrame splits an in-memory frame (as produced by EncodeFrame) back
// into its marker and payload, for callers that already hold the full
// buffer (e.g. tests, or a transport that delivers whole messages).
func DecodeFrame(data []byte) (Marker, []byte, error) {
	if len(data) < lengthPrefixSize {
		return 0, nil, frameErr("short length prefix", nil)
	}
	bodyLen := binary.BigEndian.Uint64(data[:lengthPrefixSize])
	rest := data[lengthPrefixSize:]
	if uint64(len(rest)) < bodyLen {
		return 0, nil, frameErr("short body read", nil)
	}
	if bodyLen == 0 {
		return 0, nil, frameErr("zero-length frame", nil)
	}
	if bodyLen > MaxFrameLen {
		return 0, nil, frameErr("declared length exceeds cap", nil)
	}
	body := rest[:bodyLen]
	marker := Marker(body[0])
	switch marker {
	case MarkerPing, MarkerStore, MarkerFind:
	default:
		return 0, nil, frameErr(fmt.Sprintf("unknown marker 0x%02x", body[0]), nil)
	}
	return marker, body[1:], nil
}

// marshal/unmarshal wrap msgpack so callers get FrameError on bad input
// rather than a raw codec error.
func marshal(v interface{}) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, frameErr("body encode failed", err)
	}
	return b, nil
}

func unmarshal(data []byte, v interface{}) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return frameErr("body decode failed", err)
	}
	return nil
}
