// Package protocol implements the length-prefixed wire framing and the
// pipe-delimited command format spoken between clients and the server.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// lengthPrefixSize is the size of the big-endian frame length header.
const lengthPrefixSize = 4

// DefaultMaxFrameBytes bounds inbound frame payloads unless configured otherwise.
const DefaultMaxFrameBytes = 1 << 20

var (
	// ErrConnectionClosed is returned when the peer closes the connection,
	// either cleanly between frames or midway through a declared payload.
	ErrConnectionClosed = errors.New("connection closed by peer")
	// ErrTruncatedFrame is returned when the length prefix itself is cut short.
	ErrTruncatedFrame = errors.New("truncated frame length prefix")
	// ErrFrameTooLarge is returned when a declared payload exceeds the limit.
	ErrFrameTooLarge = errors.New("frame exceeds maximum payload size")
)

// WriteFrame writes a 4-byte big-endian length prefix followed by the payload.
// Payloads are byte-agnostic; an empty payload produces a bare zero prefix.
func WriteFrame(w io.Writer, payload []byte) error {
	var prefix [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one full frame, looping until the declared payload length
// has arrived. A short read is not an error; only a peer close mid-payload is,
// reported as ErrConnectionClosed. maxBytes <= 0 falls back to
// DefaultMaxFrameBytes.
func ReadFrame(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}

	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrConnectionClosed
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncatedFrame
		}
		return nil, fmt.Errorf("read frame length: %w", err)
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if int64(length) > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes declared, limit %d", ErrFrameTooLarge, length, maxBytes)
	}
	if length == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, length)
	n, err := io.ReadFull(r, payload)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("socket closed %d bytes into a %d-byte frame: %w", n, length, ErrConnectionClosed)
		}
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}
