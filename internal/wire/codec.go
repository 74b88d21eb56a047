package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// MaxFrameSize bounds a single frame's payload so a malformed or hostile
// peer cannot force an unbounded allocation from the 4-byte length header.
const MaxFrameSize = 16 << 20 // 16 MiB

// WriteEvent frames ev as [4-byte big-endian length][CBOR body] and writes
// it to w. The header and the body are two separate Write calls, so
// concurrent calls on the same w must be serialized by the caller.
func WriteEvent(w io.Writer, ev Event) error {
	body, err := cbor.Marshal(ev)
	if err != nil {
		return fmt.Errorf("wire: marshal event: %w", err)
	}

	if len(body) > MaxFrameSize {
		return fmt.Errorf("wire: encoded event exceeds max frame size (%d > %d)", len(body), MaxFrameSize)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: write frame header: %w", err)
	}

	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}

	return nil
}

// ReadEvent reads one length-prefixed CBOR frame from r and decodes it.
func ReadEvent(r io.Reader) (Event, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Event{}, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return Event{}, fmt.Errorf("wire: frame length %d exceeds max %d", length, MaxFrameSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Event{}, fmt.Errorf("wire: read frame body: %w", err)
	}

	var ev Event
	if err := cbor.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("wire: unmarshal event: %w", err)
	}

	return ev, nil
}
