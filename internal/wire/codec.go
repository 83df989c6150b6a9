package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameBytes bounds the JSON payload of a single control message.
// File contents are streamed outside of frames, so the limit only guards
// against a garbled or malicious length prefix.
const DefaultMaxFrameBytes = 1 << 20

// Codec frames control messages as a 4-byte big-endian length prefix
// followed by the UTF-8 JSON payload.
type Codec struct {
	maxFrame uint32
}

// NewCodec creates a codec with the given frame limit. Zero selects
// DefaultMaxFrameBytes.
func NewCodec(maxFrame uint32) *Codec {
	if maxFrame == 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	return &Codec{maxFrame: maxFrame}
}

// WriteMessage encodes msg and writes the framed bytes to w in a single
// Write call so that a concurrent reader never observes a torn frame.
func (c *Codec) WriteMessage(w io.Writer, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %v", err)
	}

	if uint32(len(payload)) > c.maxFrame {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLarge, len(payload), c.maxFrame)
	}

	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ReadMessage reads exactly one framed message from r.
//
// A connection closed cleanly between messages yields io.EOF; a close in
// the middle of a frame yields ErrFraming. A length prefix above the
// configured maximum yields ErrFrameTooLarge and the caller is expected
// to drop the connection, since the stream can no longer be trusted.
func (c *Codec) ReadMessage(r io.Reader) (Message, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return Message{}, io.EOF
		}
		return Message{}, fmt.Errorf("%w: reading length prefix: %v", ErrFraming, err)
	}

	length := binary.BigEndian.Uint32(hdr[:])
	if length > c.maxFrame {
		return Message{}, fmt.Errorf("%w: declared %d bytes, limit %d", ErrFrameTooLarge, length, c.maxFrame)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, fmt.Errorf("%w: reading %d-byte payload: %v", ErrFraming, length, err)
	}

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return msg, nil
}

// IsProtocolError reports whether err means the connection can no longer
// be used for further framed messages.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrFraming) ||
		errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrFrameTooLarge)
}
