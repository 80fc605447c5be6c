// Package protocol implements the wire formats of the relay: length-prefixed
// control frames, the JSON envelope codec, the UDP media packet layouts, and
// the screen-share handshake words.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"collab-lab/domain"
	"collab-lab/errors"
)

// DefaultMaxFrameSize caps control frames at 1 MiB. Anything larger is
// treated as a malformed frame, not as backpressure.
const DefaultMaxFrameSize = 1 << 20

const lengthPrefixSize = 4

// ReadFrame reads one 4-byte big-endian length prefix and the payload that
// follows. A zero or oversized length yields ErrMalformedFrame; a cleanly
// closed connection yields io.EOF.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: reading length prefix: %v", errors.ErrConnectionLost, err)
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length == 0 || length > maxSize {
		return nil, fmt.Errorf("%w: declared length %d (max %d)", errors.ErrMalformedFrame, length, maxSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: reading %d-byte payload: %v", errors.ErrConnectionLost, length, err)
	}
	return payload, nil
}

// WriteFrame writes the length prefix and payload as a single buffer so a
// concurrent writer never interleaves half a frame.
func WriteFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, lengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:lengthPrefixSize], uint32(len(payload)))
	copy(buf[lengthPrefixSize:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrConnectionLost, err)
	}
	return nil
}

// ReadEnvelope reads one frame and decodes it as a control envelope.
func ReadEnvelope(r io.Reader, maxSize uint32) (domain.Envelope, error) {
	payload, err := ReadFrame(r, maxSize)
	if err != nil {
		return domain.Envelope{}, err
	}

	var env domain.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return domain.Envelope{}, fmt.Errorf("%w: %v", errors.ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return domain.Envelope{}, fmt.Errorf("%w: missing type", errors.ErrMalformedFrame)
	}
	return env, nil
}

// WriteEnvelope marshals and frames one control envelope.
func WriteEnvelope(w io.Writer, env domain.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	return WriteFrame(w, payload)
}
