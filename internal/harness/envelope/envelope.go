// Package envelope defines the wire format carried through the broker during
// a harness run: an 8-byte big-endian sequence identifier followed by the raw
// payload bytes. The identifier is what the consumer side deduplicates on.
package envelope

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed identifier prefix length in bytes.
const HeaderSize = 8

// Envelope is one unit of generated traffic.
type Envelope struct {
	ID      uint64
	Payload []byte
}

// Encode renders the envelope into its wire form.
func (e Envelope) Encode() []byte {
	buf := make([]byte, HeaderSize+len(e.Payload))
	binary.BigEndian.PutUint64(buf, e.ID)
	copy(buf[HeaderSize:], e.Payload)
	return buf
}

// Decode parses a wire buffer back into an envelope. The payload slice
// aliases data; callers that retain it past the delivery must copy.
func Decode(data []byte) (Envelope, error) {
	if len(data) < HeaderSize {
		return Envelope{}, fmt.Errorf("envelope too short: %d bytes, need at least %d", len(data), HeaderSize)
	}
	return Envelope{
		ID:      binary.BigEndian.Uint64(data),
		Payload: data[HeaderSize:],
	}, nil
}
