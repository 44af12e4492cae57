// Package wire implements the on-the-wire codec for the transfer protocol's
// fixed 4-byte header: two big-endian 16-bit integers (type, sequence or
// acknowledgement number) followed by up to MaxPayload bytes of payload.
package wire

import "github.com/pkg/errors"

// Type is the packet type tag carried in the first header field.
type Type uint16

// Named packet types. Values above FIN up to maxType are reserved but still
// round-trip through Encode/Decode.
const (
	DATA Type = 0
	ACK  Type = 1
	SYN  Type = 2
	FIN  Type = 3

	maxType Type = 4
)

func (t Type) String() string {
	switch t {
	case DATA:
		return "DATA"
	case ACK:
		return "ACK"
	case SYN:
		return "SYN"
	case FIN:
		return "FIN"
	default:
		return "UNKNOWN"
	}
}

const (
	// HeaderLen is the fixed header size: two u16 fields.
	HeaderLen = 4
	// MaxPayload is the largest DATA payload a single packet may carry.
	MaxPayload = 1000
	// MaxDatagram is the largest encoded packet, header included.
	MaxDatagram = HeaderLen + MaxPayload
)

// ErrMalformed reports a datagram shorter than the fixed header. The
// substrate is trusted loopback, so callers may choose to drop such
// packets silently instead of treating this as fatal.
var ErrMalformed = errors.New("wire: malformed packet")

// Packet is the decoded form of a datagram.
type Packet struct {
	Type    Type
	Seq     uint16
	Payload []byte
}

// Encode serialises a packet. t is clamped to [0, maxType] and seq is taken
// modulo 2^16 (the seq bound already holds by virtue of its Go type; the
// clamp matters for callers constructing a Type from a raw integer).
func Encode(t Type, seq uint16, payload []byte) []byte {
	if t > maxType {
		t = maxType
	}
	buf := make([]byte, HeaderLen+len(payload))
	buf[0] = byte(t >> 8)
	buf[1] = byte(t)
	buf[2] = byte(seq >> 8)
	buf[3] = byte(seq)
	copy(buf[HeaderLen:], payload)
	return buf
}

// Decode parses a datagram produced by Encode. The returned Payload aliases
// b; callers that retain it across the next receive must copy it.
func Decode(b []byte) (Packet, error) {
	if len(b) < HeaderLen {
		return Packet{}, errors.Wrapf(ErrMalformed, "got %d bytes, need at least %d", len(b), HeaderLen)
	}
	p := Packet{
		Type: Type(uint16(b[0])<<8 | uint16(b[1])),
		Seq:  uint16(b[2])<<8 | uint16(b[3]),
	}
	if len(b) > HeaderLen {
		p.Payload = b[HeaderLen:]
	}
	return p, nil
}
