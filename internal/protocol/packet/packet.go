// Package packet encodes and decodes the exchange wire frame:
//
//	scheme_id (2B) | state_id (2B) | optional_len (2B) | optional header | payload
//
// All integers are big-endian unsigned. The payload is everything after the
// optional header and is never length-prefixed.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	HeaderLen         = 6
	MaxOptionalLength = math.MaxUint16
)

var (
	ErrCannotExtract    = errors.New("packet: cannot extract packet")
	ErrOptionalTooLarge = errors.New("packet: optional header too large")
	ErrStateNotInGroup  = errors.New("packet: state not in group")
)

// Packet is one decoded wire frame.
type Packet struct {
	Scheme   uint16
	State    uint16
	Optional []byte
	Payload  []byte
}

// New returns a packet with empty optional header and payload.
func New(scheme, state uint16) *Packet {
	return &Packet{Scheme: scheme, State: state}
}

func (p *Packet) AppendOptional(v []byte) {
	p.Optional = append(p.Optional, v...)
}

func (p *Packet) ClearOptional() {
	p.Optional = nil
}

func (p *Packet) SetPayload(data []byte) {
	p.Payload = append([]byte(nil), data...)
}

func (p *Packet) AppendPayload(data []byte) {
	p.Payload = append(p.Payload, data...)
}

// Clone returns a deep copy.
func (p *Packet) Clone() *Packet {
	if p == nil {
		return nil
	}
	return &Packet{
		Scheme:   p.Scheme,
		State:    p.State,
		Optional: append([]byte(nil), p.Optional...),
		Payload:  append([]byte(nil), p.Payload...),
	}
}

func (p *Packet) String() string {
	return fmt.Sprintf("packet{scheme=%d state=%d optional=%dB payload=%dB}", p.Scheme, p.State, len(p.Optional), len(p.Payload))
}

// Encode writes p in wire order.
func Encode(p *Packet) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil packet", ErrCannotExtract)
	}
	if len(p.Optional) > MaxOptionalLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrOptionalTooLarge, len(p.Optional))
	}
	buf := make([]byte, HeaderLen+len(p.Optional)+len(p.Payload))
	binary.BigEndian.PutUint16(buf[0:2], p.Scheme)
	binary.BigEndian.PutUint16(buf[2:4], p.State)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(p.Optional)))
	copy(buf[HeaderLen:], p.Optional)
	copy(buf[HeaderLen+len(p.Optional):], p.Payload)
	return buf, nil
}

// MustEncode is Encode for packets known to be well formed.
func MustEncode(p *Packet) []byte {
	b, err := Encode(p)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode parses one frame. Every failure wraps ErrCannotExtract. An empty
// optional header or payload decodes as nil, matching a packet from New.
func Decode(data []byte) (*Packet, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: scheme is not provided", ErrCannotExtract)
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: state is not provided", ErrCannotExtract)
	}
	if len(data) < HeaderLen {
		return nil, fmt.Errorf("%w: optional length is not provided", ErrCannotExtract)
	}
	optLen := int(binary.BigEndian.Uint16(data[4:6]))
	if len(data)-HeaderLen < optLen {
		return nil, fmt.Errorf("%w: optional header is %d bytes, want %d", ErrCannotExtract, len(data)-HeaderLen, optLen)
	}
	end := HeaderLen + optLen
	p := &Packet{
		Scheme: binary.BigEndian.Uint16(data[0:2]),
		State:  binary.BigEndian.Uint16(data[2:4]),
	}
	if optLen > 0 {
		p.Optional = append([]byte(nil), data[HeaderLen:end]...)
	}
	if end < len(data) {
		p.Payload = append([]byte(nil), data[end:]...)
	}
	return p, nil
}
