// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pac

import (
	"fmt"
	"time"
)

// DecodeErrorKind classifies frame rejections
type DecodeErrorKind int

// Decode error kinds
const (
	DecodeBadHeader DecodeErrorKind = iota
	DecodeBadChecksum
	DecodeTooShort
	DecodeBadLength
)

// String returns the decode error kind name
func (k DecodeErrorKind) String() string {
	switch k {
	case DecodeBadHeader:
		return "bad_header"
	case DecodeBadChecksum:
		return "bad_checksum"
	case DecodeTooShort:
		return "too_short"
	case DecodeBadLength:
		return "bad_length"
	}
	return "unknown"
}

// DecodeError is returned when a frame cannot be turned into a Packet
type DecodeError struct {
	Kind    DecodeErrorKind
	Message string
}

// Error implements the error interface
func (e *DecodeError) Error() string {
	return e.Message
}

// Is matches any DecodeError of the same kind, so errors.Is works against
// the sentinel values below
func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	return ok && t.Kind == e.Kind
}

// Sentinel decode errors for errors.Is
var (
	ErrBadHeader   = &DecodeError{Kind: DecodeBadHeader, Message: "bad header"}
	ErrBadChecksum = &DecodeError{Kind: DecodeBadChecksum, Message: "bad checksum"}
	ErrTooShort    = &DecodeError{Kind: DecodeTooShort, Message: "packet too short"}
	ErrBadLength   = &DecodeError{Kind: DecodeBadLength, Message: "bad length"}
)

// Codec converts between frames and packets for one device variant
type Codec struct {
	variant  Variant
	layout   Layout
	checksum ChecksumFunc
	swing    *SwingTable
}

// Option configures a Codec
type Option func(*Codec)

// WithLayout overrides the status/control field positions
func WithLayout(l Layout) Option {
	return func(c *Codec) {
		c.layout = l
	}
}

// WithChecksum overrides the checksum function
func WithChecksum(fn ChecksumFunc) Option {
	return func(c *Codec) {
		if fn != nil {
			c.checksum = fn
		}
	}
}

// NewCodec creates a codec for the given variant
func NewCodec(variant Variant, opts ...Option) *Codec {
	c := &Codec{
		variant:  variant,
		layout:   DefaultLayout(),
		checksum: Checksum,
		swing:    SwingTableFor(variant),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Variant returns the device variant
func (c *Codec) Variant() Variant {
	return c.variant
}

// Layout returns the field layout
func (c *Codec) Layout() Layout {
	return c.layout
}

// Swing returns the variant swing table
func (c *Codec) Swing() *SwingTable {
	return c.swing
}

// Decode validates a frame and returns the packet it carries, stamped
// with the wall clock
func (c *Codec) Decode(frame []byte) (*Packet, error) {
	return c.DecodeAt(frame, time.Now())
}

// DecodeAt is Decode with the receive time supplied by the caller
func (c *Codec) DecodeAt(frame []byte, at time.Time) (*Packet, error) {
	if len(frame) == 0 {
		return nil, &DecodeError{Kind: DecodeTooShort, Message: "empty frame"}
	}
	if frame[offsetHeader] != Header {
		return nil, &DecodeError{
			Kind:    DecodeBadHeader,
			Message: fmt.Sprintf("bad header: expected 0x%02X, got 0x%02X", Header, frame[offsetHeader]),
		}
	}
	if len(frame) < Overhead {
		return nil, &DecodeError{
			Kind:    DecodeTooShort,
			Message: fmt.Sprintf("packet too short: %d bytes (min %d)", len(frame), Overhead),
		}
	}

	want := Overhead + int(frame[offsetLength])
	if len(frame) < want {
		return nil, &DecodeError{
			Kind:    DecodeTooShort,
			Message: fmt.Sprintf("packet too short: %d bytes (declared %d)", len(frame), want),
		}
	}
	if len(frame) > want {
		return nil, &DecodeError{
			Kind:    DecodeBadLength,
			Message: fmt.Sprintf("length mismatch: %d bytes (declared %d)", len(frame), want),
		}
	}

	sum := frame[len(frame)-1]
	if calc := c.checksum(frame[:len(frame)-1]); calc != sum {
		return nil, &DecodeError{
			Kind:    DecodeBadChecksum,
			Message: fmt.Sprintf("checksum mismatch: expected 0x%02X, got 0x%02X", calc, sum),
		}
	}

	payload := make([]byte, frame[offsetLength])
	copy(payload, frame[HeaderSize:len(frame)-1])

	p := &Packet{
		seq:       frame[offsetSeq],
		cmdType:   classifyType(frame[offsetType]),
		rawType:   frame[offsetType],
		payload:   payload,
		checksum:  sum,
		timestamp: at,
	}

	switch p.Opcode() {
	case OpStatus, OpControl:
		if f, ok := c.parseFields(payload); ok {
			p.fields = &f
		}
	}

	return p, nil
}

// classifyType maps the type byte; unknown values are treated as Normal
// (ValidatePacket reports them)
func classifyType(b byte) CommandType {
	switch CommandType(b) {
	case Response:
		return Response
	case Resend:
		return Resend
	}
	return Normal
}

func (c *Codec) parseFields(payload []byte) (Fields, bool) {
	l := c.layout
	if len(payload) < l.Size() {
		return Fields{}, false
	}
	return Fields{
		Power:           payload[l.Power] != 0,
		Mode:            payload[l.Mode],
		Fan:             payload[l.Fan],
		TargetCode:      payload[l.Target],
		Current:         int8(payload[l.Current]),
		Outside:         int8(payload[l.Outside]),
		VerticalSwing:   payload[l.VerticalSwing],
		HorizontalSwing: payload[l.HorizontalSwing],
		NanoeX:          payload[l.Flags]&FlagNanoeX != 0,
	}, true
}

// Encode builds the wire frame for a packet. Encoding is pure.
func (c *Codec) Encode(p *Packet) ([]byte, error) {
	if len(p.payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d bytes (max %d)", len(p.payload), MaxPayloadSize)
	}

	frame := make([]byte, 0, Overhead+len(p.payload))
	frame = append(frame, Header, p.seq, p.rawType, uint8(len(p.payload)))
	frame = append(frame, p.payload...)
	frame = append(frame, c.checksum(frame))

	return frame, nil
}

// MustEncode encodes a packet and panics on error.
// Only use with packets built by this package.
func (c *Codec) MustEncode(p *Packet) []byte {
	frame, err := c.Encode(p)
	if err != nil {
		panic(fmt.Sprintf("pac: encode error: %v", err))
	}
	return frame
}

// EncodeFields builds a payload with the given opcode and field set laid
// out per the codec layout
func (c *Codec) EncodeFields(opcode uint8, f Fields) []byte {
	l := c.layout
	payload := make([]byte, l.Size())
	payload[0] = opcode
	if f.Power {
		payload[l.Power] = 0x01
	}
	payload[l.Mode] = f.Mode
	payload[l.Fan] = f.Fan
	payload[l.Target] = f.TargetCode
	payload[l.Current] = byte(f.Current)
	payload[l.Outside] = byte(f.Outside)
	payload[l.VerticalSwing] = f.VerticalSwing
	payload[l.HorizontalSwing] = f.HorizontalSwing
	if f.NanoeX {
		payload[l.Flags] |= FlagNanoeX
	}
	return payload
}
