// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pac

// Packet builder functions create outgoing packets ready for encoding.
// Sequence numbers are assigned by the link when the packet is sent.

// DefaultHandshake returns the handshake payloads sent during link
// initialization, in order. The unit answers each step with a Response.
func DefaultHandshake() [][]byte {
	return [][]byte{
		{OpHandshake, 0x00, 0x01, 0x01}, // announce controller
		{OpHandshake, 0x01, 0x00},       // request capabilities
		{OpHandshake, 0x02, 0x00},       // finish
	}
}

// NewHandshake creates a handshake packet from a handshake payload
func NewHandshake(payload []byte) *Packet {
	return NewPacket(Normal, payload)
}

// NewStatusQuery creates a status poll
func NewStatusQuery() *Packet {
	return NewPacket(Normal, []byte{OpStatusQuery})
}

// NewAck creates an empty Response acknowledging a packet from the unit
func NewAck(seq uint8) *Packet {
	return NewPacket(Response, nil).WithSequence(seq)
}

// NewControl creates a control command carrying the field set.
// Measured temperatures are not set by the controller.
func (c *Codec) NewControl(f Fields) *Packet {
	f.Current = TemperatureUnset
	f.Outside = TemperatureUnset
	return NewPacket(Normal, c.EncodeFields(OpControl, f))
}

// NewStatusReport creates a status report as sent by the unit.
// Used by simulators and tests.
func (c *Codec) NewStatusReport(t CommandType, f Fields) *Packet {
	return NewPacket(t, c.EncodeFields(OpStatus, f))
}
