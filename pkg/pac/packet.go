// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pac

import (
	"math"
	"time"
)

// Fields is the typed field set carried by status reports and control
// commands. Temperature fields hold raw device codes.
type Fields struct {
	Power           bool
	Mode            uint8
	Fan             uint8
	TargetCode      uint8 // Target temperature in half degrees
	Current         int8  // Room temperature, whole degrees
	Outside         int8  // Outside temperature, whole degrees
	VerticalSwing   uint8
	HorizontalSwing uint8
	NanoeX          bool
}

// Packet represents a validated protocol packet.
// Packets are immutable; use WithSequence/WithType to derive a copy.
type Packet struct {
	seq       uint8
	cmdType   CommandType
	rawType   uint8
	payload   []byte
	checksum  byte
	timestamp time.Time

	fields *Fields
}

// NewPacket creates an outgoing packet with the given type and payload
func NewPacket(cmdType CommandType, payload []byte) *Packet {
	p := make([]byte, len(payload))
	copy(p, payload)
	return &Packet{
		cmdType:   cmdType,
		rawType:   uint8(cmdType),
		payload:   p,
		timestamp: time.Now(),
	}
}

// WithSequence returns a copy of the packet carrying seq
func (p *Packet) WithSequence(seq uint8) *Packet {
	c := *p
	c.seq = seq
	return &c
}

// WithType returns a copy of the packet with a different command type
func (p *Packet) WithType(t CommandType) *Packet {
	c := *p
	c.cmdType = t
	c.rawType = uint8(t)
	return &c
}

// Sequence returns the packet counter byte
func (p *Packet) Sequence() uint8 {
	return p.seq
}

// Type returns the classified command type
func (p *Packet) Type() CommandType {
	return p.cmdType
}

// RawType returns the type byte exactly as received
func (p *Packet) RawType() uint8 {
	return p.rawType
}

// Opcode returns the first payload byte, or 0 for an empty payload
func (p *Packet) Opcode() uint8 {
	if len(p.payload) == 0 {
		return 0
	}
	return p.payload[0]
}

// Payload returns the raw payload bytes
func (p *Packet) Payload() []byte {
	return p.payload
}

// Length returns the payload length
func (p *Packet) Length() uint8 {
	return uint8(len(p.payload))
}

// Checksum returns the received checksum byte (0 for outgoing packets)
func (p *Packet) Checksum() byte {
	return p.checksum
}

// Timestamp returns the packet's decode or creation time
func (p *Packet) Timestamp() time.Time {
	return p.timestamp
}

// Fields returns the parsed field set, if the opcode carries one and the
// payload was long enough
func (p *Packet) Fields() (Fields, bool) {
	if p.fields == nil {
		return Fields{}, false
	}
	return *p.fields, true
}

// HasStatus reports whether the packet carries a status report
func (p *Packet) HasStatus() bool {
	return p.fields != nil && p.Opcode() == OpStatus
}

// TargetCode converts a target temperature in degrees to its device code
func TargetCode(celsius float64) uint8 {
	return uint8(math.Round(celsius * 2))
}

// TargetFromCode converts a target temperature code to degrees
func TargetFromCode(code uint8) float64 {
	return float64(code) / 2
}
