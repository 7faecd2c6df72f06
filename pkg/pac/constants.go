// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package pac implements the Panasonic AC serial link protocol: byte
// framing, packet decoding and encoding, swing code tables, validation and
// packet statistics.
//
// Every frame on the wire has the shape
//
//	[Header][seq][type][len][payload × len][checksum]
//
// where the checksum is chosen so that all bytes of the frame sum to zero.
package pac

import (
	"fmt"
	"strings"
)

// Version of the protocol implementation
const Version = "2.0.0"

// Protocol framing
const (
	Header     = 0x5A // Every packet starts with this byte
	BufferSize = 128  // Maximum size of a single frame (receive and transmit)

	HeaderSize     = 4 // header + seq + type + len
	Overhead       = HeaderSize + 1
	MaxPayloadSize = BufferSize - Overhead
)

// Frame byte offsets
const (
	offsetHeader = 0
	offsetSeq    = 1
	offsetType   = 2
	offsetLength = 3
)

// CommandType classifies a packet within an exchange
type CommandType uint8

// Command type values as carried in the type byte
const (
	Normal   CommandType = 0x00
	Response CommandType = 0x01
	Resend   CommandType = 0x02
)

// String returns the command type name
func (c CommandType) String() string {
	switch c {
	case Normal:
		return "NORMAL"
	case Response:
		return "RESPONSE"
	case Resend:
		return "RESEND"
	}
	return "UNKNOWN"
}

// Opcodes - first payload byte
const (
	OpHandshake   = 0x01
	OpStatusQuery = 0x10
	OpStatus      = 0x11
	OpControl     = 0x20
)

// Variant selects the device-dependent field tables
type Variant int

// Supported device variants
const (
	VariantDNSKP11 Variant = iota // New module (via CN-WLAN)
	VariantCZTACG1                // Old module (via CN-CNT)
)

// String returns the variant model name
func (v Variant) String() string {
	switch v {
	case VariantDNSKP11:
		return "DNSKP11"
	case VariantCZTACG1:
		return "CZTACG1"
	}
	return "UNKNOWN"
}

// ParseVariant resolves a model name such as "dnskp11" to its variant
func ParseVariant(name string) (Variant, error) {
	for _, v := range []Variant{VariantDNSKP11, VariantCZTACG1} {
		if strings.EqualFold(name, v.String()) {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown variant %q (expected DNSKP11 or CZTACG1)", name)
}

// Raw mode codes
const (
	ModeCodeAuto = 0x00
	ModeCodeHeat = 0x01
	ModeCodeDry  = 0x02
	ModeCodeCool = 0x03
	ModeCodeFan  = 0x04
)

// Raw fan codes
const (
	FanCodeAuto    = 0x00
	FanCodeLowest  = 0x01
	FanCodeLow     = 0x02
	FanCodeMedium  = 0x03
	FanCodeHigh    = 0x04
	FanCodeHighest = 0x05
)

// Flag bits
const (
	FlagNanoeX = 0x01
)

// TemperatureThreshold is the highest temperature the unit can report
// before the value is considered invalid
const TemperatureThreshold = 100

// TemperatureUnset marks a measured temperature field the sender does not
// fill in (0x80 on the wire)
const TemperatureUnset int8 = -128
