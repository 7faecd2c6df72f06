// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pac

import "fmt"

// AnomalyType represents different types of packet anomalies
type AnomalyType int

const (
	AnomalyUnknownType AnomalyType = iota
	AnomalyUnknownOpcode
	AnomalyLengthMismatch
	AnomalyInvalidTemp
	AnomalyInvalidSwing
	AnomalyInvalidValue
)

// String returns the anomaly type name
func (a AnomalyType) String() string {
	switch a {
	case AnomalyUnknownType:
		return "unknown_type"
	case AnomalyUnknownOpcode:
		return "unknown_opcode"
	case AnomalyLengthMismatch:
		return "length_mismatch"
	case AnomalyInvalidTemp:
		return "invalid_temp"
	case AnomalyInvalidSwing:
		return "invalid_swing"
	case AnomalyInvalidValue:
		return "invalid_value"
	}
	return "unknown"
}

// ValidationError represents a packet content anomaly.
// Anomalies never reject a packet; they suppress single field updates.
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidatePacket checks packet content and detects anomalies.
// Returns a slice of validation errors (empty if the packet is clean).
func (c *Codec) ValidatePacket(p *Packet) []ValidationError {
	errors := []ValidationError{}

	switch CommandType(p.RawType()) {
	case Normal, Response, Resend:
	default:
		errors = append(errors, ValidationError{
			Type:    AnomalyUnknownType,
			Message: fmt.Sprintf("Unknown command type 0x%02X (treated as NORMAL)", p.RawType()),
			Details: map[string]interface{}{"type": p.RawType()},
		})
	}

	// Empty payloads are plain acknowledgements
	if len(p.Payload()) == 0 {
		return errors
	}

	switch p.Opcode() {
	case OpHandshake, OpStatusQuery:
	case OpStatus:
		errors = append(errors, c.validateStatus(p)...)
	case OpControl:
		errors = append(errors, c.validateFieldsPresent(p, "CONTROL")...)
	default:
		errors = append(errors, ValidationError{
			Type:    AnomalyUnknownOpcode,
			Message: fmt.Sprintf("Unknown opcode 0x%02X", p.Opcode()),
			Details: map[string]interface{}{"opcode": p.Opcode()},
		})
	}

	return errors
}

func (c *Codec) validateFieldsPresent(p *Packet, name string) []ValidationError {
	if _, ok := p.Fields(); ok {
		return nil
	}
	size := c.layout.Size()
	return []ValidationError{{
		Type:    AnomalyLengthMismatch,
		Message: fmt.Sprintf("%s payload too short (expected %d bytes)", name, size),
		Details: map[string]interface{}{"length": len(p.Payload()), "expected": size},
	}}
}

// validateStatus validates a STATUS report
func (c *Codec) validateStatus(p *Packet) []ValidationError {
	errors := c.validateFieldsPresent(p, "STATUS")
	f, ok := p.Fields()
	if !ok {
		return errors
	}

	if TargetFromCode(f.TargetCode) >= TemperatureThreshold {
		errors = append(errors, invalidTemp("target", TargetFromCode(f.TargetCode)))
	}
	if f.Current >= TemperatureThreshold {
		errors = append(errors, invalidTemp("current", float64(f.Current)))
	}
	if f.Outside >= TemperatureThreshold {
		errors = append(errors, invalidTemp("outside", float64(f.Outside)))
	}

	if f.Mode > ModeCodeFan {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("Invalid mode code=0x%02X", f.Mode),
			Details: map[string]interface{}{"mode": f.Mode},
		})
	}
	if f.Fan > FanCodeHighest {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("Invalid fan code=0x%02X", f.Fan),
			Details: map[string]interface{}{"fan": f.Fan},
		})
	}

	if _, ok := c.swing.Vertical(f.VerticalSwing); !ok {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidSwing,
			Message: fmt.Sprintf("Unknown vertical swing code=0x%02X for %s", f.VerticalSwing, c.variant),
			Details: map[string]interface{}{"vertical_swing": f.VerticalSwing},
		})
	}
	if _, ok := c.swing.Horizontal(f.HorizontalSwing); !ok {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidSwing,
			Message: fmt.Sprintf("Unknown horizontal swing code=0x%02X for %s", f.HorizontalSwing, c.variant),
			Details: map[string]interface{}{"horizontal_swing": f.HorizontalSwing},
		})
	}

	return errors
}

func invalidTemp(field string, value float64) ValidationError {
	return ValidationError{
		Type:    AnomalyInvalidTemp,
		Message: fmt.Sprintf("%s temperature out of range (%.1f°C, threshold %d°C)", field, value, TemperatureThreshold),
		Details: map[string]interface{}{"field": field, "value": value, "threshold": TemperatureThreshold},
	}
}
