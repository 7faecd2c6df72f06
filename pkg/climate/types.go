// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package climate maps raw unit fields to a normalized climate model and
// back. The Adapter applies decoded packets to State and builds control
// packets from an Intent; the Projector turns State changes into
// peripheral updates.
package climate

import (
	"fmt"
	"math"
	"strings"
)

// Mode is the normalized operating mode
type Mode int

// Operating modes
const (
	ModeOff Mode = iota
	ModeAuto
	ModeHeat
	ModeDry
	ModeCool
	ModeFanOnly
)

var modeNames = []string{"off", "auto", "heat", "dry", "cool", "fan_only"}

// String returns the mode name
func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return "unknown"
	}
	return modeNames[m]
}

// ParseMode parses a mode name
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *Mode) UnmarshalText(text []byte) error {
	v, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Fan is the normalized fan speed
type Fan int

// Fan speeds
const (
	FanAuto Fan = iota
	FanLowest
	FanLow
	FanMedium
	FanHigh
	FanHighest
)

var fanNames = []string{"auto", "lowest", "low", "medium", "high", "highest"}

// String returns the fan speed name
func (f Fan) String() string {
	if f < 0 || int(f) >= len(fanNames) {
		return "unknown"
	}
	return fanNames[f]
}

// ParseFan parses a fan speed name
func ParseFan(s string) (Fan, error) {
	for i, name := range fanNames {
		if strings.EqualFold(s, name) {
			return Fan(i), nil
		}
	}
	return 0, fmt.Errorf("unknown fan speed %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (f Fan) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (f *Fan) UnmarshalText(text []byte) error {
	v, err := ParseFan(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// SwingMode is the swing mode derived from the two louver positions.
// An axis swings when its label is "auto".
type SwingMode int

// Swing modes
const (
	SwingOff SwingMode = iota
	SwingBoth
	SwingVertical
	SwingHorizontal
)

var swingNames = []string{"off", "both", "vertical", "horizontal"}

// String returns the swing mode name
func (s SwingMode) String() string {
	if s < 0 || int(s) >= len(swingNames) {
		return "unknown"
	}
	return swingNames[s]
}

// ParseSwingMode parses a swing mode name
func ParseSwingMode(s string) (SwingMode, error) {
	for i, name := range swingNames {
		if strings.EqualFold(s, name) {
			return SwingMode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown swing mode %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (s SwingMode) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *SwingMode) UnmarshalText(text []byte) error {
	v, err := ParseSwingMode(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Limits holds the temperature constraints of the unit
type Limits struct {
	Min       float64 `yaml:"min" toml:"min"`             // Lowest settable target
	Max       float64 `yaml:"max" toml:"max"`             // Highest settable target
	Step      float64 `yaml:"step" toml:"step"`           // Target resolution
	Tolerance float64 `yaml:"tolerance" toml:"tolerance"` // Allowed current vs target divergence
	Threshold int     `yaml:"threshold" toml:"threshold"` // Readings at or above are invalid
}

// DefaultLimits returns the limits reported by the Panasonic app
func DefaultLimits() Limits {
	return Limits{
		Min:       16,
		Max:       30,
		Step:      0.5,
		Tolerance: 2,
		Threshold: 100,
	}
}

// Validate checks the limits for consistency
func (l Limits) Validate() error {
	if l.Step <= 0 {
		return fmt.Errorf("temperature step must be positive, got %v", l.Step)
	}
	if l.Min >= l.Max {
		return fmt.Errorf("minimum temperature %v must be below maximum %v", l.Min, l.Max)
	}
	if l.Tolerance < 0 {
		return fmt.Errorf("temperature tolerance must not be negative, got %v", l.Tolerance)
	}
	if l.Threshold <= 0 || l.Threshold > 127 {
		return fmt.Errorf("temperature threshold must be in 1..127, got %d", l.Threshold)
	}
	return nil
}

// Snap clamps a requested target to [Min, Max] and rounds it to the
// nearest Step
func (l Limits) Snap(t float64) float64 {
	if math.IsNaN(t) {
		return l.Min
	}
	t = math.Max(l.Min, math.Min(l.Max, t))
	snapped := math.Round(t/l.Step) * l.Step
	if snapped > l.Max {
		snapped -= l.Step
	}
	if snapped < l.Min {
		snapped += l.Step
	}
	return snapped
}

// Valid reports whether a measured reading is plausible
func (l Limits) Valid(reading int8) bool {
	return int(reading) < l.Threshold && reading != math.MinInt8
}

// State is the normalized, externally visible climate state
type State struct {
	Mode            Mode      `json:"mode"`
	Fan             Fan       `json:"fan"`
	Target          float64   `json:"target_temperature"`
	Current         float64   `json:"current_temperature"`
	Outside         float64   `json:"outside_temperature"`
	TargetValid     bool      `json:"target_valid"`
	CurrentValid    bool      `json:"current_valid"`
	OutsideValid    bool      `json:"outside_valid"`
	VerticalSwing   string    `json:"vertical_swing"`
	HorizontalSwing string    `json:"horizontal_swing"`
	Swing           SwingMode `json:"swing_mode"`
	NanoeX          bool      `json:"nanoex"`

	// AtTarget is false when the room temperature diverges from the
	// target by more than the tolerance
	AtTarget bool `json:"at_target"`
}

// Intent is a control request. Nil fields are left unchanged.
type Intent struct {
	Mode            *Mode      `json:"mode,omitempty"`
	Fan             *Fan       `json:"fan,omitempty"`
	Target          *float64   `json:"target_temperature,omitempty"`
	Swing           *SwingMode `json:"swing_mode,omitempty"`
	VerticalSwing   *string    `json:"vertical_swing,omitempty"`
	HorizontalSwing *string    `json:"horizontal_swing,omitempty"`
	NanoeX          *bool      `json:"nanoex,omitempty"`
}

// Empty reports whether the intent requests no change
func (i Intent) Empty() bool {
	return i == Intent{}
}

// Merge returns the intent with the fields set in next overriding its own
func (i Intent) Merge(next Intent) Intent {
	if next.Mode != nil {
		i.Mode = next.Mode
	}
	if next.Fan != nil {
		i.Fan = next.Fan
	}
	if next.Target != nil {
		i.Target = next.Target
	}
	if next.Swing != nil {
		i.Swing = next.Swing
		// A swing mode replaces explicit positions requested earlier
		if next.VerticalSwing == nil {
			i.VerticalSwing = nil
		}
		if next.HorizontalSwing == nil {
			i.HorizontalSwing = nil
		}
	}
	if next.VerticalSwing != nil {
		i.VerticalSwing = next.VerticalSwing
	}
	if next.HorizontalSwing != nil {
		i.HorizontalSwing = next.HorizontalSwing
	}
	if next.NanoeX != nil {
		i.NanoeX = next.NanoeX
	}
	return i
}

// String returns a short description of the requested changes
func (i Intent) String() string {
	var parts []string
	if i.Mode != nil {
		parts = append(parts, "mode="+i.Mode.String())
	}
	if i.Fan != nil {
		parts = append(parts, "fan="+i.Fan.String())
	}
	if i.Target != nil {
		parts = append(parts, fmt.Sprintf("target=%.1f", *i.Target))
	}
	if i.Swing != nil {
		parts = append(parts, "swing="+i.Swing.String())
	}
	if i.VerticalSwing != nil {
		parts = append(parts, "vertical="+*i.VerticalSwing)
	}
	if i.HorizontalSwing != nil {
		parts = append(parts, "horizontal="+*i.HorizontalSwing)
	}
	if i.NanoeX != nil {
		parts = append(parts, fmt.Sprintf("nanoex=%t", *i.NanoeX))
	}
	if len(parts) == 0 {
		return "(none)"
	}
	return strings.Join(parts, " ")
}

// Traits describes what the unit supports
type Traits struct {
	Modes            []Mode      `json:"modes"`
	Fans             []Fan       `json:"fans"`
	SwingModes       []SwingMode `json:"swing_modes"`
	VerticalSwings   []string    `json:"vertical_swings"`
	HorizontalSwings []string    `json:"horizontal_swings"`
	MinTemperature   float64     `json:"min_temperature"`
	MaxTemperature   float64     `json:"max_temperature"`
	TemperatureStep  float64     `json:"temperature_step"`

	SupportsCurrentTemperature bool `json:"supports_current_temperature"`
}
