// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pac

// Layout holds the payload byte positions of the status/control field set.
// Offsets index into the payload, where byte 0 is the opcode.
//
// The positions are derived from protocol captures; a unit with a different
// firmware layout can be supported by passing a custom Layout to NewCodec.
type Layout struct {
	Power           int `yaml:"power" toml:"power"`
	Mode            int `yaml:"mode" toml:"mode"`
	Fan             int `yaml:"fan" toml:"fan"`
	Target          int `yaml:"target" toml:"target"`
	Current         int `yaml:"current" toml:"current"`
	Outside         int `yaml:"outside" toml:"outside"`
	VerticalSwing   int `yaml:"vertical_swing" toml:"vertical_swing"`
	HorizontalSwing int `yaml:"horizontal_swing" toml:"horizontal_swing"`
	Flags           int `yaml:"flags" toml:"flags"`
}

// DefaultLayout returns the field positions used by both supported variants
func DefaultLayout() Layout {
	return Layout{
		Power:           1,
		Mode:            2,
		Fan:             3,
		Target:          4,
		Current:         5,
		Outside:         6,
		VerticalSwing:   7,
		HorizontalSwing: 8,
		Flags:           9,
	}
}

func (l Layout) offsets() []int {
	return []int{l.Power, l.Mode, l.Fan, l.Target, l.Current, l.Outside, l.VerticalSwing, l.HorizontalSwing, l.Flags}
}

// Size returns the minimum payload length that holds every field
func (l Layout) Size() int {
	size := 1 // opcode
	for _, off := range l.offsets() {
		if off+1 > size {
			size = off + 1
		}
	}
	return size
}

// Valid reports whether every offset points past the opcode and fits a frame
func (l Layout) Valid() bool {
	seen := make(map[int]bool)
	for _, off := range l.offsets() {
		if off < 1 || off >= MaxPayloadSize || seen[off] {
			return false
		}
		seen[off] = true
	}
	return true
}
