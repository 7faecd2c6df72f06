// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package climate

import "fmt"

// Peripheral update keys
const (
	KeyOutsideTemperature = "outside_temperature"
	KeyVerticalSwing      = "vertical_swing"
	KeyHorizontalSwing    = "horizontal_swing"
	KeyNanoeX             = "nanoex"
)

// UpdateKind is the value type of an Update
type UpdateKind int

// Update kinds
const (
	UpdateNumber UpdateKind = iota
	UpdateText
	UpdateSwitch
)

// Update is a single peripheral key/value change
type Update struct {
	Key    string
	Kind   UpdateKind
	Number float64
	Text   string
	On     bool
}

// Value returns the update value as an untyped value
func (u Update) Value() interface{} {
	switch u.Kind {
	case UpdateNumber:
		return u.Number
	case UpdateSwitch:
		return u.On
	}
	return u.Text
}

// String formats the update as key=value
func (u Update) String() string {
	return fmt.Sprintf("%s=%v", u.Key, u.Value())
}

// Projector emits peripheral updates only for values that changed since
// the last projection
type Projector struct {
	last map[string]Update
}

// NewProjector creates a projector that has not projected anything yet
func NewProjector() *Projector {
	return &Projector{last: make(map[string]Update)}
}

// Project returns the updates for values that differ from the last
// projected ones. Unknown values (invalid readings, no swing report) are
// not projected.
func (p *Projector) Project(s State) []Update {
	var candidates []Update
	if s.OutsideValid {
		candidates = append(candidates, Update{Key: KeyOutsideTemperature, Kind: UpdateNumber, Number: s.Outside})
	}
	if s.VerticalSwing != "" {
		candidates = append(candidates, Update{Key: KeyVerticalSwing, Kind: UpdateText, Text: s.VerticalSwing})
	}
	if s.HorizontalSwing != "" {
		candidates = append(candidates, Update{Key: KeyHorizontalSwing, Kind: UpdateText, Text: s.HorizontalSwing})
	}
	candidates = append(candidates, Update{Key: KeyNanoeX, Kind: UpdateSwitch, On: s.NanoeX})

	var updates []Update
	for _, u := range candidates {
		if prev, ok := p.last[u.Key]; ok && prev == u {
			continue
		}
		p.last[u.Key] = u
		updates = append(updates, u)
	}
	return updates
}

// Reset forgets the projected values so the next Project emits everything
func (p *Projector) Reset() {
	p.last = make(map[string]Update)
}

// NumberSink receives numeric peripheral values
type NumberSink interface {
	PublishNumber(key string, value float64)
}

// TextSink receives text peripheral values
type TextSink interface {
	PublishText(key string, value string)
}

// SwitchSink receives on/off peripheral values
type SwitchSink interface {
	PublishSwitch(key string, on bool)
}

// Sinks holds the optional peripheral handles. Nil handles are skipped.
type Sinks struct {
	OutsideTemperature NumberSink
	VerticalSwing      TextSink
	HorizontalSwing    TextSink
	NanoeX             SwitchSink
}

// Dispatch sends updates to the configured sinks
func (s Sinks) Dispatch(updates []Update) {
	for _, u := range updates {
		switch u.Key {
		case KeyOutsideTemperature:
			if s.OutsideTemperature != nil {
				s.OutsideTemperature.PublishNumber(u.Key, u.Number)
			}
		case KeyVerticalSwing:
			if s.VerticalSwing != nil {
				s.VerticalSwing.PublishText(u.Key, u.Text)
			}
		case KeyHorizontalSwing:
			if s.HorizontalSwing != nil {
				s.HorizontalSwing.PublishText(u.Key, u.Text)
			}
		case KeyNanoeX:
			if s.NanoeX != nil {
				s.NanoeX.PublishSwitch(u.Key, u.On)
			}
		}
	}
}
