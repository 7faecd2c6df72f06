// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package climate

import (
	"math"

	"github.com/Thermoquad/paclink/pkg/pac"
	"github.com/sirupsen/logrus"
)

// Adapter owns the climate state of one unit. It is not safe for
// concurrent use; the link engine serializes all calls.
type Adapter struct {
	codec  *pac.Codec
	limits Limits
	log    logrus.FieldLogger

	state State

	// Last field set applied from the unit, used as the base for commands
	fields     pac.Fields
	haveFields bool
}

// NewAdapter creates an adapter. A nil logger uses the logrus standard logger.
func NewAdapter(codec *pac.Codec, limits Limits, log logrus.FieldLogger) *Adapter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	a := &Adapter{
		codec:  codec,
		limits: limits,
		log:    log,
	}
	a.fields = a.defaultFields()
	return a
}

// State returns a copy of the current state
func (a *Adapter) State() State {
	return a.state
}

// Known reports whether the unit has reported its status at least once
func (a *Adapter) Known() bool {
	return a.haveFields
}

// Limits returns the temperature limits
func (a *Adapter) Limits() Limits {
	return a.limits
}

// Apply updates the state from a status packet and reports whether
// anything changed. Packets without status fields are ignored.
func (a *Adapter) Apply(p *pac.Packet) bool {
	if !p.HasStatus() {
		return false
	}
	f, _ := p.Fields()
	prev := a.state
	s := &a.state

	if f.Mode <= pac.ModeCodeFan {
		a.fields.Mode = f.Mode
		a.fields.Power = f.Power
		s.Mode = modeFromCode(f.Power, f.Mode)
	} else {
		a.log.WithField("mode", f.Mode).Warn("Ignoring unknown mode code")
	}

	if f.Fan <= pac.FanCodeHighest {
		a.fields.Fan = f.Fan
		s.Fan = Fan(f.Fan)
	} else {
		a.log.WithField("fan", f.Fan).Warn("Ignoring unknown fan code")
	}

	if target := pac.TargetFromCode(f.TargetCode); target < float64(a.limits.Threshold) {
		a.fields.TargetCode = f.TargetCode
		s.Target = target
		s.TargetValid = true
	} else {
		a.log.WithField("target", target).Warn("Ignoring invalid target temperature")
	}

	if a.limits.Valid(f.Current) {
		s.Current = float64(f.Current)
		s.CurrentValid = true
	} else {
		a.log.WithField("current", f.Current).Debug("Ignoring invalid room temperature")
	}

	if a.limits.Valid(f.Outside) {
		s.Outside = float64(f.Outside)
		s.OutsideValid = true
	} else {
		a.log.WithField("outside", f.Outside).Debug("Ignoring invalid outside temperature")
	}

	table := a.codec.Swing()
	if label, ok := table.Vertical(f.VerticalSwing); ok {
		a.fields.VerticalSwing = f.VerticalSwing
		s.VerticalSwing = label
	} else {
		a.log.WithField("vertical_swing", f.VerticalSwing).Warn("Ignoring unknown vertical swing code")
	}
	if label, ok := table.Horizontal(f.HorizontalSwing); ok {
		a.fields.HorizontalSwing = f.HorizontalSwing
		s.HorizontalSwing = label
	} else {
		a.log.WithField("horizontal_swing", f.HorizontalSwing).Warn("Ignoring unknown horizontal swing code")
	}

	if f.NanoeX != s.NanoeX {
		a.fields.NanoeX = f.NanoeX
		s.NanoeX = f.NanoeX
	}

	s.Swing = swingModeFor(s.VerticalSwing, s.HorizontalSwing)
	s.AtTarget = s.TargetValid && s.CurrentValid &&
		math.Abs(s.Current-s.Target) <= a.limits.Tolerance
	a.haveFields = true

	return *s != prev
}

// BuildCommand creates a control packet for the intent. Fields the intent
// leaves unset keep the last values reported by the unit. Target requests
// are clamped and snapped, never rejected.
func (a *Adapter) BuildCommand(in Intent) *pac.Packet {
	return a.codec.NewControl(a.CommandFields(in))
}

// CommandFields resolves the field set a command for the intent carries
func (a *Adapter) CommandFields(in Intent) pac.Fields {
	f := a.fields
	table := a.codec.Swing()

	if in.Mode != nil {
		if *in.Mode == ModeOff {
			f.Power = false
		} else if code, ok := modeCode(*in.Mode); ok {
			f.Power = true
			f.Mode = code
		}
	}

	if in.Fan != nil && *in.Fan >= FanAuto && *in.Fan <= FanHighest {
		f.Fan = uint8(*in.Fan)
	}

	if in.Target != nil {
		f.TargetCode = pac.TargetCode(a.limits.Snap(*in.Target))
	}

	if in.Swing != nil {
		f.VerticalSwing, f.HorizontalSwing = a.swingCodes(*in.Swing, f)
	}
	if in.VerticalSwing != nil {
		if code, ok := table.VerticalCode(*in.VerticalSwing); ok {
			f.VerticalSwing = code
		} else {
			a.log.WithField("vertical_swing", *in.VerticalSwing).Warn("Ignoring unknown vertical swing position")
		}
	}
	if in.HorizontalSwing != nil {
		if code, ok := table.HorizontalCode(*in.HorizontalSwing); ok {
			f.HorizontalSwing = code
		} else {
			a.log.WithField("horizontal_swing", *in.HorizontalSwing).Warn("Ignoring unknown horizontal swing position")
		}
	}

	if in.NanoeX != nil {
		f.NanoeX = *in.NanoeX
	}

	return f
}

// swingCodes maps a swing mode to louver codes. Axes that stop swinging
// keep their manual position, or center if they were swinging.
func (a *Adapter) swingCodes(mode SwingMode, f pac.Fields) (uint8, uint8) {
	table := a.codec.Swing()
	vAuto, _ := table.VerticalCode(pac.SwingAuto)
	hAuto, _ := table.HorizontalCode(pac.SwingAuto)
	vCenter, _ := table.VerticalCode(pac.SwingCenter)
	hCenter, _ := table.HorizontalCode(pac.SwingCenter)

	v, h := f.VerticalSwing, f.HorizontalSwing
	if v == vAuto {
		v = vCenter
	}
	if h == hAuto {
		h = hCenter
	}

	switch mode {
	case SwingBoth:
		return vAuto, hAuto
	case SwingVertical:
		return vAuto, h
	case SwingHorizontal:
		return v, hAuto
	}
	return v, h
}

// defaultFields is the command base used before the unit reported anything
func (a *Adapter) defaultFields() pac.Fields {
	table := a.codec.Swing()
	v, _ := table.VerticalCode(pac.SwingAuto)
	h, _ := table.HorizontalCode(pac.SwingAuto)
	return pac.Fields{
		Mode:            pac.ModeCodeAuto,
		Fan:             pac.FanCodeAuto,
		TargetCode:      pac.TargetCode(a.limits.Min),
		VerticalSwing:   v,
		HorizontalSwing: h,
	}
}

// Traits reports the supported modes, fans, swing positions and
// temperature range
func (a *Adapter) Traits() Traits {
	table := a.codec.Swing()
	return Traits{
		Modes:                      []Mode{ModeOff, ModeAuto, ModeHeat, ModeDry, ModeCool, ModeFanOnly},
		Fans:                       []Fan{FanAuto, FanLowest, FanLow, FanMedium, FanHigh, FanHighest},
		SwingModes:                 []SwingMode{SwingOff, SwingBoth, SwingVertical, SwingHorizontal},
		VerticalSwings:             table.VerticalLabels(),
		HorizontalSwings:           table.HorizontalLabels(),
		MinTemperature:             a.limits.Min,
		MaxTemperature:             a.limits.Max,
		TemperatureStep:            a.limits.Step,
		SupportsCurrentTemperature: true,
	}
}

func modeFromCode(power bool, code uint8) Mode {
	if !power {
		return ModeOff
	}
	switch code {
	case pac.ModeCodeHeat:
		return ModeHeat
	case pac.ModeCodeDry:
		return ModeDry
	case pac.ModeCodeCool:
		return ModeCool
	case pac.ModeCodeFan:
		return ModeFanOnly
	}
	return ModeAuto
}

func modeCode(m Mode) (uint8, bool) {
	switch m {
	case ModeAuto:
		return pac.ModeCodeAuto, true
	case ModeHeat:
		return pac.ModeCodeHeat, true
	case ModeDry:
		return pac.ModeCodeDry, true
	case ModeCool:
		return pac.ModeCodeCool, true
	case ModeFanOnly:
		return pac.ModeCodeFan, true
	}
	return 0, false
}

func swingModeFor(vertical, horizontal string) SwingMode {
	v := vertical == pac.SwingAuto
	h := horizontal == pac.SwingAuto
	switch {
	case v && h:
		return SwingBoth
	case v:
		return SwingVertical
	case h:
		return SwingHorizontal
	}
	return SwingOff
}
