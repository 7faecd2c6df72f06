// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package simulator emulates the air conditioner side of the link.
//
// A Unit answers handshakes, status queries and control commands the way
// the indoor unit does, and can push unsolicited status reports while the
// room temperature drifts towards the target.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/paclink/pkg/pac"
)

// Counters of requests the unit has answered
type Counters struct {
	Handshakes int
	Queries    int
	Controls   int
	Acks       int // Responses received from the controller
	Errors     int // Frames that failed to decode
}

// Unit is a simulated indoor unit
type Unit struct {
	codec *pac.Codec
	log   logrus.FieldLogger

	mu       sync.Mutex
	fields   pac.Fields
	silent   bool
	counters Counters
	seq      uint8

	wmu sync.Mutex
}

// DefaultFields is the state of a unit cooling a warm room
func DefaultFields(codec *pac.Codec) pac.Fields {
	v, _ := codec.Swing().VerticalCode(pac.SwingAuto)
	h, _ := codec.Swing().HorizontalCode(pac.SwingAuto)
	return pac.Fields{
		Power:           true,
		Mode:            pac.ModeCodeCool,
		Fan:             pac.FanCodeAuto,
		TargetCode:      pac.TargetCode(24),
		Current:         27,
		Outside:         31,
		VerticalSwing:   v,
		HorizontalSwing: h,
	}
}

// NewUnit creates a unit reporting the given fields
func NewUnit(codec *pac.Codec, initial pac.Fields, log logrus.FieldLogger) *Unit {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Unit{codec: codec, fields: initial, log: log}
}

// Fields returns the current unit state
func (u *Unit) Fields() pac.Fields {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.fields
}

// Set replaces the unit state
func (u *Unit) Set(f pac.Fields) {
	u.mu.Lock()
	u.fields = f
	u.mu.Unlock()
}

// SetSilent makes the unit ignore every request
func (u *Unit) SetSilent(silent bool) {
	u.mu.Lock()
	u.silent = silent
	u.mu.Unlock()
}

// Counters returns the request counters
func (u *Unit) Counters() Counters {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counters
}

// Serve answers requests read from rw until the transport fails or ctx is
// cancelled. Closing rw is the caller's job; a read error after
// cancellation is not reported.
func (u *Unit) Serve(ctx context.Context, rw io.ReadWriter) error {
	framer := pac.NewFramer(pac.DefaultReadTimeout)
	buf := make([]byte, pac.BufferSize)

	for {
		n, err := rw.Read(buf)
		now := time.Now()
		framer.Expire(now)
		for _, b := range buf[:n] {
			if ev := framer.Feed(b, now); ev.Kind == pac.FrameComplete {
				if werr := u.respond(rw, ev.Frame); werr != nil {
					return werr
				}
			}
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

// Report pushes an unsolicited status report every interval, drifting the
// room temperature one degree towards the target each time
func (u *Unit) Report(ctx context.Context, w io.Writer, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			u.mu.Lock()
			u.drift()
			f := u.fields
			u.seq++
			seq := u.seq
			silent := u.silent
			u.mu.Unlock()

			if silent {
				continue
			}
			if err := u.write(w, u.codec.NewStatusReport(pac.Normal, f).WithSequence(seq)); err != nil {
				return err
			}
		}
	}
}

func (u *Unit) drift() {
	if !u.fields.Power {
		return
	}
	target := int8(pac.TargetFromCode(u.fields.TargetCode))
	switch {
	case u.fields.Current < target:
		u.fields.Current++
	case u.fields.Current > target:
		u.fields.Current--
	}
}

func (u *Unit) respond(w io.Writer, frame []byte) error {
	p, err := u.codec.Decode(frame)
	if err != nil {
		u.mu.Lock()
		u.counters.Errors++
		u.mu.Unlock()
		u.log.WithError(err).Debug("Simulator dropped frame")
		return nil
	}

	u.mu.Lock()
	if p.Type() == pac.Response {
		u.counters.Acks++
		u.mu.Unlock()
		return nil
	}
	if u.silent {
		u.mu.Unlock()
		return nil
	}

	var reply *pac.Packet
	switch p.Opcode() {
	case pac.OpHandshake:
		u.counters.Handshakes++
		payload := []byte{pac.OpHandshake}
		if len(p.Payload()) > 1 {
			payload = append(payload, p.Payload()[1])
		}
		reply = pac.NewPacket(pac.Response, payload)
	case pac.OpStatusQuery:
		u.counters.Queries++
		reply = u.codec.NewStatusReport(pac.Response, u.fields)
	case pac.OpControl:
		u.counters.Controls++
		if f, ok := p.Fields(); ok {
			u.control(f)
		}
		reply = u.codec.NewStatusReport(pac.Response, u.fields)
	default:
		reply = pac.NewAck(0)
	}
	u.mu.Unlock()

	u.log.WithFields(logrus.Fields{"opcode": pac.FormatOpcode(p.Opcode()), "seq": p.Sequence()}).Debug("Simulator answering")
	return u.write(w, reply.WithSequence(p.Sequence()))
}

// control applies the settable fields of a command
func (u *Unit) control(f pac.Fields) {
	u.fields.Power = f.Power
	u.fields.Mode = f.Mode
	u.fields.Fan = f.Fan
	u.fields.TargetCode = f.TargetCode
	u.fields.VerticalSwing = f.VerticalSwing
	u.fields.HorizontalSwing = f.HorizontalSwing
	u.fields.NanoeX = f.NanoeX
}

func (u *Unit) write(w io.Writer, p *pac.Packet) error {
	frame, err := u.codec.Encode(p)
	if err != nil {
		return err
	}
	u.wmu.Lock()
	defer u.wmu.Unlock()
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
