// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link drives the serial link to a Panasonic unit.
//
// The Engine is a non-blocking state machine. The host calls Step with the
// bytes received since the last call; the engine frames and decodes them,
// updates the climate state, and writes at most one packet per exchange to
// the transport. All timing comes from the injected Clock.
//
//	Booting -> Initializing -> AwaitingFirstPoll -> Ready
//	               |
//	               +-> Failed (until Restart)
package link

import (
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/paclink/pkg/climate"
	"github.com/Thermoquad/paclink/pkg/pac"
	"github.com/sirupsen/logrus"
)

// Engine runs the link protocol for one unit. It is not safe for
// concurrent use.
type Engine struct {
	cfg   Config
	clock Clock
	codec *pac.Codec
	w     io.Writer
	log   logrus.FieldLogger

	framer    *pac.Framer
	limits    climate.Limits
	adapter   *climate.Adapter
	projector *climate.Projector
	sinks     climate.Sinks
	stats     *pac.Statistics

	s          session
	pending    climate.Intent
	resyncSeen uint64
	notified   linkKey

	onStatus func(climate.State)
	onUpdate func([]climate.Update)
	onLink   func(Status)
	onFrame  func(frame []byte, outgoing bool)
	onPacket func(p *pac.Packet, anomalies []pac.ValidationError)
}

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithLogger sets the logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithLimits sets the climate temperature limits
func WithLimits(l climate.Limits) Option {
	return func(e *Engine) {
		e.limits = l
	}
}

// WithSinks sets the peripheral sinks
func WithSinks(s climate.Sinks) Option {
	return func(e *Engine) {
		e.sinks = s
	}
}

// OnStatus registers a callback for climate state changes
func OnStatus(fn func(climate.State)) Option {
	return func(e *Engine) {
		e.onStatus = fn
	}
}

// OnUpdate registers a callback for peripheral updates
func OnUpdate(fn func([]climate.Update)) Option {
	return func(e *Engine) {
		e.onUpdate = fn
	}
}

// OnLink registers a callback for link status changes
func OnLink(fn func(Status)) Option {
	return func(e *Engine) {
		e.onLink = fn
	}
}

// OnFrame registers a callback for every raw frame received or written
func OnFrame(fn func(frame []byte, outgoing bool)) Option {
	return func(e *Engine) {
		e.onFrame = fn
	}
}

// OnPacket registers a callback for every decoded packet and its anomalies
func OnPacket(fn func(p *pac.Packet, anomalies []pac.ValidationError)) Option {
	return func(e *Engine) {
		e.onPacket = fn
	}
}

// New creates an engine writing packets to w. The boot time is taken from
// the clock at construction.
func New(cfg Config, codec *pac.Codec, w io.Writer, opts ...Option) *Engine {
	if len(cfg.Handshake) == 0 {
		cfg.Handshake = pac.DefaultHandshake()
	}

	e := &Engine{
		cfg:       cfg,
		clock:     SystemClock(),
		codec:     codec,
		w:         w,
		log:       logrus.StandardLogger(),
		framer:    pac.NewFramer(cfg.ReadTimeout),
		limits:    climate.DefaultLimits(),
		projector: climate.NewProjector(),
		stats:     pac.NewStatistics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.adapter = climate.NewAdapter(codec, e.limits, e.log)

	e.s.boot = e.clock.Now()
	e.notified = e.s.key()
	return e
}

// Step processes the bytes received since the last call and runs the
// timers. It returns an error only when writing to the transport fails.
func (e *Engine) Step(rx []byte) error {
	now := e.clock.Now()

	// A stale partial frame is closed before new bytes are appended
	e.handleFrame(e.framer.Expire(now))
	if len(rx) > 0 {
		e.s.lastRead = now
	}
	for _, b := range rx {
		e.handleFrame(e.framer.Feed(b, now))
	}

	err := e.tick()
	e.notifyLink()
	return err
}

// Control queues a control intent. Intents submitted while an exchange is
// in flight or before the link is ready are coalesced.
func (e *Engine) Control(in climate.Intent) {
	if in.Empty() {
		return
	}
	e.pending = e.pending.Merge(in)
	e.log.WithField("intent", in.String()).Info("Control requested")
}

// Restart returns a failed (or any) link to Booting
func (e *Engine) Restart() {
	prev := e.s
	e.s = session{
		phase: PhaseBooting,
		boot:  e.clock.Now(),
		seq:   prev.seq,
	}
	e.framer.Reset()
	e.log.WithField("previous_phase", prev.phase).Info("Link restarting")
	e.notifyLink()
}

// Snapshot returns the current climate state
func (e *Engine) Snapshot() climate.State {
	return e.adapter.State()
}

// Status returns the current link status
func (e *Engine) Status() Status {
	return e.s.status()
}

// Stats returns a copy of the packet statistics
func (e *Engine) Stats() pac.Statistics {
	return *e.stats
}

// Traits returns the unit capabilities
func (e *Engine) Traits() climate.Traits {
	return e.adapter.Traits()
}

// Codec returns the packet codec
func (e *Engine) Codec() *pac.Codec {
	return e.codec
}

// Pending returns the intent waiting to be sent
func (e *Engine) Pending() climate.Intent {
	return e.pending
}

// ============================================================
// Receive path
// ============================================================

func (e *Engine) handleFrame(ev pac.FrameEvent) {
	if resync := e.framer.ResyncBytes(); resync != e.resyncSeen {
		e.stats.RecordResync(resync - e.resyncSeen)
		e.resyncSeen = resync
	}

	switch ev.Kind {
	case pac.FrameOverflow:
		e.stats.RecordOverflow()
		e.log.Warn("Receive buffer overflow, discarding")
		return
	case pac.FrameNone:
		return
	}

	if e.onFrame != nil {
		e.onFrame(ev.Frame, false)
	}
	e.log.Debug(pac.FormatHex(ev.Frame, false))

	p, err := e.codec.DecodeAt(ev.Frame, e.clock.Now())
	if err != nil {
		e.stats.Update(nil, err, nil)
		e.log.WithError(err).WithField("timed_out", ev.TimedOut).Warn("Discarding frame")
		return
	}

	anomalies := e.codec.ValidatePacket(p)
	e.stats.Update(p, nil, anomalies)
	for _, a := range anomalies {
		e.log.WithField("anomaly", a.Type).Warn(a.Message)
	}
	if e.onPacket != nil {
		e.onPacket(p, anomalies)
	}

	e.s.lastReceived = e.clock.Now()
	e.handlePacket(p)
}

func (e *Engine) handlePacket(p *pac.Packet) {
	switch p.Type() {
	case pac.Response:
		if e.s.waiting && p.Sequence() == e.s.inflight.Sequence() {
			e.completeExchange()
		} else {
			e.log.WithField("seq", p.Sequence()).Debug("Uncorrelated response")
		}
		e.apply(p)

	default:
		// Unsolicited Normal or Resend from the unit
		e.apply(p)
		if len(p.Payload()) > 0 {
			if err := e.write(pac.NewAck(p.Sequence()), false); err != nil {
				e.log.WithError(err).Warn("Failed to acknowledge packet")
			}
		}
	}
}

func (e *Engine) completeExchange() {
	s := &e.s
	sent := s.inflight
	s.waiting = false
	s.resent = false
	s.inflight = nil

	if s.failures > 0 || s.degraded {
		if s.degraded {
			e.log.Info("Link recovered")
		}
		s.failures = 0
		s.degraded = false
		s.lastErr = nil
	}

	if s.phase == PhaseInitializing && sent.Opcode() == pac.OpHandshake {
		s.step++
		s.stepSent = false
		if s.step >= len(e.cfg.Handshake) {
			s.phase = PhaseAwaitingFirstPoll
			s.phaseStart = e.clock.Now()
			e.log.WithField("attempt", s.attempts).Info("Handshake complete")
		}
	}
}

func (e *Engine) apply(p *pac.Packet) {
	if !e.adapter.Apply(p) {
		return
	}
	state := e.adapter.State()
	if e.onStatus != nil {
		e.onStatus(state)
	}
	if updates := e.projector.Project(state); len(updates) > 0 {
		e.sinks.Dispatch(updates)
		if e.onUpdate != nil {
			e.onUpdate(updates)
		}
	}
}

// ============================================================
// Timers and transmit path
// ============================================================

func (e *Engine) tick() error {
	now := e.clock.Now()
	s := &e.s

	if s.waiting && now.Sub(s.lastSent) >= e.cfg.ResponseTimeout {
		if err := e.responseTimeout(); err != nil {
			return err
		}
	}

	switch s.phase {
	case PhaseBooting:
		if now.Sub(s.boot) < e.cfg.InitTimeout {
			return nil
		}
		s.phase = PhaseInitializing
		s.initStart = now
		e.startAttempt(now)
		e.log.Info("Starting handshake")
		fallthrough

	case PhaseInitializing:
		if now.Sub(s.initStart) >= e.cfg.InitFailTimeout {
			e.fail()
			return nil
		}
		if now.Sub(s.attemptStart) >= e.cfg.InitEndTimeout {
			e.log.WithField("step", s.step).Warn("Handshake attempt timed out, retrying")
			e.startAttempt(now)
		}
		if s.waiting || s.stepSent {
			return nil
		}
		s.stepSent = true
		return e.send(pac.NewHandshake(e.cfg.Handshake[s.step]))

	case PhaseAwaitingFirstPoll:
		if s.waiting || now.Sub(s.phaseStart) < e.cfg.FirstPollTimeout {
			return nil
		}
		s.phase = PhaseReady
		s.lastPoll = now
		e.log.Info("Link ready")
		return e.send(pac.NewStatusQuery())

	case PhaseReady:
		if s.waiting {
			return nil
		}
		if !e.pending.Empty() {
			intent := e.pending
			e.pending = climate.Intent{}
			s.lastPoll = now
			e.log.WithField("intent", intent.String()).Debug("Sending control command")
			return e.send(e.adapter.BuildCommand(intent))
		}
		if now.Sub(s.lastPoll) >= e.cfg.PollInterval {
			s.lastPoll = now
			return e.send(pac.NewStatusQuery())
		}
	}

	return nil
}

func (e *Engine) startAttempt(now time.Time) {
	s := &e.s
	s.attemptStart = now
	s.attempts++
	s.step = 0
	s.stepSent = false
	s.waiting = false
	s.resent = false
	s.inflight = nil
}

func (e *Engine) fail() {
	s := &e.s
	s.phase = PhaseFailed
	s.waiting = false
	s.resent = false
	s.inflight = nil
	s.lastErr = fmt.Errorf("%w after %d attempts", ErrInitTimeout, s.attempts)
	e.log.WithError(s.lastErr).Error("Link initialization failed")
}

func (e *Engine) responseTimeout() error {
	s := &e.s
	if !s.resent {
		e.log.WithField("seq", s.inflight.Sequence()).Debug("Response timeout, resending")
		s.resent = true
		return e.write(s.inflight.WithType(pac.Resend), true)
	}

	s.waiting = false
	s.resent = false
	s.failures++
	s.lastErr = fmt.Errorf("%w (seq %d)", ErrResponseTimeout, s.inflight.Sequence())
	s.inflight = nil
	e.stats.RecordTimeout()
	e.log.WithError(s.lastErr).WithField("failures", s.failures).Warn("Exchange failed")

	if !s.degraded && s.failures >= e.cfg.MaxConsecutiveFailures {
		s.degraded = true
		e.log.WithField("failures", s.failures).Error("Link degraded")
	}
	return nil
}

// send starts a new exchange with the next sequence number
func (e *Engine) send(p *pac.Packet) error {
	e.s.seq++
	p = p.WithSequence(e.s.seq)
	if err := e.write(p, true); err != nil {
		return err
	}
	e.s.inflight = p
	e.s.waiting = true
	e.s.resent = false
	return nil
}

// write encodes and writes one packet in a single Write call
func (e *Engine) write(p *pac.Packet, exchange bool) error {
	frame, err := e.codec.Encode(p)
	if err != nil {
		return fmt.Errorf("encode packet: %w", err)
	}
	if _, err := e.w.Write(frame); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}

	e.stats.RecordSent(p.Type())
	if exchange {
		e.s.lastSent = e.clock.Now()
	}
	if e.onFrame != nil {
		e.onFrame(frame, true)
	}
	e.log.Debug(pac.FormatHex(frame, true))
	return nil
}

func (e *Engine) notifyLink() {
	key := e.s.key()
	if key == e.notified {
		return
	}
	e.notified = key
	if e.onLink != nil {
		e.onLink(e.s.status())
	}
}
