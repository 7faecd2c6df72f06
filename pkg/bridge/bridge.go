// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge drives a link engine over a live transport.
//
// The engine itself is single threaded. Run owns it: a reader goroutine
// hands received bytes to the loop, a ticker runs the timers, and intents
// from other goroutines arrive on a channel. Readers get copies of the
// latest state through the accessors.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/paclink/pkg/capture"
	"github.com/Thermoquad/paclink/pkg/climate"
	"github.com/Thermoquad/paclink/pkg/link"
	"github.com/Thermoquad/paclink/pkg/pac"
)

// DefaultTickInterval is how often the link timers run without traffic
const DefaultTickInterval = 10 * time.Millisecond

// ErrStopped is returned by Submit once Run has returned
var ErrStopped = errors.New("bridge stopped")

// Options configures a bridge
type Options struct {
	Link   link.Config // zero value uses link.DefaultConfig
	Codec  *pac.Codec
	Limits climate.Limits
	Logger logrus.FieldLogger
	Sinks  climate.Sinks

	// Capture records every frame when set
	Capture *capture.Writer

	// RestartBackoff spaces restarts after the link fails. Nil uses an
	// exponential backoff capped at one minute.
	RestartBackoff backoff.BackOff

	TickInterval time.Duration

	OnState  func(climate.State)
	OnLink   func(link.Status)
	OnPacket func(p *pac.Packet, anomalies []pac.ValidationError)
	OnFrame  func(frame []byte, outgoing bool)
}

// Bridge runs the link protocol on a transport
type Bridge struct {
	conn    io.ReadWriter
	engine  *link.Engine
	log     logrus.FieldLogger
	opts    Options
	backoff backoff.BackOff
	intents chan climate.Intent
	done    chan struct{}

	mu     sync.RWMutex
	state  climate.State
	status link.Status
	stats  pac.Statistics
	traits climate.Traits

	restartAt time.Time
}

// New creates a bridge over conn. Nothing is sent until Run is called.
func New(conn io.ReadWriter, opts Options) *Bridge {
	if opts.Codec == nil {
		opts.Codec = pac.NewCodec(pac.VariantDNSKP11)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Limits == (climate.Limits{}) {
		opts.Limits = climate.DefaultLimits()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Link.IsZero() {
		opts.Link = link.DefaultConfig()
	} else if err := opts.Link.Validate(); err != nil {
		opts.Logger.WithError(err).Warn("Invalid link configuration")
	}
	bo := opts.RestartBackoff
	if bo == nil {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 5 * time.Second
		eb.MaxInterval = time.Minute
		eb.MaxElapsedTime = 0
		bo = eb
	}

	b := &Bridge{
		conn:    conn,
		log:     opts.Logger,
		opts:    opts,
		backoff: bo,
		intents: make(chan climate.Intent, 16),
		done:    make(chan struct{}),
	}

	b.engine = link.New(opts.Link, opts.Codec, conn,
		link.WithLogger(opts.Logger),
		link.WithLimits(opts.Limits),
		link.WithSinks(opts.Sinks),
		link.OnStatus(b.onState),
		link.OnLink(b.onLink),
		link.OnFrame(b.onFrame),
		link.OnPacket(opts.OnPacket),
	)
	b.refresh()
	b.mu.Lock()
	b.traits = b.engine.Traits()
	b.mu.Unlock()
	return b
}

// Run drives the link until ctx is cancelled or the transport fails. It
// returns nil on cancellation.
func (b *Bridge) Run(ctx context.Context) error {
	defer close(b.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rx := make(chan []byte, 16)
	readErr := make(chan error, 1)
	go b.read(ctx, rx, readErr)

	ticker := time.NewTicker(b.opts.TickInterval)
	defer ticker.Stop()

	b.log.WithField("variant", b.opts.Codec.Variant()).Info("Bridge started")

	for {
		var data []byte
		select {
		case <-ctx.Done():
			b.log.Info("Bridge stopped")
			return nil
		case err := <-readErr:
			return fmt.Errorf("read transport: %w", err)
		case in := <-b.intents:
			b.engine.Control(in)
		case data = <-rx:
		case <-ticker.C:
		}

		if err := b.engine.Step(data); err != nil {
			return fmt.Errorf("link: %w", err)
		}
		b.superviseRestart()
		b.refresh()
	}
}

func (b *Bridge) read(ctx context.Context, rx chan<- []byte, errc chan<- error) {
	buf := make([]byte, pac.BufferSize)
	for {
		n, err := b.conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case rx <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			select {
			case errc <- err:
			case <-ctx.Done():
			}
			return
		}
	}
}

// superviseRestart schedules a restart with backoff once the link fails
func (b *Bridge) superviseRestart() {
	st := b.engine.Status()
	switch st.Phase {
	case link.PhaseReady:
		if !b.restartAt.IsZero() {
			b.restartAt = time.Time{}
		}
		b.backoff.Reset()
	case link.PhaseFailed:
		now := time.Now()
		if b.restartAt.IsZero() {
			wait := b.backoff.NextBackOff()
			if wait == backoff.Stop {
				return
			}
			b.restartAt = now.Add(wait)
			b.log.WithFields(logrus.Fields{"error": st.LastError, "retry_in": wait}).Warn("Link failed")
			return
		}
		if !now.Before(b.restartAt) {
			b.restartAt = time.Time{}
			b.engine.Restart()
		}
	}
}

func (b *Bridge) refresh() {
	state := b.engine.Snapshot()
	status := b.engine.Status()
	stats := b.engine.Stats()

	b.mu.Lock()
	b.state = state
	b.status = status
	b.stats = stats
	b.mu.Unlock()
}

func (b *Bridge) onState(s climate.State) {
	if b.opts.OnState != nil {
		b.opts.OnState(s)
	}
}

func (b *Bridge) onLink(st link.Status) {
	b.log.WithFields(logrus.Fields{
		"phase":    st.Phase,
		"degraded": st.Degraded,
		"failures": st.ConsecutiveFailures,
	}).Debug("Link status changed")
	if b.opts.OnLink != nil {
		b.opts.OnLink(st)
	}
}

func (b *Bridge) onFrame(frame []byte, outgoing bool) {
	if b.opts.Capture != nil {
		if err := b.opts.Capture.Frame(time.Now(), frame, outgoing); err != nil {
			b.log.WithError(err).Warn("capture write failed")
		}
	}
	if b.opts.OnFrame != nil {
		b.opts.OnFrame(frame, outgoing)
	}
}

// Submit queues a control intent for the link
func (b *Bridge) Submit(ctx context.Context, in climate.Intent) error {
	if in.Empty() {
		return nil
	}
	// The buffered send below would still succeed once Run is gone
	select {
	case <-b.done:
		return ErrStopped
	default:
	}
	select {
	case b.intents <- in:
		return nil
	case <-b.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the latest climate state
func (b *Bridge) Snapshot() climate.State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Status returns the latest link status
func (b *Bridge) Status() link.Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Stats returns the latest packet statistics
func (b *Bridge) Stats() pac.Statistics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats
}

// Traits returns the unit capabilities
func (b *Bridge) Traits() climate.Traits {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.traits
}
