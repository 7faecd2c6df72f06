// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/paclink/pkg/pac"
)

// Phase is the link lifecycle phase
type Phase int

// Link phases
const (
	PhaseBooting Phase = iota
	PhaseInitializing
	PhaseAwaitingFirstPoll
	PhaseReady
	PhaseFailed
)

// String returns the phase name
func (p Phase) String() string {
	switch p {
	case PhaseBooting:
		return "booting"
	case PhaseInitializing:
		return "initializing"
	case PhaseAwaitingFirstPoll:
		return "awaiting_first_poll"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *Phase) UnmarshalText(text []byte) error {
	for _, candidate := range []Phase{PhaseBooting, PhaseInitializing, PhaseAwaitingFirstPoll, PhaseReady, PhaseFailed} {
		if candidate.String() == string(text) {
			*p = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown link phase %q", text)
}

// Protocol timeouts reported in Status
var (
	ErrInitTimeout     = errors.New("initialization timed out")
	ErrResponseTimeout = errors.New("no response from unit")
)

// Status is the externally visible link status
type Status struct {
	Phase               Phase     `json:"phase"`
	Degraded            bool      `json:"degraded"`
	Waiting             bool      `json:"waiting_for_response"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	HandshakeStep       int       `json:"handshake_step"`
	InitAttempts        int       `json:"init_attempts"`
	LastPacketSent      time.Time `json:"last_packet_sent"`
	LastPacketReceived  time.Time `json:"last_packet_received"`
	LastError           string    `json:"last_error,omitempty"`

	Err error `json:"-"`
}

// Healthy reports whether the link is up and answering
func (s Status) Healthy() bool {
	return s.Phase != PhaseFailed && !s.Degraded
}

// session is the link bookkeeping owned by the engine
type session struct {
	phase Phase

	boot         time.Time
	lastRead     time.Time
	lastSent     time.Time
	lastReceived time.Time
	initStart    time.Time // First entry into Initializing
	attemptStart time.Time // Start of the current handshake attempt
	phaseStart   time.Time // Entry into AwaitingFirstPoll
	lastPoll     time.Time

	// Handshake progress within the current attempt
	step     int
	stepSent bool
	attempts int

	// Idle/AwaitingResponse sub-state
	waiting  bool
	resent   bool
	inflight *pac.Packet

	failures int
	degraded bool
	seq      uint8
	lastErr  error
}

func (s *session) status() Status {
	st := Status{
		Phase:               s.phase,
		Degraded:            s.degraded,
		Waiting:             s.waiting,
		ConsecutiveFailures: s.failures,
		HandshakeStep:       s.step,
		InitAttempts:        s.attempts,
		LastPacketSent:      s.lastSent,
		LastPacketReceived:  s.lastReceived,
		Err:                 s.lastErr,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// linkKey identifies status changes worth notifying about
type linkKey struct {
	phase    Phase
	degraded bool
	failures int
	step     int
}

func (s *session) key() linkKey {
	return linkKey{s.phase, s.degraded, s.failures, s.step}
}
