// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"fmt"
	"time"

	"github.com/Thermoquad/paclink/pkg/pac"
)

// Config holds the link timing. It is immutable once passed to New.
type Config struct {
	InitTimeout      time.Duration `yaml:"init_timeout" toml:"init_timeout"`             // Wait after boot before the handshake
	InitEndTimeout   time.Duration `yaml:"init_end_timeout" toml:"init_end_timeout"`     // Budget of one handshake attempt
	InitFailTimeout  time.Duration `yaml:"init_fail_timeout" toml:"init_fail_timeout"`   // Total handshake budget before Failed
	FirstPollTimeout time.Duration `yaml:"first_poll_timeout" toml:"first_poll_timeout"` // Wait after the handshake before the first poll
	ReadTimeout      time.Duration `yaml:"read_timeout" toml:"read_timeout"`             // Inactivity gap closing a partial frame
	ResponseTimeout  time.Duration `yaml:"response_timeout" toml:"response_timeout"`     // Wait for a Response before resending
	PollInterval     time.Duration `yaml:"poll_interval" toml:"poll_interval"`

	// MaxConsecutiveFailures is the number of unanswered exchanges in a
	// row after which the link is reported as degraded
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures" toml:"max_consecutive_failures"`

	// Handshake payloads sent in order during initialization
	Handshake [][]byte `yaml:"-" toml:"-"`
}

// DefaultConfig returns the timing used by the Panasonic wifi adapters
func DefaultConfig() Config {
	return Config{
		InitTimeout:            10 * time.Second,
		InitEndTimeout:         10 * time.Second,
		InitFailTimeout:        30 * time.Second,
		FirstPollTimeout:       650 * time.Millisecond,
		ReadTimeout:            pac.DefaultReadTimeout,
		ResponseTimeout:        600 * time.Millisecond,
		PollInterval:           55 * time.Second,
		MaxConsecutiveFailures: 3,
		Handshake:              pac.DefaultHandshake(),
	}
}

// IsZero reports whether no field has been set
func (c Config) IsZero() bool {
	return c.InitTimeout == 0 && c.InitEndTimeout == 0 && c.InitFailTimeout == 0 &&
		c.FirstPollTimeout == 0 && c.ReadTimeout == 0 && c.ResponseTimeout == 0 &&
		c.PollInterval == 0 && c.MaxConsecutiveFailures == 0 && len(c.Handshake) == 0
}

// Validate checks the configuration
func (c Config) Validate() error {
	durations := []struct {
		name  string
		value time.Duration
	}{
		{"init_end_timeout", c.InitEndTimeout},
		{"init_fail_timeout", c.InitFailTimeout},
		{"read_timeout", c.ReadTimeout},
		{"response_timeout", c.ResponseTimeout},
		{"poll_interval", c.PollInterval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %v", d.name, d.value)
		}
	}
	if c.InitTimeout < 0 || c.FirstPollTimeout < 0 {
		return fmt.Errorf("init_timeout and first_poll_timeout must not be negative")
	}
	if c.InitFailTimeout < c.InitEndTimeout {
		return fmt.Errorf("init_fail_timeout (%v) must not be shorter than init_end_timeout (%v)", c.InitFailTimeout, c.InitEndTimeout)
	}
	if c.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("max_consecutive_failures must be at least 1, got %d", c.MaxConsecutiveFailures)
	}
	for i, step := range c.Handshake {
		if len(step) == 0 || len(step) > pac.MaxPayloadSize {
			return fmt.Errorf("handshake step %d: payload length %d out of range", i, len(step))
		}
	}
	return nil
}

// Clock supplies the current time to the engine
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// SystemClock returns the wall clock
func SystemClock() Clock {
	return systemClock{}
}
