// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exports link and climate state to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Thermoquad/paclink/pkg/climate"
	"github.com/Thermoquad/paclink/pkg/link"
	"github.com/Thermoquad/paclink/pkg/pac"
)

const namespace = "paclink"

// Source supplies the values exported on every scrape
type Source interface {
	Stats() pac.Statistics
	Status() link.Status
	Snapshot() climate.State
}

var phases = []link.Phase{
	link.PhaseBooting,
	link.PhaseInitializing,
	link.PhaseAwaitingFirstPoll,
	link.PhaseReady,
	link.PhaseFailed,
}

var modes = []climate.Mode{
	climate.ModeOff,
	climate.ModeAuto,
	climate.ModeHeat,
	climate.ModeDry,
	climate.ModeCool,
	climate.ModeFanOnly,
}

func desc(subsystem, name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
}

// Collector reads the source on every scrape
type Collector struct {
	src Source

	frames       *prometheus.Desc
	valid        *prometheus.Desc
	decodeErrors *prometheus.Desc
	overflows    *prometheus.Desc
	resync       *prometheus.Desc
	anomalies    *prometheus.Desc
	sent         *prometheus.Desc
	resends      *prometheus.Desc
	timeouts     *prometheus.Desc

	phase    *prometheus.Desc
	degraded *prometheus.Desc
	failures *prometheus.Desc

	temperature *prometheus.Desc
	mode        *prometheus.Desc
	atTarget    *prometheus.Desc
}

// NewCollector creates a collector for src
func NewCollector(src Source) *Collector {
	return &Collector{
		src: src,

		frames:       desc("link", "frames_total", "Frames delivered by the framer."),
		valid:        desc("link", "packets_valid_total", "Frames that decoded cleanly."),
		decodeErrors: desc("link", "decode_errors_total", "Frames rejected by the decoder.", "kind"),
		overflows:    desc("link", "overflows_total", "Frames discarded for exceeding the buffer."),
		resync:       desc("link", "resync_bytes_total", "Bytes skipped while searching for a header."),
		anomalies:    desc("link", "anomalies_total", "Decoded packets with suspicious contents.", "type"),
		sent:         desc("link", "packets_sent_total", "Packets written to the unit."),
		resends:      desc("link", "resends_total", "Packets resent after a response timeout."),
		timeouts:     desc("link", "response_timeouts_total", "Exchanges abandoned without a response."),

		phase:    desc("link", "phase", "Current link phase (1 for the active phase).", "phase"),
		degraded: desc("link", "degraded", "Whether the link is degraded."),
		failures: desc("link", "consecutive_failures", "Unanswered exchanges in a row."),

		temperature: desc("climate", "temperature_celsius", "Valid temperatures reported by the unit.", "sensor"),
		mode:        desc("climate", "mode", "Current operating mode (1 for the active mode).", "mode"),
		atTarget:    desc("climate", "at_target", "Whether the room is within tolerance of the target."),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.frames, c.valid, c.decodeErrors, c.overflows, c.resync, c.anomalies,
		c.sent, c.resends, c.timeouts, c.phase, c.degraded, c.failures,
		c.temperature, c.mode, c.atTarget,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.src.Stats()
	status := c.src.Status()
	state := c.src.Snapshot()

	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	counter(c.frames, stats.TotalFrames)
	counter(c.valid, stats.ValidPackets)
	counter(c.decodeErrors, stats.BadHeaders, "bad_header")
	counter(c.decodeErrors, stats.ChecksumErrors, "checksum")
	counter(c.decodeErrors, stats.ShortPackets, "too_short")
	counter(c.decodeErrors, stats.LengthMismatches, "bad_length")
	counter(c.overflows, stats.Overflows)
	counter(c.resync, stats.ResyncBytes)
	counter(c.anomalies, stats.InvalidTemps, "invalid_temperature")
	counter(c.anomalies, stats.InvalidSwings, "invalid_swing")
	counter(c.anomalies, stats.UnknownTypes, "unknown_type")
	counter(c.sent, stats.PacketsSent)
	counter(c.resends, stats.Resends)
	counter(c.timeouts, stats.ResponseTimeouts)

	for _, p := range phases {
		gauge(c.phase, boolValue(status.Phase == p), p.String())
	}
	gauge(c.degraded, boolValue(status.Degraded))
	gauge(c.failures, float64(status.ConsecutiveFailures))

	if state.TargetValid {
		gauge(c.temperature, state.Target, "target")
	}
	if state.CurrentValid {
		gauge(c.temperature, state.Current, "current")
	}
	if state.OutsideValid {
		gauge(c.temperature, state.Outside, "outside")
	}
	for _, m := range modes {
		gauge(c.mode, boolValue(state.Mode == m), m.String())
	}
	gauge(c.atTarget, boolValue(state.AtTarget))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// HTTP request metrics, registered alongside the collector
var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// RecordHTTPRequest counts one served API request
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// NewRegistry returns a registry holding the collector for src and the HTTP
// request metrics
func NewRegistry(src Source) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(src), httpRequests, httpDuration)
	return reg
}

// Handler serves the registry in the Prometheus exposition format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
