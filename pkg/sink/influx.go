// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/paclink/pkg/climate"
)

// InfluxConfig configures the time series writer
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
	Device      string // Tag identifying the unit
	QueueSize   int
}

// PointWriter is the part of the InfluxDB write API used here
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

type sample struct {
	at    time.Time
	state climate.State
}

// Influx records climate state changes as points
type Influx struct {
	w           PointWriter
	close       func()
	measurement string
	device      string
	log         logrus.FieldLogger
	queue       chan sample
}

// NewInflux creates a writer backed by an InfluxDB v2 server
func NewInflux(cfg InfluxConfig, log logrus.FieldLogger) (*Influx, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx config incomplete")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	in := NewInfluxWriter(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg, log)
	in.close = client.Close
	return in, nil
}

// NewInfluxWriter creates a writer on top of an existing write API
func NewInfluxWriter(w PointWriter, cfg InfluxConfig, log logrus.FieldLogger) *Influx {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.Measurement == "" {
		cfg.Measurement = "climate"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Influx{
		w:           w,
		measurement: sanitizeMeasurement(cfg.Measurement),
		device:      cfg.Device,
		log:         log,
		queue:       make(chan sample, cfg.QueueSize),
	}
}

// Record queues a state sample. Samples are dropped when the queue is full.
func (in *Influx) Record(at time.Time, s climate.State) {
	select {
	case in.queue <- sample{at: at, state: s}:
	default:
		in.log.Warn("influx queue full, dropping sample")
	}
}

// Run writes queued samples until ctx is cancelled
func (in *Influx) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case smp := <-in.queue:
			if err := in.w.WritePoint(ctx, in.Point(smp.at, smp.state)); err != nil {
				in.log.WithError(err).Warn("influx write failed")
			}
		}
	}
}

// Point converts a state into a point. Invalid temperatures are omitted.
func (in *Influx) Point(at time.Time, s climate.State) *write.Point {
	tags := map[string]string{
		"mode": s.Mode.String(),
		"fan":  s.Fan.String(),
	}
	if in.device != "" {
		tags["device"] = in.device
	}

	fields := map[string]interface{}{
		"power":     s.Mode != climate.ModeOff,
		"at_target": s.AtTarget,
		"nanoex":    s.NanoeX,
	}
	if s.TargetValid {
		fields["target"] = s.Target
	}
	if s.CurrentValid {
		fields["current"] = s.Current
	}
	if s.OutsideValid {
		fields["outside"] = s.Outside
	}
	if s.VerticalSwing != "" {
		fields["vertical_swing"] = s.VerticalSwing
	}
	if s.HorizontalSwing != "" {
		fields["horizontal_swing"] = s.HorizontalSwing
	}

	return influxdb2.NewPoint(in.measurement, tags, fields, at)
}

// Close releases the client
func (in *Influx) Close() {
	if in.close != nil {
		in.close()
	}
}

func sanitizeMeasurement(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == ':', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
