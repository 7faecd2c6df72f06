// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sink publishes climate state to external systems and accepts
// commands from them.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/Thermoquad/paclink/pkg/climate"
)

// MQTTConfig configures the broker connection
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Prefix   string
	QoS      byte
	Retain   bool

	ConnectRetries uint64        // Connection attempts before giving up
	PublishTimeout time.Duration // Wait for a broker acknowledgement
	QueueSize      int
}

func (c *MQTTConfig) defaults() {
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.ConnectRetries == 0 {
		c.ConnectRetries = 5
	}
}

// ErrQueueFull is returned when the publish queue cannot take more messages
var ErrQueueFull = errors.New("mqtt publish queue full")

var errPublishTimeout = errors.New("mqtt publish timed out")

type message struct {
	topic   string
	payload []byte
}

// MQTT publishes state and peripheral values to a broker. Publishing is
// queued so callers on the link loop never block on the network.
type MQTT struct {
	client mqtt.Client
	cfg    MQTTConfig
	cb     *gobreaker.CircuitBreaker
	log    logrus.FieldLogger
	queue  chan message

	mu   sync.Mutex
	subs []string
}

// DialMQTT connects to the broker, retrying with exponential backoff
func DialMQTT(cfg MQTTConfig, log logrus.FieldLogger) (*MQTT, error) {
	cfg.defaults()
	if log == nil {
		log = logrus.StandardLogger()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetWill(cfg.Prefix+"/availability", "offline", cfg.QoS, true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("mqtt connection lost")
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	m := NewMQTT(mqtt.NewClient(opts), cfg, log)
	if err := m.connect(backoff.WithMaxRetries(bo, cfg.ConnectRetries)); err != nil {
		return nil, err
	}
	return m, nil
}

// connect retries Connect on the same client, then marks the bridge online
func (m *MQTT) connect(bo backoff.BackOff) error {
	err := backoff.Retry(func() error {
		if token := m.client.Connect(); token.Wait() && token.Error() != nil {
			m.log.WithError(token.Error()).WithField("broker", m.cfg.Broker).Warn("mqtt connect failed, retrying")
			return token.Error()
		}
		return nil
	}, bo)
	if err != nil {
		return fmt.Errorf("connect to mqtt broker %s: %w", m.cfg.Broker, err)
	}

	if err := m.setAvailability("online"); err != nil {
		m.log.WithError(err).Warn("mqtt availability publish failed")
	}
	m.log.WithField("broker", m.cfg.Broker).Info("connected to mqtt broker")
	return nil
}

// setAvailability publishes the retained availability topic and waits for
// the broker
func (m *MQTT) setAvailability(status string) error {
	token := m.client.Publish(m.Topic("availability"), m.cfg.QoS, true, status)
	if !token.WaitTimeout(m.cfg.PublishTimeout) {
		return errPublishTimeout
	}
	return token.Error()
}

// NewMQTT wraps an already connected client
func NewMQTT(client mqtt.Client, cfg MQTTConfig, log logrus.FieldLogger) *MQTT {
	cfg.defaults()
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &MQTT{
		client: client,
		cfg:    cfg,
		log:    log,
		queue:  make(chan message, cfg.QueueSize),
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "mqtt-publish",
			Interval: time.Minute,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.WithFields(logrus.Fields{"breaker": name, "from": from, "to": to}).Warn("circuit breaker state changed")
			},
		}),
	}
}

// Topic returns the full topic for a key
func (m *MQTT) Topic(key string) string {
	return m.cfg.Prefix + "/" + key
}

// Run publishes queued messages until ctx is cancelled
func (m *MQTT) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.queue:
			if err := m.publish(msg); err != nil {
				m.log.WithError(err).WithField("topic", msg.topic).Warn("mqtt publish failed")
			}
		}
	}
}

func (m *MQTT) publish(msg message) error {
	_, err := m.cb.Execute(func() (interface{}, error) {
		token := m.client.Publish(msg.topic, m.cfg.QoS, m.cfg.Retain, msg.payload)
		if !token.WaitTimeout(m.cfg.PublishTimeout) {
			return nil, errPublishTimeout
		}
		return nil, token.Error()
	})
	return err
}

func (m *MQTT) enqueue(topic string, payload []byte) error {
	select {
	case m.queue <- message{topic: topic, payload: payload}:
		return nil
	default:
		m.log.WithField("topic", topic).Warn("mqtt publish queue full, dropping message")
		return ErrQueueFull
	}
}

// PublishState queues the full state as JSON on <prefix>/state
func (m *MQTT) PublishState(s climate.State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return m.enqueue(m.Topic("state"), data)
}

// PublishNumber implements climate.NumberSink
func (m *MQTT) PublishNumber(key string, value float64) {
	m.enqueue(m.Topic(key), []byte(strconv.FormatFloat(value, 'f', -1, 64)))
}

// PublishText implements climate.TextSink
func (m *MQTT) PublishText(key string, value string) {
	m.enqueue(m.Topic(key), []byte(value))
}

// PublishSwitch implements climate.SwitchSink
func (m *MQTT) PublishSwitch(key string, on bool) {
	payload := "OFF"
	if on {
		payload = "ON"
	}
	m.enqueue(m.Topic(key), []byte(payload))
}

// Sinks returns the peripheral sinks backed by this publisher
func (m *MQTT) Sinks() climate.Sinks {
	return climate.Sinks{
		OutsideTemperature: m,
		VerticalSwing:      m,
		HorizontalSwing:    m,
		NanoeX:             m,
	}
}

// Subscribe delivers commands published on <prefix>/set and
// <prefix>/set/<field> to handler
func (m *MQTT) Subscribe(handler func(climate.Intent)) error {
	base := m.Topic("set")
	topics := []string{base, base + "/+"}

	for _, topic := range topics {
		token := m.client.Subscribe(topic, m.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			field := strings.TrimPrefix(strings.TrimPrefix(msg.Topic(), base), "/")
			in, err := ParseCommand(field, msg.Payload())
			if err != nil {
				m.log.WithError(err).WithField("topic", msg.Topic()).Warn("ignoring mqtt command")
				return
			}
			handler(in)
		})
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, token.Error())
		}
		m.mu.Lock()
		m.subs = append(m.subs, topic)
		m.mu.Unlock()
	}
	return nil
}

// Close unsubscribes and disconnects
func (m *MQTT) Close() {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()

	if len(subs) > 0 {
		m.client.Unsubscribe(subs...).WaitTimeout(time.Second)
	}
	if m.client.IsConnected() {
		if err := m.setAvailability("offline"); err != nil {
			m.log.WithError(err).Warn("mqtt availability publish failed")
		}
		m.client.Disconnect(250)
	}
}

// ParseCommand turns a set-topic message into an intent. An empty field
// means the payload is a JSON intent.
func ParseCommand(field string, payload []byte) (climate.Intent, error) {
	var in climate.Intent
	value := strings.TrimSpace(string(payload))

	switch field {
	case "":
		if err := json.Unmarshal(payload, &in); err != nil {
			return in, fmt.Errorf("invalid command JSON: %w", err)
		}
	case "mode":
		mode, err := climate.ParseMode(value)
		if err != nil {
			return in, err
		}
		in.Mode = &mode
	case "fan":
		fan, err := climate.ParseFan(value)
		if err != nil {
			return in, err
		}
		in.Fan = &fan
	case "target", "target_temperature":
		t, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return in, fmt.Errorf("invalid target %q: %w", value, err)
		}
		in.Target = &t
	case "swing", "swing_mode":
		sw, err := climate.ParseSwingMode(value)
		if err != nil {
			return in, err
		}
		in.Swing = &sw
	case climate.KeyVerticalSwing:
		in.VerticalSwing = &value
	case climate.KeyHorizontalSwing:
		in.HorizontalSwing = &value
	case climate.KeyNanoeX:
		on, err := parseSwitch(value)
		if err != nil {
			return in, err
		}
		in.NanoeX = &on
	default:
		return in, fmt.Errorf("unknown command field %q", field)
	}

	if in.Empty() {
		return in, fmt.Errorf("command has no fields")
	}
	return in, nil
}

func parseSwitch(v string) (bool, error) {
	switch strings.ToUpper(v) {
	case "ON", "TRUE", "1":
		return true, nil
	case "OFF", "FALSE", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid switch value %q", v)
}
