// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the bridge configuration from YAML or TOML files.
//
// Values missing from the file keep their defaults, so a file only needs to
// name what it changes.
package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/paclink/pkg/climate"
	"github.com/Thermoquad/paclink/pkg/link"
	"github.com/Thermoquad/paclink/pkg/pac"
)

// Config is the complete bridge configuration
type Config struct {
	Device  Device         `yaml:"device" toml:"device"`
	Link    link.Config    `yaml:"link" toml:"link"`
	Climate climate.Limits `yaml:"climate" toml:"climate"`
	Layout  pac.Layout     `yaml:"layout" toml:"layout"`

	// Handshake overrides the initialization payloads, one hex string per step
	Handshake []string `yaml:"handshake" toml:"handshake"`

	HTTP    HTTP    `yaml:"http" toml:"http"`
	MQTT    MQTT    `yaml:"mqtt" toml:"mqtt"`
	Influx  Influx  `yaml:"influx" toml:"influx"`
	Capture Capture `yaml:"capture" toml:"capture"`
	Log     Log     `yaml:"log" toml:"log"`
}

// Device selects the unit variant and how it is reached
type Device struct {
	Variant     string `yaml:"variant" toml:"variant"`
	Port        string `yaml:"port" toml:"port"`
	Baud        int    `yaml:"baud" toml:"baud"`
	URL         string `yaml:"url" toml:"url"`
	Username    string `yaml:"username" toml:"username"`
	NoSSLVerify bool   `yaml:"no_ssl_verify" toml:"no_ssl_verify"`
}

// HTTP configures the status API. An empty Listen disables it.
type HTTP struct {
	Listen string `yaml:"listen" toml:"listen"`
}

// MQTT configures the broker publisher. An empty Broker disables it.
type MQTT struct {
	Broker   string `yaml:"broker" toml:"broker"`
	ClientID string `yaml:"client_id" toml:"client_id"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
	Prefix   string `yaml:"prefix" toml:"prefix"`
	QoS      byte   `yaml:"qos" toml:"qos"`
	Retain   bool   `yaml:"retain" toml:"retain"`
}

// Influx configures the time series writer. An empty URL disables it.
type Influx struct {
	URL         string `yaml:"url" toml:"url"`
	Token       string `yaml:"token" toml:"token"`
	Org         string `yaml:"org" toml:"org"`
	Bucket      string `yaml:"bucket" toml:"bucket"`
	Measurement string `yaml:"measurement" toml:"measurement"`
}

// Capture configures raw traffic recording. An empty Path disables it.
type Capture struct {
	Path string `yaml:"path" toml:"path"`
}

// Log configures logging
type Log struct {
	Level string `yaml:"level" toml:"level"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		Device: Device{
			Variant: pac.VariantDNSKP11.String(),
			Baud:    9600,
		},
		Link:    link.DefaultConfig(),
		Climate: climate.DefaultLimits(),
		Layout:  pac.DefaultLayout(),
		MQTT: MQTT{
			ClientID: "paclink",
			Prefix:   "paclink",
			QoS:      1,
			Retain:   true,
		},
		Influx: Influx{
			Measurement: "climate",
		},
		Log: Log{Level: "info"},
	}
}

// Load reads a YAML (.yaml, .yml) or TOML (.toml) file over the defaults
func Load(path string) (Config, error) {
	cfg := Default()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".toml":
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return cfg, fmt.Errorf("parse config %s: unknown key %s", path, undecoded[0])
		}
	default:
		return cfg, fmt.Errorf("unsupported config format %q (use .yaml, .yml or .toml)", filepath.Ext(path))
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration
func (c Config) Validate() error {
	if _, err := pac.ParseVariant(c.Device.Variant); err != nil {
		return fmt.Errorf("device: %w", err)
	}
	if c.Device.Port != "" && c.Device.Baud <= 0 {
		return fmt.Errorf("device: baud must be positive, got %d", c.Device.Baud)
	}
	if c.Device.URL != "" {
		u, err := url.Parse(c.Device.URL)
		if err != nil {
			return fmt.Errorf("device: invalid url: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("device: unsupported url scheme %q (use ws:// or wss://)", u.Scheme)
		}
	}
	if !c.Layout.Valid() {
		return fmt.Errorf("layout: offsets must be distinct and within 1..%d", pac.MaxPayloadSize-1)
	}
	if err := c.Climate.Validate(); err != nil {
		return fmt.Errorf("climate: %w", err)
	}
	lc, err := c.LinkConfig()
	if err != nil {
		return err
	}
	if err := lc.Validate(); err != nil {
		return fmt.Errorf("link: %w", err)
	}
	if c.MQTT.Broker != "" {
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt: qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
		}
		if c.MQTT.Prefix == "" {
			return fmt.Errorf("mqtt: prefix is required")
		}
	}
	if c.Influx.URL != "" && (c.Influx.Org == "" || c.Influx.Bucket == "") {
		return fmt.Errorf("influx: org and bucket are required")
	}
	return nil
}

// Variant returns the configured device variant
func (c Config) Variant() pac.Variant {
	v, err := pac.ParseVariant(c.Device.Variant)
	if err != nil {
		return pac.VariantDNSKP11
	}
	return v
}

// LinkConfig returns the link timing with the handshake override applied
func (c Config) LinkConfig() (link.Config, error) {
	lc := c.Link
	if len(c.Handshake) == 0 {
		if len(lc.Handshake) == 0 {
			lc.Handshake = pac.DefaultHandshake()
		}
		return lc, nil
	}
	steps, err := ParseHandshake(c.Handshake)
	if err != nil {
		return lc, err
	}
	lc.Handshake = steps
	return lc, nil
}

// Codec builds the packet codec for the configured variant and layout
func (c Config) Codec() *pac.Codec {
	return pac.NewCodec(c.Variant(), pac.WithLayout(c.Layout))
}

// ParseHandshake decodes hex payloads such as "01 00 02"
func ParseHandshake(steps []string) ([][]byte, error) {
	out := make([][]byte, 0, len(steps))
	for i, s := range steps {
		b, err := hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
		if err != nil {
			return nil, fmt.Errorf("handshake step %d: %w", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}
