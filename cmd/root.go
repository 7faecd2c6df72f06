// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/paclink/pkg/config"
)

// Version of the paclink CLI
const Version = "1.0.0"

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	variantName string
	configPath  string
	verbose     bool

	// cfg is the effective configuration: file, then flags
	cfg = config.Default()
)

var rootCmd = &cobra.Command{
	Use:   "paclink",
	Short: "Panasonic AC serial link bridge",
	Long: `Paclink - talks to Panasonic air conditioners over the CN-CNT / CN-WLAN
serial connector.

Runs the link protocol (handshake, polling, control), exposes the unit over
HTTP, MQTT and Prometheus, and provides tools for logging and analyzing the
raw serial traffic.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 9600]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the PACLINK_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Settings can also be loaded from a YAML or TOML file with --config. Flags
given on the command line override the file.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 9600, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVar(&variantName, "variant", "DNSKP11", "Adapter variant (DNSKP11 or CZTACG1)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// loadConfig builds cfg from the config file and the flags that were set
func loadConfig(cmd *cobra.Command, args []string) error {
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Device.Port = portName
	}
	if flags.Changed("baud") || cfg.Device.Baud == 0 {
		cfg.Device.Baud = baudRate
	}
	if flags.Changed("url") {
		cfg.Device.URL = wsURL
	}
	if flags.Changed("username") {
		cfg.Device.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		cfg.Device.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("variant") {
		cfg.Device.Variant = variantName
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return setupLogging(cfg.Log.Level)
}

func setupLogging(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(lvl)
	if lvl >= log.DebugLevel {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
