// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/paclink/pkg/api"
	"github.com/Thermoquad/paclink/pkg/bridge"
	"github.com/Thermoquad/paclink/pkg/capture"
	"github.com/Thermoquad/paclink/pkg/climate"
	"github.com/Thermoquad/paclink/pkg/sink"
)

var (
	runListen  string
	runBroker  string
	runCapture string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the link bridge",
	Long: `Run the link protocol against the unit and keep it running.

The bridge performs the handshake, polls the unit for status and forwards
control commands. State is published to the configured outputs:

  HTTP:   --listen :8080       (/api/status, /api/control, /healthz, /metrics)
  MQTT:   --broker tcp://host:1883
  Influx: influx section of the config file

When the link fails the bridge restarts it with exponential backoff. The
command exits when the transport closes or on SIGINT/SIGTERM.`,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runListen, "listen", "", "HTTP listen address (overrides config)")
	runCmd.Flags().StringVar(&runBroker, "broker", "", "MQTT broker URL (overrides config)")
	runCmd.Flags().StringVar(&runCapture, "capture", "", "Record raw frames to this file (overrides config)")
}

func runBridge(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("listen") {
		cfg.HTTP.Listen = runListen
	}
	if cmd.Flags().Changed("broker") {
		cfg.MQTT.Broker = runBroker
	}
	if cmd.Flags().Changed("capture") {
		cfg.Capture.Path = runCapture
	}

	linkCfg, err := cfg.LinkConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, connInfo, err := OpenConnection(cfg.Device)
	if err != nil {
		return err
	}
	defer conn.Close()

	logger := log.WithField("device", cfg.Device.Variant)
	logger.WithField("connection", connInfo).Info("Connected")

	opts := bridge.Options{
		Link:   linkCfg,
		Codec:  cfg.Codec(),
		Limits: cfg.Climate,
		Logger: logger,
	}

	if cfg.Capture.Path != "" {
		w, err := capture.Create(cfg.Capture.Path)
		if err != nil {
			return err
		}
		defer w.Close()
		opts.Capture = w
		logger.WithField("path", cfg.Capture.Path).Info("Recording frames")
	}

	var wg sync.WaitGroup
	var publishers []func(climate.State)

	var mq *sink.MQTT
	if cfg.MQTT.Broker != "" {
		mq, err = sink.DialMQTT(sink.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Prefix:   cfg.MQTT.Prefix,
			QoS:      cfg.MQTT.QoS,
			Retain:   cfg.MQTT.Retain,
		}, logger)
		if err != nil {
			return err
		}
		defer mq.Close()

		opts.Sinks = mq.Sinks()
		publishers = append(publishers, func(s climate.State) {
			if err := mq.PublishState(s); err != nil {
				logger.WithError(err).Warn("MQTT state dropped")
			}
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			mq.Run(ctx)
		}()
	}

	if cfg.Influx.URL != "" {
		in, err := sink.NewInflux(sink.InfluxConfig{
			URL:         cfg.Influx.URL,
			Token:       cfg.Influx.Token,
			Org:         cfg.Influx.Org,
			Bucket:      cfg.Influx.Bucket,
			Measurement: cfg.Influx.Measurement,
			Device:      cfg.Device.Variant,
		}, logger)
		if err != nil {
			return err
		}
		defer in.Close()

		publishers = append(publishers, func(s climate.State) { in.Record(time.Now(), s) })
		wg.Add(1)
		go func() {
			defer wg.Done()
			in.Run(ctx)
		}()
	}

	opts.OnState = func(s climate.State) {
		for _, publish := range publishers {
			publish(s)
		}
	}

	b := bridge.New(conn, opts)

	if mq != nil {
		err := mq.Subscribe(func(in climate.Intent) {
			if err := b.Submit(ctx, in); err != nil {
				logger.WithError(err).Warn("MQTT command dropped")
			}
		})
		if err != nil {
			return err
		}
	}

	if cfg.HTTP.Listen != "" {
		srv := api.NewServer(b, api.VersionInfo{Version: Version, Variant: cfg.Device.Variant}, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(ctx, cfg.HTTP.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("HTTP API stopped")
				stop()
			}
		}()
	}

	runErr := b.Run(ctx)
	stop()
	wg.Wait()

	if runErr != nil {
		return fmt.Errorf("bridge: %w", runErr)
	}
	return nil
}
