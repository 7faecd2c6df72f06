// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/paclink/pkg/bridge"
	"github.com/Thermoquad/paclink/pkg/link"
	"github.com/Thermoquad/paclink/pkg/pac"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for controlling the air conditioner",
	Long: `Run the link bridge and control the unit from an interactive terminal UI.

Features:
  - Live link phase, climate state and temperatures
  - Mode, fan, swing and vane selection from the unit's capabilities
  - Target temperature stepping or direct entry
  - Power and nanoeX toggles
  - Packet statistics and event logging

Supports both serial and WebSocket connections.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

func runControl(cmd *cobra.Command, args []string) error {
	linkCfg, err := cfg.LinkConfig()
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection(cfg.Device)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Log lines would tear the alt screen
	logger := log.New()
	logger.SetOutput(io.Discard)

	var p *tea.Program
	send := func(msg tea.Msg) {
		if p != nil {
			p.Send(msg)
		}
	}

	codec := cfg.Codec()
	b := bridge.New(conn, bridge.Options{
		Link:   linkCfg,
		Codec:  codec,
		Limits: cfg.Climate,
		Logger: logger,
		OnLink: func(st link.Status) { send(linkMsg(st)) },
		OnPacket: func(pkt *pac.Packet, anomalies []pac.ValidationError) {
			if len(anomalies) > 0 {
				send(packetMsg{packet: pkt, anomalies: anomalies})
			}
		},
	})

	p = tea.NewProgram(initialControlModel(b, connInfo, codec.Variant()), tea.WithAltScreen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		err := b.Run(ctx)
		if ctx.Err() == nil {
			send(bridgeStoppedMsg{err: err})
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}
