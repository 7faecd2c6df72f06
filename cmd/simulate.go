// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/paclink/pkg/pac"
	"github.com/Thermoquad/paclink/pkg/simulator"
)

var (
	simReport  time.Duration
	simMode    string
	simTarget  float64
	simCurrent int
	simOutside int
	simPowered bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Act as an air conditioner on the connection",
	Long: `Emulate the indoor unit side of the link on a serial port or WebSocket.

The simulated unit answers handshakes, status queries and control commands.
With --report it also pushes unsolicited status reports while the room
temperature drifts towards the target.

Pair it with a bridge through a virtual null-modem cable, for example:

  socat -d -d pty,raw,echo=0,link=/tmp/ac pty,raw,echo=0,link=/tmp/host
  paclink simulate --port /tmp/ac
  paclink run --port /tmp/host --listen :8080`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().DurationVar(&simReport, "report", 0, "Unsolicited status report interval (0 disables)")
	simulateCmd.Flags().StringVar(&simMode, "mode", "cool", "Initial mode (auto, cool, heat, dry, fan_only)")
	simulateCmd.Flags().Float64Var(&simTarget, "target", 24, "Initial target temperature (°C)")
	simulateCmd.Flags().IntVar(&simCurrent, "current", 27, "Initial room temperature (°C)")
	simulateCmd.Flags().IntVar(&simOutside, "outside", 31, "Initial outside temperature (°C)")
	simulateCmd.Flags().BoolVar(&simPowered, "power", true, "Start powered on")
}

func simModeCode(name string) (uint8, error) {
	switch name {
	case "auto", "heat_cool":
		return pac.ModeCodeAuto, nil
	case "cool":
		return pac.ModeCodeCool, nil
	case "heat":
		return pac.ModeCodeHeat, nil
	case "dry":
		return pac.ModeCodeDry, nil
	case "fan_only", "fan":
		return pac.ModeCodeFan, nil
	}
	return 0, fmt.Errorf("unknown mode %q", name)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	mode, err := simModeCode(simMode)
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection(cfg.Device)
	if err != nil {
		return err
	}
	defer conn.Close()

	codec := cfg.Codec()
	fields := simulator.DefaultFields(codec)
	fields.Power = simPowered
	fields.Mode = mode
	fields.TargetCode = pac.TargetCode(simTarget)
	fields.Current = int8(simCurrent)
	fields.Outside = int8(simOutside)

	logger := log.WithField("role", "unit")
	unit := simulator.NewUnit(codec, fields, logger)

	fmt.Printf("Paclink - Unit Simulator\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Variant: %s\n", codec.Variant())
	fmt.Print(codec.FormatFields(fields))
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := unit.Serve(ctx, conn)
		stop()
		return err
	})
	if simReport > 0 {
		g.Go(func() error { return unit.Report(ctx, conn, simReport) })
	}
	g.Go(func() error {
		<-ctx.Done()
		// Unblocks Serve's pending read
		return conn.Close()
	})

	err = g.Wait()
	c := unit.Counters()
	logger.WithFields(log.Fields{
		"handshakes": c.Handshakes,
		"queries":    c.Queries,
		"controls":   c.Controls,
		"acks":       c.Acks,
		"errors":     c.Errors,
	}).Info("Simulator stopped")
	return err
}
