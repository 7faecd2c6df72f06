// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/paclink/pkg/capture"
	"github.com/Thermoquad/paclink/pkg/pac"
)

var (
	rawLogRecord string
	rawLogHex    bool
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw packet log in human-readable format",
	Long: `Continuously decode and display link packets as they arrive.

Nothing is sent to the unit; this is a passive listener, useful on a tap
between the unit and an existing adapter. Each packet is shown with its
timestamp, type, opcode and decoded fields.

Use --record to also save every frame to a capture file for later replay.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().StringVar(&rawLogRecord, "record", "", "Save frames to a capture file")
	rawLogCmd.Flags().BoolVar(&rawLogHex, "hex", false, "Also print the raw frame bytes")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cfg.Device)
	if err != nil {
		return err
	}
	defer conn.Close()

	var rec *capture.Writer
	if rawLogRecord != "" {
		rec, err = capture.Create(rawLogRecord)
		if err != nil {
			return err
		}
		defer rec.Close()
	}

	fmt.Printf("Paclink - Raw Packet Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	codec := cfg.Codec()
	err = readFrames(ctx, conn, cfg.Link.ReadTimeout, func(at time.Time, ev pac.FrameEvent) error {
		if ev.Kind == pac.FrameOverflow {
			fmt.Printf("[ERROR] receive buffer overflow\n")
			return nil
		}
		if rec != nil {
			if err := rec.Write(at, capture.RX, ev.Frame); err != nil {
				return err
			}
		}
		if rawLogHex {
			fmt.Println(pac.FormatHex(ev.Frame, false))
		}

		packet, err := codec.DecodeAt(ev.Frame, at)
		if err != nil {
			fmt.Printf("[ERROR] %v\n", err)
			return nil
		}
		fmt.Print(codec.FormatPacket(packet))
		return nil
	})

	// A closed WebSocket ends the log normally
	if errors.Is(err, ErrConnectionClosed) {
		log.Info("Connection closed")
		return nil
	}
	return err
}
