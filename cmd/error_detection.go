// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/paclink/pkg/pac"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze malformed packets and errors",
	Long: `Track packet errors, malformed data, and anomalous values with statistics.

This command validates each frame and detects:
  - Decode failures (bad header, checksum, short frames, length mismatches)
  - Receive buffer overflows and bytes skipped while resynchronizing
  - Anomalous field values (unset temperatures, unknown swing codes, unknown types)
  - Statistics and trends (packet rate, error rate, success rate)

By default, only errors are displayed. Use --show-all to display valid packets too.

The link is only observed; nothing is sent to the unit.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all packets (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cfg.Device)
	if err != nil {
		return err
	}
	defer conn.Close()

	if useTUI {
		return runTUIMode(conn, connInfo)
	}
	return runTextMode(conn, connInfo)
}

// syncTracker suppresses errors until the first valid packet
type syncTracker struct {
	synchronized bool
	skipped      uint64
}

// observe reports whether the frame should be counted, and whether it
// completed synchronization
func (s *syncTracker) observe(valid bool) (count, synced bool) {
	if s.synchronized {
		return true, false
	}
	if !valid {
		s.skipped++
		return false, false
	}
	s.synchronized = true
	return true, true
}

// decodeFrame decodes and validates one framer event
func decodeFrame(codec *pac.Codec, at time.Time, ev pac.FrameEvent) frameMsg {
	msg := frameMsg{event: ev}
	if ev.Kind != pac.FrameComplete {
		return msg
	}
	msg.packet, msg.decodeErr = codec.DecodeAt(ev.Frame, at)
	if msg.decodeErr == nil {
		msg.validationErrors = codec.ValidatePacket(msg.packet)
	}
	return msg
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(at time.Time, err error) {
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", at.Format("15:04:05.000"), err)
	fmt.Printf("  >>> FRAME REJECTED <<<\n\n")
}

// printValidationErrors prints validation errors for a packet
func printValidationErrors(codec *pac.Codec, packet *pac.Packet, errs []pac.ValidationError) {
	timestamp := packet.Timestamp().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s %s (0x%02X)\n",
		timestamp, packet.Type(), pac.FormatOpcode(packet.Opcode()), packet.Opcode())
	fmt.Printf("  Checksum: \033[1;32mOK\033[0m\n")

	for i, err := range errs {
		switch err.Type {
		case pac.AnomalyInvalidTemp:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
			if v, ok := err.Details["value"].(float64); ok {
				fmt.Printf("    Temperature=%.1f°C\n", v)
			}

		case pac.AnomalyInvalidSwing, pac.AnomalyInvalidValue:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)

		case pac.AnomalyUnknownType, pac.AnomalyUnknownOpcode, pac.AnomalyLengthMismatch:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)

		default:
			fmt.Printf("  Issue %d: %s\n", i+1, err.Message)
		}
	}

	if f, ok := packet.Fields(); ok {
		fmt.Print(codec.FormatFields(f))
	}
	fmt.Printf("  >>> FIELDS SUPPRESSED <<<\n\n")
}

// runTUIMode runs error detection in TUI mode
func runTUIMode(conn Connection, connInfo string) error {
	codec := cfg.Codec()
	p := tea.NewProgram(initialModel(connInfo, codec, showAll))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		var tracker syncTracker
		err := readFrames(ctx, conn, cfg.Link.ReadTimeout, func(at time.Time, ev pac.FrameEvent) error {
			msg := decodeFrame(codec, at, ev)
			count, synced := tracker.observe(msg.packet != nil)
			if synced {
				p.Send(syncMsg{skippedFrames: tracker.skipped})
			}
			if count {
				p.Send(msg)
			}
			return nil
		})
		if err != nil {
			log.WithError(err).Debug("reader stopped")
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// runTextMode runs error detection in text mode
func runTextMode(conn Connection, connInfo string) error {
	fmt.Printf("Paclink - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All packets\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	codec := cfg.Codec()
	stats := pac.NewStatistics()
	var tracker syncTracker
	var mu sync.Mutex

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-statsTicker.C:
				mu.Lock()
				fmt.Println()
				fmt.Print(stats.String())
				fmt.Println()
				mu.Unlock()
			}
		}
	}()

	err := readFrames(ctx, conn, cfg.Link.ReadTimeout, func(at time.Time, ev pac.FrameEvent) error {
		mu.Lock()
		defer mu.Unlock()

		if ev.Kind == pac.FrameOverflow {
			stats.RecordOverflow()
			fmt.Printf("[%s] \033[1;31mOVERFLOW:\033[0m receive buffer full, frame discarded\n\n", at.Format("15:04:05.000"))
			return nil
		}

		msg := decodeFrame(codec, at, ev)
		count, synced := tracker.observe(msg.packet != nil)
		if synced {
			if tracker.skipped > 0 {
				fmt.Printf("[SYNC] Synchronized after skipping %d frames\n\n", tracker.skipped)
			} else {
				fmt.Printf("[SYNC] Synchronized\n\n")
			}
		}
		if !count {
			return nil
		}

		if msg.decodeErr != nil {
			stats.Update(nil, msg.decodeErr, nil)
			printDecodeError(at, msg.decodeErr)
			return nil
		}

		stats.Update(msg.packet, nil, msg.validationErrors)
		if len(msg.validationErrors) > 0 {
			printValidationErrors(codec, msg.packet, msg.validationErrors)
		} else if showAll {
			fmt.Print(codec.FormatPacket(msg.packet))
		}
		return nil
	})

	mu.Lock()
	defer mu.Unlock()
	fmt.Println()
	fmt.Print(stats.String())
	return err
}
