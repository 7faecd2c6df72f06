// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/paclink/pkg/pac"
)

var (
	packetTestTimeout int
	packetTestQuery   bool
)

var errGotPacket = errors.New("packet received")

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid link packet",
	Long: `Wait for a valid link packet on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any valid
packet (correct header, length and checksum). Invalid bytes are skipped.

An initialized unit only speaks when spoken to, so --query sends a status
query once connected.

Exit codes:
  0 - Packet received before timeout
  1 - Timeout reached without receiving a valid packet
  2 - Connection error`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a packet")
	packetTestCmd.Flags().BoolVar(&packetTestQuery, "query", false, "Send a status query after connecting")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cfg.Device)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Paclink - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid packet...\n\n")

	codec := cfg.Codec()
	if packetTestQuery {
		if _, err := conn.Write(codec.MustEncode(pac.NewStatusQuery())); err != nil {
			fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
			os.Exit(2)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(packetTestTimeout)*time.Second)
	defer cancel()

	var packet *pac.Packet
	rejected := 0
	err = readFrames(ctx, conn, cfg.Link.ReadTimeout, func(_ time.Time, ev pac.FrameEvent) error {
		if ev.Kind != pac.FrameComplete {
			rejected++
			return nil
		}
		p, err := codec.Decode(ev.Frame)
		if err != nil {
			rejected++
			return nil
		}
		packet = p
		return errGotPacket
	})

	switch {
	case packet != nil:
		if rejected > 0 {
			fmt.Printf("(skipped %d invalid frames before sync)\n", rejected)
		}
		fmt.Printf("SUCCESS: Received valid packet\n")
		fmt.Printf("  Type: %s\n", packet.Type())
		fmt.Printf("  Opcode: %s (0x%02X)\n", pac.FormatOpcode(packet.Opcode()), packet.Opcode())
		fmt.Printf("  Sequence: %d\n", packet.Sequence())
		fmt.Printf("  Length: %d bytes\n", packet.Length())
		fmt.Printf("  Checksum: 0x%02X\n", packet.Checksum())
		os.Exit(0)

	case err != nil && !errors.Is(err, errGotPacket):
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	default:
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid packet received within %d seconds\n", packetTestTimeout)
		os.Exit(1)
	}

	return nil
}
