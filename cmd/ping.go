// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/paclink/pkg/pac"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure status query round trips",
	Long: `Send STATUS_QUERY packets and wait for the unit's STATUS response.

Each query is sent with a fresh sequence number and matched against the
response carrying the same sequence. Unrelated packets are ignored.

Units that have not completed the handshake may stay silent; use 'run' or
'control' to bring the link up first when pinging a bare unit.

Exit codes:
  0 - All queries answered
  1 - One or more queries failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 2, "Timeout in seconds for each query")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of queries to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	if pingCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	conn, connInfo, err := OpenConnection(cfg.Device)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Paclink - Status Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per query\n", pingTimeout)
	fmt.Printf("Count: %d queries\n\n", pingCount)

	codec := cfg.Codec()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	packets := make(chan *pac.Packet, 16)
	readErr := make(chan error, 1)
	go func() {
		readErr <- readFrames(ctx, conn, cfg.Link.ReadTimeout, func(_ time.Time, ev pac.FrameEvent) error {
			if ev.Kind != pac.FrameComplete {
				return nil
			}
			p, err := codec.Decode(ev.Frame)
			if err != nil {
				return nil
			}
			select {
			case packets <- p:
			case <-ctx.Done():
			}
			return nil
		})
	}()

	successCount := 0
	failCount := 0
	var totalRTT time.Duration

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Query %d/%d: ", i, pingCount)

		seq := uint8(i)
		startTime := time.Now()
		if _, err := conn.Write(codec.MustEncode(pac.NewStatusQuery().WithSequence(seq))); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		timeout := time.After(time.Duration(pingTimeout) * time.Second)
	wait:
		for {
			select {
			case p := <-packets:
				if p.Type() != pac.Response || p.Sequence() != seq || !p.HasStatus() {
					continue
				}
				rtt := time.Since(startTime)
				totalRTT += rtt
				f, _ := p.Fields()
				fmt.Printf("STATUS seq=%d, room=%d°C, rtt=%v\n", seq, f.Current, rtt.Round(time.Millisecond))
				successCount++
				break wait

			case err := <-readErr:
				fmt.Printf("READ FAILED: %v\n", err)
				fmt.Fprintf(os.Stderr, "Connection lost\n")
				os.Exit(2)

			case <-timeout:
				fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
				failCount++
				break wait
			}
		}

		// Small delay between queries
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d queries sent, %d responses received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)
	if successCount > 0 {
		fmt.Printf("average rtt %v\n", (totalRTT / time.Duration(successCount)).Round(time.Millisecond))
	}

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
