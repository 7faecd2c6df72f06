// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/paclink/pkg/capture"
	"github.com/Thermoquad/paclink/pkg/pac"
)

var (
	replayHex      bool
	replayValidate bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <capture-file>",
	Short: "Decode a recorded capture file",
	Long: `Decode and display the frames saved by 'run --capture' or 'raw_log --record'.

Each frame is printed with its direction and decoded fields, followed by
packet statistics for the whole recording. No device connection is needed.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayHex, "hex", false, "Print the raw frame bytes")
	replayCmd.Flags().BoolVar(&replayValidate, "validate", true, "Report anomalous field values")
}

func runReplay(cmd *cobra.Command, args []string) error {
	r, err := capture.Open(args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	codec := cfg.Codec()
	stats := pac.NewStatistics()
	frames := 0

	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		frames++

		if replayHex {
			fmt.Printf("%s %s\n", rec.At.Format("15:04:05.000"), pac.FormatHex(rec.Data, rec.Outgoing()))
		}

		packet, decodeErr := codec.DecodeAt(rec.Data, rec.At)
		if decodeErr != nil {
			if !rec.Outgoing() {
				stats.Update(nil, decodeErr, nil)
			}
			fmt.Printf("[%s] [ERROR] %v\n", rec.Dir, decodeErr)
			continue
		}

		if rec.Outgoing() {
			stats.RecordSent(packet.Type())
		} else {
			var anomalies []pac.ValidationError
			if replayValidate {
				anomalies = codec.ValidatePacket(packet)
			}
			stats.Update(packet, nil, anomalies)
			for _, a := range anomalies {
				fmt.Printf("[%s] [ANOMALY] %s\n", rec.Dir, a.Error())
			}
		}
		fmt.Printf("[%s] %s", rec.Dir, codec.FormatPacket(packet))
	}

	fmt.Printf("\n%d frames in %s\n", frames, args[0])
	fmt.Print(stats.String())
	return nil
}
