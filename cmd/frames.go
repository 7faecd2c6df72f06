// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"io"
	"time"

	"github.com/Thermoquad/paclink/pkg/pac"
)

// frameHandler receives every framer event with the time it happened
type frameHandler func(at time.Time, ev pac.FrameEvent) error

// readFrames frames the bytes read from r until ctx is cancelled, the read
// fails or fn returns an error. Partial frames are closed by the framer's
// inactivity timeout even while the line is silent.
func readFrames(ctx context.Context, r io.Reader, readTimeout time.Duration, fn frameHandler) error {
	if readTimeout <= 0 {
		readTimeout = pac.DefaultReadTimeout
	}
	framer := pac.NewFramer(readTimeout)

	chunks := make(chan []byte, 16)
	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, pac.BufferSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				select {
				case chunks <- append([]byte(nil), buf[:n]...):
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(readTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case chunk := <-chunks:
			for _, b := range chunk {
				now := time.Now()
				if ev := framer.Feed(b, now); ev.Kind != pac.FrameNone {
					if err := fn(now, ev); err != nil {
						return err
					}
				}
			}
		case now := <-ticker.C:
			if ev := framer.Expire(now); ev.Kind != pac.FrameNone {
				if err := fn(now, ev); err != nil {
					return err
				}
			}
		}
	}
}
