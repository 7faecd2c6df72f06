// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Thermoquad/paclink/pkg/pac"
)

// ============================================================
// readFrames
// ============================================================

func TestReadFrames(t *testing.T) {
	codec := pac.NewCodec(pac.VariantDNSKP11)
	r, w := io.Pipe()

	var frames [][]byte
	done := make(chan error, 1)
	go func() {
		done <- readFrames(context.Background(), r, 10*time.Millisecond, func(_ time.Time, ev pac.FrameEvent) error {
			frames = append(frames, ev.Frame)
			return nil
		})
	}()

	// Leading noise, one full frame, then a truncated frame closed by silence
	w.Write([]byte{0x00, 0x11})
	w.Write(codec.MustEncode(pac.NewStatusQuery().WithSequence(7)))
	w.Write([]byte{pac.Header, 0x01, 0x00, 0x05})
	time.Sleep(50 * time.Millisecond)
	w.CloseWithError(io.ErrUnexpectedEOF)

	if err := <-done; !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("readFrames error = %v; want the read error", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames; want 2", len(frames))
	}

	p, err := codec.Decode(frames[0])
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if p.Sequence() != 7 || p.Opcode() != pac.OpStatusQuery {
		t.Errorf("decoded %s", codec.FormatPacket(p))
	}
	if len(frames[1]) != 4 {
		t.Errorf("timed out frame has %d bytes; want 4", len(frames[1]))
	}
}

func TestReadFrames_HandlerStops(t *testing.T) {
	codec := pac.NewCodec(pac.VariantDNSKP11)
	r, w := io.Pipe()
	defer w.Close()

	stop := errors.New("stop")
	done := make(chan error, 1)
	go func() {
		done <- readFrames(context.Background(), r, 0, func(time.Time, pac.FrameEvent) error {
			return stop
		})
	}()
	go w.Write(codec.MustEncode(pac.NewAck(1)))

	select {
	case err := <-done:
		if !errors.Is(err, stop) {
			t.Errorf("readFrames error = %v; want handler error", err)
		}
	case <-time.After(time.Second):
		t.Fatal("readFrames did not return")
	}
}

func TestReadFrames_Cancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- readFrames(ctx, r, 0, func(time.Time, pac.FrameEvent) error { return nil })
	}()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("readFrames after cancel = %v; want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("readFrames did not return")
	}
}

// ============================================================
// Helpers
// ============================================================

func TestSyncTracker(t *testing.T) {
	var s syncTracker

	for i := 0; i < 3; i++ {
		if count, synced := s.observe(false); count || synced {
			t.Fatalf("frame %d before sync: count=%v synced=%v", i, count, synced)
		}
	}
	if count, synced := s.observe(true); !count || !synced {
		t.Errorf("first valid frame: count=%v synced=%v", count, synced)
	}
	if s.skipped != 3 {
		t.Errorf("skipped = %d; want 3", s.skipped)
	}
	if count, synced := s.observe(false); !count || synced {
		t.Errorf("error after sync: count=%v synced=%v", count, synced)
	}
}

func TestSimModeCode(t *testing.T) {
	tests := []struct {
		name    string
		want    uint8
		wantErr bool
	}{
		{"cool", pac.ModeCodeCool, false},
		{"heat", pac.ModeCodeHeat, false},
		{"auto", pac.ModeCodeAuto, false},
		{"fan_only", pac.ModeCodeFan, false},
		{"turbo", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := simModeCode(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v; wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("code = %d; want %d", got, tt.want)
			}
		})
	}
}
