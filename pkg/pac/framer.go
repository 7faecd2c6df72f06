// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pac

import "time"

// DefaultReadTimeout is the inactivity gap after which a partial frame is
// considered complete
const DefaultReadTimeout = 20 * time.Millisecond

// FrameKind describes the outcome of feeding the framer
type FrameKind int

// Frame event kinds
const (
	FrameNone FrameKind = iota
	FrameComplete
	FrameOverflow
)

// String returns the frame kind name
func (k FrameKind) String() string {
	switch k {
	case FrameNone:
		return "NONE"
	case FrameComplete:
		return "COMPLETE"
	case FrameOverflow:
		return "OVERFLOW"
	}
	return "UNKNOWN"
}

// FrameEvent is emitted by the Framer when a frame boundary is found
type FrameEvent struct {
	Kind     FrameKind
	Frame    []byte // Owned copy of the frame bytes (Complete only)
	TimedOut bool   // Completed by the inactivity timeout instead of the declared length
}

// Framer accumulates raw bytes into frames.
//
// A frame starts with Header. Once the length byte is buffered the frame
// ends after exactly Overhead+length bytes; if the sender stops early the
// frame is closed after ReadTimeout of silence. Reaching BufferSize without
// a boundary is an overflow and discards the buffer.
type Framer struct {
	buffer      [BufferSize]byte
	index       int
	lastRead    time.Time
	readTimeout time.Duration
	resyncBytes uint64
}

// NewFramer creates a framer with the given inactivity timeout
func NewFramer(readTimeout time.Duration) *Framer {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &Framer{readTimeout: readTimeout}
}

// Reset discards the partially received frame
func (f *Framer) Reset() {
	f.index = 0
}

// Len returns the number of buffered bytes
func (f *Framer) Len() int {
	return f.index
}

// LastRead returns the time the last byte was fed
func (f *Framer) LastRead() time.Time {
	return f.lastRead
}

// ResyncBytes returns the number of bytes discarded while hunting for Header
func (f *Framer) ResyncBytes() uint64 {
	return f.resyncBytes
}

// Feed appends one byte received at now
func (f *Framer) Feed(b byte, now time.Time) FrameEvent {
	f.lastRead = now

	// Hunt for the header byte
	if f.index == 0 && b != Header {
		f.resyncBytes++
		return FrameEvent{}
	}

	f.buffer[f.index] = b
	f.index++

	if f.index > offsetLength {
		if f.index == Overhead+int(f.buffer[offsetLength]) {
			return f.emit(false)
		}
	}

	if f.index >= BufferSize {
		f.Reset()
		return FrameEvent{Kind: FrameOverflow}
	}

	return FrameEvent{}
}

// Expire closes a partial frame if nothing was fed for the read timeout
func (f *Framer) Expire(now time.Time) FrameEvent {
	if f.index == 0 {
		return FrameEvent{}
	}
	if now.Sub(f.lastRead) < f.readTimeout {
		return FrameEvent{}
	}
	return f.emit(true)
}

func (f *Framer) emit(timedOut bool) FrameEvent {
	frame := make([]byte, f.index)
	copy(frame, f.buffer[:f.index])
	f.Reset()
	return FrameEvent{Kind: FrameComplete, Frame: frame, TimedOut: timedOut}
}
