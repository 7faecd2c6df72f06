// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture records raw link traffic as a stream of CBOR records and
// plays it back.
//
// Each record is one frame as it crossed the wire, so a capture can be fed
// through the framer again to reproduce a session offline.
package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Direction of a captured frame
type Direction uint8

// Directions
const (
	RX Direction = iota // Unit to bridge
	TX                  // Bridge to unit
)

// String returns "rx" or "tx"
func (d Direction) String() string {
	if d == TX {
		return "tx"
	}
	return "rx"
}

// Record is one captured frame
type Record struct {
	At   time.Time `cbor:"1,keyasint"`
	Dir  Direction `cbor:"2,keyasint"`
	Data []byte    `cbor:"3,keyasint"`
}

// Outgoing reports whether the frame was sent by the bridge
func (r Record) Outgoing() bool {
	return r.Dir == TX
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("capture: cbor encoder options: %v", err))
	}
}

// Writer appends records to a stream. It is safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	w   *bufio.Writer
	enc *cbor.Encoder
	c   io.Closer
}

// NewWriter writes records to w
func NewWriter(w io.Writer) *Writer {
	bw := bufio.NewWriter(w)
	cw := &Writer{w: bw, enc: encMode.NewEncoder(bw)}
	if c, ok := w.(io.Closer); ok {
		cw.c = c
	}
	return cw
}

// Create opens (truncating) a capture file
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture: %w", err)
	}
	return NewWriter(f), nil
}

// Write records a frame. The data is copied.
func (w *Writer) Write(at time.Time, dir Direction, data []byte) error {
	rec := Record{At: at, Dir: dir, Data: append([]byte(nil), data...)}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return nil
}

// Frame records a frame in the shape reported by the link frame hook
func (w *Writer) Frame(at time.Time, frame []byte, outgoing bool) error {
	dir := RX
	if outgoing {
		dir = TX
	}
	return w.Write(at, dir, frame)
}

// Flush writes buffered records to the underlying writer
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Flush()
}

// Close flushes and closes the underlying writer if it is closable
func (w *Writer) Close() error {
	err := w.Flush()
	if w.c != nil {
		if cerr := w.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Reader reads records from a stream
type Reader struct {
	dec *cbor.Decoder
	c   io.Closer
}

// NewReader reads records from r
func NewReader(r io.Reader) *Reader {
	cr := &Reader{dec: cbor.NewDecoder(bufio.NewReader(r))}
	if c, ok := r.(io.Closer); ok {
		cr.c = c
	}
	return cr
}

// Open opens a capture file for reading
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	return NewReader(f), nil
}

// Next returns the next record, or io.EOF at the end of the stream
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return rec, io.EOF
		}
		return rec, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// ReadAll returns every remaining record
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// Close closes the underlying reader if it is closable
func (r *Reader) Close() error {
	if r.c != nil {
		return r.c.Close()
	}
	return nil
}
