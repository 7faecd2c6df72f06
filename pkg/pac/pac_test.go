// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pac

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

// ============================================================
// Test Helpers
// ============================================================

// buildFrame assembles a wire frame by hand
func buildFrame(seq, cmdType uint8, payload []byte) []byte {
	frame := []byte{Header, seq, cmdType, uint8(len(payload))}
	frame = append(frame, payload...)
	return append(frame, Checksum(frame))
}

func sampleFields() Fields {
	return Fields{
		Power:           true,
		Mode:            ModeCodeCool,
		Fan:             FanCodeMedium,
		TargetCode:      TargetCode(22.5),
		Current:         24,
		Outside:         -3,
		VerticalSwing:   0x03, // center
		HorizontalSwing: 0x0D, // auto
		NanoeX:          true,
	}
}

// feedAll feeds a frame byte by byte and returns the events that were not FrameNone
func feedAll(f *Framer, data []byte, now time.Time) []FrameEvent {
	var events []FrameEvent
	for _, b := range data {
		if ev := f.Feed(b, now); ev.Kind != FrameNone {
			events = append(events, ev)
		}
	}
	return events
}

// ============================================================
// Checksum Tests
// ============================================================

func TestChecksum_Empty(t *testing.T) {
	if sum := Checksum(nil); sum != 0 {
		t.Errorf("Checksum of empty data should be 0, got 0x%02X", sum)
	}
}

func TestChecksum_KnownValue(t *testing.T) {
	// 0x5A + 0x01 + 0x00 + 0x01 + 0x10 = 0x6C, two's complement 0x94
	sum := Checksum([]byte{0x5A, 0x01, 0x00, 0x01, 0x10})
	if sum != 0x94 {
		t.Errorf("Checksum mismatch: expected 0x94, got 0x%02X", sum)
	}
}

func TestChecksum_FrameSumsToZero(t *testing.T) {
	frame := buildFrame(0x42, uint8(Normal), []byte{OpStatusQuery, 0xFF, 0x80})
	var total byte
	for _, b := range frame {
		total += b
	}
	if total != 0 {
		t.Errorf("Frame bytes should sum to zero, got 0x%02X", total)
	}
}

// ============================================================
// Framer Tests
// ============================================================

func TestFramer_CompletePacket(t *testing.T) {
	f := NewFramer(DefaultReadTimeout)
	frame := buildFrame(1, uint8(Normal), []byte{OpStatusQuery})
	now := time.Unix(1000, 0)

	for i, b := range frame {
		ev := f.Feed(b, now)
		if i < len(frame)-1 && ev.Kind != FrameNone {
			t.Fatalf("byte %d: unexpected event %v", i, ev.Kind)
		}
		if i == len(frame)-1 {
			if ev.Kind != FrameComplete {
				t.Fatalf("Expected FrameComplete on last byte, got %v", ev.Kind)
			}
			if ev.TimedOut {
				t.Error("Length-framed packet should not be marked as timed out")
			}
			if !bytes.Equal(ev.Frame, frame) {
				t.Errorf("Frame mismatch: expected % X, got % X", frame, ev.Frame)
			}
		}
	}

	if f.Len() != 0 {
		t.Errorf("Buffer should be empty after extraction, got %d bytes", f.Len())
	}
}

func TestFramer_Resynchronizes(t *testing.T) {
	f := NewFramer(DefaultReadTimeout)
	frame := buildFrame(2, uint8(Response), []byte{OpHandshake, 0x00})
	data := append([]byte{0x00, 0xFF, 0x13}, frame...)

	events := feedAll(f, data, time.Unix(1000, 0))
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if !bytes.Equal(events[0].Frame, frame) {
		t.Errorf("Frame mismatch: expected % X, got % X", frame, events[0].Frame)
	}
	if f.ResyncBytes() != 3 {
		t.Errorf("Expected 3 resync bytes, got %d", f.ResyncBytes())
	}
}

func TestFramer_InactivityTimeout(t *testing.T) {
	f := NewFramer(20 * time.Millisecond)
	t0 := time.Unix(1000, 0)

	// Header, seq, type - length byte never arrives
	feedAll(f, []byte{Header, 0x01, 0x00}, t0)

	if ev := f.Expire(t0.Add(19 * time.Millisecond)); ev.Kind != FrameNone {
		t.Fatalf("Expected no event before the read timeout, got %v", ev.Kind)
	}

	ev := f.Expire(t0.Add(20 * time.Millisecond))
	if ev.Kind != FrameComplete {
		t.Fatalf("Expected FrameComplete after the read timeout, got %v", ev.Kind)
	}
	if !ev.TimedOut {
		t.Error("Expected TimedOut to be set")
	}
	if len(ev.Frame) != 3 {
		t.Errorf("Expected 3 byte frame, got %d", len(ev.Frame))
	}
	if f.Len() != 0 {
		t.Errorf("Buffer should be empty after timeout, got %d bytes", f.Len())
	}
}

func TestFramer_ExpireEmptyBuffer(t *testing.T) {
	f := NewFramer(DefaultReadTimeout)
	if ev := f.Expire(time.Unix(1000, 0)); ev.Kind != FrameNone {
		t.Errorf("Empty buffer should never expire, got %v", ev.Kind)
	}
}

func TestFramer_Overflow(t *testing.T) {
	f := NewFramer(DefaultReadTimeout)
	now := time.Unix(1000, 0)

	// Declared length 0xFF needs 260 bytes, more than the buffer holds
	data := []byte{Header, 0x01, 0x00, 0xFF}
	for len(data) < BufferSize {
		data = append(data, 0x11)
	}

	events := feedAll(f, data, now)
	if len(events) != 1 {
		t.Fatalf("Expected exactly 1 event, got %d", len(events))
	}
	if events[0].Kind != FrameOverflow {
		t.Fatalf("Expected FrameOverflow, got %v", events[0].Kind)
	}
	if events[0].Frame != nil {
		t.Error("Overflow must not forward a partial frame")
	}
	if f.Len() != 0 {
		t.Errorf("Buffer should be reset after overflow, got %d bytes", f.Len())
	}

	// Nothing buffered remains to time out
	if ev := f.Expire(now.Add(time.Second)); ev.Kind != FrameNone {
		t.Errorf("Expected no event after overflow reset, got %v", ev.Kind)
	}
}

func TestFramer_MaxSizeFrame(t *testing.T) {
	f := NewFramer(DefaultReadTimeout)
	payload := make([]byte, MaxPayloadSize)
	payload[0] = OpHandshake
	frame := buildFrame(9, uint8(Normal), payload)
	if len(frame) != BufferSize {
		t.Fatalf("Test frame should fill the buffer exactly, got %d bytes", len(frame))
	}

	events := feedAll(f, frame, time.Unix(1000, 0))
	if len(events) != 1 || events[0].Kind != FrameComplete {
		t.Fatalf("Expected a single FrameComplete, got %v", events)
	}
}

func TestFramer_BackToBackFrames(t *testing.T) {
	f := NewFramer(DefaultReadTimeout)
	a := buildFrame(1, uint8(Normal), []byte{OpStatusQuery})
	b := buildFrame(2, uint8(Response), nil)

	events := feedAll(f, append(append([]byte{}, a...), b...), time.Unix(1000, 0))
	if len(events) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(events))
	}
	if !bytes.Equal(events[0].Frame, a) || !bytes.Equal(events[1].Frame, b) {
		t.Errorf("Frames mismatch: got % X and % X", events[0].Frame, events[1].Frame)
	}
}

// ============================================================
// Codec Tests
// ============================================================

func TestCodec_StatusRoundTrip(t *testing.T) {
	for _, variant := range []Variant{VariantDNSKP11, VariantCZTACG1} {
		t.Run(variant.String(), func(t *testing.T) {
			c := NewCodec(variant)
			fields := sampleFields()
			fields.VerticalSwing, _ = c.Swing().VerticalCode(SwingCenter)
			fields.HorizontalSwing, _ = c.Swing().HorizontalCode(SwingAuto)

			frame := c.MustEncode(c.NewStatusReport(Response, fields).WithSequence(7))
			p, err := c.Decode(frame)
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}

			if p.Sequence() != 7 {
				t.Errorf("Sequence mismatch: expected 7, got %d", p.Sequence())
			}
			if p.Type() != Response {
				t.Errorf("Type mismatch: expected RESPONSE, got %v", p.Type())
			}
			if !p.HasStatus() {
				t.Fatal("Expected status fields")
			}
			got, _ := p.Fields()
			if got != fields {
				t.Errorf("Fields mismatch:\n  expected %+v\n  got      %+v", fields, got)
			}
			if errs := c.ValidatePacket(p); len(errs) != 0 {
				t.Errorf("Expected no anomalies, got %v", errs)
			}
		})
	}
}

func TestCodec_DecodeErrors(t *testing.T) {
	c := NewCodec(VariantDNSKP11)
	valid := buildFrame(3, uint8(Normal), []byte{OpStatusQuery})

	corrupted := append([]byte{}, valid...)
	corrupted[len(corrupted)-1] ^= 0xFF

	badHeader := append([]byte{}, valid...)
	badHeader[0] = 0x70

	extra := append(append([]byte{}, valid...), 0x00)

	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{"empty", nil, ErrTooShort},
		{"bad header", badHeader, ErrBadHeader},
		{"shorter than overhead", []byte{Header, 0x01, 0x00}, ErrTooShort},
		{"shorter than declared", valid[:len(valid)-1], ErrTooShort},
		{"longer than declared", extra, ErrBadLength},
		{"bad checksum", corrupted, ErrBadChecksum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := c.Decode(tt.frame)
			if p != nil {
				t.Error("Rejected frame must not produce a packet")
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Errorf("Expected *DecodeError, got %T", err)
			}
		})
	}
}

func TestCodec_UnknownTypeTreatedAsNormal(t *testing.T) {
	c := NewCodec(VariantDNSKP11)
	p, err := c.Decode(buildFrame(4, 0x07, []byte{OpStatusQuery}))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if p.Type() != Normal {
		t.Errorf("Unknown type should classify as NORMAL, got %v", p.Type())
	}
	if p.RawType() != 0x07 {
		t.Errorf("RawType should keep the wire value, got 0x%02X", p.RawType())
	}

	errs := c.ValidatePacket(p)
	if len(errs) != 1 || errs[0].Type != AnomalyUnknownType {
		t.Errorf("Expected a single unknown-type anomaly, got %v", errs)
	}
}

func TestCodec_DecodeAtTimestamp(t *testing.T) {
	c := NewCodec(VariantDNSKP11)
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	p, err := c.DecodeAt(c.MustEncode(c.NewStatusReport(Response, sampleFields())), at)
	if err != nil {
		t.Fatalf("DecodeAt error: %v", err)
	}
	if !p.Timestamp().Equal(at) {
		t.Errorf("Timestamp() = %v; want %v", p.Timestamp(), at)
	}
}

func TestCodec_EncodeDeterministic(t *testing.T) {
	c := NewCodec(VariantCZTACG1)
	p := c.NewControl(sampleFields()).WithSequence(12)

	a := c.MustEncode(p)
	b := c.MustEncode(p)
	if !bytes.Equal(a, b) {
		t.Errorf("Encoding should be deterministic: % X != % X", a, b)
	}
	if a[0] != Header {
		t.Errorf("Frame should start with header, got 0x%02X", a[0])
	}
	if int(a[3]) != c.Layout().Size() {
		t.Errorf("Declared length should be %d, got %d", c.Layout().Size(), a[3])
	}
}

func TestCodec_ControlLeavesMeasuredTemperaturesUnset(t *testing.T) {
	c := NewCodec(VariantDNSKP11)
	p, err := c.Decode(c.MustEncode(c.NewControl(sampleFields())))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	f, ok := p.Fields()
	if !ok {
		t.Fatal("Expected control fields")
	}
	if f.Current != TemperatureUnset || f.Outside != TemperatureUnset {
		t.Errorf("Expected unset measured temperatures, got current=%d outside=%d", f.Current, f.Outside)
	}
	if p.HasStatus() {
		t.Error("Control packet should not report HasStatus")
	}
}

func TestCodec_EncodeRejectsOversizedPayload(t *testing.T) {
	c := NewCodec(VariantDNSKP11)
	_, err := c.Encode(NewPacket(Normal, make([]byte, MaxPayloadSize+1)))
	if err == nil {
		t.Error("Expected error for oversized payload")
	}
}

func TestCodec_CustomLayoutAndChecksum(t *testing.T) {
	layout := Layout{Power: 9, Mode: 8, Fan: 7, Target: 6, Current: 5, Outside: 4, VerticalSwing: 3, HorizontalSwing: 2, Flags: 1}
	if !layout.Valid() {
		t.Fatal("Layout should be valid")
	}
	xor := func(data []byte) byte {
		var x byte
		for _, b := range data {
			x ^= b
		}
		return x
	}

	c := NewCodec(VariantDNSKP11, WithLayout(layout), WithChecksum(xor))
	fields := sampleFields()
	frame := c.MustEncode(c.NewStatusReport(Normal, fields))

	if frame[HeaderSize+layout.Power] != 0x01 {
		t.Errorf("Power should be at payload offset %d", layout.Power)
	}

	p, err := c.Decode(frame)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	got, _ := p.Fields()
	if got != fields {
		t.Errorf("Fields mismatch: expected %+v, got %+v", fields, got)
	}

	// The default codec must reject the XOR checksum
	if _, err := NewCodec(VariantDNSKP11, WithLayout(layout)).Decode(frame); !errors.Is(err, ErrBadChecksum) {
		t.Errorf("Expected checksum error with the default checksum, got %v", err)
	}
}

func TestLayout_Valid(t *testing.T) {
	if !DefaultLayout().Valid() {
		t.Error("Default layout should be valid")
	}
	overlap := DefaultLayout()
	overlap.Fan = overlap.Mode
	if overlap.Valid() {
		t.Error("Overlapping offsets should be invalid")
	}
	opcode := DefaultLayout()
	opcode.Power = 0
	if opcode.Valid() {
		t.Error("Offset 0 is the opcode and should be invalid")
	}
	if DefaultLayout().Size() != 10 {
		t.Errorf("Default layout size should be 10, got %d", DefaultLayout().Size())
	}
}

func TestTargetCode(t *testing.T) {
	if TargetCode(22.5) != 45 {
		t.Errorf("TargetCode(22.5) = %d; want 45", TargetCode(22.5))
	}
	if TargetFromCode(33) != 16.5 {
		t.Errorf("TargetFromCode(33) = %f; want 16.5", TargetFromCode(33))
	}
}

// ============================================================
// Swing Table Tests
// ============================================================

func TestSwingTables_RoundTrip(t *testing.T) {
	for _, variant := range []Variant{VariantDNSKP11, VariantCZTACG1} {
		table := SwingTableFor(variant)
		if table.Variant() != variant {
			t.Errorf("Table variant mismatch: expected %v, got %v", variant, table.Variant())
		}
		for _, label := range table.VerticalLabels() {
			code, ok := table.VerticalCode(label)
			if !ok {
				t.Errorf("%v: no vertical code for %s", variant, label)
			}
			if got, _ := table.Vertical(code); got != label {
				t.Errorf("%v: vertical 0x%02X = %s; want %s", variant, code, got, label)
			}
		}
		for _, label := range table.HorizontalLabels() {
			code, ok := table.HorizontalCode(label)
			if !ok {
				t.Errorf("%v: no horizontal code for %s", variant, label)
			}
			if got, _ := table.Horizontal(code); got != label {
				t.Errorf("%v: horizontal 0x%02X = %s; want %s", variant, code, got, label)
			}
		}
	}
}

func TestSwingTables_VariantSpecificCodes(t *testing.T) {
	tests := []struct {
		variant Variant
		code    uint8
		want    string
	}{
		{VariantDNSKP11, 0x0F, SwingAuto},
		{VariantDNSKP11, 0x01, SwingUp},
		{VariantCZTACG1, 0x00, SwingAuto},
		{VariantCZTACG1, 0x05, SwingDown},
	}
	for _, tt := range tests {
		got, ok := SwingTableFor(tt.variant).Vertical(tt.code)
		if !ok || got != tt.want {
			t.Errorf("%v vertical 0x%02X = %q, %v; want %q", tt.variant, tt.code, got, ok, tt.want)
		}
	}

	if _, ok := SwingTableFor(VariantDNSKP11).Vertical(0x00); ok {
		t.Error("0x00 is not a DNSKP11 vertical code")
	}
	if _, ok := SwingTableFor(VariantCZTACG1).Horizontal(0x0D); ok {
		t.Error("0x0D is not a CZTACG1 horizontal code")
	}
}

// ============================================================
// Validator Tests
// ============================================================

func TestValidatePacket_TemperatureThreshold(t *testing.T) {
	c := NewCodec(VariantDNSKP11)

	tests := []struct {
		name    string
		current int8
		outside int8
		want    int
	}{
		{"valid", 99, -20, 0},
		{"current at threshold", 100, 5, 1},
		{"both invalid", 127, 101, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := sampleFields()
			f.Current = tt.current
			f.Outside = tt.outside
			p, err := c.Decode(c.MustEncode(c.NewStatusReport(Normal, f)))
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			count := 0
			for _, e := range c.ValidatePacket(p) {
				if e.Type == AnomalyInvalidTemp {
					count++
				}
			}
			if count != tt.want {
				t.Errorf("Expected %d invalid temperature anomalies, got %d", tt.want, count)
			}
		})
	}
}

func TestValidatePacket_ShortStatus(t *testing.T) {
	c := NewCodec(VariantDNSKP11)
	p, err := c.Decode(buildFrame(5, uint8(Response), []byte{OpStatus, 0x01, 0x03}))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if _, ok := p.Fields(); ok {
		t.Error("Short status payload should not parse fields")
	}
	errs := c.ValidatePacket(p)
	if len(errs) != 1 || errs[0].Type != AnomalyLengthMismatch {
		t.Errorf("Expected a length mismatch anomaly, got %v", errs)
	}
}

func TestValidatePacket_UnknownSwingAndOpcode(t *testing.T) {
	c := NewCodec(VariantCZTACG1)
	f := sampleFields()
	f.VerticalSwing = 0x0F // DNSKP11 auto, unknown for CZTACG1
	f.HorizontalSwing = 0x00

	p, err := c.Decode(c.MustEncode(c.NewStatusReport(Normal, f)))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	errs := c.ValidatePacket(p)
	if len(errs) != 1 || errs[0].Type != AnomalyInvalidSwing {
		t.Errorf("Expected a single swing anomaly, got %v", errs)
	}

	p, err = c.Decode(buildFrame(6, uint8(Normal), []byte{0x99}))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	errs = c.ValidatePacket(p)
	if len(errs) != 1 || errs[0].Type != AnomalyUnknownOpcode {
		t.Errorf("Expected an unknown opcode anomaly, got %v", errs)
	}
}

func TestValidatePacket_AckIsClean(t *testing.T) {
	c := NewCodec(VariantDNSKP11)
	p, err := c.Decode(c.MustEncode(NewAck(9)))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if p.Sequence() != 9 || p.Type() != Response {
		t.Errorf("Ack mismatch: seq=%d type=%v", p.Sequence(), p.Type())
	}
	if errs := c.ValidatePacket(p); len(errs) != 0 {
		t.Errorf("Ack should be clean, got %v", errs)
	}
}

// ============================================================
// Statistics and Formatter Tests
// ============================================================

func TestStatistics_Update(t *testing.T) {
	c := NewCodec(VariantDNSKP11)
	s := NewStatistics()

	_, err := c.Decode([]byte{Header, 0x01})
	s.Update(nil, err, nil)
	_, err = c.Decode(append(buildFrame(1, 0, []byte{OpStatusQuery})[:5], 0x00))
	s.Update(nil, err, nil)

	p, _ := c.Decode(buildFrame(2, 0x09, []byte{OpStatusQuery}))
	s.Update(p, nil, c.ValidatePacket(p))
	s.RecordOverflow()
	s.RecordSent(Normal)
	s.RecordSent(Resend)
	s.RecordTimeout()

	if s.TotalFrames != 3 {
		t.Errorf("TotalFrames = %d; want 3", s.TotalFrames)
	}
	if s.ShortPackets != 1 || s.ChecksumErrors != 1 {
		t.Errorf("Expected 1 short and 1 checksum error, got %d and %d", s.ShortPackets, s.ChecksumErrors)
	}
	if s.ValidPackets != 1 || s.UnknownTypes != 1 {
		t.Errorf("Expected 1 valid packet with 1 unknown type, got %d and %d", s.ValidPackets, s.UnknownTypes)
	}
	if s.Overflows != 1 || s.PacketsSent != 2 || s.Resends != 1 || s.ResponseTimeouts != 1 {
		t.Errorf("Unexpected transmit counters: %+v", s)
	}
	if !strings.Contains(s.String(), "Decode Errors") {
		t.Error("Summary should list decode errors")
	}

	s.Reset()
	if s.TotalFrames != 0 || s.DecodeErrors() != 0 {
		t.Error("Reset should clear counters")
	}
}

func TestFormatHex(t *testing.T) {
	got := FormatHex([]byte{0x5A, 0x01, 0xA5}, true)
	if got != "TX: 5A 01 A5" {
		t.Errorf("FormatHex = %q; want %q", got, "TX: 5A 01 A5")
	}
	if !strings.HasPrefix(FormatHex([]byte{0x5A}, false), "RX:") {
		t.Error("Incoming frames should be prefixed with RX")
	}
}

func TestFormatPacket(t *testing.T) {
	c := NewCodec(VariantDNSKP11)
	p, err := c.Decode(c.MustEncode(c.NewStatusReport(Response, sampleFields()).WithSequence(3)))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	out := c.FormatPacket(p)
	for _, want := range []string{"RESPONSE", "STATUS", "seq=3", "COOL", "22.5°C", "center/auto"} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatPacket output missing %q:\n%s", want, out)
		}
	}
}

func TestParseVariant(t *testing.T) {
	tests := []struct {
		in      string
		want    Variant
		wantErr bool
	}{
		{"DNSKP11", VariantDNSKP11, false},
		{"dnskp11", VariantDNSKP11, false},
		{"CZTACG1", VariantCZTACG1, false},
		{"cz-tacg1", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseVariant(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseVariant(%q) error = %v; wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseVariant(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}
