// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simulator

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/paclink/pkg/pac"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestUnit() (*Unit, *pac.Codec) {
	codec := pac.NewCodec(pac.VariantDNSKP11)
	return NewUnit(codec, DefaultFields(codec), quietLogger()), codec
}

// exchange sends one packet and decodes the single reply
func exchange(t *testing.T, u *Unit, codec *pac.Codec, p *pac.Packet) *pac.Packet {
	t.Helper()
	var out bytes.Buffer
	if err := u.respond(&out, codec.MustEncode(p)); err != nil {
		t.Fatalf("respond error: %v", err)
	}
	if out.Len() == 0 {
		return nil
	}
	reply, err := codec.Decode(out.Bytes())
	if err != nil {
		t.Fatalf("reply does not decode: %v (% X)", err, out.Bytes())
	}
	return reply
}

func TestUnit_Handshake(t *testing.T) {
	u, codec := newTestUnit()
	reply := exchange(t, u, codec, pac.NewHandshake(pac.DefaultHandshake()[1]).WithSequence(7))

	if reply == nil || reply.Type() != pac.Response || reply.Sequence() != 7 {
		t.Fatalf("reply = %v", reply)
	}
	if !bytes.Equal(reply.Payload(), []byte{pac.OpHandshake, 0x01}) {
		t.Errorf("payload = % X; want handshake step echo", reply.Payload())
	}
	if u.Counters().Handshakes != 1 {
		t.Errorf("Handshakes = %d; want 1", u.Counters().Handshakes)
	}
}

func TestUnit_QueryAndControl(t *testing.T) {
	u, codec := newTestUnit()

	reply := exchange(t, u, codec, pac.NewStatusQuery().WithSequence(1))
	if !reply.HasStatus() {
		t.Fatal("query reply should carry a status report")
	}
	f, _ := reply.Fields()
	if f.Mode != pac.ModeCodeCool || f.Current != 27 {
		t.Errorf("status = %+v", f)
	}

	cmd := DefaultFields(codec)
	cmd.Mode = pac.ModeCodeHeat
	cmd.TargetCode = pac.TargetCode(21.5)
	cmd.NanoeX = true
	reply = exchange(t, u, codec, codec.NewControl(cmd).WithSequence(2))

	f, _ = reply.Fields()
	if f.Mode != pac.ModeCodeHeat || f.TargetCode != pac.TargetCode(21.5) || !f.NanoeX {
		t.Errorf("status after control = %+v", f)
	}
	if f.Current != 27 || f.Outside != 31 {
		t.Errorf("control should not change measured temperatures: %+v", f)
	}
	if c := u.Counters(); c.Queries != 1 || c.Controls != 1 {
		t.Errorf("Counters = %+v", c)
	}
}

func TestUnit_IgnoresAcksAndGarbage(t *testing.T) {
	u, codec := newTestUnit()

	if reply := exchange(t, u, codec, pac.NewAck(3)); reply != nil {
		t.Errorf("ack should not be answered, got %v", reply)
	}

	var out bytes.Buffer
	frame := codec.MustEncode(pac.NewStatusQuery())
	frame[len(frame)-1] ^= 0xFF
	u.respond(&out, frame)
	if out.Len() != 0 {
		t.Error("corrupted frame should not be answered")
	}

	c := u.Counters()
	if c.Acks != 1 || c.Errors != 1 {
		t.Errorf("Counters = %+v; want 1 ack and 1 error", c)
	}
}

func TestUnit_Silent(t *testing.T) {
	u, codec := newTestUnit()
	u.SetSilent(true)
	if reply := exchange(t, u, codec, pac.NewStatusQuery()); reply != nil {
		t.Errorf("silent unit replied %v", reply)
	}
}

func TestUnit_Drift(t *testing.T) {
	u, codec := newTestUnit()
	f := DefaultFields(codec)
	f.Current = 22
	f.TargetCode = pac.TargetCode(24)
	u.Set(f)

	u.mu.Lock()
	u.drift()
	u.drift()
	u.drift()
	u.mu.Unlock()

	if got := u.Fields().Current; got != 24 {
		t.Errorf("Current after drift = %d; want 24", got)
	}
}

func TestUnit_ServeOverPipe(t *testing.T) {
	u, codec := newTestUnit()
	host, dev := net.Pipe()
	defer host.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- u.Serve(ctx, dev) }()

	host.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := host.Write(codec.MustEncode(pac.NewStatusQuery().WithSequence(9))); err != nil {
		t.Fatalf("write: %v", err)
	}

	framer := pac.NewFramer(pac.DefaultReadTimeout)
	buf := make([]byte, pac.BufferSize)
	var frame []byte
	for frame == nil {
		n, err := host.Read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		for _, b := range buf[:n] {
			if ev := framer.Feed(b, time.Now()); ev.Kind == pac.FrameComplete {
				frame = ev.Frame
			}
		}
	}

	reply, err := codec.Decode(frame)
	if err != nil || reply.Sequence() != 9 || !reply.HasStatus() {
		t.Errorf("reply = %v, %v", reply, err)
	}

	cancel()
	dev.Close()
	if err := <-done; err != nil {
		t.Errorf("Serve returned %v after cancellation", err)
	}
}
