// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Thermoquad/paclink/pkg/climate"
	"github.com/Thermoquad/paclink/pkg/pac"
	"github.com/sirupsen/logrus"
)

// ============================================================
// Test Harness
// ============================================================

const tick = 100 * time.Millisecond

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

// frameRecorder stores every Write as one frame
type frameRecorder struct {
	frames [][]byte
	err    error
}

func (r *frameRecorder) Write(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	r.frames = append(r.frames, append([]byte(nil), p...))
	return len(p), nil
}

type harness struct {
	t     *testing.T
	e     *Engine
	clock *fakeClock
	out   *frameRecorder
	codec *pac.Codec
	seen  int

	phases []Phase
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	h := &harness{
		t:     t,
		clock: &fakeClock{now: time.Unix(1700000000, 0)},
		out:   &frameRecorder{},
		codec: pac.NewCodec(pac.VariantDNSKP11),
	}
	opts = append([]Option{
		WithClock(h.clock),
		WithLogger(log),
		OnLink(func(s Status) {
			if n := len(h.phases); n == 0 || h.phases[n-1] != s.Phase {
				h.phases = append(h.phases, s.Phase)
			}
		}),
	}, opts...)
	h.e = New(cfg, h.codec, h.out, opts...)
	return h
}

func (h *harness) step(rx []byte) {
	h.t.Helper()
	if err := h.e.Step(rx); err != nil {
		h.t.Fatalf("Step error: %v", err)
	}
}

func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	h.clock.now = h.clock.now.Add(d)
	h.step(nil)
}

// runFor advances the clock in ticks, stepping after each
func (h *harness) runFor(d time.Duration) {
	h.t.Helper()
	for elapsed := time.Duration(0); elapsed < d; elapsed += tick {
		h.advance(tick)
	}
}

// sent decodes the packets written since the last call
func (h *harness) sent() []*pac.Packet {
	h.t.Helper()
	var packets []*pac.Packet
	for _, frame := range h.out.frames[h.seen:] {
		p, err := h.codec.Decode(frame)
		if err != nil {
			h.t.Fatalf("Engine wrote an invalid frame % X: %v", frame, err)
		}
		packets = append(packets, p)
	}
	h.seen = len(h.out.frames)
	return packets
}

// expectOne asserts exactly one packet was written and returns it
func (h *harness) expectOne(what string) *pac.Packet {
	h.t.Helper()
	packets := h.sent()
	if len(packets) != 1 {
		h.t.Fatalf("%s: expected 1 packet, got %d", what, len(packets))
	}
	return packets[0]
}

func (h *harness) expectNone(what string) {
	h.t.Helper()
	if packets := h.sent(); len(packets) != 0 {
		h.t.Fatalf("%s: expected no packets, got %d (first opcode 0x%02X type %v)",
			what, len(packets), packets[0].Opcode(), packets[0].Type())
	}
}

// reply builds the unit's Response frame to a packet
func (h *harness) reply(p *pac.Packet, f pac.Fields) []byte {
	var resp *pac.Packet
	switch p.Opcode() {
	case pac.OpStatusQuery, pac.OpControl:
		resp = h.codec.NewStatusReport(pac.Response, f)
	default:
		resp = pac.NewPacket(pac.Response, []byte{p.Opcode()})
	}
	return h.codec.MustEncode(resp.WithSequence(p.Sequence()))
}

// respond delivers the reply 10ms after the request
func (h *harness) respond(p *pac.Packet, f pac.Fields) {
	h.t.Helper()
	h.clock.now = h.clock.now.Add(10 * time.Millisecond)
	h.step(h.reply(p, f))
}

// bringUp runs boot, the handshake and the first poll; the link ends Ready
// with the first poll answered. Returns the first poll.
func (h *harness) bringUp(f pac.Fields) *pac.Packet {
	h.t.Helper()
	h.runFor(h.e.cfg.InitTimeout)

	for i := range h.e.cfg.Handshake {
		p := h.expectOne("handshake")
		if p.Opcode() != pac.OpHandshake || p.Type() != pac.Normal {
			h.t.Fatalf("Expected handshake step %d, got opcode 0x%02X type %v", i, p.Opcode(), p.Type())
		}
		h.respond(p, f)
	}
	if h.e.Status().Phase != PhaseAwaitingFirstPoll {
		h.t.Fatalf("Expected awaiting_first_poll, got %v", h.e.Status().Phase)
	}

	h.runFor(h.e.cfg.FirstPollTimeout + tick)
	poll := h.expectOne("first poll")
	if poll.Opcode() != pac.OpStatusQuery {
		h.t.Fatalf("Expected status query, got opcode 0x%02X", poll.Opcode())
	}
	h.respond(poll, f)
	return poll
}

func unitFields() pac.Fields {
	return pac.Fields{
		Power:           true,
		Mode:            pac.ModeCodeCool,
		Fan:             pac.FanCodeAuto,
		TargetCode:      pac.TargetCode(24),
		Current:         25,
		Outside:         30,
		VerticalSwing:   0x0F,
		HorizontalSwing: 0x0D,
	}
}

func ptr[T any](v T) *T {
	return &v
}

// ============================================================
// Initialization Tests
// ============================================================

func TestEngine_BootingSendsNothing(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.runFor(10*time.Second - tick)
	h.expectNone("booting")
	if h.e.Status().Phase != PhaseBooting {
		t.Errorf("Phase = %v; want booting", h.e.Status().Phase)
	}
}

func TestEngine_InitializationRetryAndFailure(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	h.runFor(10 * time.Second)
	first := h.expectOne("init start")
	if first.Opcode() != pac.OpHandshake || first.Type() != pac.Normal {
		t.Fatalf("Expected handshake, got opcode 0x%02X type %v", first.Opcode(), first.Type())
	}
	if h.e.Status().Phase != PhaseInitializing {
		t.Fatalf("Phase = %v; want initializing", h.e.Status().Phase)
	}

	// One resend of the same packet after the response timeout
	h.runFor(600 * time.Millisecond)
	resend := h.expectOne("resend")
	if resend.Type() != pac.Resend || resend.Sequence() != first.Sequence() {
		t.Errorf("Expected resend of seq %d, got type %v seq %d", first.Sequence(), resend.Type(), resend.Sequence())
	}

	// Nothing else until the attempt times out
	h.runFor(10*time.Second - 600*time.Millisecond - tick)
	h.expectNone("within attempt")

	h.advance(tick)
	retry := h.expectOne("second attempt")
	if retry.Opcode() != pac.OpHandshake || retry.Type() != pac.Normal {
		t.Errorf("Expected a fresh handshake, got opcode 0x%02X type %v", retry.Opcode(), retry.Type())
	}
	if retry.Sequence() == first.Sequence() {
		t.Error("A new attempt should use a new sequence number")
	}
	if h.e.Status().InitAttempts != 2 {
		t.Errorf("InitAttempts = %d; want 2", h.e.Status().InitAttempts)
	}

	// 30s after initialization started, the link fails
	h.runFor(20*time.Second - tick)
	if h.e.Status().Phase != PhaseInitializing {
		t.Fatalf("Phase = %v; want initializing before the fail timeout", h.e.Status().Phase)
	}
	h.advance(tick)
	st := h.e.Status()
	if st.Phase != PhaseFailed {
		t.Fatalf("Phase = %v; want failed", st.Phase)
	}
	if !errors.Is(st.Err, ErrInitTimeout) {
		t.Errorf("Err = %v; want ErrInitTimeout", st.Err)
	}
	if st.LastError == "" || st.Healthy() {
		t.Error("Failed link should report an error and be unhealthy")
	}

	h.sent()
	h.runFor(time.Minute)
	h.expectNone("failed")

	want := []Phase{PhaseInitializing, PhaseFailed}
	if len(h.phases) != len(want) || h.phases[0] != want[0] || h.phases[1] != want[1] {
		t.Errorf("Phases = %v; want %v", h.phases, want)
	}
}

func TestEngine_RestartAfterFailure(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.runFor(40 * time.Second)
	if h.e.Status().Phase != PhaseFailed {
		t.Fatalf("Phase = %v; want failed", h.e.Status().Phase)
	}
	h.sent()

	h.e.Restart()
	if h.e.Status().Phase != PhaseBooting {
		t.Fatalf("Phase = %v; want booting", h.e.Status().Phase)
	}
	if h.e.Status().Err != nil {
		t.Errorf("Restart should clear the error, got %v", h.e.Status().Err)
	}

	h.bringUp(unitFields())
	if h.e.Status().Phase != PhaseReady {
		t.Errorf("Phase = %v; want ready", h.e.Status().Phase)
	}
}

func TestEngine_HandshakeToReady(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.bringUp(unitFields())

	st := h.e.Status()
	if st.Phase != PhaseReady || st.Waiting {
		t.Fatalf("Expected ready and idle, got %+v", st)
	}
	if h.e.Snapshot().Mode != climate.ModeCool {
		t.Errorf("First poll response should be applied, mode = %v", h.e.Snapshot().Mode)
	}

	want := []Phase{PhaseInitializing, PhaseAwaitingFirstPoll, PhaseReady}
	if len(h.phases) != len(want) {
		t.Fatalf("Phases = %v; want %v", h.phases, want)
	}
	for i := range want {
		if h.phases[i] != want[i] {
			t.Errorf("Phases = %v; want %v", h.phases, want)
		}
	}
}

func TestEngine_CustomHandshake(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Handshake = [][]byte{{pac.OpHandshake, 0xAA}}
	h := newHarness(t, cfg)

	h.runFor(cfg.InitTimeout)
	p := h.expectOne("handshake")
	if len(p.Payload()) != 2 || p.Payload()[1] != 0xAA {
		t.Errorf("Unexpected handshake payload % X", p.Payload())
	}
	h.respond(p, unitFields())
	if h.e.Status().Phase != PhaseAwaitingFirstPoll {
		t.Errorf("Single step handshake should complete, phase = %v", h.e.Status().Phase)
	}
}

func TestEngine_UncorrelatedResponseKeepsExchange(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.runFor(10 * time.Second)
	p := h.expectOne("handshake")

	wrong := h.codec.MustEncode(pac.NewPacket(pac.Response, []byte{pac.OpHandshake}).WithSequence(p.Sequence() + 1))
	h.step(wrong)

	st := h.e.Status()
	if !st.Waiting || st.HandshakeStep != 0 {
		t.Errorf("Wrong sequence should not complete the exchange: %+v", st)
	}
}

// ============================================================
// Ready Phase Tests
// ============================================================

func TestEngine_PollInterval(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.bringUp(unitFields())
	h.expectNone("after first poll")

	// First poll was sent 10ms ago
	h.runFor(54*time.Second + 800*time.Millisecond)
	h.expectNone("before poll interval")

	h.runFor(300 * time.Millisecond)
	poll := h.expectOne("poll interval")
	if poll.Opcode() != pac.OpStatusQuery {
		t.Fatalf("Expected status query, got opcode 0x%02X", poll.Opcode())
	}
	h.respond(poll, unitFields())

	h.runFor(54 * time.Second)
	h.expectNone("next window")
	h.runFor(900 * time.Millisecond)
	h.expectOne("second poll")
}

func TestEngine_CommandPreemptsPoll(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.bringUp(unitFields())
	h.expectNone("after first poll")

	h.runFor(30 * time.Second)
	h.e.Control(climate.Intent{Target: ptr(17.3)})
	h.step(nil)

	cmd := h.expectOne("command")
	if cmd.Opcode() != pac.OpControl {
		t.Fatalf("Expected control, got opcode 0x%02X", cmd.Opcode())
	}
	f, ok := cmd.Fields()
	if !ok || pac.TargetFromCode(f.TargetCode) != 17.5 {
		t.Errorf("Expected snapped target 17.5, got %+v", f)
	}
	if !f.Power || f.Mode != pac.ModeCodeCool {
		t.Errorf("Command should keep the unit's power and mode, got %+v", f)
	}

	reported := unitFields()
	reported.TargetCode = f.TargetCode
	h.respond(cmd, reported)
	if h.e.Snapshot().Target != 17.5 {
		t.Errorf("Target = %v; want 17.5", h.e.Snapshot().Target)
	}

	// The poll due 55s after the first poll is skipped
	h.runFor(25*time.Second + 100*time.Millisecond)
	h.expectNone("preempted poll")

	h.runFor(30 * time.Second)
	poll := h.expectOne("rescheduled poll")
	if poll.Opcode() != pac.OpStatusQuery {
		t.Errorf("Expected status query, got opcode 0x%02X", poll.Opcode())
	}
}

func TestEngine_CommandWaitsForResponse(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.bringUp(unitFields())
	h.runFor(55 * time.Second)
	poll := h.expectOne("poll")

	h.e.Control(climate.Intent{Fan: ptr(climate.FanHigh)})
	h.step(nil)
	h.expectNone("command while waiting")

	h.respond(poll, unitFields())
	cmd := h.expectOne("command after response")
	if f, _ := cmd.Fields(); cmd.Opcode() != pac.OpControl || f.Fan != pac.FanCodeHigh {
		t.Errorf("Expected fan high command, got opcode 0x%02X %+v", cmd.Opcode(), f)
	}
}

func TestEngine_IntentsCoalesceBeforeReady(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.e.Control(climate.Intent{Mode: ptr(climate.ModeHeat)})
	h.e.Control(climate.Intent{Target: ptr(21.0)})
	h.e.Control(climate.Intent{})

	if h.e.Pending().Empty() {
		t.Fatal("Intents should be pending before ready")
	}

	h.bringUp(unitFields())
	cmd := h.expectOne("coalesced command")
	f, _ := cmd.Fields()
	if cmd.Opcode() != pac.OpControl || f.Mode != pac.ModeCodeHeat || pac.TargetFromCode(f.TargetCode) != 21 {
		t.Errorf("Expected heat at 21, got opcode 0x%02X %+v", cmd.Opcode(), f)
	}
	if !h.e.Pending().Empty() {
		t.Error("Pending intent should be cleared once sent")
	}
}

// ============================================================
// Response Timeout Tests
// ============================================================

func TestEngine_ResendOnceThenIdle(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.bringUp(unitFields())
	h.runFor(55 * time.Second)
	poll := h.expectOne("poll")

	h.runFor(400 * time.Millisecond)
	h.expectNone("before response timeout")
	h.advance(tick)
	resend := h.expectOne("resend")
	if resend.Type() != pac.Resend || resend.Sequence() != poll.Sequence() || resend.Opcode() != poll.Opcode() {
		t.Errorf("Expected resend of seq %d, got type %v seq %d", poll.Sequence(), resend.Type(), resend.Sequence())
	}

	h.runFor(600 * time.Millisecond)
	h.expectNone("after resend")
	st := h.e.Status()
	if st.Waiting {
		t.Error("Sub-state should return to idle after the resend times out")
	}
	if st.ConsecutiveFailures != 1 || !errors.Is(st.Err, ErrResponseTimeout) {
		t.Errorf("Expected 1 failure with ErrResponseTimeout, got %d %v", st.ConsecutiveFailures, st.Err)
	}
	if st.Degraded {
		t.Error("A single failure should not degrade the link")
	}
	if stats := h.e.Stats(); stats.Resends != 1 || stats.ResponseTimeouts != 1 {
		t.Errorf("Expected 1 resend and 1 timeout, got %d and %d", stats.Resends, stats.ResponseTimeouts)
	}
}

func TestEngine_ResentPacketAnswered(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.bringUp(unitFields())
	h.runFor(55 * time.Second)
	poll := h.expectOne("poll")
	h.runFor(600 * time.Millisecond)
	h.expectOne("resend")

	h.respond(poll, unitFields())
	st := h.e.Status()
	if st.Waiting || st.ConsecutiveFailures != 0 {
		t.Errorf("Response to the resend should complete the exchange: %+v", st)
	}
}

func TestEngine_DegradedAndRecovery(t *testing.T) {
	var links []Status
	h := newHarness(t, DefaultConfig(), OnLink(func(s Status) { links = append(links, s) }))
	h.bringUp(unitFields())

	// Three unanswered polls
	h.runFor(170 * time.Second)
	st := h.e.Status()
	if !st.Degraded || st.ConsecutiveFailures != 3 {
		t.Fatalf("Expected degraded after 3 failures, got %+v", st)
	}
	if st.Phase != PhaseReady {
		t.Errorf("Degraded link should stay ready, got %v", st.Phase)
	}
	if st.Healthy() {
		t.Error("Degraded link should be unhealthy")
	}
	h.sent()

	h.runFor(50 * time.Second)
	poll := h.expectOne("poll after degrade")
	h.respond(poll, unitFields())

	st = h.e.Status()
	if st.Degraded || st.ConsecutiveFailures != 0 || st.Err != nil {
		t.Errorf("Correlated response should clear degraded state, got %+v", st)
	}
	if last := links[len(links)-1]; last.Degraded {
		t.Error("Link callback should report recovery")
	}
}

// ============================================================
// Receive Path Tests
// ============================================================

func TestEngine_ChunkedResponse(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.bringUp(unitFields())
	h.runFor(55 * time.Second)
	poll := h.expectOne("poll")

	f := unitFields()
	f.Current = 19
	frame := h.reply(poll, f)
	for i := 0; i < len(frame); i += 3 {
		end := i + 3
		if end > len(frame) {
			end = len(frame)
		}
		h.clock.now = h.clock.now.Add(5 * time.Millisecond)
		h.step(frame[i:end])
	}

	if h.e.Status().Waiting {
		t.Error("Reassembled response should complete the exchange")
	}
	if h.e.Snapshot().Current != 19 {
		t.Errorf("Current = %v; want 19", h.e.Snapshot().Current)
	}
}

func TestEngine_CorruptedPacketNotApplied(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.bringUp(unitFields())
	before := h.e.Snapshot()

	f := unitFields()
	f.Current = 12
	f.Mode = pac.ModeCodeHeat
	frame := h.codec.MustEncode(h.codec.NewStatusReport(pac.Normal, f).WithSequence(0x33))
	frame[len(frame)-1]++

	h.clock.now = h.clock.now.Add(10 * time.Millisecond)
	h.step(frame)

	if h.e.Snapshot() != before {
		t.Errorf("Corrupted packet changed the state: %+v", h.e.Snapshot())
	}
	h.expectNone("corrupted packet must not be acknowledged")
	if h.e.Stats().ChecksumErrors != 1 {
		t.Errorf("ChecksumErrors = %d; want 1", h.e.Stats().ChecksumErrors)
	}
}

func TestEngine_PacketsStampedWithClock(t *testing.T) {
	var stamps []time.Time
	h := newHarness(t, DefaultConfig(), OnPacket(func(p *pac.Packet, _ []pac.ValidationError) {
		stamps = append(stamps, p.Timestamp())
	}))
	h.bringUp(unitFields())

	h.clock.now = h.clock.now.Add(10 * time.Millisecond)
	h.step(h.codec.MustEncode(h.codec.NewStatusReport(pac.Normal, unitFields()).WithSequence(0x40)))

	if len(stamps) == 0 {
		t.Fatal("OnPacket was not called")
	}
	if last := stamps[len(stamps)-1]; !last.Equal(h.clock.now) {
		t.Errorf("Packet timestamp = %v; want engine clock %v", last, h.clock.now)
	}
}

func TestEngine_UnsolicitedPacketAcknowledged(t *testing.T) {
	var statuses []climate.State
	h := newHarness(t, DefaultConfig(), OnStatus(func(s climate.State) { statuses = append(statuses, s) }))
	h.bringUp(unitFields())
	h.runFor(55 * time.Second)
	h.expectOne("poll")

	f := unitFields()
	f.NanoeX = true
	h.clock.now = h.clock.now.Add(10 * time.Millisecond)
	h.step(h.codec.MustEncode(h.codec.NewStatusReport(pac.Normal, f).WithSequence(0x40)))

	ack := h.expectOne("ack")
	if ack.Type() != pac.Response || ack.Sequence() != 0x40 || len(ack.Payload()) != 0 {
		t.Errorf("Expected empty response with seq 0x40, got type %v seq %d len %d", ack.Type(), ack.Sequence(), len(ack.Payload()))
	}
	if !h.e.Status().Waiting {
		t.Error("Unsolicited packet must not affect the pending exchange")
	}
	if !h.e.Snapshot().NanoeX {
		t.Error("Unsolicited status should be applied")
	}
	if len(statuses) != 2 || !statuses[1].NanoeX {
		t.Errorf("Expected 2 status callbacks, got %d", len(statuses))
	}
}

func TestEngine_OverflowDiscarded(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.bringUp(unitFields())
	before := h.e.Snapshot()

	noise := []byte{pac.Header, 0x01, 0x00, 0xFF}
	for len(noise) < 200 {
		noise = append(noise, 0x11)
	}
	h.clock.now = h.clock.now.Add(10 * time.Millisecond)
	h.step(noise)
	h.runFor(time.Second)

	stats := h.e.Stats()
	if stats.Overflows != 1 {
		t.Errorf("Overflows = %d; want 1", stats.Overflows)
	}
	if stats.ResyncBytes != 72 {
		t.Errorf("ResyncBytes = %d; want 72", stats.ResyncBytes)
	}
	if h.e.Snapshot() != before {
		t.Error("Overflow must not change the state")
	}
	h.expectNone("overflow")
}

func TestEngine_TimedOutPartialFrame(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.bringUp(unitFields())

	h.clock.now = h.clock.now.Add(10 * time.Millisecond)
	h.step([]byte{pac.Header, 0x05, 0x00, 0x0B, pac.OpStatus})
	h.clock.now = h.clock.now.Add(25 * time.Millisecond)
	h.step(nil)

	if h.e.Stats().ShortPackets != 1 {
		t.Errorf("Partial frame should be closed by the read timeout and rejected, got %d short packets", h.e.Stats().ShortPackets)
	}
}

func TestEngine_PeripheralUpdates(t *testing.T) {
	var updates []climate.Update
	h := newHarness(t, DefaultConfig(), OnUpdate(func(u []climate.Update) { updates = append(updates, u...) }))
	h.bringUp(unitFields())

	if len(updates) != 4 {
		t.Fatalf("Expected 4 initial updates, got %v", updates)
	}

	h.runFor(55 * time.Second)
	poll := h.expectOne("poll")
	f := unitFields()
	f.Current = 22 // not projected
	h.respond(poll, f)
	if len(updates) != 4 {
		t.Errorf("Room temperature change should not project, got %v", updates[4:])
	}

	h.runFor(55 * time.Second)
	poll = h.expectOne("poll")
	f.Outside = 28
	h.respond(poll, f)
	if len(updates) != 5 || updates[4].Key != climate.KeyOutsideTemperature {
		t.Errorf("Expected an outside temperature update, got %v", updates)
	}
}

func TestEngine_WriteError(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	broken := errors.New("port closed")
	h.out.err = broken

	h.clock.now = h.clock.now.Add(10 * time.Second)
	err := h.e.Step(nil)
	if !errors.Is(err, broken) {
		t.Fatalf("Expected write error, got %v", err)
	}
	if h.e.Status().Waiting {
		t.Error("A failed write must not start an exchange")
	}
}

// ============================================================
// Config Tests
// ============================================================

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero response timeout", func(c *Config) { c.ResponseTimeout = 0 }},
		{"fail before attempt end", func(c *Config) { c.InitFailTimeout = time.Second }},
		{"no failures allowed", func(c *Config) { c.MaxConsecutiveFailures = 0 }},
		{"empty handshake step", func(c *Config) { c.Handshake = [][]byte{{}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if cfg.Validate() == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestConfig_IsZero(t *testing.T) {
	if !(Config{}).IsZero() {
		t.Error("empty config should be zero")
	}
	if DefaultConfig().IsZero() {
		t.Error("default config should not be zero")
	}
	if (Config{PollInterval: time.Second}).IsZero() {
		t.Error("config with one field set should not be zero")
	}
}

func TestPhase_TextRoundTrip(t *testing.T) {
	for _, p := range []Phase{PhaseBooting, PhaseInitializing, PhaseAwaitingFirstPoll, PhaseReady, PhaseFailed} {
		text, _ := p.MarshalText()
		var got Phase
		if err := got.UnmarshalText(text); err != nil || got != p {
			t.Errorf("UnmarshalText(%q) = %v, %v; want %v", text, got, err, p)
		}
	}
	var p Phase
	if err := p.UnmarshalText([]byte("sleeping")); err == nil {
		t.Error("unknown phase should fail")
	}
}
