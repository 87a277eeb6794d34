package forward

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/michaelfletchercgy/rainguage/shared/telemetry"
)

type recordingSink struct {
	mu   sync.Mutex
	got  []telemetry.Packet
	fail error
}

func (s *recordingSink) Name() string { return "test" }

func (s *recordingSink) Send(_ context.Context, p telemetry.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.got = append(s.got, p)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func frame(t *testing.T, p telemetry.Packet) []byte {
	t.Helper()
	b, err := telemetry.Marshal(&p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return b
}

func TestHandler_Run(t *testing.T) {
	dev := [telemetry.DeviceIDLen]byte{1, 2, 3}
	first := telemetry.Packet{DeviceID: dev, LoopCnt: 1, Vbat: 1200}
	second := telemetry.Packet{DeviceID: dev, LoopCnt: 2, Vbat: 1199, TipCnt: 1}

	corrupt := frame(t, first)
	corrupt[10] ^= 0x01

	var stream bytes.Buffer
	stream.Write(frame(t, first))
	stream.Write(corrupt)
	stream.Write(frame(t, first))
	stream.Write([]byte("noise"))
	stream.Write(frame(t, second))

	sink := &recordingSink{}
	h := NewHandler(sink, discardLogger())

	if err := h.Run(context.Background(), &stream); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sink.got) != 2 || sink.got[0] != first || sink.got[1] != second {
		t.Fatalf("forwarded = %+v", sink.got)
	}
	want := Stats{Packets: 3, Forwarded: 2, Duplicates: 1, FrameErrors: 1}
	if got := h.Stats(); got != want {
		t.Errorf("Stats = %+v; want %+v", got, want)
	}
}

func TestHandler_SendFailureContinues(t *testing.T) {
	sink := &recordingSink{fail: errors.New("uplink down")}
	h := NewHandler(sink, discardLogger())

	var stream bytes.Buffer
	stream.Write(frame(t, telemetry.Packet{LoopCnt: 1}))
	stream.Write(frame(t, telemetry.Packet{LoopCnt: 2}))

	if err := h.Run(context.Background(), &stream); err != nil {
		t.Fatalf("Run: %v", err)
	}
	s := h.Stats()
	if s.Packets != 2 || s.SendFailures != 2 || s.Forwarded != 0 {
		t.Errorf("Stats = %+v", s)
	}
}

type brokenReader struct{ err error }

func (r brokenReader) Read([]byte) (int, error) { return 0, r.err }

func TestHandler_SourceError(t *testing.T) {
	errPort := errors.New("device unplugged")
	h := NewHandler(&recordingSink{}, discardLogger())

	err := h.Run(context.Background(), brokenReader{err: errPort})
	if !errors.Is(err, errPort) {
		t.Fatalf("Run err = %v; want %v", err, errPort)
	}
}

func TestHandler_DedupPerDevice(t *testing.T) {
	sink := &recordingSink{}
	h := NewHandler(sink, discardLogger())
	ctx := context.Background()

	a := telemetry.Packet{DeviceID: [telemetry.DeviceIDLen]byte{0xA}, LoopCnt: 5}
	b := telemetry.Packet{DeviceID: [telemetry.DeviceIDLen]byte{0xB}, LoopCnt: 5}

	h.HandlePacket(ctx, a)
	h.HandlePacket(ctx, b)
	h.HandlePacket(ctx, a)

	if len(sink.got) != 2 {
		t.Fatalf("forwarded %d packets; want 2", len(sink.got))
	}
	if h.Stats().Duplicates != 1 {
		t.Errorf("Duplicates = %d; want 1", h.Stats().Duplicates)
	}
}

func TestHandler_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stream bytes.Buffer
	stream.Write(frame(t, telemetry.Packet{LoopCnt: 1}))
	stream.Write(frame(t, telemetry.Packet{LoopCnt: 2}))

	sink := &recordingSink{}
	err := NewHandler(sink, discardLogger()).Run(ctx, &stream)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v; want context.Canceled", err)
	}
	if len(sink.got) != 1 {
		t.Errorf("forwarded %d packets; want 1", len(sink.got))
	}
}
