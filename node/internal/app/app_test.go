package app

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/michaelfletchercgy/rainguage/node/internal/config"
	"github.com/michaelfletchercgy/rainguage/node/internal/link"
	"github.com/michaelfletchercgy/rainguage/node/internal/metrics"
	"github.com/michaelfletchercgy/rainguage/node/internal/sensor"
	"github.com/michaelfletchercgy/rainguage/shared/telemetry"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type flakySensor struct {
	readings []sensor.Reading
	errs     []error
	i        int
}

func (f *flakySensor) Sense(context.Context) (sensor.Reading, error) {
	i := f.i
	f.i++
	return f.readings[i], f.errs[i]
}

func decodeAll(t *testing.T, b []byte) []telemetry.Packet {
	t.Helper()
	dec := telemetry.NewDecoder(bufio.NewReader(bytes.NewReader(b)))
	var out []telemetry.Packet
	for p, err := range dec.Packets() {
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		out = append(out, p)
	}
	return out
}

func TestNode_Transmit(t *testing.T) {
	var counters metrics.Counters
	var wire bytes.Buffer
	id := [telemetry.DeviceIDLen]byte{0xde, 0xad}

	src := &flakySensor{
		readings: []sensor.Reading{{Temperature: 21.5, RelativeHumidity: 40}, {}, {Temperature: 19, RelativeHumidity: 70}},
		errs:     []error{nil, errors.New("i2c nack"), nil},
	}
	n := &Node{
		DeviceID: id,
		Sensor:   src,
		Out:      link.NewCountingWriter(&wire, &counters.LoraTxBytes, &counters.LoraErrors),
		Counters: &counters,
		Battery:  func() uint32 { return 3300 },
		Logger:   discard(),
	}
	counters.Tips.Add(2)

	for range 3 {
		if err := n.Transmit(context.Background()); err != nil {
			t.Fatalf("Transmit() err = %v", err)
		}
	}

	got := decodeAll(t, wire.Bytes())
	if len(got) != 3 {
		t.Fatalf("decoded %d packets, want 3", len(got))
	}

	for i, p := range got {
		if p.DeviceID != id || p.LoopCnt != uint32(i) || p.Vbat != 3300 || p.TipCnt != 2 {
			t.Errorf("packet %d = %+v", i, p)
		}
		if want := uint32(i * telemetry.MaxFrameLen); p.LoraTxBytes != want {
			t.Errorf("packet %d LoraTxBytes = %d, want %d", i, p.LoraTxBytes, want)
		}
		if p.LoraRxBytes != 0 || p.USBBytesRead != 0 {
			t.Errorf("packet %d receive counters = %d/%d, want 0 on a transmit-only link", i, p.LoraRxBytes, p.USBBytesRead)
		}
	}

	// The failed read repeats the previous reading and is counted.
	if got[1].Temperature != 21.5 || got[1].RelativeHumidity != 40 || got[1].HardwareErrOtherCnt != 1 {
		t.Errorf("packet after sensor failure = %+v", got[1])
	}
	if got[2].Temperature != 19 || got[2].HardwareErrOtherCnt != 1 {
		t.Errorf("packet after recovery = %+v", got[2])
	}
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestNode_TransmitWriteError(t *testing.T) {
	var counters metrics.Counters
	n := &Node{
		Sensor:   sensor.Static{},
		Out:      link.NewCountingWriter(brokenWriter{}, &counters.USBBytesWritten, &counters.USBErrors),
		Counters: &counters,
		Logger:   discard(),
	}

	err := n.Transmit(context.Background())
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("Transmit() err = %v, want ErrClosedPipe", err)
	}
	if counters.USBErrors.Load() != 1 {
		t.Errorf("USBErrors = %d, want 1", counters.USBErrors.Load())
	}
}

func TestRun_WritesCapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.bin")
	cfg := config.Config{
		AppEnv:            "dev",
		DeviceID:          [telemetry.DeviceIDLen]byte{15: 7},
		Interval:          10 * time.Millisecond,
		Vbat:              3100,
		LinkPort:          path,
		LinkBaud:          0,
		LinkKind:          config.LinkUSB,
		Sensor:            config.SensorStatic,
		StaticTemperature: 12.5,
		StaticHumidity:    80,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	if err := Run(ctx, cfg, discard()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() = %v, want DeadlineExceeded", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := decodeAll(t, b)
	if len(got) < 2 {
		t.Fatalf("decoded %d packets, want at least 2", len(got))
	}
	for i, p := range got {
		if p.LoopCnt != uint32(i) || p.DeviceID != cfg.DeviceID || p.Vbat != 3100 {
			t.Errorf("packet %d = %+v", i, p)
		}
		if p.Temperature != 12.5 || p.RelativeHumidity != 80 {
			t.Errorf("packet %d reading = %v/%v", i, p.Temperature, p.RelativeHumidity)
		}
		if want := uint32(i * telemetry.MaxFrameLen); p.USBBytesWritten != want || p.LoraTxBytes != 0 {
			t.Errorf("packet %d usb=%d lora=%d, want usb=%d", i, p.USBBytesWritten, p.LoraTxBytes, want)
		}
	}
}

func TestRun_BadLink(t *testing.T) {
	cfg := config.Config{
		Interval: time.Second,
		LinkPort: filepath.Join(t.TempDir(), "missing", "node.bin"),
		Sensor:   config.SensorStatic,
	}
	if err := Run(context.Background(), cfg, discard()); err == nil {
		t.Fatal("Run() with unopenable link succeeded")
	}
}
