package mqtt

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/michaelfletchercgy/rainguage/gateway/internal/config"
	"github.com/michaelfletchercgy/rainguage/shared/telemetry"
)

func TestTelemetryTopic(t *testing.T) {
	p := telemetry.Packet{DeviceID: [telemetry.DeviceIDLen]byte{0xE6, 0x61}}
	got := TelemetryTopic("raingauge", &p)
	want := "raingauge/e6610000000000000000000000000000/telemetry"
	if got != want {
		t.Errorf("topic = %q; want %q", got, want)
	}
}

func TestClient_SendWhenNotConnected(t *testing.T) {
	cfg := config.Config{MQTTBroker: "127.0.0.1", MQTTPort: 1, MQTTClientID: "test", MQTTTopicPrefix: "raingauge"}
	c, err := NewClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.Name() != "mqtt" {
		t.Errorf("Name = %q", c.Name())
	}
	if err := c.Send(context.Background(), telemetry.Packet{}); err == nil {
		t.Fatal("expected error when not connected")
	}

	c.Disconnect()
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected error after Disconnect")
	}
}
