package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/michaelfletchercgy/rainguage/gateway/internal/config"
	"github.com/michaelfletchercgy/rainguage/shared/telemetry"
)

func testConfig(port string, baud int, uplinkURL string) config.Config {
	return config.Config{
		AppEnv:            "dev",
		SerialPort:        port,
		SerialBaud:        baud,
		ReopenMaxInterval: 50 * time.Millisecond,
		Uplink:            config.UplinkHTTP,
		HTTPUplinkURL:     uplinkURL,
		HTTPUplinkTimeout: time.Second,
		BreakerFailures:   5,
		BreakerOpen:       time.Second,
		BreakerInterval:   time.Second,
	}
}

func TestRun_ReplaysCapture(t *testing.T) {
	var mu sync.Mutex
	var received []telemetry.Packet
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p telemetry.Packet
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, p)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(ts.Close)

	var capture bytes.Buffer
	capture.WriteString("boot banner\r\n")
	for i := uint32(1); i <= 3; i++ {
		frame, err := telemetry.Marshal(&telemetry.Packet{LoopCnt: i, Vbat: 1200 - i})
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		capture.Write(frame)
	}
	path := filepath.Join(t.TempDir(), "capture.bin")
	if err := os.WriteFile(path, capture.Bytes(), 0o644); err != nil {
		t.Fatalf("write capture: %v", err)
	}

	if err := Run(context.Background(), testConfig(path, 0, ts.URL)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 3 {
		t.Fatalf("received %d packets; want 3", len(received))
	}
	for i, p := range received {
		if p.LoopCnt != uint32(i+1) {
			t.Errorf("packet %d loop_cnt = %d; want %d", i, p.LoopCnt, i+1)
		}
	}
}

func TestRun_ReopensUntilCancelled(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "ttyMISSING")
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := Run(ctx, testConfig(missing, 115200, "http://127.0.0.1:1/api/v1/telemetry"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run err = %v; want context.DeadlineExceeded", err)
	}
}
