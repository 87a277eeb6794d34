package influx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/michaelfletchercgy/rainguage/server/internal/modules/telemetry/types"
	"github.com/michaelfletchercgy/rainguage/shared/telemetry"
)

func sample() types.Ingest {
	var id [telemetry.DeviceIDLen]byte
	id[15] = 0x2a
	return types.Ingest{
		Packet: telemetry.Packet{
			DeviceID:    id,
			LoopCnt:     52,
			Vbat:        1200,
			Temperature: 21.5,
		},
		ReceivedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Source:     types.SourceMQTT,
	}
}

func TestNewStore_Incomplete(t *testing.T) {
	if _, err := NewStore(Config{URL: "http://influx:8086"}); err == nil {
		t.Fatal("NewStore with missing token/org/bucket succeeded")
	}
}

func TestPoint(t *testing.T) {
	p := Point(sample())

	if p.Name() != "telemetry" {
		t.Errorf("measurement = %q", p.Name())
	}
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["device_id"] != "0000000000000000000000000000002a" || tags["source"] != "mqtt" {
		t.Errorf("tags = %v", tags)
	}
	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	if len(fields) != 12 {
		t.Errorf("got %d fields, want 12", len(fields))
	}
	if fields["loop_cnt"] != int64(52) || fields["temperature"] != float64(21.5) {
		t.Errorf("fields = %v", fields)
	}
	if !p.Time().Equal(sample().ReceivedAt) {
		t.Errorf("time = %v", p.Time())
	}
}

func TestStore_Write(t *testing.T) {
	var (
		mu   sync.Mutex
		body string
		req  *http.Request
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		body, req = string(b), r
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s, err := NewStore(Config{URL: srv.URL, Token: "secret", Org: "home", Bucket: "rain"})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()

	if err := s.Write(context.Background(), sample()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if req.URL.Path != "/api/v2/write" {
		t.Errorf("path = %q", req.URL.Path)
	}
	if q := req.URL.Query(); q.Get("org") != "home" || q.Get("bucket") != "rain" {
		t.Errorf("query = %v", q)
	}
	if got := req.Header.Get("Authorization"); got != "Token secret" {
		t.Errorf("Authorization = %q", got)
	}
	for _, want := range []string{
		"telemetry,device_id=0000000000000000000000000000002a,source=mqtt ",
		"loop_cnt=52i",
		"vbat=1200i",
		"temperature=21.5",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body %q missing %q", body, want)
		}
	}
}

func TestStore_WriteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"unavailable","message":"down"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, err := NewStore(Config{URL: srv.URL, Token: "secret", Org: "home", Bucket: "rain"})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()

	if err := s.Write(context.Background(), sample()); err == nil {
		t.Fatal("Write against failing server succeeded")
	}
}
