package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/michaelfletchercgy/rainguage/server/internal/config"
	"github.com/michaelfletchercgy/rainguage/server/internal/metrics"
)

type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	h.records = append(h.records, r.Clone())
	h.mu.Unlock()
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) attrs(i int) map[string]slog.Value {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := map[string]slog.Value{}
	h.records[i].Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value
		return true
	})
	return out
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestHealthz(t *testing.T) {
	db := openDB(t)
	ts := httptest.NewServer(NewMux(db, func() int { return 3 }))
	t.Cleanup(ts.Close)

	resp, err := ts.Client().Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusOK)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body.status=%v want=ok", body["status"])
	}
	if body["queued"] != float64(3) {
		t.Errorf("body.queued=%v want=3", body["queued"])
	}
}

func TestHealthz_DatabaseDown(t *testing.T) {
	db := openDB(t)
	_ = db.Close()

	rec := httptest.NewRecorder()
	NewMux(db, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want=%d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHealthz_MethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	NewMux(openDB(t), nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d want=%d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestMetrics(t *testing.T) {
	metrics.RecordFrameError("checksum")

	rec := httptest.NewRecorder()
	NewMux(openDB(t), nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d want=%d", rec.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `rainguage_server_frame_errors_total{kind="checksum"}`) {
		t.Errorf("metrics output missing frame error counter:\n%s", body)
	}
}

func TestNewServer_LogsRequests(t *testing.T) {
	h := &captureHandler{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ok", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	})
	mux.HandleFunc("GET /boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	srv := NewServer(config.Config{HTTPAddr: ":0"}, mux, slog.New(h))
	if srv.Addr != ":0" {
		t.Errorf("Addr=%q want=:0", srv.Addr)
	}
	if srv.ReadHeaderTimeout == 0 {
		t.Error("ReadHeaderTimeout not set")
	}

	srv.Handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	srv.Handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	if len(h.records) != 2 {
		t.Fatalf("got %d log records, want 2", len(h.records))
	}

	ok := h.attrs(0)
	if h.records[0].Level != slog.LevelInfo {
		t.Errorf("level=%v want=INFO", h.records[0].Level)
	}
	if ok["status"].Int64() != http.StatusOK || ok["bytes"].Int64() != 5 || ok["path"].String() != "/ok" {
		t.Errorf("attrs=%v", ok)
	}

	boom := h.attrs(1)
	if h.records[1].Level != slog.LevelWarn {
		t.Errorf("level=%v want=WARN", h.records[1].Level)
	}
	if boom["status"].Int64() != http.StatusInternalServerError {
		t.Errorf("status=%v want=500", boom["status"])
	}
}
