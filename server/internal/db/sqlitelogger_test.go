package db

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"testing"
)

// captureHandler records log records for assertion in tests.
type captureHandler struct {
	mu      sync.Mutex
	level   slog.Level
	records []map[string]slog.Value
}

func (h *captureHandler) Enabled(_ context.Context, l slog.Level) bool { return l >= h.level }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := map[string]slog.Value{
		"msg":   slog.StringValue(r.Message),
		"level": slog.StringValue(r.Level.String()),
	}
	r.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a.Value
		return true
	})
	h.records = append(h.records, m)
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

func (h *captureHandler) last(t *testing.T) map[string]slog.Value {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.records) - 1; i >= 0; i-- {
		if h.records[i]["msg"].String() == "sql" {
			return h.records[i]
		}
	}
	t.Fatal("no sql log record")
	return nil
}

func (h *captureHandler) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = nil
}

func openLogged(t *testing.T, h *captureHandler) *sql.DB {
	t.Helper()
	connector, err := NewLoggingConnector(":memory:", slog.New(h))
	if err != nil {
		t.Fatalf("NewLoggingConnector: %v", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewLoggingConnector_NilLoggerUsesDefault(t *testing.T) {
	conn, err := NewLoggingConnector(":memory:", nil)
	if err != nil {
		t.Fatalf("NewLoggingConnector: %v", err)
	}
	if conn.(*loggingConnector).logger != slog.Default() {
		t.Error("logger is not slog.Default()")
	}
}

func TestLoggingConnector_ExecLogsRowsAffected(t *testing.T) {
	h := &captureHandler{level: slog.LevelDebug}
	db := openLogged(t, h)

	if _, err := db.Exec(`CREATE TABLE t (id INTEGER, name TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	h.reset()

	if _, err := db.Exec(`INSERT INTO t (id, name) VALUES (?, ?), (?, ?)`, 1, "a", 2, "b"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got := h.last(t)
	if got["op"].String() != "exec" {
		t.Errorf("op = %q, want exec", got["op"].String())
	}
	if got["sql"].String() != `INSERT INTO t (id, name) VALUES (?, ?), (?, ?)` {
		t.Errorf("sql = %q", got["sql"].String())
	}
	if got["rows"].Int64() != 2 {
		t.Errorf("rows = %d, want 2", got["rows"].Int64())
	}
	args, ok := got["args"].Any().([]string)
	if !ok || len(args) != 4 || args[1] != "a" {
		t.Errorf("args = %v", got["args"].Any())
	}
	if got["level"].String() != "DEBUG" {
		t.Errorf("level = %s, want DEBUG", got["level"].String())
	}
}

func TestLoggingConnector_QueryLogged(t *testing.T) {
	h := &captureHandler{level: slog.LevelDebug}
	db := openLogged(t, h)

	var one int
	if err := db.QueryRow(`SELECT ?`, 1).Scan(&one); err != nil {
		t.Fatalf("query row: %v", err)
	}
	got := h.last(t)
	if got["op"].String() != "query" {
		t.Errorf("op = %q, want query", got["op"].String())
	}
	if got["sql"].String() != `SELECT ?` {
		t.Errorf("sql = %q", got["sql"].String())
	}
	if _, ok := got["elapsed"]; !ok {
		t.Error("missing elapsed attribute")
	}
}

func TestLoggingConnector_MultiStatementExec(t *testing.T) {
	h := &captureHandler{level: slog.LevelDebug}
	db := openLogged(t, h)

	script := `CREATE TABLE a (id INTEGER); CREATE TABLE b (id INTEGER);`
	if _, err := db.Exec(script); err != nil {
		t.Fatalf("exec script: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO b (id) VALUES (1)`); err != nil {
		t.Fatalf("second table missing: %v", err)
	}
}

func TestLoggingConnector_PreparedStatementLogged(t *testing.T) {
	h := &captureHandler{level: slog.LevelDebug}
	db := openLogged(t, h)

	if _, err := db.Exec(`CREATE TABLE t (payload BLOB)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	stmt, err := db.Prepare(`INSERT INTO t (payload) VALUES (?)`)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	defer func() { _ = stmt.Close() }()
	h.reset()

	if _, err := stmt.Exec([]byte{0x7d, 0x08}); err != nil {
		t.Fatalf("exec: %v", err)
	}
	got := h.last(t)
	args, _ := got["args"].Any().([]string)
	if len(args) != 1 || args[0] != "x'7d08'" {
		t.Errorf("args = %v, want [x'7d08']", args)
	}
}

func TestLoggingConnector_ErrorLoggedAtWarn(t *testing.T) {
	h := &captureHandler{level: slog.LevelWarn}
	db := openLogged(t, h)

	if _, err := db.Exec(`INSERT INTO missing (id) VALUES (1)`); err == nil {
		t.Fatal("expected error for missing table")
	}
	got := h.last(t)
	if got["level"].String() != "WARN" {
		t.Errorf("level = %s, want WARN", got["level"].String())
	}
	if _, ok := got["err"]; !ok {
		t.Error("missing err attribute")
	}
}

func TestLoggingConnector_DebugSuppressedAboveLevel(t *testing.T) {
	h := &captureHandler{level: slog.LevelInfo}
	db := openLogged(t, h)

	if err := db.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE t (id INTEGER)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) != 0 {
		t.Errorf("got %d records at info level, want 0", len(h.records))
	}
}
