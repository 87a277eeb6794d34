package migrate

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		in          string
		wantVersion string
		wantName    string
		wantOK      bool
	}{
		{in: "0001_telemetry.sql", wantVersion: "0001", wantName: "telemetry", wantOK: true},
		{in: "0012_add_index_on_ts.sql", wantVersion: "0012", wantName: "add_index_on_ts", wantOK: true},
		{in: "1_short.sql", wantOK: false},
		{in: "0001_telemetry.txt", wantOK: false},
		{in: "README.md", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, n, ok := parseMigrationFilename(tt.in)
			if ok != tt.wantOK || v != tt.wantVersion || n != tt.wantName {
				t.Errorf("parseMigrationFilename(%q) = %q, %q, %v; want %q, %q, %v",
					tt.in, v, n, ok, tt.wantVersion, tt.wantName, tt.wantOK)
			}
		})
	}
}

func TestRun_AppliesOnce(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	applied, err := Run(ctx, db, quietLogger())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(applied) == 0 || applied[0].Version != "0001" {
		t.Fatalf("applied = %+v, want 0001 first", applied)
	}

	for _, table := range []string{"devices", "telemetry"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	again, err := Run(ctx, db, quietLogger())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second Run applied %d migrations, want 0", len(again))
	}
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	before, err := Status(ctx, db)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	for _, m := range before {
		if m.Applied() {
			t.Errorf("migration %s reported applied before Run", m.Version)
		}
	}

	if _, err := Run(ctx, db, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	after, err := Status(ctx, db)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("Status listed %d migrations, want %d", len(after), len(before))
	}
	for _, m := range after {
		if !m.Applied() {
			t.Errorf("migration %s not applied after Run", m.Version)
		}
	}
}
