package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	_ "github.com/mattn/go-sqlite3"

	"github.com/michaelfletchercgy/rainguage/tools/migrate"
)

const usage = `usage: %s <command>
  migrate  apply pending schema migrations
  status   list migrations and when they were applied
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{TimeFormat: time.Kitchen}))
	slog.SetDefault(logger)

	dbPath := os.Getenv("SQLITE_PATH")
	if dbPath == "" {
		dbPath = "../dev/sqlite/app.db"
	}
	dbPath = filepath.Clean(dbPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "db open: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			slog.Error("db close", "err", closeErr)
		}
	}()

	if err := run(ctx, os.Args[1], conn, os.Stdout, logger); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, conn *sql.DB, out io.Writer, logger *slog.Logger) error {
	switch cmd {
	case "migrate":
		applied, err := migrate.Run(ctx, conn, logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d migrations applied\n", len(applied))
	case "status":
		all, err := migrate.Status(ctx, conn)
		if err != nil {
			return err
		}
		for _, m := range all {
			at := "pending"
			if m.Applied() {
				at = m.AppliedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(out, "%s  %-24s %s\n", m.Version, m.Name, at)
		}
	default:
		return fmt.Errorf("unknown command")
	}
	return nil
}

func Open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", buildDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	return db, nil
}

func buildDSN(dbPath string) string {
	params := "_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"

	if strings.HasPrefix(dbPath, "file:") {
		sep := "?"
		if strings.Contains(dbPath, "?") {
			sep = "&"
		}
		return dbPath + sep + params
	}

	return fmt.Sprintf("file:%s?%s", dbPath, params)
}
