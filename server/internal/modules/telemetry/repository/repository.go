package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/michaelfletchercgy/rainguage/server/internal/modules/telemetry/types"
)

//go:embed sql/upsert-device.sql
var upsertDeviceSQL string

//go:embed sql/insert-telemetry.sql
var insertTelemetrySQL string

//go:embed sql/get-latest.sql
var getLatestSQL string

//go:embed sql/get-recent.sql
var getRecentSQL string

//go:embed sql/get-by-device.sql
var getByDeviceSQL string

//go:embed sql/get-devices.sql
var getDevicesSQL string

//go:embed sql/count-telemetry.sql
var countTelemetrySQL string

// ErrNotFound is returned when a device has no stored telemetry.
var ErrNotFound = errors.New("not found")

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type TelemetryRepository interface {
	InsertPacket(ctx context.Context, in types.Ingest) error
	GetLatest(ctx context.Context, deviceID string) (types.Record, error)
	GetRecent(ctx context.Context, limit int) ([]types.Record, error)
	GetByDevice(ctx context.Context, deviceID string, from, to time.Time, limit int) ([]types.Record, error)
	GetDevices(ctx context.Context) ([]types.Device, error)
	Count(ctx context.Context) (int, error)
}

type repositoryImpl struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) TelemetryRepository {
	return &repositoryImpl{db: db}
}

// InsertPacket stores the packet and bumps its device's counters in one
// transaction.
func (r *repositoryImpl) InsertPacket(ctx context.Context, in types.Ingest) (err error) {
	p := in.Packet
	deviceID := p.DeviceIDHex()
	ts := formatTime(in.ReceivedAt)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, upsertDeviceSQL, deviceID, ts, ts); err != nil {
		return fmt.Errorf("upsert device %s: %w", deviceID, err)
	}
	if _, err = tx.ExecContext(ctx, insertTelemetrySQL,
		deviceID, ts, in.Source,
		p.LoopCnt, p.TipCnt, p.Vbat, p.Temperature, p.RelativeHumidity,
		p.USBBytesRead, p.USBBytesWritten, p.USBErrorCnt,
		p.LoraRxBytes, p.LoraTxBytes, p.LoraErrorCnt,
		p.HardwareErrOtherCnt,
	); err != nil {
		return fmt.Errorf("insert telemetry: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *repositoryImpl) GetLatest(ctx context.Context, deviceID string) (types.Record, error) {
	rows, err := r.db.QueryContext(ctx, getLatestSQL, deviceID)
	if err != nil {
		return types.Record{}, err
	}
	defer closeRows(rows, "latest")

	recs, err := scanRecords(rows)
	if err != nil {
		return types.Record{}, err
	}
	if len(recs) == 0 {
		return types.Record{}, fmt.Errorf("device %s: %w", deviceID, ErrNotFound)
	}
	return recs[0], nil
}

func (r *repositoryImpl) GetRecent(ctx context.Context, limit int) ([]types.Record, error) {
	rows, err := r.db.QueryContext(ctx, getRecentSQL, limit)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows, "recent")
	return scanRecords(rows)
}

// GetByDevice returns up to limit records for a device, newest first. A zero
// from or to leaves that side of the range open.
func (r *repositoryImpl) GetByDevice(ctx context.Context, deviceID string, from, to time.Time, limit int) ([]types.Record, error) {
	var fromStr, toStr string
	if !from.IsZero() {
		fromStr = formatTime(from)
	}
	if !to.IsZero() {
		toStr = formatTime(to)
	}
	rows, err := r.db.QueryContext(ctx, getByDeviceSQL, deviceID, fromStr, toStr, limit)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows, "by device")
	return scanRecords(rows)
}

func (r *repositoryImpl) GetDevices(ctx context.Context) ([]types.Device, error) {
	rows, err := r.db.QueryContext(ctx, getDevicesSQL)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows, "devices")

	out := []types.Device{}
	for rows.Next() {
		var d types.Device
		var first, last string
		if err := rows.Scan(&d.ID, &first, &last, &d.PacketCount); err != nil {
			return nil, err
		}
		if d.FirstSeen, err = parseTime(first); err != nil {
			return nil, err
		}
		if d.LastSeen, err = parseTime(last); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *repositoryImpl) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, countTelemetrySQL).Scan(&n)
	return n, err
}

func scanRecords(rows *sql.Rows) ([]types.Record, error) {
	out := []types.Record{}
	for rows.Next() {
		var rec types.Record
		var ts string
		if err := rows.Scan(
			&rec.ID, &rec.DeviceID, &ts, &rec.Source,
			&rec.LoopCnt, &rec.TipCnt, &rec.Vbat, &rec.Temperature, &rec.RelativeHumidity,
			&rec.USBBytesRead, &rec.USBBytesWritten, &rec.USBErrorCnt,
			&rec.LoraRxBytes, &rec.LoraTxBytes, &rec.LoraErrorCnt,
			&rec.HardwareErrOtherCnt,
		); err != nil {
			return nil, err
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, err
		}
		rec.ReceivedAt = t
		out = append(out, rec)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Error("close rows", "query", what, "error", err)
	}
}
