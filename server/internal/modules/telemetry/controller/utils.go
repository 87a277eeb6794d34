package controller

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/michaelfletchercgy/rainguage/shared/telemetry"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

func parseRangeQuery(r *http.Request) (from time.Time, to time.Time, limit int, err error) {
	q := r.URL.Query()

	if s := q.Get("from"); s != "" {
		from, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, 0, errors.New("invalid 'from' (expected RFC3339)")
		}
	}
	if s := q.Get("to"); s != "" {
		to, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, 0, errors.New("invalid 'to' (expected RFC3339)")
		}
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return time.Time{}, time.Time{}, 0, errors.New("'from' must be <= 'to'")
	}

	limit, err = parseLimitQuery(r)
	if err != nil {
		return time.Time{}, time.Time{}, 0, err
	}
	return from, to, limit, nil
}

func parseLimitQuery(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("invalid 'limit' (expected integer)")
	}
	if n <= 0 {
		return 0, errors.New("'limit' must be > 0")
	}
	if n > maxLimit {
		return 0, errors.New("'limit' must be <= 1000")
	}
	return n, nil
}

// parseDeviceID validates the {id} path segment and returns it in the
// lowercase form the repository stores.
func parseDeviceID(r *http.Request) (string, error) {
	raw := r.PathValue("id")
	if raw == "" {
		return "", errors.New("missing device id")
	}
	id, err := telemetry.ParseDeviceID(raw)
	if err != nil {
		return "", err
	}
	p := telemetry.Packet{DeviceID: id}
	return p.DeviceIDHex(), nil
}

func zeroAsNullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
