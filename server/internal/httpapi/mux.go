package httpapi

import (
	"database/sql"
	"net/http"

	"github.com/michaelfletchercgy/rainguage/server/internal/metrics"
)

// NewMux returns a mux serving /healthz and /metrics. queued reports the
// persist backlog on /healthz and may be nil.
func NewMux(db *sql.DB, queued func() int) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, db, queued)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}
