package httpapi

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/michaelfletchercgy/rainguage/server/internal/utils"
)

const healthTimeout = 2 * time.Second

type healthchecker interface {
	handleHealthz(w http.ResponseWriter, r *http.Request)
}

type healthcheckerImpl struct {
	db     *sql.DB
	queued func() int
}

func NewHealthchecker(db *sql.DB, queued func() int) healthchecker {
	return &healthcheckerImpl{db: db, queued: queued}
}

func (h *healthcheckerImpl) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	var ok int
	if err := h.db.QueryRowContext(ctx, `SELECT 1`).Scan(&ok); err != nil {
		slog.Error("failed to check database connectivity", "error", err)
		utils.WriteError(w, http.StatusServiceUnavailable, "failed to check database connectivity")
		return
	}

	resp := map[string]any{"status": "ok"}
	if h.queued != nil {
		resp["queued"] = h.queued()
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

func registerHealthcheck(mux *http.ServeMux, db *sql.DB, queued func() int) {
	healthchecker := NewHealthchecker(db, queued)
	mux.HandleFunc("GET /healthz", healthchecker.handleHealthz)
}
