package controller

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/michaelfletchercgy/rainguage/server/internal/modules/telemetry/repository"
	"github.com/michaelfletchercgy/rainguage/server/internal/modules/telemetry/types"
)

// Ingester accepts packets for asynchronous persistence.
type Ingester interface {
	Enqueue(in types.Ingest) error
}

type TelemetryController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type telemetryControllerImpl struct {
	repository repository.TelemetryRepository
	ingester   Ingester
	logger     *slog.Logger
	now        func() time.Time
}

func NewTelemetryController(repo repository.TelemetryRepository, ingester Ingester, logger *slog.Logger) TelemetryController {
	if logger == nil {
		logger = slog.Default()
	}
	return &telemetryControllerImpl{
		repository: repo,
		ingester:   ingester,
		logger:     logger,
		now:        time.Now,
	}
}

func (c *telemetryControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/telemetry", c.handleIngest)
	mux.HandleFunc("POST /api/v1/frames", c.handleFrames)
	mux.HandleFunc("GET /api/v1/telemetry", c.handleRecent)
	mux.HandleFunc("GET /api/v1/devices", c.handleDevices)
	mux.HandleFunc("GET /api/v1/devices/{id}/telemetry", c.handleDeviceTelemetry)
	mux.HandleFunc("GET /api/v1/devices/{id}/latest", c.handleDeviceLatest)
}
