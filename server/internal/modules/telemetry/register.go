package telemetry

import (
	"log/slog"
	"net/http"

	"github.com/michaelfletchercgy/rainguage/server/internal/modules/telemetry/controller"
	"github.com/michaelfletchercgy/rainguage/server/internal/modules/telemetry/repository"
)

func RegisterFeature(mux *http.ServeMux, repo repository.TelemetryRepository, ingester controller.Ingester, logger *slog.Logger) {
	telemetryController := controller.NewTelemetryController(repo, ingester, logger)
	telemetryController.RegisterRoutes(mux)
}
