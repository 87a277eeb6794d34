package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/michaelfletchercgy/rainguage/server/internal/config"
	"github.com/michaelfletchercgy/rainguage/server/internal/db"
	"github.com/michaelfletchercgy/rainguage/server/internal/httpapi"
	telemetrymod "github.com/michaelfletchercgy/rainguage/server/internal/modules/telemetry"
	"github.com/michaelfletchercgy/rainguage/server/internal/modules/telemetry/influx"
	"github.com/michaelfletchercgy/rainguage/server/internal/modules/telemetry/persister"
	"github.com/michaelfletchercgy/rainguage/server/internal/modules/telemetry/repository"
	"github.com/michaelfletchercgy/rainguage/server/internal/mqtt"
	"github.com/michaelfletchercgy/rainguage/tools/migrate"
)

// App holds the server's long-lived components. Build it with New and
// release it with Close.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	db         *sql.DB
	persister  *persister.Persister
	influx     *influx.Store
	subscriber *mqtt.Subscriber
	mux        *http.ServeMux
}

// New opens and migrates the database, starts the persist worker and
// registers every HTTP route. The MQTT subscriber is created but not
// connected.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeStores()
		}
	}()

	a.db, err = db.Open(cfg, logger)
	if err != nil {
		return nil, err
	}

	applied, err := migrate.Run(ctx, a.db, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("database ready", "migrations_applied", len(applied))

	repo := repository.NewRepository(a.db)
	stores := []persister.Store{persister.StoreFunc("sqlite", repo.InsertPacket)}

	if cfg.InfluxURL != "" {
		a.influx, err = influx.NewStore(influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		})
		if err != nil {
			return nil, err
		}
		stores = append(stores, a.influx)
		logger.Info("influx mirror enabled", "url", cfg.InfluxURL, "bucket", cfg.InfluxBucket)
	}

	a.persister = persister.New(stores, cfg.IngestQueueSize, cfg.PersistMaxElapsed, logger)

	a.mux = httpapi.NewMux(a.db, a.persister.Pending)
	telemetrymod.RegisterFeature(a.mux, repo, a.persister, logger)

	// The handler must be set before Connect: the broker may deliver queued
	// messages right after CONNACK.
	if cfg.MQTTBroker != "" {
		a.subscriber = mqtt.NewSubscriber(cfg, logger)
		telemetrymod.RegisterMQTTHandler(a.subscriber, a.persister, logger)
	}

	return a, nil
}

func (a *App) Handler() http.Handler { return a.mux }

// ConnectMQTT waits up to ctx for the first broker connection. It is a no-op
// when MQTT is disabled.
func (a *App) ConnectMQTT(ctx context.Context) error {
	if a.subscriber == nil {
		return nil
	}
	return a.subscriber.Connect(ctx)
}

// Close stops intake first, then drains the persist queue within ctx, then
// closes the stores.
func (a *App) Close(ctx context.Context) error {
	if a.subscriber != nil {
		a.logger.Info("mqtt disconnecting")
		a.subscriber.Disconnect()
	}

	var errs []error
	if a.persister != nil {
		a.logger.Info("draining persist queue", "pending", a.persister.Pending())
		if err := a.persister.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.closeStores(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeStores() error {
	if a.influx != nil {
		a.influx.Close()
		a.influx = nil
	}
	if a.db == nil {
		return nil
	}
	err := db.Close(a.db)
	a.db = nil
	return err
}
