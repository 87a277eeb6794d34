package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/michaelfletchercgy/rainguage/server/internal/config"
	"github.com/michaelfletchercgy/rainguage/server/internal/httpapi"
)

const (
	mqttConnectTimeout = 5 * time.Second
	shutdownTimeout    = 10 * time.Second
)

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"sqliteDriver", cfg.SQLiteDriver,
		"sqlitePath", cfg.SQLitePath,
		"sqliteMaxOpenConns", cfg.SQLiteMaxOpenConns,
		"sqliteMaxIdleConns", cfg.SQLiteMaxIdleConns,
		"sqliteConnMaxLifetime", cfg.SQLiteConnMaxLifetime,
		"sqliteLogQueries", cfg.SQLiteLogQueries,
		"ingestQueueSize", cfg.IngestQueueSize,
		"persistMaxElapsed", cfg.PersistMaxElapsed,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"mqttTopic", cfg.MQTTTopic,
		"influxURL", cfg.InfluxURL,
	)

	a, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// A short connect timeout keeps startup from blocking when the broker
	// is down; the client keeps retrying in the background.
	connectCtx, connectCancel := context.WithTimeout(ctx, mqttConnectTimeout)
	err = a.ConnectMQTT(connectCtx)
	connectCancel()
	if err != nil {
		logger.Warn("mqtt connection failed (continuing without mqtt)", "error", err)
	}

	srv := httpapi.NewServer(cfg, a.Handler(), logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	served := false
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		served = true
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if !served {
		logger.Info("http shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			serveErr = err
		} else if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	if err := a.Close(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
		if serveErr == nil {
			serveErr = err
		}
	}

	if serveErr != nil {
		return serveErr
	}
	return ctx.Err()
}
