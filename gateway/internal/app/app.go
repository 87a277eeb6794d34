package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/michaelfletchercgy/rainguage/gateway/internal/config"
	"github.com/michaelfletchercgy/rainguage/gateway/internal/forward"
	"github.com/michaelfletchercgy/rainguage/gateway/internal/metrics"
	"github.com/michaelfletchercgy/rainguage/gateway/internal/mqtt"
	"github.com/michaelfletchercgy/rainguage/gateway/internal/source"
	"github.com/michaelfletchercgy/rainguage/gateway/internal/uplink"
	"github.com/michaelfletchercgy/rainguage/shared/telemetry"
)

var errSourceClosed = errors.New("serial source closed")

func Run(ctx context.Context, cfg config.Config) error {
	slog.Info("initializing gateway",
		"serial_port", cfg.SerialPort,
		"serial_baud", cfg.SerialBaud,
		"uplink", cfg.Uplink,
		"magic_restart", cfg.MagicRestart,
		"metrics_addr", cfg.MetricsAddr,
	)

	sink, closeSink, err := newSink(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSink()

	var opts []telemetry.DecoderOption
	if cfg.MagicRestart {
		opts = append(opts, telemetry.WithMagicRestart())
	}
	handler := forward.NewHandler(sink, slog.Default(), opts...)

	if cfg.MetricsAddr != "" {
		stopMetrics := serveMetrics(cfg.MetricsAddr)
		defer stopMetrics()
	}

	if source.IsCapture(cfg.SerialBaud) {
		err = session(ctx, cfg, handler, nil)
	} else {
		err = superviseSource(ctx, cfg, handler)
	}

	s := handler.Stats()
	slog.Info("gateway shutting down",
		"packets", s.Packets,
		"forwarded", s.Forwarded,
		"duplicates", s.Duplicates,
		"frame_errors", s.FrameErrors,
		"send_failures", s.SendFailures,
	)
	return err
}

func newSink(ctx context.Context, cfg config.Config) (forward.Sink, func(), error) {
	switch cfg.Uplink {
	case config.UplinkMQTT:
		client, err := mqtt.NewClient(cfg, slog.Default())
		if err != nil {
			return nil, nil, err
		}
		go func() {
			if err := client.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("mqtt connect failed", "error", err)
			}
		}()
		return client, client.Disconnect, nil
	default:
		sink := uplink.NewHTTPSink(cfg.HTTPUplinkURL, cfg.HTTPUplinkTimeout, uplink.BreakerSettings{
			Failures: cfg.BreakerFailures,
			Open:     cfg.BreakerOpen,
			Interval: cfg.BreakerInterval,
		}, slog.Default())
		return sink, func() {}, nil
	}
}

// superviseSource reopens the serial port whenever a session ends, backing
// off exponentially between failed opens, until ctx is cancelled.
func superviseSource(ctx context.Context, cfg config.Config, handler *forward.Handler) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = cfg.ReopenMaxInterval
	bo.MaxElapsedTime = 0

	op := func() error {
		err := session(ctx, cfg, handler, bo.Reset)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err == nil {
			err = errSourceClosed
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		metrics.RecordReopen()
		slog.Warn("serial session ended; reopening", "port", cfg.SerialPort, "error", err, "retry_in", next)
	}
	return backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify)
}

// session opens the source once and decodes it until it ends. onOpen runs
// after a successful open.
func session(ctx context.Context, cfg config.Config, handler *forward.Handler, onOpen func()) error {
	src, err := source.Open(cfg.SerialPort, cfg.SerialBaud)
	if err != nil {
		return err
	}
	slog.Info("serial source opened", "port", cfg.SerialPort, "baud", cfg.SerialBaud)
	if onOpen != nil {
		onOpen()
	}

	// Closing the port is the only way to unblock a pending read.
	stop := context.AfterFunc(ctx, func() { _ = src.Close() })
	defer func() {
		if stop() {
			_ = src.Close()
		}
	}()

	if err := handler.Run(ctx, src); err != nil {
		return fmt.Errorf("session %s: %w", cfg.SerialPort, err)
	}
	return nil
}

func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
