package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/michaelfletchercgy/rainguage/node/internal/config"
	"github.com/michaelfletchercgy/rainguage/node/internal/link"
	"github.com/michaelfletchercgy/rainguage/node/internal/metrics"
	"github.com/michaelfletchercgy/rainguage/node/internal/sensor"
	"github.com/michaelfletchercgy/rainguage/node/internal/tipper"
)

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"interval", cfg.Interval,
		"linkPort", cfg.LinkPort,
		"linkBaud", cfg.LinkBaud,
		"linkKind", cfg.LinkKind,
		"sensor", cfg.Sensor,
		"tipPin", cfg.TipPin,
	)

	var counters metrics.Counters

	src, closeSensor, err := openSensor(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSensor()

	out, err := link.Open(cfg.LinkPort, cfg.LinkBaud)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			logger.Error("link close", "error", err)
		}
	}()

	bytes, errs := linkCounters(&counters, cfg.LinkKind)
	node := &Node{
		DeviceID: cfg.DeviceID,
		Sensor:   src,
		Out:      link.NewCountingWriter(out, bytes, errs),
		Counters: &counters,
		Battery:  func() uint32 { return cfg.Vbat },
		Logger:   logger,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if cfg.TipPin != "" {
		pin, err := tipper.Open(cfg.TipPin)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tipper.Watch(ctx, pin, &counters.Tips, cfg.TipDebounce, logger); err != nil && !errors.Is(err, context.Canceled) {
				counters.HardwareErrOther.Add(1)
				logger.Error("tip counter stopped", "error", err)
			}
		}()
	}

	err = node.Loop(ctx, cfg.Interval)
	cancel()
	wg.Wait()
	return err
}

func openSensor(cfg config.Config, logger *slog.Logger) (sensor.Source, func(), error) {
	static := sensor.Static{Temperature: cfg.StaticTemperature, RelativeHumidity: cfg.StaticHumidity}
	if cfg.Sensor != config.SensorBME280 {
		return static, func() {}, nil
	}

	dev, err := sensor.OpenBME280(cfg.I2CBus, cfg.BME280Address)
	if err != nil {
		return nil, nil, err
	}
	return dev, func() {
		if err := dev.Close(); err != nil {
			logger.Error("bme280 close", "error", err)
		}
	}, nil
}

func linkCounters(c *metrics.Counters, kind string) (bytes, errs *atomic.Uint32) {
	if kind == config.LinkUSB {
		return &c.USBBytesWritten, &c.USBErrors
	}
	return &c.LoraTxBytes, &c.LoraErrors
}
