// Package tipper counts tipping-bucket pulses on a GPIO input.
package tipper

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// pollTimeout bounds each edge wait so Watch notices cancellation.
const pollTimeout = 250 * time.Millisecond

// Open resolves a pin by name, e.g. "GPIO17".
func Open(name string) (gpio.PinIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	return pin, nil
}

// Watch configures pin as a pulled-up input and adds one to tips for every
// falling edge. Edges closer than debounce to the last counted edge are
// ignored. It returns ctx.Err() once ctx ends.
func Watch(ctx context.Context, pin gpio.PinIn, tips *atomic.Uint32, debounce time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return fmt.Errorf("configure %s: %w", pin, err)
	}
	defer func() {
		if err := pin.Halt(); err != nil {
			logger.Warn("halt tip pin", "pin", pin.String(), "error", err)
		}
	}()

	logger.Info("watching tip pin", "pin", pin.String(), "debounce", debounce)

	var last time.Time
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !pin.WaitForEdge(pollTimeout) {
			continue
		}
		now := time.Now()
		if !last.IsZero() && now.Sub(last) < debounce {
			continue
		}
		last = now
		n := tips.Add(1)
		logger.Debug("tip", "count", n)
	}
}
