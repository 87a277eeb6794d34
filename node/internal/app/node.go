package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/michaelfletchercgy/rainguage/node/internal/metrics"
	"github.com/michaelfletchercgy/rainguage/node/internal/sensor"
	"github.com/michaelfletchercgy/rainguage/shared/telemetry"
)

// Node builds one packet per transmit cycle and writes its frame to Out.
type Node struct {
	DeviceID [telemetry.DeviceIDLen]byte
	Sensor   sensor.Source
	Out      io.Writer
	Counters *metrics.Counters
	Battery  func() uint32
	Logger   *slog.Logger

	loopCnt uint32
	last    sensor.Reading
}

// Transmit reads the sensor, encodes a packet and writes it. A sensor
// failure is counted and the previous reading is sent again. Only write
// and encode failures are returned.
func (n *Node) Transmit(ctx context.Context) error {
	if reading, err := n.Sensor.Sense(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n.Counters.HardwareErrOther.Add(1)
		n.Logger.Warn("sensor read failed", "error", err)
	} else {
		n.last = reading
	}

	p := telemetry.Packet{
		DeviceID:         n.DeviceID,
		LoopCnt:          n.loopCnt,
		Temperature:      n.last.Temperature,
		RelativeHumidity: n.last.RelativeHumidity,
	}
	if n.Battery != nil {
		p.Vbat = n.Battery()
	}
	n.Counters.Fill(&p)
	n.loopCnt++

	var buf [telemetry.MaxFrameLen]byte
	size, err := telemetry.Encode(buf[:], &p)
	if err != nil {
		return fmt.Errorf("encode packet: %w", err)
	}
	if _, err := n.Out.Write(buf[:size]); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	n.Logger.Debug("frame sent",
		"loop_cnt", p.LoopCnt,
		"tip_cnt", p.TipCnt,
		"temperature", p.Temperature,
		"relative_humidity", p.RelativeHumidity,
		"size", size,
	)
	return nil
}

// Loop transmits immediately and then every interval until ctx ends. Write
// errors are logged and counted by the link; the loop keeps going.
func (n *Node) Loop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := n.Transmit(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n.Logger.Error("transmit failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
