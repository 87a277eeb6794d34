// Package influx mirrors ingested packets into an InfluxDB v2 bucket as
// points of the "telemetry" measurement tagged by device and source.
package influx

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/michaelfletchercgy/rainguage/server/internal/modules/telemetry/types"
)

const measurement = "telemetry"

type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

type Store struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

func NewStore(cfg Config) (*Store, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx config incomplete")
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Store{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

func (s *Store) Name() string { return "influx" }

func (s *Store) Write(ctx context.Context, in types.Ingest) error {
	if err := s.writeAPI.WritePoint(ctx, Point(in)); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.client.Close()
}

// Point converts an ingested packet to a line protocol point. Counters are
// written as signed integers so they can be summed and derived in Flux.
func Point(in types.Ingest) *write.Point {
	p := in.Packet
	tags := map[string]string{
		"device_id": p.DeviceIDHex(),
		"source":    in.Source,
	}
	fields := map[string]interface{}{
		"loop_cnt":               int64(p.LoopCnt),
		"tip_cnt":                int64(p.TipCnt),
		"vbat":                   int64(p.Vbat),
		"temperature":            float64(p.Temperature),
		"relative_humidity":      float64(p.RelativeHumidity),
		"usb_bytes_read":         int64(p.USBBytesRead),
		"usb_bytes_written":      int64(p.USBBytesWritten),
		"usb_error_cnt":          int64(p.USBErrorCnt),
		"lora_rx_bytes":          int64(p.LoraRxBytes),
		"lora_tx_bytes":          int64(p.LoraTxBytes),
		"lora_error_cnt":         int64(p.LoraErrorCnt),
		"hardware_err_other_cnt": int64(p.HardwareErrOtherCnt),
	}
	return influxdb2.NewPoint(measurement, tags, fields, in.ReceivedAt)
}
