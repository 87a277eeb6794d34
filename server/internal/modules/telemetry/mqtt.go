package telemetry

import (
	"errors"
	"log/slog"
	"time"

	"github.com/michaelfletchercgy/rainguage/server/internal/metrics"
	"github.com/michaelfletchercgy/rainguage/server/internal/modules/telemetry/controller"
	"github.com/michaelfletchercgy/rainguage/server/internal/modules/telemetry/persister"
	"github.com/michaelfletchercgy/rainguage/server/internal/modules/telemetry/types"
	"github.com/michaelfletchercgy/rainguage/shared/telemetry"
)

// MQTTSubscriber interface for attaching message handlers
type MQTTSubscriber interface {
	SetMessageHandler(handler func(p telemetry.Packet) error)
}

// RegisterMQTTHandler queues every packet the subscriber receives.
//
// The subscriber acknowledges a message before the handler runs, so a packet
// that cannot be queued is dropped, not redelivered. Each drop is logged and
// counted in rainguage_server_mqtt_dropped_total by reason.
func RegisterMQTTHandler(subscriber MQTTSubscriber, ingester controller.Ingester, logger *slog.Logger) {
	subscriber.SetMessageHandler(func(p telemetry.Packet) error {
		in := types.Ingest{Packet: p, ReceivedAt: time.Now().UTC(), Source: types.SourceMQTT}
		if err := ingester.Enqueue(in); err != nil {
			metrics.RecordMQTTDrop(dropReason(err))
			logger.Warn("mqtt packet dropped",
				"device_id", p.DeviceIDHex(),
				"loop_cnt", p.LoopCnt,
				"error", err,
			)
			return err
		}
		return nil
	})
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, persister.ErrQueueFull):
		return "queue_full"
	case errors.Is(err, persister.ErrClosed):
		return "closed"
	default:
		return "error"
	}
}
