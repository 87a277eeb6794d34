package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	ingested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rainguage",
			Subsystem: "server",
			Name:      "ingest_total",
			Help:      "Packets offered to the persist queue by source and result.",
		},
		[]string{"source", "result"},
	)
	frameErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rainguage",
			Subsystem: "server",
			Name:      "frame_errors_total",
			Help:      "Frames rejected while decoding uploaded wire bytes.",
		},
		[]string{"kind"},
	)
	persisted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rainguage",
			Subsystem: "server",
			Name:      "persist_total",
			Help:      "Packets written to a store by result.",
		},
		[]string{"store", "result"},
	)
	persistRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rainguage",
			Subsystem: "server",
			Name:      "persist_retries_total",
			Help:      "Store writes that failed and were retried.",
		},
		[]string{"store"},
	)
	mqttDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rainguage",
			Subsystem: "server",
			Name:      "mqtt_dropped_total",
			Help:      "MQTT packets acknowledged to the broker but not queued, by reason.",
		},
		[]string{"reason"},
	)
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rainguage",
			Subsystem: "server",
			Name:      "persist_queue_depth",
			Help:      "Packets accepted but not yet persisted.",
		},
	)
)

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ingested, frameErrors, persisted, persistRetries, mqttDropped, queueDepth)
	})
}

func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

// RecordIngest counts one packet offered by source; result is "accepted",
// "queue_full" or "closed".
func RecordIngest(source, result string) {
	Register()
	ingested.WithLabelValues(source, result).Inc()
}

func RecordFrameError(kind string) {
	Register()
	frameErrors.WithLabelValues(kind).Inc()
}

func RecordPersist(store string, ok bool) {
	Register()
	result := "ok"
	if !ok {
		result = "failed"
	}
	persisted.WithLabelValues(store, result).Inc()
}

func RecordPersistRetry(store string) {
	Register()
	persistRetries.WithLabelValues(store).Inc()
}

// RecordMQTTDrop counts an MQTT packet that was lost after the broker
// considered it delivered.
func RecordMQTTDrop(reason string) {
	Register()
	mqttDropped.WithLabelValues(reason).Inc()
}

func SetQueueDepth(n int) {
	Register()
	queueDepth.Set(float64(n))
}
