package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	packetsDecoded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rainguage",
			Subsystem: "gateway",
			Name:      "packets_decoded_total",
			Help:      "Telemetry packets decoded from the serial source.",
		},
	)
	frameErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rainguage",
			Subsystem: "gateway",
			Name:      "frame_errors_total",
			Help:      "Frames rejected by the decoder.",
		},
		[]string{"kind"},
	)
	packetsDuplicate = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rainguage",
			Subsystem: "gateway",
			Name:      "packets_duplicate_total",
			Help:      "Packets dropped because the device repeated its last loop count.",
		},
	)
	uplinkResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rainguage",
			Subsystem: "gateway",
			Name:      "uplink_sends_total",
			Help:      "Uplink send attempts by outcome.",
		},
		[]string{"uplink", "success"},
	)
	sourceReopens = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rainguage",
			Subsystem: "gateway",
			Name:      "source_reopens_total",
			Help:      "Times the serial source was reopened after it failed.",
		},
	)
)

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(packetsDecoded, frameErrors, packetsDuplicate, uplinkResults, sourceReopens)
	})
}

func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

func RecordPacket() {
	Register()
	packetsDecoded.Inc()
}

func RecordFrameError(kind string) {
	Register()
	frameErrors.WithLabelValues(kind).Inc()
}

func RecordDuplicate() {
	Register()
	packetsDuplicate.Inc()
}

func RecordUplink(uplink string, success bool) {
	Register()
	if success {
		uplinkResults.WithLabelValues(uplink, "true").Inc()
		return
	}
	uplinkResults.WithLabelValues(uplink, "false").Inc()
}

func RecordReopen() {
	Register()
	sourceReopens.Inc()
}
