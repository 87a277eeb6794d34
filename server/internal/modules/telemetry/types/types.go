package types

import (
	"time"

	"github.com/michaelfletchercgy/rainguage/shared/telemetry"
)

// Sources an ingested packet can arrive from.
const (
	SourceHTTP   = "http"
	SourceFrames = "frames"
	SourceMQTT   = "mqtt"
)

// Ingest is a decoded packet waiting to be persisted.
type Ingest struct {
	Packet     telemetry.Packet
	ReceivedAt time.Time
	Source     string
}

type Device struct {
	ID          string    `json:"device_id"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	PacketCount int64     `json:"packet_count"`
}

// Record is a stored packet as served by the API, with the device id in
// hex form.
type Record struct {
	ID                  int64     `json:"id"`
	DeviceID            string    `json:"device_id"`
	ReceivedAt          time.Time `json:"received_at"`
	Source              string    `json:"source"`
	LoopCnt             uint32    `json:"loop_cnt"`
	TipCnt              uint32    `json:"tip_cnt"`
	Vbat                uint32    `json:"vbat"`
	Temperature         float32   `json:"temperature"`
	RelativeHumidity    float32   `json:"relative_humidity"`
	USBBytesRead        uint32    `json:"usb_bytes_read"`
	USBBytesWritten     uint32    `json:"usb_bytes_written"`
	USBErrorCnt         uint32    `json:"usb_error_cnt"`
	LoraRxBytes         uint32    `json:"lora_rx_bytes"`
	LoraTxBytes         uint32    `json:"lora_tx_bytes"`
	LoraErrorCnt        uint32    `json:"lora_error_cnt"`
	HardwareErrOtherCnt uint32    `json:"hardware_err_other_cnt"`
}
