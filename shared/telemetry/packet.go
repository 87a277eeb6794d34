// Package telemetry defines the rain gauge telemetry record and its wire
// framing: MAGIC(3) | LEN(1) | PAYLOAD(LEN) | CRC32-BE(4).
package telemetry

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Magic marks the start of every frame.
var Magic = [3]byte{0x7D, 0x08, 0x8D}

const (
	// MaxPayloadLen is the largest payload a frame may carry.
	MaxPayloadLen = 64

	headerLen   = len(Magic) + 1
	checksumLen = 4

	// MaxFrameLen is the size of the largest possible frame.
	MaxFrameLen = headerLen + MaxPayloadLen + checksumLen
)

// DeviceIDLen is the size of a hardware identity.
const DeviceIDLen = 16

// Packet is one telemetry record sent by a sensor node. Field order and
// types define the payload layout and must not change.
type Packet struct {
	DeviceID            [DeviceIDLen]byte `json:"device_id"`
	LoopCnt             uint32            `json:"loop_cnt"`
	TipCnt              uint32            `json:"tip_cnt"`
	Vbat                uint32            `json:"vbat"`
	Temperature         float32           `json:"temperature"`
	RelativeHumidity    float32           `json:"relative_humidity"`
	USBBytesRead        uint32            `json:"usb_bytes_read"`
	USBBytesWritten     uint32            `json:"usb_bytes_written"`
	USBErrorCnt         uint32            `json:"usb_error_cnt"`
	LoraRxBytes         uint32            `json:"lora_rx_bytes"`
	LoraTxBytes         uint32            `json:"lora_tx_bytes"`
	LoraErrorCnt        uint32            `json:"lora_error_cnt"`
	HardwareErrOtherCnt uint32            `json:"hardware_err_other_cnt"`
}

// DeviceIDHex returns the device id as 32 lowercase hex characters.
func (p *Packet) DeviceIDHex() string {
	return hex.EncodeToString(p.DeviceID[:])
}

// ParseDeviceID parses the 32 character hex form produced by DeviceIDHex.
func ParseDeviceID(s string) ([DeviceIDLen]byte, error) {
	var id [DeviceIDLen]byte
	s = strings.TrimSpace(s)
	if len(s) != hex.EncodedLen(DeviceIDLen) {
		return id, fmt.Errorf("device id %q: want %d hex characters, got %d", s, hex.EncodedLen(DeviceIDLen), len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("device id %q: %w", s, err)
	}
	return id, nil
}
