package telemetry

import (
	"errors"
	"fmt"
)

var (
	// ErrBufferTooSmall is returned by Encode when dst cannot hold the frame.
	ErrBufferTooSmall = errors.New("telemetry: buffer too small")
	// ErrPayloadTooLarge is returned when a field codec needs more than MaxPayloadLen bytes.
	ErrPayloadTooLarge = errors.New("telemetry: payload too large")

	ErrInvalidLength   = errors.New("telemetry: invalid length")
	ErrInvalidChecksum = errors.New("telemetry: invalid checksum")
	ErrPayload         = errors.New("telemetry: payload error")
)

// LengthError reports a length byte above MaxPayloadLen.
type LengthError struct {
	Length int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("telemetry: invalid length %d (max %d)", e.Length, MaxPayloadLen)
}

func (e *LengthError) Is(target error) bool { return target == ErrInvalidLength }

// ChecksumError carries the raw bytes of a frame whose CRC did not match.
type ChecksumError struct {
	Provided   [checksumLen]byte
	Computed   uint32
	Payload    [MaxPayloadLen]byte
	PayloadLen int
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("telemetry: invalid checksum %x (computed %08x) over %d payload bytes",
		e.Provided[:], e.Computed, e.PayloadLen)
}

func (e *ChecksumError) Is(target error) bool { return target == ErrInvalidChecksum }

// PayloadBytes returns the received payload.
func (e *ChecksumError) PayloadBytes() []byte {
	return e.Payload[:e.PayloadLen]
}

// PayloadError wraps a field codec failure on a frame with a valid checksum.
type PayloadError struct {
	Err error
}

func (e *PayloadError) Error() string {
	return "telemetry: payload: " + e.Err.Error()
}

func (e *PayloadError) Is(target error) bool { return target == ErrPayload }

func (e *PayloadError) Unwrap() error { return e.Err }

// IsFrameError reports whether err describes a single bad frame. The decoder
// has already resynchronized when it returns one of these.
func IsFrameError(err error) bool {
	return errors.Is(err, ErrInvalidLength) ||
		errors.Is(err, ErrInvalidChecksum) ||
		errors.Is(err, ErrPayload)
}
