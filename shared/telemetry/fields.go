package telemetry

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FieldCodec serializes the record fields in declaration order.
type FieldCodec interface {
	// PutFields writes p into dst and returns the number of bytes used.
	PutFields(dst []byte, p *Packet) (int, error)
	// Fields decodes a payload produced by PutFields.
	Fields(src []byte) (Packet, error)
}

// FixedPayloadLen is the payload size produced by BigEndianFields.
const FixedPayloadLen = DeviceIDLen + 12*4

// BigEndianFields writes every field at a fixed width, big-endian, floats as
// their IEEE-754 bits.
type BigEndianFields struct{}

// DefaultFields is the codec used by Encode and NewDecoder.
var DefaultFields FieldCodec = BigEndianFields{}

func (BigEndianFields) PutFields(dst []byte, p *Packet) (int, error) {
	if len(dst) < FixedPayloadLen {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrPayloadTooLarge, FixedPayloadLen, len(dst))
	}
	n := copy(dst, p.DeviceID[:])
	for _, v := range [...]uint32{
		p.LoopCnt,
		p.TipCnt,
		p.Vbat,
		math.Float32bits(p.Temperature),
		math.Float32bits(p.RelativeHumidity),
		p.USBBytesRead,
		p.USBBytesWritten,
		p.USBErrorCnt,
		p.LoraRxBytes,
		p.LoraTxBytes,
		p.LoraErrorCnt,
		p.HardwareErrOtherCnt,
	} {
		binary.BigEndian.PutUint32(dst[n:], v)
		n += 4
	}
	return n, nil
}

func (BigEndianFields) Fields(src []byte) (Packet, error) {
	var p Packet
	if len(src) != FixedPayloadLen {
		return p, fmt.Errorf("payload is %d bytes, want %d", len(src), FixedPayloadLen)
	}
	n := copy(p.DeviceID[:], src)
	next := func() uint32 {
		v := binary.BigEndian.Uint32(src[n:])
		n += 4
		return v
	}
	p.LoopCnt = next()
	p.TipCnt = next()
	p.Vbat = next()
	p.Temperature = math.Float32frombits(next())
	p.RelativeHumidity = math.Float32frombits(next())
	p.USBBytesRead = next()
	p.USBBytesWritten = next()
	p.USBErrorCnt = next()
	p.LoraRxBytes = next()
	p.LoraTxBytes = next()
	p.LoraErrorCnt = next()
	p.HardwareErrOtherCnt = next()
	return p, nil
}
