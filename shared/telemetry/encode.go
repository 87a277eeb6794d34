package telemetry

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Encode writes p as a single frame into dst using DefaultFields and returns
// the frame length. Bytes of dst past the returned length are untouched.
func Encode(dst []byte, p *Packet) (int, error) {
	return EncodeWith(DefaultFields, dst, p)
}

// EncodeWith is Encode with an explicit field codec.
func EncodeWith(codec FieldCodec, dst []byte, p *Packet) (int, error) {
	var payload [MaxPayloadLen]byte
	n, err := codec.PutFields(payload[:], p)
	if err != nil {
		return 0, err
	}
	if n > MaxPayloadLen {
		return 0, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, n)
	}

	total := headerLen + n + checksumLen
	if len(dst) < total {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, total, len(dst))
	}

	copy(dst, Magic[:])
	dst[len(Magic)] = byte(n)
	copy(dst[headerLen:], payload[:n])
	binary.BigEndian.PutUint32(dst[headerLen+n:], crc32.ChecksumIEEE(payload[:n]))
	return total, nil
}

// Marshal returns p encoded as a freshly allocated frame.
func Marshal(p *Packet) ([]byte, error) {
	var buf [MaxFrameLen]byte
	n, err := Encode(buf[:], p)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, nil
}
