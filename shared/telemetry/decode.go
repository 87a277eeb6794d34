package telemetry

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"iter"
)

type decodeState uint8

const (
	readingMagic decodeState = iota
	readingLength
	readingBytes
	readingChecksum
)

// Stats counts what a Decoder has seen since it was created.
type Stats struct {
	BytesRead       uint64
	Packets         uint64
	InvalidLength   uint64
	InvalidChecksum uint64
	PayloadErrors   uint64
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithFieldCodec replaces DefaultFields.
func WithFieldCodec(codec FieldCodec) DecoderOption {
	return func(d *Decoder) { d.codec = codec }
}

// WithMagicRestart changes how a partial magic match recovers. By default a
// byte that breaks the match at index i > 0 is dropped and the decoder keeps
// waiting for Magic[i]. With restart the match goes back to index 0 and the
// breaking byte is tested against Magic[0], so 7D 7D 08 8D is recognised.
func WithMagicRestart() DecoderOption {
	return func(d *Decoder) { d.restart = true }
}

// Decoder reads frames from a byte source one byte at a time and
// resynchronizes after every bad frame. A Decoder is not safe for concurrent
// use and holds no buffers beyond one payload and one checksum.
//
// Decoding a valid frame does not allocate. The error value returned for a
// bad frame is the one heap allocation: it is a fresh copy of the evidence,
// so callers may keep it after the next call to Next.
type Decoder struct {
	r       io.ByteReader
	codec   FieldCodec
	restart bool

	state    decodeState
	matched  int
	length   int
	count    int
	payload  [MaxPayloadLen]byte
	checksum [checksumLen]byte

	stats Stats
}

func NewDecoder(r io.ByteReader, opts ...DecoderOption) *Decoder {
	d := &Decoder{r: r, codec: DefaultFields}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Next returns the next packet or frame error. Frame errors (see
// IsFrameError) leave the decoder ready for the next frame. When the source
// is exhausted Next returns io.EOF and a partially read frame is dropped.
// Any other source error is returned unchanged.
func (d *Decoder) Next() (Packet, error) {
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return Packet{}, err
		}
		d.stats.BytesRead++

		switch d.state {
		case readingMagic:
			d.matchMagic(b)

		case readingLength:
			if int(b) > MaxPayloadLen {
				d.resync()
				d.stats.InvalidLength++
				return Packet{}, &LengthError{Length: int(b)}
			}
			d.length = int(b)
			d.count = 0
			d.payload = [MaxPayloadLen]byte{}
			d.state = readingBytes

		case readingBytes:
			// The byte is stored before the count is checked, so a zero
			// length frame still consumes one byte here.
			d.payload[d.count] = b
			d.count++
			if d.count >= d.length {
				d.count = 0
				d.state = readingChecksum
			}

		case readingChecksum:
			d.checksum[d.count] = b
			d.count++
			if d.count == checksumLen {
				return d.finishFrame()
			}
		}
	}
}

func (d *Decoder) matchMagic(b byte) {
	if b == Magic[d.matched] {
		d.matched++
		if d.matched == len(Magic) {
			d.matched = 0
			d.state = readingLength
		}
		return
	}
	if d.matched > 0 && d.restart {
		d.matched = 0
		if b == Magic[0] {
			d.matched = 1
		}
	}
}

func (d *Decoder) finishFrame() (Packet, error) {
	defer d.resync()

	payload := d.payload[:d.length]
	computed := crc32.ChecksumIEEE(payload)
	if binary.BigEndian.Uint32(d.checksum[:]) != computed {
		d.stats.InvalidChecksum++
		return Packet{}, &ChecksumError{
			Provided:   d.checksum,
			Computed:   computed,
			Payload:    d.payload,
			PayloadLen: d.length,
		}
	}

	p, err := d.codec.Fields(payload)
	if err != nil {
		d.stats.PayloadErrors++
		return Packet{}, &PayloadError{Err: err}
	}
	d.stats.Packets++
	return p, nil
}

func (d *Decoder) resync() {
	d.state = readingMagic
	d.matched = 0
	d.length = 0
	d.count = 0
}

// Stats returns a snapshot of the decoder counters.
func (d *Decoder) Stats() Stats {
	return d.stats
}

// Packets yields every frame result until the source is exhausted. A source
// error other than io.EOF is yielded once and ends the sequence.
func (d *Decoder) Packets() iter.Seq2[Packet, error] {
	return func(yield func(Packet, error) bool) {
		for {
			p, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(p, err) {
				return
			}
			if err != nil && !IsFrameError(err) {
				return
			}
		}
	}
}
