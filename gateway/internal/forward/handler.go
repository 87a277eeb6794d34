package forward

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/michaelfletchercgy/rainguage/gateway/internal/metrics"
	"github.com/michaelfletchercgy/rainguage/shared/telemetry"
)

const dedupMaxDevices = 500

// Sink delivers decoded packets upstream.
type Sink interface {
	Name() string
	Send(ctx context.Context, p telemetry.Packet) error
}

// Stats is a snapshot of what a Handler has processed.
type Stats struct {
	Packets      uint64
	Forwarded    uint64
	Duplicates   uint64
	FrameErrors  uint64
	SendFailures uint64
}

// Handler decodes a byte stream and forwards every packet to a Sink. A
// packet repeating the last loop count seen for its device is a radio
// retransmission and is dropped.
type Handler struct {
	sink        Sink
	decoderOpts []telemetry.DecoderOption
	logger      *slog.Logger

	dedupMu  sync.Mutex
	lastLoop map[[telemetry.DeviceIDLen]byte]uint32

	packets      atomic.Uint64
	forwarded    atomic.Uint64
	duplicates   atomic.Uint64
	frameErrors  atomic.Uint64
	sendFailures atomic.Uint64
}

func NewHandler(sink Sink, logger *slog.Logger, opts ...telemetry.DecoderOption) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sink:        sink,
		decoderOpts: opts,
		logger:      logger,
		lastLoop:    make(map[[telemetry.DeviceIDLen]byte]uint32),
	}
}

// Run decodes r until it is exhausted (nil) or fails (the read error).
// Frame errors are logged and skipped.
func (h *Handler) Run(ctx context.Context, r io.Reader) error {
	dec := telemetry.NewDecoder(bufio.NewReader(r), h.decoderOpts...)
	for p, err := range dec.Packets() {
		if err != nil {
			if !telemetry.IsFrameError(err) {
				return fmt.Errorf("read source: %w", err)
			}
			h.frameError(err)
			continue
		}
		h.HandlePacket(ctx, p)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	s := dec.Stats()
	h.logger.Info("source exhausted",
		"bytes", s.BytesRead,
		"packets", s.Packets,
		"invalid_length", s.InvalidLength,
		"invalid_checksum", s.InvalidChecksum,
		"payload_errors", s.PayloadErrors,
	)
	return nil
}

// HandlePacket deduplicates p and sends it to the sink.
func (h *Handler) HandlePacket(ctx context.Context, p telemetry.Packet) {
	h.packets.Add(1)
	metrics.RecordPacket()

	if h.isDuplicate(p) {
		h.duplicates.Add(1)
		metrics.RecordDuplicate()
		h.logger.Debug("duplicate packet dropped", "device_id", p.DeviceIDHex(), "loop_cnt", p.LoopCnt)
		return
	}

	if err := h.sink.Send(ctx, p); err != nil {
		h.sendFailures.Add(1)
		metrics.RecordUplink(h.sink.Name(), false)
		h.logger.Warn("failed to forward packet",
			"uplink", h.sink.Name(),
			"device_id", p.DeviceIDHex(),
			"loop_cnt", p.LoopCnt,
			"error", err,
		)
		return
	}
	h.forwarded.Add(1)
	metrics.RecordUplink(h.sink.Name(), true)
	h.logger.Info("packet forwarded",
		"uplink", h.sink.Name(),
		"device_id", p.DeviceIDHex(),
		"loop_cnt", p.LoopCnt,
		"tip_cnt", p.TipCnt,
		"vbat", p.Vbat,
		"T", p.Temperature, "RH", p.RelativeHumidity,
	)
}

func (h *Handler) isDuplicate(p telemetry.Packet) bool {
	h.dedupMu.Lock()
	defer h.dedupMu.Unlock()
	if last, ok := h.lastLoop[p.DeviceID]; ok && last == p.LoopCnt {
		return true
	}
	if len(h.lastLoop) >= dedupMaxDevices {
		h.lastLoop = make(map[[telemetry.DeviceIDLen]byte]uint32)
	}
	h.lastLoop[p.DeviceID] = p.LoopCnt
	return false
}

func (h *Handler) frameError(err error) {
	h.frameErrors.Add(1)

	var ce *telemetry.ChecksumError
	var le *telemetry.LengthError
	switch {
	case errors.As(err, &ce):
		metrics.RecordFrameError("checksum")
		h.logger.Warn("frame rejected",
			"error", err,
			"provided", hex.EncodeToString(ce.Provided[:]),
			"payload", hex.EncodeToString(ce.PayloadBytes()),
		)
	case errors.As(err, &le):
		metrics.RecordFrameError("length")
		h.logger.Warn("frame rejected", "error", err, "length", le.Length)
	default:
		metrics.RecordFrameError("payload")
		h.logger.Warn("frame rejected", "error", err)
	}
}

func (h *Handler) Stats() Stats {
	return Stats{
		Packets:      h.packets.Load(),
		Forwarded:    h.forwarded.Load(),
		Duplicates:   h.duplicates.Load(),
		FrameErrors:  h.frameErrors.Load(),
		SendFailures: h.sendFailures.Load(),
	}
}
