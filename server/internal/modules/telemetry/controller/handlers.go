package controller

import (
	"bufio"
	"errors"
	"net/http"

	"github.com/michaelfletchercgy/rainguage/server/internal/metrics"
	"github.com/michaelfletchercgy/rainguage/server/internal/modules/telemetry/persister"
	"github.com/michaelfletchercgy/rainguage/server/internal/modules/telemetry/repository"
	"github.com/michaelfletchercgy/rainguage/server/internal/modules/telemetry/types"
	"github.com/michaelfletchercgy/rainguage/server/internal/utils"
	"github.com/michaelfletchercgy/rainguage/shared/telemetry"
)

const (
	maxPacketBody = 4 << 10
	maxFramesBody = 64 << 10
)

type framesResponse struct {
	Accepted int `json:"accepted"`
	// Rejected counts valid packets that were not queued.
	Rejected        int    `json:"rejected"`
	InvalidLength   uint64 `json:"invalid_length"`
	InvalidChecksum uint64 `json:"invalid_checksum"`
	PayloadErrors   uint64 `json:"payload_errors"`
	BytesRead       uint64 `json:"bytes_read"`
}

// framesErrorResponse is the error body of a frames upload that was only
// partly queued. Accepted packets are stored; a retry should send only the
// rejected ones.
type framesErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	framesResponse
}

func (c *telemetryControllerImpl) handleIngest(w http.ResponseWriter, r *http.Request) {
	var p telemetry.Packet
	if err := utils.DecodeJSON(w, r, maxPacketBody, &p); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !c.enqueue(w, types.Ingest{Packet: p, ReceivedAt: c.now().UTC(), Source: types.SourceHTTP}) {
		return
	}
	utils.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleFrames decodes raw wire bytes, as captured from a serial link, and
// queues every valid packet. Damaged frames are counted and skipped. The
// whole body is decoded before anything is queued, so a body that is too
// large or unreadable queues nothing. If the queue fills part way through,
// the error body reports how many packets were accepted and how many were
// not.
func (c *telemetryControllerImpl) handleFrames(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxFramesBody)
	dec := telemetry.NewDecoder(bufio.NewReader(body), telemetry.WithMagicRestart())
	receivedAt := c.now().UTC()

	batch := make([]telemetry.Packet, 0, maxFramesBody/telemetry.MaxFrameLen)
	for p, err := range dec.Packets() {
		if err != nil {
			if telemetry.IsFrameError(err) {
				metrics.RecordFrameError(frameErrorKind(err))
				c.logger.Debug("frame rejected", "error", err)
				continue
			}
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				utils.WriteError(w, http.StatusRequestEntityTooLarge, "body too large")
				return
			}
			c.logger.Warn("read frames body", "error", err)
			utils.WriteError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		batch = append(batch, p)
	}

	stats := dec.Stats()
	resp := framesResponse{
		InvalidLength:   stats.InvalidLength,
		InvalidChecksum: stats.InvalidChecksum,
		PayloadErrors:   stats.PayloadErrors,
		BytesRead:       stats.BytesRead,
	}

	for i, p := range batch {
		err := c.ingester.Enqueue(types.Ingest{Packet: p, ReceivedAt: receivedAt, Source: types.SourceFrames})
		if err != nil {
			resp.Rejected = len(batch) - i
			status, msg := c.enqueueFailure(w, err, p)
			c.logger.Warn("frames upload partly queued",
				"accepted", resp.Accepted,
				"rejected", resp.Rejected,
				"error", err,
			)
			utils.WriteJSON(w, status, framesErrorResponse{
				Error:          http.StatusText(status),
				Message:        msg,
				framesResponse: resp,
			})
			return
		}
		resp.Accepted++
	}

	status := http.StatusAccepted
	if resp.Accepted == 0 {
		status = http.StatusUnprocessableEntity
	}
	utils.WriteJSON(w, status, resp)
}

func (c *telemetryControllerImpl) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimitQuery(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := c.repository.GetRecent(r.Context(), limit)
	if err != nil {
		c.logger.Error("get recent telemetry failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load telemetry")
		return
	}
	utils.WriteJSON(w, http.StatusOK, recs)
}

func (c *telemetryControllerImpl) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := c.repository.GetDevices(r.Context())
	if err != nil {
		c.logger.Error("get devices failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load devices")
		return
	}
	utils.WriteJSON(w, http.StatusOK, devices)
}

func (c *telemetryControllerImpl) handleDeviceTelemetry(w http.ResponseWriter, r *http.Request) {
	id, err := parseDeviceID(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	from, to, limit, err := parseRangeQuery(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := c.repository.GetByDevice(r.Context(), id, from, to, limit)
	if err != nil {
		c.logger.Error("get device telemetry failed", "device_id", id, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load telemetry")
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"from":      zeroAsNullTime(from),
		"to":        zeroAsNullTime(to),
		"limit":     limit,
		"items":     recs,
	})
}

func (c *telemetryControllerImpl) handleDeviceLatest(w http.ResponseWriter, r *http.Request) {
	id, err := parseDeviceID(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := c.repository.GetLatest(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		utils.WriteError(w, http.StatusNotFound, "no telemetry for device")
		return
	}
	if err != nil {
		c.logger.Error("get latest telemetry failed", "device_id", id, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load telemetry")
		return
	}
	utils.WriteJSON(w, http.StatusOK, rec)
}

// enqueue writes the error response itself and reports whether the packet
// was accepted.
func (c *telemetryControllerImpl) enqueue(w http.ResponseWriter, in types.Ingest) bool {
	err := c.ingester.Enqueue(in)
	if err != nil {
		status, msg := c.enqueueFailure(w, err, in.Packet)
		utils.WriteError(w, status, msg)
		return false
	}
	c.logger.Debug("packet queued",
		"source", in.Source,
		"device_id", in.Packet.DeviceIDHex(),
		"loop_cnt", in.Packet.LoopCnt,
	)
	return true
}

// enqueueFailure maps an Enqueue error to a status and message, setting
// Retry-After when the queue is full.
func (c *telemetryControllerImpl) enqueueFailure(w http.ResponseWriter, err error, p telemetry.Packet) (int, string) {
	switch {
	case errors.Is(err, persister.ErrQueueFull):
		c.logger.Warn("persist queue full, rejecting packet", "device_id", p.DeviceIDHex())
		w.Header().Set("Retry-After", "1")
		return http.StatusServiceUnavailable, "ingest queue full"
	case errors.Is(err, persister.ErrClosed):
		return http.StatusServiceUnavailable, "shutting down"
	default:
		c.logger.Error("enqueue failed", "error", err)
		return http.StatusInternalServerError, "failed to queue packet"
	}
}

func frameErrorKind(err error) string {
	switch {
	case errors.Is(err, telemetry.ErrInvalidLength):
		return "length"
	case errors.Is(err, telemetry.ErrInvalidChecksum):
		return "checksum"
	case errors.Is(err, telemetry.ErrPayload):
		return "payload"
	}
	return "unknown"
}
