// Package uplink posts decoded packets to the telemetry HTTP service.
package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/michaelfletchercgy/rainguage/shared/telemetry"
)

type BreakerSettings struct {
	Failures uint32
	Open     time.Duration
	Interval time.Duration
}

// HTTPSink POSTs each packet as JSON. Consecutive failures open a circuit
// breaker; while it is open Send fails with gobreaker.ErrOpenState.
type HTTPSink struct {
	url    string
	client *http.Client
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
}

func NewHTTPSink(url string, timeout time.Duration, bs BreakerSettings, logger *slog.Logger) *HTTPSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &HTTPSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
	s.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "http-uplink",
		Interval: bs.Interval,
		Timeout:  bs.Open,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= bs.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("uplink breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return s
}

func (s *HTTPSink) Name() string { return "http" }

func (s *HTTPSink) Send(ctx context.Context, p telemetry.Packet) error {
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.post(ctx, p)
	})
	return err
}

func (s *HTTPSink) post(ctx context.Context, p telemetry.Packet) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal packet: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", s.url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post %s: unexpected status %s", s.url, resp.Status)
	}
	s.logger.Debug("packet posted", "url", s.url, "status", resp.StatusCode)
	return nil
}

// State reports the breaker state, for logs and tests.
func (s *HTTPSink) State() gobreaker.State {
	return s.cb.State()
}
