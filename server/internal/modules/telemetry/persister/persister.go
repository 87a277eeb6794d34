// Package persister decouples packet ingestion from storage: accepted
// packets wait in a bounded queue and a single worker writes each one to
// every configured store, retrying failed writes with exponential backoff.
package persister

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/michaelfletchercgy/rainguage/server/internal/metrics"
	"github.com/michaelfletchercgy/rainguage/server/internal/modules/telemetry/types"
)

var (
	// ErrQueueFull is returned by Enqueue when the queue has no free slot.
	ErrQueueFull = errors.New("persist queue full")
	// ErrClosed is returned by Enqueue after Shutdown has started.
	ErrClosed = errors.New("persister closed")
)

// Store is a destination for ingested packets.
type Store interface {
	Name() string
	Write(ctx context.Context, in types.Ingest) error
}

type storeFunc struct {
	name string
	fn   func(context.Context, types.Ingest) error
}

func (s storeFunc) Name() string { return s.name }

func (s storeFunc) Write(ctx context.Context, in types.Ingest) error { return s.fn(ctx, in) }

// StoreFunc adapts a write function to the Store interface.
func StoreFunc(name string, fn func(context.Context, types.Ingest) error) Store {
	return storeFunc{name: name, fn: fn}
}

type Option func(*Persister)

// WithInitialInterval sets the first retry delay.
func WithInitialInterval(d time.Duration) Option {
	return func(p *Persister) { p.initialInterval = d }
}

type Persister struct {
	stores          []Store
	queue           chan types.Ingest
	maxElapsed      time.Duration
	initialInterval time.Duration
	logger          *slog.Logger

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts the worker. queueSize bounds the packets waiting to be written;
// maxElapsed bounds the time spent retrying one packet against one store.
func New(stores []Store, queueSize int, maxElapsed time.Duration, logger *slog.Logger, opts ...Option) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Persister{
		stores:          stores,
		queue:           make(chan types.Ingest, queueSize),
		maxElapsed:      maxElapsed,
		initialInterval: 100 * time.Millisecond,
		logger:          logger,
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	go p.run()
	return p
}

// Enqueue hands a packet to the worker without blocking.
func (p *Persister) Enqueue(in types.Ingest) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		metrics.RecordIngest(in.Source, "closed")
		return ErrClosed
	}

	select {
	case p.queue <- in:
		metrics.RecordIngest(in.Source, "accepted")
		metrics.SetQueueDepth(len(p.queue))
		return nil
	default:
		metrics.RecordIngest(in.Source, "queue_full")
		return ErrQueueFull
	}
}

// Pending reports how many packets are queued.
func (p *Persister) Pending() int {
	return len(p.queue)
}

// Shutdown stops accepting packets and waits for the queue to drain. If ctx
// ends first, in-flight retries are abandoned and ctx's error is returned.
func (p *Persister) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		p.cancel()
		<-p.done
		return fmt.Errorf("persister drain: %w", ctx.Err())
	}
}

func (p *Persister) run() {
	defer close(p.done)
	defer p.cancel()

	for in := range p.queue {
		metrics.SetQueueDepth(len(p.queue))
		for _, s := range p.stores {
			if err := p.write(s, in); err != nil {
				p.logger.Error("persist failed, dropping packet",
					"store", s.Name(),
					"device_id", in.Packet.DeviceIDHex(),
					"loop_cnt", in.Packet.LoopCnt,
					"error", err,
				)
			}
		}
	}
}

func (p *Persister) write(s Store, in types.Ingest) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.initialInterval
	bo.MaxElapsedTime = p.maxElapsed

	op := func() error {
		if err := p.ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return s.Write(p.ctx, in)
	}
	notify := func(err error, next time.Duration) {
		metrics.RecordPersistRetry(s.Name())
		p.logger.Warn("persist retry",
			"store", s.Name(),
			"device_id", in.Packet.DeviceIDHex(),
			"error", err,
			"next", next,
		)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(bo, p.ctx), notify)
	metrics.RecordPersist(s.Name(), err == nil)
	if err == nil {
		p.logger.Debug("packet persisted",
			"store", s.Name(),
			"device_id", in.Packet.DeviceIDHex(),
			"loop_cnt", in.Packet.LoopCnt,
		)
	}
	return err
}
