// Package analytics ships handshake telemetry in batches, off the login path.
package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/latch/internal/logging"
	"github.com/aretw0/latch/pkg/domain"
	"github.com/aretw0/latch/pkg/ports"
)

// Defaults.
const (
	DefaultPath          = "/api/v1/logging_client_events/"
	DefaultBatchSize     = 20
	DefaultBufferSize    = 256
	DefaultFlushInterval = 10 * time.Second
)

// Batcher is a fire-and-forget AnalyticsSink. Events are queued without
// blocking and shipped in batches by a background goroutine; when the queue is
// full new events are dropped.
type Batcher struct {
	transport ports.Transport
	logger    *slog.Logger
	path      string
	batchSize int
	interval  time.Duration

	queue   chan domain.AnalyticsEvent
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
	sent    atomic.Int64
	failed  atomic.Int64
}

// Option configures a Batcher.
type Option func(*Batcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Batcher) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithPath overrides the endpoint batches are posted to.
func WithPath(path string) Option {
	return func(b *Batcher) { b.path = path }
}

// WithBatchSize sets how many events trigger an immediate flush.
func WithBatchSize(n int) Option {
	return func(b *Batcher) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithFlushInterval sets the periodic flush interval.
func WithFlushInterval(d time.Duration) Option {
	return func(b *Batcher) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithBufferSize sets the queue capacity.
func WithBufferSize(n int) Option {
	return func(b *Batcher) {
		if n > 0 {
			b.queue = make(chan domain.AnalyticsEvent, n)
		}
	}
}

// NewBatcher starts a Batcher that ships through transport. Call Close to
// flush and stop it.
func NewBatcher(transport ports.Transport, opts ...Option) *Batcher {
	b := &Batcher{
		transport: transport,
		logger:    logging.NewNop(),
		path:      DefaultPath,
		batchSize: DefaultBatchSize,
		interval:  DefaultFlushInterval,
		queue:     make(chan domain.AnalyticsEvent, DefaultBufferSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.run()
	return b
}

// Enqueue queues an event. It never blocks.
func (b *Batcher) Enqueue(event domain.AnalyticsEvent) {
	select {
	case <-b.stop:
		b.dropped.Add(1)
		return
	default:
	}
	select {
	case b.queue <- event:
	default:
		b.dropped.Add(1)
	}
}

// Stats reports shipped, failed and dropped event counts.
func (b *Batcher) Stats() (sent, failed, dropped int64) {
	return b.sent.Load(), b.failed.Load(), b.dropped.Load()
}

// Close stops accepting events, flushes what is queued and waits for the
// background goroutine, or for ctx.
func (b *Batcher) Close(ctx context.Context) error {
	b.once.Do(func() { close(b.stop) })
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Batcher) run() {
	defer close(b.done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	var batch []domain.AnalyticsEvent
	for {
		select {
		case ev := <-b.queue:
			batch = append(batch, ev)
			if len(batch) >= b.batchSize {
				b.ship(batch)
				batch = nil
			}
		case <-ticker.C:
			if len(batch) > 0 {
				b.ship(batch)
				batch = nil
			}
		case <-b.stop:
			for {
				select {
				case ev := <-b.queue:
					batch = append(batch, ev)
				default:
					if len(batch) > 0 {
						b.ship(batch)
					}
					return
				}
			}
		}
	}
}

func (b *Batcher) ship(batch []domain.AnalyticsEvent) {
	payload, err := json.Marshal(batch)
	if err != nil {
		b.failed.Add(int64(len(batch)))
		b.logger.Error("failed to encode analytics batch", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.interval)
	defer cancel()

	_, err = b.transport.Send(ctx, domain.RequestSpec{
		Path: b.path,
		Form: map[string]string{"message": string(payload), "format": "json"},
	})
	if err != nil {
		b.failed.Add(int64(len(batch)))
		b.logger.Debug("analytics batch not delivered", "events", len(batch), "error", err)
		return
	}
	b.sent.Add(int64(len(batch)))
}
