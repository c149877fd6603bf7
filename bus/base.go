// Package bus implements the typed service buses: a bounded-queue worker
// template (BaseBus) plus one facade per ServiceType that resolves a
// handler's request to a registry.Provider and invokes it, either
// synchronously or through the queue for fire-and-forget operations.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-run/meridian/core"
	"github.com/meridian-run/meridian/resilience"
	"github.com/meridian-run/meridian/telemetry"
)

// Message is one unit of queued work. Typed buses embed this and attach
// their own operation-specific payload.
type Message struct {
	ID          string
	HandlerName string
	Timestamp   time.Time
	Metadata    map[string]interface{}
}

// NewMessage stamps a new Message with a generated ID and current time.
func NewMessage(handler string, metadata map[string]interface{}) Message {
	return Message{
		ID:          uuid.NewString(),
		HandlerName: handler,
		Timestamp:   time.Now(),
		Metadata:    metadata,
	}
}

// Stats reports a bus's queue and processing counters.
type Stats struct {
	Queued           int64
	Processed        int64
	Failed           int64
	AvgProcessingMs  float64
}

// Processor handles one dequeued item. An error marks the item failed in
// stats but never stops the worker.
type Processor func(ctx context.Context, item interface{}) error

// BaseBus is the bounded-queue-plus-worker template every typed bus
// embeds. It owns no domain knowledge: callers supply a Processor.
type BaseBus struct {
	name     string
	capacity int
	logger   core.Logger

	queue chan interface{}

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	processed      int64
	failed         int64
	totalLatencyNs int64

	process Processor
	breaker *resilience.CircuitBreaker
}

// NewBaseBus creates a bus with the given queue capacity. capacity <= 0
// defaults to 1000, matching the spec's default max_queue_size. Every
// bus gets its own sliding-window circuit breaker keyed by name — the
// LLM bus breaks per-provider on sony/gobreaker instead (§4.4); this is
// the generic breaker for the rest of the typed buses' dispatch, which
// trips on a provider handler that errors repeatedly rather than
// retrying into a dependency that is already down.
func NewBaseBus(name string, capacity int, logger core.Logger, process Processor) *BaseBus {
	if capacity <= 0 {
		capacity = 1000
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	breaker, err := resilience.CreateCircuitBreaker(name, resilience.ResilienceDependencies{Logger: logger})
	if err != nil {
		logger.Warn("bus circuit breaker disabled", map[string]interface{}{
			"operation": "bus_breaker_init",
			"bus":       name,
			"error":     err.Error(),
		})
		breaker = nil
	}
	return &BaseBus{
		name:     name,
		capacity: capacity,
		logger:   logger,
		queue:    make(chan interface{}, capacity),
		process:  process,
		breaker:  breaker,
	}
}

// Start launches the background worker. Calling Start twice is a no-op.
func (b *BaseBus) Start(ctx context.Context) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	b.mu.Unlock()

	go b.run(ctx)
}

func (b *BaseBus) run(ctx context.Context) {
	defer close(b.doneCh)
	for {
		select {
		case <-b.stopCh:
			b.drain(ctx)
			return
		case <-ctx.Done():
			return
		case item := <-b.queue:
			b.handle(ctx, item)
		}
	}
}

// drain processes whatever remains in the queue without blocking on new
// enqueues (Enqueue rejects once stopped).
func (b *BaseBus) drain(ctx context.Context) {
	for {
		select {
		case item := <-b.queue:
			b.handle(ctx, item)
		default:
			return
		}
	}
}

func (b *BaseBus) handle(ctx context.Context, item interface{}) {
	start := time.Now()
	var err error
	if b.breaker != nil {
		err = b.breaker.Execute(ctx, func() error { return b.process(ctx, item) })
	} else {
		err = b.process(ctx, item)
	}
	atomic.AddInt64(&b.totalLatencyNs, time.Since(start).Nanoseconds())
	if err != nil {
		atomic.AddInt64(&b.failed, 1)
		telemetry.RecordSpanError(ctx, err)
		b.logger.Error("bus message processing failed", map[string]interface{}{
			"operation": "bus_process",
			"bus":       b.name,
			"error":     err.Error(),
		})
		return
	}
	atomic.AddInt64(&b.processed, 1)
}

// Stop sets the stop flag and waits up to timeout for the worker to drain
// and exit. After Stop, Enqueue always fails.
func (b *BaseBus) Stop(timeout time.Duration) {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	stopCh := b.stopCh
	doneCh := b.doneCh
	b.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
	case <-time.After(timeout):
		b.logger.Warn("bus stop timed out, abandoning drain", map[string]interface{}{
			"operation": "bus_stop_timeout",
			"bus":       b.name,
		})
	}
}

// Enqueue adds item to the queue. Returns false if the bus isn't running
// or the queue is full — back-pressure is a signal to the caller, not a
// latent failure.
func (b *BaseBus) Enqueue(item interface{}) bool {
	b.mu.Lock()
	running := b.running
	b.mu.Unlock()

	if !running {
		return false
	}

	select {
	case b.queue <- item:
		return true
	default:
		return false
	}
}

// QueueSize returns the number of items currently queued.
func (b *BaseBus) QueueSize() int {
	return len(b.queue)
}

// GetStats reports processed/failed counters and average processing time.
func (b *BaseBus) GetStats() Stats {
	processed := atomic.LoadInt64(&b.processed)
	failed := atomic.LoadInt64(&b.failed)
	totalNs := atomic.LoadInt64(&b.totalLatencyNs)

	var avgMs float64
	total := processed + failed
	if total > 0 {
		avgMs = float64(totalNs) / float64(total) / 1e6
	}

	return Stats{
		Queued:          int64(b.QueueSize()),
		Processed:       processed,
		Failed:          failed,
		AvgProcessingMs: avgMs,
	}
}

// IsRunning reports whether the worker goroutine is active.
func (b *BaseBus) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// IsHealthy reports running && queue_depth < 0.9 * capacity, matching the
// bus manager's per-bus health check (spec §4.5).
func (b *BaseBus) IsHealthy() bool {
	if !b.IsRunning() {
		return false
	}
	return float64(b.QueueSize()) < 0.9*float64(b.capacity)
}
