package notify

import (
	"context"
	"sync"
	"time"

	"github.com/arloliu/peerpair/internal/logging"
	"github.com/arloliu/peerpair/internal/metrics"
	"github.com/arloliu/peerpair/types"
)

// DefaultQueueSize is the number of pending events an Async notifier buffers.
const DefaultQueueSize = 128

// Async wraps a notifier with a bounded queue and a single delivery goroutine.
//
// PairingCreated and RunCompleted never block and never fail: when the queue
// is full the event is dropped, logged and counted. Delivery errors of the
// wrapped notifier are logged and counted the same way.
type Async struct {
	next    types.Notifier
	logger  types.Logger
	metrics types.MetricsCollector
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	queue  chan delivery
	doneCh chan struct{}
}

var _ types.Notifier = (*Async)(nil)

type delivery struct {
	event   string
	deliver func(ctx context.Context) error
}

// AsyncOption configures an Async notifier.
type AsyncOption func(*Async)

// WithQueueSize sets the queue capacity. Values below 1 are ignored.
func WithQueueSize(n int) AsyncOption {
	return func(a *Async) {
		if n > 0 {
			a.queue = make(chan delivery, n)
		}
	}
}

// WithLogger sets the logger for dropped and failed deliveries.
func WithLogger(logger types.Logger) AsyncOption {
	return func(a *Async) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.MetricsCollector) AsyncOption {
	return func(a *Async) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithDeliveryTimeout bounds each call to the wrapped notifier.
func WithDeliveryTimeout(d time.Duration) AsyncOption {
	return func(a *Async) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAsync starts a delivery goroutine in front of next.
//
// Parameters:
//   - next: Notifier that performs the actual delivery
//   - opts: Optional configuration
//
// Returns:
//   - *Async: Running notifier; call Close to drain and stop it
func NewAsync(next types.Notifier, opts ...AsyncOption) *Async {
	if next == nil {
		next = Nop{}
	}

	a := &Async{
		next:    next,
		logger:  logging.NewNop(),
		metrics: metrics.NewNop(),
		timeout: 5 * time.Second,
		queue:   make(chan delivery, DefaultQueueSize),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}

	go a.loop()

	return a
}

// PairingCreated implements types.Notifier. It only enqueues.
func (a *Async) PairingCreated(_ context.Context, p types.Pairing) error {
	a.enqueue(delivery{
		event:   EventPairingCreated,
		deliver: func(ctx context.Context) error { return a.next.PairingCreated(ctx, p) },
	})

	return nil
}

// RunCompleted implements types.Notifier. It only enqueues.
func (a *Async) RunCompleted(_ context.Context, s types.RunSummary) error {
	a.enqueue(delivery{
		event:   EventRunCompleted,
		deliver: func(ctx context.Context) error { return a.next.RunCompleted(ctx, s) },
	})

	return nil
}

func (a *Async) enqueue(d delivery) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		a.drop(d, "notifier closed")
		return
	}

	select {
	case a.queue <- d:
	default:
		a.drop(d, "queue full")
	}
}

func (a *Async) drop(d delivery, reason string) {
	a.logger.Warn("notification dropped", "event", d.event, "reason", reason)
	a.metrics.RecordNotification(d.event, "dropped")
}

func (a *Async) loop() {
	defer close(a.doneCh)

	for d := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := d.deliver(ctx)
		cancel()

		if err != nil {
			a.logger.Error("notification failed", "event", d.event, "error", err)
			a.metrics.RecordNotification(d.event, "failed")

			continue
		}
		a.metrics.RecordNotification(d.event, "sent")
	}
}

// Close stops accepting events and waits until queued events are delivered.
//
// Returns:
//   - error: ctx.Err() if ctx ends before the queue drained
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
