package intake

import (
	"context"
	"errors"
	"fmt"
	rand "math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/peerpair/internal/natsutil"
	"github.com/arloliu/peerpair/types"
	"github.com/nats-io/nats.go/jetstream"
)

// Consumer pulls requests from the intake stream and passes them to a Handler.
//
// Several processes may run a Consumer with the same ConsumerName; the work
// queue stream delivers each request to exactly one of them.
type Consumer struct {
	js      jetstream.JetStream
	cfg     Config
	handler Handler
	logger  types.Logger
	metrics types.MetricsCollector
	rng     *rand.Rand

	mu       sync.Mutex
	consumer jetstream.Consumer
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewConsumer creates an intake consumer. Nothing is created on the server
// until Start.
//
// Parameters:
//   - js: JetStream context
//   - cfg: Consumer configuration; zero fields take defaults
//   - handler: Message handler, usually a *Dispatcher
//
// Returns:
//   - *Consumer: Consumer ready to Start
//   - error: Missing JetStream context or handler
func NewConsumer(js jetstream.JetStream, cfg Config, handler Handler) (*Consumer, error) {
	if js == nil {
		return nil, errors.New("JetStream context is required")
	}
	if handler == nil {
		return nil, errors.New("message handler is required")
	}

	cfg.applyDefaults()

	return &Consumer{
		js:      js,
		cfg:     cfg,
		handler: handler,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		rng:     newRetryRNG(cfg.RetrySeed),
	}, nil
}

// Start ensures the work queue stream and the durable consumer exist, then
// starts the pull loop.
//
// Parameters:
//   - ctx: Context for setup; the pull loop outlives it and ends on Close
//
// Returns:
//   - error: ErrConsumerStarted if already running, or a setup error;
//     connectivity errors are retried up to MaxRetries times first
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return ErrConsumerStarted
	}

	err := c.retry(ctx, "stream", func() error {
		_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      c.cfg.StreamName,
			Subjects:  []string{c.cfg.subjectFilter()},
			Retention: jetstream.WorkQueuePolicy,
			Storage:   c.cfg.Storage,
		})

		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create intake stream %s: %w", c.cfg.StreamName, err)
	}

	durable := sanitizeConsumerName(c.cfg.ConsumerName)
	var cons jetstream.Consumer
	err = c.retry(ctx, "consumer", func() error {
		var err error
		cons, err = c.js.CreateOrUpdateConsumer(ctx, c.cfg.StreamName, jetstream.ConsumerConfig{
			Name:          durable,
			Durable:       durable,
			FilterSubject: c.cfg.subjectFilter(),
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       c.cfg.AckWait,
			MaxDeliver:    c.cfg.MaxDeliver,
			MaxWaiting:    c.cfg.MaxWaiting,
		})

		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create intake consumer %s: %w", durable, err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.consumer = cons
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.pullLoop(loopCtx, cons, c.done)

	c.logger.Info("intake consumer started",
		"stream", c.cfg.StreamName,
		"durable", durable,
		"subjects", c.cfg.subjectFilter(),
	)

	return nil
}

func (c *Consumer) retry(ctx context.Context, what string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if !natsutil.IsConnectivityError(lastErr) {
			return lastErr
		}
		c.logger.Warn("intake setup failed, retrying", "what", what, "attempt", attempt+1, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RetryBackoff):
		}
	}

	return lastErr
}

func (c *Consumer) pullLoop(ctx context.Context, cons jetstream.Consumer, done chan struct{}) {
	defer close(done)

	for {
		iter, err := cons.Messages(
			jetstream.PullMaxMessages(c.cfg.BatchSize),
			jetstream.PullExpiry(c.cfg.FetchTimeout),
			jetstream.PullHeartbeat(c.cfg.FetchTimeout/2),
		)
		if err != nil {
			c.logger.Error("failed to create intake message iterator", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.RetryBackoff):
				continue
			}
		}

		stop := context.AfterFunc(ctx, iter.Stop)
		c.drain(ctx, iter)
		stop()
		iter.Stop()

		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.RetryBackoff):
		}
	}
}

// drain handles messages until the iterator fails or is stopped.
func (c *Consumer) drain(ctx context.Context, iter jetstream.MessagesContext) {
	for {
		msg, err := iter.Next()
		if err != nil {
			switch {
			case errors.Is(err, jetstream.ErrMsgIteratorClosed),
				errors.Is(err, context.Canceled),
				errors.Is(err, context.DeadlineExceeded):
			case errors.Is(err, jetstream.ErrNoHeartbeat):
				c.logger.Error("intake pull loop: no heartbeat", "error", err)
			case natsutil.IsConnectivityError(err):
				c.logger.Warn("intake pull loop: NATS unavailable, retrying", "error", err)
			default:
				c.logger.Warn("intake pull loop: iterator error, retrying", "error", err)
			}

			return
		}

		c.process(ctx, msg)
	}
}

func (c *Consumer) process(ctx context.Context, msg jetstream.Msg) {
	kind := string(KindFromSubject(msg.Subject()))
	if kind == "" {
		kind = "unknown"
	}

	err := c.handler.Handle(ctx, msg)
	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			c.logger.Warn("failed to ack intake request", "kind", kind, "error", ackErr)
		}
		c.metrics.RecordIntakeMessage(kind, "accepted")

	case IsPermanent(err):
		c.logger.Warn("intake request rejected", "kind", kind, "subject", msg.Subject(), "error", err)
		if termErr := msg.Term(); termErr != nil {
			c.logger.Warn("failed to terminate intake request", "kind", kind, "error", termErr)
		}
		c.metrics.RecordIntakeMessage(kind, "rejected")

	default:
		var delivered uint64 = 1
		if meta, metaErr := msg.Metadata(); metaErr == nil {
			delivered = meta.NumDelivered
		}
		delay := redeliveryDelay(delivered, c.cfg.NakBase, c.cfg.NakCap, c.rng)
		c.logger.Warn("intake request failed, redelivering",
			"kind", kind,
			"delivered", delivered,
			"delay", delay,
			"error", err,
		)
		if nakErr := msg.NakWithDelay(delay); nakErr != nil {
			c.logger.Warn("failed to nak intake request", "kind", kind, "error", nakErr)
		}
		c.metrics.RecordIntakeMessage(kind, "retried")
	}
}

// Close stops the pull loop and waits for the message in flight.
//
// Returns:
//   - error: ErrConsumerNotStarted if not running, or ctx.Err() if the
//     in-flight message did not finish in time
func (c *Consumer) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return ErrConsumerNotStarted
	}
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.consumer = nil
	c.mu.Unlock()

	cancel()

	select {
	case <-done:
		c.logger.Info("intake consumer closed")
		return nil
	case <-ctx.Done():
		c.logger.Warn("intake consumer close timed out")
		return ctx.Err()
	}
}

// Info returns the durable consumer state, including pending and
// redelivered counts.
func (c *Consumer) Info(ctx context.Context) (*jetstream.ConsumerInfo, error) {
	c.mu.Lock()
	cons := c.consumer
	c.mu.Unlock()

	if cons == nil {
		return nil, ErrConsumerNotStarted
	}

	info, err := cons.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get intake consumer info: %w", err)
	}

	return info, nil
}

func sanitizeConsumerName(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	for _, r := range name {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' ||
			r == '.' || r == '*' || r == '>' ||
			r == '/' || r == '\\' ||
			r < 32 || r == 127 {
			b.WriteRune('_')
		} else {
			b.WriteRune(r)
		}
	}

	return b.String()
}
