package periodic

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arloliu/peerpair/internal/logging"
	"github.com/arloliu/peerpair/types"
)

// Common errors for loop operations.
var (
	ErrNotStarted      = errors.New("loop not started")
	ErrAlreadyStarted  = errors.New("loop already started")
	ErrInvalidInterval = errors.New("loop interval must be positive")
)

// Func is the body called on every tick.
type Func func(ctx context.Context) error

// Loop calls a function at a fixed interval.
type Loop struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	fn       Func
	logger   types.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
	runs    int
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger receiving tick failures.
func WithLogger(logger types.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithTimeout bounds every call. Zero means the call only ends with Stop.
func WithTimeout(d time.Duration) Option {
	return func(l *Loop) {
		l.timeout = d
	}
}

// New creates a loop.
//
// Parameters:
//   - name: Loop name used in logs
//   - interval: Time between calls
//   - fn: Body called on every tick
//   - opts: Optional configuration
//
// Returns:
//   - *Loop: Stopped loop
func New(name string, interval time.Duration, fn Func, opts ...Option) *Loop {
	l := &Loop{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Start calls the function once, then keeps calling it every interval in the
// background until Stop or until ctx is done.
//
// A failing first call is logged like every other call; it does not prevent
// the loop from starting.
//
// Returns:
//   - error: ErrAlreadyStarted if running, ErrInvalidInterval for a non-positive interval
func (l *Loop) Start(ctx context.Context) error {
	if l.interval <= 0 {
		return ErrInvalidInterval
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.started = true
	l.cancel = cancel
	l.doneCh = make(chan struct{})

	go l.run(ctx, loopCtx, l.doneCh)

	return nil
}

// Stop ends the loop and waits for a running call to return.
//
// Returns:
//   - error: ErrNotStarted if not running
func (l *Loop) Stop() error {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return ErrNotStarted
	}
	l.started = false
	l.cancel()
	done := l.doneCh
	l.mu.Unlock()

	<-done

	return nil
}

// IsStarted returns whether the loop is running.
func (l *Loop) IsStarted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.started
}

// Runs returns how many calls have completed.
func (l *Loop) Runs() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.runs
}

func (l *Loop) run(parent, ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-parent.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	callCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	err := l.fn(callCtx)

	l.mu.Lock()
	l.runs++
	l.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		l.logger.Warn("periodic call failed", "loop", l.name, "error", err)
	}
}
