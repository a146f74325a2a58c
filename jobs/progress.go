package jobs

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/peerpair/internal/logging"
	"github.com/arloliu/peerpair/internal/metrics"
	"github.com/arloliu/peerpair/types"
)

// Snapshot is a point-in-time view of a Progress.
type Snapshot struct {
	Percent   int            `json:"percent"`
	Message   string         `json:"message"`
	State     types.RunState `json:"state"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Progress is the externally observable progress of one orchestration run.
//
// The percentage only moves forward and run states follow
// types.RunState.CanTransition. Subscribers receive every change without
// ever blocking the run; a subscriber that falls behind misses intermediate
// snapshots but always sees the latest one it manages to read.
type Progress struct {
	kind    string
	logger  types.Logger
	metrics types.MetricsCollector

	mu         sync.RWMutex
	snap       Snapshot
	stateSince time.Time

	subscribers      *xsync.Map[uint64, *subscriber]
	nextSubscriberID atomic.Uint64
}

// NewProgress creates a progress handle in INITIALIZING at 0%.
//
// Parameters:
//   - kind: Run kind used as metrics label (e.g. "automatic")
//   - logger: Logger (nop when nil)
//   - m: Metrics collector (nop when nil)
//
// Returns:
//   - *Progress: New progress handle
func NewProgress(kind string, logger types.Logger, m types.MetricsCollector) *Progress {
	if logger == nil {
		logger = logging.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}

	now := time.Now()

	return &Progress{
		kind:        kind,
		logger:      logger,
		metrics:     m,
		snap:        Snapshot{State: types.RunInitializing, UpdatedAt: now},
		stateSince:  now,
		subscribers: xsync.NewMap[uint64, *subscriber](),
	}
}

// Snapshot returns the current progress.
func (p *Progress) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.snap
}

// State returns the current run state.
func (p *Progress) State() types.RunState {
	return p.Snapshot().State
}

// Set updates the percentage and message.
//
// Percentages are clamped to [0, 100]; a value below the current one keeps
// the current percentage and only replaces the message.
func (p *Progress) Set(percent int, message string) {
	p.mu.Lock()
	if p.snap.State.IsTerminal() {
		p.mu.Unlock()
		return
	}

	percent = min(max(percent, 0), 100)
	p.snap.Percent = max(p.snap.Percent, percent)
	if message != "" {
		p.snap.Message = message
	}
	p.snap.UpdatedAt = time.Now()
	snap := p.snap
	p.mu.Unlock()

	p.broadcast(snap)
}

// Transition moves the run to next.
//
// Returns:
//   - error: When the transition is not allowed from the current state
func (p *Progress) Transition(next types.RunState) error {
	p.mu.Lock()
	from := p.snap.State
	if !from.CanTransition(next) {
		p.mu.Unlock()
		return fmt.Errorf("invalid run state transition %s -> %s", from, next)
	}

	now := time.Now()
	p.snap.State = next
	p.snap.UpdatedAt = now
	if next == types.RunDone {
		p.snap.Percent = 100
	}
	if next.IsTerminal() {
		p.metrics.RecordRunDuration(p.kind, now.Sub(p.stateSince).Seconds(), next == types.RunDone)
	}
	snap := p.snap
	p.mu.Unlock()

	p.metrics.RecordRunStateTransition(p.kind, from, next)
	p.logger.Debug("run state transition", "kind", p.kind, "from", from, "to", next)
	p.broadcast(snap)

	return nil
}

// Fail moves the run to FAILED with err as message. It is a no-op once the
// run is terminal.
func (p *Progress) Fail(err error) {
	p.mu.Lock()
	if p.snap.State.IsTerminal() {
		p.mu.Unlock()
		return
	}
	if err != nil {
		p.snap.Message = err.Error()
	}
	p.mu.Unlock()

	_ = p.Transition(types.RunFailed)
}

// Subscribe returns a channel of progress snapshots and an unsubscribe func.
//
// The current snapshot is delivered immediately. The channel is closed when
// the run reaches a terminal state or on unsubscribe.
//
// Example:
//
//	updates, stop := job.Progress().Subscribe()
//	defer stop()
//	for snap := range updates {
//	    fmt.Printf("%3d%% %s\n", snap.Percent, snap.Message)
//	}
func (p *Progress) Subscribe() (<-chan Snapshot, func()) {
	id := p.nextSubscriberID.Add(1)

	// Room for one update per run state plus a few percentage steps.
	sub := &subscriber{ch: make(chan Snapshot, 16)}
	p.subscribers.Store(id, sub)

	snap := p.Snapshot()
	p.trySend(sub, snap)
	if snap.State.IsTerminal() {
		p.removeSubscriber(id)
	}

	return sub.ch, func() { p.removeSubscriber(id) }
}

func (p *Progress) removeSubscriber(id uint64) {
	if sub, ok := p.subscribers.LoadAndDelete(id); ok {
		sub.close()
	}
}

func (p *Progress) broadcast(snap Snapshot) {
	p.subscribers.Range(func(id uint64, sub *subscriber) bool {
		p.trySend(sub, snap)
		if snap.State.IsTerminal() {
			p.removeSubscriber(id)
		}

		return true
	})
}

func (p *Progress) trySend(sub *subscriber, snap Snapshot) {
	if !sub.trySend(snap) {
		p.metrics.RecordProgressDropped()
	}
}

// subscriber is one progress listener.
type subscriber struct {
	ch     chan Snapshot
	mu     sync.Mutex
	closed bool
}

// trySend delivers snap without blocking and reports whether it was delivered.
func (s *subscriber) trySend(snap Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}

	select {
	case s.ch <- snap:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
