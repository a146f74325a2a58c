package notify

import (
	"context"
	"slices"
	"sync"

	"github.com/arloliu/peerpair/types"
)

// Nop is a notifier that discards every event.
type Nop struct{}

var _ types.Notifier = Nop{}

// PairingCreated implements types.Notifier.
func (Nop) PairingCreated(_ context.Context, _ types.Pairing) error { return nil }

// RunCompleted implements types.Notifier.
func (Nop) RunCompleted(_ context.Context, _ types.RunSummary) error { return nil }

// Recorder is a notifier that keeps every event in memory.
type Recorder struct {
	mu       sync.Mutex
	pairings []types.Pairing
	runs     []types.RunSummary
}

var _ types.Notifier = (*Recorder)(nil)

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// PairingCreated implements types.Notifier.
func (r *Recorder) PairingCreated(_ context.Context, p types.Pairing) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pairings = append(r.pairings, p)

	return nil
}

// RunCompleted implements types.Notifier.
func (r *Recorder) RunCompleted(_ context.Context, s types.RunSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runs = append(r.runs, s)

	return nil
}

// Pairings returns the recorded pairing events in arrival order.
func (r *Recorder) Pairings() []types.Pairing {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.pairings)
}

// Runs returns the recorded run summaries in arrival order.
func (r *Recorder) Runs() []types.RunSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.runs)
}
