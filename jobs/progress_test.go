package jobs

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/peerpair/internal/logging"
	"github.com/arloliu/peerpair/internal/metrics"
	"github.com/arloliu/peerpair/types"
)

type dropCounter struct {
	*metrics.NopMetrics
	dropped atomic.Int64
}

func (d *dropCounter) RecordProgressDropped() {
	d.dropped.Add(1)
}

func TestProgress_InitialSnapshot(t *testing.T) {
	p := NewProgress("automatic", nil, nil)

	snap := p.Snapshot()
	require.Equal(t, 0, snap.Percent)
	require.Equal(t, types.RunInitializing, snap.State)
	require.Empty(t, snap.Message)
}

func TestProgress_Monotonic(t *testing.T) {
	p := NewProgress("automatic", logging.NewNop(), metrics.NewNop())

	p.Set(15, "roster loaded")
	p.Set(10, "still loading")
	require.Equal(t, 15, p.Snapshot().Percent)
	require.Equal(t, "still loading", p.Snapshot().Message)

	p.Set(250, "")
	require.Equal(t, 100, p.Snapshot().Percent)
	require.Equal(t, "still loading", p.Snapshot().Message)

	p.Set(-5, "negative")
	require.Equal(t, 100, p.Snapshot().Percent)
}

func TestProgress_Transitions(t *testing.T) {
	t.Run("forward transitions succeed", func(t *testing.T) {
		p := NewProgress("automatic", nil, nil)
		require.NoError(t, p.Transition(types.RunLoadingRoster))
		require.NoError(t, p.Transition(types.RunComputingMatches))
		require.NoError(t, p.Transition(types.RunPersistingPairs))
		require.NoError(t, p.Transition(types.RunDone))
		require.Equal(t, 100, p.Snapshot().Percent)
	})

	t.Run("backward transitions are rejected", func(t *testing.T) {
		p := NewProgress("automatic", nil, nil)
		require.NoError(t, p.Transition(types.RunComputingMatches))
		require.Error(t, p.Transition(types.RunLoadingRoster))
		require.Equal(t, types.RunComputingMatches, p.State())
	})

	t.Run("terminal states are final", func(t *testing.T) {
		p := NewProgress("automatic", nil, nil)
		p.Fail(errors.New("roster unavailable"))
		require.Equal(t, types.RunFailed, p.State())
		require.Equal(t, "roster unavailable", p.Snapshot().Message)

		require.Error(t, p.Transition(types.RunDone))
		p.Set(50, "ignored")
		require.Equal(t, "roster unavailable", p.Snapshot().Message)

		p.Fail(errors.New("second failure"))
		require.Equal(t, "roster unavailable", p.Snapshot().Message)
	})
}

func TestProgress_Subscribe(t *testing.T) {
	t.Run("receives current snapshot immediately", func(t *testing.T) {
		p := NewProgress("csv", nil, nil)
		p.Set(30, "matching")

		updates, stop := p.Subscribe()
		defer stop()

		snap := <-updates
		require.Equal(t, 30, snap.Percent)
		require.Equal(t, "matching", snap.Message)
	})

	t.Run("channel closes on terminal state", func(t *testing.T) {
		p := NewProgress("csv", nil, nil)
		updates, stop := p.Subscribe()
		defer stop()

		p.Set(50, "half")
		require.NoError(t, p.Transition(types.RunDone))

		var seen []Snapshot
		for snap := range updates {
			seen = append(seen, snap)
		}
		require.Len(t, seen, 3)
		require.Equal(t, types.RunDone, seen[2].State)
	})

	t.Run("subscribing after completion yields one snapshot", func(t *testing.T) {
		p := NewProgress("csv", nil, nil)
		require.NoError(t, p.Transition(types.RunDone))

		updates, stop := p.Subscribe()
		defer stop()

		snap, ok := <-updates
		require.True(t, ok)
		require.Equal(t, types.RunDone, snap.State)
		_, ok = <-updates
		require.False(t, ok)
	})

	t.Run("unsubscribe is idempotent", func(t *testing.T) {
		p := NewProgress("csv", nil, nil)
		_, stop := p.Subscribe()
		stop()
		stop()
		p.Set(10, "after unsubscribe")
	})

	t.Run("slow subscribers never block", func(t *testing.T) {
		counter := &dropCounter{NopMetrics: metrics.NewNop()}
		p := NewProgress("csv", nil, counter)
		_, stop := p.Subscribe()
		defer stop()

		for i := range 100 {
			p.Set(i, "step")
		}
		require.Positive(t, counter.dropped.Load())
	})
}
