package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/peerpair/internal/metrics"
	pptest "github.com/arloliu/peerpair/testing"
	"github.com/arloliu/peerpair/types"
)

type notificationCounter struct {
	*metrics.NopMetrics

	mu     sync.Mutex
	counts map[string]int
}

func newNotificationCounter() *notificationCounter {
	return &notificationCounter{NopMetrics: metrics.NewNop(), counts: make(map[string]int)}
}

func (c *notificationCounter) RecordNotification(event, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[event+"/"+result]++
}

func (c *notificationCounter) get(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.counts[key]
}

// blockingNotifier holds every delivery until release is closed.
type blockingNotifier struct {
	Recorder

	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingNotifier() *blockingNotifier {
	return &blockingNotifier{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingNotifier) PairingCreated(ctx context.Context, p types.Pairing) error {
	b.once.Do(func() { close(b.started) })
	<-b.release

	return b.Recorder.PairingCreated(ctx, p)
}

type failingNotifier struct{ Nop }

func (failingNotifier) RunCompleted(context.Context, types.RunSummary) error {
	return errors.New("broker unavailable")
}

func TestAsync(t *testing.T) {
	t.Run("delivers queued events in order", func(t *testing.T) {
		rec := NewRecorder()
		counter := newNotificationCounter()
		a := NewAsync(rec, WithMetrics(counter), WithLogger(pptest.NewTestLogger(t)))

		for i := range 5 {
			require.NoError(t, a.PairingCreated(t.Context(), types.Pairing{ID: string(rune('a' + i))}))
		}
		require.NoError(t, a.RunCompleted(t.Context(), types.RunSummary{JobID: "job-1", Success: true}))
		require.NoError(t, a.Close(t.Context()))

		got := rec.Pairings()
		require.Len(t, got, 5)
		require.Equal(t, "a", got[0].ID)
		require.Equal(t, "e", got[4].ID)
		require.Len(t, rec.Runs(), 1)
		require.Equal(t, 5, counter.get("pairing_created/sent"))
		require.Equal(t, 1, counter.get("run_completed/sent"))
	})

	t.Run("drops when the queue is full without blocking", func(t *testing.T) {
		slow := newBlockingNotifier()
		counter := newNotificationCounter()
		a := NewAsync(slow, WithQueueSize(1), WithMetrics(counter))

		require.NoError(t, a.PairingCreated(t.Context(), types.Pairing{ID: "in-flight"}))
		<-slow.started

		require.NoError(t, a.PairingCreated(t.Context(), types.Pairing{ID: "queued"}))

		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = a.PairingCreated(t.Context(), types.Pairing{ID: "dropped"})
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("PairingCreated blocked on a full queue")
		}

		close(slow.release)
		require.NoError(t, a.Close(t.Context()))

		require.Equal(t, 1, counter.get("pairing_created/dropped"))
		require.Equal(t, 2, counter.get("pairing_created/sent"))
		require.Len(t, slow.Pairings(), 2)
	})

	t.Run("delivery errors never surface to the caller", func(t *testing.T) {
		counter := newNotificationCounter()
		a := NewAsync(failingNotifier{}, WithMetrics(counter))

		require.NoError(t, a.RunCompleted(t.Context(), types.RunSummary{JobID: "job-2"}))
		require.NoError(t, a.Close(t.Context()))
		require.Equal(t, 1, counter.get("run_completed/failed"))
	})

	t.Run("events after close are dropped", func(t *testing.T) {
		counter := newNotificationCounter()
		a := NewAsync(NewRecorder(), WithMetrics(counter))
		require.NoError(t, a.Close(t.Context()))
		require.NoError(t, a.Close(t.Context()))

		require.NoError(t, a.PairingCreated(t.Context(), types.Pairing{ID: "late"}))
		require.Equal(t, 1, counter.get("pairing_created/dropped"))
	})

	t.Run("close honours the context", func(t *testing.T) {
		slow := newBlockingNotifier()
		a := NewAsync(slow)
		require.NoError(t, a.PairingCreated(t.Context(), types.Pairing{ID: "stuck"}))
		<-slow.started

		ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		defer cancel()
		require.ErrorIs(t, a.Close(ctx), context.DeadlineExceeded)

		close(slow.release)
	})
}

func TestNATS(t *testing.T) {
	_, nc := pptest.StartEmbeddedNATS(t)

	n := NewNATS(nc, "")
	require.Equal(t, "peerpair.pairing.created", n.PairingSubject())
	require.Equal(t, "peerpair.run.completed", n.RunSubject())

	msgs := make(chan *nats.Msg, 4)
	sub, err := nc.ChanSubscribe("peerpair.>", msgs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	require.NoError(t, nc.Flush())

	t.Run("publishes pairing events", func(t *testing.T) {
		p := types.Pairing{ID: "p-1", Kind: types.KindStudent, GraderID: 1, RecipientID: 2}
		require.NoError(t, n.PairingCreated(t.Context(), p))

		msg := receive(t, msgs)
		require.Equal(t, "peerpair.pairing.created", msg.Subject)

		var ev Event
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		require.Equal(t, EventPairingCreated, ev.Type)
		require.NotEmpty(t, ev.ID)
		require.NotNil(t, ev.Pairing)
		require.Equal(t, p.ID, ev.Pairing.ID)
		require.Nil(t, ev.Run)
	})

	t.Run("publishes run summaries", func(t *testing.T) {
		s := types.RunSummary{JobID: "job-1", Kind: "automatic", Created: 3, Skipped: []string{"eve"}, Success: true}
		require.NoError(t, n.RunCompleted(t.Context(), s))

		msg := receive(t, msgs)
		require.Equal(t, "peerpair.run.completed", msg.Subject)

		var ev Event
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		require.Equal(t, EventRunCompleted, ev.Type)
		require.NotNil(t, ev.Run)
		require.Equal(t, 3, ev.Run.Created)
		require.Equal(t, []string{"eve"}, ev.Run.Skipped)
	})

	t.Run("cancelled context is rejected", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		require.ErrorIs(t, n.PairingCreated(ctx, types.Pairing{}), context.Canceled)
	})
}

func receive(t *testing.T, msgs <-chan *nats.Msg) *nats.Msg {
	t.Helper()

	select {
	case msg := <-msgs:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}
