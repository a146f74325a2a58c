package intake

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/peerpair/allocation"
	"github.com/arloliu/peerpair/jobs"
	"github.com/arloliu/peerpair/maintenance"
	pptest "github.com/arloliu/peerpair/testing"
	"github.com/arloliu/peerpair/types"
)

type fakeSubmitter struct {
	runner *jobs.Runner

	mu    sync.Mutex
	calls []Kind
	last  any
	errs  []error
}

func newFakeSubmitter(t *testing.T) *fakeSubmitter {
	t.Helper()
	runner := jobs.NewRunner(jobs.WithRetention(0))
	t.Cleanup(func() { _ = runner.Close(context.Background()) })

	return &fakeSubmitter{runner: runner}
}

func (f *fakeSubmitter) failNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
}

func (f *fakeSubmitter) record(kind Kind, req any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, kind)
	f.last = req
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]

		return err
	}

	return nil
}

func (f *fakeSubmitter) Calls() []Kind {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]Kind(nil), f.calls...)
}

func (f *fakeSubmitter) submit(ctx context.Context, kind Kind, req any) (*jobs.Job, error) {
	if err := f.record(kind, req); err != nil {
		return nil, err
	}

	return f.runner.Submit(ctx, jobs.Spec{
		Kind: string(kind),
		Run: func(context.Context, *jobs.Progress) (jobs.Result, error) {
			return jobs.Result{Status: "ok"}, nil
		},
	})
}

func (f *fakeSubmitter) SubmitAutomatic(ctx context.Context, req allocation.AutomaticRequest) (*jobs.Job, error) {
	return f.submit(ctx, KindAutomatic, req)
}

func (f *fakeSubmitter) SubmitIntraGroup(ctx context.Context, req allocation.AutomaticRequest) (*jobs.Job, error) {
	return f.submit(ctx, KindIntraGroup, req)
}

func (f *fakeSubmitter) SubmitCSV(ctx context.Context, req allocation.CSVRequest) (*jobs.Job, error) {
	return f.submit(ctx, KindCSV, req)
}

func (f *fakeSubmitter) SubmitTAAllocation(ctx context.Context, req allocation.TARequest) (*jobs.Job, error) {
	return f.submit(ctx, KindTAAllocation, req)
}

func (f *fakeSubmitter) SubmitReplaceUnsubmitted(ctx context.Context, req maintenance.ReplaceRequest) (*jobs.Job, error) {
	return f.submit(ctx, KindReplaceUnsubmitted, req)
}

func (f *fakeSubmitter) SubmitFillMissing(ctx context.Context, req maintenance.FillRequest) (*jobs.Job, error) {
	return f.submit(ctx, KindFillMissing, req)
}

func (f *fakeSubmitter) SubmitReplaceTask(ctx context.Context, req maintenance.ReplaceTaskRequest) (*jobs.Job, error) {
	return f.submit(ctx, KindReplaceTask, req)
}

func (f *fakeSubmitter) ScheduleAutomatic(_ context.Context, req allocation.AutomaticRequest) (jobs.ScheduledRun, error) {
	if err := f.record(KindSchedule, req); err != nil {
		return jobs.ScheduledRun{}, err
	}

	return jobs.ScheduledRun{ID: "run-1", CourseID: req.CourseID, AssignmentID: req.AssignmentID}, nil
}

type fakeMsg struct {
	jetstream.Msg

	subject string
	data    []byte
}

func (m *fakeMsg) Subject() string { return m.subject }

func (m *fakeMsg) Data() []byte { return m.data }

func newMsg(t *testing.T, kind Kind, req any) *fakeMsg {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)

	return &fakeMsg{subject: Subject("", kind), data: data}
}

func TestSubject(t *testing.T) {
	require.Equal(t, "peerpair.requests.automatic", Subject("", KindAutomatic))
	require.Equal(t, "course.requests.csv", Subject("course", KindCSV))

	tests := []struct {
		subject string
		want    Kind
	}{
		{"peerpair.requests.automatic", KindAutomatic},
		{"a.b.requests.ta_allocation", KindTAAllocation},
		{"peerpair.requests.schedule", KindSchedule},
		{"peerpair.requests.bogus", ""},
		{"peerpair.pairing.created", ""},
		{"requests", ""},
	}
	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			require.Equal(t, tt.want, KindFromSubject(tt.subject))
		})
	}

	for _, k := range Kinds() {
		require.True(t, k.Valid())
		require.Equal(t, k, KindFromSubject(Subject("x", k)))
	}
}

func TestPermanent(t *testing.T) {
	require.NoError(t, Permanent(nil))

	base := errors.New("boom")
	err := Permanent(base)
	require.True(t, IsPermanent(err))
	require.ErrorIs(t, err, base)
	require.EqualError(t, err, "boom")

	wrapped := errors.Join(errors.New("outer"), err)
	require.True(t, IsPermanent(wrapped))
	require.False(t, IsPermanent(base))
}

func TestDispatcher(t *testing.T) {
	ctx := t.Context()
	teacher := pptest.Users("teacher", 100, 1)[0]

	t.Run("routes every kind", func(t *testing.T) {
		sub := newFakeSubmitter(t)
		d := NewDispatcher(sub, pptest.NewTestLogger(t))

		automatic := allocation.AutomaticRequest{CourseID: 1, AssignmentID: 2, Rounds: 2, Creator: teacher}
		msgs := map[Kind]any{
			KindAutomatic:          automatic,
			KindIntraGroup:         automatic,
			KindCSV:                allocation.CSVRequest{CourseID: 1, AssignmentID: 2, GraderType: types.KindStudent},
			KindTAAllocation:       allocation.TARequest{CourseID: 1, AssignmentID: 2},
			KindReplaceUnsubmitted: maintenance.ReplaceRequest{CourseID: 1, AssignmentID: 2, PairsPerGrader: 2},
			KindFillMissing:        maintenance.FillRequest{CourseID: 1, AssignmentID: 2, MinPairs: 2},
			KindReplaceTask:        maintenance.ReplaceTaskRequest{TaskID: "t-1"},
			KindSchedule:           automatic,
		}
		for _, kind := range Kinds() {
			require.NoError(t, d.Handle(ctx, newMsg(t, kind, msgs[kind])), kind)
		}

		require.Equal(t, Kinds(), sub.Calls())
		require.Equal(t, automatic, sub.last)
	})

	t.Run("decodes request fields", func(t *testing.T) {
		sub := newFakeSubmitter(t)
		d := NewDispatcher(sub, nil)

		msg := &fakeMsg{
			subject: Subject("", KindTAAllocation),
			data:    []byte(`{"courseId":5,"assignmentId":77,"allocations":[{"taId":7,"studentCount":3}],"notify":true}`),
		}
		require.NoError(t, d.Handle(ctx, msg))

		req, ok := sub.last.(allocation.TARequest)
		require.True(t, ok)
		require.Equal(t, int64(5), req.CourseID)
		require.Equal(t, int64(77), req.AssignmentID)
		require.Equal(t, []allocation.TAAllocation{{TAID: 7, StudentCount: 3}}, req.Allocations)
		require.True(t, req.Notify)
	})

	t.Run("malformed payload is permanent", func(t *testing.T) {
		sub := newFakeSubmitter(t)
		d := NewDispatcher(sub, nil)

		err := d.Handle(ctx, &fakeMsg{subject: Subject("", KindCSV), data: []byte("{not json")})
		require.True(t, IsPermanent(err))
		require.ErrorIs(t, err, types.ErrInvalidConfig)
		require.Empty(t, sub.Calls())
	})

	t.Run("unknown kind is permanent", func(t *testing.T) {
		d := NewDispatcher(newFakeSubmitter(t), nil)

		err := d.Handle(ctx, &fakeMsg{subject: "peerpair.requests.unknown", data: []byte("{}")})
		require.True(t, IsPermanent(err))
		require.ErrorIs(t, err, ErrUnknownKind)
	})

	t.Run("classifies submit errors", func(t *testing.T) {
		extra := errors.New("no due date")
		sub := newFakeSubmitter(t)
		d := NewDispatcher(sub, nil, extra)

		sub.failNext(
			types.ErrAutomaticPairingExists,
			extra,
			types.ErrNotStarted,
			types.ErrRosterUnavailable,
		)
		msg := newMsg(t, KindAutomatic, allocation.AutomaticRequest{CourseID: 1, AssignmentID: 2, Rounds: 1})

		err := d.Handle(ctx, msg)
		require.True(t, IsPermanent(err))
		require.ErrorIs(t, err, types.ErrAutomaticPairingExists)

		err = d.Handle(ctx, msg)
		require.True(t, IsPermanent(err))
		require.ErrorIs(t, err, extra)

		err = d.Handle(ctx, msg)
		require.False(t, IsPermanent(err))
		require.ErrorIs(t, err, types.ErrNotStarted)

		err = d.Handle(ctx, msg)
		require.False(t, IsPermanent(err))
		require.ErrorIs(t, err, types.ErrRosterUnavailable)
	})
}

func TestNewConsumer(t *testing.T) {
	_, nc := pptest.StartEmbeddedNATS(t)
	js := pptest.NewJetStream(t, nc)

	_, err := NewConsumer(nil, Config{}, HandlerFunc(func(context.Context, jetstream.Msg) error { return nil }))
	require.Error(t, err)

	_, err = NewConsumer(js, Config{}, nil)
	require.Error(t, err)

	cons, err := NewConsumer(js, Config{}, HandlerFunc(func(context.Context, jetstream.Msg) error { return nil }))
	require.NoError(t, err)
	require.Equal(t, DefaultStreamName, cons.cfg.StreamName)
	require.Equal(t, "peerpair.requests.>", cons.cfg.subjectFilter())

	require.ErrorIs(t, cons.Close(t.Context()), ErrConsumerNotStarted)
	_, err = cons.Info(t.Context())
	require.ErrorIs(t, err, ErrConsumerNotStarted)
}

func startConsumer(t *testing.T, js jetstream.JetStream, handler Handler) *Consumer {
	t.Helper()

	cons, err := NewConsumer(js, Config{
		StreamName:   "TEST_REQUESTS",
		Storage:      jetstream.MemoryStorage,
		FetchTimeout: time.Second,
		NakBase:      10 * time.Millisecond,
		NakCap:       50 * time.Millisecond,
		RetrySeed:    7,
		Logger:       pptest.NewTestLogger(t),
	}, handler)
	require.NoError(t, err)
	require.NoError(t, cons.Start(t.Context()))
	require.ErrorIs(t, cons.Start(t.Context()), ErrConsumerStarted)
	t.Cleanup(func() { _ = cons.Close(context.Background()) })

	return cons
}

func TestConsumer_Dispatch(t *testing.T) {
	_, nc := pptest.StartEmbeddedNATS(t)
	js := pptest.NewJetStream(t, nc)
	ctx := t.Context()

	sub := newFakeSubmitter(t)
	cons := startConsumer(t, js, NewDispatcher(sub, pptest.NewTestLogger(t)))

	_, err := Publish(ctx, js, "", KindAutomatic, allocation.AutomaticRequest{CourseID: 1, AssignmentID: 2, Rounds: 2})
	require.NoError(t, err)
	_, err = Publish(ctx, js, "", KindReplaceTask, maintenance.ReplaceTaskRequest{TaskID: "t-9"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(sub.Calls()) == 2
	}, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, []Kind{KindAutomatic, KindReplaceTask}, sub.Calls())

	// Acknowledged requests leave the work queue.
	require.Eventually(t, func() bool {
		info, err := cons.Info(ctx)
		return err == nil && info.NumAckPending == 0 && info.NumPending == 0
	}, 5*time.Second, 20*time.Millisecond)

	_, err = Publish(ctx, js, "", Kind("bogus"), struct{}{})
	require.Error(t, err)
}

func TestConsumer_Redelivery(t *testing.T) {
	_, nc := pptest.StartEmbeddedNATS(t)
	js := pptest.NewJetStream(t, nc)
	ctx := t.Context()

	var mu sync.Mutex
	deliveries := map[string]int{}
	handler := HandlerFunc(func(_ context.Context, msg jetstream.Msg) error {
		mu.Lock()
		defer mu.Unlock()
		deliveries[string(msg.Data())]++

		switch string(msg.Data()) {
		case `"transient"`:
			if deliveries[`"transient"`] < 3 {
				return errors.New("roster offline")
			}
			return nil
		case `"invalid"`:
			return Permanent(types.ErrInvalidConfig)
		}

		return nil
	})
	startConsumer(t, js, handler)

	_, err := Publish(ctx, js, "", KindCSV, "invalid")
	require.NoError(t, err)
	_, err = Publish(ctx, js, "", KindCSV, "transient")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return deliveries[`"transient"`] == 3
	}, 5*time.Second, 20*time.Millisecond)

	// Terminated messages are not redelivered.
	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	require.Equal(t, 1, deliveries[`"invalid"`])
	require.Equal(t, 3, deliveries[`"transient"`])
	mu.Unlock()
}

func TestRedeliveryDelay(t *testing.T) {
	rng := newRetryRNG(42)
	base, capDur := 100*time.Millisecond, time.Second

	require.Equal(t, base, redeliveryDelay(0, base, capDur, rng))
	require.Equal(t, base, redeliveryDelay(1, base, capDur, rng))
	for delivered := uint64(2); delivered < 10; delivered++ {
		d := redeliveryDelay(delivered, base, capDur, rng)
		require.GreaterOrEqual(t, d, base)
		require.LessOrEqual(t, d, capDur)
	}
}
