package jobs

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/sync/semaphore"

	"github.com/arloliu/peerpair/internal/logging"
	"github.com/arloliu/peerpair/internal/metrics"
	"github.com/arloliu/peerpair/types"
)

// DefaultConcurrency is the number of jobs a Runner executes at once.
const DefaultConcurrency = 4

// Runner executes submitted jobs in the background with bounded concurrency.
//
// Submit returns immediately; callers poll the returned Job or subscribe to
// its Progress. A running job is never cancelled: Close only stops new
// submissions and waits for running jobs to finish.
type Runner struct {
	sem       *semaphore.Weighted
	admission Admission
	logger    types.Logger
	metrics   types.MetricsCollector
	retention time.Duration
	now       func() time.Time

	jobs   *xsync.Map[string, *Job]
	active atomic.Int64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithConcurrency sets how many jobs may run at once. Values below 1 are ignored.
func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithAdmission sets the admission table used for jobs with a Key.
func WithAdmission(a Admission) RunnerOption {
	return func(r *Runner) {
		if a != nil {
			r.admission = a
		}
	}
}

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(logger types.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRunnerMetrics sets the runner metrics collector.
func WithRunnerMetrics(m types.MetricsCollector) RunnerOption {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithRetention drops finished jobs from the registry once they are older
// than d. Zero keeps every job.
func WithRetention(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.retention = d
	}
}

// NewRunner creates a job runner.
//
// Parameters:
//   - opts: Optional configuration
//
// Returns:
//   - *Runner: Ready runner with an in-memory admission table by default
//
// Example:
//
//	runner := jobs.NewRunner(jobs.WithConcurrency(2))
//	job, err := runner.Submit(ctx, jobs.Spec{Kind: "csv", Run: body})
//	res, err := job.Wait(ctx)
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		sem:       semaphore.NewWeighted(DefaultConcurrency),
		admission: NewMemoryAdmission(),
		logger:    logging.NewNop(),
		metrics:   metrics.NewNop(),
		now:       time.Now,
		jobs:      xsync.NewMap[string, *Job](),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Submit schedules spec for execution and returns its job at once.
//
// Parameters:
//   - ctx: Context for admission; the job itself runs detached from ctx cancellation
//   - spec: Job to run
//
// Returns:
//   - *Job: The pending job
//   - error: types.ErrAutomaticPairingExists when spec.Key is already admitted,
//     types.ErrRunnerClosed after Close
func (r *Runner) Submit(ctx context.Context, spec Spec) (*Job, error) {
	if spec.Run == nil {
		return nil, fmt.Errorf("%w: job has no body", types.ErrInvalidConfig)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, types.ErrRunnerClosed
	}

	r.prune()

	job := &Job{
		id:        uuid.NewString(),
		kind:      spec.Kind,
		key:       spec.Key,
		createdAt: r.now(),
		progress:  NewProgress(spec.Kind, r.logger, r.metrics),
		done:      make(chan struct{}),
		status:    StatusPending,
	}

	if spec.Key != nil {
		if err := r.admission.Acquire(ctx, *spec.Key, job.id); err != nil {
			r.metrics.RecordAdmission(false)
			r.logger.Info("job rejected", "kind", spec.Kind, "key", spec.Key.String(), "error", err)

			return nil, err
		}
		r.metrics.RecordAdmission(true)
	}

	r.jobs.Store(job.id, job)
	r.logger.Debug("job submitted", "job_id", job.id, "kind", spec.Kind)

	r.wg.Go(func() {
		r.run(context.WithoutCancel(ctx), job, spec)
	})

	return job, nil
}

func (r *Runner) run(ctx context.Context, job *Job, spec Spec) {
	// Acquire only fails on a cancelled context and ctx is never cancelled.
	_ = r.sem.Acquire(ctx, 1)
	defer r.sem.Release(1)

	r.metrics.RecordActiveJobs(int(r.active.Add(1)))
	defer func() { r.metrics.RecordActiveJobs(int(r.active.Add(-1))) }()

	job.start(r.now())
	r.logger.Info("job started", "job_id", job.id, "kind", job.kind)

	res, err := r.execute(ctx, job, spec)

	if spec.Key != nil {
		releaseCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if rerr := r.admission.Release(releaseCtx, *spec.Key, job.id); rerr != nil {
			r.logger.Warn("failed to release admission", "job_id", job.id, "key", spec.Key.String(), "error", rerr)
		}
		cancel()
	}

	if err != nil {
		res.Status = ResultError
		res.Message = err.Error()
		job.progress.Fail(err)
		job.finish(r.now(), res, StatusError)
		r.logger.Error("job failed", "job_id", job.id, "kind", job.kind, "error", err)

		return
	}

	if res.Status == "" {
		res.Status = ResultSuccess
	}
	if !job.progress.State().IsTerminal() {
		_ = job.progress.Transition(types.RunDone)
	}
	job.finish(r.now(), res, StatusFinished)
	r.logger.Info("job finished", "job_id", job.id, "kind", job.kind, "message", res.Message)
}

func (r *Runner) execute(ctx context.Context, job *Job, spec Spec) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()

	return spec.Run(ctx, job.progress)
}

// Job returns the job with the given ID.
//
// Returns:
//   - *Job: The job
//   - error: types.ErrJobNotFound if unknown or pruned
func (r *Runner) Job(id string) (*Job, error) {
	job, ok := r.jobs.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrJobNotFound, id)
	}

	return job, nil
}

// Jobs returns all known jobs ordered by creation time.
func (r *Runner) Jobs() []*Job {
	var out []*Job
	r.jobs.Range(func(_ string, job *Job) bool {
		out = append(out, job)
		return true
	})
	slices.SortFunc(out, func(a, b *Job) int {
		if c := a.createdAt.Compare(b.createdAt); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})

	return out
}

func (r *Runner) prune() {
	if r.retention <= 0 {
		return
	}

	cutoff := r.now().Add(-r.retention)
	r.jobs.Range(func(id string, job *Job) bool {
		job.mu.RLock()
		expired := job.finishedAt != nil && job.finishedAt.Before(cutoff)
		job.mu.RUnlock()
		if expired {
			r.jobs.Delete(id)
		}

		return true
	})
}

// Close stops accepting jobs and waits for running jobs.
//
// Returns:
//   - error: ctx.Err() if ctx ends before every job finished
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(types.ErrRunnerClosed, ctx.Err())
	}
}
