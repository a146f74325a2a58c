package jobs

import (
	"context"
	"sync"
	"time"
)

// Status is the externally visible job status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
	StatusError      Status = "error"
)

// Result outcomes.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Result is the outcome a job reports once it has finished.
type Result struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Skipped []string `json:"skipped,omitempty"`
	Created int      `json:"created,omitempty"`

	// PairingID is the pairing a single-pair job created.
	PairingID string `json:"pairingId,omitempty"`
}

// Func is the body of a job. It reports progress on p and returns the
// result message. A returned error turns the job into StatusError with the
// error text as message.
type Func func(ctx context.Context, p *Progress) (Result, error)

// Spec describes a job to submit.
type Spec struct {
	// Kind is the run kind ("automatic", "csv", ...), used for logs and metrics.
	Kind string

	// Key makes the job subject to admission control when set.
	Key *AdmissionKey

	// Run is the job body.
	Run Func
}

// Info is a read-only view of a job.
type Info struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Status     Status     `json:"status"`
	Progress   Snapshot   `json:"progress"`
	Result     *Result    `json:"result,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Job is a submitted run.
type Job struct {
	id        string
	kind      string
	key       *AdmissionKey
	createdAt time.Time
	progress  *Progress
	done      chan struct{}

	mu         sync.RWMutex
	status     Status
	result     *Result
	startedAt  *time.Time
	finishedAt *time.Time
}

// ID returns the job identifier.
func (j *Job) ID() string {
	return j.id
}

// Kind returns the run kind.
func (j *Job) Kind() string {
	return j.kind
}

// Progress returns the job's progress handle.
func (j *Job) Progress() *Progress {
	return j.progress
}

// Status returns the current status.
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.status
}

// Result returns the result once the job has finished.
func (j *Job) Result() (Result, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.result == nil {
		return Result{}, false
	}

	return *j.result, true
}

// Done is closed once the job has finished or failed.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job ends or ctx is done.
//
// Returns:
//   - Result: The job result
//   - error: ctx.Err() if the context ended first
func (j *Job) Wait(ctx context.Context) (Result, error) {
	select {
	case <-j.done:
		res, _ := j.Result()
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Info returns a snapshot of the job.
func (j *Job) Info() Info {
	j.mu.RLock()
	defer j.mu.RUnlock()

	info := Info{
		ID:         j.id,
		Kind:       j.kind,
		Status:     j.status,
		Progress:   j.progress.Snapshot(),
		CreatedAt:  j.createdAt,
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
	}
	if j.result != nil {
		res := *j.result
		info.Result = &res
	}

	return info
}

func (j *Job) start(now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.status = StatusInProgress
	j.startedAt = &now
}

func (j *Job) finish(now time.Time, res Result, status Status) {
	j.mu.Lock()
	j.status = status
	j.result = &res
	j.finishedAt = &now
	j.mu.Unlock()

	close(j.done)
}
