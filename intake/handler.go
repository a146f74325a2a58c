package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/arloliu/peerpair/allocation"
	"github.com/arloliu/peerpair/internal/logging"
	"github.com/arloliu/peerpair/jobs"
	"github.com/arloliu/peerpair/maintenance"
	"github.com/arloliu/peerpair/types"
	"github.com/nats-io/nats.go/jetstream"
)

// Handler processes messages yielded by the Consumer pull loop.
//
// The pull loop is single-threaded: it does not call Handle for the next
// message until the current Handle returns. Delivery is at-least-once, so
// handlers should tolerate seeing the same request twice.
//
// Returns:
//   - error: nil to acknowledge; a Permanent error to terminate; any other
//     error to redeliver after a delay
type Handler interface {
	Handle(ctx context.Context, msg jetstream.Msg) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, msg jetstream.Msg) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, msg jetstream.Msg) error { return f(ctx, msg) }

// Submitter starts allocation workflows. *peerpair.Service implements it.
type Submitter interface {
	SubmitAutomatic(ctx context.Context, req allocation.AutomaticRequest) (*jobs.Job, error)
	SubmitIntraGroup(ctx context.Context, req allocation.AutomaticRequest) (*jobs.Job, error)
	SubmitCSV(ctx context.Context, req allocation.CSVRequest) (*jobs.Job, error)
	SubmitTAAllocation(ctx context.Context, req allocation.TARequest) (*jobs.Job, error)
	SubmitReplaceUnsubmitted(ctx context.Context, req maintenance.ReplaceRequest) (*jobs.Job, error)
	SubmitFillMissing(ctx context.Context, req maintenance.FillRequest) (*jobs.Job, error)
	SubmitReplaceTask(ctx context.Context, req maintenance.ReplaceTaskRequest) (*jobs.Job, error)
	ScheduleAutomatic(ctx context.Context, req allocation.AutomaticRequest) (jobs.ScheduledRun, error)
}

// rejected lists the submit errors that no redelivery can fix.
var rejected = []error{
	types.ErrInvalidConfig,
	types.ErrInvalidAllocation,
	types.ErrAutomaticPairingExists,
	types.ErrCourseNotConfigured,
	types.ErrRunnerClosed,
}

// Dispatcher decodes request messages and submits them to a Submitter.
//
// Submission only registers a job; the run itself proceeds in the background
// and reports through the service's notifier, so a message is acknowledged
// as soon as its job is admitted.
type Dispatcher struct {
	submitter Submitter
	logger    types.Logger
	permanent []error
}

// NewDispatcher creates a dispatcher submitting to s.
//
// Parameters:
//   - s: Workflow submitter
//   - logger: Logger for accepted requests (nop when nil)
//   - permanent: Extra submit errors to treat as non-retryable, e.g. ErrNoDueDate
//
// Returns:
//   - *Dispatcher: Handler ready for NewConsumer
func NewDispatcher(s Submitter, logger types.Logger, permanent ...error) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Dispatcher{
		submitter: s,
		logger:    logger,
		permanent: append(append([]error{}, rejected...), permanent...),
	}
}

// Handle implements Handler.
func (d *Dispatcher) Handle(ctx context.Context, msg jetstream.Msg) error {
	kind := KindFromSubject(msg.Subject())
	if kind == "" {
		return Permanent(fmt.Errorf("%w: subject %s", ErrUnknownKind, msg.Subject()))
	}

	id, err := d.dispatch(ctx, kind, msg.Data())
	if err != nil {
		return d.classify(kind, err)
	}

	d.logger.Info("intake request accepted", "kind", kind, "id", id)

	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, kind Kind, data []byte) (string, error) {
	switch kind {
	case KindAutomatic:
		return submitJob(ctx, data, d.submitter.SubmitAutomatic)
	case KindIntraGroup:
		return submitJob(ctx, data, d.submitter.SubmitIntraGroup)
	case KindCSV:
		return submitJob(ctx, data, d.submitter.SubmitCSV)
	case KindTAAllocation:
		return submitJob(ctx, data, d.submitter.SubmitTAAllocation)
	case KindReplaceUnsubmitted:
		return submitJob(ctx, data, d.submitter.SubmitReplaceUnsubmitted)
	case KindFillMissing:
		return submitJob(ctx, data, d.submitter.SubmitFillMissing)
	case KindReplaceTask:
		return submitJob(ctx, data, d.submitter.SubmitReplaceTask)
	case KindSchedule:
		var req allocation.AutomaticRequest
		if err := decode(data, &req); err != nil {
			return "", err
		}
		run, err := d.submitter.ScheduleAutomatic(ctx, req)
		if err != nil {
			return "", err
		}

		return run.ID, nil
	default:
		return "", Permanent(fmt.Errorf("%w: %s", ErrUnknownKind, kind))
	}
}

func (d *Dispatcher) classify(kind Kind, err error) error {
	if IsPermanent(err) {
		return err
	}
	for _, target := range d.permanent {
		if errors.Is(err, target) {
			return Permanent(fmt.Errorf("%s request rejected: %w", kind, err))
		}
	}

	return fmt.Errorf("%s request failed: %w", kind, err)
}

func submitJob[R any](ctx context.Context, data []byte, submit func(context.Context, R) (*jobs.Job, error)) (string, error) {
	var req R
	if err := decode(data, &req); err != nil {
		return "", err
	}

	job, err := submit(ctx, req)
	if err != nil {
		return "", err
	}

	return job.ID(), nil
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return Permanent(fmt.Errorf("%w: malformed request: %w", types.ErrInvalidConfig, err))
	}

	return nil
}
