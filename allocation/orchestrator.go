package allocation

import (
	"context"
	"strconv"
	"time"

	"github.com/arloliu/peerpair/internal/logging"
	"github.com/arloliu/peerpair/internal/metrics"
	"github.com/arloliu/peerpair/jobs"
	"github.com/arloliu/peerpair/ledger"
	"github.com/arloliu/peerpair/matching"
	"github.com/arloliu/peerpair/types"
)

// Run kinds, used as job kinds and metrics labels.
const (
	KindAutomatic    = "automatic"
	KindIntraGroup   = "intra_group"
	KindCSV          = "csv"
	KindTAAllocation = "ta_allocation"
)

// Result messages reported to the job status.
const (
	MsgAutomaticDone     = "Automatic Pairing completed successfully"
	MsgCSVDone           = "Students were paired successfully."
	MsgCSVPartial        = "Pairing was done. Some were skipped due to missing submissions: "
	MsgTAAllocated       = "Students have been allocated to the TAs"
	MsgTAReallocated     = "Re-allotment of TA tasks is complete."
	msgGenerateMatches   = "Generating matches for pairing"
	msgCreatingPairs     = "Creating pairs"
	msgLoadingRoster     = "Loading information from the course platform"
	msgLoadingSubmission = "Loading student submissions"
)

// Orchestrator runs the allocation workflows: it pulls roster data, calls the
// matching engine and persists the result through the ledger one pair at a
// time.
//
// Pairs already persisted stay when a run fails; conflicts on single pairs
// are logged and skipped.
type Orchestrator struct {
	roster    types.RosterProvider
	directory types.Directory
	ledger    *ledger.Ledger
	studies   types.StudyCatalog
	notifier  types.Notifier
	archive   types.Archive
	logger    types.Logger
	metrics   types.MetricsCollector
	now       func() time.Time
	seed      *uint64
	names     []string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStudies sets the catalog used to find active blinded studies.
func WithStudies(c types.StudyCatalog) Option {
	return func(o *Orchestrator) { o.studies = c }
}

// WithNotifier sets the notifier receiving pairing and run events.
func WithNotifier(n types.Notifier) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithArchive sets where allocation snapshots are stored.
func WithArchive(a types.Archive) Option {
	return func(o *Orchestrator) { o.archive = a }
}

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.MetricsCollector) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock overrides the time source used for study activity checks.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSeed makes matching reproducible: runs for the same course, assignment
// and kind draw the same random sequence. Without a seed every run is random.
func WithSeed(seed uint64) Option {
	return func(o *Orchestrator) { o.seed = &seed }
}

// WithPseudonyms replaces the built-in pseudonym pool.
func WithPseudonyms(names []string) Option {
	return func(o *Orchestrator) {
		if len(names) > 0 {
			o.names = names
		}
	}
}

// New creates an orchestrator.
//
// Parameters:
//   - roster: Course-platform data source
//   - directory: Local user records
//   - l: Pairing ledger
//   - opts: Optional configuration
//
// Returns:
//   - *Orchestrator: Ready orchestrator
//
// Example:
//
//	o := allocation.New(src, dir, ledger.New(store),
//	    allocation.WithNotifier(notifier),
//	    allocation.WithLogger(logger),
//	)
//	res, err := o.RunAutomatic(ctx, req, jobs.NewProgress(allocation.KindAutomatic, nil, nil))
func New(roster types.RosterProvider, directory types.Directory, l *ledger.Ledger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		roster:    roster,
		directory: directory,
		ledger:    l,
		notifier:  noopNotifier{},
		logger:    logging.NewNop(),
		metrics:   metrics.NewNop(),
		now:       time.Now,
		names:     defaultPseudonyms(),
	}
	for _, opt := range opts {
		opt(o)
	}

	return o
}

// rngFor returns the random source for one run.
func (o *Orchestrator) rngFor(kind string, courseID, assignmentID int64) matching.Source {
	if o.seed == nil {
		return matching.NewRandomSource()
	}

	return matching.NewSource(matching.SeedFor(
		strconv.FormatUint(*o.seed, 10),
		kind,
		strconv.FormatInt(courseID, 10),
		strconv.FormatInt(assignmentID, 10),
	))
}

func (o *Orchestrator) activeStudy(ctx context.Context, assignmentID int64) *types.Study {
	if o.studies == nil {
		return nil
	}

	studies, err := o.studies.Studies(ctx)
	if err != nil {
		o.logger.Warn("failed to load studies, pairing without pseudonyms", "error", err)
		return nil
	}

	study := types.ActiveStudy(studies, assignmentID, o.now())
	if study != nil {
		o.logger.Info("assignment is part of a study", "study", study.Name, "participants", len(study.Participants))
	}

	return study
}

func progressOrNew(p *jobs.Progress, kind string, logger types.Logger, m types.MetricsCollector) *jobs.Progress {
	if p != nil {
		return p
	}

	return jobs.NewProgress(kind, logger, m)
}

// noopNotifier is the default notifier.
type noopNotifier struct{}

func (noopNotifier) PairingCreated(context.Context, types.Pairing) error  { return nil }
func (noopNotifier) RunCompleted(context.Context, types.RunSummary) error { return nil }
