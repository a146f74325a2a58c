package peerpair

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/peerpair/allocation"
	"github.com/arloliu/peerpair/internal/logging"
	"github.com/arloliu/peerpair/internal/metrics"
	"github.com/arloliu/peerpair/internal/periodic"
	"github.com/arloliu/peerpair/jobs"
	"github.com/arloliu/peerpair/ledger"
	"github.com/arloliu/peerpair/maintenance"
	"github.com/arloliu/peerpair/notify"
)

// Service runs the peer-review allocation workflows as background jobs.
//
// Every Submit method validates its request, registers a job and returns at
// once; the job's progress and result are available through Job and Jobs.
// Start enables submissions and the periodic schedule sync; Stop waits for
// running jobs and drains pending notifications.
type Service struct {
	cfg       Config
	roster    RosterProvider
	ledger    *ledger.Ledger
	alloc     *allocation.Orchestrator
	maint     *maintenance.Maintainer
	runner    *jobs.Runner
	scheduler *jobs.Scheduler
	notifier  *notify.Async
	syncLoop  *periodic.Loop
	logger    Logger
	metrics   MetricsCollector

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewService creates a new service.
//
// Parameters:
//   - cfg: Configuration; defaults are applied in place
//   - roster: Course-platform data source
//   - directory: Local user records
//   - store: Pairing store backing the ledger
//   - opts: Optional configuration (logger, metrics, notifier, archive, admission)
//
// Returns:
//   - *Service: Initialized, not yet started service
//   - error: Validation error if configuration is invalid
//
// Example:
//
//	cfg := peerpair.DefaultConfig()
//	src, _ := roster.LoadFile("roster.yaml")
//	svc, err := peerpair.NewService(&cfg, src, ledger.NewMemoryDirectory(), ledger.NewMemoryStore())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Stop(context.Background())
func NewService(cfg *Config, roster RosterProvider, directory Directory, store ledger.Store, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if roster == nil {
		return nil, ErrRosterRequired
	}
	if directory == nil {
		return nil, ErrDirectoryRequired
	}
	if store == nil {
		return nil, ErrStoreRequired
	}

	SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &serviceOptions{}
	for _, opt := range opts {
		opt(options)
	}

	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}

	loggerInstance := options.logger
	if loggerInstance == nil {
		loggerInstance = logging.NewNop()
	}

	cfg.ValidateWithWarnings(loggerInstance)

	now := options.now
	if now == nil {
		now = time.Now
	}

	seed := cfg.Seed
	if options.seed != nil {
		seed = options.seed
	}

	studies := options.studies
	if studies == nil {
		studies, _ = roster.(StudyCatalog)
	}

	s := &Service{
		cfg:     *cfg,
		roster:  roster,
		logger:  loggerInstance,
		metrics: metricsCollector,
	}

	s.ledger = ledger.New(store,
		ledger.WithLogger(loggerInstance),
		ledger.WithMetrics(metricsCollector),
		ledger.WithClock(now),
	)

	allocOpts := []allocation.Option{
		allocation.WithLogger(loggerInstance),
		allocation.WithMetrics(metricsCollector),
		allocation.WithClock(now),
		allocation.WithStudies(studies),
		allocation.WithArchive(options.archive),
	}
	maintOpts := []maintenance.Option{
		maintenance.WithLogger(loggerInstance),
		maintenance.WithMetrics(metricsCollector),
	}
	if options.notifier != nil {
		s.notifier = notify.NewAsync(options.notifier,
			notify.WithQueueSize(cfg.Notify.QueueSize),
			notify.WithLogger(loggerInstance),
			notify.WithMetrics(metricsCollector),
		)
		allocOpts = append(allocOpts, allocation.WithNotifier(s.notifier))
		maintOpts = append(maintOpts, maintenance.WithNotifier(s.notifier))
	}
	if seed != nil {
		allocOpts = append(allocOpts, allocation.WithSeed(*seed))
		maintOpts = append(maintOpts, maintenance.WithSeed(*seed))
	}

	s.alloc = allocation.New(roster, directory, s.ledger, allocOpts...)
	s.maint = maintenance.New(roster, directory, s.ledger, maintOpts...)

	runnerOpts := []jobs.RunnerOption{
		jobs.WithConcurrency(cfg.Jobs.Concurrency),
		jobs.WithRetention(cfg.Jobs.Retention),
		jobs.WithRunnerLogger(loggerInstance),
		jobs.WithRunnerMetrics(metricsCollector),
	}
	if options.admission != nil {
		runnerOpts = append(runnerOpts, jobs.WithAdmission(options.admission))
	}
	s.runner = jobs.NewRunner(runnerOpts...)
	s.scheduler = jobs.NewScheduler(s.runner,
		jobs.WithSchedulerLogger(loggerInstance),
		jobs.WithSchedulerMetrics(metricsCollector),
		jobs.WithSchedulerClock(now),
	)

	if cfg.Schedule.SyncInterval > 0 {
		s.syncLoop = periodic.New("schedule-sync", cfg.Schedule.SyncInterval, s.syncOnce,
			periodic.WithLogger(loggerInstance),
			periodic.WithTimeout(cfg.Schedule.SyncInterval),
		)
	}

	return s, nil
}

// Start enables job submission and, when configured, the periodic sync of
// scheduled runs with assignment due dates.
//
// Parameters:
//   - ctx: Context for the background sync; cancelling it ends the sync loop
//
// Returns:
//   - error: ErrAlreadyStarted if the service was started before
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.stopped {
		return ErrAlreadyStarted
	}

	if s.syncLoop != nil {
		if err := s.syncLoop.Start(ctx); err != nil {
			return fmt.Errorf("failed to start schedule sync: %w", err)
		}
	}
	s.started = true
	s.logger.Info("peerpair service started",
		"concurrency", s.cfg.Jobs.Concurrency,
		"sync_interval", s.cfg.Schedule.SyncInterval,
	)

	return nil
}

// Stop shuts the service down.
//
// Pending scheduled runs are dropped, running jobs are awaited and queued
// notifications are flushed, all bounded by ctx and Config.ShutdownTimeout.
//
// Returns:
//   - error: ErrNotStarted if not running, or the joined shutdown errors
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.started = false
	s.stopped = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error

	if s.syncLoop != nil {
		if err := s.syncLoop.Stop(); err != nil && !errors.Is(err, periodic.ErrNotStarted) {
			errs = append(errs, fmt.Errorf("schedule sync stop failed: %w", err))
		}
	}

	s.scheduler.Stop()

	if err := s.runner.Close(ctx); err != nil {
		s.logger.Error("jobs still running at shutdown", "error", err)
		errs = append(errs, err)
	}

	if s.notifier != nil {
		if err := s.notifier.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("notifier close failed: %w", err))
		}
	}

	if len(errs) == 0 {
		s.logger.Info("peerpair service stopped gracefully")
	}

	return errors.Join(errs...)
}

func (s *Service) checkStarted() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrNotStarted
	}

	return nil
}

// Ledger returns the pairing ledger the service persists into.
func (s *Service) Ledger() *ledger.Ledger {
	return s.ledger
}

// PutSettings stores the feedback settings of an assignment. Pairings can
// only be created for assignments with settings.
func (s *Service) PutSettings(ctx context.Context, settings AssignmentSettings) error {
	return s.ledger.PutSettings(ctx, settings)
}

// Pairings lists pairing records with their task and feedback.
func (s *Service) Pairings(ctx context.Context, filter ledger.Filter) ([]PairingRecord, error) {
	return s.ledger.List(ctx, filter)
}

// SetArchived archives or restores a pairing together with its task.
func (s *Service) SetArchived(ctx context.Context, pairingID string, archived bool) (PairingRecord, error) {
	return s.ledger.SetArchived(ctx, pairingID, archived)
}

// Job returns the job with the given ID.
//
// Returns:
//   - *jobs.Job: The job
//   - error: ErrJobNotFound if unknown or pruned
func (s *Service) Job(id string) (*jobs.Job, error) {
	return s.runner.Job(id)
}

// Jobs returns a snapshot of every known job ordered by creation time.
func (s *Service) Jobs() []jobs.Info {
	all := s.runner.Jobs()
	out := make([]jobs.Info, 0, len(all))
	for _, job := range all {
		out = append(out, job.Info())
	}

	return out
}
