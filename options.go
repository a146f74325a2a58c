package peerpair

import (
	"time"

	"github.com/arloliu/peerpair/jobs"
)

// Option configures a Service with optional dependencies.
type Option func(*serviceOptions)

// serviceOptions holds optional Service configuration.
type serviceOptions struct {
	logger    Logger
	metrics   MetricsCollector
	notifier  Notifier
	archive   Archive
	admission jobs.Admission
	studies   StudyCatalog
	now       func() time.Time
	seed      *uint64
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation
//
// Returns:
//   - Option: Functional option for NewService
//
// Example:
//
//	logger := logging.NewSlogDefault()
//	svc, err := peerpair.NewService(&cfg, src, dir, store, peerpair.WithLogger(logger))
func WithLogger(logger Logger) Option {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewService
//
// Example:
//
//	collector := metrics.NewPrometheus(prometheus.DefaultRegisterer, "peerpair")
//	svc, err := peerpair.NewService(&cfg, src, dir, store, peerpair.WithMetrics(collector))
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *serviceOptions) {
		o.metrics = metrics
	}
}

// WithNotifier sets the notifier receiving pairing and run events.
//
// The notifier is wrapped in a bounded asynchronous queue, so a slow or
// failing notifier never delays a run.
//
// Parameters:
//   - n: Notifier implementation
//
// Returns:
//   - Option: Functional option for NewService
func WithNotifier(n Notifier) Option {
	return func(o *serviceOptions) {
		o.notifier = n
	}
}

// WithArchive stores a snapshot of every computed allocation.
func WithArchive(a Archive) Option {
	return func(o *serviceOptions) {
		o.archive = a
	}
}

// WithAdmission replaces the in-memory admission table, e.g. with a
// jobs.KVAdmission shared by several instances.
//
// Parameters:
//   - a: Admission implementation
//
// Returns:
//   - Option: Functional option for NewService
//
// Example:
//
//	adm, err := jobs.NewKVAdmission(ctx, js, jobs.DefaultAdmissionBucket, 30*time.Second, logger)
//	svc, err := peerpair.NewService(&cfg, src, dir, store, peerpair.WithAdmission(adm))
func WithAdmission(a jobs.Admission) Option {
	return func(o *serviceOptions) {
		o.admission = a
	}
}

// WithStudies sets the catalog of blinded studies. Without it a roster that
// also implements StudyCatalog is used.
func WithStudies(c StudyCatalog) Option {
	return func(o *serviceOptions) {
		o.studies = c
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) {
		o.now = now
	}
}

// WithSeed makes matching reproducible. It overrides Config.Seed.
func WithSeed(seed uint64) Option {
	return func(o *serviceOptions) {
		o.seed = &seed
	}
}
