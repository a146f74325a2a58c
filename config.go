package peerpair

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/peerpair/archive"
	"github.com/arloliu/peerpair/intake"
	"github.com/arloliu/peerpair/jobs"
	"github.com/arloliu/peerpair/ledger"
	"github.com/arloliu/peerpair/notify"
	"github.com/arloliu/peerpair/roster"
)

// Storage and admission backends.
const (
	BackendMemory   = "memory"
	BackendNATS     = "nats"
	BackendPostgres = "postgres"
)

// JobsConfig controls the background job runner.
type JobsConfig struct {
	// Concurrency is the number of jobs running at once.
	//
	// Default: 4
	Concurrency int `yaml:"concurrency"`

	// Retention is how long finished jobs stay queryable (0 = forever).
	//
	// Default: 24 hours in DefaultConfig
	Retention time.Duration `yaml:"retention"`

	// AdmissionTTL is the lease of a NATS admission entry. A holder renews it
	// while its run is alive, so an entry only expires after a crash.
	//
	// Default: 30 seconds
	AdmissionTTL time.Duration `yaml:"admissionTtl"`
}

// ScheduleConfig controls automatic runs scheduled after a due date.
type ScheduleConfig struct {
	// Offset is the distance between the assignment due date and its run.
	//
	// Default: 1 hour
	Offset time.Duration `yaml:"offset"`

	// SyncInterval is how often scheduled runs are realigned with due dates
	// while the service is running. Zero disables the periodic sync and is
	// kept by SetDefaults; DefaultConfig uses 15 minutes.
	SyncInterval time.Duration `yaml:"syncInterval"`
}

// StorageConfig selects where pairing records live.
type StorageConfig struct {
	// Backend is "memory", "nats" or "postgres".
	Backend string `yaml:"backend"`

	// Bucket is the JetStream KV bucket of the nats backend.
	Bucket string `yaml:"bucket"`

	// Postgres configures the postgres backend.
	Postgres ledger.PostgresConfig `yaml:"postgres"`
}

// AdmissionConfig selects the admission table guarding automatic runs.
type AdmissionConfig struct {
	// Backend is "memory" or "nats". Use nats when several instances share
	// one ledger.
	Backend string `yaml:"backend"`
	Bucket  string `yaml:"bucket"`
}

// NATSConfig holds the connection used by the nats backends and notifier.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subjectPrefix"`

	// Embedded runs an in-process JetStream server instead of dialing URL,
	// for single-node deployments. StoreDir holds its data; a temporary
	// directory is used when empty, which loses the data on exit.
	Embedded bool   `yaml:"embedded"`
	StoreDir string `yaml:"storeDir"`
}

// NotifyConfig controls pairing and run notifications.
type NotifyConfig struct {
	// Enabled publishes events on NATS through a bounded queue.
	Enabled   bool `yaml:"enabled"`
	QueueSize int  `yaml:"queueSize"`
}

// IntakeConfig controls the JetStream request intake run by the server.
type IntakeConfig struct {
	// Enabled consumes requests published on "<nats.subjectPrefix>.requests.<kind>".
	Enabled    bool   `yaml:"enabled"`
	Stream     string `yaml:"stream"`
	Consumer   string `yaml:"consumer"`
	MaxDeliver int    `yaml:"maxDeliver"`
}

// ArchiveConfig controls allocation snapshots.
type ArchiveConfig struct {
	Enabled bool                `yaml:"enabled"`
	MinIO   archive.MinIOConfig `yaml:"minio"`
}

// RosterConfig selects the course-platform data source. File wins over LMS.
type RosterConfig struct {
	File string            `yaml:"file"`
	LMS  *roster.LMSConfig `yaml:"lms,omitempty"`
}

// LoggingConfig holds the textual logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the complete peerpair configuration.
type Config struct {
	Jobs      JobsConfig      `yaml:"jobs"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Storage   StorageConfig   `yaml:"storage"`
	Admission AdmissionConfig `yaml:"admission"`
	NATS      NATSConfig      `yaml:"nats"`
	Notify    NotifyConfig    `yaml:"notify"`
	Intake    IntakeConfig    `yaml:"intake"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Roster    RosterConfig    `yaml:"roster"`
	Logging   LoggingConfig   `yaml:"logging"`

	// Seed makes matching reproducible when set.
	Seed *uint64 `yaml:"seed,omitempty"`

	// MetricsAddr is the listen address of the Prometheus endpoint (empty disables it).
	MetricsAddr string `yaml:"metricsAddr"`

	// ShutdownTimeout bounds how long Stop waits for running jobs.
	//
	// Default: 30 seconds
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// DefaultConfig returns a configuration running entirely in memory.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		Jobs: JobsConfig{
			Concurrency:  jobs.DefaultConcurrency,
			Retention:    24 * time.Hour,
			AdmissionTTL: 30 * time.Second,
		},
		Schedule: ScheduleConfig{
			Offset:       time.Hour,
			SyncInterval: 15 * time.Minute,
		},
		Storage: StorageConfig{
			Backend:  BackendMemory,
			Bucket:   ledger.DefaultKVBucket,
			Postgres: ledger.DefaultPostgresConfig(),
		},
		Admission: AdmissionConfig{
			Backend: BackendMemory,
			Bucket:  jobs.DefaultAdmissionBucket,
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: notify.DefaultSubjectPrefix,
		},
		Notify: NotifyConfig{
			QueueSize: notify.DefaultQueueSize,
		},
		Intake: IntakeConfig{
			Stream:     intake.DefaultStreamName,
			Consumer:   intake.DefaultConsumerName,
			MaxDeliver: intake.DefaultMaxDeliver,
		},
		Archive: ArchiveConfig{
			MinIO: archive.DefaultMinIOConfig(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		ShutdownTimeout: 30 * time.Second,
	}
}

// SetDefaults fills in missing configuration values with defaults.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Jobs.Concurrency == 0 {
		cfg.Jobs.Concurrency = defaults.Jobs.Concurrency
	}
	// Retention of 0 keeps every job, so no default is applied.
	if cfg.Jobs.AdmissionTTL == 0 {
		cfg.Jobs.AdmissionTTL = defaults.Jobs.AdmissionTTL
	}
	if cfg.Schedule.Offset == 0 {
		cfg.Schedule.Offset = defaults.Schedule.Offset
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaults.Storage.Backend
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = defaults.Storage.Bucket
	}
	pg := &cfg.Storage.Postgres
	if pg.PingTimeout == 0 {
		pg.PingTimeout = defaults.Storage.Postgres.PingTimeout
	}
	if pg.MaxOpenConns == 0 {
		pg.MaxOpenConns = defaults.Storage.Postgres.MaxOpenConns
	}
	if pg.MaxIdleConns == 0 {
		pg.MaxIdleConns = min(defaults.Storage.Postgres.MaxIdleConns, pg.MaxOpenConns)
	}
	if pg.ConnMaxLifetime == 0 {
		pg.ConnMaxLifetime = defaults.Storage.Postgres.ConnMaxLifetime
	}
	if cfg.Admission.Backend == "" {
		cfg.Admission.Backend = defaults.Admission.Backend
	}
	if cfg.Admission.Bucket == "" {
		cfg.Admission.Bucket = defaults.Admission.Bucket
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = defaults.NATS.URL
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = defaults.NATS.SubjectPrefix
	}
	if cfg.Notify.QueueSize == 0 {
		cfg.Notify.QueueSize = defaults.Notify.QueueSize
	}
	if cfg.Intake.Stream == "" {
		cfg.Intake.Stream = defaults.Intake.Stream
	}
	if cfg.Intake.Consumer == "" {
		cfg.Intake.Consumer = defaults.Intake.Consumer
	}
	if cfg.Intake.MaxDeliver == 0 {
		cfg.Intake.MaxDeliver = defaults.Intake.MaxDeliver
	}
	if cfg.Archive.MinIO.Region == "" {
		cfg.Archive.MinIO.Region = defaults.Archive.MinIO.Region
	}
	if cfg.Archive.MinIO.Bucket == "" {
		cfg.Archive.MinIO.Bucket = defaults.Archive.MinIO.Bucket
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
}

// Validate checks configuration constraints.
//
// Hard Validation Rules:
//   - Jobs.Concurrency >= 1
//   - Retention, AdmissionTTL, Offset and SyncInterval are not negative
//   - Storage.Backend is memory, nats or postgres; postgres needs a valid pool config
//   - Admission.Backend is memory or nats
//   - Intake.MaxDeliver is not negative
//   - An enabled archive has a valid MinIO config
//   - Roster.LMS, when set, is valid
//
// Returns:
//   - error: Validation error wrapping ErrInvalidConfig, nil if valid
func (cfg *Config) Validate() error {
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}

func (cfg *Config) validate() error {
	// Rule 1: job runner
	if cfg.Jobs.Concurrency < 1 {
		return fmt.Errorf("jobs.concurrency must be >= 1, got %d", cfg.Jobs.Concurrency)
	}
	if cfg.Jobs.Retention < 0 || cfg.Jobs.AdmissionTTL < 0 {
		return errors.New("jobs.retention and jobs.admissionTtl must not be negative")
	}

	// Rule 2: scheduling
	if cfg.Schedule.Offset < 0 || cfg.Schedule.SyncInterval < 0 {
		return errors.New("schedule.offset and schedule.syncInterval must not be negative")
	}

	// Rule 3: storage backend
	switch cfg.Storage.Backend {
	case BackendMemory, BackendNATS:
	case BackendPostgres:
		if err := cfg.Storage.Postgres.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	// Rule 4: admission backend
	switch cfg.Admission.Backend {
	case BackendMemory, BackendNATS:
	default:
		return fmt.Errorf("unknown admission backend %q", cfg.Admission.Backend)
	}

	// Rule 5: intake
	if cfg.Intake.MaxDeliver < 0 {
		return fmt.Errorf("intake.maxDeliver must not be negative, got %d", cfg.Intake.MaxDeliver)
	}

	// Rule 6: archive
	if cfg.Archive.Enabled {
		if err := cfg.Archive.MinIO.Validate(); err != nil {
			return err
		}
	}

	// Rule 7: roster
	if cfg.Roster.LMS != nil {
		if err := cfg.Roster.LMS.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// NeedsNATS reports whether any configured component uses the NATS connection.
func (cfg *Config) NeedsNATS() bool {
	return cfg.Storage.Backend == BackendNATS || cfg.Admission.Backend == BackendNATS ||
		cfg.Notify.Enabled || cfg.Intake.Enabled
}

// ValidateWithWarnings logs warnings for values that are valid but risky.
//
// This is called after Validate() in NewService() to provide operator guidance.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	// Several instances sharing a ledger each keep their own memory admission
	// table and can admit the same automatic run twice.
	if cfg.Storage.Backend != BackendMemory && cfg.Admission.Backend == BackendMemory {
		logger.Warn(
			"shared storage with in-memory admission only guards runs within this instance",
			"storage", cfg.Storage.Backend,
			"recommended", BackendNATS+" admission",
		)
	}

	if cfg.Jobs.Retention == 0 {
		logger.Warn("finished jobs are never pruned", "retention", cfg.Jobs.Retention)
	}

	if cfg.Roster.File == "" && cfg.Roster.LMS == nil {
		logger.Warn("no roster source configured; a RosterProvider must be passed explicitly")
	}

	if cfg.Admission.Backend == BackendNATS && cfg.Jobs.AdmissionTTL < 5*time.Second {
		logger.Warn(
			"admission TTL is very short, slow renewals may release a running job's key",
			"admissionTtl", cfg.Jobs.AdmissionTTL,
			"recommended", "30s",
		)
	}
}

// LoadConfig reads a YAML configuration file and applies defaults.
//
// Parameters:
//   - path: Path of the YAML file
//
// Returns:
//   - Config: Parsed configuration with defaults applied
//   - error: Read, parse or validation failure
//
// Example:
//
//	cfg, err := peerpair.LoadConfig("peerpair.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: failed to parse config: %w", ErrInvalidConfig, err)
	}
	SetDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// TestConfig returns an in-memory configuration for tests.
//
// Returns:
//   - Config: Configuration without periodic sync and with a fixed seed
//
// Example:
//
//	cfg := peerpair.TestConfig()
//	svc, err := peerpair.NewService(&cfg, src, dir, ledger.NewMemoryStore())
func TestConfig() Config {
	cfg := DefaultConfig()
	seed := uint64(1)

	cfg.Jobs.Concurrency = 2
	cfg.Jobs.Retention = 0
	cfg.Schedule.SyncInterval = 0
	cfg.ShutdownTimeout = 5 * time.Second
	cfg.Seed = &seed

	return cfg
}
