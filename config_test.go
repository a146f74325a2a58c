package peerpair

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/peerpair/archive"
	"github.com/arloliu/peerpair/intake"
	"github.com/arloliu/peerpair/jobs"
	"github.com/arloliu/peerpair/ledger"
	"github.com/arloliu/peerpair/notify"
	"github.com/arloliu/peerpair/roster"
	pptest "github.com/arloliu/peerpair/testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, jobs.DefaultConcurrency, cfg.Jobs.Concurrency)
	require.Equal(t, 24*time.Hour, cfg.Jobs.Retention)
	require.Equal(t, 30*time.Second, cfg.Jobs.AdmissionTTL)
	require.Equal(t, time.Hour, cfg.Schedule.Offset)
	require.Equal(t, 15*time.Minute, cfg.Schedule.SyncInterval)
	require.Equal(t, BackendMemory, cfg.Storage.Backend)
	require.Equal(t, ledger.DefaultKVBucket, cfg.Storage.Bucket)
	require.Equal(t, BackendMemory, cfg.Admission.Backend)
	require.Equal(t, notify.DefaultSubjectPrefix, cfg.NATS.SubjectPrefix)
	require.Equal(t, notify.DefaultQueueSize, cfg.Notify.QueueSize)
	require.False(t, cfg.Archive.Enabled)
	require.False(t, cfg.Intake.Enabled)
	require.Equal(t, intake.DefaultStreamName, cfg.Intake.Stream)
	require.Nil(t, cfg.Seed)
	require.NoError(t, cfg.Validate())
}

func TestSetDefaults(t *testing.T) {
	t.Run("applies defaults to empty config", func(t *testing.T) {
		cfg := Config{}
		SetDefaults(&cfg)

		require.Equal(t, jobs.DefaultConcurrency, cfg.Jobs.Concurrency)
		require.Equal(t, time.Hour, cfg.Schedule.Offset)
		require.Equal(t, BackendMemory, cfg.Storage.Backend)
		require.Equal(t, jobs.DefaultAdmissionBucket, cfg.Admission.Bucket)
		require.Equal(t, 10, cfg.Storage.Postgres.MaxOpenConns)
		require.Equal(t, 5, cfg.Storage.Postgres.MaxIdleConns)
		require.Equal(t, "peerpair-allocations", cfg.Archive.MinIO.Bucket)
		require.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
		require.Equal(t, intake.DefaultConsumerName, cfg.Intake.Consumer)
		require.Equal(t, intake.DefaultMaxDeliver, cfg.Intake.MaxDeliver)

		// Zero retention and sync interval are meaningful and stay zero.
		require.Zero(t, cfg.Jobs.Retention)
		require.Zero(t, cfg.Schedule.SyncInterval)
		require.NoError(t, cfg.Validate())
	})

	t.Run("preserves custom values", func(t *testing.T) {
		cfg := Config{
			Jobs:     JobsConfig{Concurrency: 8, Retention: time.Hour, AdmissionTTL: time.Minute},
			Schedule: ScheduleConfig{Offset: 2 * time.Hour, SyncInterval: time.Minute},
			Storage: StorageConfig{
				Backend:  BackendPostgres,
				Postgres: ledger.PostgresConfig{URL: "postgres://localhost/peerpair", MaxOpenConns: 2},
			},
			Admission: AdmissionConfig{Backend: BackendNATS, Bucket: "adm"},
			NATS:      NATSConfig{URL: "nats://nats:4222", SubjectPrefix: "course"},
		}
		SetDefaults(&cfg)

		require.Equal(t, 8, cfg.Jobs.Concurrency)
		require.Equal(t, time.Hour, cfg.Jobs.Retention)
		require.Equal(t, 2*time.Hour, cfg.Schedule.Offset)
		require.Equal(t, BackendPostgres, cfg.Storage.Backend)
		require.Equal(t, 2, cfg.Storage.Postgres.MaxOpenConns)
		require.Equal(t, 2, cfg.Storage.Postgres.MaxIdleConns)
		require.Equal(t, "adm", cfg.Admission.Bucket)
		require.Equal(t, "course", cfg.NATS.SubjectPrefix)
		require.NoError(t, cfg.Validate())
		require.True(t, cfg.NeedsNATS())
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero concurrency", func(c *Config) { c.Jobs.Concurrency = 0 }},
		{"negative retention", func(c *Config) { c.Jobs.Retention = -time.Second }},
		{"negative offset", func(c *Config) { c.Schedule.Offset = -time.Minute }},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "sqlite" }},
		{"postgres without url", func(c *Config) { c.Storage.Backend = BackendPostgres }},
		{"postgres admission", func(c *Config) { c.Admission.Backend = BackendPostgres }},
		{"negative intake deliveries", func(c *Config) { c.Intake.MaxDeliver = -1 }},
		{"archive without credentials", func(c *Config) { c.Archive.Enabled = true }},
		{"lms without token", func(c *Config) { c.Roster.LMS = &roster.LMSConfig{BaseURL: "https://lms.example.edu"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	t.Run("enabled archive with credentials", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Archive.Enabled = true
		cfg.Archive.MinIO = archive.DefaultMinIOConfig()
		cfg.Archive.MinIO.AccessKey = "minio"
		cfg.Archive.MinIO.SecretKey = "minio123"

		require.NoError(t, cfg.Validate())
	})
}

func TestConfig_ValidateWithWarnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Backend = BackendNATS
	cfg.Jobs.Retention = 0

	// Only checks that warnings are emitted without panicking.
	cfg.ValidateWithWarnings(pptest.NewTestLogger(t))
	require.True(t, cfg.NeedsNATS())
	defaultTestCfg := TestConfig()
	require.False(t, defaultTestCfg.NeedsNATS())

	intakeOnly := TestConfig()
	intakeOnly.Intake.Enabled = true
	require.True(t, intakeOnly.NeedsNATS())
}

func TestLoadConfig(t *testing.T) {
	t.Run("parses yaml and applies defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "peerpair.yaml")
		content := `
jobs:
  concurrency: 2
  retention: 1h
schedule:
  offset: 90m
storage:
  backend: nats
  bucket: pairs
nats:
  url: nats://nats:4222
notify:
  enabled: true
roster:
  file: roster.yaml
seed: 42
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		require.Equal(t, 2, cfg.Jobs.Concurrency)
		require.Equal(t, time.Hour, cfg.Jobs.Retention)
		require.Equal(t, 90*time.Minute, cfg.Schedule.Offset)
		require.Equal(t, BackendNATS, cfg.Storage.Backend)
		require.Equal(t, "pairs", cfg.Storage.Bucket)
		require.True(t, cfg.Notify.Enabled)
		require.Equal(t, notify.DefaultQueueSize, cfg.Notify.QueueSize)
		require.Equal(t, "roster.yaml", cfg.Roster.File)
		require.NotNil(t, cfg.Seed)
		require.Equal(t, uint64(42), *cfg.Seed)
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "peerpair.yaml")
		require.NoError(t, os.WriteFile(path, []byte("storage:\n  backend: sqlite\n"), 0o600))

		_, err := LoadConfig(path)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("rejects malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "peerpair.yaml")
		require.NoError(t, os.WriteFile(path, []byte("jobs: [1, 2"), 0o600))

		_, err := LoadConfig(path)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})
}
