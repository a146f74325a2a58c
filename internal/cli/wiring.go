package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/peerpair"
	"github.com/arloliu/peerpair/archive"
	"github.com/arloliu/peerpair/internal/logging"
	"github.com/arloliu/peerpair/internal/metrics"
	"github.com/arloliu/peerpair/jobs"
	"github.com/arloliu/peerpair/ledger"
	"github.com/arloliu/peerpair/notify"
	"github.com/arloliu/peerpair/roster"
)

// errNoRoster is returned when neither a roster file nor an LMS is configured.
var errNoRoster = errors.New("no roster source configured: set roster.file or roster.lms")

// fail records the exit code for err and returns it for cobra to print.
// The first recorded code wins.
func fail(code int, err error) error {
	if exitCode == ExitSuccess {
		exitCode = code
	}

	return err
}

// loadConfig reads --config, or the defaults, and applies the logging flags.
func loadConfig() (peerpair.Config, error) {
	cfg := peerpair.DefaultConfig()
	if flagConfig != "" {
		loaded, err := peerpair.LoadConfig(flagConfig)
		if err != nil {
			return peerpair.Config{}, err
		}
		cfg = loaded
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Logging.Format = flagLogFormat
	}

	return cfg, nil
}

// backend holds the infrastructure a Service runs on.
type backend struct {
	cfg       peerpair.Config
	logger    peerpair.Logger
	metrics   peerpair.MetricsCollector
	nc        *nats.Conn
	js        jetstream.JetStream
	db        *sql.DB
	roster    peerpair.RosterProvider
	directory peerpair.Directory
	store     ledger.Store
	opts      []peerpair.Option
	closers   []func() error
}

// openBackend connects every backend the configuration selects.
//
// Parameters:
//   - ctx: Context for connection setup
//   - cfg: Validated configuration
//   - mc: Metrics collector (nop when nil)
//
// Returns:
//   - *backend: Connected backends; Close releases them
//   - error: Logger, roster, NATS, Postgres, MinIO or bucket setup failure
func openBackend(ctx context.Context, cfg peerpair.Config, mc peerpair.MetricsCollector) (*backend, error) {
	logger, err := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fail(ExitConfigError, err)
	}
	if mc == nil {
		mc = metrics.NewNop()
	}

	b := &backend{cfg: cfg, logger: logger, metrics: mc}
	if err := b.open(ctx); err != nil {
		_ = b.Close()
		return nil, err
	}

	return b, nil
}

func (b *backend) open(ctx context.Context) error {
	cfg := b.cfg

	src, err := openRoster(cfg.Roster, b.logger)
	if err != nil {
		return fail(ExitConfigError, err)
	}
	b.roster = src

	if cfg.NeedsNATS() {
		if cfg.NATS.Embedded {
			url, shutdown, err := startEmbeddedNATS(cfg.NATS.StoreDir)
			if err != nil {
				return err
			}
			b.closers = append(b.closers, shutdown)
			cfg.NATS.URL = url
			b.cfg.NATS.URL = url
			b.logger.Info("embedded NATS server started", "url", url, "store_dir", cfg.NATS.StoreDir)
		}

		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("peerpair"),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		b.nc = nc
		b.closers = append(b.closers, func() error {
			return nc.Drain()
		})

		js, err := jetstream.New(nc)
		if err != nil {
			return fmt.Errorf("failed to create JetStream context: %w", err)
		}
		b.js = js
	}

	switch cfg.Storage.Backend {
	case peerpair.BackendMemory:
		b.store = ledger.NewMemoryStore()
		b.directory = ledger.NewMemoryDirectory()
	case peerpair.BackendNATS:
		store, err := ledger.NewKVStore(ctx, b.js, cfg.Storage.Bucket, b.logger)
		if err != nil {
			return err
		}
		b.store = store
		b.directory = ledger.NewMemoryDirectory()
	case peerpair.BackendPostgres:
		db, err := ledger.OpenPostgres(ctx, cfg.Storage.Postgres)
		if err != nil {
			return err
		}
		b.db = db
		b.closers = append(b.closers, db.Close)

		store := ledger.NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		b.store = store
		b.directory = ledger.NewPostgresDirectory(db)
	}

	b.opts = []peerpair.Option{
		peerpair.WithLogger(b.logger),
		peerpair.WithMetrics(b.metrics),
	}

	if cfg.Admission.Backend == peerpair.BackendNATS {
		adm, err := jobs.NewKVAdmission(ctx, b.js, cfg.Admission.Bucket, cfg.Jobs.AdmissionTTL, b.logger)
		if err != nil {
			return err
		}
		b.opts = append(b.opts, peerpair.WithAdmission(adm))
	}

	if cfg.Notify.Enabled {
		b.opts = append(b.opts, peerpair.WithNotifier(notify.NewNATS(b.nc, cfg.NATS.SubjectPrefix)))
	}

	if cfg.Archive.Enabled {
		store, err := archive.NewMinIO(ctx, cfg.Archive.MinIO, b.logger)
		if err != nil {
			return err
		}
		b.opts = append(b.opts, peerpair.WithArchive(store))
	}

	return nil
}

// openRoster returns the roster file when set, otherwise the LMS client.
func openRoster(cfg peerpair.RosterConfig, logger peerpair.Logger) (peerpair.RosterProvider, error) {
	switch {
	case cfg.File != "":
		return roster.LoadFile(cfg.File)
	case cfg.LMS != nil:
		return roster.NewLMSClient(*cfg.LMS, nil, logger)
	default:
		return nil, errNoRoster
	}
}

// newService creates and starts a Service on b.
func (b *backend) newService(ctx context.Context) (*peerpair.Service, error) {
	cfg := b.cfg
	svc, err := peerpair.NewService(&cfg, b.roster, b.directory, b.store, b.opts...)
	if err != nil {
		return nil, fail(ExitConfigError, err)
	}
	if err := svc.Start(ctx); err != nil {
		return nil, err
	}

	return svc, nil
}

// Close releases the backends in reverse order of opening.
func (b *backend) Close() error {
	var errs []error
	for _, closeFn := range slices.Backward(b.closers) {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil

	return errors.Join(errs...)
}

// setup loads the configuration, opens the backends and starts a service.
// The returned cleanup stops the service and closes the backends.
func setup(ctx context.Context, mc peerpair.MetricsCollector) (*peerpair.Service, *backend, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, fail(ExitConfigError, err)
	}

	b, err := openBackend(ctx, cfg, mc)
	if err != nil {
		return nil, nil, nil, fail(ExitRuntimeError, err)
	}

	svc, err := b.newService(ctx)
	if err != nil {
		_ = b.Close()
		return nil, nil, nil, fail(ExitRuntimeError, err)
	}

	cleanup := func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			b.logger.Error("service stop failed", "error", err)
		}
		if err := b.Close(); err != nil {
			b.logger.Error("backend close failed", "error", err)
		}
	}

	return svc, b, cleanup, nil
}
