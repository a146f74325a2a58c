package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/arloliu/peerpair"
	"github.com/arloliu/peerpair/intake"
	"github.com/arloliu/peerpair/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the allocation server",
	Long: "Runs the job runner and the scheduled-run sync until interrupted. With " +
		"intake.enabled it consumes requests queued by 'peerpair submit'; with " +
		"metricsAddr it exposes Prometheus metrics on /metrics.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	mc := metrics.NewPrometheus(prometheus.DefaultRegisterer, "peerpair")

	svc, b, cleanup, err := setup(ctx, mc)
	if err != nil {
		return err
	}
	defer cleanup()

	var metricsSrv *http.Server
	if b.cfg.MetricsAddr != "" {
		metricsSrv = newMetricsServer(b.cfg.MetricsAddr)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				b.logger.Error("metrics server failed", "addr", b.cfg.MetricsAddr, "error", err)
				cancel()
			}
		}()
		b.logger.Info("metrics endpoint listening", "addr", b.cfg.MetricsAddr)
	}

	var consumer *intake.Consumer
	if b.cfg.Intake.Enabled {
		consumer, err = startIntake(ctx, svc, b, mc)
		if err != nil {
			return fail(ExitRuntimeError, err)
		}
	}

	<-ctx.Done()
	b.logger.Info("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.ShutdownTimeout)
	defer stop()

	var errs []error
	if consumer != nil {
		if err := consumer.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("intake close failed: %w", err))
		}
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown failed: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fail(ExitRuntimeError, err)
	}

	return nil
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func startIntake(ctx context.Context, svc *peerpair.Service, b *backend, mc peerpair.MetricsCollector) (*intake.Consumer, error) {
	dispatcher := intake.NewDispatcher(svc, b.logger,
		peerpair.ErrNoDueDate,
		peerpair.ErrNotGroupAssignment,
		peerpair.ErrTaskNotFound,
	)

	consumer, err := intake.NewConsumer(b.js, intake.Config{
		StreamName:    b.cfg.Intake.Stream,
		SubjectPrefix: b.cfg.NATS.SubjectPrefix,
		ConsumerName:  b.cfg.Intake.Consumer,
		MaxDeliver:    b.cfg.Intake.MaxDeliver,
		Logger:        b.logger,
		Metrics:       mc,
	}, dispatcher)
	if err != nil {
		return nil, err
	}

	if err := consumer.Start(ctx); err != nil {
		return nil, err
	}

	return consumer, nil
}
