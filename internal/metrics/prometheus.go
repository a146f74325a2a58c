package metrics

import (
	"strconv"
	"sync"

	"github.com/arloliu/peerpair/types"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are created and registered lazily on first use, so constructing a
// PrometheusCollector that is never exercised leaves the registry untouched.
type PrometheusCollector struct {
	*NopMetrics

	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	runTransitions   *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	progressDropped  prometheus.Counter
	pairingsCreated  *prometheus.CounterVec
	pairingConflicts *prometheus.CounterVec
	matchingAttempts prometheus.Histogram
	admissions       *prometheus.CounterVec
	activeJobs       prometheus.Gauge
	scheduledRuns    prometheus.Gauge
	notifications    *prometheus.CounterVec
	intakeMessages   *prometheus.CounterVec
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "peerpair" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "peerpair"
	}

	return &PrometheusCollector{NopMetrics: NewNop(), reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.runTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "run",
			Name:      "state_transitions_total",
			Help:      "Orchestration run state transitions by run kind and target state.",
		}, []string{"kind", "from", "to"})

		p.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Wall time of finished orchestration runs in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms .. ~100s
		}, []string{"kind", "success"})

		p.progressDropped = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "run",
			Name:      "progress_dropped_total",
			Help:      "Progress updates dropped because a subscriber was slow.",
		})

		p.pairingsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "pairing",
			Name:      "created_total",
			Help:      "Pairings persisted by kind.",
		}, []string{"kind"})

		p.pairingConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "pairing",
			Name:      "skipped_total",
			Help:      "Pairings skipped by reason (self, duplicate, missing_submission).",
		}, []string{"reason"})

		p.matchingAttempts = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "matching",
			Name:      "non_group_attempts",
			Help:      "Attempts needed by non-group matching to reach every recipient.",
			Buckets:   []float64{1, 2, 3, 5, 10, 25, 50, 100},
		})

		p.admissions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "jobs",
			Name:      "admissions_total",
			Help:      "Automatic pairing admission decisions (accepted, rejected).",
		}, []string{"result"})

		p.activeJobs = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "jobs",
			Name:      "active",
			Help:      "Jobs currently running.",
		})

		p.scheduledRuns = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "jobs",
			Name:      "scheduled",
			Help:      "Scheduled runs waiting to fire.",
		})

		p.notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "notify",
			Name:      "events_total",
			Help:      "Notification outcomes by event and result (sent, failed, dropped).",
		}, []string{"event", "result"})

		p.intakeMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "intake",
			Name:      "messages_total",
			Help:      "Intake requests by kind and result (accepted, retried, rejected).",
		}, []string{"kind", "result"})

		p.reg.MustRegister(
			p.runTransitions,
			p.runDuration,
			p.progressDropped,
			p.pairingsCreated,
			p.pairingConflicts,
			p.matchingAttempts,
			p.admissions,
			p.activeJobs,
			p.scheduledRuns,
			p.notifications,
			p.intakeMessages,
		)
	})
}

// RecordRunStateTransition counts a run state transition.
func (p *PrometheusCollector) RecordRunStateTransition(kind string, from, to types.RunState) {
	p.ensureRegistered()
	p.runTransitions.WithLabelValues(kind, from.String(), to.String()).Inc()
}

// RecordRunDuration observes the duration of a finished run.
func (p *PrometheusCollector) RecordRunDuration(kind string, duration float64, success bool) {
	p.ensureRegistered()
	p.runDuration.WithLabelValues(kind, strconv.FormatBool(success)).Observe(duration)
}

// RecordProgressDropped counts a dropped progress update.
func (p *PrometheusCollector) RecordProgressDropped() {
	p.ensureRegistered()
	p.progressDropped.Inc()
}

// RecordPairingCreated counts a persisted pairing.
func (p *PrometheusCollector) RecordPairingCreated(kind types.PairingKind) {
	p.ensureRegistered()
	p.pairingsCreated.WithLabelValues(string(kind)).Inc()
}

// RecordPairingConflict counts a skipped pairing.
func (p *PrometheusCollector) RecordPairingConflict(reason string) {
	p.ensureRegistered()
	p.pairingConflicts.WithLabelValues(reason).Inc()
}

// RecordMatchingAttempts observes the attempts used by non-group matching.
func (p *PrometheusCollector) RecordMatchingAttempts(attempts int) {
	p.ensureRegistered()
	p.matchingAttempts.Observe(float64(attempts))
}

// RecordAdmission counts an admission decision.
func (p *PrometheusCollector) RecordAdmission(accepted bool) {
	p.ensureRegistered()
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	p.admissions.WithLabelValues(result).Inc()
}

// RecordActiveJobs sets the active jobs gauge.
func (p *PrometheusCollector) RecordActiveJobs(count int) {
	p.ensureRegistered()
	p.activeJobs.Set(float64(count))
}

// RecordScheduledRuns sets the scheduled runs gauge.
func (p *PrometheusCollector) RecordScheduledRuns(count int) {
	p.ensureRegistered()
	p.scheduledRuns.Set(float64(count))
}

// RecordNotification counts a notification outcome.
func (p *PrometheusCollector) RecordNotification(event, result string) {
	p.ensureRegistered()
	p.notifications.WithLabelValues(event, result).Inc()
}

// RecordIntakeMessage counts an intake message outcome.
func (p *PrometheusCollector) RecordIntakeMessage(kind, result string) {
	p.ensureRegistered()
	p.intakeMessages.WithLabelValues(kind, result).Inc()
}
