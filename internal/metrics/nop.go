// Package metrics provides types.MetricsCollector implementations.
package metrics

import "github.com/arloliu/peerpair/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Example:
//
//	svc, err := peerpair.New(cfg, roster, peerpair.WithMetrics(metrics.NewNop()))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// RunMetrics implementation

// RecordRunStateTransition discards the run state transition metric.
func (n *NopMetrics) RecordRunStateTransition(_ /* kind */ string, _ /* from */, _ /* to */ types.RunState) {
}

// RecordRunDuration discards the run duration metric.
func (n *NopMetrics) RecordRunDuration(_ /* kind */ string, _ /* duration */ float64, _ /* success */ bool) {
}

// RecordProgressDropped discards the dropped progress metric.
func (n *NopMetrics) RecordProgressDropped() {}

// PairingMetrics implementation

// RecordPairingCreated discards the pairing creation metric.
func (n *NopMetrics) RecordPairingCreated(_ /* kind */ types.PairingKind) {}

// RecordPairingConflict discards the pairing conflict metric.
func (n *NopMetrics) RecordPairingConflict(_ /* reason */ string) {}

// RecordMatchingAttempts discards the matching attempts metric.
func (n *NopMetrics) RecordMatchingAttempts(_ /* attempts */ int) {}

// JobMetrics implementation

// RecordAdmission discards the admission metric.
func (n *NopMetrics) RecordAdmission(_ /* accepted */ bool) {}

// RecordActiveJobs discards the active jobs gauge.
func (n *NopMetrics) RecordActiveJobs(_ /* count */ int) {}

// RecordScheduledRuns discards the scheduled runs gauge.
func (n *NopMetrics) RecordScheduledRuns(_ /* count */ int) {}

// NotifierMetrics implementation

// RecordNotification discards the notification metric.
func (n *NopMetrics) RecordNotification(_ /* event */, _ /* result */ string) {}

// IntakeMetrics implementation

// RecordIntakeMessage discards the intake metric.
func (n *NopMetrics) RecordIntakeMessage(_ /* kind */, _ /* result */ string) {}
