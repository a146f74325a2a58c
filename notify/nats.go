package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/arloliu/peerpair/types"
)

// DefaultSubjectPrefix is the subject prefix used when none is configured.
const DefaultSubjectPrefix = "peerpair"

// Event names, also used as metrics labels.
const (
	EventPairingCreated = "pairing_created"
	EventRunCompleted   = "run_completed"
)

// Event is the JSON envelope published for every notification.
type Event struct {
	ID      string            `json:"id"`
	Type    string            `json:"type"`
	Time    time.Time         `json:"time"`
	Pairing *types.Pairing    `json:"pairing,omitempty"`
	Run     *types.RunSummary `json:"run,omitempty"`
}

// NATS publishes notifications as core NATS messages.
//
// Subjects:
//   - <prefix>.pairing.created
//   - <prefix>.run.completed
type NATS struct {
	nc     *nats.Conn
	prefix string
	now    func() time.Time
}

var _ types.Notifier = (*NATS)(nil)

// NewNATS creates a NATS notifier.
//
// Parameters:
//   - nc: Connected NATS client
//   - prefix: Subject prefix (DefaultSubjectPrefix when empty)
//
// Returns:
//   - *NATS: Notifier publishing on nc
func NewNATS(nc *nats.Conn, prefix string) *NATS {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	return &NATS{nc: nc, prefix: prefix, now: time.Now}
}

// PairingSubject returns the subject pairing events are published on.
func (n *NATS) PairingSubject() string {
	return n.prefix + ".pairing.created"
}

// RunSubject returns the subject run summaries are published on.
func (n *NATS) RunSubject() string {
	return n.prefix + ".run.completed"
}

// PairingCreated implements types.Notifier.
func (n *NATS) PairingCreated(ctx context.Context, p types.Pairing) error {
	return n.publish(ctx, n.PairingSubject(), Event{Type: EventPairingCreated, Pairing: &p})
}

// RunCompleted implements types.Notifier.
func (n *NATS) RunCompleted(ctx context.Context, s types.RunSummary) error {
	return n.publish(ctx, n.RunSubject(), Event{Type: EventRunCompleted, Run: &s})
}

func (n *NATS) publish(ctx context.Context, subject string, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ev.ID = uuid.NewString()
	ev.Time = n.now().UTC()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", ev.Type, err)
	}

	if err := n.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", ev.Type, err)
	}

	return nil
}
