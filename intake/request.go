package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// Kind identifies the workflow a request starts. It is the last token of the
// request subject.
type Kind string

// Request kinds accepted by the Dispatcher.
const (
	KindAutomatic          Kind = "automatic"
	KindIntraGroup         Kind = "intra_group"
	KindCSV                Kind = "csv"
	KindTAAllocation       Kind = "ta_allocation"
	KindReplaceUnsubmitted Kind = "replace_unsubmitted"
	KindFillMissing        Kind = "fill_missing"
	KindReplaceTask        Kind = "replace_task"
	KindSchedule           Kind = "schedule"
)

// Kinds lists every request kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindAutomatic,
		KindIntraGroup,
		KindCSV,
		KindTAAllocation,
		KindReplaceUnsubmitted,
		KindFillMissing,
		KindReplaceTask,
		KindSchedule,
	}
}

// Valid reports whether k is a known request kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}

	return false
}

// Subject returns the subject requests of the given kind are published on.
//
// Example:
//
//	intake.Subject("peerpair", intake.KindCSV) // "peerpair.requests.csv"
func Subject(prefix string, kind Kind) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	return prefix + "." + requestsToken + "." + string(kind)
}

// KindFromSubject extracts the request kind from a request subject. Unknown
// or malformed subjects yield an empty kind.
func KindFromSubject(subject string) Kind {
	idx := strings.LastIndex(subject, "."+requestsToken+".")
	if idx < 0 {
		return ""
	}
	kind := Kind(subject[idx+len(requestsToken)+2:])
	if !kind.Valid() {
		return ""
	}

	return kind
}

// Publish encodes req as JSON and publishes it on the request subject for kind.
//
// Parameters:
//   - ctx: Context for the publish acknowledgment
//   - js: JetStream context; the intake stream must exist
//   - prefix: Subject prefix (DefaultSubjectPrefix when empty)
//   - kind: Request kind
//   - req: Request value, e.g. allocation.AutomaticRequest
//   - opts: Publish options such as jetstream.WithMsgID for deduplication
//
// Returns:
//   - *jetstream.PubAck: Stream acknowledgment
//   - error: Unknown kind, encoding or publish error
func Publish(ctx context.Context, js jetstream.JetStream, prefix string, kind Kind, req any, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown request kind %q", kind)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", kind, err)
	}

	ack, err := js.Publish(ctx, Subject(prefix, kind), data, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to publish %s request: %w", kind, err)
	}

	return ack, nil
}
