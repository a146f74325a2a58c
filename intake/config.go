package intake

import (
	"time"

	"github.com/arloliu/peerpair/internal/logging"
	"github.com/arloliu/peerpair/internal/metrics"
	"github.com/arloliu/peerpair/types"
	"github.com/nats-io/nats.go/jetstream"
)

// Config configures the request intake consumer.
//
// Every field is optional; zero values are replaced by defaults via
// applyDefaults().
type Config struct {
	// StreamName is the work queue stream (DefaultStreamName).
	StreamName string
	// SubjectPrefix scopes request subjects as "<prefix>.requests.<kind>".
	SubjectPrefix string
	// ConsumerName is the durable name; instances sharing it split the queue.
	ConsumerName string
	// Storage selects file or memory storage for a newly created stream.
	Storage jetstream.StorageType

	// Consumer delivery settings.
	AckWait    time.Duration
	MaxDeliver int

	// Pull tuning.
	BatchSize    int
	MaxWaiting   int
	FetchTimeout time.Duration

	// Setup retry policy for stream and consumer creation.
	MaxRetries   int
	RetryBackoff time.Duration

	// Redelivery delay after a transient failure. RetrySeed makes the jitter
	// deterministic when non-zero.
	NakBase   time.Duration
	NakCap    time.Duration
	RetrySeed int64

	Logger  types.Logger
	Metrics types.MetricsCollector
}

// applyDefaults fills unset optional fields with project defaults.
func (cfg *Config) applyDefaults() {
	if cfg.StreamName == "" {
		cfg.StreamName = DefaultStreamName
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = DefaultConsumerName
	}
	if cfg.AckWait == 0 {
		cfg.AckWait = DefaultAckWait
	}
	if cfg.MaxDeliver == 0 {
		cfg.MaxDeliver = DefaultMaxDeliver
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxWaiting == 0 {
		cfg.MaxWaiting = DefaultMaxWaiting
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.NakBase == 0 {
		cfg.NakBase = DefaultNakBase
	}
	if cfg.NakCap == 0 {
		cfg.NakCap = DefaultNakCap
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
}

// subjectFilter returns the wildcard subject covering every request kind.
func (cfg *Config) subjectFilter() string {
	return cfg.SubjectPrefix + "." + requestsToken + ".>"
}
