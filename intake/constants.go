package intake

import "time"

// Default configuration values for Consumer.
const (
	// DefaultStreamName is the work queue stream holding pending requests.
	DefaultStreamName = "PEERPAIR_REQUESTS"

	// DefaultConsumerName is the durable consumer name shared by every intake instance.
	DefaultConsumerName = "peerpair-intake"

	// DefaultSubjectPrefix is the subject prefix used when none is configured.
	DefaultSubjectPrefix = "peerpair"

	// DefaultBatchSize is the default number of messages to fetch per pull request.
	DefaultBatchSize = 1

	// DefaultMaxWaiting is the default maximum number of outstanding pull requests.
	DefaultMaxWaiting = 512

	// DefaultFetchTimeout is the default maximum duration to wait for messages.
	DefaultFetchTimeout = 5 * time.Second

	// DefaultMaxRetries is the default number of retries when creating the stream or consumer.
	DefaultMaxRetries = 3

	// DefaultRetryBackoff is the default duration between setup retries.
	DefaultRetryBackoff = 100 * time.Millisecond

	// DefaultAckWait is the default duration to wait for acknowledgment.
	DefaultAckWait = 30 * time.Second

	// DefaultMaxDeliver is the default maximum delivery attempts.
	DefaultMaxDeliver = 5

	// DefaultNakBase is the first redelivery delay after a transient failure.
	DefaultNakBase = time.Second

	// DefaultNakCap bounds the redelivery delay.
	DefaultNakCap = time.Minute

	// requestsToken separates the prefix from the request kind in subjects.
	requestsToken = "requests"
)
