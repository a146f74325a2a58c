package intake

import "errors"

// ErrUnknownKind indicates a message arrived on a subject without a known request kind.
var ErrUnknownKind = errors.New("unknown request kind")

// ErrConsumerNotStarted indicates an operation that needs a running consumer.
var ErrConsumerNotStarted = errors.New("intake consumer not started")

// ErrConsumerStarted indicates Start was called twice.
var ErrConsumerStarted = errors.New("intake consumer already started")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The consumer terminates messages
// whose handler returns a permanent error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

// IsPermanent reports whether err, or an error it wraps, was marked Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError

	return errors.As(err, &pe)
}
