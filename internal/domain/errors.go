package domain

import "errors"

// Engine failure classification (spec.md §4.1 / §7). BadInput and
// RetryTimeoutExceeded are permanent for this delivery and route to the
// dead-letter queue before ack; anything else is transient and the handle
// is left un-acked so the broker's lease expiry redelivers it.
var (
	// ErrBadInput means the engine rejected the record as malformed per its
	// own semantics.
	ErrBadInput = errors.New("engine: bad input")

	// ErrRetryTimeoutExceeded means the engine exhausted its internal
	// retries processing the record.
	ErrRetryTimeoutExceeded = errors.New("engine: retry timeout exceeded")
)

// IsPermanent reports whether err is one of the two permanent-per-message
// classifications that must be dead-lettered rather than left for
// redelivery.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrBadInput) || errors.Is(err, ErrRetryTimeoutExceeded)
}
