// Package broker defines the adapter the coordinator uses to fetch, ack,
// dead-letter, and renew leases on messages from the broker-hosted work
// queue, and the concrete Azure Service Bus implementation of that adapter.
package broker

import (
	"context"
	"time"
)

// Handle is an opaque reference to a delivered message, scoped to the
// receiver that produced it. Handles must not outlive their receiver: on
// Recycle, all previously issued handles are implicitly invalidated, and
// calls against them return an error the coordinator logs and swallows
// (spec.md §7, "Broker transient").
type Handle interface{}

// Message pairs a Handle with the message body the Adapter returned it
// with.
type Message struct {
	Handle Handle
	Body   []byte
}

// Adapter is the broker-facing surface the Coordinator depends on. The
// hidden prefetch budget is the caller's concern (spec.md §4.2): Fetch is
// asked for up to max messages within wait, and returns whatever it has,
// including fewer than max or none at all.
type Adapter interface {
	// Fetch returns up to max messages, blocking no longer than wait. An
	// empty, nil-error result means the wait elapsed with nothing
	// delivered — not a failure.
	Fetch(ctx context.Context, max int, wait time.Duration) ([]Message, error)

	// Ack finalizes the message, removing it from the queue permanently.
	Ack(ctx context.Context, h Handle) error

	// DeadLetter routes the message to the broker's dead-letter subqueue.
	// The caller still Acks afterward per the state machine in spec.md §4.5.
	DeadLetter(ctx context.Context, h Handle, reason string) error

	// Renew extends the message's visibility lease.
	Renew(ctx context.Context, h Handle) error

	// Forget stops any background lease renewal for h without acking or
	// dead-lettering it, so its lease expires naturally and the broker
	// redelivers it (spec.md §7, "Transient-per-message").
	Forget(h Handle)

	// Recycle closes the current receiver and opens a fresh one with the
	// same queue name and prefetch setting. Used when fetch returns empty
	// and nothing is in flight, to recover from a stuck or stale receiver.
	Recycle(ctx context.Context) error

	// Close releases the receiver and any background renewer.
	Close(ctx context.Context) error
}
