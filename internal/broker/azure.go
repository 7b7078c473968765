package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	backoff "github.com/cenkalti/backoff/v4"
)

// defaultRecycleMaxElapsed bounds how long Recycle retries opening a fresh
// receiver before giving up and reporting failure to the circuit breaker.
const defaultRecycleMaxElapsed = 10 * time.Second

// receiverClient is the subset of *azservicebus.Receiver the adapter calls.
// Narrowing to an interface lets tests substitute a fake without touching
// the real SDK's connection machinery.
type receiverClient interface {
	ReceiveMessages(ctx context.Context, maxMessageCount int, opts *azservicebus.ReceiveMessagesOptions) ([]*azservicebus.ReceivedMessage, error)
	CompleteMessage(ctx context.Context, message *azservicebus.ReceivedMessage, opts *azservicebus.CompleteMessageOptions) error
	DeadLetterMessage(ctx context.Context, message *azservicebus.ReceivedMessage, opts *azservicebus.DeadLetterOptions) error
	RenewMessageLock(ctx context.Context, message *azservicebus.ReceivedMessage, opts *azservicebus.RenewMessageLockOptions) error
	Close(ctx context.Context) error
}

// receiverFactory opens a fresh receiverClient for the configured queue,
// used both at construction and by Recycle.
type receiverFactory interface {
	NewReceiver(ctx context.Context) (receiverClient, error)
	Close(ctx context.Context) error
}

// clientFactory is the real, Azure-backed receiverFactory.
type clientFactory struct {
	client    *azservicebus.Client
	queueName string
	prefetch  int32
}

func (f *clientFactory) NewReceiver(ctx context.Context) (receiverClient, error) {
	recv, err := f.client.NewReceiverForQueue(f.queueName, &azservicebus.ReceiverOptions{
		ReceiveMode:   azservicebus.ReceiveModePeekLock,
		PrefetchCount: f.prefetch,
	})
	if err != nil {
		return nil, fmt.Errorf("new receiver for queue %q: %w", f.queueName, err)
	}
	return recv, nil
}

func (f *clientFactory) Close(ctx context.Context) error {
	return f.client.Close(ctx)
}

// AzureAdapter implements Adapter against Azure Service Bus. It owns the
// current receiver, a registry of handles currently awaiting renewal for
// the belt-and-suspenders auto-renew loop (spec.md §4.2), and a circuit
// breaker guarding Recycle so a broker outage doesn't spin the coordinator
// in a reconnect loop.
type AzureAdapter struct {
	factory  receiverFactory
	queueURL string // for logging only; never the connection string

	mu       sync.Mutex
	receiver receiverClient
	renewing map[*azservicebus.ReceivedMessage]time.Time

	maxLockRenewal    time.Duration
	recycleMaxElapsed time.Duration
	cb                *CircuitBreaker
	stopAutoRenew     chan struct{}
	autoRenewDone     chan struct{}
}

// NewAzureAdapter connects to the broker and opens the initial receiver.
// maxLockRenewal bounds how long the background auto-renew loop will keep
// extending a handle's lease (spec.md §4.2, default 1 hour).
func NewAzureAdapter(ctx context.Context, connectionString, queueName string, prefetch int, maxLockRenewal time.Duration) (*AzureAdapter, error) {
	client, err := azservicebus.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to service bus: %w", err)
	}

	a := &AzureAdapter{
		factory: &clientFactory{
			client:    client,
			queueName: queueName,
			prefetch:  int32(prefetch),
		},
		queueURL:          queueName,
		renewing:          make(map[*azservicebus.ReceivedMessage]time.Time),
		maxLockRenewal:    maxLockRenewal,
		recycleMaxElapsed: defaultRecycleMaxElapsed,
		cb:                NewCircuitBreaker("broker.recycle", 3, 30*time.Second),
		stopAutoRenew:     make(chan struct{}),
		autoRenewDone:     make(chan struct{}),
	}

	recv, err := a.factory.NewReceiver(ctx)
	if err != nil {
		_ = client.Close(ctx)
		return nil, err
	}
	a.receiver = recv

	go a.autoRenewLoop()
	return a, nil
}

// Fetch implements Adapter.
func (a *AzureAdapter) Fetch(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	a.mu.Lock()
	recv := a.receiver
	a.mu.Unlock()

	msgs, err := recv.ReceiveMessages(fetchCtx, max, nil)
	if err != nil {
		if fetchCtx.Err() != nil {
			// Wait elapsed with nothing delivered: not an error.
			return nil, nil
		}
		return nil, fmt.Errorf("receive messages: %w", err)
	}

	out := make([]Message, 0, len(msgs))
	a.mu.Lock()
	now := time.Now()
	for _, m := range msgs {
		a.renewing[m] = now
		out = append(out, Message{Handle: m, Body: m.Body})
	}
	a.mu.Unlock()
	return out, nil
}

// Ack implements Adapter.
func (a *AzureAdapter) Ack(ctx context.Context, h Handle) error {
	msg, ok := h.(*azservicebus.ReceivedMessage)
	if !ok {
		return fmt.Errorf("ack: handle is not a service bus message")
	}
	a.forgetRenewal(msg)

	a.mu.Lock()
	recv := a.receiver
	a.mu.Unlock()
	if err := recv.CompleteMessage(ctx, msg, nil); err != nil {
		return fmt.Errorf("complete message: %w", err)
	}
	return nil
}

// DeadLetter implements Adapter.
func (a *AzureAdapter) DeadLetter(ctx context.Context, h Handle, reason string) error {
	msg, ok := h.(*azservicebus.ReceivedMessage)
	if !ok {
		return fmt.Errorf("dead_letter: handle is not a service bus message")
	}
	a.mu.Lock()
	recv := a.receiver
	a.mu.Unlock()
	if err := recv.DeadLetterMessage(ctx, msg, &azservicebus.DeadLetterOptions{
		ErrorDescription: &reason,
	}); err != nil {
		return fmt.Errorf("dead letter message: %w", err)
	}
	return nil
}

// Renew implements Adapter.
func (a *AzureAdapter) Renew(ctx context.Context, h Handle) error {
	msg, ok := h.(*azservicebus.ReceivedMessage)
	if !ok {
		return fmt.Errorf("renew: handle is not a service bus message")
	}
	a.mu.Lock()
	recv := a.receiver
	a.mu.Unlock()
	if err := recv.RenewMessageLock(ctx, msg, nil); err != nil {
		return fmt.Errorf("renew message lock: %w", err)
	}
	return nil
}

// Recycle implements Adapter. Closing and reopening the receiver masks a
// broker-side stuck or stale connection (spec.md §9, inherited from the
// source behavior).
func (a *AzureAdapter) Recycle(ctx context.Context) error {
	return a.cb.Call(func() error {
		a.mu.Lock()
		old := a.receiver
		a.mu.Unlock()

		if old != nil {
			if err := old.Close(ctx); err != nil {
				slog.Warn("error closing receiver during recycle", slog.Any("error", err))
			}
		}

		expo := backoff.NewExponentialBackOff()
		expo.MaxElapsedTime = a.recycleMaxElapsed
		bo := backoff.WithContext(expo, ctx)

		var recv receiverClient
		op := func() error {
			r, err := a.factory.NewReceiver(ctx)
			if err != nil {
				return fmt.Errorf("recreate receiver: %w", err)
			}
			recv = r
			return nil
		}
		if err := backoff.Retry(op, bo); err != nil {
			return err
		}

		a.mu.Lock()
		a.receiver = recv
		a.renewing = make(map[*azservicebus.ReceivedMessage]time.Time)
		a.mu.Unlock()
		slog.Info("recreated receiver", slog.String("queue", a.queueURL))
		return nil
	})
}

// Close implements Adapter.
func (a *AzureAdapter) Close(ctx context.Context) error {
	close(a.stopAutoRenew)
	<-a.autoRenewDone

	a.mu.Lock()
	recv := a.receiver
	a.mu.Unlock()

	if recv != nil {
		if err := recv.Close(ctx); err != nil {
			slog.Warn("error closing receiver", slog.Any("error", err))
		}
	}
	return a.factory.Close(ctx)
}

func (a *AzureAdapter) forgetRenewal(msg *azservicebus.ReceivedMessage) {
	a.mu.Lock()
	delete(a.renewing, msg)
	a.mu.Unlock()
}

// Forget implements Adapter. It drops h from the auto-renew set without
// touching the message on the broker, so the lease is left to expire and
// the broker redelivers it rather than autoRenewLoop keeping it alive.
func (a *AzureAdapter) Forget(h Handle) {
	msg, ok := h.(*azservicebus.ReceivedMessage)
	if !ok {
		return
	}
	a.forgetRenewal(msg)
}

// autoRenewLoop is the background lease renewer spec.md §4.2 requires: it
// keeps every handle the receiver currently holds alive, independent of
// the coordinator's own scan_stuck-driven renew calls. Renewal stops once
// maxLockRenewal has elapsed for a handle's receive, mirroring Python's
// AutoLockRenewer(max_lock_renewal_duration=3600).
func (a *AzureAdapter) autoRenewLoop() {
	defer close(a.autoRenewDone)
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopAutoRenew:
			return
		case <-ticker.C:
			now := time.Now()
			a.mu.Lock()
			recv := a.receiver
			handles := make([]*azservicebus.ReceivedMessage, 0, len(a.renewing))
			for m, received := range a.renewing {
				if now.Sub(received) > a.maxLockRenewal {
					continue
				}
				handles = append(handles, m)
			}
			a.mu.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			for _, m := range handles {
				if err := recv.RenewMessageLock(ctx, m, nil); err != nil {
					slog.Warn("auto-renew failed", slog.Any("error", err))
				}
			}
			cancel()
		}
	}
}
