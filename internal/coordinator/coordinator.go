// Package coordinator implements the main consume-process-acknowledge
// loop: drain completions, batch acks, extend leases on long-running work,
// admit new fetches under a bounded budget, and shut down cleanly —
// spec.md §4.5, the largest single component of this repository.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/senzing-garage/go-sb-consumer/internal/broker"
	"github.com/senzing-garage/go-sb-consumer/internal/domain"
	"github.com/senzing-garage/go-sb-consumer/internal/engine"
	"github.com/senzing-garage/go-sb-consumer/internal/observability"
	"github.com/senzing-garage/go-sb-consumer/internal/registry"
	"github.com/senzing-garage/go-sb-consumer/internal/telemetry"
	"github.com/senzing-garage/go-sb-consumer/internal/workerpool"
)

const (
	drainWait      = 10 * time.Second
	ackBatchSize   = 10
	fetchWait      = 5 * time.Second
	admissionSleep = 1 * time.Second
	shutdownWait   = 30 * time.Second
)

// Config carries the coordinator's tunables. MaxWorkers, Prefetch,
// LongRecord and WithInfo are sourced from config.Config (spec.md §6);
// Interval is set by the caller.
type Config struct {
	MaxWorkers int
	Prefetch   int
	LongRecord time.Duration
	Interval   int
	WithInfo   bool
}

// Coordinator owns the registry, worker pool, and the broker/engine
// adapters, and runs the main loop.
type Coordinator struct {
	cfg Config

	reg    *registry.Registry
	pool   *workerpool.Pool
	broker broker.Adapter
	engine *engine.Adapter
	logger *slog.Logger

	messages     uint64
	prevTime     time.Time
	logCheckTime time.Time
}

// New wires a Coordinator from its adapters. The worker pool is started
// here, sized to cfg.MaxWorkers with a queue capacity of MaxWorkers+Prefetch
// (spec.md §4.4).
func New(ctx context.Context, cfg Config, brk broker.Adapter, eng *engine.Adapter, logger *slog.Logger) *Coordinator {
	budget := cfg.MaxWorkers + cfg.Prefetch
	return &Coordinator{
		cfg:    cfg,
		reg:    registry.New(budget),
		pool:   workerpool.New(ctx, cfg.MaxWorkers, budget),
		broker: brk,
		engine: eng,
		logger: logger,
	}
}

// Run drives the main loop until ctx is cancelled or an unhandled error
// occurs. A cancellation-triggered shutdown returns nil (exit 0); a
// coordinator-fatal error returns non-nil (exit nonzero) — spec.md §6.
func (c *Coordinator) Run(ctx context.Context) error {
	now := time.Now()
	c.prevTime = now
	c.logCheckTime = now

	c.logger.Info("starting main loop",
		slog.Int("max_workers", c.cfg.MaxWorkers),
		slog.Int("prefetch", c.cfg.Prefetch))

	for {
		if ctx.Err() != nil {
			return c.shutdown(nil)
		}

		if err := c.drainCompletions(ctx); err != nil {
			return c.shutdown(err)
		}

		if err := c.housekeeping(ctx); err != nil {
			return c.shutdown(err)
		}

		if err := c.fetchAdmission(ctx); err != nil {
			return c.shutdown(err)
		}

		telemetry.InflightRecords.Set(float64(c.reg.Size()))
	}
}

// drainCompletions implements spec.md §4.5(a).
func (c *Coordinator) drainCompletions(ctx context.Context) error {
	if c.reg.Size() == 0 {
		return nil
	}

	drained := c.reg.DrainCompleted(drainWait)
	ackBatch := make([]broker.Handle, 0, ackBatchSize)
	flush := func() {
		for _, h := range ackBatch {
			if err := c.broker.Ack(ctx, h); err != nil {
				c.logger.Warn("ack failed", slog.Any("error", err))
			} else {
				telemetry.MessagesAckedTotal.Inc()
			}
		}
		ackBatch = ackBatch[:0]
	}

	now := time.Now()
	for _, d := range drained {
		telemetry.ObserveProcessDuration(now.Sub(d.Entry.StartTime))

		switch {
		case d.Err == nil:
			if d.Info != "" {
				fmt.Println(d.Info)
			}
			ackBatch = append(ackBatch, d.Entry.Handle)
		case domain.IsPermanent(d.Err):
			c.logger.Info("dead-lettering permanent failure",
				slog.String("record", d.Entry.Record.String()),
				slog.Any("error", d.Err))
			if err := c.broker.DeadLetter(ctx, d.Entry.Handle, d.Err.Error()); err != nil {
				c.logger.Warn("dead letter failed", slog.Any("error", err))
			} else {
				telemetry.MessagesDeadLetteredTotal.Inc()
			}
			ackBatch = append(ackBatch, d.Entry.Handle)
		default:
			// Transient-per-message (spec.md §7): neither acked nor
			// dead-lettered; forget it so the adapter stops renewing its
			// lease and the broker redelivers once it expires.
			c.broker.Forget(d.Entry.Handle)
			c.logger.Warn("transient failure, leaving handle unacked",
				slog.String("record", d.Entry.Record.String()),
				slog.Any("error", d.Err))
		}

		if len(ackBatch) == ackBatchSize {
			flush()
		}

		c.messages++
		telemetry.MessagesProcessedTotal.Inc()
		if c.cfg.Interval > 0 && c.messages%uint64(c.cfg.Interval) == 0 {
			c.emitRateLine(now)
		}
	}
	flush()

	return nil
}

func (c *Coordinator) emitRateLine(now time.Time) {
	diff := now.Sub(c.prevTime).Seconds()
	speed := -1
	if diff > 0 {
		speed = int(float64(c.cfg.Interval) / diff)
	}
	c.logger.Info("processed adds",
		slog.Uint64("messages", c.messages),
		slog.Int("records_per_second", speed))
	c.prevTime = now
}

// housekeeping implements spec.md §4.5(b).
func (c *Coordinator) housekeeping(ctx context.Context) error {
	now := time.Now()
	if !now.After(c.logCheckTime.Add(c.cfg.LongRecord / 2)) {
		return nil
	}
	c.logCheckTime = now

	stats, err := c.engine.Stats(ctx)
	if err != nil {
		c.logger.Warn("engine stats failed", slog.Any("error", err))
	} else {
		fmt.Println(stats)
	}

	stuck := c.reg.ScanStuck(now, c.cfg.LongRecord)
	for _, s := range stuck {
		if err := c.broker.Renew(ctx, s.Entry.Handle); err != nil {
			c.logger.Warn("renew failed", slog.Any("error", err))
			continue
		}
		c.reg.MarkExtended(s.Token)
		telemetry.LeaseRenewalsTotal.Inc()

		elapsedMin := now.Sub(s.Entry.StartTime).Minutes()
		c.logger.Info("visibility extended",
			slog.String("record", s.Entry.Record.String()),
			slog.Float64("elapsed_minutes", elapsedMin),
			slog.Int("extensions", s.Entry.Extensions+1))
	}
	telemetry.StuckRecords.Set(float64(len(stuck)))

	if len(stuck) >= c.cfg.MaxWorkers && c.cfg.MaxWorkers > 0 {
		c.logger.Info("all workers stuck on long running records",
			slog.Int("max_workers", c.cfg.MaxWorkers))
	}
	return nil
}

// fetchAdmission implements spec.md §4.5(c).
func (c *Coordinator) fetchAdmission(ctx context.Context) error {
	budget := c.cfg.MaxWorkers + c.cfg.Prefetch

	if c.reg.Size() >= budget {
		time.Sleep(admissionSleep)
		return nil
	}

	for c.reg.Size() < budget {
		if ctx.Err() != nil {
			return nil
		}

		max := budget - c.reg.Size()
		msgs, err := c.broker.Fetch(ctx, max, fetchWait)
		if err != nil {
			c.logger.Warn("fetch failed", slog.Any("error", err))
			break
		}

		if len(msgs) == 0 {
			if c.reg.Size() == 0 {
				if err := c.broker.Recycle(ctx); err != nil {
					c.logger.Warn("recycle failed", slog.Any("error", err))
				} else {
					c.logger.Info("recreated receiver")
				}
			}
			break
		}

		now := time.Now()
		for _, m := range msgs {
			rec, perr := domain.ParseRecord(m.Body)
			if perr != nil {
				c.broker.Forget(m.Handle)
				c.logger.Warn("unparseable record, leaving lease to expire", slog.Any("error", perr))
				continue
			}
			tok := c.reg.Insert(m.Handle, rec, now)
			c.dispatch(ctx, tok, rec)
		}
	}

	return nil
}

func (c *Coordinator) dispatch(ctx context.Context, tok registry.Token, rec domain.Record) {
	c.pool.Submit(func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				c.reg.Complete(tok, "", fmt.Errorf("worker panic: %v", r))
			}
		}()

		ctx, span := observability.Tracer().Start(ctx, "coordinator.process_record")
		defer span.End()
		span.SetAttributes(
			attribute.String("record.data_source", rec.DataSource),
			attribute.String("record.id", rec.RecordID),
			attribute.String("record.correlation_id", rec.CorrelationID),
		)

		info, err := c.engine.Process(ctx, rec, c.cfg.WithInfo)
		c.reg.Complete(tok, info, err)
	})
}

// shutdown reports every still-outstanding entry, stops the worker pool,
// and releases the adapters (spec.md §4.5(d), §7).
func (c *Coordinator) shutdown(cause error) error {
	if cause != nil {
		c.logger.Error("shutting down due to error", slog.Any("error", cause))
	}

	for _, s := range c.reg.Outstanding() {
		elapsedMin := time.Since(s.Entry.StartTime).Minutes()
		c.logger.Warn("still processing",
			slog.String("record", s.Entry.Record.String()),
			slog.Float64("elapsed_minutes", elapsedMin))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	c.pool.Shutdown(shutdownCtx)

	if err := c.broker.Close(shutdownCtx); err != nil {
		c.logger.Warn("broker close failed", slog.Any("error", err))
	}
	if err := c.engine.Close(shutdownCtx); err != nil {
		c.logger.Warn("engine close failed", slog.Any("error", err))
	}

	return cause
}
