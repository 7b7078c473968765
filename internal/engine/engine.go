// Package engine wraps the opaque entity-resolution engine behind the
// synchronous add-record call the coordinator dispatches to worker
// goroutines. The engine's internals are out of scope; this package only
// owns initialization, error classification, and stats reporting.
package engine

import (
	"context"
	"fmt"

	"github.com/senzing-garage/sz-sdk-go/senzing"
	"github.com/senzing-garage/sz-sdk-go/szerror"

	"github.com/senzing-garage/go-sb-consumer/internal/domain"
)

// WithInfo flag mirrors senzing.SzEngineFlags.SZ_WITH_INFO — requesting
// that AddRecord return the resolved-entity info payload instead of nothing.
const WithInfo = int64(senzing.SzWithInfo)

// Engine is the subset of the native SDK's engine surface the adapter
// needs. The real binding is szengine.Szengine from sz-sdk-go-core (a cgo
// wrapper around the native library); tests substitute a fake.
type Engine interface {
	Initialize(ctx context.Context, instanceName, settings string, configID int64, verboseLogging int64) error
	AddRecord(ctx context.Context, dataSourceCode, recordID, recordDefinition string, flags int64) (string, error)
	GetStats(ctx context.Context) (string, error)
	Destroy(ctx context.Context) error
}

// Adapter exposes the three calls the coordinator and workers need:
// Process (invoked by worker goroutines, may block for minutes), Stats
// (invoked periodically by the coordinator), and Close (invoked once at
// shutdown). It is safe to call Process concurrently from up to
// max_workers goroutines — that is an assumption this adapter makes about
// the wrapped engine, not a guarantee it enforces.
type Adapter struct {
	engine Engine
}

// New initializes the engine and returns an Adapter wrapping it.
func New(ctx context.Context, instanceName, configJSON string, verboseLogging bool, eng Engine) (*Adapter, error) {
	verbose := int64(0)
	if verboseLogging {
		verbose = 1
	}
	if err := eng.Initialize(ctx, instanceName, configJSON, 0, verbose); err != nil {
		return nil, fmt.Errorf("engine init: %w", err)
	}
	return &Adapter{engine: eng}, nil
}

// Process adds a single record to the engine. withInfo requests the
// resolved-entity info payload; the returned string is empty when withInfo
// is false or the engine has nothing to report.
//
// The returned error is classified: domain.ErrBadInput and
// domain.ErrRetryTimeoutExceeded are permanent for this delivery
// (dead-letter); anything else is transient (leave the handle un-acked).
func (a *Adapter) Process(ctx context.Context, rec domain.Record, withInfo bool) (string, error) {
	flags := senzing.SzNoFlags
	if withInfo {
		flags = WithInfo
	}
	info, err := a.engine.AddRecord(ctx, rec.DataSource, rec.RecordID, string(rec.Raw), flags)
	if err != nil {
		return "", classify(err)
	}
	return info, nil
}

// Stats returns the engine's internal statistics string, used for the
// periodic housekeeping dump (spec.md §4.5(b)).
func (a *Adapter) Stats(ctx context.Context) (string, error) {
	return a.engine.GetStats(ctx)
}

// Close releases the engine.
func (a *Adapter) Close(ctx context.Context) error {
	return a.engine.Destroy(ctx)
}

// classify maps an engine error onto the permanent/transient taxonomy using
// szerror's sentinel codes, the Go SDK's equivalent of the Python
// SzBadInputError / SzRetryTimeoutExceededError exception classes.
func classify(err error) error {
	switch {
	case szerror.Is(szerror.SzBadInput, err):
		return fmt.Errorf("%w: %v", domain.ErrBadInput, err)
	case szerror.Is(szerror.SzRetryTimeoutExceeded, err):
		return fmt.Errorf("%w: %v", domain.ErrRetryTimeoutExceeded, err)
	default:
		return err
	}
}
