// Package registry tracks every message dispatched to the worker pool:
// its broker handle, raw payload, start time, and extension count. It is
// owned by a single goroutine (the coordinator); workers never touch the
// map directly, only the completion channel — generalized from the
// teacher's jobQueue/done-channel worker-pool shape to the consumer's
// fetch/dispatch/complete shape.
package registry

import (
	"time"

	"github.com/senzing-garage/go-sb-consumer/internal/broker"
	"github.com/senzing-garage/go-sb-consumer/internal/domain"
)

// Entry is one in-flight message (spec.md §3 "In-Flight Entry").
type Entry struct {
	Handle     broker.Handle
	Record     domain.Record
	StartTime  time.Time
	Extensions int
}

// Result is what a worker reports back over the completion channel once a
// record finishes processing.
type Result struct {
	Token Token
	Info  string
	Err   error
}

// Token identifies one dispatched task. Registry hands these out on
// Insert; callers must not synthesize their own.
type Token uint64

// Registry is the coordinator's single-writer bookkeeping of outstanding
// work. All methods except Complete must only be called from the
// coordinator goroutine.
type Registry struct {
	next    Token
	entries map[Token]*Entry

	completions chan Result
}

// New constructs an empty Registry. completionBuffer should be at least
// max_workers so a burst of simultaneous completions never blocks a worker.
func New(completionBuffer int) *Registry {
	return &Registry{
		entries:     make(map[Token]*Entry),
		completions: make(chan Result, completionBuffer),
	}
}

// Insert records a newly dispatched task and returns its token.
func (r *Registry) Insert(h broker.Handle, rec domain.Record, now time.Time) Token {
	r.next++
	tok := r.next
	r.entries[tok] = &Entry{Handle: h, Record: rec, StartTime: now}
	return tok
}

// Complete is called by a worker goroutine when processing finishes. It
// never touches the registry map directly — only the completion channel —
// so it is safe to call concurrently from any number of workers.
func (r *Registry) Complete(tok Token, info string, err error) {
	r.completions <- Result{Token: tok, Info: info, Err: err}
}

// DrainCompleted blocks until at least one task completes or timeout
// elapses, then returns every entry (and its result) that has completed so
// far, removing them from the registry. A token is never observed twice:
// removal and retrieval happen atomically with respect to the coordinator,
// the registry's only reader of entries.
func (r *Registry) DrainCompleted(timeout time.Duration) []DrainedEntry {
	var out []DrainedEntry

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-r.completions:
		out = append(out, r.takeWithResult(res))
	case <-timer.C:
		return nil
	}

	for {
		select {
		case res := <-r.completions:
			out = append(out, r.takeWithResult(res))
		default:
			return out
		}
	}
}

// DrainedEntry pairs a removed Entry with its worker result.
type DrainedEntry struct {
	Token Token
	Entry Entry
	Info  string
	Err   error
}

func (r *Registry) takeWithResult(res Result) DrainedEntry {
	e := r.entries[res.Token]
	delete(r.entries, res.Token)
	var entry Entry
	if e != nil {
		entry = *e
	}
	return DrainedEntry{Token: res.Token, Entry: entry, Info: res.Info, Err: res.Err}
}

// MarkExtended increments the extension count for a token still in flight.
func (r *Registry) MarkExtended(tok Token) {
	if e, ok := r.entries[tok]; ok {
		e.Extensions++
	}
}

// Size returns the outstanding count (spec.md §3 registry invariant
// |registry| ≤ max_workers + prefetch).
func (r *Registry) Size() int {
	return len(r.entries)
}

// StuckEntry is a registry entry whose age exceeds long_record*(extensions+1).
type StuckEntry struct {
	Token Token
	Entry Entry
}

// ScanStuck returns every entry whose age exceeds
// long_record × (extensions + 1) (spec.md §4.5(b)).
func (r *Registry) ScanStuck(now time.Time, longRecord time.Duration) []StuckEntry {
	var out []StuckEntry
	for tok, e := range r.entries {
		threshold := longRecord * time.Duration(e.Extensions+1)
		if now.Sub(e.StartTime) > threshold {
			out = append(out, StuckEntry{Token: tok, Entry: *e})
		}
	}
	return out
}

// Outstanding returns every still-present entry, for shutdown reporting
// (spec.md §4.5(d), §7 "Still processing" lines).
func (r *Registry) Outstanding() []StuckEntry {
	out := make([]StuckEntry, 0, len(r.entries))
	for tok, e := range r.entries {
		out = append(out, StuckEntry{Token: tok, Entry: *e})
	}
	return out
}
