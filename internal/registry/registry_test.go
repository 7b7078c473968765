package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/senzing-garage/go-sb-consumer/internal/domain"
)

func rec(ds, id string) domain.Record {
	return domain.Record{DataSource: ds, RecordID: id}
}

func TestRegistry_InsertAndSize(t *testing.T) {
	r := New(4)
	tok := r.Insert("handle-1", rec("A", "1"), time.Now())
	assert.Equal(t, 1, r.Size())
	assert.NotZero(t, tok)
}

func TestRegistry_DrainCompleted_RemovesEntry(t *testing.T) {
	r := New(4)
	tok := r.Insert("handle-1", rec("A", "1"), time.Now())
	r.Complete(tok, "", nil)

	drained := r.DrainCompleted(time.Second)
	require.Len(t, drained, 1)
	assert.Equal(t, tok, drained[0].Token)
	assert.Equal(t, 0, r.Size())
}

func TestRegistry_DrainCompleted_TimesOutEmpty(t *testing.T) {
	r := New(4)
	r.Insert("handle-1", rec("A", "1"), time.Now())

	start := time.Now()
	drained := r.DrainCompleted(20 * time.Millisecond)
	assert.Nil(t, drained)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestRegistry_DrainCompleted_BatchesMultiple(t *testing.T) {
	r := New(4)
	t1 := r.Insert("h1", rec("A", "1"), time.Now())
	t2 := r.Insert("h2", rec("A", "2"), time.Now())
	r.Complete(t1, "", nil)
	r.Complete(t2, "", errors.New("boom"))

	drained := r.DrainCompleted(time.Second)
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, r.Size())
}

func TestRegistry_TokenNeverObservedTwice(t *testing.T) {
	r := New(4)
	tok := r.Insert("h1", rec("A", "1"), time.Now())
	r.Complete(tok, "", nil)
	first := r.DrainCompleted(time.Second)
	require.Len(t, first, 1)

	second := r.DrainCompleted(20 * time.Millisecond)
	assert.Empty(t, second)
}

func TestRegistry_MarkExtended(t *testing.T) {
	r := New(4)
	tok := r.Insert("h1", rec("A", "1"), time.Now())
	r.MarkExtended(tok)
	r.MarkExtended(tok)

	stuck := r.ScanStuck(time.Now().Add(10*time.Hour), time.Second)
	require.Len(t, stuck, 1)
	assert.Equal(t, 2, stuck[0].Entry.Extensions)
}

func TestRegistry_ScanStuck_RespectsExtensionMultiplier(t *testing.T) {
	r := New(4)
	old := time.Now().Add(-10 * time.Second)
	tok := r.Insert("h1", rec("A", "1"), old)

	// age=10s, long_record=5s, extensions=0 -> threshold 5s: stuck.
	stuck := r.ScanStuck(time.Now(), 5*time.Second)
	require.Len(t, stuck, 1)
	assert.Equal(t, tok, stuck[0].Token)

	r.MarkExtended(tok)
	// extensions=1 -> threshold 10s: age 10s is not strictly greater, not stuck.
	stuck = r.ScanStuck(old.Add(10*time.Second), 5*time.Second)
	assert.Empty(t, stuck)
}

func TestRegistry_Outstanding(t *testing.T) {
	r := New(4)
	r.Insert("h1", rec("A", "1"), time.Now())
	r.Insert("h2", rec("A", "2"), time.Now())

	out := r.Outstanding()
	assert.Len(t, out, 2)
}
