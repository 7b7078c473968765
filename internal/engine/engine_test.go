package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/senzing-garage/go-sb-consumer/internal/domain"
)

// fakeEngine is a minimal in-memory stand-in for the native szengine
// binding, recording calls so tests can assert on arguments.
type fakeEngine struct {
	initErr    error
	addRecord  func(ctx context.Context, dataSource, recordID, payload string, flags int64) (string, error)
	statsValue string
	statsErr   error
	destroyed  bool
}

func (f *fakeEngine) Initialize(ctx context.Context, instanceName, settings string, configID int64, verboseLogging int64) error {
	return f.initErr
}

func (f *fakeEngine) AddRecord(ctx context.Context, dataSourceCode, recordID, recordDefinition string, flags int64) (string, error) {
	return f.addRecord(ctx, dataSourceCode, recordID, recordDefinition, flags)
}

func (f *fakeEngine) GetStats(ctx context.Context) (string, error) {
	return f.statsValue, f.statsErr
}

func (f *fakeEngine) Destroy(ctx context.Context) error {
	f.destroyed = true
	return nil
}

func TestNew_InitFailurePropagates(t *testing.T) {
	fe := &fakeEngine{initErr: errors.New("boom")}
	_, err := New(context.Background(), "instance", "{}", false, fe)
	require.Error(t, err)
}

func TestAdapter_Process_Success(t *testing.T) {
	var gotFlags int64 = -1
	fe := &fakeEngine{addRecord: func(ctx context.Context, ds, rid, payload string, flags int64) (string, error) {
		gotFlags = flags
		return "", nil
	}}
	a, err := New(context.Background(), "instance", "{}", false, fe)
	require.NoError(t, err)

	rec := domain.Record{DataSource: "A", RecordID: "1", Raw: []byte(`{"DATA_SOURCE":"A","RECORD_ID":"1"}`)}
	info, err := a.Process(context.Background(), rec, false)
	require.NoError(t, err)
	assert.Empty(t, info)
	assert.Equal(t, int64(0), gotFlags)
}

func TestAdapter_Process_WithInfo(t *testing.T) {
	var gotFlags int64
	fe := &fakeEngine{addRecord: func(ctx context.Context, ds, rid, payload string, flags int64) (string, error) {
		gotFlags = flags
		return `{"RESOLVED_ENTITY_ID":42}`, nil
	}}
	a, err := New(context.Background(), "instance", "{}", false, fe)
	require.NoError(t, err)

	rec := domain.Record{DataSource: "A", RecordID: "1", Raw: []byte(`{"DATA_SOURCE":"A","RECORD_ID":"1"}`)}
	info, err := a.Process(context.Background(), rec, true)
	require.NoError(t, err)
	assert.JSONEq(t, `{"RESOLVED_ENTITY_ID":42}`, info)
	assert.Equal(t, WithInfo, gotFlags)
}

func TestAdapter_Process_TransientError(t *testing.T) {
	fe := &fakeEngine{addRecord: func(ctx context.Context, ds, rid, payload string, flags int64) (string, error) {
		return "", errors.New("connection reset")
	}}
	a, err := New(context.Background(), "instance", "{}", false, fe)
	require.NoError(t, err)

	rec := domain.Record{DataSource: "A", RecordID: "1"}
	_, err = a.Process(context.Background(), rec, false)
	require.Error(t, err)
	assert.False(t, domain.IsPermanent(err))
}

func TestAdapter_Stats(t *testing.T) {
	fe := &fakeEngine{statsValue: "workload: 0"}
	a, err := New(context.Background(), "instance", "{}", false, fe)
	require.NoError(t, err)

	stats, err := a.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "workload: 0", stats)
}

func TestAdapter_Close(t *testing.T) {
	fe := &fakeEngine{}
	a, err := New(context.Background(), "instance", "{}", false, fe)
	require.NoError(t, err)
	require.NoError(t, a.Close(context.Background()))
	assert.True(t, fe.destroyed)
}
