package broker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, 50*time.Millisecond)
	boom := errors.New("boom")

	require.ErrorIs(t, cb.Call(func() error { return boom }), boom)
	assert.Equal(t, "closed", cb.State())

	require.ErrorIs(t, cb.Call(func() error { return boom }), boom)
	assert.Equal(t, "open", cb.State())
}

func TestCircuitBreaker_ShortCircuitsWhileOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Hour)
	_ = cb.Call(func() error { return errors.New("boom") })
	require.Equal(t, "open", cb.State())

	called := false
	err := cb.Call(func() error { called = true; return nil })
	assert.False(t, called)
	var openErr *ErrCircuitOpen
	assert.ErrorAs(t, err, &openErr)
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)
	_ = cb.Call(func() error { return errors.New("boom") })
	require.Equal(t, "open", cb.State())

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, "closed", cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)
	_ = cb.Call(func() error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)

	err := cb.Call(func() error { return errors.New("still down") })
	require.Error(t, err)
	assert.Equal(t, "open", cb.State())
}
