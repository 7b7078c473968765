package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPool_RunsSubmittedTasks(t *testing.T) {
	ctx := context.Background()
	p := New(ctx, 2, 4)

	var count int64
	for i := 0; i < 10; i++ {
		p.Submit(func(ctx context.Context) {
			atomic.AddInt64(&count, 1)
		})
	}
	p.Shutdown(context.Background())
	assert.Equal(t, int64(10), count)
}

func TestPool_RecoversPanickingTask(t *testing.T) {
	ctx := context.Background()
	p := New(ctx, 1, 2)

	var ran int64
	p.Submit(func(ctx context.Context) { panic("boom") })
	p.Submit(func(ctx context.Context) { atomic.AddInt64(&ran, 1) })
	p.Shutdown(context.Background())

	assert.Equal(t, int64(1), ran)
}

func TestPool_ShutdownStopsAcceptingAndWaits(t *testing.T) {
	ctx := context.Background()
	p := New(ctx, 1, 2)

	started := make(chan struct{})
	release := make(chan struct{})
	p.Submit(func(ctx context.Context) {
		close(started)
		<-release
	})
	<-started

	done := make(chan struct{})
	go func() {
		p.Shutdown(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("shutdown returned before in-flight task finished")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-done
}

func TestPool_ShutdownRespectsContextCutoff(t *testing.T) {
	ctx := context.Background()
	p := New(ctx, 1, 2)

	p.Submit(func(ctx context.Context) {
		time.Sleep(200 * time.Millisecond)
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	p.Shutdown(shutdownCtx)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
