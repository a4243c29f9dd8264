package gateway

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSuperviseRestartsAfterPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	recovered := make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		Supervise(ctx, "test-loop", func(ctx context.Context) {
			if runs.Add(1) == 1 {
				panic("boom")
			}
			close(recovered)
			<-ctx.Done()
		})
	}()

	select {
	case <-recovered:
	case <-time.After(5 * time.Second):
		t.Fatal("loop was not restarted after panic")
	}
	assert.Equal(t, int32(2), runs.Load())

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Supervise did not return after cancellation")
	}
}

func TestSuperviseStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var runs atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		Supervise(ctx, "test-loop", func(ctx context.Context) {
			runs.Add(1)
			<-ctx.Done()
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Supervise did not return after cancellation")
	}
	// No restart once the context is gone.
	assert.Equal(t, int32(1), runs.Load())
}

func TestSuperviseRestartsEarlyReturn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	second := make(chan struct{})
	go Supervise(ctx, "test-loop", func(ctx context.Context) {
		if runs.Add(1) == 1 {
			return // simulates a loop that exited without being asked
		}
		close(second)
		<-ctx.Done()
	})

	select {
	case <-second:
	case <-time.After(5 * time.Second):
		t.Fatal("loop was not restarted after early return")
	}
}
