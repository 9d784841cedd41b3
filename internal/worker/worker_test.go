package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsAllJobs(t *testing.T) {
	p := New(4, 4)
	var done atomic.Int32
	for i := 0; i < 100; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) { done.Add(1) }))
	}
	p.Close()
	p.Wait()
	assert.Equal(t, int32(100), done.Load())
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := New(3, 1)
	var (
		mu      sync.Mutex
		running int
		peak    int
	)
	for i := 0; i < 30; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
		}))
	}
	p.Close()
	p.Wait()
	assert.LessOrEqual(t, peak, 3)
	assert.Equal(t, 3, p.Size())
}

func TestPoolSubmitAfterClose(t *testing.T) {
	p := New(1, 1)
	p.Close()
	p.Close()
	assert.ErrorIs(t, p.Submit(context.Background(), func(context.Context) {}), ErrClosed)
	p.Wait()
}

func TestPoolSubmitCancelled(t *testing.T) {
	p := New(1, 1)
	defer func() {
		p.Close()
		p.Wait()
	}()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Submit(ctx, func(context.Context) {}), context.Canceled)
}
