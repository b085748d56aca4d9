package ctxsync_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/ctxsync"
)

// A zero WaitGroup should not block.
func TestWaitGroupZero(t *testing.T) {
	wg := ctxsync.NewWaitGroup()
	assert.NoError(t, wg.WaitWithContext(context.Background()))
}

// Waiters should be released once every goroutine is done.
func TestWaitGroupWait(t *testing.T) {
	workers := 100
	wg := ctxsync.NewWaitGroup()
	var n atomic.Int32

	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			n.Add(1)
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, wg.WaitWithContext(ctx))
	assert.Equal(t, int32(workers), n.Load())
}

// The group should be reusable after reaching zero.
func TestWaitGroupReuse(t *testing.T) {
	wg := ctxsync.NewWaitGroup()
	for range 3 {
		wg.Add(1)
		go wg.Done()
		wg.Wait()
	}
}

// Waiting should be abandoned when the context ends.
func TestWaitGroupContext(t *testing.T) {
	wg := ctxsync.NewWaitGroup()
	wg.Add(1)
	defer wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, wg.WaitWithContext(ctx), context.DeadlineExceeded)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, wg.WaitWithContext(canceled), context.Canceled)
}

// A negative counter should panic.
func TestWaitGroupNegative(t *testing.T) {
	wg := ctxsync.NewWaitGroup()
	assert.Panics(t, func() { wg.Done() })
}
