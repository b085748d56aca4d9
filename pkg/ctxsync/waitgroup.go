package ctxsync

import (
	"context"
	"sync"
)

// NewWaitGroup creates a new WaitGroup with a zero counter.
func NewWaitGroup() *WaitGroup {
	done := make(chan struct{})
	close(done)
	return &WaitGroup{done: done}
}

// A WaitGroup waits for a collection of goroutines to finish. Unlike
// [sync.WaitGroup], waiting can be abandoned through a context.
type WaitGroup struct {
	mu    sync.Mutex
	count int
	// done is closed whenever count is zero.
	done chan struct{}
}

// Add adds delta, which may be negative, to the counter. When the counter
// becomes zero every waiter is released. If the counter goes negative, Add
// panics.
func (wg *WaitGroup) Add(delta int) {
	wg.mu.Lock()
	defer wg.mu.Unlock()
	prev := wg.count
	wg.count += delta
	switch {
	case wg.count < 0:
		panic("ctxsync: negative WaitGroup counter")
	case prev == 0 && wg.count > 0:
		wg.done = make(chan struct{})
	case prev > 0 && wg.count == 0:
		close(wg.done)
	}
}

// Done decrements the counter by one.
func (wg *WaitGroup) Done() {
	wg.Add(-1)
}

// Wait blocks until the counter is zero.
func (wg *WaitGroup) Wait() {
	_ = wg.WaitWithContext(context.Background())
}

// WaitWithContext blocks until the counter is zero or ctx is done, returning
// the error of ctx in the latter case.
func (wg *WaitGroup) WaitWithContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wg.mu.Lock()
	done := wg.done
	wg.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
