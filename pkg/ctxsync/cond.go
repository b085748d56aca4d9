package ctxsync

import (
	"context"
	"sync"
	"sync/atomic"
)

// Cond implements a condition variable, a rendezvous point for goroutines
// waiting for or announcing the occurrence of an event. Unlike [sync.Cond],
// waiting can be abandoned through a context.
//
// Each Cond has an associated Locker L, often a [*Mutex], which must be held
// when changing the condition and when calling [Cond.WaitWithContext].
//
// A Cond must not be copied after first use.
type Cond struct {
	noCopy noCopy

	// L is held while observing or changing the condition
	L sync.Locker

	notify  chan struct{}
	waiters atomic.Int64

	chMtx sync.Mutex
}

// NewCond returns a new Cond with Locker l.
func NewCond(l sync.Locker) *Cond {
	return &Cond{L: l, notify: make(chan struct{}, 1)}
}

// Wait releases c.L and blocks until awoken by Signal or Broadcast.
// It is equivalent to WaitWithContext(context.Background()).
func (c *Cond) Wait() {
	_ = c.WaitWithContext(context.Background())
}

// WaitWithContext releases c.L and blocks until awoken by Signal, Broadcast,
// or context cancellation. Reacquires c.L before returning, even on error.
// Should be used in a loop that checks the condition.
func (c *Cond) WaitWithContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// registered before releasing L so that a Broadcast made right after
	// the unlock is not missed
	c.chMtx.Lock()
	c.waiters.Add(1)
	notify := c.notify
	c.chMtx.Unlock()
	c.L.Unlock()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-notify:
	}
	c.waiters.Add(-1)
	c.L.Lock()
	return err
}

// WaiterCount returns the number of goroutines blocked in Wait.
func (c *Cond) WaiterCount() int64 {
	return c.waiters.Load()
}

// Signal wakes one waiting goroutine, if any.
// The caller does not need to hold c.L.
// Does not guarantee ordering or priority.
func (c *Cond) Signal() {
	c.chMtx.Lock()
	defer c.chMtx.Unlock()
	if c.waiters.Load() == 0 {
		return
	}
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Broadcast wakes all waiting goroutines, if any.
// The caller does not need to hold c.L.
func (c *Cond) Broadcast() {
	c.chMtx.Lock()
	defer c.chMtx.Unlock()
	if c.waiters.Load() == 0 {
		return
	}
	close(c.notify)
	c.notify = make(chan struct{}, 1)
}

// noCopy makes go vet report copies of the structs holding it.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
