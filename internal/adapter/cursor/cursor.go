// Package cursor contains the in-memory [domain.Cursor] implementation.
package cursor

import (
	"context"
	"fmt"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/data"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/ctxsync"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Cursor implements domain.Cursor over documents already in memory. Each
// document is encoded when the cursor reaches it.
type Cursor struct {
	data      []domain.Document
	mu        *ctxsync.Mutex
	pos       int
	current   bson.Raw
	closed    bool
	storedErr error
}

// NewCursor returns a new implementation of Cursor.
func NewCursor(docs []domain.Document) domain.Cursor {
	return &Cursor{
		data: docs,
		mu:   ctxsync.NewMutex(),
	}
}

// Next implements domain.Cursor.
func (c *Cursor) Next(ctx context.Context) bool {
	if err := c.mu.LockWithContext(ctx); err != nil {
		c.storedErr = err
		return false
	}
	defer c.mu.Unlock()

	if c.closed || c.storedErr != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.storedErr = err
		return false
	}
	if c.pos >= len(c.data) {
		c.current = nil
		return false
	}

	raw, err := data.Raw(c.data[c.pos])
	if err != nil {
		c.storedErr = fmt.Errorf("encoding document %d: %w", c.pos, err)
		return false
	}
	c.current = raw
	c.pos++
	return true
}

// Current implements domain.Cursor.
func (c *Cursor) Current() bson.Raw {
	return c.current
}

// Err implements domain.Cursor.
func (c *Cursor) Err() error {
	return c.storedErr
}

// Close implements domain.Cursor.
func (c *Cursor) Close(ctx context.Context) error {
	if err := c.mu.LockWithContext(ctx); err != nil {
		return err
	}
	defer c.mu.Unlock()
	c.closed = true
	c.data = nil
	c.current = nil
	return nil
}
