package memclient

import (
	"context"

	"github.com/google/uuid"
	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.uber.org/zap"
)

type sessionKey struct{}

func sessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}

// Session implements [domain.Session]. A transaction records the content of
// every database when it starts and puts it back when aborted. Only one
// transaction runs at a time and calls made outside of it are not isolated
// from it.
type Session struct {
	client   *Client
	id       uuid.UUID
	ended    bool
	snapshot []domain.Snapshot
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// StartTransaction implements [domain.Session].
func (s *Session) StartTransaction(domain.TransactionOptions) error {
	c := s.client
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return ErrClientDisconnected
	case s.ended:
		return domain.ErrSessionEnded
	case c.txn == s:
		return ErrTransactionInProgress
	case c.txn != nil:
		return &domain.CommandError{
			Code:    CodeWriteConflict,
			Message: "another transaction is in progress",
			Err:     domain.ErrConflict,
		}
	}
	s.snapshot = c.snapshots()
	c.txn = s
	c.eng.logger.Debug("transaction started", zap.Stringer("session", s.id))
	return nil
}

// CommitTransaction implements [domain.Session].
func (s *Session) CommitTransaction(ctx context.Context) error {
	c := s.client
	if err := c.begin(s.Bind(ctx)); err != nil {
		return err
	}
	defer c.mu.Unlock()
	if c.txn != s {
		return ErrNoTransaction
	}
	c.txn, s.snapshot = nil, nil
	c.eng.logger.Debug("transaction committed", zap.Stringer("session", s.id))
	return nil
}

// AbortTransaction implements [domain.Session].
func (s *Session) AbortTransaction(ctx context.Context) error {
	c := s.client
	if err := c.begin(s.Bind(ctx)); err != nil {
		return err
	}
	defer c.mu.Unlock()
	if c.txn != s {
		return ErrNoTransaction
	}
	return s.abort(ctx)
}

// abort must be called with the client lock held.
func (s *Session) abort(ctx context.Context) error {
	c := s.client
	snapshot := s.snapshot
	c.txn, s.snapshot = nil, nil
	if err := c.restore(context.WithoutCancel(ctx), snapshot); err != nil {
		return err
	}
	c.eng.logger.Debug("transaction aborted", zap.Stringer("session", s.id))
	return nil
}

// EndSession implements [domain.Session]. A running transaction is aborted.
func (s *Session) EndSession(ctx context.Context) {
	c := s.client
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	if c.txn == s {
		if err := s.abort(ctx); err != nil {
			c.eng.logger.Error("aborting transaction of ended session", zap.Stringer("session", s.id), zap.Error(err))
		}
	}
}

// Bind implements [domain.Session].
func (s *Session) Bind(ctx context.Context) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

var _ domain.Session = (*Session)(nil)
