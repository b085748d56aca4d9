package datastore

import (
	"context"
	"errors"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/ctxsync"
)

// sessionState is shared by every copy of a session datastore. mu is held
// for the length of each call made in the session.
type sessionState struct {
	session domain.Session
	mu      *ctxsync.Mutex
	ended   bool
}

// SessionDatastore implements [domain.SessionDatastore].
type SessionDatastore struct {
	*Datastore
}

// StartSession implements [domain.Datastore].
func (d *Datastore) StartSession(ctx context.Context, options ...domain.SessionOption) (domain.SessionDatastore, error) {
	var opts domain.SessionOptions
	for _, option := range options {
		option(&opts)
	}
	sess, err := d.client.StartSession(ctx, opts)
	if err != nil {
		return nil, err
	}
	cp := *d
	cp.session = &sessionState{session: sess, mu: ctxsync.NewMutex()}
	return &SessionDatastore{Datastore: &cp}, nil
}

// WithTransaction implements [domain.Datastore]. Session datastores run the
// transaction in their own session; others start one and end it when done.
func (d *Datastore) WithTransaction(ctx context.Context, fn func(context.Context, domain.Datastore) error, options ...domain.TransactionOption) error {
	var sd *SessionDatastore
	if d.session != nil {
		sd = &SessionDatastore{Datastore: d}
	} else {
		s, err := d.StartSession(ctx)
		if err != nil {
			return err
		}
		sd = s.(*SessionDatastore)
		defer sd.EndSession(context.WithoutCancel(ctx))
	}

	if err := sd.StartTransaction(options...); err != nil {
		return err
	}
	if err := fn(ctx, sd); err != nil {
		if abortErr := sd.AbortTransaction(context.WithoutCancel(ctx)); abortErr != nil {
			return errors.Join(err, abortErr)
		}
		return err
	}
	return sd.CommitTransaction(ctx)
}

// StartTransaction implements [domain.SessionDatastore].
func (s *SessionDatastore) StartTransaction(options ...domain.TransactionOption) error {
	var opts domain.TransactionOptions
	for _, option := range options {
		option(&opts)
	}
	s.session.mu.Lock()
	defer s.session.mu.Unlock()
	if s.session.ended {
		return domain.ErrSessionEnded
	}
	return s.session.session.StartTransaction(opts)
}

// CommitTransaction implements [domain.SessionDatastore].
func (s *SessionDatastore) CommitTransaction(ctx context.Context) error {
	return s.locked(ctx, s.session.session.CommitTransaction)
}

// AbortTransaction implements [domain.SessionDatastore].
func (s *SessionDatastore) AbortTransaction(ctx context.Context) error {
	return s.locked(ctx, s.session.session.AbortTransaction)
}

// EndSession implements [domain.SessionDatastore]. Ending twice is a no-op.
func (s *SessionDatastore) EndSession(ctx context.Context) {
	s.session.mu.Lock()
	defer s.session.mu.Unlock()
	if s.session.ended {
		return
	}
	s.session.ended = true
	s.session.session.EndSession(ctx)
}

func (s *SessionDatastore) locked(ctx context.Context, fn func(context.Context) error) error {
	if err := s.session.mu.LockWithContext(ctx); err != nil {
		return err
	}
	defer s.session.mu.Unlock()
	if s.session.ended {
		return domain.ErrSessionEnded
	}
	return fn(s.session.session.Bind(ctx))
}

var _ domain.SessionDatastore = (*SessionDatastore)(nil)
