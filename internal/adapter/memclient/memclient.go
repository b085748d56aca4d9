// Package memclient implements the driver port of the domain package in
// memory. Filters, updates, sorting, projection and indexes are evaluated by
// the engine packages of this module and the databases can be saved as
// snapshot files. It is meant as a test double with the semantics of the
// server, not as a database.
package memclient

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/comparer"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/fieldnavigator"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/matcher"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/modifier"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/persistence"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/querier"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/timegetter"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/ctxsync"
	"go.uber.org/zap"
)

const fileExtension = ".db"

// Client implements [domain.Client]. Every call holds the client lock, so
// calls never observe a partially applied write.
type Client struct {
	eng      *engine
	mu       *ctxsync.Mutex
	flushed  *ctxsync.Cond
	flushes  uint64
	loops    *ctxsync.WaitGroup
	stop     chan struct{}
	dbs      map[string]*dbState
	dir      string
	interval time.Duration
	txn      *Session
	closed   bool
}

// NewClient returns a new in-memory client. When a directory is set, every
// database saved there is loaded before returning.
func NewClient(ctx context.Context, options ...domain.MemoryOption) (*Client, error) {
	var opts domain.MemoryOptions
	for _, option := range options {
		option(&opts)
	}
	if opts.TimeGetter == nil {
		opts.TimeGetter = timegetter.NewTimeGetter()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Comparer == nil {
		opts.Comparer = comparer.NewComparer()
	}
	fn := fieldnavigator.NewFieldNavigator()
	if opts.Matcher == nil {
		opts.Matcher = matcher.NewMatcher(
			domain.WithMatcherComparer(opts.Comparer),
			domain.WithMatcherFieldNavigator(fn),
		)
	}
	if opts.Modifier == nil {
		opts.Modifier = modifier.NewModifier(opts.Comparer, fn, opts.Matcher, opts.TimeGetter)
	}
	if opts.Querier == nil {
		opts.Querier = querier.NewQuerier(
			querier.WithComparer(opts.Comparer),
			querier.WithFieldNavigator(fn),
			querier.WithMatcher(opts.Matcher),
		)
	}

	mu := ctxsync.NewMutex()
	c := &Client{
		eng: &engine{
			cmpr:   opts.Comparer,
			fn:     fn,
			mtchr:  opts.Matcher,
			mod:    opts.Modifier,
			qrr:    opts.Querier,
			tg:     opts.TimeGetter,
			logger: opts.Logger,
		},
		mu:       mu,
		flushed:  ctxsync.NewCond(mu),
		loops:    ctxsync.NewWaitGroup(),
		stop:     make(chan struct{}),
		dbs:      make(map[string]*dbState),
		dir:      opts.Directory,
		interval: opts.FlushInterval,
	}

	if c.dir != "" {
		if err := c.load(ctx); err != nil {
			return nil, err
		}
		if c.interval > 0 {
			c.loops.Add(1)
			go c.flushLoop()
		}
	}
	return c, nil
}

// load restores every database file found in the directory.
func (c *Client) load(ctx context.Context) error {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("listing databases: %w", err)
	}

	var names []string
	for _, e := range entries {
		// an interrupted save leaves only the temporary file
		name := strings.TrimSuffix(e.Name(), "~")
		if e.IsDir() || !strings.HasSuffix(name, fileExtension) {
			continue
		}
		name = strings.TrimSuffix(name, fileExtension)
		if name != "" && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}

	for _, name := range names {
		db := newDBState(name)
		p, err := c.persistence(db)
		if err != nil {
			return err
		}
		snap, err := p.Load(ctx)
		if err != nil {
			return fmt.Errorf("loading database %s: %w", name, err)
		}
		if err := c.eng.restore(ctx, db, snap); err != nil {
			return fmt.Errorf("loading database %s: %w", name, err)
		}
		c.dbs[name] = db
		c.eng.logger.Info("database loaded",
			zap.String("database", name),
			zap.Int("collections", len(db.colls)),
		)
	}
	return nil
}

func (c *Client) persistence(db *dbState) (domain.Persistence, error) {
	if db.persistence != nil {
		return db.persistence, nil
	}
	p, err := persistence.NewPersistence(
		domain.WithPersistenceFilename(filepath.Join(c.dir, db.name+fileExtension)),
	)
	if err != nil {
		return nil, err
	}
	db.persistence = p
	return p, nil
}

func (c *Client) flushLoop() {
	defer c.loops.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}
		c.mu.Lock()
		err := c.flush(context.Background())
		c.mu.Unlock()
		if err != nil {
			c.eng.logger.Error("periodic flush failed", zap.Error(err))
		}
	}
}

// Flush saves every database changed since the last flush. Without a
// directory it does nothing.
func (c *Client) Flush(ctx context.Context) error {
	if err := c.begin(ctx); err != nil {
		return err
	}
	defer c.mu.Unlock()
	return c.flush(ctx)
}

// WaitFlush blocks until the next flush ends.
func (c *Client) WaitFlush(ctx context.Context) error {
	if err := c.mu.LockWithContext(ctx); err != nil {
		return err
	}
	defer c.mu.Unlock()
	n := c.flushes
	for c.flushes == n {
		if err := c.flushed.WaitWithContext(ctx); err != nil {
			return err
		}
	}
	return nil
}

// flush must be called with the client lock held.
func (c *Client) flush(ctx context.Context) error {
	defer func() {
		c.flushes++
		c.flushed.Broadcast()
	}()
	if c.dir == "" {
		return nil
	}

	var errs []error
	for _, db := range c.dbs {
		if !db.dirty {
			continue
		}
		p, err := c.persistence(db)
		if err == nil {
			err = p.Save(ctx, db.snapshot())
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("saving database %s: %w", db.name, err))
			continue
		}
		db.dirty = false
		c.eng.logger.Debug("database saved", zap.String("database", db.name))
	}
	return errors.Join(errs...)
}

// begin locks the client for one call. The caller unlocks it.
func (c *Client) begin(ctx context.Context) error {
	if err := c.mu.LockWithContext(ctx); err != nil {
		return err
	}
	if c.closed {
		c.mu.Unlock()
		return ErrClientDisconnected
	}
	if s := sessionFrom(ctx); s != nil && s.ended {
		c.mu.Unlock()
		return domain.ErrSessionEnded
	}
	return nil
}

// db returns the state of a database, creating it when create is set.
func (c *Client) db(name string, create bool) *dbState {
	db, ok := c.dbs[name]
	if !ok && create {
		db = newDBState(name)
		c.dbs[name] = db
	}
	return db
}

// coll returns the state of a collection, or nil when it does not exist and
// create is not set. Expired documents are removed first.
func (c *Client) coll(ctx context.Context, dbName, name string, create bool) (*collState, error) {
	db := c.db(dbName, create)
	if db == nil {
		return nil, nil
	}
	cs, ok := db.colls[name]
	if !ok {
		if !create {
			return nil, nil
		}
		if err := validCollectionName(name); err != nil {
			return nil, err
		}
		var err error
		if cs, err = c.eng.newCollState(ctx, dbName, name, domain.CreateCollectionOptions{}); err != nil {
			return nil, err
		}
		db.colls[name] = cs
		db.dirty = true
	}
	if cs.expire(ctx, c.eng.tg.GetTime()) {
		db.dirty = true
	}
	return cs, nil
}

func validCollectionName(name string) error {
	if name == "" || strings.Contains(name, "$") || strings.HasPrefix(name, "system.") {
		return commandError(CodeInvalidNamespace, "Invalid collection name: %q", name)
	}
	return nil
}

// Database implements [domain.Client].
func (c *Client) Database(name string) domain.Database {
	return &Database{client: c, name: name}
}

// StartSession implements [domain.Client].
func (c *Client) StartSession(ctx context.Context, _ domain.SessionOptions) (domain.Session, error) {
	if err := c.begin(ctx); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()
	return &Session{client: c, id: uuid.New()}, nil
}

// Disconnect implements [domain.Client]. Databases are flushed one last time.
func (c *Client) Disconnect(ctx context.Context) error {
	if err := c.begin(ctx); err != nil {
		return err
	}
	c.closed = true
	close(c.stop)
	c.mu.Unlock()

	if err := c.loops.WaitWithContext(ctx); err != nil {
		return err
	}
	if err := c.mu.LockWithContext(ctx); err != nil {
		return err
	}
	defer c.mu.Unlock()
	return c.flush(ctx)
}

// snapshots returns the content of every database.
func (c *Client) snapshots() []domain.Snapshot {
	res := make([]domain.Snapshot, 0, len(c.dbs))
	for _, db := range c.dbs {
		res = append(res, db.snapshot())
	}
	return res
}

// restore replaces every database with snaps.
func (c *Client) restore(ctx context.Context, snaps []domain.Snapshot) error {
	dbs := make(map[string]*dbState, len(snaps))
	for _, snap := range snaps {
		db := newDBState(snap.Database)
		if old, ok := c.dbs[snap.Database]; ok {
			db.persistence = old.persistence
		}
		if err := c.eng.restore(ctx, db, snap); err != nil {
			return err
		}
		db.dirty = true
		dbs[snap.Database] = db
	}
	// databases created after the snapshot are emptied so that their
	// files are rewritten on the next flush
	for name, old := range c.dbs {
		if _, ok := dbs[name]; !ok {
			db := newDBState(name)
			db.persistence = old.persistence
			db.dirty = true
			dbs[name] = db
		}
	}
	c.dbs = dbs
	return nil
}

var _ domain.Client = (*Client)(nil)
