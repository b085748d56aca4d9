// Package persistence contains the default [domain.Persistence]
// implementation. A snapshot is stored as one canonical Extended JSON line per
// database, collection, index and document.
package persistence

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dolmen-go/contextio"
	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/data"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/storage"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Default modes of the files and directories created when saving.
const (
	DefaultDirMode  os.FileMode = 0o755
	DefaultFileMode os.FileMode = 0o644
)

// DefaultCorruptAlertThreshold is the fraction of unreadable lines tolerated
// when no threshold is given.
const DefaultCorruptAlertThreshold = 0.1

// maxLineSize fits the largest document the server accepts, encoded as
// Extended JSON.
const maxLineSize = 64 << 20

// Persistence implements [domain.Persistence].
type Persistence struct {
	filename              string
	fileMode              os.FileMode
	corruptAlertThreshold float64
	storage               domain.Storage
}

type line struct {
	Database   string          `bson:"database,omitempty"`
	Collection *collectionLine `bson:"collection,omitempty"`
	Index      *indexLine      `bson:"index,omitempty"`
	Document   *documentLine   `bson:"document,omitempty"`
}

type collectionLine struct {
	Name             string `bson:"name"`
	Capped           bool   `bson:"capped,omitempty"`
	SizeInBytes      int64  `bson:"size,omitempty"`
	MaxDocuments     int64  `bson:"max,omitempty"`
	Validator        any    `bson:"validator,omitempty"`
	ValidationLevel  string `bson:"validationLevel,omitempty"`
	ValidationAction string `bson:"validationAction,omitempty"`
}

type indexLine struct {
	Collection              string `bson:"collection"`
	Keys                    bson.D `bson:"key"`
	Name                    string `bson:"name"`
	Unique                  bool   `bson:"unique,omitempty"`
	Sparse                  bool   `bson:"sparse,omitempty"`
	ExpireAfterSeconds      *int32 `bson:"expireAfterSeconds,omitempty"`
	PartialFilterExpression any    `bson:"partialFilterExpression,omitempty"`
}

type documentLine struct {
	Collection string `bson:"collection"`
	Doc        bson.D `bson:"doc"`
}

// NewPersistence returns a new implementation of [domain.Persistence].
func NewPersistence(options ...domain.PersistenceOption) (domain.Persistence, error) {
	opts := domain.PersistenceOptions{
		FileMode:              DefaultFileMode,
		CorruptAlertThreshold: DefaultCorruptAlertThreshold,
	}
	for _, option := range options {
		option(&opts)
	}
	if strings.HasSuffix(opts.Filename, "~") {
		return nil, errors.New("the datafile name can't end with a ~, which is reserved for crash safe backup files")
	}
	if opts.Storage == nil {
		opts.Storage = storage.NewStorage()
	}
	return &Persistence{
		filename:              opts.Filename,
		fileMode:              opts.FileMode,
		corruptAlertThreshold: opts.CorruptAlertThreshold,
		storage:               opts.Storage,
	}, nil
}

// Save implements [domain.Persistence].
func (p *Persistence) Save(ctx context.Context, snapshot domain.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.filename == "" {
		return nil
	}

	if err := p.storage.EnsureParentDirectoryExists(p.filename, DefaultDirMode); err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	if err := p.Write(ctx, buf, snapshot); err != nil {
		return err
	}
	return p.storage.CrashSafeWriteFile(p.filename, buf.Bytes(), DefaultDirMode, p.fileMode)
}

// Load implements [domain.Persistence].
func (p *Persistence) Load(ctx context.Context) (domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.Snapshot{}, err
	}
	if p.filename == "" {
		return domain.Snapshot{}, nil
	}

	if err := p.storage.EnsureParentDirectoryExists(p.filename, DefaultDirMode); err != nil {
		return domain.Snapshot{}, err
	}
	if err := p.storage.EnsureDatafileIntegrity(p.filename, p.fileMode); err != nil {
		return domain.Snapshot{}, err
	}

	stream, err := p.storage.ReadFileStream(p.filename)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer stream.Close()

	return p.Read(ctx, stream)
}

// Write implements [domain.Persistence].
func (p *Persistence) Write(ctx context.Context, w io.Writer, snapshot domain.Snapshot) error {
	wr := bufio.NewWriter(contextio.NewWriter(ctx, w))

	if snapshot.Database != "" {
		if err := p.writeLine(wr, line{Database: snapshot.Database}); err != nil {
			return err
		}
	}
	for _, coll := range snapshot.Collections {
		if err := p.writeLine(wr, line{Collection: &collectionLine{
			Name:             coll.Name,
			Capped:           coll.Options.Capped,
			SizeInBytes:      coll.Options.SizeInBytes,
			MaxDocuments:     coll.Options.MaxDocuments,
			Validator:        coll.Options.Validator,
			ValidationLevel:  coll.Options.ValidationLevel,
			ValidationAction: coll.Options.ValidationAction,
		}}); err != nil {
			return err
		}
		for _, idx := range coll.Indexes {
			if err := p.writeLine(wr, line{Index: &indexLine{
				Collection:              coll.Name,
				Keys:                    idx.Keys,
				Name:                    idx.Name,
				Unique:                  idx.Unique,
				Sparse:                  idx.Sparse,
				ExpireAfterSeconds:      idx.ExpireAfterSeconds,
				PartialFilterExpression: idx.PartialFilterExpression,
			}}); err != nil {
				return err
			}
		}
		for _, doc := range coll.Documents {
			if err := p.writeLine(wr, line{Document: &documentLine{
				Collection: coll.Name,
				Doc:        doc.D(),
			}}); err != nil {
				return err
			}
		}
	}
	return wr.Flush()
}

func (p *Persistence) writeLine(w io.Writer, l line) error {
	b, err := bson.MarshalExtJSON(l, true, false)
	if err != nil {
		return fmt.Errorf("encoding snapshot line: %w", err)
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

// Read implements [domain.Persistence]. Unreadable lines are skipped unless
// they exceed the corrupt alert threshold.
func (p *Persistence) Read(ctx context.Context, r io.Reader) (domain.Snapshot, error) {
	var snapshot domain.Snapshot
	positions := make(map[string]int)
	collection := func(name string) *domain.CollectionSnapshot {
		pos, ok := positions[name]
		if !ok {
			pos = len(snapshot.Collections)
			positions[name] = pos
			snapshot.Collections = append(snapshot.Collections, domain.CollectionSnapshot{Name: name})
		}
		return &snapshot.Collections[pos]
	}

	lineStream := bufio.NewScanner(contextio.NewReader(ctx, r))
	lineStream.Buffer(nil, maxLineSize)

	corruptItems, dataLength := 0, 0
	for lineStream.Scan() {
		b := lineStream.Bytes()
		if len(bytes.TrimSpace(b)) == 0 {
			continue
		}
		dataLength++

		var l line
		if err := bson.UnmarshalExtJSON(b, true, &l); err != nil {
			corruptItems++
			continue
		}
		switch {
		case l.Collection != nil && l.Collection.Name != "":
			coll := collection(l.Collection.Name)
			coll.Options = domain.CreateCollectionOptions{
				Capped:           l.Collection.Capped,
				SizeInBytes:      l.Collection.SizeInBytes,
				MaxDocuments:     l.Collection.MaxDocuments,
				Validator:        l.Collection.Validator,
				ValidationLevel:  l.Collection.ValidationLevel,
				ValidationAction: l.Collection.ValidationAction,
			}
		case l.Index != nil && l.Index.Collection != "" && len(l.Index.Keys) > 0:
			coll := collection(l.Index.Collection)
			coll.Indexes = append(coll.Indexes, domain.IndexSpec{
				Keys:                    l.Index.Keys,
				Name:                    l.Index.Name,
				Unique:                  l.Index.Unique,
				Sparse:                  l.Index.Sparse,
				ExpireAfterSeconds:      l.Index.ExpireAfterSeconds,
				PartialFilterExpression: l.Index.PartialFilterExpression,
			})
		case l.Document != nil && l.Document.Collection != "":
			coll := collection(l.Document.Collection)
			coll.Documents = append(coll.Documents, data.FromD(l.Document.Doc))
		case l.Database != "":
			snapshot.Database = l.Database
		default:
			corruptItems++
		}
	}
	if err := lineStream.Err(); err != nil {
		return domain.Snapshot{}, err
	}

	if dataLength > 0 {
		corruptionRate := float64(corruptItems) / float64(dataLength)
		if corruptionRate > p.corruptAlertThreshold {
			return domain.Snapshot{}, &domain.CorruptFilesError{
				CorruptionRate:        corruptionRate,
				CorruptItems:          corruptItems,
				DataLength:            dataLength,
				CorruptAlertThreshold: p.corruptAlertThreshold,
			}
		}
	}
	return snapshot, nil
}
