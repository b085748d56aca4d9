package memclient

import (
	"context"
	"maps"
	"math"
	"slices"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/data"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// Database implements [domain.Database].
type Database struct {
	client *Client
	name   string
}

// Name implements [domain.Database].
func (d *Database) Name() string { return d.name }

// Collection implements [domain.Database]. Write concerns have no effect in
// memory.
func (d *Database) Collection(name string, _ domain.CollectionOptions) domain.Collection {
	return &Collection{client: d.client, db: d.name, name: name}
}

type commandFunc func(ctx context.Context, cmd domain.Document) (bson.D, error)

// RunCommand implements [domain.Database]. The supported commands are ping,
// create, collMod, drop, dropDatabase, count, explain of a find, listIndexes
// and dropIndexes.
func (d *Database) RunCommand(ctx context.Context, cmd any) (bson.Raw, error) {
	doc, err := data.NewDocument(cmd)
	if err != nil {
		return nil, badValue(err)
	}
	var name string
	for k := range doc.Keys() {
		name = k
		break
	}

	commands := map[string]commandFunc{
		"ping":         d.ping,
		"create":       d.create,
		"collMod":      d.collMod,
		"drop":         d.drop,
		"dropDatabase": d.dropDatabase,
		"count":        d.count,
		"explain":      d.explain,
		"listIndexes":  d.listIndexes,
		"dropIndexes":  d.dropIndexes,
	}
	fn, ok := commands[name]
	if !ok {
		return nil, commandError(CodeCommandNotFound, "no such command: '%s'", name)
	}

	if err := d.client.begin(ctx); err != nil {
		return nil, err
	}
	defer d.client.mu.Unlock()

	d.client.eng.logger.Debug("running command", zap.String("database", d.name), zap.String("command", name))
	res, err := fn(ctx, doc)
	if err != nil {
		return nil, err
	}
	return bson.Marshal(append(res, bson.E{Key: "ok", Value: 1.0}))
}

// target returns the collection named by the first field of cmd.
func (d *Database) target(cmd domain.Document, field string) (string, error) {
	name, ok := cmd.Get(field).(string)
	if !ok || name == "" {
		return "", commandError(CodeBadValue, "collection name has invalid type %T", cmd.Get(field))
	}
	return name, nil
}

func (d *Database) existing(ctx context.Context, name string) (*collState, error) {
	cs, err := d.client.coll(ctx, d.name, name, false)
	if err != nil {
		return nil, err
	}
	if cs == nil {
		return nil, commandError(CodeNamespaceNotFound, "ns does not exist: %s.%s", d.name, name)
	}
	return cs, nil
}

func (d *Database) ping(context.Context, domain.Document) (bson.D, error) {
	return bson.D{}, nil
}

func (d *Database) create(ctx context.Context, cmd domain.Document) (bson.D, error) {
	name, err := d.target(cmd, "create")
	if err != nil {
		return nil, err
	}
	opts := domain.CreateCollectionOptions{Validator: cmd.Get("validator")}
	opts.Capped, _ = cmd.Get("capped").(bool)
	opts.SizeInBytes, _ = integer(cmd.Get("size"))
	opts.MaxDocuments, _ = integer(cmd.Get("max"))
	opts.ValidationLevel, _ = cmd.Get("validationLevel").(string)
	opts.ValidationAction, _ = cmd.Get("validationAction").(string)
	return bson.D{}, d.createCollection(ctx, name, opts)
}

func (d *Database) collMod(ctx context.Context, cmd domain.Document) (bson.D, error) {
	name, err := d.target(cmd, "collMod")
	if err != nil {
		return nil, err
	}
	cs, err := d.existing(ctx, name)
	if err != nil {
		return nil, err
	}

	opts := cs.options
	for k, v := range cmd.Iter() {
		switch k {
		case "collMod":
		case "validator":
			validator, ok := v.(domain.Document)
			if !ok {
				return nil, commandError(CodeBadValue, "validator must be an object")
			}
			opts.Validator = validator.D()
		case "validationLevel", "validationAction":
			s, ok := v.(string)
			if !ok {
				return nil, commandError(CodeBadValue, "%s must be a string", k)
			}
			if k == "validationLevel" {
				opts.ValidationLevel = s
			} else {
				opts.ValidationAction = s
			}
		default:
			return nil, commandError(CodeInvalidOptions, "unknown option to collMod: %s", k)
		}
	}
	if err := checkValidation(opts); err != nil {
		return nil, err
	}
	cs.options = opts
	d.client.db(d.name, false).dirty = true
	return bson.D{}, nil
}

func (d *Database) drop(ctx context.Context, cmd domain.Document) (bson.D, error) {
	name, err := d.target(cmd, "drop")
	if err != nil {
		return nil, err
	}
	if _, err := d.existing(ctx, name); err != nil {
		return nil, err
	}
	db := d.client.db(d.name, false)
	delete(db.colls, name)
	db.dirty = true
	return bson.D{{Key: "ns", Value: d.name + "." + name}}, nil
}

func (d *Database) dropDatabase(context.Context, domain.Document) (bson.D, error) {
	if db := d.client.db(d.name, false); db != nil {
		db.colls = make(map[string]*collState)
		db.dirty = true
	}
	return bson.D{}, nil
}

func (d *Database) count(ctx context.Context, cmd domain.Document) (bson.D, error) {
	name, err := d.target(cmd, "count")
	if err != nil {
		return nil, err
	}
	filter, _ := cmd.Get("query").(domain.Document)
	skip, _ := integer(cmd.Get("skip"))
	limit, _ := integer(cmd.Get("limit"))
	cs, err := d.client.coll(ctx, d.name, name, false)
	if err != nil {
		return nil, err
	}
	var n int64
	if cs != nil {
		docs, err := cs.query(filter, domain.WithQuerySkip(skip), domain.WithQueryLimit(limit))
		if err != nil {
			return nil, err
		}
		n = int64(len(docs))
	}
	return bson.D{{Key: "n", Value: int32(n)}}, nil
}

// explain describes how a find would run. Only the plans the engine uses are
// reported: a lookup of _id, a scan of a single field index or a collection
// scan.
func (d *Database) explain(ctx context.Context, cmd domain.Document) (bson.D, error) {
	find, ok := cmd.Get("explain").(domain.Document)
	if !ok || !find.Has("find") {
		return nil, &domain.UnsupportedOperationError{
			Operation: "explain",
			Reason:    "only find commands are explained in memory",
		}
	}
	name, err := d.target(find, "find")
	if err != nil {
		return nil, err
	}
	filter, _ := find.Get("filter").(domain.Document)
	if filter == nil {
		filter = &data.M{}
	}

	plan := bson.D{{Key: "stage", Value: "COLLSCAN"}}
	cs, err := d.client.coll(ctx, d.name, name, false)
	if err != nil {
		return nil, err
	}
	if cs != nil {
		plan = cs.plan(filter)
	}
	if sort, ok := find.Get("sort").(domain.Document); ok && sort.Len() > 0 {
		plan = bson.D{{Key: "stage", Value: "SORT"}, {Key: "sortPattern", Value: sort.D()}, {Key: "inputStage", Value: plan}}
	}
	if skip, _ := integer(find.Get("skip")); skip > 0 {
		plan = bson.D{{Key: "stage", Value: "SKIP"}, {Key: "skipAmount", Value: skip}, {Key: "inputStage", Value: plan}}
	}
	if limit, _ := integer(find.Get("limit")); limit > 0 {
		plan = bson.D{{Key: "stage", Value: "LIMIT"}, {Key: "limitAmount", Value: limit}, {Key: "inputStage", Value: plan}}
	}

	return bson.D{
		{Key: "explainVersion", Value: "1"},
		{Key: "queryPlanner", Value: bson.D{
			{Key: "namespace", Value: d.name + "." + name},
			{Key: "parsedQuery", Value: filter.D()},
			{Key: "winningPlan", Value: plan},
			{Key: "rejectedPlans", Value: bson.A{}},
		}},
	}, nil
}

func (d *Database) listIndexes(ctx context.Context, cmd domain.Document) (bson.D, error) {
	name, err := d.target(cmd, "listIndexes")
	if err != nil {
		return nil, err
	}
	cs, err := d.existing(ctx, name)
	if err != nil {
		return nil, err
	}
	batch := bson.A{}
	for _, ix := range cs.indexes {
		batch = append(batch, indexDocument(ix.spec))
	}
	return bson.D{{Key: "cursor", Value: bson.D{
		{Key: "id", Value: int64(0)},
		{Key: "ns", Value: cs.namespace()},
		{Key: "firstBatch", Value: batch},
	}}}, nil
}

func (d *Database) dropIndexes(ctx context.Context, cmd domain.Document) (bson.D, error) {
	name, err := d.target(cmd, "dropIndexes")
	if err != nil {
		return nil, err
	}
	cs, err := d.existing(ctx, name)
	if err != nil {
		return nil, err
	}
	indexName, ok := cmd.Get("index").(string)
	if !ok {
		return nil, commandError(CodeBadValue, "index must be a name or '*'")
	}
	if indexName == "*" {
		cs.indexes = cs.indexes[:1]
	} else if err := cs.dropIndex(indexName); err != nil {
		return nil, err
	}
	d.client.db(d.name, false).dirty = true
	return bson.D{}, nil
}

func indexDocument(spec domain.IndexSpec) bson.D {
	doc := bson.D{
		{Key: "v", Value: int32(2)},
		{Key: "key", Value: spec.Keys},
		{Key: "name", Value: spec.Name},
	}
	if spec.Unique && spec.Name != idIndexName {
		doc = append(doc, bson.E{Key: "unique", Value: true})
	}
	if spec.Sparse {
		doc = append(doc, bson.E{Key: "sparse", Value: true})
	}
	if spec.ExpireAfterSeconds != nil {
		doc = append(doc, bson.E{Key: "expireAfterSeconds", Value: *spec.ExpireAfterSeconds})
	}
	if spec.PartialFilterExpression != nil {
		doc = append(doc, bson.E{Key: "partialFilterExpression", Value: spec.PartialFilterExpression})
	}
	return doc
}

// CreateCollection implements [domain.Database].
func (d *Database) CreateCollection(ctx context.Context, name string, opts domain.CreateCollectionOptions) error {
	if err := d.client.begin(ctx); err != nil {
		return err
	}
	defer d.client.mu.Unlock()
	return d.createCollection(ctx, name, opts)
}

func checkValidation(opts domain.CreateCollectionOptions) error {
	switch opts.ValidationLevel {
	case "", "off", "strict", "moderate":
	default:
		return commandError(CodeBadValue, "invalid validation level: %s", opts.ValidationLevel)
	}
	switch opts.ValidationAction {
	case "", "error", "warn":
	default:
		return commandError(CodeBadValue, "invalid validation action: %s", opts.ValidationAction)
	}
	return nil
}

func (d *Database) createCollection(ctx context.Context, name string, opts domain.CreateCollectionOptions) error {
	if err := validCollectionName(name); err != nil {
		return err
	}
	db := d.client.db(d.name, true)
	if _, ok := db.colls[name]; ok {
		return commandError(CodeNamespaceExists, "Collection %s.%s already exists.", d.name, name)
	}
	if opts.Capped && opts.SizeInBytes <= 0 {
		return commandError(CodeInvalidOptions, "the 'size' field is required when 'capped' is true")
	}
	if !opts.Capped && (opts.SizeInBytes != 0 || opts.MaxDocuments != 0) {
		return commandError(CodeInvalidOptions, "the 'size' and 'max' fields are only allowed when 'capped' is true")
	}
	if opts.Validator != nil {
		validator, err := data.NewDocument(opts.Validator)
		if err != nil {
			return badValue(err)
		}
		opts.Validator = validator.D()
	}
	if err := checkValidation(opts); err != nil {
		return err
	}

	cs, err := d.client.eng.newCollState(ctx, d.name, name, opts)
	if err != nil {
		return err
	}
	db.colls[name] = cs
	db.dirty = true
	return nil
}

// ListCollectionNames implements [domain.Database]. filter is matched against
// documents with the name, type and options of each collection.
func (d *Database) ListCollectionNames(ctx context.Context, filter any) ([]string, error) {
	qry, err := data.NewDocument(filter)
	if err != nil {
		return nil, badValue(err)
	}
	if err := d.client.begin(ctx); err != nil {
		return nil, err
	}
	defer d.client.mu.Unlock()

	db := d.client.db(d.name, false)
	if db == nil {
		return []string{}, nil
	}
	res := []string{}
	for _, name := range slices.Sorted(maps.Keys(db.colls)) {
		info := data.FromD(bson.D{
			{Key: "name", Value: name},
			{Key: "type", Value: "collection"},
			{Key: "options", Value: collectionOptions(db.colls[name].options)},
		})
		ok, err := d.client.eng.mtchr.Match(info, qry)
		if err != nil {
			return nil, badValue(err)
		}
		if ok {
			res = append(res, name)
		}
	}
	return res, nil
}

func collectionOptions(opts domain.CreateCollectionOptions) bson.D {
	doc := bson.D{}
	if opts.Capped {
		doc = append(doc,
			bson.E{Key: "capped", Value: true},
			bson.E{Key: "size", Value: opts.SizeInBytes},
		)
		if opts.MaxDocuments > 0 {
			doc = append(doc, bson.E{Key: "max", Value: opts.MaxDocuments})
		}
	}
	if opts.Validator != nil {
		doc = append(doc, bson.E{Key: "validator", Value: opts.Validator})
	}
	if opts.ValidationLevel != "" {
		doc = append(doc, bson.E{Key: "validationLevel", Value: opts.ValidationLevel})
	}
	if opts.ValidationAction != "" {
		doc = append(doc, bson.E{Key: "validationAction", Value: opts.ValidationAction})
	}
	return doc
}

// integer reads whole numbers of any numeric type.
func integer(v any) (int64, bool) {
	switch t := v.(type) {
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		if t == math.Trunc(t) {
			return int64(t), true
		}
	}
	return 0, false
}

var _ domain.Database = (*Database)(nil)
