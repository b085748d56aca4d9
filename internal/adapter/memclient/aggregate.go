package memclient

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/cursor"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/data"
)

type stageFunc func(ctx context.Context, docs []domain.Document, spec any) ([]domain.Document, error)

// Aggregate implements [domain.Collection]. The stages evaluated in memory
// are $match, $sort, $skip, $limit, $project, $count, $unwind, $unset and
// the equality form of $lookup.
func (c *Collection) Aggregate(ctx context.Context, pipeline any, opts domain.AggregateOptions) (domain.Cursor, error) {
	if err := unsupportedCollation("aggregate", opts.Collation); err != nil {
		return nil, err
	}
	if len(opts.Let) > 0 {
		return nil, &domain.UnsupportedOperationError{
			Operation: "aggregate",
			Reason:    "variables are not evaluated in memory",
		}
	}
	stages, err := parsePipeline(pipeline)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withMaxTime(ctx, opts.MaxTime)
	defer cancel()

	cs, err := c.state(ctx, false)
	if err != nil {
		return nil, err
	}
	defer c.client.mu.Unlock()

	var docs []domain.Document
	if cs != nil {
		docs = slices.Clone(cs.docs)
	}

	a := &aggregator{coll: c}
	run := map[string]stageFunc{
		"$match":   a.match,
		"$sort":    a.sort,
		"$skip":    a.skip,
		"$limit":   a.limit,
		"$project": a.project,
		"$count":   a.count,
		"$unwind":  a.unwind,
		"$unset":   a.unset,
		"$lookup":  a.lookup,
	}
	for _, stage := range stages {
		var name string
		var spec any
		for k, v := range stage.Iter() {
			name, spec = k, v
		}
		fn, ok := run[name]
		if !ok {
			return nil, &domain.UnsupportedOperationError{
				Operation: name,
				Reason:    "stage is not evaluated in memory",
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if docs, err = fn(ctx, docs, spec); err != nil {
			return nil, err
		}
	}
	return cursor.NewCursor(docs), nil
}

// parsePipeline converts any array of single field documents.
func parsePipeline(pipeline any) ([]domain.Document, error) {
	v, err := data.Value(pipeline)
	if err != nil {
		return nil, commandError(CodeBadValue, "invalid pipeline: %s", err)
	}
	items, ok := v.([]any)
	if !ok && v != nil {
		return nil, commandError(CodeBadValue, "pipeline must be an array, got %T", pipeline)
	}
	stages := make([]domain.Document, 0, len(items))
	for n, item := range items {
		stage, ok := item.(domain.Document)
		if !ok || stage.Len() != 1 {
			return nil, commandError(CodeBadValue, "stage %d must be a document with exactly one field", n)
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

type aggregator struct {
	coll *Collection
}

func (a *aggregator) eng() *engine { return a.coll.client.eng }

func stageDocument(stage string, spec any) (domain.Document, error) {
	doc, ok := spec.(domain.Document)
	if !ok {
		return nil, commandError(CodeFailedToParse, "the %s stage specification must be an object", stage)
	}
	return doc, nil
}

func (a *aggregator) match(_ context.Context, docs []domain.Document, spec any) ([]domain.Document, error) {
	filter, err := stageDocument("$match", spec)
	if err != nil {
		return nil, err
	}
	res, err := a.eng().qrr.Query(docs, domain.WithQuery(filter))
	return res, badValue(err)
}

func (a *aggregator) sort(_ context.Context, docs []domain.Document, spec any) ([]domain.Document, error) {
	s, err := stageDocument("$sort", spec)
	if err != nil {
		return nil, err
	}
	if s.Len() == 0 {
		return nil, commandError(CodeFailedToParse, "$sort stage must have at least one sort key")
	}
	res, err := a.eng().qrr.Sort(docs, s)
	return res, badValue(err)
}

func (a *aggregator) skip(_ context.Context, docs []domain.Document, spec any) ([]domain.Document, error) {
	n, ok := integer(spec)
	if !ok || n < 0 {
		return nil, commandError(CodeFailedToParse, "invalid argument to $skip stage: %v", spec)
	}
	return docs[min(int(n), len(docs)):], nil
}

func (a *aggregator) limit(_ context.Context, docs []domain.Document, spec any) ([]domain.Document, error) {
	n, ok := integer(spec)
	if !ok || n <= 0 {
		return nil, commandError(CodeFailedToParse, "invalid argument to $limit stage: %v", spec)
	}
	return docs[:min(int(n), len(docs))], nil
}

func (a *aggregator) project(_ context.Context, docs []domain.Document, spec any) ([]domain.Document, error) {
	p, err := stageDocument("$project", spec)
	if err != nil {
		return nil, err
	}
	if p.Len() == 0 {
		return nil, commandError(CodeFailedToParse, "$project requires at least one output field")
	}
	res, err := a.eng().qrr.Query(docs, domain.WithQueryProjection(p))
	return res, badValue(err)
}

func (a *aggregator) count(_ context.Context, docs []domain.Document, spec any) ([]domain.Document, error) {
	field, ok := spec.(string)
	if !ok || field == "" || strings.HasPrefix(field, "$") || strings.Contains(field, ".") {
		return nil, commandError(CodeFailedToParse, "invalid $count field: %v", spec)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	res := &data.M{}
	res.Set(field, int32(len(docs)))
	return []domain.Document{res}, nil
}

// fieldPath strips the dollar sign of a field path expression.
func fieldPath(stage string, v any) (string, error) {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, "$") || len(s) == 1 {
		return "", commandError(CodeFailedToParse, "%s requires a field path starting with '$', got %v", stage, v)
	}
	return s[1:], nil
}

func (a *aggregator) unwind(_ context.Context, docs []domain.Document, spec any) ([]domain.Document, error) {
	var (
		path     string
		indexKey string
		preserve bool
		err      error
	)
	if opts, ok := spec.(domain.Document); ok {
		if path, err = fieldPath("$unwind", opts.Get("path")); err != nil {
			return nil, err
		}
		indexKey, _ = opts.Get("includeArrayIndex").(string)
		preserve, _ = opts.Get("preserveNullAndEmptyArrays").(bool)
	} else if path, err = fieldPath("$unwind", spec); err != nil {
		return nil, err
	}

	fn := a.eng().fn
	addr := fn.GetAddress(path)
	emit := func(doc domain.Document, value any, set bool, index any) (domain.Document, error) {
		out := data.Clone(doc).(domain.Document)
		if set {
			fields, err := fn.EnsureField(out, nil, addr...)
			if err != nil {
				return nil, badValue(err)
			}
			for _, f := range fields {
				f.Set(data.Clone(value))
			}
		}
		if indexKey != "" {
			out.Set(indexKey, index)
		}
		return out, nil
	}

	res := make([]domain.Document, 0, len(docs))
	for _, doc := range docs {
		var value any
		found := false
		if fields, expanded := fn.GetField(doc, addr...); !expanded && len(fields) == 1 {
			value, found = fields[0].Get()
		}
		arr, isArray := value.([]any)
		switch {
		case isArray && len(arr) > 0:
			for n, item := range arr {
				out, err := emit(doc, item, true, int64(n))
				if err != nil {
					return nil, err
				}
				res = append(res, out)
			}
		case found && value != nil && !isArray:
			out, err := emit(doc, nil, false, nil)
			if err != nil {
				return nil, err
			}
			res = append(res, out)
		case preserve:
			out, err := emit(doc, nil, false, nil)
			if err != nil {
				return nil, err
			}
			res = append(res, out)
		}
	}
	return res, nil
}

func (a *aggregator) unset(_ context.Context, docs []domain.Document, spec any) ([]domain.Document, error) {
	var fields []string
	switch t := spec.(type) {
	case string:
		fields = []string{t}
	case []any:
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, commandError(CodeFailedToParse, "$unset specification must be a string or an array of strings")
			}
			fields = append(fields, s)
		}
	default:
		return nil, commandError(CodeFailedToParse, "$unset specification must be a string or an array of strings")
	}

	fn := a.eng().fn
	res := make([]domain.Document, len(docs))
	for n, doc := range docs {
		out := data.Clone(doc).(domain.Document)
		for _, field := range fields {
			located, err := fn.Locate(out, nil, fn.GetAddress(field)...)
			if err != nil {
				return nil, badValue(err)
			}
			for _, l := range located {
				l.Unset()
			}
		}
		res[n] = out
	}
	return res, nil
}

// lookup joins the documents of another collection of the same database
// whose foreign field equals the local field.
func (a *aggregator) lookup(ctx context.Context, docs []domain.Document, spec any) ([]domain.Document, error) {
	opts, err := stageDocument("$lookup", spec)
	if err != nil {
		return nil, err
	}
	if opts.Has("pipeline") {
		return nil, &domain.UnsupportedOperationError{
			Operation: "$lookup",
			Reason:    "pipelines are not evaluated in memory",
		}
	}
	names := make(map[string]string, 4)
	for _, key := range []string{"from", "localField", "foreignField", "as"} {
		s, ok := opts.Get(key).(string)
		if !ok || s == "" {
			return nil, commandError(CodeFailedToParse, "$lookup requires a string %s", key)
		}
		names[key] = s
	}

	var foreign []domain.Document
	cs, err := a.coll.client.coll(ctx, a.coll.db, names["from"], false)
	if err != nil {
		return nil, err
	}
	if cs != nil {
		foreign = cs.docs
	}

	fn := a.eng().fn
	localAddr := fn.GetAddress(names["localField"])
	res := make([]domain.Document, len(docs))
	for n, doc := range docs {
		values := []any{}
		fields, _ := fn.GetField(doc, localAddr...)
		for _, f := range fields {
			v, ok := f.Get()
			if arr, isArray := v.([]any); isArray {
				values = append(values, arr...)
			} else if ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			values = append(values, nil)
		}

		in := &data.M{}
		in.Set("$in", values)
		filter := &data.M{}
		filter.Set(names["foreignField"], in)
		joined, err := a.eng().qrr.Query(foreign, domain.WithQuery(filter))
		if err != nil {
			return nil, badValue(fmt.Errorf("$lookup: %w", err))
		}

		matches := make([]any, len(joined))
		for m, j := range joined {
			matches[m] = data.Clone(j)
		}
		out := data.Clone(doc).(domain.Document)
		out.Set(names["as"], matches)
		res[n] = out
	}
	return res, nil
}
