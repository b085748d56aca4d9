package stages

import (
	"reflect"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/expr"
)

// LookupStage is $lookup.
type LookupStage struct {
	from         Target
	localField   string
	foreignField string
	as           string
	let          []expr.Named
	pipeline     []domain.Stage
	err          error
}

// Lookup joins the documents of the named collection.
func Lookup(from string) LookupStage {
	t, err := nameTarget("$lookup", from)
	return LookupStage{from: t, err: err}
}

// LookupType joins the collection of the entity type t. Paths of the join
// and of the nested pipeline are resolved against t.
func LookupType(t reflect.Type) LookupStage {
	target, err := typeTarget("$lookup", t)
	return LookupStage{from: target, err: err}
}

// On returns a copy of s joining localField to foreignField.
func (s LookupStage) On(localField, foreignField string) LookupStage {
	s.localField = localField
	s.foreignField = foreignField
	return s
}

// As returns a copy of s storing matches in the array field as.
func (s LookupStage) As(as string) LookupStage {
	s.as = as
	return s
}

// Let returns a copy of s with variables usable by the nested pipeline.
func (s LookupStage) Let(vars ...expr.Named) LookupStage {
	s.let = appendClip(s.let, vars...)
	return s
}

// Pipeline returns a copy of s running stages on the joined collection.
func (s LookupStage) Pipeline(stages ...domain.Stage) LookupStage {
	s.pipeline = appendClip(s.pipeline, stages...)
	return s
}

// StageName implements [domain.Stage].
func (LookupStage) StageName() string { return "$lookup" }

// From returns the joined collection.
func (s LookupStage) From() Target { return s.from }

// LocalField returns the field of the input documents.
func (s LookupStage) LocalField() string { return s.localField }

// ForeignField returns the field of the joined documents.
func (s LookupStage) ForeignField() string { return s.foreignField }

// AsField returns the output array field.
func (s LookupStage) AsField() string { return s.as }

// Variables returns the variables available to the pipeline.
func (s LookupStage) Variables() []expr.Named { return s.let }

// Stages returns the sub pipeline.
func (s LookupStage) Stages() []domain.Stage { return s.pipeline }

// Err implements [domain.Stage].
func (s LookupStage) Err() error {
	if s.err != nil {
		return s.err
	}
	if s.as == "" {
		return &domain.ValidationError{Operation: "$lookup", Reason: "as cannot be empty"}
	}
	if s.localField == "" && s.pipeline == nil {
		return &domain.ValidationError{Operation: "$lookup", Reason: "a join or a pipeline is required"}
	}
	return firstErr(s.pipeline)
}

// GraphLookupStage is $graphLookup.
type GraphLookupStage struct {
	from             Target
	startWith        domain.Expression
	connectFromField string
	connectToField   string
	as               string
	maxDepth         *int
	depthField       string
	restrict         domain.Filter
	err              error
}

// GraphLookup recursively searches the named collection.
func GraphLookup(from string) GraphLookupStage {
	t, err := nameTarget("$graphLookup", from)
	return GraphLookupStage{from: t, err: err}
}

// GraphLookupType recursively searches the collection of the entity type t.
func GraphLookupType(t reflect.Type) GraphLookupStage {
	target, err := typeTarget("$graphLookup", t)
	return GraphLookupStage{from: target, err: err}
}

// StartWith returns a copy of s starting the search with the value of e.
func (s GraphLookupStage) StartWith(e domain.Expression) GraphLookupStage {
	s.startWith = e
	return s
}

// Connect returns a copy of s following fromField to toField.
func (s GraphLookupStage) Connect(fromField, toField string) GraphLookupStage {
	s.connectFromField = fromField
	s.connectToField = toField
	return s
}

// As returns a copy of s storing matches in the array field as.
func (s GraphLookupStage) As(as string) GraphLookupStage {
	s.as = as
	return s
}

// MaxDepth returns a copy of s limiting the recursion depth.
func (s GraphLookupStage) MaxDepth(d int) GraphLookupStage {
	s.maxDepth = &d
	return s
}

// DepthField returns a copy of s storing the recursion depth in field.
func (s GraphLookupStage) DepthField(field string) GraphLookupStage {
	s.depthField = field
	return s
}

// RestrictSearchWithMatch returns a copy of s only following documents
// matching f.
func (s GraphLookupStage) RestrictSearchWithMatch(f domain.Filter) GraphLookupStage {
	s.restrict = f
	return s
}

// StageName implements [domain.Stage].
func (GraphLookupStage) StageName() string { return "$graphLookup" }

// From returns the joined collection.
func (s GraphLookupStage) From() Target { return s.from }

// StartExpression returns the expression the search starts with.
func (s GraphLookupStage) StartExpression() domain.Expression { return s.startWith }

// ConnectFromField returns the field whose value is followed.
func (s GraphLookupStage) ConnectFromField() string { return s.connectFromField }

// ConnectToField returns the field matched against ConnectFromField.
func (s GraphLookupStage) ConnectToField() string { return s.connectToField }

// AsField returns the output array field.
func (s GraphLookupStage) AsField() string { return s.as }

// Depth returns the maximum recursion depth, if any.
func (s GraphLookupStage) Depth() *int { return s.maxDepth }

// DepthFieldName returns the output field holding the depth, if any.
func (s GraphLookupStage) DepthFieldName() string { return s.depthField }

// Restriction returns the filter every visited document must match, if any.
func (s GraphLookupStage) Restriction() domain.Filter { return s.restrict }

// Err implements [domain.Stage].
func (s GraphLookupStage) Err() error {
	switch {
	case s.err != nil:
		return s.err
	case s.startWith == nil:
		return &domain.ValidationError{Operation: "$graphLookup", Reason: "startWith is required"}
	case s.connectFromField == "" || s.connectToField == "":
		return &domain.ValidationError{Operation: "$graphLookup", Reason: "connect fields are required"}
	case s.as == "":
		return &domain.ValidationError{Operation: "$graphLookup", Reason: "as cannot be empty"}
	case s.restrict != nil:
		return s.restrict.Err()
	}
	return nil
}

// UnionWithStage is $unionWith.
type UnionWithStage struct {
	coll     Target
	pipeline []domain.Stage
	err      error
}

// UnionWith appends the documents of the named collection.
func UnionWith(coll string) UnionWithStage {
	t, err := nameTarget("$unionWith", coll)
	return UnionWithStage{coll: t, err: err}
}

// UnionWithType appends the documents of the collection of entity type t.
func UnionWithType(t reflect.Type) UnionWithStage {
	target, err := typeTarget("$unionWith", t)
	return UnionWithStage{coll: target, err: err}
}

// Pipeline returns a copy of s running stages on the other collection first.
func (s UnionWithStage) Pipeline(stages ...domain.Stage) UnionWithStage {
	s.pipeline = appendClip(s.pipeline, stages...)
	return s
}

// StageName implements [domain.Stage].
func (UnionWithStage) StageName() string { return "$unionWith" }

// Collection returns the collection whose documents are appended.
func (s UnionWithStage) Collection() Target { return s.coll }

// Stages returns the sub pipeline.
func (s UnionWithStage) Stages() []domain.Stage { return s.pipeline }

// Err implements [domain.Stage].
func (s UnionWithStage) Err() error {
	if s.err != nil {
		return s.err
	}
	return firstErr(s.pipeline)
}

// OutStage is $out.
type OutStage struct {
	into Target
	err  error
}

// Out writes the results to the named collection, replacing it.
func Out(coll string) OutStage {
	t, err := nameTarget("$out", coll)
	return OutStage{into: t, err: err}
}

// OutType writes the results to the collection of entity type t.
func OutType(t reflect.Type) OutStage {
	target, err := typeTarget("$out", t)
	return OutStage{into: target, err: err}
}

// Database returns a copy of s writing to another database.
func (s OutStage) Database(db string) OutStage {
	s.into.Database = db
	return s
}

// StageName implements [domain.Stage].
func (OutStage) StageName() string { return "$out" }

// Into returns the output collection.
func (s OutStage) Into() Target { return s.into }

// Err implements [domain.Stage].
func (s OutStage) Err() error { return s.err }

// Actions of $merge.
const (
	WhenMatchedReplace     = "replace"
	WhenMatchedKeepExisting = "keepExisting"
	WhenMatchedMerge       = "merge"
	WhenMatchedFail        = "fail"
	WhenNotMatchedInsert   = "insert"
	WhenNotMatchedDiscard  = "discard"
	WhenNotMatchedFail     = "fail"
)

// MergeStage is $merge.
type MergeStage struct {
	into                Target
	on                  []string
	let                 []expr.Named
	whenMatched         string
	whenMatchedPipeline []domain.Stage
	whenNotMatched      string
	err                 error
}

// Merge writes the results into the named collection.
func Merge(coll string) MergeStage {
	t, err := nameTarget("$merge", coll)
	return MergeStage{into: t, err: err}
}

// MergeType writes the results into the collection of entity type t.
func MergeType(t reflect.Type) MergeStage {
	target, err := typeTarget("$merge", t)
	return MergeStage{into: target, err: err}
}

// Database returns a copy of s writing to another database.
func (s MergeStage) Database(db string) MergeStage {
	s.into.Database = db
	return s
}

// On returns a copy of s matching existing documents by fields.
func (s MergeStage) On(fields ...string) MergeStage {
	s.on = appendClip(s.on, fields...)
	return s
}

// Let returns a copy of s with variables usable by the matched pipeline.
func (s MergeStage) Let(vars ...expr.Named) MergeStage {
	s.let = appendClip(s.let, vars...)
	return s
}

// WhenMatched returns a copy of s applying action to matched documents.
func (s MergeStage) WhenMatched(action string) MergeStage {
	s.whenMatched = action
	s.whenMatchedPipeline = nil
	return s
}

// WhenMatchedPipeline returns a copy of s updating matched documents with
// stages.
func (s MergeStage) WhenMatchedPipeline(stages ...domain.Stage) MergeStage {
	s.whenMatched = ""
	s.whenMatchedPipeline = appendClip(s.whenMatchedPipeline, stages...)
	return s
}

// WhenNotMatched returns a copy of s applying action to unmatched results.
func (s MergeStage) WhenNotMatched(action string) MergeStage {
	s.whenNotMatched = action
	return s
}

// StageName implements [domain.Stage].
func (MergeStage) StageName() string { return "$merge" }

// Into returns the output collection.
func (s MergeStage) Into() Target { return s.into }

// OnFields returns the fields identifying matching documents.
func (s MergeStage) OnFields() []string { return s.on }

// Variables returns the variables available to the matched pipeline.
func (s MergeStage) Variables() []expr.Named { return s.let }

// MatchedAction returns the action for matching documents.
func (s MergeStage) MatchedAction() string { return s.whenMatched }

// MatchedPipeline returns the pipeline applied to matching documents, if any.
func (s MergeStage) MatchedPipeline() []domain.Stage { return s.whenMatchedPipeline }

// NotMatchedAction returns the action for unmatched documents.
func (s MergeStage) NotMatchedAction() string { return s.whenNotMatched }

// Err implements [domain.Stage].
func (s MergeStage) Err() error {
	if s.err != nil {
		return s.err
	}
	return firstErr(s.whenMatchedPipeline)
}
