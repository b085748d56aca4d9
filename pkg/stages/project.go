package stages

import (
	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/expr"
)

// ProjectField is one field of a $project stage: an inclusion, an exclusion or
// a computed expression.
type ProjectField struct {
	Field   string
	Include bool
	Exclude bool
	Expr    domain.Expression
}

// ProjectStage is $project. It either includes or excludes fields; computed
// fields count as inclusions and _id can always be excluded.
type ProjectStage struct {
	fields []ProjectField
	err    error
}

// Project reshapes documents.
func Project() ProjectStage { return ProjectStage{} }

// Include returns a copy of s keeping fields.
func (s ProjectStage) Include(fields ...string) ProjectStage {
	for _, f := range fields {
		s = s.with(ProjectField{Field: f, Include: true})
	}
	return s
}

// Exclude returns a copy of s dropping fields.
func (s ProjectStage) Exclude(fields ...string) ProjectStage {
	for _, f := range fields {
		s = s.with(ProjectField{Field: f, Exclude: true})
	}
	return s
}

// SuppressID returns a copy of s dropping _id.
func (s ProjectStage) SuppressID() ProjectStage {
	return s.with(ProjectField{Field: "_id", Exclude: true})
}

// Field returns a copy of s computing e into name.
func (s ProjectStage) Field(name string, e domain.Expression) ProjectStage {
	return s.with(ProjectField{Field: name, Include: true, Expr: e})
}

func (s ProjectStage) with(f ProjectField) ProjectStage {
	s.fields = appendClip(s.fields, f)
	if s.err != nil || f.Field == "_id" {
		return s
	}
	for _, prev := range s.fields[:len(s.fields)-1] {
		if prev.Field != "_id" && prev.Exclude != f.Exclude {
			s.err = &domain.MixedProjectionError{Field: f.Field}
			break
		}
	}
	return s
}

// StageName implements [domain.Stage].
func (ProjectStage) StageName() string { return "$project" }

// Fields returns the projected fields.
func (s ProjectStage) Fields() []ProjectField { return s.fields }

// Err implements [domain.Stage].
func (s ProjectStage) Err() error {
	if s.err != nil {
		return s.err
	}
	if len(s.fields) == 0 {
		return &domain.ValidationError{Operation: "$project", Reason: "at least one field is required"}
	}
	return nil
}

// AddFieldsStage is $addFields, or its alias $set.
type AddFieldsStage struct {
	name   string
	fields []expr.Named
}

// AddFields adds computed fields to documents.
func AddFields(fields ...expr.Named) AddFieldsStage {
	return AddFieldsStage{name: "$addFields", fields: fields}
}

// Set is an alias of [AddFields] rendered as $set.
func Set(fields ...expr.Named) AddFieldsStage {
	return AddFieldsStage{name: "$set", fields: fields}
}

// Field returns a copy of s also computing e into name.
func (s AddFieldsStage) Field(name string, e any) AddFieldsStage {
	s.fields = appendClip(s.fields, expr.As(name, e))
	return s
}

// StageName implements [domain.Stage].
func (s AddFieldsStage) StageName() string { return s.name }

// Fields returns the added fields.
func (s AddFieldsStage) Fields() []expr.Named { return s.fields }

// Err implements [domain.Stage].
func (s AddFieldsStage) Err() error {
	if len(s.fields) == 0 {
		return &domain.ValidationError{Operation: s.name, Reason: "at least one field is required"}
	}
	return nil
}

// ReplaceRootStage is $replaceRoot, or $replaceWith. The new root is either
// one expression or a document of named fields, never both.
type ReplaceRootStage struct {
	name   string
	root   domain.Expression
	fields []expr.Named
	err    error
}

// ReplaceRoot replaces each document with e.
func ReplaceRoot(e domain.Expression) ReplaceRootStage {
	return ReplaceRootStage{name: "$replaceRoot", root: e}
}

// ReplaceWith replaces each document with e, rendered as $replaceWith.
func ReplaceWith(e domain.Expression) ReplaceRootStage {
	return ReplaceRootStage{name: "$replaceWith", root: e}
}

// Root returns a copy of s using e as the new root.
func (s ReplaceRootStage) Root(e domain.Expression) ReplaceRootStage {
	if len(s.fields) > 0 {
		s.err = &domain.MixedModesError{Stage: s.name}
	}
	s.root = e
	return s
}

// Field returns a copy of s adding name to a new root document.
func (s ReplaceRootStage) Field(name string, e any) ReplaceRootStage {
	if s.root != nil {
		s.err = &domain.MixedModesError{Stage: s.name}
	}
	s.fields = appendClip(s.fields, expr.As(name, e))
	return s
}

// StageName implements [domain.Stage].
func (s ReplaceRootStage) StageName() string { return s.name }

// RootExpression returns the new root expression, if any.
func (s ReplaceRootStage) RootExpression() domain.Expression { return s.root }

// Fields returns the fields of a new root built from named fields.
func (s ReplaceRootStage) Fields() []expr.Named { return s.fields }

// Err implements [domain.Stage].
func (s ReplaceRootStage) Err() error {
	if s.err != nil {
		return s.err
	}
	if s.root == nil && len(s.fields) == 0 {
		return &domain.ValidationError{Operation: s.name, Reason: "a new root is required"}
	}
	return nil
}
