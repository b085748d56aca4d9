// Package expr builds aggregation expressions.
//
// Every constructor accepting an operand of type any wraps values that are not
// already a [domain.Expression] with [Value], so plain Go values can be mixed
// with field references:
//
//	expr.Add(expr.Field("price"), 10)
package expr

import (
	"strings"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// FieldExpr references a document field. Its path is translated when
// rendered.
type FieldExpr struct {
	path string
}

// Field references the field at path, which may start with "$".
func Field(path string) FieldExpr {
	return FieldExpr{path: strings.TrimPrefix(path, "$")}
}

// Path returns the unresolved path.
func (f FieldExpr) Path() string { return f.path }

// Render implements [domain.Expression].
func (f FieldExpr) Render(ctx *domain.RenderContext) (any, error) {
	target, err := ctx.Resolve(f.path)
	if err != nil {
		return nil, err
	}
	return "$" + target.Path, nil
}

// ValueExpr is a constant.
type ValueExpr struct {
	value any
}

// Value returns a constant expression. Mapped entities are encoded as
// documents.
func Value(v any) ValueExpr {
	return ValueExpr{value: v}
}

// Render implements [domain.Expression].
func (v ValueExpr) Render(ctx *domain.RenderContext) (any, error) {
	return ctx.Encode(domain.PathTarget{}, v.value)
}

// Literal returns v wrapped in $literal, so that strings starting with "$"
// are not parsed as field paths.
func Literal(v any) domain.Expression {
	return op1("$literal", Value(v))
}

// VariableExpr references a system or user variable.
type VariableExpr struct {
	name string
}

// Var references the user variable with the given name.
func Var(name string) VariableExpr {
	return VariableExpr{name: strings.TrimPrefix(name, "$$")}
}

// System variables.
var (
	Root        = Var("ROOT")
	Current     = Var("CURRENT")
	Now         = Var("NOW")
	ClusterTime = Var("CLUSTER_TIME")
	Remove      = Var("REMOVE")
	Descend     = Var("DESCEND")
	Prune       = Var("PRUNE")
	Keep        = Var("KEEP")
)

// Field references a field of the document held by the variable.
func (v VariableExpr) Field(path string) VariableExpr {
	return VariableExpr{name: v.name + "." + path}
}

// Render implements [domain.Expression].
func (v VariableExpr) Render(*domain.RenderContext) (any, error) {
	return "$$" + v.name, nil
}

// Named pairs a name with an expression.
type Named struct {
	Name string
	Expr domain.Expression
}

// As names the expression v.
func As(name string, v any) Named {
	return Named{Name: name, Expr: toExpr(v)}
}

// DocumentExpr is a document of named expressions, rendered in order.
type DocumentExpr struct {
	fields []Named
}

// Document returns a document expression.
func Document(fields ...Named) DocumentExpr {
	return DocumentExpr{fields: fields}
}

// Fields returns the named expressions of the document.
func (d DocumentExpr) Fields() []Named { return d.fields }

// Render implements [domain.Expression].
func (d DocumentExpr) Render(ctx *domain.RenderContext) (any, error) {
	return RenderNamed(ctx, d.fields)
}

// RenderNamed renders named expressions into a document, keeping their
// names.
func RenderNamed(ctx *domain.RenderContext, fields []Named) (bson.D, error) {
	doc := make(bson.D, 0, len(fields))
	for _, f := range fields {
		v, err := Render(ctx, f.Expr)
		if err != nil {
			return nil, err
		}
		doc = append(doc, bson.E{Key: f.Name, Value: v})
	}
	return doc, nil
}

// ArrayExpr is an array of expressions.
type ArrayExpr struct {
	items []domain.Expression
}

// Array returns an array expression.
func Array(items ...any) ArrayExpr {
	return ArrayExpr{items: toExprs(items)}
}

// Render implements [domain.Expression].
func (a ArrayExpr) Render(ctx *domain.RenderContext) (any, error) {
	return renderList(ctx, a.items)
}

// Let binds variables for in.
func Let(vars []Named, in any) domain.Expression {
	return opNamed("$let", As("vars", Document(vars...)), As("in", in))
}

// Render renders e, rendering nil as a null value.
func Render(ctx *domain.RenderContext, e domain.Expression) (any, error) {
	if e == nil {
		return nil, nil
	}
	return e.Render(ctx)
}

// OperatorExpr applies an operator to its arguments.
type OperatorExpr struct {
	name string
	args []domain.Expression
	// list renders args as an array even when there is only one.
	list bool
	// named renders a document of named arguments.
	named []Named
}

// Operator applies any operator to args, rendering {name: [args...]}. It
// covers operators with no dedicated constructor.
func Operator(name string, args ...any) OperatorExpr {
	return OperatorExpr{name: name, args: toExprs(args), list: true}
}

// OperatorName returns the operator, such as "$sum".
func (o OperatorExpr) OperatorName() string { return o.name }

// Render implements [domain.Expression].
func (o OperatorExpr) Render(ctx *domain.RenderContext) (any, error) {
	var value any
	var err error
	switch {
	case o.named != nil:
		value, err = RenderNamed(ctx, o.named)
	case o.list:
		value, err = renderList(ctx, o.args)
	case len(o.args) == 1:
		value, err = Render(ctx, o.args[0])
	default:
		value = bson.D{}
	}
	if err != nil {
		return nil, err
	}
	return bson.D{{Key: o.name, Value: value}}, nil
}

func op1(name string, arg any) OperatorExpr {
	return OperatorExpr{name: name, args: []domain.Expression{toExpr(arg)}}
}

func opN(name string, args ...any) OperatorExpr {
	return OperatorExpr{name: name, args: toExprs(args), list: true}
}

func op0(name string) OperatorExpr {
	return OperatorExpr{name: name}
}

// opNamed drops named arguments with a nil expression.
func opNamed(name string, args ...Named) OperatorExpr {
	named := make([]Named, 0, len(args))
	for _, a := range args {
		if a.Expr != nil {
			named = append(named, a)
		}
	}
	return OperatorExpr{name: name, named: named}
}

func renderList(ctx *domain.RenderContext, items []domain.Expression) (bson.A, error) {
	out := make(bson.A, 0, len(items))
	for _, e := range items {
		v, err := Render(ctx, e)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func toExpr(v any) domain.Expression {
	switch t := v.(type) {
	case nil:
		return nil
	case domain.Expression:
		return t
	}
	return Value(v)
}

func toExprs(vs []any) []domain.Expression {
	out := make([]domain.Expression, len(vs))
	for i, v := range vs {
		out[i] = toExpr(v)
	}
	return out
}

