package expr

import (
	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Accumulators, usable in $group, $bucket, $bucketAuto and $setWindowFields.

func Sum(v any) OperatorExpr { return op1("$sum", v) }
func Avg(v any) OperatorExpr { return op1("$avg", v) }
func Max(v any) OperatorExpr { return op1("$max", v) }
func Min(v any) OperatorExpr { return op1("$min", v) }
func Push(v any) OperatorExpr { return op1("$push", v) }
func AddToSet(v any) OperatorExpr { return op1("$addToSet", v) }
func StdDevPop(v any) OperatorExpr { return op1("$stdDevPop", v) }
func StdDevSamp(v any) OperatorExpr { return op1("$stdDevSamp", v) }
func MergeObjectsAcc(v any) OperatorExpr { return op1("$mergeObjects", v) }

// Count counts the documents of each group.
func Count() OperatorExpr { return op0("$count") }

// FirstN returns the first n values of input in each group.
func FirstN(input, n any) OperatorExpr {
	return opNamed("$firstN", As("input", input), As("n", n))
}

// LastN returns the last n values of input in each group.
func LastN(input, n any) OperatorExpr {
	return opNamed("$lastN", As("input", input), As("n", n))
}

// Top returns output of the first document of each group by sortBy.
func Top(sortBy bson.D, output any) OperatorExpr {
	return opNamed("$top", As("sortBy", sortBy), As("output", output))
}

// Bottom returns output of the last document of each group by sortBy.
func Bottom(sortBy bson.D, output any) OperatorExpr {
	return opNamed("$bottom", As("sortBy", sortBy), As("output", output))
}

// TopN returns output of the first n documents of each group by sortBy.
func TopN(sortBy bson.D, output, n any) OperatorExpr {
	return opNamed("$topN", As("sortBy", sortBy), As("output", output), As("n", n))
}

// BottomN returns output of the last n documents of each group by sortBy.
func BottomN(sortBy bson.D, output, n any) OperatorExpr {
	return opNamed("$bottomN", As("sortBy", sortBy), As("output", output), As("n", n))
}

// Median returns the approximate median of input.
func Median(input any) OperatorExpr {
	return opNamed("$median", As("input", input), As("method", "approximate"))
}

// Percentile returns the approximate percentiles p of input.
func Percentile(input any, p ...float64) OperatorExpr {
	ps := make([]any, len(p))
	for i, v := range p {
		ps[i] = v
	}
	return opNamed("$percentile", As("input", input), As("p", Array(ps...)), As("method", "approximate"))
}

// Window functions, only valid in $setWindowFields.

func Rank() OperatorExpr { return op0("$rank") }
func DenseRank() OperatorExpr { return op0("$denseRank") }
func DocumentNumber() OperatorExpr { return op0("$documentNumber") }
func Locf(v any) OperatorExpr { return op1("$locf", v) }
func LinearFill(v any) OperatorExpr { return op1("$linearFill", v) }
func CovariancePop(a, b any) OperatorExpr { return opN("$covariancePop", a, b) }
func CovarianceSamp(a, b any) OperatorExpr { return opN("$covarianceSamp", a, b) }

// Shift returns output of the document by positions away from the current
// one, or def when there is none.
func Shift(output any, by int, def any) OperatorExpr {
	return opNamed("$shift", As("output", output), As("by", by), As("default", def))
}

// Derivative returns the rate of change of input, per unit when set.
func Derivative(input any, unit string) OperatorExpr {
	var u any
	if unit != "" {
		u = unit
	}
	return opNamed("$derivative", As("input", input), As("unit", u))
}

// Integral returns the area under input, per unit when set.
func Integral(input any, unit string) OperatorExpr {
	var u any
	if unit != "" {
		u = unit
	}
	return opNamed("$integral", As("input", input), As("unit", u))
}

// ExpMovingAvg returns the exponential moving average of input over n
// documents.
func ExpMovingAvg(input any, n int) OperatorExpr {
	return opNamed("$expMovingAvg", As("input", input), As("N", n))
}

// WindowExpr is a window function with its window bounds.
type WindowExpr struct {
	fn        domain.Expression
	documents []any
	rng       []any
	unit      string
}

// Window returns fn computed over the whole partition until bounds are
// set.
func Window(fn domain.Expression) WindowExpr {
	return WindowExpr{fn: fn}
}

// Documents returns a copy of the window bounded by document positions,
// relative to the current one, or "unbounded" and "current".
func (w WindowExpr) Documents(lower, upper any) WindowExpr {
	w.documents = []any{lower, upper}
	return w
}

// Range returns a copy of the window bounded by values of the sort field. A
// non empty unit makes the bounds time offsets.
func (w WindowExpr) Range(lower, upper any, unit string) WindowExpr {
	w.rng = []any{lower, upper}
	w.unit = unit
	return w
}

// Render implements [domain.Expression].
func (w WindowExpr) Render(ctx *domain.RenderContext) (any, error) {
	v, err := Render(ctx, w.fn)
	if err != nil {
		return nil, err
	}
	doc, ok := v.(bson.D)
	if !ok {
		return nil, &domain.ValidationError{Operation: "window", Reason: "window function must render as a document"}
	}
	doc = append(bson.D{}, doc...)
	window := bson.D{}
	if w.documents != nil {
		window = append(window, bson.E{Key: "documents", Value: bson.A(w.documents)})
	}
	if w.rng != nil {
		window = append(window, bson.E{Key: "range", Value: bson.A(w.rng)})
		if w.unit != "" {
			window = append(window, bson.E{Key: "unit", Value: w.unit})
		}
	}
	if len(window) > 0 {
		doc = append(doc, bson.E{Key: "window", Value: window})
	}
	return doc, nil
}
