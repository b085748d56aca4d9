package aggregation

import (
	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/expr"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/stages"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// encodeLookup resolves localField against the input documents and
// foreignField and the nested pipeline against the joined collection.
func encodeLookup(ctx *domain.RenderContext, s stages.LookupStage) (any, error) {
	from, tctx, err := target(ctx, s.From())
	if err != nil {
		return nil, err
	}
	doc := bson.D{{Key: "from", Value: from}}
	if s.LocalField() != "" {
		local, err := resolve(ctx, s.LocalField())
		if err != nil {
			return nil, err
		}
		foreign, err := resolve(tctx, s.ForeignField())
		if err != nil {
			return nil, err
		}
		doc = append(doc,
			bson.E{Key: "localField", Value: local},
			bson.E{Key: "foreignField", Value: foreign},
		)
	}
	if len(s.Variables()) > 0 {
		let, err := expr.RenderNamed(ctx, s.Variables())
		if err != nil {
			return nil, err
		}
		doc = append(doc, bson.E{Key: "let", Value: let})
	}
	if s.Stages() != nil {
		pipeline, err := EncodePipeline(tctx, s.Stages())
		if err != nil {
			return nil, err
		}
		doc = append(doc, bson.E{Key: "pipeline", Value: pipeline})
	}
	return append(doc, bson.E{Key: "as", Value: s.AsField()}), nil
}

func encodeGraphLookup(ctx *domain.RenderContext, s stages.GraphLookupStage) (any, error) {
	from, tctx, err := target(ctx, s.From())
	if err != nil {
		return nil, err
	}
	start, err := expr.Render(ctx, s.StartExpression())
	if err != nil {
		return nil, err
	}
	connectFrom, err := resolve(tctx, s.ConnectFromField())
	if err != nil {
		return nil, err
	}
	connectTo, err := resolve(tctx, s.ConnectToField())
	if err != nil {
		return nil, err
	}
	doc := bson.D{
		{Key: "from", Value: from},
		{Key: "startWith", Value: start},
		{Key: "connectFromField", Value: connectFrom},
		{Key: "connectToField", Value: connectTo},
		{Key: "as", Value: s.AsField()},
	}
	if d := s.Depth(); d != nil {
		doc = append(doc, bson.E{Key: "maxDepth", Value: *d})
	}
	if f := s.DepthFieldName(); f != "" {
		doc = append(doc, bson.E{Key: "depthField", Value: f})
	}
	if r := s.Restriction(); r != nil {
		m, err := r.Render(tctx)
		if err != nil {
			return nil, err
		}
		doc = append(doc, bson.E{Key: "restrictSearchWithMatch", Value: m})
	}
	return doc, nil
}

func encodeUnionWith(ctx *domain.RenderContext, s stages.UnionWithStage) (any, error) {
	coll, tctx, err := target(ctx, s.Collection())
	if err != nil {
		return nil, err
	}
	if s.Stages() == nil {
		return coll, nil
	}
	pipeline, err := EncodePipeline(tctx, s.Stages())
	if err != nil {
		return nil, err
	}
	return bson.D{{Key: "coll", Value: coll}, {Key: "pipeline", Value: pipeline}}, nil
}

func encodeOut(ctx *domain.RenderContext, s stages.OutStage) (any, error) {
	coll, _, err := target(ctx, s.Into())
	if err != nil {
		return nil, err
	}
	if s.Into().Database == "" {
		return coll, nil
	}
	return bson.D{{Key: "db", Value: s.Into().Database}, {Key: "coll", Value: coll}}, nil
}

func encodeMerge(ctx *domain.RenderContext, s stages.MergeStage) (any, error) {
	coll, tctx, err := target(ctx, s.Into())
	if err != nil {
		return nil, err
	}
	var into any = coll
	if db := s.Into().Database; db != "" {
		into = bson.D{{Key: "db", Value: db}, {Key: "coll", Value: coll}}
	}
	doc := bson.D{{Key: "into", Value: into}}

	if on := s.OnFields(); len(on) > 0 {
		fields, err := resolveAll(tctx, on)
		if err != nil {
			return nil, err
		}
		if len(fields) == 1 {
			doc = append(doc, bson.E{Key: "on", Value: fields[0]})
		} else {
			doc = append(doc, bson.E{Key: "on", Value: fields})
		}
	}
	if len(s.Variables()) > 0 {
		let, err := expr.RenderNamed(ctx, s.Variables())
		if err != nil {
			return nil, err
		}
		doc = append(doc, bson.E{Key: "let", Value: let})
	}
	switch {
	case s.MatchedPipeline() != nil:
		pipeline, err := EncodePipeline(tctx, s.MatchedPipeline())
		if err != nil {
			return nil, err
		}
		doc = append(doc, bson.E{Key: "whenMatched", Value: pipeline})
	case s.MatchedAction() != "":
		doc = append(doc, bson.E{Key: "whenMatched", Value: s.MatchedAction()})
	}
	if a := s.NotMatchedAction(); a != "" {
		doc = append(doc, bson.E{Key: "whenNotMatched", Value: a})
	}
	return doc, nil
}
