package mediator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/docmediator/docmediator/internal/assemble"
	mediatorErrors "github.com/docmediator/docmediator/internal/errors"
	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/metadata"
	"github.com/docmediator/docmediator/pkg/query"
	"github.com/docmediator/docmediator/pkg/storage"
	"github.com/docmediator/docmediator/pkg/telemetry"
)

// SimpleFinder finds documents of an entity without resolved references.
// The whole request goes to the entity's backend in one retrieval.
type SimpleFinder struct {
	entity     *metadata.Entity
	retrievers Retrievers
}

var _ Finder = (*SimpleFinder)(nil)

func newSimpleFinder(entity *metadata.Entity, retrievers Retrievers) *SimpleFinder {
	return &SimpleFinder{entity: entity, retrievers: retrievers}
}

func (f *SimpleFinder) Find(ctx context.Context, op *OperationContext, req *FindRequest) (*findResult, error) {
	ctx, span := tracer.Start(ctx, "mediator.SimpleFinder.Find", trace.WithAttributes(
		attribute.String("entity", f.entity.Key()),
	))
	defer span.End()

	rng, err := req.Range()
	if err != nil {
		return nil, err
	}
	r, err := f.retrievers.Retriever(f.entity)
	if err != nil {
		return nil, mediatorErrors.With(fmt.Errorf("%s: %w", f.entity.Key(), err), mediatorErrors.ErrMissingExecutor)
	}
	res, err := r.Find(ctx, f.entity, req.Query, storage.FindOptions{Sort: req.Sort, Range: rng})
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, fmt.Errorf("retrieving %s: %w", f.entity.Key(), err)
	}

	out := &findResult{
		docs:       make([]*assemble.ResultDoc, 0, len(res.Docs)),
		matchCount: res.MatchCount,
	}
	for _, d := range res.Docs {
		if err := op.AddMemory(ctx, document.Size(d)); err != nil {
			return nil, err
		}
		out.docs = append(out.docs, &assemble.ResultDoc{Doc: d, ID: f.entity.IdentityOf(d)})
	}
	op.Logger.DebugWithContext(ctx, "simple find",
		zap.String("entity", f.entity.Key()),
		zap.Int("match_count", res.MatchCount),
		zap.Int("documents", len(out.docs)))
	return out, nil
}

func (f *SimpleFinder) Explain(_ context.Context, _ *OperationContext, req *FindRequest) ([]document.Doc, error) {
	doc := document.Doc{
		"phase":  "retrieval",
		"entity": f.entity.Key(),
	}
	if f.entity.Backend != "" {
		doc["backend"] = f.entity.Backend
	}
	if req.Query != nil {
		doc["query"] = query.ToValue(req.Query)
	}
	if len(req.Sort) > 0 {
		doc["sort"] = req.Sort.ToValue()
	}
	return []document.Doc{doc}, nil
}
