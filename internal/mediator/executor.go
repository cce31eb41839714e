package mediator

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/docmediator/docmediator/internal/assemble"
	mediatorErrors "github.com/docmediator/docmediator/internal/errors"
	"github.com/docmediator/docmediator/internal/plan"
	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/metadata"
	"github.com/docmediator/docmediator/pkg/query"
	"github.com/docmediator/docmediator/pkg/storage"
	"github.com/docmediator/docmediator/pkg/telemetry"
)

// Retrievers finds the backend serving an entity.
type Retrievers interface {
	Retriever(entity *metadata.Entity) (storage.Retriever, error)
}

var _ Retrievers = (*storage.Registry)(nil)

// nodeExecutor retrieves and holds the documents of one plan node.
type nodeExecutor struct {
	node      *plan.Node
	retriever storage.Retriever
	op        *OperationContext
	executors map[*plan.Node]*nodeExecutor

	// opts applies when the node is retrieved directly rather than through
	// the assembly of its entity parent.
	opts storage.FindOptions
	// keepOriginals keeps a copy of every directly retrieved document as it
	// was before anything got attached to it.
	keepOriginals bool

	constraintOnce sync.Once
	constraint     query.Expression

	ready      bool
	docs       []*assemble.ResultDoc
	originals  map[*assemble.ResultDoc]document.Doc
	matchCount int
}

var _ assemble.Executor = (*nodeExecutor)(nil)

func newExecutors(p *plan.QueryPlan, retrievers Retrievers, op *OperationContext) (map[*plan.Node]*nodeExecutor, error) {
	out := make(map[*plan.Node]*nodeExecutor, len(p.Nodes))
	for _, n := range p.Nodes {
		r, err := retrievers.Retriever(n.Entity.Entity)
		if err != nil {
			return nil, mediatorErrors.With(fmt.Errorf("%s: %w", n, err), mediatorErrors.ErrMissingExecutor)
		}
		out[n] = &nodeExecutor{node: n, retriever: r, op: op, executors: out}
	}
	return out, nil
}

// childConstraint binds the inverted associations of the children walked
// towards this node with the documents found for them. Those children are
// complete by the time the node is retrieved.
func (x *nodeExecutor) childConstraint() query.Expression {
	x.constraintOnce.Do(func() {
		var terms []query.Expression
		for _, e := range x.node.ReversedSources() {
			children := x.executors[e.From].docs
			docs := make([]document.Doc, len(children))
			for i, c := range children {
				docs[i] = c.Doc
			}
			terms = append(terms, query.BindChildren(e.Association.Inverted, docs))
		}
		x.constraint = query.AllOf(terms...)
	})
	return x.constraint
}

// Retrieve is called by the assembly of the node's entity parent with the
// bound association condition.
func (x *nodeExecutor) Retrieve(ctx context.Context, q query.Expression) ([]*assemble.ResultDoc, error) {
	docs, _, err := x.find(ctx, q, storage.FindOptions{})
	return docs, err
}

func (x *nodeExecutor) find(ctx context.Context, q query.Expression, opts storage.FindOptions) ([]*assemble.ResultDoc, int, error) {
	ctx, span := tracer.Start(ctx, "mediator.retrieve", trace.WithAttributes(
		attribute.String("node", x.node.String()),
	))
	defer span.End()

	full := query.AllOf(q, x.node.LocalQuery, x.childConstraint())
	res, err := x.retriever.Find(ctx, x.node.Entity.Entity, full, opts)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, 0, fmt.Errorf("retrieving %s: %w", x.node, err)
	}
	out := make([]*assemble.ResultDoc, 0, len(res.Docs))
	for _, d := range res.Docs {
		if err := x.op.AddMemory(ctx, document.Size(d)); err != nil {
			return nil, 0, err
		}
		out = append(out, assemble.NewResultDoc(d, x.node))
	}
	span.SetAttributes(attribute.Int("documents", len(out)))
	return out, res.MatchCount, nil
}

// retrieveDirectly fills a node no entity parent supplies.
func (x *nodeExecutor) retrieveDirectly(ctx context.Context) error {
	docs, count, err := x.find(ctx, nil, x.opts)
	if err != nil {
		return err
	}
	if x.keepOriginals {
		x.originals = make(map[*assemble.ResultDoc]document.Doc, len(docs))
		for _, d := range docs {
			x.originals[d] = document.Copy(d.Doc).(map[string]any)
		}
	}
	x.docs, x.matchCount, x.ready = docs, count, true
	return nil
}

// supply hands the node documents found by the assembly of its entity
// parent, or by an earlier phase.
func (x *nodeExecutor) supply(docs []*assemble.ResultDoc) {
	x.docs, x.ready = docs, true
}
