package mediator

import (
	"context"
	"fmt"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/docmediator/docmediator/internal/assemble"
	mediatorErrors "github.com/docmediator/docmediator/internal/errors"
	"github.com/docmediator/docmediator/internal/plan"
	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/metadata"
	"github.com/docmediator/docmediator/pkg/query"
	"github.com/docmediator/docmediator/pkg/storage"
	"github.com/docmediator/docmediator/pkg/telemetry"
)

// Finder runs a find request over one resolved composite entity.
type Finder interface {
	Find(ctx context.Context, op *OperationContext, req *FindRequest) (*findResult, error)
	Explain(ctx context.Context, op *OperationContext, req *FindRequest) ([]document.Doc, error)
}

// findResult holds the root documents of a find, with their fragments
// attached, and how many root documents matched before the range.
type findResult struct {
	docs       []*assemble.ResultDoc
	matchCount int
}

// finderConfig is what finders share across requests.
type finderConfig struct {
	retrievers Retrievers
	search     *plan.Chooser
	retrieval  *plan.Chooser
	assembly   []assemble.AssemblerOption
}

// MinimalEntities returns the entities needed to evaluate q: the owner of
// every field q reads, their ancestors and root, in pre-order.
func MinimalEntities(root *metadata.CompositeEntity, q query.Expression) []*metadata.CompositeEntity {
	want := map[*metadata.CompositeEntity]bool{root: true}
	for _, f := range query.Fields(q) {
		for e := root.EntityOfPath(f); e != nil && !want[e]; e = e.Parent() {
			want[e] = true
		}
	}
	out := make([]*metadata.CompositeEntity, 0, len(want))
	for _, ce := range root.All() {
		if want[ce] {
			out = append(out, ce)
		}
	}
	return out
}

// CompositeFinder finds documents of an entity with resolved references.
// When the query reads fields of other entities, a search plan first
// locates the matching root documents; a retrieval plan then fetches the
// fragments to return with them.
type CompositeFinder struct {
	root *metadata.CompositeEntity
	cfg  finderConfig
}

var _ Finder = (*CompositeFinder)(nil)

func newCompositeFinder(root *metadata.CompositeEntity, cfg finderConfig) *CompositeFinder {
	return &CompositeFinder{root: root, cfg: cfg}
}

func (f *CompositeFinder) Find(ctx context.Context, op *OperationContext, req *FindRequest) (*findResult, error) {
	ctx, span := tracer.Start(ctx, "mediator.CompositeFinder.Find", trace.WithAttributes(
		attribute.String("entity", f.root.Entity.Key()),
	))
	defer span.End()

	rng, err := req.Range()
	if err != nil {
		return nil, err
	}

	minimal := MinimalEntities(f.root, req.Query)
	op.Logger.DebugWithContext(ctx, "composite find",
		zap.String("entity", f.root.Entity.Key()),
		zap.Int("minimal_entities", len(minimal)))

	var searched []*assemble.ResultDoc
	matchCount := 0
	searchRan := len(minimal) > 1
	if searchRan {
		searched, matchCount, err = f.search(mediatorErrors.WithOperation(ctx, "search"), op, req, minimal, rng)
		if err != nil {
			telemetry.TraceError(span, err)
			return nil, err
		}
		op.Logger.DebugWithContext(ctx, "composite search complete",
			zap.Int("match_count", matchCount),
			zap.Int("selected", len(searched)))
	}

	rctx := mediatorErrors.WithOperation(ctx, "retrieve")
	var q query.Expression
	if !searchRan {
		q = req.Query
	}
	p, err := f.cfg.retrieval.Choose(f.root, nil, q)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	executors, err := newExecutors(p, f.cfg.retrievers, op)
	if err != nil {
		return nil, err
	}
	root := executors[p.RootNode()]
	if searchRan {
		docs := make([]*assemble.ResultDoc, len(searched))
		for i, d := range searched {
			docs[i] = assemble.NewResultDoc(d.Doc, p.RootNode())
			for _, e := range d.TreeErrors() {
				docs[i].AddError(e)
			}
		}
		root.supply(docs)
	} else {
		root.opts = storage.FindOptions{Sort: req.Sort, Range: rng}
		if err := root.retrieveDirectly(rctx); err != nil {
			telemetry.TraceError(span, err)
			return nil, err
		}
		matchCount = root.matchCount
	}

	if len(root.docs) == 0 {
		return &findResult{matchCount: matchCount}, nil
	}
	if err := f.execute(rctx, op, p, executors); err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	op.Logger.DebugWithContext(ctx, "composite retrieval complete", zap.Int("documents", len(root.docs)))
	return &findResult{docs: root.docs, matchCount: matchCount}, nil
}

// search runs the search plan over minimal and returns the matching root
// documents, sorted and ranged, as they were retrieved. It also returns
// the number of matches before the range.
func (f *CompositeFinder) search(ctx context.Context, op *OperationContext, req *FindRequest, minimal []*metadata.CompositeEntity, rng *storage.Range) ([]*assemble.ResultDoc, int, error) {
	p, err := f.cfg.search.Choose(f.root, minimal, req.Query)
	if err != nil {
		return nil, 0, err
	}
	executors, err := newExecutors(p, f.cfg.retrievers, op)
	if err != nil {
		return nil, 0, err
	}

	rootNode := p.RootNode()
	root := executors[rootNode]
	root.keepOriginals = true
	// With sources, the root documents depend on what the children
	// retrieved, so sort and range wait until they are all known.
	hasSources := !rootNode.IsRoot()
	if !hasSources {
		root.opts.Sort = req.Sort
	}
	if err := f.execute(ctx, op, p, executors); err != nil {
		return nil, 0, err
	}

	unique := linkedhashmap.New()
	for _, d := range root.docs {
		key := d.ID.Key()
		if _, found := unique.Get(key); !found {
			unique.Put(key, d)
		}
	}
	matched := make([]*assemble.ResultDoc, 0, unique.Size())
	for _, v := range unique.Values() {
		d := v.(*assemble.ResultDoc)
		ok, err := query.Evaluate(req.Query, d.Doc)
		if err != nil {
			return nil, 0, mediatorErrors.With(fmt.Errorf("evaluating query: %w", err), mediatorErrors.ErrInvalidRequest)
		}
		if ok {
			matched = append(matched, d)
		}
	}
	if hasSources && len(req.Sort) > 0 {
		query.Apply(req.Sort, matched, func(d *assemble.ResultDoc) any { return d.Doc })
	}
	count := len(matched)
	matched = storage.ApplyRange(matched, rng)

	out := make([]*assemble.ResultDoc, len(matched))
	for i, d := range matched {
		out[i] = &assemble.ResultDoc{Doc: root.originals[d], ID: d.ID, Node: d.Node}
		for _, e := range d.TreeErrors() {
			out[i].AddError(e)
		}
	}
	return out, count, nil
}

// execute runs a plan level by level. Nodes of one level run concurrently
// and every node of a level finishes before the next level starts. A node
// first gets its documents, unless its entity parent or an earlier phase
// supplied them, then attaches the children walked towards it and
// assembles the destinations it supplies.
func (f *CompositeFinder) execute(ctx context.Context, op *OperationContext, p *plan.QueryPlan, executors map[*plan.Node]*nodeExecutor) error {
	opts := append([]assemble.AssemblerOption{assemble.WithLogger(op.Logger)}, f.cfg.assembly...)
	asm := assemble.New(func(n *plan.Node) (assemble.Executor, bool) {
		x, ok := executors[n]
		return x, ok
	}, opts...)

	for i, level := range p.BreadthFirstOrdering() {
		var g errgroup.Group
		for _, n := range level {
			x := executors[n]
			g.Go(func() error {
				nctx := mediatorErrors.WithOperation(ctx, "node("+n.Entity.Name()+")")
				if err := f.executeNode(nctx, asm, x); err != nil {
					return mediatorErrors.Annotate(nctx, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		op.Logger.DebugWithContext(ctx, "plan level executed", zap.Int("level", i), zap.Int("nodes", len(level)))
	}
	return nil
}

func (f *CompositeFinder) executeNode(ctx context.Context, asm *assemble.Assembler, x *nodeExecutor) error {
	n := x.node
	if !x.ready {
		if n.ForwardSource() != nil {
			return fmt.Errorf("%w: %s was not supplied by its parent", mediatorErrors.ErrPlanning, n)
		}
		if err := x.retrieveDirectly(ctx); err != nil {
			return err
		}
	}
	for _, e := range n.ReversedSources() {
		asm.AttachPrefetched(ctx, e, x.docs, x.executors[e.From].docs)
	}
	actx := mediatorErrors.WithOperation(ctx, "assemble")
	children, err := asm.Assemble(actx, n, x.docs)
	if err != nil {
		return mediatorErrors.Annotate(actx, err)
	}
	for dest, docs := range children {
		x.executors[dest].supply(docs)
	}
	return nil
}

func (f *CompositeFinder) Explain(ctx context.Context, op *OperationContext, req *FindRequest) ([]document.Doc, error) {
	minimal := MinimalEntities(f.root, req.Query)
	var out []document.Doc
	q := req.Query
	if len(minimal) > 1 {
		p, err := f.cfg.search.Choose(f.root, minimal, req.Query)
		if err != nil {
			return nil, err
		}
		out = append(out, explainPlan("search", p))
		q = nil
	}
	p, err := f.cfg.retrieval.Choose(f.root, nil, q)
	if err != nil {
		return nil, err
	}
	out = append(out, explainPlan("retrieval", p))
	op.Logger.DebugWithContext(ctx, "composite explain", zap.Int("plans", len(out)))
	return out, nil
}

func explainPlan(phase string, p *plan.QueryPlan) document.Doc {
	return document.Doc{
		"phase": phase,
		"plan":  p.Describe(),
		"tree":  p.String(),
	}
}
