package assemble

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/docmediator/docmediator/internal/build"
	"github.com/docmediator/docmediator/internal/concurrency"
	mediatorErrors "github.com/docmediator/docmediator/internal/errors"
	"github.com/docmediator/docmediator/internal/plan"
	"github.com/docmediator/docmediator/internal/planner"
	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/logger"
	"github.com/docmediator/docmediator/pkg/query"
	"github.com/docmediator/docmediator/pkg/telemetry"
)

var tracer = otel.Tracer("internal/assemble")

const (
	DefaultBatchSize            = 256
	DefaultMemoryIndexThreshold = 16
	DefaultParallelism          = 9

	strategyIndex  = "index"
	strategyScan   = "scan"
	strategyAlways = "always"
)

var (
	matchStrategyCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "assembly_batch_count",
		Help:      "The total number of association batches matched, by strategy.",
	}, []string{"strategy"})

	attachedChildrenCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "assembled_children_count",
		Help:      "The total number of child documents attached to parent slots.",
	})
)

// Executor retrieves documents of one plan node. q is the association
// condition the documents must satisfy; the executor adds the node's own
// constraints. A nil q asks for every document satisfying those.
type Executor interface {
	Retrieve(ctx context.Context, q query.Expression) ([]*ResultDoc, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, q query.Expression) ([]*ResultDoc, error)

func (f ExecutorFunc) Retrieve(ctx context.Context, q query.Expression) ([]*ResultDoc, error) {
	return f(ctx, q)
}

// Executors finds the executor of a plan node.
type Executors func(n *plan.Node) (Executor, bool)

// Assembler joins source documents with their destinations.
type Assembler struct {
	executors            Executors
	batchSize            int
	memoryIndexThreshold int
	parallelism          int
	planner              *planner.Planner
	logger               logger.Logger
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithBatchSize sets how many slots share one retrieval.
func WithBatchSize(n int) AssemblerOption {
	return func(a *Assembler) {
		a.batchSize = n
	}
}

// WithMemoryIndexThreshold sets the slot count above which a batch is
// matched through an in-memory index. A negative threshold disables the
// index.
func WithMemoryIndexThreshold(n int) AssemblerOption {
	return func(a *Assembler) {
		a.memoryIndexThreshold = n
	}
}

// WithParallelism bounds how many destination edges are assembled at once.
func WithParallelism(n int) AssemblerOption {
	return func(a *Assembler) {
		a.parallelism = n
	}
}

// WithAdaptiveIndexing lets p choose between the index and a scan for
// batches eligible for the index.
func WithAdaptiveIndexing(p *planner.Planner) AssemblerOption {
	return func(a *Assembler) {
		a.planner = p
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) AssemblerOption {
	return func(a *Assembler) {
		a.logger = l
	}
}

// New returns an assembler retrieving through executors.
func New(executors Executors, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		executors:            executors,
		batchSize:            DefaultBatchSize,
		memoryIndexThreshold: DefaultMemoryIndexThreshold,
		parallelism:          DefaultParallelism,
		logger:               logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.batchSize < 1 {
		a.batchSize = DefaultBatchSize
	}
	return a
}

// attachment is the outcome of matching one slot.
type attachment struct {
	parent   *ResultDoc
	slot     Slot
	children []*ResultDoc
}

// edgeResult is what one destination edge task produced. It is applied to
// the documents only after every task of the source finished.
type edgeResult struct {
	edge        *plan.Edge
	attachments []attachment
	children    []*ResultDoc
	docErrors   []docError
}

type docError struct {
	doc *ResultDoc
	err error
}

// Assemble retrieves the documents of every destination reached from source
// by a parent to child edge, and attaches them to the slots of docs. It
// returns the attached documents per destination node, each document once,
// in retrieval order.
//
// Every destination edge runs as its own task. Assemble waits for all of
// them and returns the first failure; documents are only modified when all
// tasks succeeded.
func (a *Assembler) Assemble(ctx context.Context, source *plan.Node, docs []*ResultDoc) (map[*plan.Node][]*ResultDoc, error) {
	ctx, span := tracer.Start(ctx, "assemble.Assemble", trace.WithAttributes(
		attribute.String("source", source.String()),
		attribute.Int("documents", len(docs)),
	))
	defer span.End()

	var edges []*plan.Edge
	for _, e := range source.Destinations() {
		if e.Forward() {
			edges = append(edges, e)
		}
	}
	results := make([]*edgeResult, len(edges))

	p := concurrency.NewJoinPool(a.parallelism)
	for i, e := range edges {
		p.Go(func() error {
			exec, ok := a.executors(e.To)
			if !ok || exec == nil {
				return fmt.Errorf("%w: %s", mediatorErrors.ErrMissingExecutor, e.To)
			}
			r, err := a.assembleEdge(ctx, e, docs, exec)
			if err != nil {
				return fmt.Errorf("assembling %s: %w", e, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	out := make(map[*plan.Node][]*ResultDoc, len(results))
	for _, r := range results {
		r.apply()
		out[r.edge.To] = r.children
	}
	return out, nil
}

// AttachPrefetched attaches children already retrieved for the child end of
// e to the slots of parents. It is used for edges walked from child to
// parent, once both ends are known. It returns the children attached at
// least once.
func (a *Assembler) AttachPrefetched(ctx context.Context, e *plan.Edge, parents, children []*ResultDoc) []*ResultDoc {
	_, span := tracer.Start(ctx, "assemble.AttachPrefetched", trace.WithAttributes(
		attribute.String("edge", e.String()),
		attribute.Int("parents", len(parents)),
		attribute.Int("children", len(children)),
	))
	defer span.End()

	r := &edgeResult{edge: e}
	assoc := e.Association
	if assoc.Empty() {
		return nil
	}
	var slots []parentSlot
	for _, d := range parents {
		ss, err := Slots(d.Doc, assoc.ReferencePath(), assoc)
		if err != nil {
			r.docErrors = append(r.docErrors, docError{doc: d, err: err})
			continue
		}
		for _, s := range ss {
			slots = append(slots, parentSlot{parent: d, slot: s})
		}
	}
	a.match(e, slots, children, r)
	r.collectChildren()
	r.apply()
	return r.children
}

type parentSlot struct {
	parent *ResultDoc
	slot   Slot
}

func (a *Assembler) assembleEdge(ctx context.Context, e *plan.Edge, docs []*ResultDoc, exec Executor) (*edgeResult, error) {
	ctx, span := tracer.Start(ctx, "assemble.edge", trace.WithAttributes(
		attribute.String("edge", e.String()),
	))
	defer span.End()

	r := &edgeResult{edge: e}
	assoc := e.Association
	if assoc.Empty() {
		return r, nil
	}

	var slots []parentSlot
	for _, d := range docs {
		ss, err := Slots(d.Doc, assoc.ReferencePath(), assoc)
		if err != nil {
			r.docErrors = append(r.docErrors, docError{doc: d, err: err})
			continue
		}
		for _, s := range ss {
			slots = append(slots, parentSlot{parent: d, slot: s})
		}
	}
	if len(slots) == 0 {
		return r, nil
	}

	// Documents retrieved by several batches are kept once, so every parent
	// holding them shares the same instance.
	seen := map[string]*ResultDoc{}
	dedup := func(candidates []*ResultDoc) []*ResultDoc {
		out := make([]*ResultDoc, len(candidates))
		for i, c := range candidates {
			key := c.ID.Key()
			if prev, ok := seen[key]; ok {
				out[i] = prev
				continue
			}
			seen[key] = c
			out[i] = c
		}
		return out
	}

	if assoc.AlwaysTrue {
		candidates, err := exec.Retrieve(ctx, nil)
		if err != nil {
			telemetry.TraceError(span, err)
			return nil, err
		}
		a.match(e, slots, dedup(candidates), r)
		r.collectChildren()
		return r, nil
	}

	for start := 0; start < len(slots); start += a.batchSize {
		batch := slots[start:min(start+a.batchSize, len(slots))]
		candidates, err := exec.Retrieve(ctx, combine(batch))
		if err != nil {
			telemetry.TraceError(span, err)
			return nil, err
		}
		a.match(e, batch, dedup(candidates), r)
	}
	r.collectChildren()
	a.logger.Debug("association assembled",
		zap.String("edge", e.String()),
		zap.Int("slots", len(slots)),
		zap.Int("children", len(r.children)))
	return r, nil
}

// combine ORs the distinct bound queries of a batch.
func combine(batch []parentSlot) query.Expression {
	seen := make(map[string]bool, len(batch))
	var terms []query.Expression
	for _, ps := range batch {
		key := query.String(ps.slot.Query)
		if seen[key] {
			continue
		}
		seen[key] = true
		terms = append(terms, ps.slot.Query)
	}
	return query.AnyOf(terms...)
}

// match finds the candidates of every slot of the batch.
func (a *Assembler) match(e *plan.Edge, batch []parentSlot, candidates []*ResultDoc, r *edgeResult) {
	assoc := e.Association
	if assoc.AlwaysTrue {
		matchStrategyCounter.WithLabelValues(strategyAlways).Inc()
		for _, ps := range batch {
			r.attach(ps, candidates)
		}
		return
	}

	strategy := strategyScan
	eligible := assoc.KeySpec != nil && a.memoryIndexThreshold >= 0 && len(batch) > a.memoryIndexThreshold
	var kp *planner.KeyPlan
	if eligible {
		strategy = strategyIndex
		if a.planner != nil {
			kp = a.planner.GetKeyPlan(e.AbsoluteReference().String() + "@" + e.Parent.Entity.String())
			strategy = kp.Select([]string{strategyIndex, strategyScan})
		}
	}
	matchStrategyCounter.WithLabelValues(strategy).Inc()

	start := time.Now()
	var idx *memoryIndex
	if strategy == strategyIndex {
		idx = newMemoryIndex(assoc.KeySpec, candidates)
	}
	for _, ps := range batch {
		positions := allPositions(len(candidates))
		if idx != nil {
			positions = idx.lookup(ps.slot)
		}
		var matched []*ResultDoc
		for _, i := range positions {
			ok, err := query.Evaluate(ps.slot.Query, candidates[i].Doc)
			if err != nil {
				r.docErrors = append(r.docErrors, docError{
					doc: ps.parent,
					err: fmt.Errorf("%w: evaluating %s at %s: %w", mediatorErrors.ErrData, e, ps.slot.Path, err),
				})
				matched = nil
				break
			}
			if ok {
				matched = append(matched, candidates[i])
			}
		}
		r.attach(ps, matched)
	}
	if kp != nil {
		kp.Observe(strategy, time.Since(start))
	}
}

func allPositions(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func (r *edgeResult) attach(ps parentSlot, children []*ResultDoc) {
	r.attachments = append(r.attachments, attachment{parent: ps.parent, slot: ps.slot, children: children})
}

// collectChildren lists the attached children, each once, in the order they
// were first attached.
func (r *edgeResult) collectChildren() {
	seen := map[*ResultDoc]bool{}
	for _, at := range r.attachments {
		for _, c := range at.children {
			if !seen[c] {
				seen[c] = true
				r.children = append(r.children, c)
			}
		}
	}
}

// apply writes the attachments into the parent documents.
func (r *edgeResult) apply() {
	sort := r.edge.Association.Reference.Sort
	for _, de := range r.docErrors {
		de.doc.AddError(de.err)
	}
	for _, at := range r.attachments {
		children := at.children
		if len(sort) > 0 {
			children = append([]*ResultDoc(nil), children...)
			query.Apply(sort, children, func(d *ResultDoc) any { return d.Doc })
		}
		arr, _ := document.Get(at.parent.Doc, at.slot.Path)
		list, _ := arr.([]any)
		for _, c := range children {
			list = append(list, c.Doc)
		}
		if list == nil {
			list = []any{}
		}
		if err := document.Set(at.parent.Doc, at.slot.Path, list); err != nil {
			at.parent.AddError(fmt.Errorf("%w: attaching %s: %w", mediatorErrors.ErrData, at.slot.Path, err))
			continue
		}
		at.parent.addChildren(children)
		attachedChildrenCounter.Add(float64(len(children)))
	}
}
