// Package mediator answers find requests over composite entities: it
// resolves the entities a request needs, plans and runs their retrieval,
// and projects the assembled documents for the caller.
package mediator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/docmediator/docmediator/internal/assemble"
	"github.com/docmediator/docmediator/internal/build"
	mediatorErrors "github.com/docmediator/docmediator/internal/errors"
	"github.com/docmediator/docmediator/internal/plan"
	"github.com/docmediator/docmediator/internal/planner"
	"github.com/docmediator/docmediator/pkg/access"
	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/logger"
	"github.com/docmediator/docmediator/pkg/metadata"
	"github.com/docmediator/docmediator/pkg/projection"
	"github.com/docmediator/docmediator/pkg/query"
	"github.com/docmediator/docmediator/pkg/telemetry"
)

var tracer = otel.Tracer("internal/mediator")

const (
	DefaultBulkParallelism = 8
	DefaultPlanCacheSize   = 1000
	DefaultPlanCacheTTL    = 10 * time.Minute

	adaptiveIndexingInitialGuess = time.Millisecond
	bulkReleaseTimeout           = 5 * time.Second
)

var (
	requestDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:                       build.ProjectName,
		Name:                            "request_duration_ms",
		Help:                            "The request duration (in ms) labeled by operation, finder and status.",
		Buckets:                         []float64{1, 5, 10, 25, 50, 100, 200, 300, 1000, 5000},
		NativeHistogramBucketFactor:     1.1,
		NativeHistogramMaxBucketNumber:  100,
		NativeHistogramMinResetDuration: time.Hour,
	}, []string{"operation", "finder", "status"})

	returnedDocumentsHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: build.ProjectName,
		Name:      "find_returned_documents",
		Help:      "The number of documents returned by a find request.",
		Buckets:   []float64{0, 1, 10, 100, 1000, 5000, 10000},
	})
)

// Mediator is the entry point for find, explain and bulk requests.
type Mediator struct {
	registry   metadata.Registry
	retrievers Retrievers
	access     access.Evaluator
	logger     logger.Logger

	batchSize            int
	memoryIndexThreshold int
	adaptiveIndexing     bool
	assemblyParallelism  int
	memoryThreshold      int64
	bulkParallelism      int
	planCacheSize        int64
	planCacheTTL         time.Duration
	bruteForceLimit      int

	finders   finderConfig
	planCache *plan.PlanCache
	bulkPool  *ants.Pool
}

// Option configures a Mediator.
type Option func(*Mediator)

func WithLogger(l logger.Logger) Option {
	return func(m *Mediator) {
		m.logger = l
	}
}

// WithAccessEvaluator replaces the role based evaluator.
func WithAccessEvaluator(ev access.Evaluator) Option {
	return func(m *Mediator) {
		m.access = ev
	}
}

// WithBatchSize sets how many parent slots share one child retrieval.
func WithBatchSize(n int) Option {
	return func(m *Mediator) {
		m.batchSize = n
	}
}

// WithMemoryIndexThreshold sets the batch slot count above which children
// are matched through an in-memory index. A negative value disables it.
func WithMemoryIndexThreshold(n int) Option {
	return func(m *Mediator) {
		m.memoryIndexThreshold = n
	}
}

// WithAdaptiveIndexing lets batches eligible for the in-memory index learn
// whether the index or a scan is faster.
func WithAdaptiveIndexing(enabled bool) Option {
	return func(m *Mediator) {
		m.adaptiveIndexing = enabled
	}
}

// WithAssemblyParallelism bounds how many associations of one node are
// assembled at once.
func WithAssemblyParallelism(n int) Option {
	return func(m *Mediator) {
		m.assemblyParallelism = n
	}
}

// WithMemoryThreshold fails requests retrieving more than n bytes of
// documents. Zero disables the check.
func WithMemoryThreshold(n int64) Option {
	return func(m *Mediator) {
		m.memoryThreshold = n
	}
}

// WithBulkParallelism bounds how many bulk entries run at once.
func WithBulkParallelism(n int) Option {
	return func(m *Mediator) {
		m.bulkParallelism = n
	}
}

// WithPlanCache sets the size and entry lifetime of the search plan cache.
// A size of zero disables the cache.
func WithPlanCache(size int64, ttl time.Duration) Option {
	return func(m *Mediator) {
		m.planCacheSize = size
		m.planCacheTTL = ttl
	}
}

// WithBruteForceLimit bounds how many associations the search plan chooser
// tries in both directions.
func WithBruteForceLimit(n int) Option {
	return func(m *Mediator) {
		m.bruteForceLimit = n
	}
}

// New returns a mediator reading entity metadata from registry and
// documents from retrievers.
func New(registry metadata.Registry, retrievers Retrievers, opts ...Option) (*Mediator, error) {
	m := &Mediator{
		registry:             registry,
		retrievers:           retrievers,
		logger:               logger.NewNoopLogger(),
		batchSize:            assemble.DefaultBatchSize,
		memoryIndexThreshold: assemble.DefaultMemoryIndexThreshold,
		assemblyParallelism:  assemble.DefaultParallelism,
		bulkParallelism:      DefaultBulkParallelism,
		planCacheSize:        DefaultPlanCacheSize,
		planCacheTTL:         DefaultPlanCacheTTL,
		bruteForceLimit:      plan.DefaultBruteForceLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.access == nil {
		ev, err := access.NewRoleEvaluator()
		if err != nil {
			return nil, err
		}
		m.access = ev
	}

	searchOpts := []plan.ChooserOption{plan.WithLogger(m.logger)}
	if m.planCacheSize > 0 {
		c, err := plan.NewPlanCache(m.planCacheSize, m.planCacheTTL)
		if err != nil {
			return nil, err
		}
		m.planCache = c
		searchOpts = append(searchOpts, plan.WithPlanCache(c))
	}

	assembly := []assemble.AssemblerOption{
		assemble.WithBatchSize(m.batchSize),
		assemble.WithMemoryIndexThreshold(m.memoryIndexThreshold),
		assemble.WithParallelism(m.assemblyParallelism),
	}
	if m.adaptiveIndexing {
		assembly = append(assembly, assemble.WithAdaptiveIndexing(planner.New(adaptiveIndexingInitialGuess)))
	}
	m.finders = finderConfig{
		retrievers: retrievers,
		search:     plan.NewChooser(plan.NewBruteForce(m.bruteForceLimit), plan.IndexedFieldScorer{}, searchOpts...),
		retrieval:  plan.NewChooser(plan.First{}, plan.SimpleScorer{}, plan.WithLogger(m.logger)),
		assembly:   assembly,
	}

	if m.bulkParallelism < 1 {
		m.bulkParallelism = DefaultBulkParallelism
	}
	pool, err := ants.NewPool(m.bulkParallelism, ants.WithPanicHandler(func(v any) {
		m.logger.Error("bulk entry panic", zap.Any("panic", v))
	}))
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("creating bulk pool: %w", err)
	}
	m.bulkPool = pool
	return m, nil
}

// Close releases the plan cache and the bulk workers.
func (m *Mediator) Close() {
	if m.bulkPool != nil {
		if err := m.bulkPool.ReleaseTimeout(bulkReleaseTimeout); err != nil {
			m.logger.Warn("releasing bulk pool", zap.Error(err))
		}
	}
	if m.planCache != nil {
		m.planCache.Close()
	}
}

// prepared is a find request resolved against metadata.
type prepared struct {
	root     *metadata.CompositeEntity
	finder   Finder
	excluded []document.Path
	kind     string
}

// prepare resolves the composite entity a request needs and checks the
// caller may read it and every field its query reads.
func (m *Mediator) prepare(ctx context.Context, op *OperationContext, req *FindRequest) (*prepared, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	entity, err := m.registry.Entity(ctx, req.Entity, req.Version)
	if err != nil {
		return nil, unknownEntity(err)
	}
	ok, err := m.access.HasEntityAccess(entity, access.Find, op.Roles)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: find %s", mediatorErrors.ErrNoAccess, entity.Key())
	}

	root, err := metadata.Composite(ctx, m.registry, entity.Name, entity.Version, requiredReferences(req))
	if err != nil {
		return nil, unknownEntity(err)
	}
	excluded, err := access.CompositeExcludedFields(m.access, root, access.Find, op.Roles)
	if err != nil {
		return nil, err
	}
	if p, ok := access.Readable(excluded, query.Fields(req.Query)); !ok {
		return nil, fmt.Errorf("%w: query field %s", mediatorErrors.ErrNoAccess, p)
	}

	if len(root.Children()) == 0 {
		return &prepared{root: root, finder: newSimpleFinder(entity, m.retrievers), excluded: excluded, kind: "simple"}, nil
	}
	return &prepared{root: root, finder: newCompositeFinder(root, m.finders), excluded: excluded, kind: "composite"}, nil
}

func unknownEntity(err error) error {
	if errors.Is(err, metadata.ErrUnknownEntity) {
		return mediatorErrors.With(err, mediatorErrors.ErrUnknownEntity)
	}
	return err
}

// requiredReferences resolves the references the projection may include
// and those holding a field the query reads.
func requiredReferences(req *FindRequest) metadata.IncludeReference {
	fields := query.Fields(req.Query)
	return func(ref document.Path) bool {
		if req.Projection != nil && projection.MayInclude(req.Projection, ref) {
			return true
		}
		for _, f := range fields {
			if len(f) > len(ref) && f.MatchesPatternPrefix(ref) {
				return true
			}
		}
		return false
	}
}

func (m *Mediator) start(ctx context.Context, operation string, req *FindRequest) (context.Context, *OperationContext, trace.Span) {
	op := NewOperationContext(req.Roles, m.memoryThreshold, m.logger)
	name := req.Entity
	if req.Version != "" {
		name += ":" + req.Version
	}
	ctx = mediatorErrors.WithOperation(ctx, operation+"("+name+")")
	ctx = logger.ContextWithFields(ctx, zap.String("request_id", op.RequestID))
	ctx, span := tracer.Start(ctx, "mediator."+operation, trace.WithAttributes(
		attribute.String("entity", name),
		attribute.String("request_id", op.RequestID),
	))
	return ctx, op, span
}

// Find returns the documents of the requested entity matching the request
// query, projected for the caller's roles. Failures are reported in the
// response.
func (m *Mediator) Find(ctx context.Context, req *FindRequest) *Response {
	start := time.Now()
	ctx, op, span := m.start(ctx, "find", req)
	defer span.End()

	kind := "none"
	resp := func() *Response {
		p, err := m.prepare(ctx, op, req)
		if err != nil {
			op.AddError(ctx, err)
			return m.response(op, req, nil, nil)
		}
		kind = p.kind
		result, err := p.finder.Find(ctx, op, req)
		if err != nil && !errors.Is(err, mediatorErrors.ErrResultTooLarge) {
			op.AddError(ctx, err)
		}
		return m.response(op, req, p, result)
	}()

	if resp.Status == StatusError {
		span.SetAttributes(attribute.Int("errors", len(resp.Errors)))
		op.Logger.DebugWithContext(ctx, "find failed", zap.Any("errors", resp.Errors))
	}
	requestDurationHistogram.WithLabelValues("find", kind, string(resp.Status)).Observe(float64(time.Since(start).Milliseconds()))
	returnedDocumentsHistogram.Observe(float64(len(resp.Documents)))
	return resp
}

// response builds the response of a find. Request errors drop every
// document; documents with data errors are replaced by their errors.
func (m *Mediator) response(op *OperationContext, req *FindRequest, p *prepared, result *findResult) *Response {
	resp := &Response{
		RequestID: op.RequestID,
		Entity:    req.Entity,
		Version:   req.Version,
		Status:    StatusComplete,
		Documents: []document.Doc{},
	}
	if p != nil {
		resp.Entity, resp.Version = p.root.Entity.Name, p.root.Entity.Version
	}
	if result != nil {
		resp.MatchCount = result.matchCount
	}
	if op.HasErrors() {
		resp.Status = StatusError
		resp.Errors = op.Errors()
		return resp
	}
	if result == nil {
		return resp
	}

	proj := req.Projection
	if proj == nil {
		proj = projection.All
	}
	projector := projection.New(projection.WithExclusions(proj, p.excluded), p.root, projection.WithLogger(op.Logger))
	for _, d := range result.docs {
		if errs := d.TreeErrors(); len(errs) > 0 {
			de := &DataError{Entity: p.root.Entity.Name, ID: d.ID}
			for _, err := range errs {
				de.Errors = append(de.Errors, mediatorErrors.Annotate(context.Background(), err))
			}
			resp.DataErrors = append(resp.DataErrors, de)
			continue
		}
		resp.Documents = append(resp.Documents, projector.Project(d.Doc))
		resp.ResultMetadata = append(resp.ResultMetadata, ResultMetadata{ID: d.ID})
	}
	if len(resp.DataErrors) > 0 {
		resp.Status = StatusPartial
	}
	return resp
}

// Explain returns the plans a find request would run, one document per
// phase.
func (m *Mediator) Explain(ctx context.Context, req *FindRequest) *Response {
	start := time.Now()
	ctx, op, span := m.start(ctx, "explain", req)
	defer span.End()

	kind := "none"
	resp := &Response{
		RequestID: op.RequestID,
		Entity:    req.Entity,
		Version:   req.Version,
		Status:    StatusError,
		Documents: []document.Doc{},
	}
	p, err := m.prepare(ctx, op, req)
	if err == nil {
		kind = p.kind
		resp.Entity, resp.Version = p.root.Entity.Name, p.root.Entity.Version
		var docs []document.Doc
		docs, err = p.finder.Explain(ctx, op, req)
		if err == nil {
			resp.Status = StatusComplete
			resp.Documents = docs
			resp.MatchCount = len(docs)
		}
	}
	if err != nil {
		telemetry.TraceError(span, err)
		op.AddError(ctx, err)
		resp.Errors = op.Errors()
	}
	requestDurationHistogram.WithLabelValues("explain", kind, string(resp.Status)).Observe(float64(time.Since(start).Milliseconds()))
	return resp
}
