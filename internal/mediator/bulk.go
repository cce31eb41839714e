package mediator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/docmediator/docmediator/internal/build"
	mediatorErrors "github.com/docmediator/docmediator/internal/errors"
)

var bulkEntriesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: build.ProjectName,
	Name:      "bulk_entries_count",
	Help:      "The total number of bulk entries executed, labeled by kind and ordering.",
}, []string{"kind", "ordered"})

// BulkEntry is one request of a bulk request.
type BulkEntry interface {
	// ReadOnly entries of an ordered bulk request may run concurrently with
	// their read-only neighbours.
	ReadOnly() bool
	Execute(ctx context.Context, m *Mediator) *Response
}

// FindEntry runs a find.
type FindEntry struct {
	Request *FindRequest
}

func (e *FindEntry) ReadOnly() bool { return true }

func (e *FindEntry) Execute(ctx context.Context, m *Mediator) *Response {
	return m.Find(ctx, e.Request)
}

// ExplainEntry runs an explain.
type ExplainEntry struct {
	Request *FindRequest
}

func (e *ExplainEntry) ReadOnly() bool { return true }

func (e *ExplainEntry) Execute(ctx context.Context, m *Mediator) *Response {
	return m.Explain(ctx, e.Request)
}

// BulkRequest is a list of requests answered together. Ordered requests
// see the effects of every earlier mutating entry.
type BulkRequest struct {
	Entries []BulkEntry
	Ordered bool
}

type bulkEntryJSON struct {
	Op      string          `json:"op"`
	Request json.RawMessage `json:"request"`
}

type bulkRequestJSON struct {
	Ordered  bool            `json:"ordered"`
	Requests []bulkEntryJSON `json:"requests"`
}

func (b *BulkRequest) UnmarshalJSON(data []byte) error {
	var raw bulkRequestJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %w", mediatorErrors.ErrInvalidRequest, err)
	}
	out := BulkRequest{Ordered: raw.Ordered, Entries: make([]BulkEntry, 0, len(raw.Requests))}
	for i, r := range raw.Requests {
		req := &FindRequest{}
		if err := json.Unmarshal(r.Request, req); err != nil {
			return fmt.Errorf("request %d: %w", i, err)
		}
		switch r.Op {
		case "find":
			out.Entries = append(out.Entries, &FindEntry{Request: req})
		case "explain":
			out.Entries = append(out.Entries, &ExplainEntry{Request: req})
		default:
			return fmt.Errorf("%w: request %d: unknown op %q", mediatorErrors.ErrInvalidRequest, i, r.Op)
		}
	}
	*b = out
	return nil
}

// SetRoles gives every find and explain entry the caller's roles.
func (b *BulkRequest) SetRoles(roles []string) {
	for _, e := range b.Entries {
		switch e := e.(type) {
		case *FindEntry:
			e.Request.Roles = roles
		case *ExplainEntry:
			e.Request.Roles = roles
		}
	}
}

// BulkResponse holds one response per entry, in request order.
type BulkResponse struct {
	Entries []*Response `json:"responses"`
}

// Bulk runs the entries of req on the bulk worker pool. Unordered entries
// all run concurrently. Ordered entries run concurrently only while they
// are read-only: a mutating entry waits for everything before it and
// everything after it waits for the mutating entry.
func (m *Mediator) Bulk(ctx context.Context, req *BulkRequest) *BulkResponse {
	ctx, span := tracer.Start(ctx, "mediator.Bulk", trace.WithAttributes(
		attribute.Int("entries", len(req.Entries)),
		attribute.Bool("ordered", req.Ordered),
	))
	defer span.End()

	ordered := fmt.Sprint(req.Ordered)
	out := make([]*Response, len(req.Entries))
	var wg sync.WaitGroup
	for i, e := range req.Entries {
		if req.Ordered && !e.ReadOnly() {
			wg.Wait()
			out[i] = e.Execute(ctx, m)
			bulkEntriesCounter.WithLabelValues("mutating", ordered).Inc()
			continue
		}
		wg.Add(1)
		err := m.bulkPool.Submit(func() {
			defer wg.Done()
			out[i] = e.Execute(ctx, m)
		})
		if err != nil {
			wg.Done()
			out[i] = m.bulkFailure(ctx, e, err)
		}
		bulkEntriesCounter.WithLabelValues(entryKind(e), ordered).Inc()
	}
	wg.Wait()

	for i, r := range out {
		if r == nil {
			out[i] = m.bulkFailure(ctx, req.Entries[i], fmt.Errorf("bulk entry %d did not complete", i))
		}
	}
	m.logger.DebugWithContext(ctx, "bulk complete", zap.Int("entries", len(out)), zap.Bool("ordered", req.Ordered))
	return &BulkResponse{Entries: out}
}

func (m *Mediator) bulkFailure(ctx context.Context, e BulkEntry, err error) *Response {
	req := &FindRequest{}
	switch e := e.(type) {
	case *FindEntry:
		req = e.Request
	case *ExplainEntry:
		req = e.Request
	}
	return errorResponse(req, mediatorErrors.Annotate(mediatorErrors.WithOperation(ctx, "bulk"), err))
}

func entryKind(e BulkEntry) string {
	switch e.(type) {
	case *FindEntry:
		return "find"
	case *ExplainEntry:
		return "explain"
	}
	if e.ReadOnly() {
		return "read"
	}
	return "mutating"
}
