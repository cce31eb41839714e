// Package memory implements an in-memory datastore. It is meant for tests
// and for serving small metadata-driven data sets.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/metadata"
	"github.com/docmediator/docmediator/pkg/query"
	"github.com/docmediator/docmediator/pkg/storage"
	"github.com/docmediator/docmediator/pkg/telemetry"
)

var tracer = otel.Tracer("pkg/storage/memory")

type record struct {
	ulid string
	doc  document.Doc
}

type collection struct {
	records []*record
	byID    map[string]int
}

// MemoryBackend keeps documents per entity name in insertion order.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// Ensures that MemoryBackend implements the Datastore interface.
var _ storage.Datastore = (*MemoryBackend)(nil)

// New returns an empty in-memory datastore.
func New() *MemoryBackend {
	return &MemoryBackend{collections: map[string]*collection{}}
}

// Find see [storage.Retriever].Find.
func (s *MemoryBackend) Find(ctx context.Context, entity *metadata.Entity, q query.Expression, opts storage.FindOptions) (*storage.FindResult, error) {
	_, span := tracer.Start(ctx, "memory.Find", trace.WithAttributes(
		attribute.String("entity", entity.Name),
	))
	defer span.End()

	s.mu.RLock()
	c := s.collections[entity.Name]
	var matches []document.Doc
	if c != nil {
		for _, r := range c.records {
			ok, err := query.Evaluate(q, r.doc)
			if err != nil {
				s.mu.RUnlock()
				telemetry.TraceError(span, err)
				return nil, fmt.Errorf("evaluating query on %s: %w", entity.IdentityOf(r.doc), err)
			}
			if ok {
				matches = append(matches, document.Copy(r.doc).(map[string]any))
			}
		}
	}
	s.mu.RUnlock()

	span.SetAttributes(attribute.Int("matches", len(matches)))
	return storage.SortAndRange(matches, opts), nil
}

// Write see [storage.Writer].Write.
func (s *MemoryBackend) Write(ctx context.Context, entity *metadata.Entity, docs []document.Doc) error {
	_, span := tracer.Start(ctx, "memory.Write", trace.WithAttributes(
		attribute.String("entity", entity.Name),
		attribute.Int("documents", len(docs)),
	))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collections[entity.Name]
	if c == nil {
		c = &collection{byID: map[string]int{}}
		s.collections[entity.Name] = c
	}
	for _, d := range docs {
		d, err := roundTrip(d)
		if err != nil {
			telemetry.TraceError(span, err)
			return err
		}
		key := entity.IdentityOf(d).Key()
		if i, ok := c.byID[key]; ok {
			c.records[i].doc = d
			continue
		}
		c.byID[key] = len(c.records)
		c.records = append(c.records, &record{ulid: ulid.Make().String(), doc: d})
	}
	return nil
}

// roundTrip stores documents the way they would come back from JSON.
func roundTrip(d document.Doc) (document.Doc, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrCorruptDocument, err)
	}
	return document.Parse(b)
}

// IsReady see [storage.Datastore].IsReady.
func (s *MemoryBackend) IsReady(context.Context) (storage.ReadinessStatus, error) {
	return storage.ReadinessStatus{IsReady: true}, nil
}

// Close see [storage.Datastore].Close.
func (s *MemoryBackend) Close() {}
