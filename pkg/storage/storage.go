// Package storage defines how the mediator reads and writes the documents of
// an entity, and keeps the backends entities are served from.
//
//go:generate mockgen -source storage.go -destination ../../internal/mocks/mock_storage.go -package mocks Datastore
package storage

import (
	"context"
	"fmt"

	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/metadata"
	"github.com/docmediator/docmediator/pkg/query"
)

// Range selects the documents at positions From to To, both inclusive and
// zero based.
type Range struct {
	From int
	To   int
}

// NewRange returns the range between from and to, or nil when both are nil.
// Setting only one bound is an error.
func NewRange(from, to *int) (*Range, error) {
	switch {
	case from == nil && to == nil:
		return nil, nil
	case from == nil || to == nil:
		return nil, fmt.Errorf("%w: from and to must be set together", ErrInvalidRange)
	case *from < 0 || *to < *from:
		return nil, fmt.Errorf("%w: from=%d to=%d", ErrInvalidRange, *from, *to)
	}
	return &Range{From: *from, To: *to}, nil
}

// ApplyRange returns the items selected by r. A nil range selects all.
func ApplyRange[T any](items []T, r *Range) []T {
	if r == nil {
		return items
	}
	if r.From >= len(items) {
		return nil
	}
	return items[r.From:min(r.To+1, len(items))]
}

// FindOptions narrows a retrieval.
type FindOptions struct {
	Sort  query.Sort
	Range *Range
}

// FindResult holds the retrieved documents and how many documents matched
// before the range was applied.
type FindResult struct {
	Docs       []document.Doc
	MatchCount int
}

// SortAndRange sorts the matching docs and applies the range of opts.
func SortAndRange(docs []document.Doc, opts FindOptions) *FindResult {
	if len(opts.Sort) > 0 {
		query.Apply(opts.Sort, docs, func(d document.Doc) any { return d })
	}
	return &FindResult{
		Docs:       ApplyRange(docs, opts.Range),
		MatchCount: len(docs),
	}
}

// Retriever finds the documents of an entity. Returned documents belong to
// the caller, who may modify them.
type Retriever interface {
	// Find returns the documents of entity matching q, a nil q matching all.
	// Documents come in insertion order unless opts sorts them.
	Find(ctx context.Context, entity *metadata.Entity, q query.Expression, opts FindOptions) (*FindResult, error)
}

// Writer stores documents of an entity. A document replaces the stored
// document with the same identity.
type Writer interface {
	Write(ctx context.Context, entity *metadata.Entity, docs []document.Doc) error
}

// ReadinessStatus tells whether a datastore can serve requests.
type ReadinessStatus struct {
	Message string
	IsReady bool
}

// Datastore is a backend the mediator reads entities from.
type Datastore interface {
	Retriever
	Writer

	// IsReady reports whether the datastore is reachable and migrated.
	IsReady(ctx context.Context) (ReadinessStatus, error)

	// Close releases the datastore's resources.
	Close()
}
