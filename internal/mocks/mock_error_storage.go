package mocks

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/metadata"
	"github.com/docmediator/docmediator/pkg/query"
	"github.com/docmediator/docmediator/pkg/storage"
)

// ErrSimulated is returned by datastores built with NewErrorAfterDataStorage.
var ErrSimulated = errors.New("simulated errors")

// errorDataStorage serves the first finds from ds and fails every later one.
type errorDataStorage struct {
	ds    storage.Datastore
	okay  int64
	calls atomic.Int64
}

var _ storage.Datastore = (*errorDataStorage)(nil)

// NewErrorAfterDataStorage returns a wrapper of ds whose finds succeed n
// times and then return ErrSimulated.
func NewErrorAfterDataStorage(ds storage.Datastore, n int) storage.Datastore {
	return &errorDataStorage{ds: ds, okay: int64(n)}
}

func (m *errorDataStorage) Close() {}

func (m *errorDataStorage) Find(ctx context.Context, entity *metadata.Entity, q query.Expression, opts storage.FindOptions) (*storage.FindResult, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if m.calls.Add(1) > m.okay {
		return nil, fmt.Errorf("%w: find %s", ErrSimulated, entity.Key())
	}
	return m.ds.Find(ctx, entity, q, opts)
}

func (m *errorDataStorage) Write(ctx context.Context, entity *metadata.Entity, docs []document.Doc) error {
	return m.ds.Write(ctx, entity, docs)
}

func (m *errorDataStorage) IsReady(ctx context.Context) (storage.ReadinessStatus, error) {
	return m.ds.IsReady(ctx)
}
