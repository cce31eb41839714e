package mocks

import (
	"context"
	"time"

	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/metadata"
	"github.com/docmediator/docmediator/pkg/query"
	"github.com/docmediator/docmediator/pkg/storage"
)

// slowDataStorage is a proxy to the actual ds except the finds are slowed
// down by findDelay. This allows simulating backends whose retrievals
// overlap when run concurrently.
type slowDataStorage struct {
	findDelay time.Duration
	ds        storage.Datastore
}

var _ storage.Datastore = (*slowDataStorage)(nil)

// NewMockSlowDataStorage returns a wrapper of a datastore that adds
// artificial delays into the finds of documents.
func NewMockSlowDataStorage(ds storage.Datastore, findDelay time.Duration) storage.Datastore {
	return &slowDataStorage{
		findDelay: findDelay,
		ds:        ds,
	}
}

func (m *slowDataStorage) Close() {}

func (m *slowDataStorage) Find(ctx context.Context, entity *metadata.Entity, q query.Expression, opts storage.FindOptions) (*storage.FindResult, error) {
	time.Sleep(m.findDelay)
	return m.ds.Find(ctx, entity, q, opts)
}

func (m *slowDataStorage) Write(ctx context.Context, entity *metadata.Entity, docs []document.Doc) error {
	return m.ds.Write(ctx, entity, docs)
}

func (m *slowDataStorage) IsReady(ctx context.Context) (storage.ReadinessStatus, error) {
	return m.ds.IsReady(ctx)
}
