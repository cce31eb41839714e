package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/metadata"
	"github.com/docmediator/docmediator/pkg/query"
)

func intp(i int) *int { return &i }

func TestNewRange(t *testing.T) {
	r, err := NewRange(nil, nil)
	require.NoError(t, err)
	require.Nil(t, r)

	r, err = NewRange(intp(2), intp(4))
	require.NoError(t, err)
	require.Equal(t, &Range{From: 2, To: 4}, r)

	for _, tc := range []struct{ from, to *int }{
		{from: intp(1)},
		{to: intp(1)},
		{from: intp(-1), to: intp(3)},
		{from: intp(4), to: intp(3)},
	} {
		_, err := NewRange(tc.from, tc.to)
		require.ErrorIs(t, err, ErrInvalidRange)
	}
}

func TestApplyRange(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	require.Equal(t, items, ApplyRange(items, nil))
	require.Equal(t, []int{2, 3, 4}, ApplyRange(items, &Range{From: 2, To: 4}))
	require.Equal(t, []int{8, 9}, ApplyRange(items, &Range{From: 8, To: 20}))
	require.Empty(t, ApplyRange(items, &Range{From: 10, To: 20}))
}

func TestSortAndRange(t *testing.T) {
	docs := []document.Doc{{"n": 3.0}, {"n": 1.0}, {"n": 2.0}}
	sort, err := query.ParseSort([]byte(`{"field":"n","order":"asc"}`))
	require.NoError(t, err)

	res := SortAndRange(docs, FindOptions{Sort: sort, Range: &Range{From: 1, To: 1}})
	require.Equal(t, 3, res.MatchCount)
	require.Equal(t, []document.Doc{{"n": 2.0}}, res.Docs)
}

type staticDatastore struct {
	Datastore
	status ReadinessStatus
	err    error
	closed bool
}

func (s *staticDatastore) IsReady(context.Context) (ReadinessStatus, error) {
	return s.status, s.err
}

func (s *staticDatastore) Close() {
	s.closed = true
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	primary := &staticDatastore{status: ReadinessStatus{IsReady: true}}
	archive := &staticDatastore{status: ReadinessStatus{IsReady: true}}

	r := NewRegistry("primary")
	r.Register("primary", primary)
	r.Register("archive", archive)
	require.Equal(t, []string{"archive", "primary"}, r.Names())

	ds, err := r.Datastore(&metadata.Entity{Name: "user", Version: "1"})
	require.NoError(t, err)
	require.Same(t, primary, ds)

	ds, err = r.Retriever(&metadata.Entity{Name: "log", Version: "1", Backend: "archive"})
	require.NoError(t, err)
	require.Same(t, archive, ds)

	_, err = r.Datastore(&metadata.Entity{Name: "x", Version: "1", Backend: "cold"})
	require.ErrorIs(t, err, ErrUnknownBackend)

	status, err := r.IsReady(ctx)
	require.NoError(t, err)
	require.True(t, status.IsReady)

	archive.status = ReadinessStatus{Message: "migrations pending"}
	status, err = r.IsReady(ctx)
	require.NoError(t, err)
	require.False(t, status.IsReady)
	require.Equal(t, "archive: migrations pending", status.Message)

	archive.err = errors.New("down")
	_, err = r.IsReady(ctx)
	require.ErrorContains(t, err, "backend archive: down")

	r.Close()
	require.True(t, primary.closed)
	require.True(t, archive.closed)
	require.Empty(t, r.Names())
}
