package mediator_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	mediatorErrors "github.com/docmediator/docmediator/internal/errors"
	"github.com/docmediator/docmediator/internal/mediator"
	"github.com/docmediator/docmediator/internal/mocks"
	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/query"
)

// insertEntry writes one address when executed.
type insertEntry struct {
	env      env
	doc      document.Doc
	running  *atomic.Int32
	overlaps *atomic.Int32
}

func (e *insertEntry) ReadOnly() bool { return false }

func (e *insertEntry) Execute(ctx context.Context, _ *mediator.Mediator) *mediator.Response {
	if e.running.Load() > 0 {
		e.overlaps.Add(1)
	}
	ent, err := e.env.registry.Entity(ctx, "address", "")
	if err != nil {
		return &mediator.Response{Status: mediator.StatusError}
	}
	if err := e.env.ds.Write(ctx, ent, []document.Doc{e.doc}); err != nil {
		return &mediator.Response{Status: mediator.StatusError}
	}
	return &mediator.Response{Entity: "address", Status: mediator.StatusComplete, MatchCount: 1, Documents: []document.Doc{}}
}

// countingEntry is a find that tracks how many finds run at once.
type countingEntry struct {
	mediator.FindEntry
	running *atomic.Int32
	peak    *atomic.Int32
}

func (e *countingEntry) Execute(ctx context.Context, m *mediator.Mediator) *mediator.Response {
	n := e.running.Add(1)
	defer e.running.Add(-1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return e.FindEntry.Execute(ctx, m)
}

func addressFind() *mediator.FindRequest {
	return &mediator.FindRequest{Entity: "address", Sort: query.MustParseSort(`{"field":"_id","order":"asc"}`)}
}

func TestBulkOrdered(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e := newEnv(t)
	m := e.mediator(t, mocks.NewMockSlowDataStorage(e.ds, 20*time.Millisecond),
		mediator.WithPlanCache(0, 0), mediator.WithBulkParallelism(4))

	var running, peak, overlaps atomic.Int32
	find := func() mediator.BulkEntry {
		return &countingEntry{FindEntry: mediator.FindEntry{Request: addressFind()}, running: &running, peak: &peak}
	}
	resp := m.Bulk(context.Background(), &mediator.BulkRequest{
		Ordered: true,
		Entries: []mediator.BulkEntry{
			find(),
			find(),
			&insertEntry{env: e, doc: document.Doc{"_id": "a4", "city": "Nice"}, running: &running, overlaps: &overlaps},
			find(),
			find(),
		},
	})

	require.Len(t, resp.Entries, 5)
	for _, r := range resp.Entries {
		require.Equal(t, mediator.StatusComplete, r.Status, r.Errors)
	}
	require.Equal(t, 3, resp.Entries[0].MatchCount)
	require.Equal(t, 3, resp.Entries[1].MatchCount)
	require.Equal(t, 4, resp.Entries[3].MatchCount)
	require.Equal(t, 4, resp.Entries[4].MatchCount)
	require.Equal(t, int32(0), overlaps.Load())
	require.Equal(t, int32(2), peak.Load())
	m.Close()
}

func TestBulkUnordered(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e := newEnv(t)
	m := e.mediator(t, mocks.NewMockSlowDataStorage(e.ds, 20*time.Millisecond),
		mediator.WithPlanCache(0, 0), mediator.WithBulkParallelism(8))

	var running, peak atomic.Int32
	entries := make([]mediator.BulkEntry, 0, 6)
	for range 5 {
		entries = append(entries, &countingEntry{FindEntry: mediator.FindEntry{Request: addressFind()}, running: &running, peak: &peak})
	}
	entries = append(entries, &mediator.ExplainEntry{Request: &mediator.FindRequest{Entity: "nope"}})

	resp := m.Bulk(context.Background(), &mediator.BulkRequest{Entries: entries})

	require.Len(t, resp.Entries, 6)
	for _, r := range resp.Entries[:5] {
		require.Equal(t, mediator.StatusComplete, r.Status, r.Errors)
		require.Equal(t, "a1", r.Documents[0]["_id"])
	}
	require.Equal(t, mediator.StatusError, resp.Entries[5].Status)
	require.Equal(t, []mediatorErrors.Code{mediatorErrors.CodeUnknownEntity}, errorCodes(resp.Entries[5]))
	require.Greater(t, peak.Load(), int32(1))
	m.Close()
}

func TestBulkRequestJSON(t *testing.T) {
	var req mediator.BulkRequest
	err := json.Unmarshal([]byte(`{
		"ordered": true,
		"requests": [
			{"op": "find", "request": {"entity": "address", "query": {"field": "city", "op": "=", "rvalue": "Paris"}}},
			{"op": "explain", "request": {"entity": "user", "from": 0, "to": 9}}
		]
	}`), &req)
	require.NoError(t, err)
	require.True(t, req.Ordered)
	require.Len(t, req.Entries, 2)

	req.SetRoles([]string{"admin"})
	find, ok := req.Entries[0].(*mediator.FindEntry)
	require.True(t, ok)
	require.Equal(t, "address", find.Request.Entity)
	require.Equal(t, []string{"admin"}, find.Request.Roles)
	require.True(t, find.ReadOnly())

	explain, ok := req.Entries[1].(*mediator.ExplainEntry)
	require.True(t, ok)
	require.Equal(t, 9, *explain.Request.To)
	require.Equal(t, []string{"admin"}, explain.Request.Roles)

	tests := map[string]string{
		`unknown_op`:      `{"requests":[{"op":"delete","request":{"entity":"user"}}]}`,
		`invalid_query`:   `{"requests":[{"op":"find","request":{"entity":"user","query":{"op":"="}}}]}`,
		`invalid_payload`: `{"requests":{}}`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			var req mediator.BulkRequest
			err := json.Unmarshal([]byte(payload), &req)
			require.ErrorIs(t, err, mediatorErrors.ErrInvalidRequest)
		})
	}
}

func TestBulkResponseJSON(t *testing.T) {
	e := newEnv(t)
	m := e.mediator(t, nil)

	resp := m.Bulk(context.Background(), &mediator.BulkRequest{Entries: []mediator.BulkEntry{
		&mediator.FindEntry{Request: &mediator.FindRequest{Entity: "nope"}},
	}})
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded struct {
		Responses []struct {
			Status    string `json:"status"`
			Processed []any  `json:"processed"`
			Errors    []struct {
				ErrorCode string `json:"errorCode"`
				Context   string `json:"context"`
			} `json:"errors"`
		} `json:"responses"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Responses, 1)
	require.Equal(t, "ERROR", decoded.Responses[0].Status)
	require.Empty(t, decoded.Responses[0].Processed)
	require.Equal(t, "metadata:UnknownEntity", decoded.Responses[0].Errors[0].ErrorCode)
	require.Equal(t, "find(nope)", decoded.Responses[0].Errors[0].Context)
}
