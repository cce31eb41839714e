package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	mediatorErrors "github.com/docmediator/docmediator/internal/errors"
	"github.com/docmediator/docmediator/internal/mediator"
	"github.com/docmediator/docmediator/internal/mocks"
	"github.com/docmediator/docmediator/pkg/server"
	"github.com/docmediator/docmediator/pkg/storage"
	"github.com/docmediator/docmediator/pkg/storage/memory"
	"github.com/docmediator/docmediator/pkg/testfixtures/catalog"
)

func newHandler(t *testing.T, opts ...server.Option) http.Handler {
	t.Helper()
	reg := catalog.Registry(t)
	ds := memory.New()
	for name, docs := range catalog.Documents() {
		ent, err := reg.Entity(context.Background(), name, "")
		require.NoError(t, err)
		require.NoError(t, ds.Write(context.Background(), ent, docs))
	}
	backends := storage.NewRegistry("memory")
	backends.Register("memory", ds)

	m, err := mediator.New(reg, backends, mediator.WithPlanCache(0, 0))
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return server.New(m, append([]server.Option{server.WithReadinessChecker(backends)}, opts...)...).Handler()
}

func post(t *testing.T, h http.Handler, path, body string, roles ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	for _, r := range roles {
		req.Header.Add(server.RolesHeader, r)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	return rec, decoded
}

func firstErrorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	errs, ok := body["errors"].([]any)
	require.True(t, ok, body)
	require.NotEmpty(t, errs)
	return errs[0].(map[string]any)["errorCode"].(string)
}

func TestFindEndpoint(t *testing.T) {
	h := newHandler(t)

	rec, body := post(t, h, "/find", `{
		"entity": "address",
		"query": {"field": "city", "op": "=", "rvalue": "Paris"},
		"sort": {"field": "_id", "order": "asc"}
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	require.Equal(t, "COMPLETE", body["status"])
	require.InDelta(t, 2, body["matchCount"], 0)

	docs := body["processed"].([]any)
	require.Len(t, docs, 2)
	require.Equal(t, "a1", docs[0].(map[string]any)["_id"])
	require.Equal(t, "a3", docs[1].(map[string]any)["_id"])
}

func TestFindEndpointErrors(t *testing.T) {
	h := newHandler(t)

	tests := []struct {
		name  string
		body  string
		roles []string
		code  int
		error mediatorErrors.Code
	}{
		{
			name:  "malformed_json",
			body:  `{"entity":`,
			code:  http.StatusBadRequest,
			error: mediatorErrors.CodeInvalidRequest,
		},
		{
			name:  "invalid_query",
			body:  `{"entity": "user", "query": {"field": "login", "op": "~~", "rvalue": "x"}}`,
			code:  http.StatusBadRequest,
			error: mediatorErrors.CodeInvalidRequest,
		},
		{
			name:  "missing_entity",
			body:  `{}`,
			code:  http.StatusBadRequest,
			error: mediatorErrors.CodeInvalidRequest,
		},
		{
			name:  "unknown_entity",
			body:  `{"entity": "nope"}`,
			code:  http.StatusNotFound,
			error: mediatorErrors.CodeUnknownEntity,
		},
		{
			name:  "restricted_query_field",
			body:  `{"entity": "user", "query": {"field": "personal.ssn", "op": "=", "rvalue": "111"}}`,
			code:  http.StatusForbidden,
			error: mediatorErrors.CodeNoAccess,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rec, body := post(t, h, "/find", test.body, test.roles...)
			require.Equal(t, test.code, rec.Code, body)
			require.Equal(t, "ERROR", body["status"])
			require.Equal(t, string(test.error), firstErrorCode(t, body))
		})
	}
}

func TestFindEndpointRoles(t *testing.T) {
	h := newHandler(t)

	rec, body := post(t, h, "/find", `{"entity": "user", "query": {"field": "personal.ssn", "op": "=", "rvalue": "111"}}`, "reader, admin")
	require.Equal(t, http.StatusOK, rec.Code, body)
	docs := body["processed"].([]any)
	require.Len(t, docs, 1)
	require.Equal(t, "alice", docs[0].(map[string]any)["login"])
}

func TestRoles(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/find", nil)
	require.Empty(t, server.Roles(req))

	req.Header.Add(server.RolesHeader, " admin, ,reader")
	req.Header.Add(server.RolesHeader, "auditor")
	require.Equal(t, []string{"admin", "reader", "auditor"}, server.Roles(req))
}

func TestExplainEndpoint(t *testing.T) {
	h := newHandler(t)

	rec, body := post(t, h, "/explain", `{"entity": "user", "query": {"field": "addresses.*.ref.*.city", "op": "=", "rvalue": "Lyon"}}`)
	require.Equal(t, http.StatusOK, rec.Code, body)
	require.Equal(t, "COMPLETE", body["status"])
	require.NotEmpty(t, body["processed"])
}

func TestBulkEndpoint(t *testing.T) {
	h := newHandler(t)

	rec, body := post(t, h, "/bulk", `{
		"ordered": true,
		"requests": [
			{"op": "find", "request": {"entity": "address"}},
			{"op": "find", "request": {"entity": "user", "query": {"field": "personal.ssn", "op": "=", "rvalue": "222"}}},
			{"op": "explain", "request": {"entity": "nope"}}
		]
	}`, "admin")
	require.Equal(t, http.StatusOK, rec.Code, body)

	responses := body["responses"].([]any)
	require.Len(t, responses, 3)
	require.Equal(t, "COMPLETE", responses[0].(map[string]any)["status"])
	require.InDelta(t, 3, responses[0].(map[string]any)["matchCount"], 0)
	second := responses[1].(map[string]any)
	require.Equal(t, "COMPLETE", second["status"])
	require.Equal(t, "bob", second["processed"].([]any)[0].(map[string]any)["login"])
	require.Equal(t, string(mediatorErrors.CodeUnknownEntity), firstErrorCode(t, responses[2].(map[string]any)))

	rec, body = post(t, h, "/bulk", `{"requests": [{"op": "delete", "request": {"entity": "user"}}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, string(mediatorErrors.CodeInvalidRequest), firstErrorCode(t, body))
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHandler(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/find", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/find/extra", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	t.Run("serving", func(t *testing.T) {
		h := newHandler(t)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"status":"SERVING"}`, rec.Body.String())
	})

	t.Run("not_serving", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		ds := mocks.NewMockDatastore(ctrl)
		ds.EXPECT().IsReady(gomock.Any()).Return(storage.ReadinessStatus{}, errors.New("connection refused"))

		backends := storage.NewRegistry("memory")
		backends.Register("memory", ds)
		h := server.New(nil, server.WithReadinessChecker(backends)).Handler()

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		require.Contains(t, rec.Body.String(), "NOT_SERVING")
	})
}

type panickingService struct{}

func (panickingService) Find(context.Context, *mediator.FindRequest) *mediator.Response {
	panic("boom")
}

func (panickingService) Explain(context.Context, *mediator.FindRequest) *mediator.Response {
	panic("boom")
}

func (panickingService) Bulk(context.Context, *mediator.BulkRequest) *mediator.BulkResponse {
	panic("boom")
}

func TestPanicRecovery(t *testing.T) {
	h := server.New(panickingService{}).Handler()
	rec, body := post(t, h, "/find", `{"entity": "user"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, string(mediatorErrors.CodeInternal), firstErrorCode(t, body))
}

func TestCORS(t *testing.T) {
	h := newHandler(t, server.WithCORS([]string{"https://app.example.com"}, []string{"*"}))

	req := httptest.NewRequest(http.MethodOptions, "/find", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusCode(t *testing.T) {
	tests := map[mediatorErrors.Code]int{
		mediatorErrors.CodeInvalidRequest:  http.StatusBadRequest,
		mediatorErrors.CodeNoAccess:        http.StatusForbidden,
		mediatorErrors.CodeUnknownEntity:   http.StatusNotFound,
		mediatorErrors.CodeResultTooLarge:  http.StatusRequestEntityTooLarge,
		mediatorErrors.CodeNoValidPlan:     http.StatusUnprocessableEntity,
		mediatorErrors.CodeMissingExecutor: http.StatusUnprocessableEntity,
		mediatorErrors.CodeInternal:        http.StatusInternalServerError,
	}
	for code, want := range tests {
		t.Run(string(code), func(t *testing.T) {
			resp := &mediator.Response{Status: mediator.StatusError, Errors: []*mediatorErrors.Error{{Code: code}}}
			require.Equal(t, want, server.StatusCode(resp))
		})
	}
	require.Equal(t, http.StatusOK, server.StatusCode(&mediator.Response{Status: mediator.StatusPartial}))
}
