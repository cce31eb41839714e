// Package server exposes the mediator over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/docmediator/docmediator/internal/build"
	mediatorErrors "github.com/docmediator/docmediator/internal/errors"
	"github.com/docmediator/docmediator/internal/mediator"
	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/logger"
	"github.com/docmediator/docmediator/pkg/storage"
)

const (
	// RolesHeader carries the caller's comma separated roles.
	RolesHeader = "X-Roles"

	requestIDHeader = "X-Request-Id"

	DefaultMaxRequestBytes = 4 << 20
)

var tracer = otel.Tracer("pkg/server")

var httpRequestsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: build.ProjectName,
	Name:      "http_requests_total",
	Help:      "The total number of HTTP requests, labeled by route and status code.",
}, []string{"route", "code"})

// Service is the mediator the server delegates to.
type Service interface {
	Find(ctx context.Context, req *mediator.FindRequest) *mediator.Response
	Explain(ctx context.Context, req *mediator.FindRequest) *mediator.Response
	Bulk(ctx context.Context, req *mediator.BulkRequest) *mediator.BulkResponse
}

// ReadinessChecker reports whether the backends can serve requests.
type ReadinessChecker interface {
	IsReady(ctx context.Context) (storage.ReadinessStatus, error)
}

// Server serves find, explain and bulk requests over HTTP.
type Server struct {
	service         Service
	ready           ReadinessChecker
	logger          logger.Logger
	requestTimeout  time.Duration
	maxRequestBytes int64
	corsOrigins     []string
	corsHeaders     []string
	tracing         bool
}

type Option func(*Server)

func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithReadinessChecker makes /healthz report the checker's readiness.
func WithReadinessChecker(c ReadinessChecker) Option {
	return func(s *Server) {
		s.ready = c
	}
}

// WithRequestTimeout bounds the handling of one request. 0 means no bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.requestTimeout = d
	}
}

func WithMaxRequestBytes(n int64) Option {
	return func(s *Server) {
		s.maxRequestBytes = n
	}
}

func WithCORS(origins, headers []string) Option {
	return func(s *Server) {
		s.corsOrigins = origins
		s.corsHeaders = headers
	}
}

// WithTracing wraps the handler with otelhttp.
func WithTracing(enabled bool) Option {
	return func(s *Server) {
		s.tracing = enabled
	}
}

func New(service Service, opts ...Option) *Server {
	s := &Server{
		service:         service,
		logger:          logger.NewNoopLogger(),
		maxRequestBytes: DefaultMaxRequestBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type route struct {
	method   string
	endpoint string
	handler  http.HandlerFunc
}

func (s *Server) routes() []route {
	return []route{
		{http.MethodPost, "/find", s.handleFind},
		{http.MethodPost, "/explain", s.handleExplain},
		{http.MethodPost, "/bulk", s.handleBulk},
		{http.MethodGet, "/healthz", s.handleHealth},
	}
}

// Handler returns the server's routes wrapped with panic recovery, CORS and
// optionally tracing.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	for _, r := range s.routes() {
		router.HandleFunc(r.endpoint, r.handler).Methods(r.method)
	}

	var handler http.Handler = router
	if s.requestTimeout > 0 {
		handler = timeoutHandler(handler, s.requestTimeout)
	}
	if s.tracing {
		handler = otelhttp.NewHandler(handler, "docmediator")
	}
	if len(s.corsOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins:   s.corsOrigins,
			AllowCredentials: true,
			AllowedHeaders:   s.corsHeaders,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodHead},
		}).Handler(handler)
	}
	return panicRecoveryHandler(handler, s.logger)
}

func timeoutHandler(next http.Handler, d time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func panicRecoveryHandler(next http.Handler, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				l.Error("HTTP handler has recovered a panic",
					zap.Error(fmt.Errorf("%v", p)),
					zap.ByteString("stacktrace", debug.Stack()),
				)
				writeJSON(w, http.StatusInternalServerError, &mediator.Response{
					Status:    mediator.StatusError,
					Documents: []document.Doc{},
					Errors: []*mediatorErrors.Error{{
						Code: mediatorErrors.CodeInternal,
						Msg:  "internal server error",
					}},
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	s.handleSingle(w, r, "find", s.service.Find)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	s.handleSingle(w, r, "explain", s.service.Explain)
}

func (s *Server) handleSingle(w http.ResponseWriter, r *http.Request, route string, call func(context.Context, *mediator.FindRequest) *mediator.Response) {
	ctx, span := tracer.Start(r.Context(), "server."+route)
	defer span.End()

	req := &mediator.FindRequest{}
	if err := s.decode(w, r, req); err != nil {
		s.reply(ctx, w, route, http.StatusBadRequest, requestError(ctx, route, err))
		return
	}
	req.Roles = Roles(r)
	span.SetAttributes(attribute.String("entity", req.Entity))

	resp := call(ctx, req)
	if resp.RequestID != "" {
		w.Header().Set(requestIDHeader, resp.RequestID)
	}
	s.reply(ctx, w, route, StatusCode(resp), resp)
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "server.bulk")
	defer span.End()

	req := &mediator.BulkRequest{}
	if err := s.decode(w, r, req); err != nil {
		s.reply(ctx, w, "bulk", http.StatusBadRequest, requestError(ctx, "bulk", err))
		return
	}
	req.SetRoles(Roles(r))
	span.SetAttributes(attribute.Int("entries", len(req.Entries)))

	s.reply(ctx, w, "bulk", http.StatusOK, s.service.Bulk(ctx, req))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready == nil {
		s.reply(r.Context(), w, "healthz", http.StatusOK, map[string]string{"status": "SERVING"})
		return
	}
	status, err := s.ready.IsReady(r.Context())
	if err != nil || !status.IsReady {
		msg := status.Message
		if err != nil {
			msg = err.Error()
		}
		s.reply(r.Context(), w, "healthz", http.StatusServiceUnavailable, map[string]string{"status": "NOT_SERVING", "message": msg})
		return
	}
	s.reply(r.Context(), w, "healthz", http.StatusOK, map[string]string{"status": "SERVING"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, into any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxRequestBytes))
	if err != nil {
		return fmt.Errorf("%w: reading body: %w", mediatorErrors.ErrInvalidRequest, err)
	}
	if err := json.Unmarshal(body, into); err != nil {
		if errors.Is(err, mediatorErrors.ErrInvalidRequest) {
			return err
		}
		return fmt.Errorf("%w: %w", mediatorErrors.ErrInvalidRequest, err)
	}
	return nil
}

func (s *Server) reply(ctx context.Context, w http.ResponseWriter, route string, code int, body any) {
	httpRequestsCounter.WithLabelValues(route, fmt.Sprint(code)).Inc()
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("http.status_code", code))
	if err := writeJSON(w, code, body); err != nil {
		s.logger.ErrorWithContext(ctx, "failed to write response", zap.String("route", route), zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, err = w.Write(data)
	return err
}

func requestError(ctx context.Context, route string, err error) *mediator.Response {
	return &mediator.Response{
		Status:    mediator.StatusError,
		Documents: []document.Doc{},
		Errors:    []*mediatorErrors.Error{mediatorErrors.Annotate(mediatorErrors.WithOperation(ctx, route), err)},
	}
}

// Roles returns the roles named by the request's roles header.
func Roles(r *http.Request) []string {
	var roles []string
	for _, v := range r.Header.Values(RolesHeader) {
		for _, role := range strings.Split(v, ",") {
			if role = strings.TrimSpace(role); role != "" {
				roles = append(roles, role)
			}
		}
	}
	return roles
}

// StatusCode maps a response to its HTTP status. Complete and partial
// responses are successful; failed ones map their first error code.
func StatusCode(resp *mediator.Response) int {
	if resp.Status != mediator.StatusError || len(resp.Errors) == 0 {
		return http.StatusOK
	}
	switch resp.Errors[0].Code {
	case mediatorErrors.CodeInvalidRequest:
		return http.StatusBadRequest
	case mediatorErrors.CodeNoAccess:
		return http.StatusForbidden
	case mediatorErrors.CodeUnknownEntity:
		return http.StatusNotFound
	case mediatorErrors.CodeResultTooLarge:
		return http.StatusRequestEntityTooLarge
	case mediatorErrors.CodeNoValidPlan, mediatorErrors.CodeMissingExecutor, mediatorErrors.CodePlanning:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
