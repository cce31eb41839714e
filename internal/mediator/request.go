package mediator

import (
	"encoding/json"
	"fmt"

	mediatorErrors "github.com/docmediator/docmediator/internal/errors"
	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/projection"
	"github.com/docmediator/docmediator/pkg/query"
	"github.com/docmediator/docmediator/pkg/storage"
)

// Status is the outcome of a request.
type Status string

const (
	StatusComplete Status = "COMPLETE"
	StatusPartial  Status = "PARTIAL"
	StatusError    Status = "ERROR"
)

// FindRequest asks for the documents of an entity matching a query.
type FindRequest struct {
	Entity     string
	Version    string
	Query      query.Expression
	Projection projection.Expression
	Sort       query.Sort
	From       *int
	To         *int

	// Roles are the caller's roles. They are not part of the wire format.
	Roles []string
}

type findRequestJSON struct {
	Entity     string          `json:"entity"`
	Version    string          `json:"entityVersion,omitempty"`
	Query      json.RawMessage `json:"query,omitempty"`
	Projection json.RawMessage `json:"projection,omitempty"`
	Sort       json.RawMessage `json:"sort,omitempty"`
	From       *int            `json:"from,omitempty"`
	To         *int            `json:"to,omitempty"`
}

func (r *FindRequest) UnmarshalJSON(data []byte) error {
	var raw findRequestJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %w", mediatorErrors.ErrInvalidRequest, err)
	}
	out := FindRequest{Entity: raw.Entity, Version: raw.Version, From: raw.From, To: raw.To, Roles: r.Roles}
	var err error
	if isSet(raw.Query) {
		if out.Query, err = query.Parse(raw.Query); err != nil {
			return fmt.Errorf("%w: query: %w", mediatorErrors.ErrInvalidRequest, err)
		}
	}
	if isSet(raw.Projection) {
		if out.Projection, err = projection.Parse(raw.Projection); err != nil {
			return fmt.Errorf("%w: projection: %w", mediatorErrors.ErrInvalidRequest, err)
		}
	}
	if isSet(raw.Sort) {
		if out.Sort, err = query.ParseSort(raw.Sort); err != nil {
			return fmt.Errorf("%w: sort: %w", mediatorErrors.ErrInvalidRequest, err)
		}
	}
	*r = out
	return nil
}

func (r *FindRequest) MarshalJSON() ([]byte, error) {
	raw := findRequestJSON{Entity: r.Entity, Version: r.Version, From: r.From, To: r.To}
	var err error
	if r.Query != nil {
		if raw.Query, err = json.Marshal(query.ToValue(r.Query)); err != nil {
			return nil, err
		}
	}
	if r.Projection != nil {
		if raw.Projection, err = json.Marshal(projection.ToValue(r.Projection)); err != nil {
			return nil, err
		}
	}
	if len(r.Sort) > 0 {
		if raw.Sort, err = json.Marshal(r.Sort.ToValue()); err != nil {
			return nil, err
		}
	}
	return json.Marshal(raw)
}

func isSet(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// Validate checks the parts of the request that do not need metadata.
func (r *FindRequest) Validate() error {
	if r.Entity == "" {
		return fmt.Errorf("%w: entity is required", mediatorErrors.ErrInvalidRequest)
	}
	if _, err := r.Range(); err != nil {
		return err
	}
	return nil
}

// Range returns the requested range, or nil when the request has none.
func (r *FindRequest) Range() (*storage.Range, error) {
	rng, err := storage.NewRange(r.From, r.To)
	if err != nil {
		return nil, mediatorErrors.With(err, mediatorErrors.ErrInvalidRequest)
	}
	return rng, nil
}

// ResultMetadata describes one returned document.
type ResultMetadata struct {
	ID document.ID `json:"documentId"`
}

// DataError lists the errors of one document. The document is left out of
// the response.
type DataError struct {
	Entity string                  `json:"entity"`
	ID     document.ID             `json:"documentId"`
	Errors []*mediatorErrors.Error `json:"errors"`
}

// Response is the outcome of a find or explain request.
type Response struct {
	RequestID      string                  `json:"requestId,omitempty"`
	Entity         string                  `json:"entity,omitempty"`
	Version        string                  `json:"entityVersion,omitempty"`
	Status         Status                  `json:"status"`
	MatchCount     int                     `json:"matchCount"`
	Documents      []document.Doc          `json:"processed"`
	ResultMetadata []ResultMetadata        `json:"resultMetadata,omitempty"`
	DataErrors     []*DataError            `json:"dataErrors,omitempty"`
	Errors         []*mediatorErrors.Error `json:"errors,omitempty"`
}

func errorResponse(req *FindRequest, errs ...*mediatorErrors.Error) *Response {
	return &Response{
		Entity:    req.Entity,
		Version:   req.Version,
		Status:    StatusError,
		Documents: []document.Doc{},
		Errors:    errs,
	}
}
