// Package metadata describes entities, their field trees and the reference
// fields that link them into composite entities.
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/query"
)

var (
	ErrUnknownEntity   = errors.New("unknown entity")
	ErrInvalidMetadata = errors.New("invalid metadata")
)

// FieldType is the declared type of a field.
type FieldType string

const (
	TypeString    FieldType = "string"
	TypeInteger   FieldType = "integer"
	TypeDouble    FieldType = "double"
	TypeBoolean   FieldType = "boolean"
	TypeDate      FieldType = "date"
	TypeAny       FieldType = "any"
	TypeObject    FieldType = "object"
	TypeArray     FieldType = "array"
	TypeReference FieldType = "reference"
)

// IsSimple reports whether values of this type are leaves.
func (t FieldType) IsSimple() bool {
	switch t {
	case TypeObject, TypeArray, TypeReference:
		return false
	}
	return true
}

// Field is a node of an entity's field tree.
type Field struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`

	// Fields are the children of an object field, in declaration order.
	Fields []*Field `json:"fields,omitempty"`
	// Items is the element of an array field. Its Name is ignored.
	Items *Field `json:"items,omitempty"`
	// Reference is set for reference fields.
	Reference *Reference `json:"reference,omitempty"`

	Access *FieldAccess `json:"access,omitempty"`
}

// Child returns the object child with the given name.
func (f *Field) Child(name string) *Field {
	for _, c := range f.Fields {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// FieldAccess restricts who may read or write a single field. Empty lists
// mean no restriction.
type FieldAccess struct {
	Find   []string `json:"find,omitempty"`
	Update []string `json:"update,omitempty"`
}

// Reference links a field to another entity. Documents of that entity
// satisfying Query are attached at the field as an array.
type Reference struct {
	Entity  string `json:"entity"`
	Version string `json:"version,omitempty"`

	// Query is the association query. Child fields are plain paths; parent
	// fields are addressed with `$parent`.
	Query query.Expression `json:"-"`
	// AlwaysTrue is set when the association attaches every child document.
	AlwaysTrue bool `json:"-"`
	// Sort orders the attached children.
	Sort query.Sort `json:"-"`
	// Projection is the default projection applied to attached children.
	Projection json.RawMessage `json:"projection,omitempty"`

	RawQuery json.RawMessage `json:"query,omitempty"`
	RawSort  json.RawMessage `json:"sort,omitempty"`
}

func (r *Reference) init() error {
	if r.Entity == "" {
		return fmt.Errorf("%w: reference without entity", ErrInvalidMetadata)
	}
	if len(r.RawQuery) > 0 {
		q, err := query.Parse(r.RawQuery)
		if err != nil {
			return fmt.Errorf("%w: reference to %s: %w", ErrInvalidMetadata, r.Entity, err)
		}
		r.Query = q
		r.AlwaysTrue = q == nil
	}
	if len(r.RawSort) > 0 {
		s, err := query.ParseSort(r.RawSort)
		if err != nil {
			return fmt.Errorf("%w: reference to %s: %w", ErrInvalidMetadata, r.Entity, err)
		}
		r.Sort = s
	}
	return nil
}

// Access lists the roles allowed to perform each operation on an entity.
// The role `anyone` allows everybody. FindCondition is an optional CEL
// expression over `roles` and `entity` that must also hold for find.
type Access struct {
	Find          []string `json:"find,omitempty"`
	Insert        []string `json:"insert,omitempty"`
	Update        []string `json:"update,omitempty"`
	Delete        []string `json:"delete,omitempty"`
	FindCondition string   `json:"findCondition,omitempty"`
}

// Index is a set of fields a backend can look up efficiently.
type Index struct {
	Name   string   `json:"name,omitempty"`
	Fields []string `json:"fields"`
	Unique bool     `json:"unique,omitempty"`
}

// Entity is the metadata of one entity version.
type Entity struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Backend  string   `json:"backend,omitempty"`
	Identity []string `json:"identity,omitempty"`
	Indexes  []Index  `json:"indexes,omitempty"`
	Access   Access   `json:"access"`
	Fields   []*Field `json:"fields"`

	identity []document.Path
	root     *Field
}

// Init validates the entity and prepares derived state. It must be called
// before the entity is used.
func (e *Entity) Init() error {
	if e.Name == "" || e.Version == "" {
		return fmt.Errorf("%w: entity needs a name and a version", ErrInvalidMetadata)
	}
	e.root = &Field{Type: TypeObject, Fields: e.Fields}
	if err := initFields(e.Fields); err != nil {
		return fmt.Errorf("entity %s: %w", e.Key(), err)
	}
	if len(e.Identity) == 0 {
		e.Identity = []string{"_id"}
	}
	e.identity = e.identity[:0]
	for _, id := range e.Identity {
		p := document.ParsePath(id)
		f, ok := e.Resolve(p)
		if !ok || !f.Type.IsSimple() {
			return fmt.Errorf("%w: entity %s: identity field %s is not a simple field", ErrInvalidMetadata, e.Key(), id)
		}
		e.identity = append(e.identity, p)
	}
	for _, idx := range e.Indexes {
		for _, f := range idx.Fields {
			if _, ok := e.Resolve(document.ParsePath(f)); !ok {
				return fmt.Errorf("%w: entity %s: index on unknown field %s", ErrInvalidMetadata, e.Key(), f)
			}
		}
	}
	return nil
}

func initFields(fields []*Field) error {
	seen := map[string]bool{}
	for _, f := range fields {
		if f.Name == "" {
			return fmt.Errorf("%w: unnamed field", ErrInvalidMetadata)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate field %s", ErrInvalidMetadata, f.Name)
		}
		seen[f.Name] = true
		if err := initField(f); err != nil {
			return err
		}
	}
	return nil
}

func initField(f *Field) error {
	switch f.Type {
	case TypeObject:
		return initFields(f.Fields)
	case TypeArray:
		if f.Items == nil {
			return fmt.Errorf("%w: array %s has no items", ErrInvalidMetadata, f.Name)
		}
		if f.Items.Type == TypeArray || f.Items.Type == TypeReference {
			return fmt.Errorf("%w: array %s: items must be simple or object", ErrInvalidMetadata, f.Name)
		}
		return initField(f.Items)
	case TypeReference:
		if f.Reference == nil {
			return fmt.Errorf("%w: reference field %s has no reference", ErrInvalidMetadata, f.Name)
		}
		return f.Reference.init()
	case TypeString, TypeInteger, TypeDouble, TypeBoolean, TypeDate, TypeAny, "":
		if f.Type == "" {
			f.Type = TypeAny
		}
		return nil
	}
	return fmt.Errorf("%w: field %s has unknown type %q", ErrInvalidMetadata, f.Name, f.Type)
}

// Key returns name:version.
func (e *Entity) Key() string {
	return e.Name + ":" + e.Version
}

// IdentityFields returns the parsed identity paths.
func (e *Entity) IdentityFields() []document.Path {
	return e.identity
}

// IdentityOf returns the identity of a document of this entity.
func (e *Entity) IdentityOf(doc document.Doc) document.ID {
	return document.IdentityOf(doc, e.Name, e.identity)
}

// Root returns the synthetic object field holding the top-level fields.
func (e *Entity) Root() *Field {
	return e.root
}

// Resolve finds the field at p. Array elements are addressed with `*` or an
// index. Resolution stops at reference fields: a path continuing below a
// reference is not resolved here.
func (e *Entity) Resolve(p document.Path) (*Field, bool) {
	return resolve(e.root, p)
}

func resolve(f *Field, p document.Path) (*Field, bool) {
	for _, seg := range p {
		switch f.Type {
		case TypeObject:
			f = f.Child(seg)
			if f == nil {
				return nil, false
			}
		case TypeArray:
			if seg != document.Any {
				if _, ok := document.Index(seg); !ok {
					return nil, false
				}
			}
			f = f.Items
		default:
			return nil, false
		}
	}
	return f, true
}

// ReferenceField is a reference field together with its generic path.
type ReferenceField struct {
	Path  document.Path
	Field *Field
}

// References returns every reference field of the entity in declaration
// order.
func (e *Entity) References() []ReferenceField {
	var out []ReferenceField
	var walk func(f *Field, at document.Path)
	walk = func(f *Field, at document.Path) {
		switch f.Type {
		case TypeObject:
			for _, c := range f.Fields {
				walk(c, at.Append(c.Name))
			}
		case TypeArray:
			walk(f.Items, at.Append(document.Any))
		case TypeReference:
			out = append(out, ReferenceField{Path: at, Field: f})
		}
	}
	walk(e.root, nil)
	return out
}

// IsIndexed reports whether some index of the entity starts with field.
// Index positions are compared generically.
func (e *Entity) IsIndexed(field document.Path) bool {
	g := field.Generic()
	for _, idx := range e.Indexes {
		if len(idx.Fields) > 0 && document.ParsePath(idx.Fields[0]).Generic().Equal(g) {
			return true
		}
	}
	for _, id := range e.identity {
		if len(e.identity) == 1 && id.Equal(g) {
			return true
		}
	}
	return false
}
