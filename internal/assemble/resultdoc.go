// Package assemble joins the documents of plan nodes along association
// edges, attaching child documents into the reference fields of their
// parents.
package assemble

import (
	"sync"

	"github.com/docmediator/docmediator/internal/plan"
	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/query"
)

// ResultDoc is a retrieved document of one plan node.
type ResultDoc struct {
	Doc  document.Doc
	ID   document.ID
	Node *plan.Node

	mu       sync.Mutex
	errors   []error
	children []*ResultDoc
}

// NewResultDoc wraps doc, retrieved for node n.
func NewResultDoc(doc document.Doc, n *plan.Node) *ResultDoc {
	return &ResultDoc{
		Doc:  doc,
		ID:   n.Entity.Entity.IdentityOf(doc),
		Node: n,
	}
}

// AddError records a data error against the document.
func (d *ResultDoc) AddError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errors = append(d.errors, err)
}

// Errors returns the data errors recorded so far.
func (d *ResultDoc) Errors() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]error(nil), d.errors...)
}

func (d *ResultDoc) addChildren(children []*ResultDoc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.children = append(d.children, children...)
}

// Children returns the documents attached to d, in attachment order.
func (d *ResultDoc) Children() []*ResultDoc {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*ResultDoc(nil), d.children...)
}

// TreeErrors returns the data errors of d and of every document attached
// below it. A document reached through several parents is visited once.
func (d *ResultDoc) TreeErrors() []error {
	var out []error
	seen := map[*ResultDoc]bool{}
	var walk func(*ResultDoc)
	walk = func(cur *ResultDoc) {
		if seen[cur] {
			return
		}
		seen[cur] = true
		out = append(out, cur.Errors()...)
		for _, c := range cur.Children() {
			walk(c)
		}
	}
	walk(d)
	return out
}

// Slot is one occurrence of a reference field in a parent document.
type Slot struct {
	// Path is the concrete path of the reference field in the parent
	// document, e.g. `addresses.1.ref`.
	Path     document.Path
	Bindings []query.Binding
	// Query is the association query bound with this slot's values, or nil
	// when the association is always true.
	Query query.Expression
}

// Slots returns every occurrence in doc of the reference field at the
// generic path refPath, with the association query bound per occurrence.
func Slots(doc document.Doc, refPath document.Path, a *plan.AssociationQuery) ([]Slot, error) {
	var out []Slot
	for _, m := range document.Find(doc, refPath.Prefix(refPath.Len()-1)) {
		if _, ok := m.Value.(map[string]any); !ok {
			continue
		}
		s := Slot{Path: m.Path.Append(refPath.Last())}
		if !a.AlwaysTrue {
			b, err := query.Bindings(a.Query, s.Path, doc)
			if err != nil {
				return nil, err
			}
			s.Bindings = b
			s.Query = query.Bind(a.Query, b)
		}
		out = append(out, s)
	}
	return out, nil
}
