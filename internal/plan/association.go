package plan

import (
	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/metadata"
	"github.com/docmediator/docmediator/pkg/query"
)

// AssociationQuery is the condition linking documents of a parent entity to
// documents of the child entity resolved through one reference field.
type AssociationQuery struct {
	Reference *metadata.Reference
	// Query is the reference query, still holding its `$parent` references.
	Query query.Expression
	// AlwaysTrue attaches every child to every slot.
	AlwaysTrue bool
	// KeySpec names the child fields matched by equality against parent
	// values, or nil.
	KeySpec *query.KeySpec
	// Inverted constrains the parent entity from child values. It is nil
	// when the association cannot be walked from child to parent.
	Inverted query.Expression

	refPath   document.Path
	invertErr error
}

// NewAssociationQuery builds the association bringing child into the
// composite entity. child must not be the root.
func NewAssociationQuery(child *metadata.CompositeEntity) *AssociationQuery {
	ref := child.Reference().Reference
	a := &AssociationQuery{
		Reference:  ref,
		Query:      ref.Query,
		AlwaysTrue: ref.AlwaysTrue,
		KeySpec:    query.KeySpecOf(ref.Query),
		refPath:    child.ReferencePath(),
	}
	a.Inverted, a.invertErr = query.Invert(ref.Query, a.refPath)
	return a
}

// ReferencePath is the generic path of the reference field, relative to the
// parent entity.
func (a *AssociationQuery) ReferencePath() document.Path { return a.refPath }

// Empty reports whether the association attaches nothing.
func (a *AssociationQuery) Empty() bool {
	return a.Query == nil && !a.AlwaysTrue
}

// Invertible reports whether the association can be walked from the child
// to the parent.
func (a *AssociationQuery) Invertible() bool {
	return !a.Empty() && a.invertErr == nil && a.Inverted != nil
}

// InvertError returns why the association is not invertible, if it failed to
// invert.
func (a *AssociationQuery) InvertError() error { return a.invertErr }

// ParentKeyFields returns the parent-side fields, relative to the parent
// entity, that the key spec binds.
func (a *AssociationQuery) ParentKeyFields() []document.Path {
	if a.KeySpec == nil {
		return nil
	}
	out := make([]document.Path, 0, len(a.KeySpec.ParentRefs))
	for _, ref := range a.KeySpec.ParentRefs {
		p, err := query.ResolveParentRef(a.refPath, ref)
		if err != nil {
			return nil
		}
		out = append(out, p.Generic())
	}
	return out
}
