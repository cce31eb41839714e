package metadata

import (
	"context"
	"fmt"

	"github.com/docmediator/docmediator/pkg/document"
)

// MaxCompositeDepth bounds how deep references are resolved.
const MaxCompositeDepth = 16

// CompositeEntity is one occurrence of an entity in the tree of entities
// reachable from a requested entity through resolved reference fields.
type CompositeEntity struct {
	Entity *Entity

	parent   *CompositeEntity
	children []*CompositeEntity
	ref      *Field
	refPath  document.Path
	prefix   document.Path
}

// Parent returns nil for the root.
func (c *CompositeEntity) Parent() *CompositeEntity { return c.parent }

// Children returns the entities resolved below this one, in declaration order.
func (c *CompositeEntity) Children() []*CompositeEntity { return c.children }

// IsRoot reports whether c is the requested entity.
func (c *CompositeEntity) IsRoot() bool { return c.parent == nil }

// Reference returns the reference field of the parent entity that brought
// this entity in, or nil for the root.
func (c *CompositeEntity) Reference() *Field { return c.ref }

// ReferencePath is the generic path of the reference field within the parent
// entity.
func (c *CompositeEntity) ReferencePath() document.Path { return c.refPath }

// Prefix is the generic path under which fields of this entity appear in the
// root document, e.g. `children.*.ref.*` for a child.
func (c *CompositeEntity) Prefix() document.Path { return c.prefix }

// Name returns the entity name.
func (c *CompositeEntity) Name() string { return c.Entity.Name }

func (c *CompositeEntity) String() string {
	if c.parent == nil {
		return c.Entity.Key()
	}
	return c.Entity.Key() + "@" + c.prefix.Prefix(len(c.prefix)-1).String()
}

// Depth is 0 for the root.
func (c *CompositeEntity) Depth() int {
	d := 0
	for p := c.parent; p != nil; p = p.parent {
		d++
	}
	return d
}

// ChildAt returns the child resolved at the reference field with the given
// generic path, or nil.
func (c *CompositeEntity) ChildAt(refPath document.Path) *CompositeEntity {
	g := refPath.Generic()
	for _, ch := range c.children {
		if ch.refPath.Equal(g) {
			return ch
		}
	}
	return nil
}

// All returns c and its descendants in pre-order.
func (c *CompositeEntity) All() []*CompositeEntity {
	out := []*CompositeEntity{c}
	for _, ch := range c.children {
		out = append(out, ch.All()...)
	}
	return out
}

// Ancestors returns the chain from c's parent up to the root.
func (c *CompositeEntity) Ancestors() []*CompositeEntity {
	var out []*CompositeEntity
	for p := c.parent; p != nil; p = p.parent {
		out = append(out, p)
	}
	return out
}

// EntityOfPath returns the entity owning the absolute field path p. A
// reference field itself belongs to the entity declaring it.
func (c *CompositeEntity) EntityOfPath(p document.Path) *CompositeEntity {
	for _, ch := range c.children {
		if len(p) > len(ch.prefix) && p.MatchesPatternPrefix(ch.prefix) {
			return ch.EntityOfPath(p)
		}
	}
	return c
}

// Relative strips c's prefix from an absolute path owned by c.
func (c *CompositeEntity) Relative(p document.Path) document.Path {
	return p.Suffix(len(c.prefix))
}

// Resolve finds the field at the absolute path p, crossing resolved
// references. It returns the owning entity as well.
func (c *CompositeEntity) Resolve(p document.Path) (*Field, *CompositeEntity, bool) {
	owner := c.EntityOfPath(p)
	rel := owner.Relative(p)
	if len(rel) == 0 {
		return nil, owner, false
	}
	f, ok := owner.Entity.Resolve(rel)
	return f, owner, ok
}

// IncludeReference decides whether the reference at the absolute generic
// path refPath is resolved while building a composite entity.
type IncludeReference func(refPath document.Path) bool

// IncludeAll resolves every reference.
func IncludeAll(document.Path) bool { return true }

// Composite resolves the composite entity rooted at name/version. Only
// references for which include returns true are resolved.
func Composite(ctx context.Context, reg Registry, name, version string, include IncludeReference) (*CompositeEntity, error) {
	root, err := reg.Entity(ctx, name, version)
	if err != nil {
		return nil, err
	}
	if include == nil {
		include = IncludeAll
	}
	c := &CompositeEntity{Entity: root}
	if err := resolveChildren(ctx, reg, c, include, 0); err != nil {
		return nil, err
	}
	return c, nil
}

func resolveChildren(ctx context.Context, reg Registry, c *CompositeEntity, include IncludeReference, depth int) error {
	for _, rf := range c.Entity.References() {
		abs := c.prefix.Concat(rf.Path)
		if !include(abs) {
			continue
		}
		if depth >= MaxCompositeDepth {
			return fmt.Errorf("%w: references nested deeper than %d at %s", ErrInvalidMetadata, MaxCompositeDepth, abs)
		}
		ref := rf.Field.Reference
		e, err := reg.Entity(ctx, ref.Entity, ref.Version)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", abs, err)
		}
		child := &CompositeEntity{
			Entity:  e,
			parent:  c,
			ref:     rf.Field,
			refPath: rf.Path,
			prefix:  abs.Append(document.Any),
		}
		c.children = append(c.children, child)
		if err := resolveChildren(ctx, reg, child, include, depth+1); err != nil {
			return err
		}
	}
	return nil
}
