package plan

import (
	"fmt"

	mediatorErrors "github.com/docmediator/docmediator/internal/errors"
	"github.com/docmediator/docmediator/pkg/metadata"
	"github.com/docmediator/docmediator/pkg/query"
)

// skeleton holds what every candidate plan of one request shares: the
// member entities in pre-order, one association per non-root member and the
// assignment of query conjuncts to entities.
type skeleton struct {
	root     *metadata.CompositeEntity
	members  []*metadata.CompositeEntity
	assoc    map[*metadata.CompositeEntity]*AssociationQuery
	local    map[*metadata.CompositeEntity]query.Expression
	residual query.Expression
	// readers counts, per entity, the conjuncts reading it or an entity
	// below it.
	readers map[*metadata.CompositeEntity]int
}

// edgeCount is the number of edges of every plan over the members.
func (s *skeleton) edgeCount() int {
	return len(s.members) - 1
}

func newSkeleton(root *metadata.CompositeEntity, minimal []*metadata.CompositeEntity, q query.Expression) (*skeleton, error) {
	members, err := selectMembers(root, minimal)
	if err != nil {
		return nil, err
	}
	s := &skeleton{
		root:    root,
		members: members,
		assoc:   make(map[*metadata.CompositeEntity]*AssociationQuery, len(members)),
	}
	for _, m := range members[1:] {
		s.assoc[m] = NewAssociationQuery(m)
	}
	s.readers = conjunctReaders(root, q)
	s.local, s.residual = assignConjuncts(root, members, q, s.readers)
	return s, nil
}

// selectMembers returns the plan entities in pre-order. Every member other
// than the root needs its entity parent in the set.
func selectMembers(root *metadata.CompositeEntity, minimal []*metadata.CompositeEntity) ([]*metadata.CompositeEntity, error) {
	all := root.All()
	if minimal == nil {
		return all, nil
	}
	want := make(map[*metadata.CompositeEntity]bool, len(minimal)+1)
	want[root] = true
	for _, m := range minimal {
		want[m] = true
	}
	var out []*metadata.CompositeEntity
	placed := make(map[*metadata.CompositeEntity]bool, len(want))
	for _, ce := range all {
		if !want[ce] {
			continue
		}
		if ce != root && !want[ce.Parent()] {
			return nil, fmt.Errorf("%w: %s is not connected to %s", mediatorErrors.ErrNoValidPlan, ce, root)
		}
		out = append(out, ce)
		placed[ce] = true
	}
	for m := range want {
		if !placed[m] {
			return nil, fmt.Errorf("%w: %s is not part of the composite entity %s", mediatorErrors.ErrNoValidPlan, m, root)
		}
	}
	return out, nil
}

// assignConjuncts splits q into per-entity local queries, relative to each
// entity, and a residual. A conjunct goes to an entity other than the root
// only when it is positive and no other conjunct reads that entity or an
// entity below it: filtering that entity's documents must not change the
// outcome for the root document. Every conjunct quantifies over the child
// documents on its own, so two conjuncts on one entity may be satisfied by
// different children.
func assignConjuncts(root *metadata.CompositeEntity, members []*metadata.CompositeEntity, q query.Expression, readers map[*metadata.CompositeEntity]int) (map[*metadata.CompositeEntity]query.Expression, query.Expression) {
	inSet := make(map[*metadata.CompositeEntity]bool, len(members))
	for _, m := range members {
		inSet[m] = true
	}
	terms := map[*metadata.CompositeEntity][]query.Expression{}
	var residual []query.Expression
	for _, c := range query.Conjuncts(q) {
		owner := singleOwner(root, c)
		if owner == nil || !inSet[owner] || (owner != root && (!query.Positive(c) || readers[owner] > 1)) {
			residual = append(residual, c)
			continue
		}
		rel, ok := query.Relativize(c, owner.Prefix())
		if !ok {
			residual = append(residual, c)
			continue
		}
		terms[owner] = append(terms[owner], rel)
	}
	local := make(map[*metadata.CompositeEntity]query.Expression, len(terms))
	for owner, t := range terms {
		local[owner] = query.AllOf(t...)
	}
	return local, query.AllOf(residual...)
}

func conjunctReaders(root *metadata.CompositeEntity, q query.Expression) map[*metadata.CompositeEntity]int {
	readers := map[*metadata.CompositeEntity]int{}
	for _, c := range query.Conjuncts(q) {
		read := map[*metadata.CompositeEntity]bool{}
		for _, f := range query.Fields(c) {
			for e := root.EntityOfPath(f); e != nil; e = e.Parent() {
				read[e] = true
			}
		}
		for e := range read {
			readers[e]++
		}
	}
	return readers
}

func singleOwner(root *metadata.CompositeEntity, e query.Expression) *metadata.CompositeEntity {
	var owner *metadata.CompositeEntity
	for _, f := range query.Fields(e) {
		o := root.EntityOfPath(f)
		if owner != nil && o != owner {
			return nil
		}
		owner = o
	}
	return owner
}

// materialize builds a fresh plan for one orientation. It returns false when
// the orientation is not legal.
func (s *skeleton) materialize(orientation uint64) (*QueryPlan, bool) {
	p := &QueryPlan{
		Root:        s.root,
		Residual:    s.residual,
		orientation: orientation,
		byEntity:    make(map[*metadata.CompositeEntity]*Node, len(s.members)),
	}
	for i, m := range s.members {
		n := &Node{Entity: m, LocalQuery: s.local[m], index: i}
		p.Nodes = append(p.Nodes, n)
		p.byEntity[m] = n
	}
	for i, m := range s.members[1:] {
		a := s.assoc[m]
		parent, child := p.byEntity[m.Parent()], p.byEntity[m]
		e := &Edge{From: parent, To: child, Parent: parent, Child: child, Association: a}
		if orientation&(1<<uint(i)) != 0 {
			if !a.Invertible() {
				return nil, false
			}
			e.From, e.To = child, parent
		}
		e.From.out = append(e.From.out, e)
		e.To.in = append(e.To.in, e)
		p.Edges = append(p.Edges, e)
	}

	// A child walked towards its parent must be narrowed by something,
	// otherwise the parent would be retrieved from an unfiltered child set.
	// Below the root, the parent documents are narrowed in turn, which only
	// holds when no other conjunct reads the parent.
	constrained := make(map[*Node]bool, len(p.Nodes))
	for i := len(p.Nodes) - 1; i >= 0; i-- {
		n := p.Nodes[i]
		c := n.LocalQuery != nil
		for _, e := range n.ReversedSources() {
			if !constrained[e.From] {
				return nil, false
			}
			if n.Entity != s.root && s.readers[n.Entity] > 1 {
				return nil, false
			}
			c = true
		}
		constrained[n] = c
	}
	return p, true
}
