// Package plan models query plans over a composite entity and chooses the
// best plan for a request.
package plan

import (
	"fmt"
	"strings"

	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/metadata"
	"github.com/docmediator/docmediator/pkg/query"
)

// Node is one entity occurrence in a plan.
type Node struct {
	Entity *metadata.CompositeEntity
	// LocalQuery holds the request conjuncts that only read fields of this
	// entity, relative to the entity.
	LocalQuery query.Expression

	index int
	in    []*Edge
	out   []*Edge
}

// Index is the position of the node in the plan, following the pre-order of
// the composite entity.
func (n *Node) Index() int { return n.index }

// Sources returns the edges supplying data to this node.
func (n *Node) Sources() []*Edge { return n.in }

// Destinations returns the edges this node supplies data to.
func (n *Node) Destinations() []*Edge { return n.out }

// IsRoot reports whether no other node of the plan supplies this one.
func (n *Node) IsRoot() bool { return len(n.in) == 0 }

// ForwardSource returns the in-edge from the entity parent, if the plan
// walks it parent to child.
func (n *Node) ForwardSource() *Edge {
	for _, e := range n.in {
		if e.Forward() {
			return e
		}
	}
	return nil
}

// ReversedSources returns the in-edges coming from entity children.
func (n *Node) ReversedSources() []*Edge {
	var out []*Edge
	for _, e := range n.in {
		if !e.Forward() {
			out = append(out, e)
		}
	}
	return out
}

func (n *Node) String() string {
	return n.Entity.String()
}

// Edge connects the two nodes of one reference field. From supplies binding
// values to To.
type Edge struct {
	From, To *Node
	// Parent and Child are the entity parent and child, whatever the
	// direction of the edge.
	Parent, Child *Node
	Association   *AssociationQuery
}

// Forward reports whether the edge walks from the entity parent to the child.
func (e *Edge) Forward() bool {
	return e.From == e.Parent
}

func (e *Edge) String() string {
	arrow := "->"
	if !e.Forward() {
		arrow = "<-"
	}
	return fmt.Sprintf("%s %s %s", e.Parent, arrow, e.Child)
}

// QueryPlan is a directed acyclic graph of nodes. A plan is built for one
// request and is not shared.
type QueryPlan struct {
	Root  *metadata.CompositeEntity
	Nodes []*Node
	Edges []*Edge
	// Residual is the part of the request query that could not be assigned
	// to a single node.
	Residual query.Expression

	orientation uint64
	score       Cost
	byEntity    map[*metadata.CompositeEntity]*Node
}

// Node returns the node of ce, or nil when ce is not part of the plan.
func (p *QueryPlan) Node(ce *metadata.CompositeEntity) *Node {
	return p.byEntity[ce]
}

// RootNode returns the node of the requested entity.
func (p *QueryPlan) RootNode() *Node {
	return p.byEntity[p.Root]
}

// Sources returns the nodes nothing supplies.
func (p *QueryPlan) Sources() []*Node {
	var out []*Node
	for _, n := range p.Nodes {
		if n.IsRoot() {
			out = append(out, n)
		}
	}
	return out
}

// Orientation is the bit set of reversed edges, bit i for Edges[i].
func (p *QueryPlan) Orientation() uint64 { return p.orientation }

// Score is the cost the scorer gave the plan.
func (p *QueryPlan) Score() Cost { return p.score }

// BreadthFirstOrdering groups nodes into levels. Every node comes after the
// nodes it depends on, and nodes of one level are independent of each other.
//
// A node depends on its sources. A node also depends on the children feeding
// any of its forward destinations, since the destination's documents are
// retrieved by the node's assembly and need those children's constraints.
func (p *QueryPlan) BreadthFirstOrdering() [][]*Node {
	deps := make(map[*Node][]*Node, len(p.Nodes))
	for _, n := range p.Nodes {
		for _, e := range n.in {
			deps[n] = append(deps[n], e.From)
		}
		for _, e := range n.out {
			if !e.Forward() {
				continue
			}
			for _, r := range e.To.ReversedSources() {
				deps[n] = append(deps[n], r.From)
			}
		}
	}

	indegree := make(map[*Node]int, len(p.Nodes))
	dependents := make(map[*Node][]*Node, len(p.Nodes))
	for _, n := range p.Nodes {
		indegree[n] = len(deps[n])
		for _, d := range deps[n] {
			dependents[d] = append(dependents[d], n)
		}
	}

	var levels [][]*Node
	var current []*Node
	for _, n := range p.Nodes {
		if indegree[n] == 0 {
			current = append(current, n)
		}
	}
	for len(current) > 0 {
		levels = append(levels, current)
		var next []*Node
		for _, n := range current {
			for _, d := range dependents[n] {
				indegree[d]--
				if indegree[d] == 0 {
					next = append(next, d)
				}
			}
		}
		sortByIndex(next)
		current = next
	}
	return levels
}

func sortByIndex(nodes []*Node) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodes[j].index < nodes[j-1].index; j-- {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
		}
	}
}

// String renders the plan as an indented tree starting at its sources.
func (p *QueryPlan) String() string {
	var b strings.Builder
	seen := map[*Node]bool{}
	var write func(n *Node, depth int)
	write = func(n *Node, depth int) {
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(n.String())
		if n.LocalQuery != nil {
			b.WriteString(" q=")
			b.WriteString(query.String(n.LocalQuery))
		}
		if seen[n] {
			b.WriteString(" ...\n")
			return
		}
		seen[n] = true
		b.WriteByte('\n')
		for _, e := range n.out {
			write(e.To, depth+1)
		}
	}
	for _, s := range p.Sources() {
		write(s, 0)
	}
	return b.String()
}

// Describe returns a JSON-ready description of the plan.
func (p *QueryPlan) Describe() map[string]any {
	nodes := make([]any, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		node := map[string]any{
			"entity": n.Entity.Entity.Key(),
			"path":   n.Entity.Prefix().String(),
			"source": n.IsRoot(),
		}
		if n.LocalQuery != nil {
			node["query"] = query.ToValue(n.LocalQuery)
		}
		nodes = append(nodes, node)
	}
	edges := make([]any, 0, len(p.Edges))
	for _, e := range p.Edges {
		edges = append(edges, map[string]any{
			"from":      e.From.Entity.Prefix().String(),
			"to":        e.To.Entity.Prefix().String(),
			"reference": e.Association.ReferencePath().String(),
			"forward":   e.Forward(),
		})
	}
	out := map[string]any{
		"root":  p.Root.Entity.Key(),
		"nodes": nodes,
		"edges": edges,
		"cost":  float64(p.score),
	}
	if p.Residual != nil {
		out["residual"] = query.ToValue(p.Residual)
	}
	return out
}

// AbsoluteReference returns the absolute generic path of the reference
// field joining an edge's parent and child.
func (e *Edge) AbsoluteReference() document.Path {
	return e.Parent.Entity.Prefix().Concat(e.Association.ReferencePath())
}
