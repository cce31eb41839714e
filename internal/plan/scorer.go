package plan

import "github.com/docmediator/docmediator/pkg/query"

// Cost orders plans. Lower is better.
type Cost float64

// Scorer assigns a cost to a valid plan.
type Scorer interface {
	Name() string
	Score(p *QueryPlan) Cost
}

// SimpleScorer gives every plan the same cost, so the first valid plan wins.
type SimpleScorer struct{}

var _ Scorer = SimpleScorer{}

func (SimpleScorer) Name() string { return "simple" }

func (SimpleScorer) Score(*QueryPlan) Cost { return 0 }

const (
	indexedCost   Cost = 1
	unindexedCost Cost = 10
	fullScanCost  Cost = 100
)

// IndexedFieldScorer favors plans whose sources are filtered on indexed
// fields and whose associations are looked up through indexed key fields.
type IndexedFieldScorer struct{}

var _ Scorer = IndexedFieldScorer{}

func (IndexedFieldScorer) Name() string { return "indexed" }

func (IndexedFieldScorer) Score(p *QueryPlan) Cost {
	var total Cost
	for _, n := range p.Nodes {
		if n.IsRoot() {
			total += sourceCost(n)
		}
		for _, e := range n.in {
			total += edgeCost(e)
		}
	}
	return total
}

func sourceCost(n *Node) Cost {
	if n.LocalQuery == nil {
		return fullScanCost
	}
	for _, f := range query.Fields(n.LocalQuery) {
		if n.Entity.Entity.IsIndexed(f) {
			return indexedCost
		}
	}
	return unindexedCost
}

// edgeCost is the cost of retrieving the destination of e by its key fields.
func edgeCost(e *Edge) Cost {
	a := e.Association
	if a.KeySpec == nil {
		return unindexedCost
	}
	if e.Forward() {
		for _, f := range a.KeySpec.ChildFields {
			if !e.Child.Entity.Entity.IsIndexed(f) {
				return unindexedCost
			}
		}
		return indexedCost
	}
	fields := a.ParentKeyFields()
	if len(fields) == 0 {
		return unindexedCost
	}
	for _, f := range fields {
		if !e.Parent.Entity.Entity.IsIndexed(f) {
			return unindexedCost
		}
	}
	return indexedCost
}
