package plan

import "iter"

// Iterator enumerates edge orientations. Orientation bit i set means edge i
// is walked from the child entity to the parent entity.
type Iterator interface {
	Name() string
	Orientations(edges int) iter.Seq[uint64]
	// StopAtFirst makes the chooser keep the first valid plan.
	StopAtFirst() bool
}

// DefaultBruteForceLimit is the number of edges BruteForce varies by default.
const DefaultBruteForceLimit = 12

// BruteForce enumerates every orientation in binary counter order, starting
// with all edges walked parent to child. Only the first Limit edges are
// varied; the others stay parent to child.
type BruteForce struct {
	Limit int
}

var _ Iterator = (*BruteForce)(nil)

// NewBruteForce returns a BruteForce iterator varying at most limit edges. A
// limit below one uses DefaultBruteForceLimit.
func NewBruteForce(limit int) *BruteForce {
	if limit < 1 || limit > 63 {
		limit = DefaultBruteForceLimit
	}
	return &BruteForce{Limit: limit}
}

func (b *BruteForce) Name() string { return "bruteforce" }

func (b *BruteForce) StopAtFirst() bool { return false }

func (b *BruteForce) Orientations(edges int) iter.Seq[uint64] {
	return counter(min(edges, b.Limit))
}

// First yields orientations in the same order as BruteForce and stops at the
// first valid one. With a complete entity tree that is the all forward plan.
type First struct{}

var _ Iterator = First{}

func (First) Name() string { return "first" }

func (First) StopAtFirst() bool { return true }

func (First) Orientations(edges int) iter.Seq[uint64] {
	return counter(min(edges, 63))
}

func counter(bits int) iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		n := uint64(1) << bits
		for o := uint64(0); o < n; o++ {
			if !yield(o) {
				return
			}
		}
	}
}
