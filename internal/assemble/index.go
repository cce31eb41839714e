package assemble

import (
	"math"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/query"
)

// memoryIndex maps key value tuples of candidate children to their
// positions in the candidate list.
type memoryIndex struct {
	spec    *query.KeySpec
	entries map[uint64][]int
}

func newMemoryIndex(spec *query.KeySpec, candidates []*ResultDoc) *memoryIndex {
	idx := &memoryIndex{spec: spec, entries: make(map[uint64][]int, len(candidates))}
	for i, c := range candidates {
		sets := make([][]any, len(spec.ChildFields))
		for j, f := range spec.ChildFields {
			sets[j] = orNull(document.Values(c.Doc, f))
		}
		for _, h := range tupleHashes(sets) {
			if positions := idx.entries[h]; len(positions) == 0 || positions[len(positions)-1] != i {
				idx.entries[h] = append(positions, i)
			}
		}
	}
	return idx
}

// lookup returns the candidate positions whose key matches the slot's
// binding values, in candidate order. The result is a superset of the
// candidates satisfying the bound query.
func (idx *memoryIndex) lookup(s Slot) []int {
	byRef := make(map[string][]any, len(s.Bindings))
	for _, b := range s.Bindings {
		byRef[b.Ref.String()] = b.Values
	}
	sets := make([][]any, len(idx.spec.ParentRefs))
	for j, ref := range idx.spec.ParentRefs {
		sets[j] = orNull(byRef[ref.String()])
	}
	var out []int
	for _, h := range tupleHashes(sets) {
		out = append(out, idx.entries[h]...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func orNull(values []any) []any {
	if len(values) == 0 {
		return []any{nil}
	}
	return values
}

// tupleHashes hashes every tuple of the cartesian product of sets. Tuples
// holding a value that cannot be compared by equality are skipped.
func tupleHashes(sets [][]any) []uint64 {
	var out []uint64
	var d xxhash.Digest
	tuple := make([]any, len(sets))
	var walk func(int)
	walk = func(i int) {
		if i == len(sets) {
			d.Reset()
			for _, v := range tuple {
				if !writeKey(&d, v) {
					return
				}
			}
			out = append(out, d.Sum64())
			return
		}
		for _, v := range sets[i] {
			tuple[i] = v
			walk(i + 1)
		}
	}
	walk(0)
	return out
}

func writeKey(d *xxhash.Digest, v any) bool {
	switch x := document.Normalize(v).(type) {
	case nil:
		_, _ = d.WriteString("n;")
	case bool:
		_, _ = d.WriteString("b" + strconv.FormatBool(x) + ";")
	case float64:
		if x == 0 {
			x = math.Abs(x)
		}
		_, _ = d.WriteString("f" + strconv.FormatFloat(x, 'g', -1, 64) + ";")
	case string:
		_, _ = d.WriteString("s" + strconv.Itoa(len(x)) + ":" + x + ";")
	default:
		return false
	}
	return true
}
