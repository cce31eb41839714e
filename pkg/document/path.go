package document

import (
	"strconv"
	"strings"
)

const (
	// Any matches every element of an array.
	Any = "*"
	// ParentRef climbs one container level. Only association queries use it.
	ParentRef = "$parent"
)

// Path is a dotted field path split into segments, e.g. `children.*.ref`.
type Path []string

// ParsePath splits a dotted path. The empty string is the empty path.
func ParsePath(s string) Path {
	if s == "" {
		return nil
	}
	return strings.Split(s, ".")
}

func (p Path) String() string {
	return strings.Join(p, ".")
}

// Len returns the number of segments.
func (p Path) Len() int {
	return len(p)
}

// IsEmpty reports whether the path has no segments.
func (p Path) IsEmpty() bool {
	return len(p) == 0
}

// Last returns the final segment, or "" for the empty path.
func (p Path) Last() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Append returns a new path with segs appended. The receiver is never modified.
func (p Path) Append(segs ...string) Path {
	out := make(Path, 0, len(p)+len(segs))
	out = append(out, p...)
	return append(out, segs...)
}

// Concat returns p followed by q.
func (p Path) Concat(q Path) Path {
	return p.Append(q...)
}

// Prefix returns the first n segments.
func (p Path) Prefix(n int) Path {
	if n > len(p) {
		n = len(p)
	}
	return p.Append()[:n]
}

// Suffix returns the segments after the first n.
func (p Path) Suffix(n int) Path {
	if n > len(p) {
		return nil
	}
	return append(Path(nil), p[n:]...)
}

// Equal compares paths segment by segment.
func (p Path) Equal(q Path) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether q is a prefix of p, segment-wise and literally.
func (p Path) HasPrefix(q Path) bool {
	if len(q) > len(p) {
		return false
	}
	return p[:len(q)].Equal(q)
}

// MatchesPattern reports whether the concrete path p matches pattern, where
// `*` in the pattern matches any single segment.
func (p Path) MatchesPattern(pattern Path) bool {
	if len(p) != len(pattern) {
		return false
	}
	return matchSegments(p, pattern)
}

// MatchesPatternPrefix reports whether the first len(pattern) segments of p
// match pattern.
func (p Path) MatchesPatternPrefix(pattern Path) bool {
	if len(pattern) > len(p) {
		return false
	}
	return matchSegments(p[:len(pattern)], pattern)
}

// IsPatternPrefixOf reports whether p is a proper or equal prefix of pattern,
// where `*` in pattern matches any segment of p.
func (p Path) IsPatternPrefixOf(pattern Path) bool {
	if len(p) > len(pattern) {
		return false
	}
	return matchSegments(p, pattern[:len(p)])
}

func matchSegments(concrete, pattern Path) bool {
	for i := range pattern {
		if pattern[i] == Any {
			continue
		}
		if pattern[i] != concrete[i] {
			return false
		}
	}
	return true
}

// Generic replaces every array index segment with `*`.
func (p Path) Generic() Path {
	out := make(Path, len(p))
	for i, s := range p {
		if _, ok := Index(s); ok {
			out[i] = Any
		} else {
			out[i] = s
		}
	}
	return out
}

// HasWildcard reports whether any segment is `*`.
func (p Path) HasWildcard() bool {
	for _, s := range p {
		if s == Any {
			return true
		}
	}
	return false
}

// Index parses an array index segment.
func Index(seg string) (int, bool) {
	if seg == "" || seg[0] < '0' || seg[0] > '9' {
		return 0, false
	}
	n, err := strconv.Atoi(seg)
	if err != nil {
		return 0, false
	}
	return n, true
}
