// Package stack is an immutable linked stack. Push returns a new stack and
// never modifies its input, so a stack may be shared by concurrent tasks
// that each extend it.
package stack

type Stack[T any] struct {
	Value T
	next  *Stack[T]
	size  int
}

// Push returns a new stack with value on top of s. s may be nil.
func Push[T any](s *Stack[T], value T) *Stack[T] {
	return &Stack[T]{Value: value, next: s, size: s.Len() + 1}
}

// Pop returns the top value and the rest of the stack. It panics on nil.
func Pop[T any](s *Stack[T]) (T, *Stack[T]) {
	return s.Value, s.next
}

// Len returns the number of values; 0 for nil.
func (s *Stack[T]) Len() int {
	if s == nil {
		return 0
	}
	return s.size
}

// Slice returns the values from bottom to top.
func (s *Stack[T]) Slice() []T {
	out := make([]T, s.Len())
	for i, cur := len(out)-1, s; cur != nil; i, cur = i-1, cur.next {
		out[i] = cur.Value
	}
	return out
}
