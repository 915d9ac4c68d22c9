// Package history keeps the undo/redo snapshots for one state manager.
package history

// Stack holds a current value plus linear undo and redo stacks of snapshots.
// Every value that enters the stack is cloned first, so callers may keep
// using what they passed in. A Stack is not safe for concurrent use.
type Stack[T any] struct {
	clone   func(T) T
	current T
	has     bool
	undo    []T
	redo    []T

	// last Record, kept so it can be reverted.
	rollback *frame[T]
}

type frame[T any] struct {
	prev    T
	hadPrev bool
	redo    []T
}

// New creates an empty stack. clone may be nil for types that are safe to
// copy by value.
func New[T any](clone func(T) T) *Stack[T] {
	if clone == nil {
		clone = func(v T) T { return v }
	}
	return &Stack[T]{clone: clone}
}

// Reset makes v the current value and discards both stacks.
func (s *Stack[T]) Reset(v T) {
	s.current = s.clone(v)
	s.has = true
	s.undo = nil
	s.redo = nil
	s.rollback = nil
}

// Clear discards the current value and both stacks.
func (s *Stack[T]) Clear() {
	var zero T
	s.current = zero
	s.has = false
	s.undo = nil
	s.redo = nil
	s.rollback = nil
}

// Current returns the current value, if any.
func (s *Stack[T]) Current() (T, bool) {
	if !s.has {
		var zero T
		return zero, false
	}
	return s.clone(s.current), true
}

// Record makes next the current value. The previous current value, if any,
// is pushed onto the undo stack and the redo stack is discarded.
func (s *Stack[T]) Record(next T) {
	s.rollback = &frame[T]{prev: s.current, hadPrev: s.has, redo: s.redo}
	if s.has {
		s.undo = append(s.undo, s.current)
	}
	s.current = s.clone(next)
	s.has = true
	s.redo = nil
}

// Rollback reverts the most recent Record. It reports false when there is
// nothing to revert, including after an Undo, Redo or Reset.
func (s *Stack[T]) Rollback() bool {
	f := s.rollback
	if f == nil {
		return false
	}
	s.rollback = nil
	if f.hadPrev {
		s.undo = s.undo[:len(s.undo)-1]
	}
	s.current = f.prev
	s.has = f.hadPrev
	s.redo = f.redo
	return true
}

// Amend replaces the current value without touching either stack. It is used
// to adopt the value a backing store returned for the last recorded change.
func (s *Stack[T]) Amend(v T) {
	s.current = s.clone(v)
	s.has = true
}

// Undo moves the current value onto the redo stack and returns the snapshot
// before it. It reports false when there is nothing to undo.
func (s *Stack[T]) Undo() (T, bool) {
	if len(s.undo) == 0 {
		var zero T
		return zero, false
	}
	prev := s.undo[len(s.undo)-1]
	s.undo = s.undo[:len(s.undo)-1]
	s.redo = append(s.redo, s.current)
	s.current = prev
	s.rollback = nil
	return s.clone(prev), true
}

// Redo is the mirror of Undo.
func (s *Stack[T]) Redo() (T, bool) {
	if len(s.redo) == 0 {
		var zero T
		return zero, false
	}
	next := s.redo[len(s.redo)-1]
	s.redo = s.redo[:len(s.redo)-1]
	s.undo = append(s.undo, s.current)
	s.current = next
	s.rollback = nil
	return s.clone(next), true
}

// Depth returns the number of undoable snapshots.
func (s *Stack[T]) Depth() int { return len(s.undo) }

// RedoDepth returns the number of redoable snapshots.
func (s *Stack[T]) RedoDepth() int { return len(s.redo) }
