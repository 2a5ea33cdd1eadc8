// Package fsm provides a small table-driven state machine shared by the
// workflow and document lifecycles.
package fsm

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition is returned when no transition matches.
var ErrIllegalTransition = errors.New("illegal transition")

// Transition is one row of a transition table.
type Transition[S ~string, A ~string, C any] struct {
	From   S
	Action A
	To     S

	// Guard must hold for the row to apply. Nil always holds.
	Guard func(C) bool
}

// Machine is an immutable state machine built from a transition table.
type Machine[S ~string, A ~string, C any] struct {
	transitions []Transition[S, A, C]
	terminal    map[S]struct{}
}

// New builds a machine. Rows are evaluated in order, so guarded rows must
// precede their unguarded fallbacks.
func New[S ~string, A ~string, C any](transitions []Transition[S, A, C], terminal ...S) *Machine[S, A, C] {
	m := &Machine[S, A, C]{
		transitions: append([]Transition[S, A, C](nil), transitions...),
		terminal:    make(map[S]struct{}, len(terminal)),
	}
	for _, s := range terminal {
		m.terminal[s] = struct{}{}
	}
	return m
}

// Fire returns the state reached by applying action from state.
func (m *Machine[S, A, C]) Fire(state S, action A, ctx C) (S, error) {
	if m.IsTerminal(state) {
		return state, fmt.Errorf("%w: %s is terminal", ErrIllegalTransition, state)
	}
	for _, t := range m.transitions {
		if t.From != state || t.Action != action {
			continue
		}
		if t.Guard != nil && !t.Guard(ctx) {
			continue
		}
		return t.To, nil
	}
	return state, fmt.Errorf("%w: cannot %s from %s", ErrIllegalTransition, action, state)
}

// Can reports whether action is legal from state.
func (m *Machine[S, A, C]) Can(state S, action A) bool {
	if m.IsTerminal(state) {
		return false
	}
	for _, t := range m.transitions {
		if t.From == state && t.Action == action {
			return true
		}
	}
	return false
}

// IsTerminal reports whether state permits no further transitions.
func (m *Machine[S, A, C]) IsTerminal(state S) bool {
	_, ok := m.terminal[state]
	return ok
}

// Actions lists the distinct actions available from state, in table order.
func (m *Machine[S, A, C]) Actions(from S) []A {
	if m.IsTerminal(from) {
		return nil
	}
	seen := make(map[A]struct{})
	var out []A
	for _, t := range m.transitions {
		if t.From != from {
			continue
		}
		if _, ok := seen[t.Action]; ok {
			continue
		}
		seen[t.Action] = struct{}{}
		out = append(out, t.Action)
	}
	return out
}
