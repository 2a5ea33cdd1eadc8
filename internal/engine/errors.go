package engine

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures. Every error returned by an Engine method
// carries exactly one kind.
type Kind string

const (
	KindAlreadyExists Kind = "already_exists"
	KindNotFound      Kind = "not_found"
	KindInvalidInput  Kind = "invalid_input"
	KindForbidden     Kind = "forbidden"
	KindInvalidState  Kind = "invalid_state"
	KindNotAnApprover Kind = "not_an_approver"
	KindConflict      Kind = "conflict"
	KindInternal      Kind = "internal"
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrAlreadyExists = errors.New("already exists")
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidState  = errors.New("invalid state")
	ErrNotAnApprover = errors.New("not an approver")
	ErrConflict      = errors.New("concurrent modification")
)

var kindSentinels = map[Kind]error{
	KindAlreadyExists: ErrAlreadyExists,
	KindNotFound:      ErrNotFound,
	KindInvalidInput:  ErrInvalidInput,
	KindForbidden:     ErrForbidden,
	KindInvalidState:  ErrInvalidState,
	KindNotAnApprover: ErrNotAnApprover,
	KindConflict:      ErrConflict,
}

// Error is the error type returned by the engine.
type Error struct {
	Kind Kind
	Op   string
	ID   string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.ID, msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Kind
	}
	return KindInternal
}

func newError(kind Kind, op, id string, err error) *Error {
	if err == nil {
		err = kindSentinels[kind]
	}
	return &Error{Kind: kind, Op: op, ID: id, Err: err}
}

func errorf(kind Kind, op, id, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, ID: id, Err: fmt.Errorf(format, args...)}
}
