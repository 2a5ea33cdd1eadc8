package models

import (
	"errors"
	"strings"
)

// ErrReasonRequired is returned when a reject, cancel or revoke carries no reason.
var ErrReasonRequired = errors.New("reason is required")

// FieldError is one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (f FieldError) Error() string {
	if f.Field == "" {
		return f.Message
	}
	return f.Field + ": " + f.Message
}

func (f FieldError) Unwrap() error {
	return f.Cause
}

// ValidationErrors collects every rejected field of a create request, so a
// caller sees all problems at once.
type ValidationErrors struct {
	Errors []FieldError `json:"errors"`
}

// Reject records cause against field. A nil cause is ignored.
func (v *ValidationErrors) Reject(field string, cause error) {
	if cause == nil {
		return
	}
	v.Errors = append(v.Errors, FieldError{Field: field, Message: cause.Error(), Cause: cause})
}

// Require rejects field with cause when value is blank.
func (v *ValidationErrors) Require(field, value string, cause error) {
	if strings.TrimSpace(value) == "" {
		v.Reject(field, cause)
	}
}

// Fields lists the rejected fields in the order they were recorded.
func (v *ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		fields = append(fields, e.Field)
	}
	return fields
}

// Err returns v as an error, or nil when nothing was rejected.
func (v *ValidationErrors) Err() error {
	if v == nil || len(v.Errors) == 0 {
		return nil
	}
	return v
}

func (v *ValidationErrors) Error() string {
	if v == nil || len(v.Errors) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// Is matches any recorded cause, so errors.Is(err, ErrNoApprovers) works on
// the aggregate.
func (v *ValidationErrors) Is(target error) bool {
	if v == nil {
		return false
	}
	for _, e := range v.Errors {
		if e.Cause != nil && errors.Is(e.Cause, target) {
			return true
		}
	}
	return false
}

// RequireReason trims reason and rejects it when empty.
func RequireReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	validation := &ValidationErrors{}
	validation.Require("reason", reason, ErrReasonRequired)
	return reason, validation.Err()
}
