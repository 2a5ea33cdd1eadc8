// Package identity resolves the caller of an operation into a models.Actor.
//
// A Provider exposes the caller id and named attributes. The only attribute
// authorization reads is "role"; a missing or unrecognized role resolves to
// an error rather than a default role.
package identity

import (
	"errors"
	"fmt"

	"github.com/civicledger/approvald/internal/models"
)

// RoleAttribute is the attribute name carrying the caller role.
const RoleAttribute = "role"

var (
	// ErrNoCaller is returned when the provider cannot name the caller.
	ErrNoCaller = errors.New("caller identity unavailable")

	// ErrNoRole is returned when the caller carries no role attribute.
	ErrNoRole = errors.New("caller has no role attribute")
)

// Provider supplies the caller id and attributes for one request.
type Provider interface {
	CallerID() (string, error)
	CallerAttribute(name string) (value string, found bool, err error)
}

// Resolve reads the caller id and role from p.
func Resolve(p Provider) (models.Actor, error) {
	id, err := p.CallerID()
	if err != nil {
		return models.Actor{}, fmt.Errorf("%w: %v", ErrNoCaller, err)
	}
	if id == "" {
		return models.Actor{}, ErrNoCaller
	}

	value, found, err := p.CallerAttribute(RoleAttribute)
	if err != nil {
		return models.Actor{}, fmt.Errorf("read role attribute: %w", err)
	}
	if !found || value == "" {
		return models.Actor{}, ErrNoRole
	}
	role, err := models.ParseRole(value)
	if err != nil {
		return models.Actor{}, fmt.Errorf("%w: %q", err, value)
	}
	return models.Actor{ID: id, Role: role}, nil
}

// Static is a fixed identity, used by the CLI and tests.
type Static struct {
	ID         string
	Attributes map[string]string
}

// NewStatic returns a Static identity with the given role.
func NewStatic(id string, role models.Role) *Static {
	return &Static{
		ID:         id,
		Attributes: map[string]string{RoleAttribute: string(role)},
	}
}

// CallerID implements Provider.
func (s *Static) CallerID() (string, error) {
	return s.ID, nil
}

// CallerAttribute implements Provider.
func (s *Static) CallerAttribute(name string) (string, bool, error) {
	value, ok := s.Attributes[name]
	return value, ok, nil
}
