// Package models defines the core domain types for the approval engine.
package models

import (
	"errors"
	"strings"
)

// Role is the sole authorization input attached to a caller.
type Role string

const (
	RoleCitizen  Role = "citizen"
	RoleOfficer  Role = "officer"
	RoleChairman Role = "chairman"
)

// ErrInvalidRole is returned when a role attribute is not recognized.
var ErrInvalidRole = errors.New("invalid role")

// Roles lists every recognized role.
func Roles() []Role {
	return []Role{RoleCitizen, RoleOfficer, RoleChairman}
}

// IsValid reports whether the role is recognized.
func (r Role) IsValid() bool {
	switch r {
	case RoleCitizen, RoleOfficer, RoleChairman:
		return true
	default:
		return false
	}
}

// ParseRole normalizes a free-form role attribute.
func ParseRole(value string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if !role.IsValid() {
		return "", ErrInvalidRole
	}
	return role, nil
}

// Actor is the caller of an operation as supplied by the identity provider.
type Actor struct {
	// ID is the caller identifier.
	ID string `json:"id"`

	// Role is the caller's role attribute.
	Role Role `json:"role"`
}
