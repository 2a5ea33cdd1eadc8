// Package policy holds the role-based authorization table for lifecycle
// operations.
package policy

import (
	"errors"
	"fmt"

	"github.com/civicledger/approvald/internal/models"
)

// ErrForbidden is returned when no rule grants the caller's role.
var ErrForbidden = errors.New("forbidden")

// Operation is a closed set of guarded operations.
type Operation string

const (
	OpWorkflowCreate  Operation = "workflow.create"
	OpWorkflowApprove Operation = "workflow.approve"
	OpWorkflowReject  Operation = "workflow.reject"
	OpWorkflowCancel  Operation = "workflow.cancel"

	OpDocumentCreate   Operation = "document.create"
	OpDocumentSubmit   Operation = "document.submit"
	OpDocumentApprove  Operation = "document.approve"
	OpDocumentReject   Operation = "document.reject"
	OpDocumentRevoke   Operation = "document.revoke"
	OpDocumentOverride Operation = "document.override"
)

// Subject describes the entity an operation acts on.
type Subject struct {
	Kind        models.WorkflowKind
	RequesterID string
	IssuerID    string

	// Elevated marks documents whose metadata demands chairman approval.
	Elevated bool
}

// Rule grants an operation to roles when its predicate holds.
type Rule struct {
	Operation Operation
	Roles     []models.Role

	// AnyRole grants every role once When holds.
	AnyRole bool

	// When restricts the rule. Nil always applies.
	When func(actor models.Actor, subject Subject) bool
}

// Table is an ordered list of rules. The first applicable rule for an
// operation decides.
type Table struct {
	rules []Rule
}

// NewTable builds a table from rules in evaluation order.
func NewTable(rules ...Rule) *Table {
	return &Table{rules: append([]Rule(nil), rules...)}
}

// Authorize returns nil when actor may perform op on subject.
func (t *Table) Authorize(op Operation, actor models.Actor, subject Subject) error {
	for _, rule := range t.rules {
		if rule.Operation != op {
			continue
		}
		if rule.When != nil && !rule.When(actor, subject) {
			continue
		}
		if rule.AnyRole || hasRole(rule.Roles, actor.Role) {
			return nil
		}
		return fmt.Errorf("%w: %s not permitted for role %q", ErrForbidden, op, actor.Role)
	}
	return fmt.Errorf("%w: no rule for %s", ErrForbidden, op)
}

func hasRole(roles []models.Role, role models.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

var staff = []models.Role{models.RoleOfficer, models.RoleChairman}

var chairmanOnly = []models.Role{models.RoleChairman}

func isImportant(_ models.Actor, s Subject) bool {
	return s.Kind == models.WorkflowKindImportantDocument
}

func isRequester(a models.Actor, s Subject) bool {
	return s.RequesterID != "" && a.ID == s.RequesterID
}

func isIssuer(a models.Actor, s Subject) bool {
	return s.IssuerID != "" && a.ID == s.IssuerID
}

func isElevated(_ models.Actor, s Subject) bool {
	return s.Elevated
}

// Default returns the standard rule set.
func Default() *Table {
	return NewTable(
		Rule{Operation: OpWorkflowCreate, Roles: staff},
		Rule{Operation: OpWorkflowApprove, Roles: chairmanOnly, When: isImportant},
		Rule{Operation: OpWorkflowApprove, Roles: staff},
		Rule{Operation: OpWorkflowReject, Roles: staff},
		Rule{Operation: OpWorkflowCancel, AnyRole: true, When: isRequester},
		Rule{Operation: OpWorkflowCancel, Roles: chairmanOnly},

		Rule{Operation: OpDocumentCreate, Roles: staff},
		Rule{Operation: OpDocumentSubmit, AnyRole: true, When: isIssuer},
		Rule{Operation: OpDocumentSubmit, Roles: staff},
		Rule{Operation: OpDocumentApprove, Roles: chairmanOnly, When: isElevated},
		Rule{Operation: OpDocumentApprove, Roles: staff},
		Rule{Operation: OpDocumentReject, Roles: staff},
		Rule{Operation: OpDocumentRevoke, Roles: staff},
		Rule{Operation: OpDocumentOverride, Roles: staff},
	)
}
