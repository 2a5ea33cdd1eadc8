package models

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// WorkflowKind categorizes what a workflow approves.
type WorkflowKind string

const (
	WorkflowKindDocument          WorkflowKind = "DOCUMENT"
	WorkflowKindUserRole          WorkflowKind = "USER_ROLE"
	WorkflowKindSystemConfig      WorkflowKind = "SYSTEM_CONFIG"
	WorkflowKindImportantDocument WorkflowKind = "IMPORTANT_DOCUMENT"
)

// IsValid reports whether the kind is recognized.
func (k WorkflowKind) IsValid() bool {
	switch k {
	case WorkflowKindDocument, WorkflowKindUserRole, WorkflowKindSystemConfig, WorkflowKindImportantDocument:
		return true
	default:
		return false
	}
}

// WorkflowState is the lifecycle state of an approval workflow.
type WorkflowState string

const (
	WorkflowStatePending  WorkflowState = "PENDING"
	WorkflowStateApproved WorkflowState = "APPROVED"
	WorkflowStateRejected WorkflowState = "REJECTED"
	WorkflowStateCanceled WorkflowState = "CANCELED"
)

// IsValid reports whether the state is recognized.
func (s WorkflowState) IsValid() bool {
	switch s {
	case WorkflowStatePending, WorkflowStateApproved, WorkflowStateRejected, WorkflowStateCanceled:
		return true
	default:
		return false
	}
}

// ApproverStatus is an individual approver's decision.
type ApproverStatus string

const (
	ApproverStatusPending  ApproverStatus = "PENDING"
	ApproverStatusApproved ApproverStatus = "APPROVED"
	ApproverStatusRejected ApproverStatus = "REJECTED"
)

// Priority ranks a workflow for reviewers.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// IsValid reports whether the priority is recognized.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// Workflow validation errors.
var (
	ErrInvalidWorkflowID    = errors.New("workflow id is required")
	ErrInvalidWorkflowKind  = errors.New("unrecognized workflow kind")
	ErrInvalidTarget        = errors.New("target id is required")
	ErrNoApprovers          = errors.New("at least one approver is required")
	ErrInvalidPriority      = errors.New("unrecognized priority")
	ErrInvalidWorkflowState = errors.New("unrecognized workflow state")
	ErrInvalidDetails       = errors.New("details must be valid JSON")
)

// Approver is one sign-off slot on a workflow.
type Approver struct {
	// ID identifies the approver.
	ID string `json:"id"`

	// Status is the approver's decision.
	Status ApproverStatus `json:"status"`

	// DecidedAt is when the approver decided.
	DecidedAt *time.Time `json:"decided_at,omitempty"`

	// Comment is the approver's optional note.
	Comment string `json:"comment,omitempty"`
}

// Workflow is a multi-approver approval process for a target entity.
type Workflow struct {
	// ID is the caller-supplied unique identifier.
	ID string `json:"id"`

	// Kind categorizes what is being approved.
	Kind WorkflowKind `json:"kind"`

	// TargetID is the opaque id of the thing being approved.
	TargetID string `json:"target_id"`

	// RequesterID is who opened the workflow.
	RequesterID string `json:"requester_id"`

	// Approvers is fixed at creation; ids are unique.
	Approvers []Approver `json:"approvers"`

	// Details carries request-specific data.
	Details json.RawMessage `json:"details,omitempty"`

	// Priority ranks the workflow.
	Priority Priority `json:"priority"`

	// Deadline is an optional due date.
	Deadline *time.Time `json:"deadline,omitempty"`

	// State is the current lifecycle state.
	State WorkflowState `json:"state"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	RejectedBy      string `json:"rejected_by,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	CanceledBy      string `json:"canceled_by,omitempty"`
	CancelReason    string `json:"cancel_reason,omitempty"`

	// Version is the store's optimistic concurrency token. It is not serialized.
	Version int64 `json:"-"`
}

// Approver returns the approver entry for id.
func (w *Workflow) Approver(id string) (*Approver, bool) {
	for i := range w.Approvers {
		if w.Approvers[i].ID == id {
			return &w.Approvers[i], true
		}
	}
	return nil, false
}

// ApprovedCount returns how many approvers have approved.
func (w *Workflow) ApprovedCount() int {
	count := 0
	for _, approver := range w.Approvers {
		if approver.Status == ApproverStatusApproved {
			count++
		}
	}
	return count
}

// AllApproved reports whether every approver has approved.
func (w *Workflow) AllApproved() bool {
	return len(w.Approvers) > 0 && w.ApprovedCount() == len(w.Approvers)
}

// Clone returns a deep copy safe to mutate.
func (w *Workflow) Clone() *Workflow {
	clone := *w
	clone.Approvers = make([]Approver, len(w.Approvers))
	copy(clone.Approvers, w.Approvers)
	if w.Details != nil {
		clone.Details = append(json.RawMessage(nil), w.Details...)
	}
	return &clone
}

// Validate checks the fields required at creation.
func (w *Workflow) Validate() error {
	validation := &ValidationErrors{}
	validation.Require("id", w.ID, ErrInvalidWorkflowID)
	if !w.Kind.IsValid() {
		validation.Reject("kind", ErrInvalidWorkflowKind)
	}
	validation.Require("target_id", w.TargetID, ErrInvalidTarget)
	if len(w.Approvers) == 0 {
		validation.Reject("approvers", ErrNoApprovers)
	}
	if !w.Priority.IsValid() {
		validation.Reject("priority", ErrInvalidPriority)
	}
	if len(w.Details) > 0 && !json.Valid(w.Details) {
		validation.Reject("details", ErrInvalidDetails)
	}
	return validation.Err()
}

// NormalizeApprovers trims ids, drops empties and collapses duplicates,
// keeping first-seen order.
func NormalizeApprovers(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// WorkflowSummary is the projection returned by workflow queries.
type WorkflowSummary struct {
	ID            string        `json:"id"`
	Kind          WorkflowKind  `json:"kind"`
	TargetID      string        `json:"target_id"`
	RequesterID   string        `json:"requester_id"`
	State         WorkflowState `json:"state"`
	Priority      Priority      `json:"priority"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	Deadline      *time.Time    `json:"deadline,omitempty"`
	ApproverCount int           `json:"approver_count"`
	ApprovedCount int           `json:"approved_count"`
}

// Summary projects the workflow for listings.
func (w *Workflow) Summary() WorkflowSummary {
	return WorkflowSummary{
		ID:            w.ID,
		Kind:          w.Kind,
		TargetID:      w.TargetID,
		RequesterID:   w.RequesterID,
		State:         w.State,
		Priority:      w.Priority,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
		CompletedAt:   w.CompletedAt,
		Deadline:      w.Deadline,
		ApproverCount: len(w.Approvers),
		ApprovedCount: w.ApprovedCount(),
	}
}
