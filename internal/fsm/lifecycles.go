package fsm

import "github.com/civicledger/approvald/internal/models"

// Action names a lifecycle operation.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionCancel  Action = "cancel"
	ActionSubmit  Action = "submit"
	ActionRevoke  Action = "revoke"
)

// WorkflowContext is evaluated by workflow guards.
type WorkflowContext struct {
	// AllApproved is computed after the approver's status has been updated.
	AllApproved bool
}

// Workflow is the approval workflow lifecycle.
var Workflow = New([]Transition[models.WorkflowState, Action, WorkflowContext]{
	{
		From:   models.WorkflowStatePending,
		Action: ActionApprove,
		To:     models.WorkflowStateApproved,
		Guard:  func(c WorkflowContext) bool { return c.AllApproved },
	},
	{From: models.WorkflowStatePending, Action: ActionApprove, To: models.WorkflowStatePending},
	{From: models.WorkflowStatePending, Action: ActionReject, To: models.WorkflowStateRejected},
	{From: models.WorkflowStatePending, Action: ActionCancel, To: models.WorkflowStateCanceled},
}, models.WorkflowStateApproved, models.WorkflowStateRejected, models.WorkflowStateCanceled)

// Document is the document lifecycle. Rejection returns the document to draft.
var Document = New([]Transition[models.DocumentState, Action, struct{}]{
	{From: models.DocumentStateDraft, Action: ActionSubmit, To: models.DocumentStatePendingApproval},
	{From: models.DocumentStatePendingApproval, Action: ActionApprove, To: models.DocumentStateActive},
	{From: models.DocumentStatePendingApproval, Action: ActionReject, To: models.DocumentStateDraft},
	{From: models.DocumentStateActive, Action: ActionRevoke, To: models.DocumentStateRevoked},
}, models.DocumentStateRevoked)
