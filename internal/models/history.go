package models

import "time"

// HistoryAction is the kind of state-changing action recorded in a history log.
type HistoryAction string

const (
	HistoryActionCreate   HistoryAction = "CREATE"
	HistoryActionSubmit   HistoryAction = "SUBMIT"
	HistoryActionApprove  HistoryAction = "APPROVE"
	HistoryActionReject   HistoryAction = "REJECT"
	HistoryActionCancel   HistoryAction = "CANCEL"
	HistoryActionRevoke   HistoryAction = "REVOKE"
	HistoryActionOverride HistoryAction = "OVERRIDE"
	HistoryActionVerify   HistoryAction = "VERIFY"
)

// HistoryEntry is one append-only record of an action on a workflow or document.
type HistoryEntry struct {
	// ID is the unique identifier for the entry.
	ID string `json:"id"`

	// EntityType is workflow or document.
	EntityType EntityType `json:"entity_type"`

	// EntityID is the workflow or document id.
	EntityID string `json:"entity_id"`

	// Action is what happened.
	Action HistoryAction `json:"action"`

	// Actor is the caller that performed the action.
	Actor string `json:"actor"`

	// ActorRole is the caller's role at the time.
	ActorRole Role `json:"actor_role,omitempty"`

	// Timestamp is when the action happened.
	Timestamp time.Time `json:"timestamp"`

	// TxRef is the transaction reference the action committed under.
	TxRef string `json:"tx_ref"`

	FromState string `json:"from_state,omitempty"`
	ToState   string `json:"to_state,omitempty"`

	// Details holds action-specific metadata (reason, approver id, outcome).
	Details map[string]string `json:"details,omitempty"`
}
