package models

import (
	"encoding/json"
	"time"
)

// EventType is the topic an event is published under.
type EventType string

const (
	// Workflow events
	EventTypeWorkflowCreated  EventType = "WorkflowCreated"
	EventTypeWorkflowUpdated  EventType = "WorkflowUpdated"
	EventTypeWorkflowRejected EventType = "WorkflowRejected"
	EventTypeWorkflowCanceled EventType = "WorkflowCanceled"

	// Document events
	EventTypeDocumentCreated       EventType = "DocumentCreated"
	EventTypeDocumentSubmitted     EventType = "DocumentSubmitted"
	EventTypeDocumentApproved      EventType = "DocumentApproved"
	EventTypeDocumentRejected      EventType = "DocumentRejected"
	EventTypeDocumentRevoked       EventType = "DocumentRevoked"
	EventTypeDocumentStatusUpdated EventType = "DocumentStatusUpdated"
)

// EntityType identifies the type of entity an event or history entry relates to.
type EntityType string

const (
	EntityTypeWorkflow EntityType = "workflow"
	EntityTypeDocument EntityType = "document"
)

// Event represents an append-only outbox entry.
type Event struct {
	// ID is the unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the topic.
	Type EventType `json:"type"`

	// EntityType identifies what kind of entity this event relates to.
	EntityType EntityType `json:"entity_type"`

	// EntityID is the ID of the related entity.
	EntityID string `json:"entity_id"`

	// TxRef is the transaction the event was produced by.
	TxRef string `json:"tx_ref,omitempty"`

	// Payload contains event-specific data.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Metadata contains additional context.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// WorkflowCreatedPayload is the payload for WorkflowCreated events.
type WorkflowCreatedPayload struct {
	ID          string        `json:"id"`
	Kind        WorkflowKind  `json:"kind"`
	TargetID    string        `json:"target_id"`
	RequesterID string        `json:"requester_id"`
	State       WorkflowState `json:"state"`
}

// WorkflowUpdatedPayload is the payload for WorkflowUpdated events.
type WorkflowUpdatedPayload struct {
	ID          string        `json:"id"`
	State       WorkflowState `json:"state"`
	ApproverID  string        `json:"approver_id"`
	AllApproved bool          `json:"all_approved"`
}

// WorkflowRejectedPayload is the payload for WorkflowRejected events.
type WorkflowRejectedPayload struct {
	ID         string        `json:"id"`
	State      WorkflowState `json:"state"`
	RejectedBy string        `json:"rejected_by"`
	Reason     string        `json:"reason"`
}

// WorkflowCanceledPayload is the payload for WorkflowCanceled events.
type WorkflowCanceledPayload struct {
	ID         string        `json:"id"`
	State      WorkflowState `json:"state"`
	CanceledBy string        `json:"canceled_by"`
	Reason     string        `json:"reason"`
}

// DocumentEventPayload is the payload shared by document lifecycle events.
type DocumentEventPayload struct {
	ID       string        `json:"id"`
	Type     string        `json:"type,omitempty"`
	OwnerID  string        `json:"owner_id,omitempty"`
	IssuerID string        `json:"issuer_id,omitempty"`
	State    DocumentState `json:"state"`
	OldState DocumentState `json:"old_state,omitempty"`
	Actor    string        `json:"actor,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Comment  string        `json:"comment,omitempty"`
}
