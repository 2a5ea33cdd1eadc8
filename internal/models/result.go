package models

// TransitionResult is returned by every mutating operation. Events is the
// outbox produced by the transition; the store commits it with the state change.
type TransitionResult struct {
	Success        bool   `json:"success"`
	ID             string `json:"id"`
	ResultingState string `json:"resulting_state"`
	TxRef          string `json:"transaction_ref"`

	// AllApproved is set by workflow approvals.
	AllApproved *bool `json:"all_approved,omitempty"`

	// Message is informational, e.g. for idempotent no-ops.
	Message string `json:"message,omitempty"`

	Events []Event `json:"events,omitempty"`
}
