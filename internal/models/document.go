package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DocumentState is the stored lifecycle state of a document.
type DocumentState string

const (
	DocumentStateDraft           DocumentState = "DRAFT"
	DocumentStatePendingApproval DocumentState = "PENDING_APPROVAL"
	DocumentStateActive          DocumentState = "ACTIVE"
	DocumentStateRevoked         DocumentState = "REVOKED"

	// DocumentStateExpired is derived from the validity window at read time.
	// It is never stored.
	DocumentStateExpired DocumentState = "EXPIRED"
)

// IsValid reports whether the state can be stored.
func (s DocumentState) IsValid() bool {
	switch s {
	case DocumentStateDraft, DocumentStatePendingApproval, DocumentStateActive, DocumentStateRevoked:
		return true
	default:
		return false
	}
}

// Unlimited is the validity sentinel accepted by ParseValidity.
const Unlimited = "UNLIMITED"

// ElevatedApprovalKey is the metadata key that marks a document as requiring
// chairman approval.
const ElevatedApprovalKey = "requires_elevated_approval"

// Document validation errors.
var (
	ErrInvalidDocumentID    = errors.New("document id is required")
	ErrInvalidDocumentType  = errors.New("document type is required")
	ErrInvalidOwner         = errors.New("owner id is required")
	ErrInvalidIssuer        = errors.New("issuer id is required")
	ErrInvalidContentHash   = errors.New("content hash is required")
	ErrInvalidValidity      = errors.New("valid_until must be after issue_date")
	ErrInvalidDocumentState = errors.New("unrecognized document state")
)

// Document is an issued credential owned by a citizen.
type Document struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	OwnerID     string         `json:"owner_id"`
	IssuerID    string         `json:"issuer_id"`
	ContentHash string         `json:"content_hash"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	// IssueDate starts the validity window.
	IssueDate time.Time `json:"issue_date"`

	// ValidUntil ends the validity window; nil means no expiry.
	ValidUntil *time.Time `json:"valid_until,omitempty"`

	State DocumentState `json:"state"`

	ApprovedBy      string     `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	ApprovalComment string     `json:"approval_comment,omitempty"`

	RejectedBy      string     `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`

	RevokedBy        string     `json:"revoked_by,omitempty"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevocationReason string     `json:"revocation_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version is the store's optimistic concurrency token. It is not serialized.
	Version int64 `json:"-"`
}

// IsExpired reports whether the validity window ended before now.
func (d *Document) IsExpired(now time.Time) bool {
	return d.ValidUntil != nil && d.ValidUntil.Before(now)
}

// RequiresElevatedApproval reports whether the metadata demands a chairman.
func (d *Document) RequiresElevatedApproval() bool {
	value, ok := d.Metadata[ElevatedApprovalKey]
	if !ok {
		return false
	}
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	default:
		return false
	}
}

// Clone returns a deep copy safe to mutate. Metadata values are shared.
func (d *Document) Clone() *Document {
	clone := *d
	if d.Metadata != nil {
		clone.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// Validate checks the fields required at creation.
func (d *Document) Validate() error {
	validation := &ValidationErrors{}
	validation.Require("id", d.ID, ErrInvalidDocumentID)
	validation.Require("type", d.Type, ErrInvalidDocumentType)
	validation.Require("owner_id", d.OwnerID, ErrInvalidOwner)
	validation.Require("issuer_id", d.IssuerID, ErrInvalidIssuer)
	validation.Require("content_hash", d.ContentHash, ErrInvalidContentHash)
	if d.ValidUntil != nil && !d.ValidUntil.After(d.IssueDate) {
		validation.Reject("valid_until", ErrInvalidValidity)
	}
	return validation.Err()
}

// ParseValidity parses a validity bound. Empty or UNLIMITED yields nil.
func ParseValidity(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, Unlimited) {
		return nil, nil
	}
	t, err := ParseDate(value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ParseDate accepts RFC3339 timestamps or YYYY-MM-DD dates.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q: expected RFC3339 or YYYY-MM-DD", value)
}

// ParseMetadata decodes a JSON object into a metadata bag.
func ParseMetadata(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, fmt.Errorf("metadata must be a JSON object: %w", err)
	}
	return metadata, nil
}

// DocumentSummary is the projection returned by document queries.
type DocumentSummary struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	OwnerID    string        `json:"owner_id"`
	IssuerID   string        `json:"issuer_id"`
	State      DocumentState `json:"state"`
	IssueDate  time.Time     `json:"issue_date"`
	ValidUntil *time.Time    `json:"valid_until,omitempty"`
	Expired    bool          `json:"expired"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Summary projects the document for listings at time now.
func (d *Document) Summary(now time.Time) DocumentSummary {
	return DocumentSummary{
		ID:         d.ID,
		Type:       d.Type,
		OwnerID:    d.OwnerID,
		IssuerID:   d.IssuerID,
		State:      d.State,
		IssueDate:  d.IssueDate,
		ValidUntil: d.ValidUntil,
		Expired:    d.IsExpired(now),
		UpdatedAt:  d.UpdatedAt,
	}
}

// VerifyResult reports a document check. It is returned even when the
// document does not exist.
type VerifyResult struct {
	ID            string        `json:"id"`
	Exists        bool          `json:"exists"`
	Verified      bool          `json:"verified"`
	IsActive      bool          `json:"is_active"`
	IsExpired     bool          `json:"is_expired"`
	DataIntegrity bool          `json:"data_integrity"`
	State         DocumentState `json:"state,omitempty"`
	CheckedAt     time.Time     `json:"checked_at"`
}
