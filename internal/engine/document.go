package engine

import (
	"context"
	"strings"
	"time"

	"github.com/civicledger/approvald/internal/fsm"
	"github.com/civicledger/approvald/internal/ledger"
	"github.com/civicledger/approvald/internal/models"
	"github.com/civicledger/approvald/internal/policy"
)

// CreateDocumentInput describes a new document draft.
type CreateDocumentInput struct {
	ID          string
	Type        string
	OwnerID     string
	IssuerID    string
	IssueDate   time.Time
	ValidUntil  *time.Time
	ContentHash string
	Metadata    map[string]any
}

// CreateDocument stores a new document in DRAFT.
func (e *Engine) CreateDocument(ctx context.Context, actor models.Actor, in CreateDocumentInput) (*models.TransitionResult, error) {
	const op = "create document"
	id := strings.TrimSpace(in.ID)

	if err := e.authorize(policy.OpDocumentCreate, id, actor, policy.Subject{}); err != nil {
		return nil, err
	}

	now := e.now()
	issuer := strings.TrimSpace(in.IssuerID)
	if issuer == "" {
		issuer = actor.ID
	}
	issueDate := in.IssueDate
	if issueDate.IsZero() {
		issueDate = now
	}

	d := &models.Document{
		ID:          id,
		Type:        strings.TrimSpace(in.Type),
		OwnerID:     strings.TrimSpace(in.OwnerID),
		IssuerID:    issuer,
		ContentHash: strings.TrimSpace(in.ContentHash),
		Metadata:    in.Metadata,
		IssueDate:   issueDate,
		ValidUntil:  in.ValidUntil,
		State:       models.DocumentStateDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := d.Validate(); err != nil {
		return nil, newError(KindInvalidInput, op, id, err)
	}

	key := ledger.DocumentKey(id)
	if err := e.exists(ctx, op, id, key); err != nil {
		return nil, err
	}

	txRef := e.txRef()
	event, err := e.newEvent(models.EventTypeDocumentCreated, models.EntityTypeDocument, id, txRef, now, models.DocumentEventPayload{
		ID:       id,
		Type:     d.Type,
		OwnerID:  d.OwnerID,
		IssuerID: d.IssuerID,
		State:    d.State,
		Actor:    actor.ID,
	})
	if err != nil {
		return nil, newError(KindInternal, op, id, err)
	}

	m := &mutation{
		op:     op,
		id:     id,
		key:    key,
		entity: d,
		history: documentEntry(id, models.HistoryActionCreate, actor, "", d.State, map[string]string{
			"type":     d.Type,
			"owner_id": d.OwnerID,
		}),
		events: []models.Event{event},
	}
	if err := e.commit(ctx, m, txRef, now); err != nil {
		return nil, err
	}

	lg := e.documentLog(ctx, id, actor)
	lg.Debug().Str("type", d.Type).Str("tx_ref", txRef).Msg("document created")

	return result(id, string(d.State), txRef, m.events), nil
}

// SubmitDocument moves a draft to PENDING_APPROVAL.
func (e *Engine) SubmitDocument(ctx context.Context, actor models.Actor, id string) (*models.TransitionResult, error) {
	const op = "submit document"

	current, err := e.loadDocument(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(policy.OpDocumentSubmit, id, actor, documentSubject(current)); err != nil {
		return nil, err
	}

	return e.transitionDocument(ctx, op, actor, current, fsm.ActionSubmit, documentChange{
		action:    models.HistoryActionSubmit,
		eventType: models.EventTypeDocumentSubmitted,
	})
}

// ApproveDocument activates a pending document. Documents marked for
// elevated approval require a chairman.
func (e *Engine) ApproveDocument(ctx context.Context, actor models.Actor, id, approverID, comment string) (*models.TransitionResult, error) {
	const op = "approve document"

	current, err := e.loadDocument(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(policy.OpDocumentApprove, id, actor, documentSubject(current)); err != nil {
		return nil, err
	}

	approverID = defaultActorID(approverID, actor)
	return e.transitionDocument(ctx, op, actor, current, fsm.ActionApprove, documentChange{
		action:    models.HistoryActionApprove,
		eventType: models.EventTypeDocumentApproved,
		comment:   comment,
		details:   map[string]string{"approver_id": approverID},
		apply: func(d *models.Document, now time.Time) {
			d.ApprovedBy = approverID
			d.ApprovedAt = &now
			d.ApprovalComment = comment
		},
	})
}

// RejectDocument returns a pending document to DRAFT for rework.
func (e *Engine) RejectDocument(ctx context.Context, actor models.Actor, id, rejectorID, reason string) (*models.TransitionResult, error) {
	const op = "reject document"

	current, err := e.loadDocument(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(policy.OpDocumentReject, id, actor, documentSubject(current)); err != nil {
		return nil, err
	}
	reason, err = models.RequireReason(reason)
	if err != nil {
		return nil, newError(KindInvalidInput, op, id, err)
	}

	rejectorID = defaultActorID(rejectorID, actor)
	return e.transitionDocument(ctx, op, actor, current, fsm.ActionReject, documentChange{
		action:    models.HistoryActionReject,
		eventType: models.EventTypeDocumentRejected,
		reason:    reason,
		details:   map[string]string{"rejector_id": rejectorID},
		apply: func(d *models.Document, now time.Time) {
			d.RejectedBy = rejectorID
			d.RejectedAt = &now
			d.RejectionReason = reason
		},
	})
}

// RevokeDocument permanently revokes an active document.
func (e *Engine) RevokeDocument(ctx context.Context, actor models.Actor, id, revokerID, reason string) (*models.TransitionResult, error) {
	const op = "revoke document"

	current, err := e.loadDocument(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(policy.OpDocumentRevoke, id, actor, documentSubject(current)); err != nil {
		return nil, err
	}
	reason, err = models.RequireReason(reason)
	if err != nil {
		return nil, newError(KindInvalidInput, op, id, err)
	}

	revokerID = defaultActorID(revokerID, actor)
	return e.transitionDocument(ctx, op, actor, current, fsm.ActionRevoke, documentChange{
		action:    models.HistoryActionRevoke,
		eventType: models.EventTypeDocumentRevoked,
		reason:    reason,
		details:   map[string]string{"revoker_id": revokerID},
		apply: func(d *models.Document, now time.Time) {
			d.RevokedBy = revokerID
			d.RevokedAt = &now
			d.RevocationReason = reason
		},
	})
}

// ForceDocumentStatus is an administrative override. It sets any storable
// state regardless of the lifecycle table and records the old and new state
// under an OVERRIDE history entry.
func (e *Engine) ForceDocumentStatus(ctx context.Context, actor models.Actor, id string, state models.DocumentState, reason string) (*models.TransitionResult, error) {
	const op = "force document status"

	current, err := e.loadDocument(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(policy.OpDocumentOverride, id, actor, documentSubject(current)); err != nil {
		return nil, err
	}
	if !state.IsValid() {
		return nil, errorf(KindInvalidInput, op, id, "%w: %q", models.ErrInvalidDocumentState, state)
	}
	if state == current.State {
		res := result(id, string(current.State), "", nil)
		res.Message = "document is already " + string(state)
		return res, nil
	}

	now := e.now()
	d := current.Clone()
	d.State = state
	d.UpdatedAt = now
	reason = strings.TrimSpace(reason)

	txRef := e.txRef()
	event, err := e.newEvent(models.EventTypeDocumentStatusUpdated, models.EntityTypeDocument, id, txRef, now, models.DocumentEventPayload{
		ID:       id,
		State:    state,
		OldState: current.State,
		Actor:    actor.ID,
		Reason:   reason,
	})
	if err != nil {
		return nil, newError(KindInternal, op, id, err)
	}

	details := map[string]string{
		"old_state": string(current.State),
		"new_state": string(state),
	}
	if reason != "" {
		details["reason"] = reason
	}
	m := &mutation{
		op:      op,
		id:      id,
		key:     ledger.DocumentKey(id),
		version: current.Version,
		entity:  d,
		history: documentEntry(id, models.HistoryActionOverride, actor, current.State, state, details),
		events:  []models.Event{event},
	}
	if err := e.commit(ctx, m, txRef, now); err != nil {
		return nil, err
	}

	lg := e.documentLog(ctx, id, actor)
	lg.Warn().
		Str("old_state", string(current.State)).
		Str("new_state", string(state)).
		Str("reason", reason).
		Str("tx_ref", txRef).
		Msg("document status overridden")

	return result(id, string(state), txRef, m.events), nil
}

// GetDocument returns the full document.
func (e *Engine) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	return e.loadDocument(ctx, "get document", id)
}

// DocumentHistory returns the document's history, oldest first.
func (e *Engine) DocumentHistory(ctx context.Context, id string) ([]models.HistoryEntry, error) {
	return e.history(ctx, "document history", id, ledger.DocumentKey(id))
}

// documentChange describes the side effects of one lifecycle transition.
type documentChange struct {
	action    models.HistoryAction
	eventType models.EventType
	reason    string
	comment   string
	details   map[string]string
	apply     func(d *models.Document, now time.Time)
}

func (e *Engine) transitionDocument(ctx context.Context, op string, actor models.Actor, current *models.Document, action fsm.Action, change documentChange) (*models.TransitionResult, error) {
	id := current.ID

	next, err := fsm.Document.Fire(current.State, action, struct{}{})
	if err != nil {
		return nil, newError(KindInvalidState, op, id, err)
	}

	now := e.now()
	d := current.Clone()
	d.State = next
	d.UpdatedAt = now
	if change.apply != nil {
		change.apply(d, now)
	}

	txRef := e.txRef()
	event, err := e.newEvent(change.eventType, models.EntityTypeDocument, id, txRef, now, models.DocumentEventPayload{
		ID:       id,
		OwnerID:  d.OwnerID,
		IssuerID: d.IssuerID,
		State:    d.State,
		OldState: current.State,
		Actor:    actor.ID,
		Reason:   change.reason,
		Comment:  change.comment,
	})
	if err != nil {
		return nil, newError(KindInternal, op, id, err)
	}

	details := make(map[string]string, len(change.details)+2)
	for k, v := range change.details {
		details[k] = v
	}
	if change.reason != "" {
		details["reason"] = change.reason
	}
	if change.comment != "" {
		details["comment"] = change.comment
	}

	m := &mutation{
		op:      op,
		id:      id,
		key:     ledger.DocumentKey(id),
		version: current.Version,
		entity:  d,
		history: documentEntry(id, change.action, actor, current.State, d.State, details),
		events:  []models.Event{event},
	}
	if err := e.commit(ctx, m, txRef, now); err != nil {
		return nil, err
	}

	lg := e.documentLog(ctx, id, actor)
	lg.Debug().
		Str("from", string(current.State)).
		Str("to", string(d.State)).
		Str("tx_ref", txRef).
		Msg("document transition")

	return result(id, string(d.State), txRef, m.events), nil
}

func (e *Engine) loadDocument(ctx context.Context, op, id string) (*models.Document, error) {
	var d models.Document
	version, err := e.load(ctx, op, id, ledger.DocumentKey(id), &d)
	if err != nil {
		return nil, err
	}
	d.Version = version
	return &d, nil
}

func documentSubject(d *models.Document) policy.Subject {
	return policy.Subject{IssuerID: d.IssuerID, Elevated: d.RequiresElevatedApproval()}
}

func documentEntry(id string, action models.HistoryAction, actor models.Actor, from, to models.DocumentState, details map[string]string) models.HistoryEntry {
	return models.HistoryEntry{
		EntityType: models.EntityTypeDocument,
		EntityID:   id,
		Action:     action,
		Actor:      actor.ID,
		ActorRole:  actor.Role,
		FromState:  string(from),
		ToState:    string(to),
		Details:    details,
	}
}
