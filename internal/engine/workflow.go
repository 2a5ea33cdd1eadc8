package engine

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/civicledger/approvald/internal/fsm"
	"github.com/civicledger/approvald/internal/ledger"
	"github.com/civicledger/approvald/internal/models"
	"github.com/civicledger/approvald/internal/policy"
)

// CreateWorkflowInput describes a new approval workflow.
type CreateWorkflowInput struct {
	ID          string
	Kind        models.WorkflowKind
	TargetID    string
	RequesterID string
	ApproverIDs []string
	Details     json.RawMessage
	Priority    models.Priority
	Deadline    *time.Time
}

// CreateWorkflow opens a PENDING workflow with every approver PENDING.
func (e *Engine) CreateWorkflow(ctx context.Context, actor models.Actor, in CreateWorkflowInput) (*models.TransitionResult, error) {
	const op = "create workflow"
	id := strings.TrimSpace(in.ID)

	if err := e.authorize(policy.OpWorkflowCreate, id, actor, policy.Subject{Kind: in.Kind}); err != nil {
		return nil, err
	}

	now := e.now()
	requester := strings.TrimSpace(in.RequesterID)
	if requester == "" {
		requester = actor.ID
	}
	priority := in.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}

	approverIDs := models.NormalizeApprovers(in.ApproverIDs)
	approvers := make([]models.Approver, 0, len(approverIDs))
	for _, approverID := range approverIDs {
		approvers = append(approvers, models.Approver{ID: approverID, Status: models.ApproverStatusPending})
	}

	w := &models.Workflow{
		ID:          id,
		Kind:        in.Kind,
		TargetID:    strings.TrimSpace(in.TargetID),
		RequesterID: requester,
		Approvers:   approvers,
		Details:     in.Details,
		Priority:    priority,
		Deadline:    in.Deadline,
		State:       models.WorkflowStatePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := w.Validate(); err != nil {
		return nil, newError(KindInvalidInput, op, id, err)
	}

	key := ledger.WorkflowKey(id)
	if err := e.exists(ctx, op, id, key); err != nil {
		return nil, err
	}

	txRef := e.txRef()
	event, err := e.newEvent(models.EventTypeWorkflowCreated, models.EntityTypeWorkflow, id, txRef, now, models.WorkflowCreatedPayload{
		ID:          id,
		Kind:        w.Kind,
		TargetID:    w.TargetID,
		RequesterID: w.RequesterID,
		State:       w.State,
	})
	if err != nil {
		return nil, newError(KindInternal, op, id, err)
	}

	m := &mutation{
		op:     op,
		id:     id,
		key:    key,
		entity: w,
		history: workflowEntry(w.ID, models.HistoryActionCreate, actor, "", w.State, map[string]string{
			"kind":      string(w.Kind),
			"target_id": w.TargetID,
			"approvers": strings.Join(approverIDs, ","),
		}),
		events: []models.Event{event},
	}
	if err := e.commit(ctx, m, txRef, now); err != nil {
		return nil, err
	}

	lg := e.workflowLog(ctx, id, actor)
	lg.Debug().
		Str("kind", string(w.Kind)).
		Int("approvers", len(approvers)).
		Str("tx_ref", txRef).
		Msg("workflow created")

	return result(id, string(w.State), txRef, m.events), nil
}

// ApproveWorkflow records approverID's approval. A repeated approval by the
// same approver succeeds without writing anything.
func (e *Engine) ApproveWorkflow(ctx context.Context, actor models.Actor, id, approverID, comment string) (*models.TransitionResult, error) {
	const op = "approve workflow"

	current, err := e.loadWorkflow(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(policy.OpWorkflowApprove, id, actor, workflowSubject(current)); err != nil {
		return nil, err
	}

	approverID = defaultActorID(approverID, actor)
	slot, ok := current.Approver(approverID)
	if ok && slot.Status == models.ApproverStatusApproved {
		txRef, err := e.approvalRef(ctx, op, id, approverID)
		if err != nil {
			return nil, err
		}
		allApproved := current.AllApproved()
		res := result(id, string(current.State), txRef, nil)
		res.AllApproved = &allApproved
		res.Message = "approver " + approverID + " has already approved"
		return res, nil
	}
	if !fsm.Workflow.Can(current.State, fsm.ActionApprove) {
		return nil, errorf(KindInvalidState, op, id, "workflow is %s", current.State)
	}
	if !ok {
		return nil, errorf(KindNotAnApprover, op, id, "%s is not an approver", approverID)
	}

	now := e.now()
	w := current.Clone()
	slot, _ = w.Approver(approverID)
	slot.Status = models.ApproverStatusApproved
	slot.DecidedAt = &now
	slot.Comment = comment

	allApproved := w.AllApproved()
	next, err := fsm.Workflow.Fire(w.State, fsm.ActionApprove, fsm.WorkflowContext{AllApproved: allApproved})
	if err != nil {
		return nil, newError(KindInvalidState, op, id, err)
	}
	from := w.State
	w.State = next
	w.UpdatedAt = now
	if fsm.Workflow.IsTerminal(next) {
		w.CompletedAt = &now
	}

	txRef := e.txRef()
	event, err := e.newEvent(models.EventTypeWorkflowUpdated, models.EntityTypeWorkflow, id, txRef, now, models.WorkflowUpdatedPayload{
		ID:          id,
		State:       w.State,
		ApproverID:  approverID,
		AllApproved: allApproved,
	})
	if err != nil {
		return nil, newError(KindInternal, op, id, err)
	}

	details := map[string]string{
		"approver_id":  approverID,
		"all_approved": strconv.FormatBool(allApproved),
	}
	if comment != "" {
		details["comment"] = comment
	}
	m := &mutation{
		op:      op,
		id:      id,
		key:     ledger.WorkflowKey(id),
		version: current.Version,
		entity:  w,
		history: workflowEntry(id, models.HistoryActionApprove, actor, from, w.State, details),
		events:  []models.Event{event},
	}
	if err := e.commit(ctx, m, txRef, now); err != nil {
		return nil, err
	}

	lg := e.workflowLog(ctx, id, actor)
	lg.Debug().
		Str("approver_id", approverID).
		Bool("all_approved", allApproved).
		Str("state", string(w.State)).
		Msg("workflow approval recorded")

	res := result(id, string(w.State), txRef, m.events)
	res.AllApproved = &allApproved
	return res, nil
}

// RejectWorkflow terminates the workflow on a single rejection. Other
// approvers keep their status.
func (e *Engine) RejectWorkflow(ctx context.Context, actor models.Actor, id, approverID, reason string) (*models.TransitionResult, error) {
	const op = "reject workflow"

	current, err := e.loadWorkflow(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(policy.OpWorkflowReject, id, actor, workflowSubject(current)); err != nil {
		return nil, err
	}
	if !fsm.Workflow.Can(current.State, fsm.ActionReject) {
		return nil, errorf(KindInvalidState, op, id, "workflow is %s", current.State)
	}
	reason, err = models.RequireReason(reason)
	if err != nil {
		return nil, newError(KindInvalidInput, op, id, err)
	}

	approverID = defaultActorID(approverID, actor)
	if _, ok := current.Approver(approverID); !ok {
		return nil, errorf(KindNotAnApprover, op, id, "%s is not an approver", approverID)
	}

	next, err := fsm.Workflow.Fire(current.State, fsm.ActionReject, fsm.WorkflowContext{})
	if err != nil {
		return nil, newError(KindInvalidState, op, id, err)
	}

	now := e.now()
	w := current.Clone()
	slot, _ := w.Approver(approverID)
	slot.Status = models.ApproverStatusRejected
	slot.DecidedAt = &now
	slot.Comment = reason
	w.State = next
	w.UpdatedAt = now
	w.CompletedAt = &now
	w.RejectedBy = approverID
	w.RejectionReason = reason

	txRef := e.txRef()
	event, err := e.newEvent(models.EventTypeWorkflowRejected, models.EntityTypeWorkflow, id, txRef, now, models.WorkflowRejectedPayload{
		ID:         id,
		State:      w.State,
		RejectedBy: approverID,
		Reason:     reason,
	})
	if err != nil {
		return nil, newError(KindInternal, op, id, err)
	}

	m := &mutation{
		op:      op,
		id:      id,
		key:     ledger.WorkflowKey(id),
		version: current.Version,
		entity:  w,
		history: workflowEntry(id, models.HistoryActionReject, actor, current.State, w.State, map[string]string{
			"approver_id": approverID,
			"reason":      reason,
		}),
		events: []models.Event{event},
	}
	if err := e.commit(ctx, m, txRef, now); err != nil {
		return nil, err
	}

	lg := e.workflowLog(ctx, id, actor)
	lg.Debug().Str("rejected_by", approverID).Str("tx_ref", txRef).Msg("workflow rejected")

	return result(id, string(w.State), txRef, m.events), nil
}

// CancelWorkflow withdraws a pending workflow. Only the requester or a
// chairman may cancel.
func (e *Engine) CancelWorkflow(ctx context.Context, actor models.Actor, id, reason string) (*models.TransitionResult, error) {
	const op = "cancel workflow"

	current, err := e.loadWorkflow(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(policy.OpWorkflowCancel, id, actor, workflowSubject(current)); err != nil {
		return nil, err
	}
	if !fsm.Workflow.Can(current.State, fsm.ActionCancel) {
		return nil, errorf(KindInvalidState, op, id, "workflow is %s", current.State)
	}
	reason, err = models.RequireReason(reason)
	if err != nil {
		return nil, newError(KindInvalidInput, op, id, err)
	}

	next, err := fsm.Workflow.Fire(current.State, fsm.ActionCancel, fsm.WorkflowContext{})
	if err != nil {
		return nil, newError(KindInvalidState, op, id, err)
	}

	now := e.now()
	w := current.Clone()
	w.State = next
	w.UpdatedAt = now
	w.CompletedAt = &now
	w.CanceledBy = actor.ID
	w.CancelReason = reason

	txRef := e.txRef()
	event, err := e.newEvent(models.EventTypeWorkflowCanceled, models.EntityTypeWorkflow, id, txRef, now, models.WorkflowCanceledPayload{
		ID:         id,
		State:      w.State,
		CanceledBy: actor.ID,
		Reason:     reason,
	})
	if err != nil {
		return nil, newError(KindInternal, op, id, err)
	}

	m := &mutation{
		op:      op,
		id:      id,
		key:     ledger.WorkflowKey(id),
		version: current.Version,
		entity:  w,
		history: workflowEntry(id, models.HistoryActionCancel, actor, current.State, w.State, map[string]string{
			"reason": reason,
		}),
		events: []models.Event{event},
	}
	if err := e.commit(ctx, m, txRef, now); err != nil {
		return nil, err
	}

	lg := e.workflowLog(ctx, id, actor)
	lg.Debug().Str("tx_ref", txRef).Msg("workflow canceled")

	return result(id, string(w.State), txRef, m.events), nil
}

// GetWorkflow returns the full workflow.
func (e *Engine) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	return e.loadWorkflow(ctx, "get workflow", id)
}

// WorkflowHistory returns the workflow's history, oldest first.
func (e *Engine) WorkflowHistory(ctx context.Context, id string) ([]models.HistoryEntry, error) {
	return e.history(ctx, "workflow history", id, ledger.WorkflowKey(id))
}

func (e *Engine) loadWorkflow(ctx context.Context, op, id string) (*models.Workflow, error) {
	var w models.Workflow
	version, err := e.load(ctx, op, id, ledger.WorkflowKey(id), &w)
	if err != nil {
		return nil, err
	}
	w.Version = version
	return &w, nil
}

func workflowSubject(w *models.Workflow) policy.Subject {
	return policy.Subject{Kind: w.Kind, RequesterID: w.RequesterID}
}

func workflowEntry(id string, action models.HistoryAction, actor models.Actor, from, to models.WorkflowState, details map[string]string) models.HistoryEntry {
	return models.HistoryEntry{
		EntityType: models.EntityTypeWorkflow,
		EntityID:   id,
		Action:     action,
		Actor:      actor.ID,
		ActorRole:  actor.Role,
		FromState:  string(from),
		ToState:    string(to),
		Details:    details,
	}
}

// defaultActorID returns id, or the caller's id when id is blank.
func defaultActorID(id string, actor models.Actor) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return actor.ID
	}
	return id
}

// approvalRef returns the tx ref of approverID's recorded approval.
func (e *Engine) approvalRef(ctx context.Context, op, id, approverID string) (string, error) {
	entries, err := e.history(ctx, op, id, ledger.WorkflowKey(id))
	if err != nil {
		return "", err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Action == models.HistoryActionApprove && entries[i].Details["approver_id"] == approverID {
			return entries[i].TxRef, nil
		}
	}
	return "", nil
}
