package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/civicledger/approvald/internal/ledger"
	"github.com/civicledger/approvald/internal/models"
)

var (
	officer  = models.Actor{ID: "o1", Role: models.RoleOfficer}
	officer2 = models.Actor{ID: "o2", Role: models.RoleOfficer}
	chairman = models.Actor{ID: "chair1", Role: models.RoleChairman}
	citizen  = models.Actor{ID: "c1", Role: models.RoleCitizen}
)

type fixture struct {
	engine *Engine
	store  *ledger.Memory
	now    time.Time
	tx     int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: ledger.NewMemory(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.engine = New(f.store,
		WithClock(func() time.Time { return f.now }),
		WithTxRefs(func() string {
			f.tx++
			return fmt.Sprintf("tx-%d", f.tx)
		}),
		WithLogger(zerolog.Nop()),
	)
	return f
}

func (f *fixture) createWorkflow(t *testing.T, id string, kind models.WorkflowKind, approvers ...string) {
	t.Helper()
	_, err := f.engine.CreateWorkflow(context.Background(), officer, CreateWorkflowInput{
		ID:          id,
		Kind:        kind,
		TargetID:    "target-" + id,
		ApproverIDs: approvers,
	})
	require.NoError(t, err)
}

func (f *fixture) createDocument(t *testing.T, id string, metadata map[string]any) {
	t.Helper()
	_, err := f.engine.CreateDocument(context.Background(), officer, CreateDocumentInput{
		ID:          id,
		Type:        "birth_certificate",
		OwnerID:     "c1",
		ContentHash: "hash-" + id,
		Metadata:    metadata,
	})
	require.NoError(t, err)
}

func requireKind(t *testing.T, err error, sentinel error) {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, sentinel)
}

func TestApproveUntilAllApproved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createWorkflow(t, "AP-1", models.WorkflowKindDocument, "u1", "u2")

	res, err := f.engine.ApproveWorkflow(ctx, officer, "AP-1", "u1", "looks good")
	require.NoError(t, err)
	require.Equal(t, string(models.WorkflowStatePending), res.ResultingState)
	require.NotNil(t, res.AllApproved)
	require.False(t, *res.AllApproved)
	require.Equal(t, "tx-2", res.TxRef)
	require.Len(t, res.Events, 1)
	require.Equal(t, models.EventTypeWorkflowUpdated, res.Events[0].Type)

	res, err = f.engine.ApproveWorkflow(ctx, officer, "AP-1", "u2", "")
	require.NoError(t, err)
	require.Equal(t, string(models.WorkflowStateApproved), res.ResultingState)
	require.True(t, *res.AllApproved)

	var payload models.WorkflowUpdatedPayload
	require.NoError(t, json.Unmarshal(res.Events[0].Payload, &payload))
	require.True(t, payload.AllApproved)
	require.Equal(t, "u2", payload.ApproverID)

	w, err := f.engine.GetWorkflow(ctx, "AP-1")
	require.NoError(t, err)
	require.Equal(t, models.WorkflowStateApproved, w.State)
	require.NotNil(t, w.CompletedAt)
	for _, approver := range w.Approvers {
		require.Equal(t, models.ApproverStatusApproved, approver.Status)
		require.NotNil(t, approver.DecidedAt)
	}

	events := f.store.Events()
	require.Len(t, events, 3)
	require.Equal(t, models.EventTypeWorkflowCreated, events[0].Type)
}

func TestImportantDocumentRequiresChairman(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createWorkflow(t, "AP-2", models.WorkflowKindImportantDocument, "chair1")
	f.createWorkflow(t, "AP-2b", models.WorkflowKindDocument, "chair1")

	_, err := f.engine.ApproveWorkflow(ctx, officer, "AP-2", "chair1", "")
	requireKind(t, err, ErrForbidden)
	require.Equal(t, KindForbidden, KindOf(err))

	_, err = f.engine.ApproveWorkflow(ctx, officer, "AP-2b", "chair1", "")
	require.NoError(t, err)

	res, err := f.engine.ApproveWorkflow(ctx, chairman, "AP-2", "", "")
	require.NoError(t, err)
	require.Equal(t, string(models.WorkflowStateApproved), res.ResultingState)
}

func TestRepeatedApprovalIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createWorkflow(t, "AP-3", models.WorkflowKindDocument, "a1")

	_, err := f.engine.ApproveWorkflow(ctx, officer, "AP-3", "a1", "")
	require.NoError(t, err)

	before, err := f.engine.WorkflowHistory(ctx, "AP-3")
	require.NoError(t, err)
	eventsBefore := len(f.store.Events())

	res, err := f.engine.ApproveWorkflow(ctx, officer, "AP-3", "a1", "again")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, string(models.WorkflowStateApproved), res.ResultingState)
	require.NotEmpty(t, res.Message)
	require.Empty(t, res.Events)
	require.True(t, *res.AllApproved)
	require.Equal(t, "tx-2", res.TxRef, "repeat approval reports the original transaction")

	after, err := f.engine.WorkflowHistory(ctx, "AP-3")
	require.NoError(t, err)
	require.Len(t, after, len(before))
	require.Len(t, f.store.Events(), eventsBefore)
}

func TestPartialApprovalIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createWorkflow(t, "AP-4", models.WorkflowKindUserRole, "a1", "a2")

	_, err := f.engine.ApproveWorkflow(ctx, officer, "AP-4", "a1", "")
	require.NoError(t, err)
	res, err := f.engine.ApproveWorkflow(ctx, officer2, "AP-4", "a1", "")
	require.NoError(t, err)
	require.Equal(t, string(models.WorkflowStatePending), res.ResultingState)
	require.False(t, *res.AllApproved)

	w, err := f.engine.GetWorkflow(ctx, "AP-4")
	require.NoError(t, err)
	require.Equal(t, 1, w.ApprovedCount())
}

func TestUnknownWorkflowIsNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.ApproveWorkflow(ctx, officer, "nope", "u1", "")
	requireKind(t, err, ErrNotFound)
	_, err = f.engine.ApproveWorkflow(ctx, citizen, "nope", "u1", "")
	requireKind(t, err, ErrNotFound)
	_, err = f.engine.RejectWorkflow(ctx, officer, "nope", "u1", "no")
	requireKind(t, err, ErrNotFound)
	_, err = f.engine.CancelWorkflow(ctx, chairman, "nope", "no")
	requireKind(t, err, ErrNotFound)
	_, err = f.engine.WorkflowHistory(ctx, "nope")
	requireKind(t, err, ErrNotFound)
	_, err = f.engine.GetWorkflow(ctx, "nope")
	requireKind(t, err, ErrNotFound)
}

func TestRejectIsTerminal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createWorkflow(t, "AP-5", models.WorkflowKindSystemConfig, "u1", "u2", "u3")

	_, err := f.engine.ApproveWorkflow(ctx, officer, "AP-5", "u1", "")
	require.NoError(t, err)

	_, err = f.engine.RejectWorkflow(ctx, officer, "AP-5", "u2", "  ")
	requireKind(t, err, ErrInvalidInput)

	res, err := f.engine.RejectWorkflow(ctx, officer, "AP-5", "u2", "conflicts with policy")
	require.NoError(t, err)
	require.Equal(t, string(models.WorkflowStateRejected), res.ResultingState)
	require.Equal(t, models.EventTypeWorkflowRejected, res.Events[0].Type)

	w, err := f.engine.GetWorkflow(ctx, "AP-5")
	require.NoError(t, err)
	require.Equal(t, "u2", w.RejectedBy)
	require.Equal(t, "conflicts with policy", w.RejectionReason)
	require.NotNil(t, w.CompletedAt)

	u1, _ := w.Approver("u1")
	u2, _ := w.Approver("u2")
	u3, _ := w.Approver("u3")
	require.Equal(t, models.ApproverStatusApproved, u1.Status)
	require.Equal(t, models.ApproverStatusRejected, u2.Status)
	require.Equal(t, models.ApproverStatusPending, u3.Status)

	_, err = f.engine.ApproveWorkflow(ctx, officer, "AP-5", "u3", "")
	requireKind(t, err, ErrInvalidState)
	_, err = f.engine.RejectWorkflow(ctx, officer, "AP-5", "u3", "late")
	requireKind(t, err, ErrInvalidState)
	_, err = f.engine.CancelWorkflow(ctx, chairman, "AP-5", "late")
	requireKind(t, err, ErrInvalidState)

	// A closed workflow reports its state before approver or input checks.
	_, err = f.engine.ApproveWorkflow(ctx, officer, "AP-5", "stranger", "")
	requireKind(t, err, ErrInvalidState)
	_, err = f.engine.RejectWorkflow(ctx, officer, "AP-5", "stranger", "late")
	requireKind(t, err, ErrInvalidState)
	_, err = f.engine.RejectWorkflow(ctx, officer, "AP-5", "u3", "")
	requireKind(t, err, ErrInvalidState)
	_, err = f.engine.CancelWorkflow(ctx, chairman, "AP-5", "")
	requireKind(t, err, ErrInvalidState)
}

func TestNotAnApprover(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createWorkflow(t, "AP-6", models.WorkflowKindDocument, "u1")

	_, err := f.engine.ApproveWorkflow(ctx, officer, "AP-6", "stranger", "")
	requireKind(t, err, ErrNotAnApprover)
	_, err = f.engine.RejectWorkflow(ctx, officer, "AP-6", "stranger", "no")
	requireKind(t, err, ErrNotAnApprover)

	// Caller id is used when the approver id is omitted.
	_, err = f.engine.ApproveWorkflow(ctx, officer, "AP-6", "", "")
	requireKind(t, err, ErrNotAnApprover)
}

func TestCancelAuthorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.CreateWorkflow(ctx, officer, CreateWorkflowInput{
		ID:          "AP-7",
		Kind:        models.WorkflowKindUserRole,
		TargetID:    "user-9",
		RequesterID: "c1",
		ApproverIDs: []string{"u1"},
	})
	require.NoError(t, err)
	f.createWorkflow(t, "AP-8", models.WorkflowKindUserRole, "u1")

	_, err = f.engine.CancelWorkflow(ctx, officer2, "AP-7", "mine now")
	requireKind(t, err, ErrForbidden)

	_, err = f.engine.CancelWorkflow(ctx, citizen, "AP-7", "")
	requireKind(t, err, ErrInvalidInput)

	res, err := f.engine.CancelWorkflow(ctx, citizen, "AP-7", "no longer needed")
	require.NoError(t, err)
	require.Equal(t, string(models.WorkflowStateCanceled), res.ResultingState)

	w, err := f.engine.GetWorkflow(ctx, "AP-7")
	require.NoError(t, err)
	require.Equal(t, "c1", w.CanceledBy)
	require.Equal(t, "no longer needed", w.CancelReason)

	_, err = f.engine.CancelWorkflow(ctx, chairman, "AP-8", "superseded")
	require.NoError(t, err)
	_, err = f.engine.CancelWorkflow(ctx, chairman, "AP-8", "again")
	requireKind(t, err, ErrInvalidState)
}

func TestCreateWorkflowValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name  string
		actor models.Actor
		input CreateWorkflowInput
		want  error
	}{
		{
			name:  "citizen forbidden",
			actor: citizen,
			input: CreateWorkflowInput{ID: "W1", Kind: models.WorkflowKindDocument, TargetID: "t", ApproverIDs: []string{"u1"}},
			want:  ErrForbidden,
		},
		{
			name:  "unknown kind",
			actor: officer,
			input: CreateWorkflowInput{ID: "W1", Kind: "PAYMENT", TargetID: "t", ApproverIDs: []string{"u1"}},
			want:  ErrInvalidInput,
		},
		{
			name:  "blank approvers",
			actor: officer,
			input: CreateWorkflowInput{ID: "W1", Kind: models.WorkflowKindDocument, TargetID: "t", ApproverIDs: []string{" ", ""}},
			want:  ErrInvalidInput,
		},
		{
			name:  "unknown priority",
			actor: officer,
			input: CreateWorkflowInput{ID: "W1", Kind: models.WorkflowKindDocument, TargetID: "t", ApproverIDs: []string{"u1"}, Priority: "ASAP"},
			want:  ErrInvalidInput,
		},
		{
			name:  "bad details",
			actor: officer,
			input: CreateWorkflowInput{ID: "W1", Kind: models.WorkflowKindDocument, TargetID: "t", ApproverIDs: []string{"u1"}, Details: json.RawMessage(`{`)},
			want:  ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreateWorkflow(ctx, tt.actor, tt.input)
			requireKind(t, err, tt.want)
		})
	}

	res, err := f.engine.CreateWorkflow(ctx, officer, CreateWorkflowInput{
		ID:          "W1",
		Kind:        models.WorkflowKindDocument,
		TargetID:    "t",
		ApproverIDs: []string{"u1", " u2", "u1", "u2 "},
		Details:     json.RawMessage(`{"field":"value"}`),
	})
	require.NoError(t, err)
	require.Equal(t, string(models.WorkflowStatePending), res.ResultingState)

	w, err := f.engine.GetWorkflow(ctx, "W1")
	require.NoError(t, err)
	require.Len(t, w.Approvers, 2)
	require.Equal(t, "o1", w.RequesterID)
	require.Equal(t, models.PriorityNormal, w.Priority)

	_, err = f.engine.CreateWorkflow(ctx, officer, CreateWorkflowInput{
		ID:          "W1",
		Kind:        models.WorkflowKindDocument,
		TargetID:    "t",
		ApproverIDs: []string{"u1"},
	})
	requireKind(t, err, ErrAlreadyExists)

	history, err := f.engine.WorkflowHistory(ctx, "W1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, models.HistoryActionCreate, history[0].Action)
	require.Equal(t, "o1", history[0].Actor)
	require.NotEmpty(t, history[0].TxRef)
}

func TestDocumentSubmitThenRejectReturnsToDraft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createDocument(t, "DOC-1", nil)

	res, err := f.engine.SubmitDocument(ctx, officer, "DOC-1")
	require.NoError(t, err)
	require.Equal(t, string(models.DocumentStatePendingApproval), res.ResultingState)

	res, err = f.engine.RejectDocument(ctx, officer, "DOC-1", "r1", "missing signature")
	require.NoError(t, err)
	require.Equal(t, string(models.DocumentStateDraft), res.ResultingState)
	require.Equal(t, models.EventTypeDocumentRejected, res.Events[0].Type)

	d, err := f.engine.GetDocument(ctx, "DOC-1")
	require.NoError(t, err)
	require.Equal(t, models.DocumentStateDraft, d.State)
	require.Equal(t, "missing signature", d.RejectionReason)
	require.Equal(t, "r1", d.RejectedBy)

	_, err = f.engine.RevokeDocument(ctx, officer, "DOC-1", "", "not active")
	requireKind(t, err, ErrInvalidState)

	history, err := f.engine.DocumentHistory(ctx, "DOC-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, models.HistoryActionReject, history[2].Action)
	require.Equal(t, "PENDING_APPROVAL", history[2].FromState)
	require.Equal(t, "DRAFT", history[2].ToState)
}

func TestDocumentFullLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createDocument(t, "DOC-2", nil)

	_, err := f.engine.ApproveDocument(ctx, officer, "DOC-2", "", "")
	requireKind(t, err, ErrInvalidState)

	_, err = f.engine.SubmitDocument(ctx, citizen, "DOC-2")
	requireKind(t, err, ErrForbidden)

	_, err = f.engine.SubmitDocument(ctx, officer, "DOC-2")
	require.NoError(t, err)

	res, err := f.engine.ApproveDocument(ctx, officer2, "DOC-2", "", "verified in person")
	require.NoError(t, err)
	require.Equal(t, string(models.DocumentStateActive), res.ResultingState)
	require.Equal(t, models.EventTypeDocumentApproved, res.Events[0].Type)

	d, err := f.engine.GetDocument(ctx, "DOC-2")
	require.NoError(t, err)
	require.Equal(t, "o2", d.ApprovedBy)
	require.Equal(t, "verified in person", d.ApprovalComment)
	require.NotNil(t, d.ApprovedAt)

	_, err = f.engine.RevokeDocument(ctx, citizen, "DOC-2", "", "fraud")
	requireKind(t, err, ErrForbidden)
	_, err = f.engine.RevokeDocument(ctx, officer, "DOC-2", "", "")
	requireKind(t, err, ErrInvalidInput)

	res, err = f.engine.RevokeDocument(ctx, officer, "DOC-2", "", "fraud")
	require.NoError(t, err)
	require.Equal(t, string(models.DocumentStateRevoked), res.ResultingState)

	_, err = f.engine.SubmitDocument(ctx, officer, "DOC-2")
	requireKind(t, err, ErrInvalidState)
}

func TestIssuerMaySubmitOwnDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.CreateDocument(ctx, officer, CreateDocumentInput{
		ID:          "DOC-3",
		Type:        "permit",
		OwnerID:     "c2",
		IssuerID:    "c1",
		ContentHash: "abc",
	})
	require.NoError(t, err)

	res, err := f.engine.SubmitDocument(ctx, citizen, "DOC-3")
	require.NoError(t, err)
	require.Equal(t, string(models.DocumentStatePendingApproval), res.ResultingState)
}

func TestElevatedDocumentApproval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createDocument(t, "DOC-4", map[string]any{models.ElevatedApprovalKey: "true"})

	_, err := f.engine.SubmitDocument(ctx, officer, "DOC-4")
	require.NoError(t, err)

	_, err = f.engine.ApproveDocument(ctx, officer, "DOC-4", "", "")
	requireKind(t, err, ErrForbidden)

	_, err = f.engine.ApproveDocument(ctx, chairman, "DOC-4", "", "")
	require.NoError(t, err)
}

func TestCreateDocumentValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.CreateDocument(ctx, citizen, CreateDocumentInput{ID: "D", Type: "t", OwnerID: "c1", ContentHash: "h"})
	requireKind(t, err, ErrForbidden)

	_, err = f.engine.CreateDocument(ctx, officer, CreateDocumentInput{ID: "D", Type: "t", ContentHash: "h"})
	requireKind(t, err, ErrInvalidInput)
	require.ErrorIs(t, err, models.ErrInvalidOwner)

	past := f.now.Add(-24 * time.Hour)
	_, err = f.engine.CreateDocument(ctx, officer, CreateDocumentInput{ID: "D", Type: "t", OwnerID: "c1", ContentHash: "h", ValidUntil: &past})
	requireKind(t, err, ErrInvalidInput)

	f.createDocument(t, "D", nil)
	_, err = f.engine.CreateDocument(ctx, officer, CreateDocumentInput{ID: "D", Type: "t", OwnerID: "c1", ContentHash: "h"})
	requireKind(t, err, ErrAlreadyExists)

	d, err := f.engine.GetDocument(ctx, "D")
	require.NoError(t, err)
	require.Equal(t, "o1", d.IssuerID)
	require.True(t, d.IssueDate.Equal(f.now))
	require.Nil(t, d.ValidUntil)
}

func TestVerifyDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.engine.VerifyDocument(ctx, citizen, "DOC-UNKNOWN", "")
	require.NoError(t, err)
	require.False(t, res.Exists)
	require.False(t, res.Verified)

	issued := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	expires := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	_, err = f.engine.CreateDocument(ctx, officer, CreateDocumentInput{
		ID:          "DOC-5",
		Type:        "license",
		OwnerID:     "c1",
		IssueDate:   issued,
		ValidUntil:  &expires,
		ContentHash: "h5",
	})
	require.NoError(t, err)
	_, err = f.engine.SubmitDocument(ctx, officer, "DOC-5")
	require.NoError(t, err)
	_, err = f.engine.ApproveDocument(ctx, officer, "DOC-5", "", "")
	require.NoError(t, err)

	res, err = f.engine.VerifyDocument(ctx, citizen, "DOC-5", "")
	require.NoError(t, err)
	require.True(t, res.Exists)
	require.True(t, res.IsActive)
	require.True(t, res.IsExpired)
	require.True(t, res.DataIntegrity)
	require.False(t, res.Verified)

	f.createDocument(t, "DOC-6", nil)
	_, err = f.engine.SubmitDocument(ctx, officer, "DOC-6")
	require.NoError(t, err)
	_, err = f.engine.ApproveDocument(ctx, officer, "DOC-6", "", "")
	require.NoError(t, err)

	res, err = f.engine.VerifyDocument(ctx, citizen, "DOC-6", "hash-DOC-6")
	require.NoError(t, err)
	require.True(t, res.Verified)

	res, err = f.engine.VerifyDocument(ctx, citizen, "DOC-6", "tampered")
	require.NoError(t, err)
	require.False(t, res.DataIntegrity)
	require.False(t, res.Verified)

	history, err := f.engine.DocumentHistory(ctx, "DOC-6")
	require.NoError(t, err)
	last := history[len(history)-1]
	require.Equal(t, models.HistoryActionVerify, last.Action)
	require.Equal(t, "false", last.Details["verified"])
	require.Equal(t, models.HistoryActionVerify, history[len(history)-2].Action)
}

func TestForceDocumentStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createDocument(t, "DOC-7", nil)

	_, err := f.engine.ForceDocumentStatus(ctx, citizen, "DOC-7", models.DocumentStateActive, "")
	requireKind(t, err, ErrForbidden)

	_, err = f.engine.ForceDocumentStatus(ctx, officer, "DOC-7", models.DocumentStateExpired, "")
	requireKind(t, err, ErrInvalidInput)

	_, err = f.engine.ForceDocumentStatus(ctx, officer, "missing", models.DocumentStateActive, "")
	requireKind(t, err, ErrNotFound)

	res, err := f.engine.ForceDocumentStatus(ctx, officer, "DOC-7", models.DocumentStateActive, "migrated record")
	require.NoError(t, err)
	require.Equal(t, string(models.DocumentStateActive), res.ResultingState)
	require.Equal(t, models.EventTypeDocumentStatusUpdated, res.Events[0].Type)

	var payload models.DocumentEventPayload
	require.NoError(t, json.Unmarshal(res.Events[0].Payload, &payload))
	require.Equal(t, models.DocumentStateDraft, payload.OldState)

	history, err := f.engine.DocumentHistory(ctx, "DOC-7")
	require.NoError(t, err)
	last := history[len(history)-1]
	require.Equal(t, models.HistoryActionOverride, last.Action)
	require.Equal(t, "DRAFT", last.Details["old_state"])
	require.Equal(t, "ACTIVE", last.Details["new_state"])

	res, err = f.engine.ForceDocumentStatus(ctx, officer, "DOC-7", models.DocumentStateActive, "")
	require.NoError(t, err)
	require.NotEmpty(t, res.Message)
	require.Empty(t, res.Events)
}

func TestListQueries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 1; i <= 5; i++ {
		f.createWorkflow(t, fmt.Sprintf("W%d", i), models.WorkflowKindDocument, "u1", "u2")
	}
	f.createWorkflow(t, "W6", models.WorkflowKindImportantDocument, "chair1")

	_, err := f.engine.ApproveWorkflow(ctx, officer, "W2", "u1", "")
	require.NoError(t, err)
	_, err = f.engine.CancelWorkflow(ctx, chairman, "W3", "dup")
	require.NoError(t, err)

	page, err := f.engine.ListWorkflowsByState(ctx, models.WorkflowStatePending, Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, "W1", page.Items[0].ID)
	require.Equal(t, "W2", page.Items[1].ID)
	require.Equal(t, "W2", page.NextCursor)

	page, err = f.engine.ListWorkflowsByState(ctx, models.WorkflowStatePending, Page{Cursor: page.NextCursor, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, "W4", page.Items[0].ID)
	require.Equal(t, "W5", page.Items[1].ID)

	page, err = f.engine.ListWorkflowsByState(ctx, models.WorkflowStatePending, Page{Cursor: page.NextCursor, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Empty(t, page.NextCursor)

	page, err = f.engine.ListPendingForApprover(ctx, "u1", Page{})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)

	page, err = f.engine.ListWorkflowsByKind(ctx, models.WorkflowKindImportantDocument, Page{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, 1, page.Items[0].ApproverCount)

	page, err = f.engine.ListWorkflowsByTarget(ctx, "target-W2", Page{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, 1, page.Items[0].ApprovedCount)

	_, err = f.engine.ListWorkflowsByState(ctx, "DONE", Page{})
	requireKind(t, err, ErrInvalidInput)
	_, err = f.engine.ListWorkflowsByKind(ctx, "PAYMENT", Page{})
	requireKind(t, err, ErrInvalidInput)
	_, err = f.engine.ListWorkflowsByTarget(ctx, "", Page{})
	requireKind(t, err, ErrInvalidInput)
	_, err = f.engine.ListWorkflowsByState(ctx, models.WorkflowStatePending, Page{Limit: -1})
	requireKind(t, err, ErrInvalidInput)
}

func TestListDocumentsByState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.createDocument(t, "DOC-A", nil)
	f.createDocument(t, "DOC-B", nil)
	expires := f.now.Add(48 * time.Hour)
	_, err := f.engine.CreateDocument(ctx, officer, CreateDocumentInput{
		ID:          "DOC-C",
		Type:        "visa",
		OwnerID:     "c2",
		ValidUntil:  &expires,
		ContentHash: "hc",
	})
	require.NoError(t, err)
	_, err = f.engine.SubmitDocument(ctx, officer, "DOC-B")
	require.NoError(t, err)

	page, err := f.engine.ListDocumentsByState(ctx, models.DocumentStateDraft, Page{})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)

	page, err = f.engine.ListDocumentsByOwner(ctx, "c2", Page{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, "DOC-C", page.Items[0].ID)

	page, err = f.engine.ListDocumentsByState(ctx, models.DocumentStateExpired, Page{})
	require.NoError(t, err)
	require.Empty(t, page.Items)

	f.now = f.now.Add(72 * time.Hour)
	page, err = f.engine.ListDocumentsByState(ctx, models.DocumentStateExpired, Page{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.True(t, page.Items[0].Expired)

	_, err = f.engine.ListDocumentsByState(ctx, "ARCHIVED", Page{})
	requireKind(t, err, ErrInvalidInput)
}

type conflictingStore struct {
	ledger.Store
}

func (conflictingStore) Commit(context.Context, *ledger.Batch) error {
	return ledger.ErrVersionConflict
}

func TestStaleWriteSurfacesConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createWorkflow(t, "AP-9", models.WorkflowKindDocument, "u1")

	eng := New(conflictingStore{Store: f.store}, WithLogger(zerolog.Nop()))
	_, err := eng.ApproveWorkflow(ctx, officer, "AP-9", "u1", "")
	requireKind(t, err, ErrConflict)
	require.Equal(t, KindConflict, KindOf(err))

	_, err = eng.CreateWorkflow(ctx, officer, CreateWorkflowInput{
		ID:          "AP-10",
		Kind:        models.WorkflowKindDocument,
		TargetID:    "t",
		ApproverIDs: []string{"u1"},
	})
	requireKind(t, err, ErrAlreadyExists)
}
