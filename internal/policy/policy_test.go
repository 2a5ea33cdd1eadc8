package policy

import (
	"errors"
	"testing"

	"github.com/civicledger/approvald/internal/models"
)

func TestDefaultTable(t *testing.T) {
	table := Default()

	citizen := models.Actor{ID: "c1", Role: models.RoleCitizen}
	officer := models.Actor{ID: "o1", Role: models.RoleOfficer}
	chairman := models.Actor{ID: "ch1", Role: models.RoleChairman}

	important := Subject{Kind: models.WorkflowKindImportantDocument, RequesterID: "o2"}
	regular := Subject{Kind: models.WorkflowKindDocument, RequesterID: "o2"}

	tests := []struct {
		name    string
		op      Operation
		actor   models.Actor
		subject Subject
		allowed bool
	}{
		{name: "officer creates workflow", op: OpWorkflowCreate, actor: officer, allowed: true},
		{name: "citizen creates workflow", op: OpWorkflowCreate, actor: citizen},
		{name: "officer approves regular", op: OpWorkflowApprove, actor: officer, subject: regular, allowed: true},
		{name: "officer approves important", op: OpWorkflowApprove, actor: officer, subject: important},
		{name: "chairman approves important", op: OpWorkflowApprove, actor: chairman, subject: important, allowed: true},
		{name: "citizen rejects", op: OpWorkflowReject, actor: citizen, subject: regular},
		{name: "requester cancels", op: OpWorkflowCancel, actor: models.Actor{ID: "o2", Role: models.RoleCitizen}, subject: regular, allowed: true},
		{name: "other officer cancels", op: OpWorkflowCancel, actor: officer, subject: regular},
		{name: "chairman cancels", op: OpWorkflowCancel, actor: chairman, subject: regular, allowed: true},
		{name: "issuer submits", op: OpDocumentSubmit, actor: citizen, subject: Subject{IssuerID: "c1"}, allowed: true},
		{name: "stranger submits", op: OpDocumentSubmit, actor: citizen, subject: Subject{IssuerID: "o9"}},
		{name: "officer submits", op: OpDocumentSubmit, actor: officer, subject: Subject{IssuerID: "o9"}, allowed: true},
		{name: "officer approves elevated doc", op: OpDocumentApprove, actor: officer, subject: Subject{Elevated: true}},
		{name: "chairman approves elevated doc", op: OpDocumentApprove, actor: chairman, subject: Subject{Elevated: true}, allowed: true},
		{name: "officer approves doc", op: OpDocumentApprove, actor: officer, allowed: true},
		{name: "citizen revokes", op: OpDocumentRevoke, actor: citizen},
		{name: "officer overrides", op: OpDocumentOverride, actor: officer, allowed: true},
		{name: "unknown operation", op: Operation("document.delete"), actor: chairman},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := table.Authorize(tt.op, tt.actor, tt.subject)
			if tt.allowed {
				if err != nil {
					t.Fatalf("expected allowed, got %v", err)
				}
				return
			}
			if !errors.Is(err, ErrForbidden) {
				t.Fatalf("expected ErrForbidden, got %v", err)
			}
		})
	}
}

func TestRequesterMustBeNonEmpty(t *testing.T) {
	err := Default().Authorize(OpWorkflowCancel, models.Actor{Role: models.RoleCitizen}, Subject{})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for anonymous cancel, got %v", err)
	}
}
