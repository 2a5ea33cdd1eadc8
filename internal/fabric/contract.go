package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/civicledger/approvald/internal/engine"
	"github.com/civicledger/approvald/internal/identity"
	"github.com/civicledger/approvald/internal/models"
)

// ContractName is the name the contract is registered under.
const ContractName = "approvals"

// ApprovalContract exposes the engine as chaincode transactions. Every
// transaction returns its result as a JSON string.
type ApprovalContract struct {
	contractapi.Contract
}

// NewApprovalContract returns the contract.
func NewApprovalContract() *ApprovalContract {
	c := &ApprovalContract{}
	c.Name = ContractName
	c.Info.Title = "approvals"
	c.Info.Version = "1.0.0"
	return c
}

// call binds an engine and the caller to the current transaction.
func call(ctx contractapi.TransactionContextInterface) (*engine.Engine, models.Actor, error) {
	actor, err := identity.Resolve(NewClientIdentity(ctx.GetClientIdentity()))
	if err != nil {
		return nil, models.Actor{}, &engine.Error{Kind: engine.KindForbidden, Op: "resolve caller", Err: err}
	}
	eng, err := reader(ctx)
	if err != nil {
		return nil, models.Actor{}, err
	}
	return eng, actor, nil
}

// observer names the caller without requiring a role. Verification is
// open to anyone and records whoever asked.
func observer(ctx contractapi.TransactionContextInterface) models.Actor {
	p := NewClientIdentity(ctx.GetClientIdentity())
	if actor, err := identity.Resolve(p); err == nil {
		return actor
	}
	id, _ := p.CallerID()
	return models.Actor{ID: id}
}

// reader binds an engine for queries, which need no caller.
func reader(ctx contractapi.TransactionContextInterface) (*engine.Engine, error) {
	stub := ctx.GetStub()
	opts, err := EngineOptions(stub)
	if err != nil {
		return nil, err
	}
	return engine.New(NewStore(stub), opts...), nil
}

func encode(v any, err error) (string, error) {
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(raw), nil
}

func upper(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}

// CreateWorkflow opens a workflow. approverIDsJSON is a JSON array of ids;
// details is an optional JSON document.
func (c *ApprovalContract) CreateWorkflow(ctx contractapi.TransactionContextInterface, id, kind, targetID, approverIDsJSON, details, priority, deadline string) (string, error) {
	eng, actor, err := call(ctx)
	if err != nil {
		return "", err
	}

	var approverIDs []string
	if strings.TrimSpace(approverIDsJSON) != "" {
		if err := json.Unmarshal([]byte(approverIDsJSON), &approverIDs); err != nil {
			return "", fmt.Errorf("approver ids must be a JSON array of strings: %w", err)
		}
	}
	in := engine.CreateWorkflowInput{
		ID:          id,
		Kind:        models.WorkflowKind(upper(kind)),
		TargetID:    targetID,
		ApproverIDs: approverIDs,
		Priority:    models.Priority(upper(priority)),
	}
	if strings.TrimSpace(details) != "" {
		in.Details = json.RawMessage(details)
	}
	if strings.TrimSpace(deadline) != "" {
		t, err := models.ParseDate(deadline)
		if err != nil {
			return "", err
		}
		in.Deadline = &t
	}
	return encode(eng.CreateWorkflow(context.Background(), actor, in))
}

// ApproveWorkflow records an approval. An empty approverID means the caller.
func (c *ApprovalContract) ApproveWorkflow(ctx contractapi.TransactionContextInterface, id, approverID, comment string) (string, error) {
	eng, actor, err := call(ctx)
	if err != nil {
		return "", err
	}
	return encode(eng.ApproveWorkflow(context.Background(), actor, id, approverID, comment))
}

// RejectWorkflow rejects a pending workflow.
func (c *ApprovalContract) RejectWorkflow(ctx contractapi.TransactionContextInterface, id, approverID, reason string) (string, error) {
	eng, actor, err := call(ctx)
	if err != nil {
		return "", err
	}
	return encode(eng.RejectWorkflow(context.Background(), actor, id, approverID, reason))
}

// CancelWorkflow withdraws a pending workflow.
func (c *ApprovalContract) CancelWorkflow(ctx contractapi.TransactionContextInterface, id, reason string) (string, error) {
	eng, actor, err := call(ctx)
	if err != nil {
		return "", err
	}
	return encode(eng.CancelWorkflow(context.Background(), actor, id, reason))
}

// GetWorkflow returns a workflow.
func (c *ApprovalContract) GetWorkflow(ctx contractapi.TransactionContextInterface, id string) (string, error) {
	eng, err := reader(ctx)
	if err != nil {
		return "", err
	}
	return encode(eng.GetWorkflow(context.Background(), id))
}

// GetWorkflowHistory returns a workflow's history, oldest first.
func (c *ApprovalContract) GetWorkflowHistory(ctx contractapi.TransactionContextInterface, id string) (string, error) {
	eng, err := reader(ctx)
	if err != nil {
		return "", err
	}
	return encode(eng.WorkflowHistory(context.Background(), id))
}

// ListWorkflows lists workflows. filter is one of "", "state", "kind",
// "target" or "approver".
func (c *ApprovalContract) ListWorkflows(ctx contractapi.TransactionContextInterface, filter, value, cursor string, limit int) (string, error) {
	eng, err := reader(ctx)
	if err != nil {
		return "", err
	}
	page := engine.Page{Cursor: cursor, Limit: limit}
	bg := context.Background()
	switch strings.ToLower(strings.TrimSpace(filter)) {
	case "":
		return encode(eng.ListWorkflows(bg, page))
	case "state":
		return encode(eng.ListWorkflowsByState(bg, models.WorkflowState(upper(value)), page))
	case "kind":
		return encode(eng.ListWorkflowsByKind(bg, models.WorkflowKind(upper(value)), page))
	case "target":
		return encode(eng.ListWorkflowsByTarget(bg, value, page))
	case "approver":
		return encode(eng.ListPendingForApprover(bg, value, page))
	default:
		return "", fmt.Errorf("unknown workflow filter %q", filter)
	}
}

// CreateDocument stores a new draft. validUntil may be empty or UNLIMITED;
// metadata is an optional JSON object.
func (c *ApprovalContract) CreateDocument(ctx contractapi.TransactionContextInterface, id, docType, ownerID, issuerID, issueDate, validUntil, contentHash, metadata string) (string, error) {
	eng, actor, err := call(ctx)
	if err != nil {
		return "", err
	}

	in := engine.CreateDocumentInput{
		ID:          id,
		Type:        docType,
		OwnerID:     ownerID,
		IssuerID:    issuerID,
		ContentHash: contentHash,
	}
	if strings.TrimSpace(issueDate) != "" {
		if in.IssueDate, err = models.ParseDate(issueDate); err != nil {
			return "", err
		}
	}
	if in.ValidUntil, err = models.ParseValidity(validUntil); err != nil {
		return "", err
	}
	if in.Metadata, err = models.ParseMetadata(metadata); err != nil {
		return "", err
	}
	return encode(eng.CreateDocument(context.Background(), actor, in))
}

// SubmitDocument moves a draft to PENDING_APPROVAL.
func (c *ApprovalContract) SubmitDocument(ctx contractapi.TransactionContextInterface, id string) (string, error) {
	eng, actor, err := call(ctx)
	if err != nil {
		return "", err
	}
	return encode(eng.SubmitDocument(context.Background(), actor, id))
}

// ApproveDocument approves a pending document.
func (c *ApprovalContract) ApproveDocument(ctx contractapi.TransactionContextInterface, id, approverID, comment string) (string, error) {
	eng, actor, err := call(ctx)
	if err != nil {
		return "", err
	}
	return encode(eng.ApproveDocument(context.Background(), actor, id, approverID, comment))
}

// RejectDocument rejects a pending document.
func (c *ApprovalContract) RejectDocument(ctx contractapi.TransactionContextInterface, id, rejectorID, reason string) (string, error) {
	eng, actor, err := call(ctx)
	if err != nil {
		return "", err
	}
	return encode(eng.RejectDocument(context.Background(), actor, id, rejectorID, reason))
}

// RevokeDocument revokes an approved document.
func (c *ApprovalContract) RevokeDocument(ctx contractapi.TransactionContextInterface, id, revokerID, reason string) (string, error) {
	eng, actor, err := call(ctx)
	if err != nil {
		return "", err
	}
	return encode(eng.RevokeDocument(context.Background(), actor, id, revokerID, reason))
}

// UpdateDocumentStatus forces a document into state.
func (c *ApprovalContract) UpdateDocumentStatus(ctx contractapi.TransactionContextInterface, id, state, reason string) (string, error) {
	eng, actor, err := call(ctx)
	if err != nil {
		return "", err
	}
	return encode(eng.ForceDocumentStatus(context.Background(), actor, id, models.DocumentState(upper(state)), reason))
}

// VerifyDocument checks a document against an expected content hash.
func (c *ApprovalContract) VerifyDocument(ctx contractapi.TransactionContextInterface, id, expectedHash string) (string, error) {
	eng, err := reader(ctx)
	if err != nil {
		return "", err
	}
	return encode(eng.VerifyDocument(context.Background(), observer(ctx), id, expectedHash))
}

// GetDocument returns a document.
func (c *ApprovalContract) GetDocument(ctx contractapi.TransactionContextInterface, id string) (string, error) {
	eng, err := reader(ctx)
	if err != nil {
		return "", err
	}
	return encode(eng.GetDocument(context.Background(), id))
}

// GetDocumentHistory returns a document's history, oldest first.
func (c *ApprovalContract) GetDocumentHistory(ctx contractapi.TransactionContextInterface, id string) (string, error) {
	eng, err := reader(ctx)
	if err != nil {
		return "", err
	}
	return encode(eng.DocumentHistory(context.Background(), id))
}

// ListDocuments lists documents. filter is one of "", "owner" or "state".
func (c *ApprovalContract) ListDocuments(ctx contractapi.TransactionContextInterface, filter, value, cursor string, limit int) (string, error) {
	eng, err := reader(ctx)
	if err != nil {
		return "", err
	}
	page := engine.Page{Cursor: cursor, Limit: limit}
	bg := context.Background()
	switch strings.ToLower(strings.TrimSpace(filter)) {
	case "":
		return encode(eng.ListDocuments(bg, page))
	case "owner":
		return encode(eng.ListDocumentsByOwner(bg, value, page))
	case "state":
		return encode(eng.ListDocumentsByState(bg, models.DocumentState(upper(value)), page))
	default:
		return "", fmt.Errorf("unknown document filter %q", filter)
	}
}
