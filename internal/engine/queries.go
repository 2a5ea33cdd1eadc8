package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/civicledger/approvald/internal/ledger"
	"github.com/civicledger/approvald/internal/models"
)

// scanBatch is how many records each store scan reads.
const scanBatch = 200

// WorkflowPage is one page of workflow summaries.
type WorkflowPage struct {
	Items      []models.WorkflowSummary `json:"items"`
	NextCursor string                   `json:"next_cursor,omitempty"`
}

// DocumentPage is one page of document summaries.
type DocumentPage struct {
	Items      []models.DocumentSummary `json:"items"`
	NextCursor string                   `json:"next_cursor,omitempty"`
}

// ListWorkflows returns every workflow.
func (e *Engine) ListWorkflows(ctx context.Context, page Page) (*WorkflowPage, error) {
	return e.listWorkflows(ctx, "list workflows", page, func(*models.Workflow) bool { return true })
}

// ListWorkflowsByState filters workflows by lifecycle state.
func (e *Engine) ListWorkflowsByState(ctx context.Context, state models.WorkflowState, page Page) (*WorkflowPage, error) {
	const op = "list workflows by state"
	if !state.IsValid() {
		return nil, errorf(KindInvalidInput, op, "", "%w: %q", models.ErrInvalidWorkflowState, state)
	}
	return e.listWorkflows(ctx, op, page, func(w *models.Workflow) bool { return w.State == state })
}

// ListWorkflowsByKind filters workflows by kind.
func (e *Engine) ListWorkflowsByKind(ctx context.Context, kind models.WorkflowKind, page Page) (*WorkflowPage, error) {
	const op = "list workflows by kind"
	if !kind.IsValid() {
		return nil, errorf(KindInvalidInput, op, "", "%w: %q", models.ErrInvalidWorkflowKind, kind)
	}
	return e.listWorkflows(ctx, op, page, func(w *models.Workflow) bool { return w.Kind == kind })
}

// ListWorkflowsByTarget filters workflows by target id.
func (e *Engine) ListWorkflowsByTarget(ctx context.Context, targetID string, page Page) (*WorkflowPage, error) {
	const op = "list workflows by target"
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return nil, newError(KindInvalidInput, op, "", models.ErrInvalidTarget)
	}
	return e.listWorkflows(ctx, op, page, func(w *models.Workflow) bool { return w.TargetID == targetID })
}

// ListPendingForApprover returns pending workflows still awaiting
// approverID's decision.
func (e *Engine) ListPendingForApprover(ctx context.Context, approverID string, page Page) (*WorkflowPage, error) {
	const op = "list pending for approver"
	approverID = strings.TrimSpace(approverID)
	if approverID == "" {
		return nil, errorf(KindInvalidInput, op, "", "approver id is required")
	}
	return e.listWorkflows(ctx, op, page, func(w *models.Workflow) bool {
		if w.State != models.WorkflowStatePending {
			return false
		}
		slot, ok := w.Approver(approverID)
		return ok && slot.Status == models.ApproverStatusPending
	})
}

// ListDocuments returns every document.
func (e *Engine) ListDocuments(ctx context.Context, page Page) (*DocumentPage, error) {
	return e.listDocuments(ctx, "list documents", page, func(*models.Document) bool { return true })
}

// ListDocumentsByOwner filters documents by owner id.
func (e *Engine) ListDocumentsByOwner(ctx context.Context, ownerID string, page Page) (*DocumentPage, error) {
	const op = "list documents by owner"
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, newError(KindInvalidInput, op, "", models.ErrInvalidOwner)
	}
	return e.listDocuments(ctx, op, page, func(d *models.Document) bool { return d.OwnerID == ownerID })
}

// ListDocumentsByState filters documents by stored state. EXPIRED matches
// documents whose validity window has ended, whatever their stored state.
func (e *Engine) ListDocumentsByState(ctx context.Context, state models.DocumentState, page Page) (*DocumentPage, error) {
	const op = "list documents by state"
	if state == models.DocumentStateExpired {
		now := e.now()
		return e.listDocuments(ctx, op, page, func(d *models.Document) bool { return d.IsExpired(now) })
	}
	if !state.IsValid() {
		return nil, errorf(KindInvalidInput, op, "", "%w: %q", models.ErrInvalidDocumentState, state)
	}
	return e.listDocuments(ctx, op, page, func(d *models.Document) bool { return d.State == state })
}

func (e *Engine) listWorkflows(ctx context.Context, op string, page Page, keep func(*models.Workflow) bool) (*WorkflowPage, error) {
	items, next, err := scanMatching(ctx, e.store, ledger.WorkflowPrefix, page, func(rec ledger.Record) (*models.Workflow, error) {
		var w models.Workflow
		if err := json.Unmarshal(rec.Value, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", rec.Key, err)
		}
		w.Version = rec.Version
		return &w, nil
	}, keep)
	if err != nil {
		return nil, scanError(op, err)
	}

	out := &WorkflowPage{Items: make([]models.WorkflowSummary, 0, len(items)), NextCursor: next}
	for _, w := range items {
		out.Items = append(out.Items, w.Summary())
	}
	return out, nil
}

func (e *Engine) listDocuments(ctx context.Context, op string, page Page, keep func(*models.Document) bool) (*DocumentPage, error) {
	items, next, err := scanMatching(ctx, e.store, ledger.DocumentPrefix, page, func(rec ledger.Record) (*models.Document, error) {
		var d models.Document
		if err := json.Unmarshal(rec.Value, &d); err != nil {
			return nil, fmt.Errorf("decode %s: %w", rec.Key, err)
		}
		d.Version = rec.Version
		return &d, nil
	}, keep)
	if err != nil {
		return nil, scanError(op, err)
	}

	now := e.now()
	out := &DocumentPage{Items: make([]models.DocumentSummary, 0, len(items)), NextCursor: next}
	for _, d := range items {
		out.Items = append(out.Items, d.Summary(now))
	}
	return out, nil
}

func scanError(op string, err error) error {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return err
	}
	return newError(KindInternal, op, "", err)
}

// scanMatching walks prefix in key order from the page cursor and collects up
// to page.Limit decoded items that satisfy keep. The returned cursor is the id
// of the last item when more matches remain.
func scanMatching[T any](ctx context.Context, store ledger.Store, prefix string, page Page, decode func(ledger.Record) (T, error), keep func(T) bool) ([]T, string, error) {
	if page.Limit < 0 {
		return nil, "", errorf(KindInvalidInput, "scan", "", "limit must not be negative")
	}

	var (
		items []T
		ids   []string
	)
	after := ""
	if cursor := strings.TrimSpace(page.Cursor); cursor != "" {
		after = prefix + cursor
	}

	for {
		scanned, err := store.Scan(ctx, ledger.ScanQuery{Prefix: prefix, After: after, Limit: scanBatch})
		if err != nil {
			return nil, "", err
		}
		for _, rec := range scanned.Records {
			item, err := decode(rec)
			if err != nil {
				return nil, "", err
			}
			if !keep(item) {
				continue
			}
			items = append(items, item)
			ids = append(ids, strings.TrimPrefix(rec.Key, prefix))
			if page.Limit > 0 && len(items) > page.Limit {
				return items[:page.Limit], ids[page.Limit-1], nil
			}
		}
		if scanned.Next == "" {
			return items, "", nil
		}
		after = scanned.Next
	}
}
