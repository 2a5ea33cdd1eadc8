package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/civicledger/approvald/internal/models"
)

func TestMemoryCommitVersions(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	key := WorkflowKey("AP-1")
	if err := store.Commit(ctx, &Batch{Puts: []Put{{Key: key, Value: []byte(`{"v":1}`)}}}); err != nil {
		t.Fatalf("create: %v", err)
	}

	rec, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Version != 1 {
		t.Fatalf("expected version 1, got %d", rec.Version)
	}

	err = store.Commit(ctx, &Batch{Puts: []Put{{Key: key, Value: []byte(`{"v":2}`)}}})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}

	if err := store.Commit(ctx, &Batch{Puts: []Put{{Key: key, Value: []byte(`{"v":2}`), Version: 1}}}); err != nil {
		t.Fatalf("update: %v", err)
	}

	err = store.Commit(ctx, &Batch{Puts: []Put{{Key: key, Value: []byte(`{"v":3}`), Version: 1}}})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected conflict on stale write, got %v", err)
	}

	rec, err = store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(rec.Value) != `{"v":2}` || rec.Version != 2 {
		t.Fatalf("unexpected record %s v%d", rec.Value, rec.Version)
	}
}

func TestMemoryCommitIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	batch := &Batch{
		Puts: []Put{
			{Key: DocumentKey("DOC-1"), Value: []byte(`{}`)},
			{Key: DocumentKey("DOC-2"), Value: []byte(`{}`), Version: 4},
		},
		History: []HistoryRecord{{Key: DocumentKey("DOC-1"), TxRef: "tx", Timestamp: time.Now(), Value: []byte(`{}`)}},
		Events:  []models.Event{{ID: "e1", Type: models.EventTypeDocumentCreated}},
	}
	if err := store.Commit(ctx, batch); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	if _, err := store.Get(ctx, DocumentKey("DOC-1")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected DOC-1 to be absent, got %v", err)
	}
	history, err := store.History(ctx, DocumentKey("DOC-1"))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no history, got %d", len(history))
	}
	if len(store.Events()) != 0 {
		t.Fatal("expected no events")
	}
}

func TestMemoryScanPaging(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	for _, id := range []string{"c", "a", "b", "d"} {
		if err := store.Commit(ctx, &Batch{Puts: []Put{{Key: WorkflowKey(id), Value: []byte(`{}`)}}}); err != nil {
			t.Fatalf("commit %s: %v", id, err)
		}
	}
	if err := store.Commit(ctx, &Batch{Puts: []Put{{Key: DocumentKey("x"), Value: []byte(`{}`)}}}); err != nil {
		t.Fatalf("commit doc: %v", err)
	}

	page, err := store.Scan(ctx, ScanQuery{Prefix: WorkflowPrefix, Limit: 3})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(page.Records) != 3 || page.Next != WorkflowKey("c") {
		t.Fatalf("unexpected first page: %d records, next %q", len(page.Records), page.Next)
	}
	if page.Records[0].Key != WorkflowKey("a") {
		t.Fatalf("expected key order, got %s first", page.Records[0].Key)
	}

	page, err = store.Scan(ctx, ScanQuery{Prefix: WorkflowPrefix, After: page.Next, Limit: 3})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(page.Records) != 1 || page.Next != "" {
		t.Fatalf("unexpected second page: %d records, next %q", len(page.Records), page.Next)
	}
}
