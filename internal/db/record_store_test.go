package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/civicledger/approvald/internal/ledger"
	"github.com/civicledger/approvald/internal/models"
)

func TestRecordStoreVersioning(t *testing.T) {
	database := setupTestDB(t)
	defer database.Close()

	ctx := context.Background()
	store := NewRecordStore(database)
	key := ledger.WorkflowKey("AP-1")

	_, err := store.Get(ctx, key)
	require.ErrorIs(t, err, ledger.ErrNotFound)

	require.NoError(t, store.Commit(ctx, &ledger.Batch{Puts: []ledger.Put{{Key: key, Value: []byte(`{"state":"PENDING"}`)}}}))

	rec, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.Version)

	err = store.Commit(ctx, &ledger.Batch{Puts: []ledger.Put{{Key: key, Value: []byte(`{}`)}}})
	require.ErrorIs(t, err, ledger.ErrVersionConflict)

	require.NoError(t, store.Commit(ctx, &ledger.Batch{Puts: []ledger.Put{{Key: key, Value: []byte(`{"state":"APPROVED"}`), Version: 1}}}))

	err = store.Commit(ctx, &ledger.Batch{Puts: []ledger.Put{{Key: key, Value: []byte(`{"state":"REJECTED"}`), Version: 1}}})
	require.ErrorIs(t, err, ledger.ErrVersionConflict)

	rec, err = store.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, int64(2), rec.Version)
	require.JSONEq(t, `{"state":"APPROVED"}`, string(rec.Value))
}

func TestRecordStoreBatchRollsBack(t *testing.T) {
	database := setupTestDB(t)
	defer database.Close()

	ctx := context.Background()
	store := NewRecordStore(database)
	outbox := NewEventRepository(database)

	batch := &ledger.Batch{
		Puts: []ledger.Put{
			{Key: ledger.DocumentKey("DOC-1"), Value: []byte(`{}`)},
			{Key: ledger.DocumentKey("DOC-2"), Value: []byte(`{}`), Version: 3},
		},
		History: []ledger.HistoryRecord{
			{Key: ledger.DocumentKey("DOC-1"), TxRef: "tx-1", Timestamp: time.Now(), Value: []byte(`{}`)},
		},
		Events: []models.Event{
			{Type: models.EventTypeDocumentCreated, EntityType: models.EntityTypeDocument, EntityID: "DOC-1"},
		},
	}
	require.ErrorIs(t, store.Commit(ctx, batch), ledger.ErrVersionConflict)

	_, err := store.Get(ctx, ledger.DocumentKey("DOC-1"))
	require.ErrorIs(t, err, ledger.ErrNotFound)

	history, err := store.History(ctx, ledger.DocumentKey("DOC-1"))
	require.NoError(t, err)
	require.Empty(t, history)

	pending, err := outbox.CountUndelivered(ctx)
	require.NoError(t, err)
	require.Zero(t, pending)
}

func TestRecordStoreHistoryAndOutbox(t *testing.T) {
	database := setupTestDB(t)
	defer database.Close()

	ctx := context.Background()
	store := NewRecordStore(database)
	key := ledger.WorkflowKey("AP-2")
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		batch := &ledger.Batch{
			Puts: []ledger.Put{{Key: key, Value: []byte(fmt.Sprintf(`{"n":%d}`, i)), Version: int64(i)}},
			History: []ledger.HistoryRecord{{
				Key:       key,
				TxRef:     fmt.Sprintf("tx-%d", i),
				Timestamp: base.Add(time.Duration(i) * time.Millisecond),
				Value:     []byte(fmt.Sprintf(`{"step":%d}`, i)),
			}},
			Events: []models.Event{{
				Type:       models.EventTypeWorkflowUpdated,
				EntityType: models.EntityTypeWorkflow,
				EntityID:   "AP-2",
				TxRef:      fmt.Sprintf("tx-%d", i),
			}},
		}
		require.NoError(t, store.Commit(ctx, batch))
	}

	history, err := store.History(ctx, key)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, h := range history {
		require.Equal(t, fmt.Sprintf("tx-%d", i), h.TxRef)
		require.True(t, h.Timestamp.Equal(base.Add(time.Duration(i)*time.Millisecond)))
	}

	events, err := NewEventRepository(database).ListByEntity(ctx, models.EntityTypeWorkflow, "AP-2", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "tx-2", events[2].TxRef)
}

func TestRecordStoreScan(t *testing.T) {
	database := setupTestDB(t)
	defer database.Close()

	ctx := context.Background()
	store := NewRecordStore(database)

	for _, id := range []string{"W3", "W1", "W2"} {
		require.NoError(t, store.Commit(ctx, &ledger.Batch{Puts: []ledger.Put{{Key: ledger.WorkflowKey(id), Value: []byte(`{}`)}}}))
	}
	require.NoError(t, store.Commit(ctx, &ledger.Batch{Puts: []ledger.Put{{Key: ledger.DocumentKey("D1"), Value: []byte(`{}`)}}}))

	page, err := store.Scan(ctx, ledger.ScanQuery{Prefix: ledger.WorkflowPrefix, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	require.Equal(t, ledger.WorkflowKey("W1"), page.Records[0].Key)
	require.Equal(t, ledger.WorkflowKey("W2"), page.Next)

	page, err = store.Scan(ctx, ledger.ScanQuery{Prefix: ledger.WorkflowPrefix, After: page.Next})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	require.Empty(t, page.Next)

	page, err = store.Scan(ctx, ledger.ScanQuery{Prefix: ledger.DocumentPrefix})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
}

func TestRecordStoreCanceledContext(t *testing.T) {
	database := setupTestDB(t)
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewRecordStore(database).Commit(ctx, &ledger.Batch{Puts: []ledger.Put{{Key: "workflow/x", Value: []byte(`{}`)}}})
	require.True(t, errors.Is(err, context.Canceled))
}
