package fabric

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/civicledger/approvald/internal/ledger"
	"github.com/civicledger/approvald/internal/models"
)

func TestStoreCommitAndGet(t *testing.T) {
	ctx := context.Background()
	stub := newFakeStub()
	stub.nextTx()
	store := NewStore(stub)

	_, err := store.Get(ctx, "workflow/AP-1")
	require.ErrorIs(t, err, ledger.ErrNotFound)

	require.NoError(t, store.Commit(ctx, &ledger.Batch{
		Puts: []ledger.Put{{Key: "workflow/AP-1", Value: []byte(`{"id":"AP-1"}`)}},
	}))

	rec, err := store.Get(ctx, "workflow/AP-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.Version)
	require.JSONEq(t, `{"id":"AP-1"}`, string(rec.Value))

	err = store.Commit(ctx, &ledger.Batch{
		Puts: []ledger.Put{{Key: "workflow/AP-1", Value: []byte(`{}`)}},
	})
	require.ErrorIs(t, err, ledger.ErrVersionConflict)

	err = store.Commit(ctx, &ledger.Batch{
		Puts: []ledger.Put{{Key: "workflow/AP-1", Value: []byte(`{}`), Version: 7}},
	})
	require.ErrorIs(t, err, ledger.ErrVersionConflict)

	require.NoError(t, store.Commit(ctx, &ledger.Batch{
		Puts: []ledger.Put{{Key: "workflow/AP-1", Value: []byte(`{}`), Version: 1}},
	}))
	rec, err = store.Get(ctx, "workflow/AP-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), rec.Version)
}

func TestStoreScanSkipsHistoryAndPages(t *testing.T) {
	ctx := context.Background()
	stub := newFakeStub()
	stub.nextTx()
	store := NewStore(stub)

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, store.Commit(ctx, &ledger.Batch{
			Puts: []ledger.Put{{Key: ledger.WorkflowKey(id), Value: []byte(`{}`)}},
			History: []ledger.HistoryRecord{{
				Key: ledger.WorkflowKey(id), TxRef: stub.txID, Timestamp: stub.txTime, Value: []byte(`{}`),
			}},
		}))
	}
	require.NoError(t, store.Commit(ctx, &ledger.Batch{
		Puts: []ledger.Put{{Key: ledger.DocumentKey("d"), Value: []byte(`{}`)}},
	}))

	page, err := store.Scan(ctx, ledger.ScanQuery{Prefix: ledger.WorkflowPrefix, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	require.Equal(t, "workflow/a", page.Records[0].Key)
	require.Equal(t, "workflow/b", page.Next)

	page, err = store.Scan(ctx, ledger.ScanQuery{Prefix: ledger.WorkflowPrefix, After: page.Next})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	require.Equal(t, "workflow/c", page.Records[0].Key)
	require.Empty(t, page.Next)
}

func TestStoreHistoryOrder(t *testing.T) {
	ctx := context.Background()
	stub := newFakeStub()
	store := NewStore(stub)
	key := ledger.DocumentKey("DOC-1")

	for i := 0; i < 3; i++ {
		stub.nextTx()
		require.NoError(t, store.Commit(ctx, &ledger.Batch{History: []ledger.HistoryRecord{{
			Key: key, TxRef: stub.txID, Timestamp: stub.txTime, Value: []byte(`{}`),
		}}}))
	}

	records, err := store.History(ctx, key)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, []string{"tx1", "tx2", "tx3"}, []string{records[0].TxRef, records[1].TxRef, records[2].TxRef})
	require.True(t, records[0].Timestamp.Before(records[2].Timestamp))

	other, err := store.History(ctx, ledger.DocumentKey("DOC-10"))
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestStoreSetsOneEvent(t *testing.T) {
	ctx := context.Background()
	stub := newFakeStub()
	stub.nextTx()
	store := NewStore(stub)

	require.NoError(t, store.Commit(ctx, &ledger.Batch{Events: []models.Event{
		{ID: "e1", Type: models.EventTypeDocumentApproved, Timestamp: time.Now().UTC()},
		{ID: "e2", Type: models.EventTypeDocumentRevoked, Timestamp: time.Now().UTC()},
	}}))
	require.Equal(t, EventName, stub.eventName)

	events, err := DecodeEvents(stub.event)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "e2", events[1].ID)
}

func TestClientIdentity(t *testing.T) {
	id := NewClientIdentity(enrolled("o1", "officer"))
	caller, err := id.CallerID()
	require.NoError(t, err)
	require.Equal(t, "o1", caller)

	bare := NewClientIdentity(&fakeIdentity{id: "x509::CN=anon", attrs: map[string]string{}})
	caller, err = bare.CallerID()
	require.NoError(t, err)
	require.Equal(t, "x509::CN=anon", caller)
}
