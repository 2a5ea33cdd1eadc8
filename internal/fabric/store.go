// Package fabric runs the engine inside Hyperledger Fabric chaincode.
//
// Store maps ledger.Store onto the peer-provided world state, the client
// certificate supplies the caller identity, and the transaction id and
// timestamp replace the engine's clock and reference generator so every
// endorsing peer computes the same write set.
package fabric

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperledger/fabric-chaincode-go/shim"

	"github.com/civicledger/approvald/internal/ledger"
	"github.com/civicledger/approvald/internal/models"
)

const (
	historyObjectType = "history"

	// EventName is the chaincode event name carrying committed events.
	EventName = "ApprovalEvents"

	timeFormat = "2006-01-02T15:04:05.000000000Z07:00"
)

// envelope is the world-state value for a record.
type envelope struct {
	Version int64           `json:"version"`
	Value   json.RawMessage `json:"value"`
}

// historyValue is the world-state value for a history entry.
type historyValue struct {
	TxRef     string          `json:"tx_ref"`
	Timestamp string          `json:"timestamp"`
	Value     json.RawMessage `json:"value"`
}

// Store is a ledger.Store over a chaincode stub. It is valid for one
// transaction.
type Store struct {
	stub shim.ChaincodeStubInterface
}

var _ ledger.Store = (*Store)(nil)

// NewStore wraps stub.
func NewStore(stub shim.ChaincodeStubInterface) *Store {
	return &Store{stub: stub}
}

// Get implements ledger.Store.
func (s *Store) Get(_ context.Context, key string) (*ledger.Record, error) {
	raw, err := s.stub.GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read world state: %w", err)
	}
	if raw == nil {
		return nil, ledger.ErrNotFound
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return &ledger.Record{Key: key, Value: env.Value, Version: env.Version}, nil
}

// Scan implements ledger.Store with a key range query.
func (s *Store) Scan(_ context.Context, query ledger.ScanQuery) (*ledger.ScanPage, error) {
	start := query.Prefix
	if query.After != "" && query.After >= start {
		// Smallest key strictly greater than After.
		start = query.After + "\x00"
	}
	end := query.Prefix + string(utf8.MaxRune)

	iter, err := s.stub.GetStateByRange(start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query range: %w", err)
	}
	defer iter.Close()

	page := &ledger.ScanPage{}
	for iter.HasNext() {
		kv, err := iter.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate range: %w", err)
		}
		if !strings.HasPrefix(kv.Key, query.Prefix) {
			continue
		}
		if query.Limit > 0 && len(page.Records) == query.Limit {
			page.Next = page.Records[len(page.Records)-1].Key
			break
		}
		var env envelope
		if err := json.Unmarshal(kv.Value, &env); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", kv.Key, err)
		}
		page.Records = append(page.Records, ledger.Record{Key: kv.Key, Value: env.Value, Version: env.Version})
	}
	return page, nil
}

// History implements ledger.Store. Entries are composite keys ordered by
// timestamp then transaction id.
func (s *Store) History(_ context.Context, key string) ([]ledger.HistoryRecord, error) {
	iter, err := s.stub.GetStateByPartialCompositeKey(historyObjectType, []string{key})
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer iter.Close()

	var records []ledger.HistoryRecord
	for iter.HasNext() {
		kv, err := iter.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate history: %w", err)
		}
		var hv historyValue
		if err := json.Unmarshal(kv.Value, &hv); err != nil {
			return nil, fmt.Errorf("failed to decode history: %w", err)
		}
		ts, err := parseTime(hv.Timestamp)
		if err != nil {
			return nil, err
		}
		records = append(records, ledger.HistoryRecord{
			Key:       key,
			TxRef:     hv.TxRef,
			Timestamp: ts,
			Value:     hv.Value,
		})
	}
	return records, nil
}

// Commit implements ledger.Store. Version checks read the committed world
// state; Fabric's MVCC validation rejects the transaction at commit time if
// another transaction wrote the same keys first.
func (s *Store) Commit(ctx context.Context, batch *ledger.Batch) error {
	if batch == nil {
		return nil
	}

	for _, put := range batch.Puts {
		current, err := s.Get(ctx, put.Key)
		switch {
		case err == nil:
			if current.Version != put.Version {
				return ledger.ErrVersionConflict
			}
		case errors.Is(err, ledger.ErrNotFound):
			if put.Version != 0 {
				return ledger.ErrVersionConflict
			}
		default:
			return err
		}
	}

	for _, put := range batch.Puts {
		raw, err := json.Marshal(envelope{Version: ledger.NextVersion(put), Value: put.Value})
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", put.Key, err)
		}
		if err := s.stub.PutState(put.Key, raw); err != nil {
			return fmt.Errorf("failed to write %s: %w", put.Key, err)
		}
	}

	for i, h := range batch.History {
		ts := formatTime(h.Timestamp)
		compositeKey, err := s.stub.CreateCompositeKey(historyObjectType, []string{
			h.Key, ts, s.stub.GetTxID(), fmt.Sprintf("%04d", i),
		})
		if err != nil {
			return fmt.Errorf("failed to build history key: %w", err)
		}
		raw, err := json.Marshal(historyValue{TxRef: h.TxRef, Timestamp: ts, Value: h.Value})
		if err != nil {
			return fmt.Errorf("failed to encode history: %w", err)
		}
		if err := s.stub.PutState(compositeKey, raw); err != nil {
			return fmt.Errorf("failed to write history: %w", err)
		}
	}

	return s.setEvents(batch.Events)
}

// setEvents attaches the batch's events to the transaction. A transaction
// carries at most one chaincode event, so all events travel as one array.
func (s *Store) setEvents(events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	raw, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to encode events: %w", err)
	}
	if err := s.stub.SetEvent(EventName, raw); err != nil {
		return fmt.Errorf("failed to set event: %w", err)
	}
	return nil
}

// DecodeEvents decodes a chaincode event payload set by Commit.
func DecodeEvents(payload []byte) ([]models.Event, error) {
	var events []models.Event
	if err := json.Unmarshal(payload, &events); err != nil {
		return nil, fmt.Errorf("failed to decode chaincode event: %w", err)
	}
	return events, nil
}
