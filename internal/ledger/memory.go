package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/civicledger/approvald/internal/models"
)

// Memory is an in-process Store. It serializes commits with a mutex and keeps
// committed events for inspection.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
	history map[string][]HistoryRecord
	events  []models.Event
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]Record),
		history: make(map[string][]HistoryRecord),
	}
}

// Get returns the record for key.
func (m *Memory) Get(ctx context.Context, key string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	rec.Value = append([]byte(nil), rec.Value...)
	return &rec, nil
}

// Scan returns records in key order.
func (m *Memory) Scan(ctx context.Context, query ScanQuery) (*ScanPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.records))
	for key := range m.records {
		if !strings.HasPrefix(key, query.Prefix) {
			continue
		}
		if query.After != "" && key <= query.After {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	page := &ScanPage{}
	for i, key := range keys {
		if query.Limit > 0 && i == query.Limit {
			page.Next = page.Records[len(page.Records)-1].Key
			break
		}
		rec := m.records[key]
		rec.Value = append([]byte(nil), rec.Value...)
		page.Records = append(page.Records, rec)
	}
	return page, nil
}

// History returns the side log for key, oldest first.
func (m *Memory) History(ctx context.Context, key string) ([]HistoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]HistoryRecord(nil), m.history[key]...), nil
}

// Commit applies the batch atomically.
func (m *Memory) Commit(ctx context.Context, batch *Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if batch == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, put := range batch.Puts {
		current, ok := m.records[put.Key]
		if put.Version == 0 && ok {
			return fmt.Errorf("%w: %s already exists", ErrVersionConflict, put.Key)
		}
		if put.Version != 0 && (!ok || current.Version != put.Version) {
			return fmt.Errorf("%w: %s expected version %d", ErrVersionConflict, put.Key, put.Version)
		}
	}

	for _, put := range batch.Puts {
		m.records[put.Key] = Record{
			Key:     put.Key,
			Value:   append([]byte(nil), put.Value...),
			Version: NextVersion(put),
		}
	}
	for _, h := range batch.History {
		h.Value = append([]byte(nil), h.Value...)
		m.history[h.Key] = append(m.history[h.Key], h)
	}
	m.events = append(m.events, batch.Events...)
	return nil
}

// Events returns every committed event in commit order.
func (m *Memory) Events() []models.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Event(nil), m.events...)
}
