// Package ledger defines the key-value store contract the engine persists
// workflows and documents through.
//
// Entities are stored as whole JSON documents under prefixed keys. Every
// record carries a version counter; a Put names the version it expects to
// replace, so a backend can reject stale writes instead of silently
// overwriting them. History lives in a side log keyed by entity key.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/civicledger/approvald/internal/models"
)

var (
	// ErrNotFound is returned by Get when no record exists for the key.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned by Commit when a Put's expected version
	// does not match the stored version.
	ErrVersionConflict = errors.New("version conflict")
)

// Key prefixes.
const (
	WorkflowPrefix = "workflow/"
	DocumentPrefix = "document/"
)

// WorkflowKey returns the store key for a workflow id.
func WorkflowKey(id string) string {
	return WorkflowPrefix + id
}

// DocumentKey returns the store key for a document id.
func DocumentKey(id string) string {
	return DocumentPrefix + id
}

// Record is a stored entity.
type Record struct {
	Key     string
	Value   []byte
	Version int64
}

// HistoryRecord is one side-log entry for a key.
type HistoryRecord struct {
	Key       string
	TxRef     string
	Timestamp time.Time
	Value     []byte
}

// Put writes Value under Key. Version is the version the caller read; zero
// means the key must not exist yet.
type Put struct {
	Key     string
	Value   []byte
	Version int64
}

// Batch is the unit of atomic commit: entity writes, history appends and
// outbox events land together or not at all.
type Batch struct {
	Puts    []Put
	History []HistoryRecord
	Events  []models.Event
}

// ScanQuery selects records by key prefix. After is an exclusive start key.
// Limit of zero returns every match.
type ScanQuery struct {
	Prefix string
	After  string
	Limit  int
}

// ScanPage is one page of a scan. Next is empty when the scan is exhausted.
type ScanPage struct {
	Records []Record
	Next    string
}

// Store is implemented by every persistence backend.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Scan(ctx context.Context, query ScanQuery) (*ScanPage, error)
	History(ctx context.Context, key string) ([]HistoryRecord, error)
	Commit(ctx context.Context, batch *Batch) error
}

// NextVersion returns the version a successful Put leaves behind.
func NextVersion(p Put) int64 {
	return p.Version + 1
}
