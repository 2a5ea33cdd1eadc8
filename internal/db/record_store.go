package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/civicledger/approvald/internal/ledger"
)

// RecordStore implements ledger.Store on SQLite. Entity writes, history and
// outbox events of a batch share one transaction.
type RecordStore struct {
	db     *DB
	events *EventRepository
}

// NewRecordStore creates a store over a migrated database.
func NewRecordStore(db *DB) *RecordStore {
	return &RecordStore{db: db, events: NewEventRepository(db)}
}

// Get returns the record for key.
func (s *RecordStore) Get(ctx context.Context, key string) (*ledger.Record, error) {
	rec := &ledger.Record{Key: key}
	err := s.db.QueryRowContext(ctx,
		`SELECT value, version FROM records WHERE key = ?`, key,
	).Scan(&rec.Value, &rec.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// Scan returns records with the query prefix in key order.
func (s *RecordStore) Scan(ctx context.Context, q ledger.ScanQuery) (*ledger.ScanPage, error) {
	query := `SELECT key, value, version FROM records WHERE substr(key, 1, ?) = ?`
	args := []any{len(q.Prefix), q.Prefix}
	if q.After != "" {
		query += ` AND key > ?`
		args = append(args, q.After)
	}
	query += ` ORDER BY key`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit+1)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}
	defer rows.Close()

	page := &ledger.ScanPage{}
	for rows.Next() {
		var rec ledger.Record
		if err := rows.Scan(&rec.Key, &rec.Value, &rec.Version); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		page.Records = append(page.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	if q.Limit > 0 && len(page.Records) > q.Limit {
		page.Records = page.Records[:q.Limit]
		page.Next = page.Records[q.Limit-1].Key
	}
	return page, nil
}

// History returns the side log for key in commit order.
func (s *RecordStore) History(ctx context.Context, key string) ([]ledger.HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tx_ref, timestamp, value
		FROM history
		WHERE key = ?
		ORDER BY seq
	`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []ledger.HistoryRecord
	for rows.Next() {
		rec := ledger.HistoryRecord{Key: key}
		var timestamp string
		if err := rows.Scan(&rec.TxRef, &timestamp, &rec.Value); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		if t, err := parseTime(timestamp); err == nil {
			rec.Timestamp = t
		} else {
			s.db.logger.Warn().Err(err).Str("key", key).Msg("failed to parse history timestamp")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return out, nil
}

// Commit applies the batch in one transaction, retrying while the database
// is busy. A stale version aborts the whole batch with ledger.ErrVersionConflict.
func (s *RecordStore) Commit(ctx context.Context, batch *ledger.Batch) error {
	if batch == nil {
		return nil
	}
	now := formatTime(time.Now())

	return s.db.TransactionWithRetry(ctx, func(tx *sql.Tx) error {
		for _, put := range batch.Puts {
			if err := s.put(ctx, tx, put, now); err != nil {
				return err
			}
		}

		for _, h := range batch.History {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO history (key, tx_ref, timestamp, value) VALUES (?, ?, ?, ?)`,
				h.Key, h.TxRef, formatTime(h.Timestamp), h.Value,
			); err != nil {
				return fmt.Errorf("failed to append history: %w", err)
			}
		}

		for i := range batch.Events {
			if err := s.events.CreateWithTx(ctx, tx, &batch.Events[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *RecordStore) put(ctx context.Context, tx *sql.Tx, put ledger.Put, now string) error {
	var (
		result sql.Result
		err    error
	)
	if put.Version == 0 {
		result, err = tx.ExecContext(ctx, `
			INSERT INTO records (key, value, version, updated_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT (key) DO NOTHING
		`, put.Key, put.Value, now)
	} else {
		result, err = tx.ExecContext(ctx, `
			UPDATE records SET value = ?, version = version + 1, updated_at = ?
			WHERE key = ? AND version = ?
		`, put.Value, now, put.Key, put.Version)
	}
	if err != nil {
		return fmt.Errorf("failed to write record %s: %w", put.Key, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("%w: %s at version %d", ledger.ErrVersionConflict, put.Key, put.Version)
	}
	return nil
}

var _ ledger.Store = (*RecordStore)(nil)
