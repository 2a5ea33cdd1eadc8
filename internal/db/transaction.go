package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/civicledger/approvald/internal/ledger"
)

// RetryPolicy bounds how often a ledger commit is retried while SQLite
// reports the database busy or locked. Backoff doubles after each attempt.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 50 * time.Millisecond}
}

func (p RetryPolicy) orDefault() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	if p.Backoff <= 0 {
		p.Backoff = def.Backoff
	}
	return p
}

// TransactionWithRetry runs fn in a transaction under the database's retry
// policy. Version conflicts are returned on the first attempt; only lock
// contention is retried.
func (db *DB) TransactionWithRetry(ctx context.Context, fn func(*sql.Tx) error) error {
	return db.retry.run(ctx, db, func() error {
		return db.Transaction(ctx, fn)
	})
}

func (p RetryPolicy) run(ctx context.Context, db *DB, fn func() error) error {
	p = p.orDefault()
	backoff := p.Backoff

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil || !retryable(err) || attempt >= p.Attempts {
			return err
		}

		if db != nil {
			db.logger.Debug().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("database busy, retrying commit")
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}

// retryable reports whether err is SQLite lock contention.
func retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ledger.ErrVersionConflict),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}

	// Some driver paths flatten the error to text.
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "database is locked") || strings.Contains(message, "sqlite_busy")
}
