// Package storage opens the configured ledger backend.
package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/civicledger/approvald/internal/config"
	"github.com/civicledger/approvald/internal/db"
	"github.com/civicledger/approvald/internal/dynamo"
	"github.com/civicledger/approvald/internal/ledger"
)

// Backend is an opened store plus the SQLite handles when that backend is
// in use.
type Backend struct {
	Kind  string
	Store ledger.Store

	// Database and Outbox are nil unless Kind is sqlite.
	Database *db.DB
	Outbox   *db.EventRepository
}

// Open connects to the backend named by cfg.Storage.Backend. The SQLite
// schema is migrated before returning.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite, "":
		database, err := db.Open(db.Config{
			Path:           cfg.DatabasePath(),
			MaxConnections: cfg.Database.MaxConnections,
			BusyTimeoutMs:  cfg.Database.BusyTimeoutMs,
			Retry: db.RetryPolicy{
				Attempts: cfg.Database.CommitRetries,
				Backoff:  cfg.Database.CommitBackoff,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		applied, err := database.MigrateUp(ctx)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		if applied > 0 {
			logger.Info().Int("applied", applied).Str("path", database.Path()).Msg("database migrated")
		}
		return &Backend{
			Kind:     config.BackendSQLite,
			Store:    db.NewRecordStore(database),
			Database: database,
			Outbox:   db.NewEventRepository(database),
		}, nil

	case config.BackendDynamoDB:
		dc := cfg.Storage.DynamoDB
		store, err := dynamo.New(ctx, dynamo.Config{
			Table:       dc.Table,
			Region:      dc.Region,
			Endpoint:    dc.Endpoint,
			CreateTable: dc.CreateTable,
		})
		if err != nil {
			return nil, err
		}
		logger.Debug().Str("table", dc.Table).Str("region", dc.Region).Msg("using dynamodb store")
		return &Backend{Kind: config.BackendDynamoDB, Store: store}, nil

	case config.BackendMemory:
		logger.Warn().Msg("using in-memory store; state is lost on exit")
		return &Backend{Kind: config.BackendMemory, Store: ledger.NewMemory()}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// HasOutbox reports whether events are persisted for later relay.
func (b *Backend) HasOutbox() bool {
	return b.Outbox != nil
}

// Close releases the database, if any.
func (b *Backend) Close() error {
	if b.Database != nil {
		return b.Database.Close()
	}
	return nil
}
