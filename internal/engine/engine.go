// Package engine implements the approval workflow and document lifecycle
// state machines on top of a ledger.Store.
//
// Every mutating operation loads the current entity, checks the caller
// against the policy table, fires the lifecycle state machine and commits
// the new entity, one history entry and the resulting events as a single
// batch. The engine holds no state between calls.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/civicledger/approvald/internal/ledger"
	"github.com/civicledger/approvald/internal/logging"
	"github.com/civicledger/approvald/internal/models"
	"github.com/civicledger/approvald/internal/policy"
)

// Engine runs lifecycle operations against a store.
type Engine struct {
	store  ledger.Store
	policy *policy.Table
	now    func() time.Time
	txRef  func() string
	newID  func() string
	logger zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithTxRefs overrides how transaction references are generated.
func WithTxRefs(next func() string) Option {
	return func(e *Engine) {
		if next != nil {
			e.txRef = next
		}
	}
}

// WithIDs overrides how history and event ids are generated. Backends that
// replay a transaction on several nodes need ids derived from the
// transaction rather than random ones.
func WithIDs(next func() string) Option {
	return func(e *Engine) {
		if next != nil {
			e.newID = next
		}
	}
}

// WithPolicy replaces the default policy table.
func WithPolicy(table *policy.Table) Option {
	return func(e *Engine) {
		if table != nil {
			e.policy = table
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates an engine over store.
func New(store ledger.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		policy: policy.Default(),
		now:    func() time.Time { return time.Now().UTC() },
		txRef:  uuid.NewString,
		newID:  uuid.NewString,
		logger: logging.Component("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Page selects a window of a listing. Cursor is the NextCursor of the
// previous page; a Limit of zero returns everything.
type Page struct {
	Cursor string
	Limit  int
}

// mutation is the outcome of one state transition, ready to commit.
type mutation struct {
	op      string
	id      string
	key     string
	version int64
	entity  any
	history models.HistoryEntry
	events  []models.Event
}

func (e *Engine) authorize(op policy.Operation, id string, actor models.Actor, subject policy.Subject) error {
	if err := e.policy.Authorize(op, actor, subject); err != nil {
		return newError(KindForbidden, string(op), id, err)
	}
	return nil
}

// commit writes m under txRef as one batch.
func (e *Engine) commit(ctx context.Context, m *mutation, txRef string, now time.Time) error {
	value, err := json.Marshal(m.entity)
	if err != nil {
		return newError(KindInternal, m.op, m.id, fmt.Errorf("encode entity: %w", err))
	}

	m.history.ID = e.newID()
	m.history.Timestamp = now
	m.history.TxRef = txRef
	entry, err := json.Marshal(m.history)
	if err != nil {
		return newError(KindInternal, m.op, m.id, fmt.Errorf("encode history: %w", err))
	}

	batch := &ledger.Batch{
		Puts: []ledger.Put{{Key: m.key, Value: value, Version: m.version}},
		History: []ledger.HistoryRecord{{
			Key:       m.key,
			TxRef:     txRef,
			Timestamp: now,
			Value:     entry,
		}},
		Events: m.events,
	}

	if err := e.store.Commit(ctx, batch); err != nil {
		if errors.Is(err, ledger.ErrVersionConflict) {
			if m.version == 0 {
				return newError(KindAlreadyExists, m.op, m.id, err)
			}
			return newError(KindConflict, m.op, m.id, err)
		}
		return newError(KindInternal, m.op, m.id, err)
	}
	return nil
}

// appendHistory commits a history entry without touching the entity.
func (e *Engine) appendHistory(ctx context.Context, op, key string, entry models.HistoryEntry, txRef string, now time.Time) error {
	entry.ID = e.newID()
	entry.Timestamp = now
	entry.TxRef = txRef
	value, err := json.Marshal(entry)
	if err != nil {
		return newError(KindInternal, op, entry.EntityID, fmt.Errorf("encode history: %w", err))
	}
	batch := &ledger.Batch{History: []ledger.HistoryRecord{{
		Key:       key,
		TxRef:     txRef,
		Timestamp: now,
		Value:     value,
	}}}
	if err := e.store.Commit(ctx, batch); err != nil {
		return newError(KindInternal, op, entry.EntityID, err)
	}
	return nil
}

func (e *Engine) newEvent(eventType models.EventType, entityType models.EntityType, id, txRef string, now time.Time, payload any) (models.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return models.Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return models.Event{
		ID:         e.newID(),
		Timestamp:  now,
		Type:       eventType,
		EntityType: entityType,
		EntityID:   id,
		TxRef:      txRef,
		Payload:    raw,
	}, nil
}

func (e *Engine) load(ctx context.Context, op, id, key string, into any) (int64, error) {
	rec, err := e.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return 0, newError(KindNotFound, op, id, nil)
		}
		return 0, newError(KindInternal, op, id, err)
	}
	if err := json.Unmarshal(rec.Value, into); err != nil {
		return 0, newError(KindInternal, op, id, fmt.Errorf("decode %s: %w", key, err))
	}
	return rec.Version, nil
}

func (e *Engine) exists(ctx context.Context, op, id, key string) error {
	_, err := e.store.Get(ctx, key)
	switch {
	case err == nil:
		return newError(KindAlreadyExists, op, id, nil)
	case errors.Is(err, ledger.ErrNotFound):
		return nil
	default:
		return newError(KindInternal, op, id, err)
	}
}

func (e *Engine) history(ctx context.Context, op, id, key string) ([]models.HistoryEntry, error) {
	if _, err := e.store.Get(ctx, key); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, newError(KindNotFound, op, id, nil)
		}
		return nil, newError(KindInternal, op, id, err)
	}

	records, err := e.store.History(ctx, key)
	if err != nil {
		return nil, newError(KindInternal, op, id, err)
	}
	entries := make([]models.HistoryEntry, 0, len(records))
	for _, rec := range records {
		var entry models.HistoryEntry
		if err := json.Unmarshal(rec.Value, &entry); err != nil {
			return nil, newError(KindInternal, op, id, fmt.Errorf("decode history: %w", err))
		}
		if entry.TxRef == "" {
			entry.TxRef = rec.TxRef
		}
		if entry.Timestamp.IsZero() {
			entry.Timestamp = rec.Timestamp
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func result(id, state, txRef string, events []models.Event) *models.TransitionResult {
	return &models.TransitionResult{
		Success:        true,
		ID:             id,
		ResultingState: state,
		TxRef:          txRef,
		Events:         events,
	}
}

func (e *Engine) workflowLog(ctx context.Context, id string, actor models.Actor) zerolog.Logger {
	return logging.WithActor(logging.WithWorkflow(logging.FromContext(ctx, e.logger), id), actor.ID, string(actor.Role))
}

func (e *Engine) documentLog(ctx context.Context, id string, actor models.Actor) zerolog.Logger {
	return logging.WithActor(logging.WithDocument(logging.FromContext(ctx, e.logger), id), actor.ID, string(actor.Role))
}
