package engine

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/civicledger/approvald/internal/ledger"
	"github.com/civicledger/approvald/internal/models"
)

// VerifyDocument checks that a document is active, unexpired and, when
// expectedHash is given, matches its content hash. A missing document yields
// Exists=false rather than an error. Checks of existing documents are
// recorded as VERIFY history entries.
func (e *Engine) VerifyDocument(ctx context.Context, actor models.Actor, id, expectedHash string) (*models.VerifyResult, error) {
	const op = "verify document"
	now := e.now()
	res := &models.VerifyResult{ID: id, CheckedAt: now}

	current, err := e.loadDocument(ctx, op, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return res, nil
		}
		return nil, err
	}

	expectedHash = strings.TrimSpace(expectedHash)
	res.Exists = true
	res.State = current.State
	res.IsActive = current.State == models.DocumentStateActive
	res.IsExpired = current.IsExpired(now)
	res.DataIntegrity = expectedHash == "" || expectedHash == current.ContentHash
	res.Verified = res.IsActive && !res.IsExpired && res.DataIntegrity

	details := map[string]string{
		"verified":       strconv.FormatBool(res.Verified),
		"is_active":      strconv.FormatBool(res.IsActive),
		"is_expired":     strconv.FormatBool(res.IsExpired),
		"data_integrity": strconv.FormatBool(res.DataIntegrity),
	}
	entry := documentEntry(id, models.HistoryActionVerify, actor, current.State, current.State, details)
	if err := e.appendHistory(ctx, op, ledger.DocumentKey(id), entry, e.txRef(), now); err != nil {
		return nil, err
	}

	lg := e.documentLog(ctx, id, actor)
	lg.Debug().Bool("verified", res.Verified).Msg("document verified")
	return res, nil
}
