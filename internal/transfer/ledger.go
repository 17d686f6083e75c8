// Package transfer records deposits and withdrawals against linked venue
// accounts. Writes are idempotent on (account, external tx signature):
// replaying a transfer returns the stored row unchanged, so venue ledger
// polling and manual recording can overlap safely.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/deltadesk/position-engine/internal/model"
	"github.com/deltadesk/position-engine/internal/store"
)

// ErrInvalidTransfer is returned for malformed records: unknown direction,
// non-positive amount, missing signature, or an unknown account.
var ErrInvalidTransfer = errors.New("transfer: invalid transfer")

// Ledger is the transaction history service.
type Ledger struct {
	store store.Store
}

// NewLedger creates a transfer ledger over the given store.
func NewLedger(st store.Store) *Ledger {
	return &Ledger{store: st}
}

// RecordRequest carries one deposit or withdrawal to record. OccurredAt is
// the venue-side time; zero means now. Status defaults to confirmed.
type RecordRequest struct {
	DexAccountID        string
	Direction           model.TransferDirection
	MarketIndex         int
	Amount              decimal.Decimal
	TokenSymbol         string
	ExternalTxSignature string
	Status              string
	OccurredAt          time.Time
}

// Record stores one transfer. The bool reports whether a new row was
// written; a replayed signature returns the stored row with false.
func (l *Ledger) Record(ctx context.Context, req RecordRequest) (*model.Transaction, bool, error) {
	if !req.Direction.Valid() {
		return nil, false, fmt.Errorf("%w: direction %q", ErrInvalidTransfer, req.Direction)
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, false, fmt.Errorf("%w: amount must be positive", ErrInvalidTransfer)
	}
	if req.ExternalTxSignature == "" {
		return nil, false, fmt.Errorf("%w: external tx signature required", ErrInvalidTransfer)
	}

	account, err := l.store.GetAccount(ctx, req.DexAccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, fmt.Errorf("%w: account %s not found", ErrInvalidTransfer, req.DexAccountID)
		}
		return nil, false, err
	}

	status := req.Status
	if status == "" {
		status = model.TxConfirmed
	}
	occurred := req.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	tx := &model.Transaction{
		ID:                  uuid.New().String(),
		DexAccountID:        account.ID,
		Direction:           req.Direction,
		MarketIndex:         req.MarketIndex,
		Amount:              req.Amount,
		TokenSymbol:         req.TokenSymbol,
		ExternalTxSignature: req.ExternalTxSignature,
		Status:              status,
		CreatedAt:           occurred,
	}

	err = l.store.InsertTransaction(ctx, tx)
	if err == nil {
		slog.Info("transfer recorded",
			"transaction_id", tx.ID,
			"account_id", tx.DexAccountID,
			"direction", tx.Direction,
			"amount", tx.Amount,
			"token", tx.TokenSymbol,
		)
		return tx, true, nil
	}
	if !errors.Is(err, store.ErrDuplicate) {
		return nil, false, fmt.Errorf("record transfer: %w", err)
	}

	existing, err := l.store.GetTransactionBySignature(ctx, account.ID, req.ExternalTxSignature)
	if err != nil {
		return nil, false, fmt.Errorf("load duplicate transfer %s: %w", req.ExternalTxSignature, err)
	}
	return existing, false, nil
}

// History returns an account's transfers, newest first, filterable by
// direction and date range.
func (l *Ledger) History(ctx context.Context, accountID string, f store.TransactionFilter) ([]model.Transaction, error) {
	return l.store.ListTransactions(ctx, accountID, f)
}
