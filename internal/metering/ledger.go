package metering

import (
	"context"
	"fmt"

	"github.com/wordai/api/internal/model"
)

// Ledger is the append-only points ledger. Balance is the sum of all entries.
type Ledger interface {
	// Append records one entry. A second entry with the same (reference_id,
	// kind) fails with model.ErrDuplicateEntry; a debit larger than the
	// balance fails with *model.InsufficientBalanceError.
	Append(ctx context.Context, e model.LedgerEntry) (*model.LedgerEntry, error)
	Balance(ctx context.Context, ownerID string) (int64, error)
	// History returns the newest entries first.
	History(ctx context.Context, ownerID string, limit int) ([]model.LedgerEntry, error)
}

const defaultHistoryLimit = 50

func validateEntry(e model.LedgerEntry) error {
	switch {
	case e.OwnerID == "":
		return &model.ValidationError{Message: "ledger entry needs owner_id"}
	case e.ReferenceID == "":
		return &model.ValidationError{Message: "ledger entry needs reference_id"}
	case e.Kind == model.LedgerKindDebit && e.Amount >= 0:
		return &model.ValidationError{Message: fmt.Sprintf("debit amount must be negative, got %d", e.Amount)}
	case e.Kind == model.LedgerKindCredit && e.Amount <= 0:
		return &model.ValidationError{Message: fmt.Sprintf("credit amount must be positive, got %d", e.Amount)}
	case e.Kind != model.LedgerKindDebit && e.Kind != model.LedgerKindCredit:
		return &model.ValidationError{Message: fmt.Sprintf("unknown ledger kind %q", e.Kind)}
	}
	return nil
}

func historyLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultHistoryLimit
	}
	return limit
}
