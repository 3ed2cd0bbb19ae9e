package metering

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wordai/api/internal/model"
)

// MemoryLedger keeps entries in process. Used for development and tests.
type MemoryLedger struct {
	mu      sync.Mutex
	entries []model.LedgerEntry
	refs    map[string]struct{}
	now     func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		refs: make(map[string]struct{}),
		now:  time.Now,
	}
}

func (l *MemoryLedger) Append(ctx context.Context, e model.LedgerEntry) (*model.LedgerEntry, error) {
	if err := validateEntry(e); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := e.ReferenceID + "|" + string(e.Kind)
	if _, dup := l.refs[key]; dup {
		return nil, model.ErrDuplicateEntry
	}
	if e.Kind == model.LedgerKindDebit {
		if bal := l.balanceLocked(e.OwnerID); bal+e.Amount < 0 {
			return nil, model.NewInsufficientBalanceError(-e.Amount, bal)
		}
	}

	e.ID = uuid.New().String()
	e.CreatedAt = l.now().UTC()
	l.entries = append(l.entries, e)
	l.refs[key] = struct{}{}
	return &e, nil
}

func (l *MemoryLedger) Balance(ctx context.Context, ownerID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(ownerID), nil
}

func (l *MemoryLedger) History(ctx context.Context, ownerID string, limit int) ([]model.LedgerEntry, error) {
	limit = historyLimit(limit)

	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]model.LedgerEntry, 0, limit)
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if l.entries[i].OwnerID == ownerID {
			out = append(out, l.entries[i])
		}
	}
	return out, nil
}

func (l *MemoryLedger) balanceLocked(ownerID string) int64 {
	var sum int64
	for _, e := range l.entries {
		if e.OwnerID == ownerID {
			sum += e.Amount
		}
	}
	return sum
}
