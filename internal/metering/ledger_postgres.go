package metering

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wordai/api/internal/model"
)

// PostgresLedger stores entries in ledger_entries. Appends for one owner are
// serialized with a transaction-scoped advisory lock so the balance check and
// the insert see the same state.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

func (l *PostgresLedger) Append(ctx context.Context, e model.LedgerEntry) (*model.LedgerEntry, error) {
	if err := validateEntry(e); err != nil {
		return nil, err
	}
	e.ID = uuid.New().String()

	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, e.OwnerID); err != nil {
			return fmt.Errorf("lock owner: %w", err)
		}

		var exists bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE reference_id = $1 AND kind = $2)`,
			e.ReferenceID, string(e.Kind),
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check duplicate: %w", err)
		}
		if exists {
			return model.ErrDuplicateEntry
		}

		if e.Kind == model.LedgerKindDebit {
			var bal int64
			err := tx.QueryRow(ctx,
				`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE owner_id = $1`, e.OwnerID,
			).Scan(&bal)
			if err != nil {
				return fmt.Errorf("read balance: %w", err)
			}
			if bal+e.Amount < 0 {
				return model.NewInsufficientBalanceError(-e.Amount, bal)
			}
		}

		err = tx.QueryRow(ctx, `
INSERT INTO ledger_entries (id, owner_id, amount, kind, reason, reference_id)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at;
`, e.ID, e.OwnerID, e.Amount, string(e.Kind), e.Reason, e.ReferenceID).Scan(&e.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func (l *PostgresLedger) Balance(ctx context.Context, ownerID string) (int64, error) {
	var bal int64
	err := l.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE owner_id = $1`, ownerID,
	).Scan(&bal)
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return bal, nil
}

func (l *PostgresLedger) History(ctx context.Context, ownerID string, limit int) ([]model.LedgerEntry, error) {
	rows, err := l.pool.Query(ctx, `
SELECT id::text, owner_id, amount, kind, reason, reference_id, created_at
FROM ledger_entries
WHERE owner_id = $1
ORDER BY created_at DESC, id
LIMIT $2;
`, ownerID, historyLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	var out []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.Amount, &kind, &e.Reason, &e.ReferenceID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Kind = model.LedgerKind(kind)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
