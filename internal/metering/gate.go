package metering

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/wordai/api/internal/logging"
	"github.com/wordai/api/internal/metrics"
	"github.com/wordai/api/internal/model"
)

// Gate guards job admission and settles points after success. Admission is a
// read-only check; the debit happens only once the job has completed, and at
// most once per job id.
type Gate struct {
	prices *PriceTable
	ledger Ledger
	free   *FreeTier
	log    *zerolog.Logger
}

func NewGate(prices *PriceTable, ledger Ledger, free *FreeTier, logger *zerolog.Logger) *Gate {
	return &Gate{
		prices: prices,
		ledger: ledger,
		free:   free,
		log:    logging.Component(logger, "MeteringGate"),
	}
}

// CheckAndReserve reports whether ownerID can afford cost. Nothing is
// reserved or written.
func (g *Gate) CheckAndReserve(ctx context.Context, ownerID string, cost int64) (bool, error) {
	if cost <= 0 {
		return true, nil
	}
	bal, err := g.ledger.Balance(ctx, ownerID)
	if err != nil {
		return false, err
	}
	return bal >= cost, nil
}

// Admit prices a job and decides how it will be paid for. Free-tier classes
// with an unreserved use left are admitted as free and hold that use until
// settlement; everything else needs balance.
func (g *Gate) Admit(ctx context.Context, ownerID, jobType, provider string) (model.Quote, error) {
	cost, ok := g.prices.Cost(jobType, provider)
	if !ok {
		return model.Quote{}, &model.ValidationError{Message: fmt.Sprintf("no price configured for %q", jobType)}
	}

	class := PriceKey(jobType, provider)
	if g.free.Eligible(class) {
		left, held, err := g.free.Hold(ctx, ownerID, class)
		if err != nil {
			return model.Quote{}, err
		}
		if held {
			metrics.IncAdmission(jobType, "free")
			return model.Quote{Cost: cost, Billing: model.BillingFree, FreeRemaining: left}, nil
		}
	}

	bal, err := g.ledger.Balance(ctx, ownerID)
	if err != nil {
		return model.Quote{}, err
	}
	if bal < cost {
		metrics.IncAdmission(jobType, "rejected")
		return model.Quote{}, model.NewInsufficientBalanceError(cost, bal)
	}
	metrics.IncAdmission(jobType, "paid")
	return model.Quote{Cost: cost, Billing: model.BillingPaid}, nil
}

// CommitDebit debits cost for referenceID. Repeating it for the same
// reference is a no-op.
func (g *Gate) CommitDebit(ctx context.Context, ownerID string, cost int64, reason, referenceID string) error {
	if cost <= 0 {
		return nil
	}
	_, err := g.ledger.Append(ctx, model.LedgerEntry{
		OwnerID:     ownerID,
		Amount:      -cost,
		Kind:        model.LedgerKindDebit,
		Reason:      reason,
		ReferenceID: referenceID,
	})
	if errors.Is(err, model.ErrDuplicateEntry) {
		g.log.Debug().Str("reference_id", referenceID).Msg("debit already committed")
		return nil
	}
	if err != nil {
		return err
	}
	metrics.AddPoints(string(model.LedgerKindDebit), cost)
	return nil
}

// Settle charges a completed job. Free jobs consume today's allowance; when
// it ran out between admission and completion the job is debited instead.
func (g *Gate) Settle(ctx context.Context, job *model.Job) error {
	if job.Billing == model.BillingFree && g.free != nil {
		class := PriceKey(job.Type, ProviderOf(job.Payload))
		ok, err := g.free.Consume(ctx, job.OwnerID, class, job.ID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		g.log.Info().Str("job_id", job.ID).Str("owner_id", job.OwnerID).
			Msg("free allowance exhausted at settlement, debiting")
	}
	return g.CommitDebit(ctx, job.OwnerID, job.Cost, job.Type, job.ID)
}

// Credit adds points for referenceID. It returns false when the reference was
// already credited.
func (g *Gate) Credit(ctx context.Context, ownerID string, amount int64, reason, referenceID string) (bool, error) {
	_, err := g.ledger.Append(ctx, model.LedgerEntry{
		OwnerID:     ownerID,
		Amount:      amount,
		Kind:        model.LedgerKindCredit,
		Reason:      reason,
		ReferenceID: referenceID,
	})
	if errors.Is(err, model.ErrDuplicateEntry) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	metrics.AddPoints(string(model.LedgerKindCredit), amount)
	return true, nil
}

func (g *Gate) Balance(ctx context.Context, ownerID string) (int64, error) {
	return g.ledger.Balance(ctx, ownerID)
}

func (g *Gate) History(ctx context.Context, ownerID string, limit int) ([]model.LedgerEntry, error) {
	return g.ledger.History(ctx, ownerID, limit)
}

// ProviderOf reads the optional provider field of a job payload.
func ProviderOf(payload json.RawMessage) string {
	var p struct {
		Provider string `json:"provider"`
	}
	_ = json.Unmarshal(payload, &p)
	return p.Provider
}
