package model

import "time"

// LedgerEntry is one append-only points movement. Amount is negative for debits.
type LedgerEntry struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Amount      int64      `json:"amount"`
	Kind        LedgerKind `json:"kind"`
	Reason      string     `json:"reason"`
	ReferenceID string     `json:"reference_id"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Quote is the admission decision for one job.
type Quote struct {
	Cost          int64   `json:"cost"`
	Billing       Billing `json:"billing"`
	FreeRemaining int64   `json:"free_remaining,omitempty"`
}

// BalanceResponse is returned by GET /api/points/balance
type BalanceResponse struct {
	OwnerID string `json:"owner_id"`
	Balance int64  `json:"balance"`
}

// LedgerHistoryResponse is returned by GET /api/points/history
type LedgerHistoryResponse struct {
	OwnerID string        `json:"owner_id"`
	Entries []LedgerEntry `json:"entries"`
}
