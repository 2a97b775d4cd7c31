package domain

import "time"

// Profile holds the credit balance owned by the backing profile store.
type Profile struct {
	UserID             string
	Credits            int
	SubscriptionActive bool
	UpdatedAt          time.Time
}

// CreditTransactionType enumerates ledger entry kinds.
type CreditTransactionType string

const (
	TxGeneration   CreditTransactionType = "generation"
	TxRefund       CreditTransactionType = "refund"
	TxSubscription CreditTransactionType = "subscription"
	TxRenewal      CreditTransactionType = "renewal"
)

// CreditTransaction is an append-only audit entry. ReferenceID is used for
// duplicate-grant detection on webhook-driven credits only.
type CreditTransaction struct {
	ID          string
	UserID      string
	Type        CreditTransactionType
	Amount      int
	ReferenceID string
	CreatedAt   time.Time
}
