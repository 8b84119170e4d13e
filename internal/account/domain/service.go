package domain

import "context"

// RefundResult reports the outcome of a usage refund.
type RefundResult struct {
	LogID    string `json:"logId"`
	Refunded int64  `json:"refunded"`
	Balances Balances
}

// Service is the credit ledger. Every operation executes as one atomic
// transaction against the store; interleaved read/modify/write races are
// rejected and retried internally.
type Service interface {
	CreateAccount(ctx context.Context, userID string) (*CreditAccount, error)
	Get(ctx context.Context, userID string) (*CreditAccount, error)
	GetBalances(ctx context.Context, userID string) (Balances, error)

	// Deduct draws amount from the selected pool. PoolCombined draws
	// subscription credits first, then purchased credits.
	Deduct(ctx context.Context, userID string, amount int64, pool Pool) (Balances, error)

	// Reserve debits the combined pool optimistically and records a usage
	// log so the debit can be reconciled once true usage is known.
	Reserve(ctx context.Context, userID, logID string, amount int64) (Balances, error)

	// Refund returns max(reserved-actualUsed, 0) to the purchased pool.
	// Idempotent per logID; a repeat call yields ErrRefundAlreadyApplied.
	Refund(ctx context.Context, userID, logID string, actualUsed int64) (*RefundResult, error)

	// GrantSubscriptionCredits overwrites the subscription pool (monthly
	// reset) and recomputes the derived search pool.
	GrantSubscriptionCredits(ctx context.Context, userID string, amount int64) (Balances, error)

	// AddPurchasedCredits credits a one-time purchase.
	AddPurchasedCredits(ctx context.Context, userID string, amount int64, searchAmount float64) (Balances, error)

	// ExpireSubscriptionCredits zeroes the subscription pool, leaving
	// purchased credits untouched.
	ExpireSubscriptionCredits(ctx context.Context, userID string) (Balances, error)

	// ConvertSubscriptionToPurchased moves percent of the subscription pool
	// into the purchased pool and zeroes the remainder. The rate differs
	// between call sites, so it is an explicit argument.
	ConvertSubscriptionToPurchased(ctx context.Context, userID string, percent float64) (Balances, error)
}
