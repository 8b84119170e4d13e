package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound      = errors.New("account_not_found")
	ErrAccountExists        = errors.New("account_exists")
	ErrUsageLogNotFound     = errors.New("usage_log_not_found")
	ErrRefundAlreadyApplied = errors.New("refund_already_applied")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrConcurrentUpdate     = errors.New("concurrent_update")

	// ErrNegativeBalance indicates a ledger invariant violation. Expected
	// insufficiency is reported as InsufficientCreditsError instead; this
	// error is a logic bug and must never be silently clamped.
	ErrNegativeBalance = errors.New("negative_balance")
)

// InsufficientCreditsError is the typed result for a deduction the user's
// pools cannot cover. It carries enough detail to render a UI message.
type InsufficientCreditsError struct {
	Pool      Pool
	Requested int64
	Available int64
	Shortfall int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits in %s pool: requested %d, available %d (shortfall %d)",
		e.Pool, e.Requested, e.Available, e.Shortfall)
}

// IsInsufficientCredits reports whether err is an InsufficientCreditsError.
func IsInsufficientCredits(err error) (*InsufficientCreditsError, bool) {
	var ice *InsufficientCreditsError
	if errors.As(err, &ice) {
		return ice, true
	}
	return nil, false
}
