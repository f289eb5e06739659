package settlement

import (
	"errors"
	"fmt"

	"github.com/fundboard/fund-engine/internal/store"
)

var (
	// ErrInsufficientFunds is returned when a debit exceeds the wallet balance.
	ErrInsufficientFunds = errors.New("settlement: insufficient funds")

	// ErrInvalidAmount covers non-positive, non-finite or oversized amounts
	// and share counts.
	ErrInvalidAmount = errors.New("settlement: invalid amount")

	// ErrInvalidPrice is returned when a fund's share price is not positive.
	ErrInvalidPrice = errors.New("settlement: invalid share price")

	// ErrRedemptionUnavailable is returned when a fund has no positive
	// redemption price, so it cannot buy shares back.
	ErrRedemptionUnavailable = errors.New("settlement: redemption unavailable")

	// ErrNotFound is returned when a required fund, wallet or position is
	// missing, or when the position belongs to another user.
	ErrNotFound = errors.New("settlement: not found")

	// ErrFundInactive is returned when buying into a deactivated fund.
	ErrFundInactive = errors.New("settlement: fund is not active")

	// ErrPartialFailureRecovered means a mid-sequence step failed and every
	// earlier mutation was reversed. Nothing needs reconciling.
	ErrPartialFailureRecovered = errors.New("settlement: partial failure, recovered")

	// ErrPartialFailureUnrecovered means a mid-sequence step failed and at
	// least one committed mutation could not be reversed. Money or shares
	// may be inconsistent until corrected by hand.
	ErrPartialFailureUnrecovered = errors.New("settlement: partial failure, unrecovered")

	// ErrStoreUnavailable wraps infrastructure failures before any mutation.
	ErrStoreUnavailable = errors.New("settlement: store unavailable")
)

// PartialFailureError describes a settlement that failed after its first
// mutating step. It matches ErrPartialFailureRecovered or
// ErrPartialFailureUnrecovered with errors.Is, and also the underlying cause.
type PartialFailureError struct {
	Op              string // "buy", "sell", "deposit", "withdraw"
	Step            string // the step that failed
	Cause           error
	CompensationErr error // set when the reversal itself failed
	Recovered       bool
}

func (e *PartialFailureError) Error() string {
	if e.Recovered {
		return fmt.Sprintf("settlement: %s failed at %s, changes reversed: %v", e.Op, e.Step, e.Cause)
	}
	if e.CompensationErr != nil {
		return fmt.Sprintf("settlement: %s failed at %s (%v) and reversal failed (%v); manual reconciliation required",
			e.Op, e.Step, e.Cause, e.CompensationErr)
	}
	return fmt.Sprintf("settlement: %s failed at %s (%v); manual reconciliation required", e.Op, e.Step, e.Cause)
}

func (e *PartialFailureError) Unwrap() []error {
	sentinel := ErrPartialFailureUnrecovered
	if e.Recovered {
		sentinel = ErrPartialFailureRecovered
	}
	return []error{sentinel, e.Cause}
}

// storeErr classifies a collaborator error seen before any mutation.
func storeErr(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", what, ErrStoreUnavailable, err)
}

// RequiresReconciliation reports whether err leaves state that needs manual
// correction.
func RequiresReconciliation(err error) bool {
	return errors.Is(err, ErrPartialFailureUnrecovered)
}
