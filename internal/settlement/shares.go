package settlement

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// MaxAmount caps any single cash amount and any resulting wallet balance.
// FormatCash renders everything up to it exactly.
var MaxAmount = decimal.New(1, 12)

// ComputeShareCount returns how many shares cashAmount buys at sharePrice.
// The quotient keeps decimal.DivisionPrecision digits; rounding for display
// happens in FormatShares only. A positive amount too small to buy any
// representable fraction of a share is rejected.
func ComputeShareCount(cashAmount, sharePrice decimal.Decimal) (decimal.Decimal, error) {
	if !sharePrice.IsPositive() {
		return decimal.Zero, fmt.Errorf("share price %s: %w", sharePrice, ErrInvalidPrice)
	}
	if cashAmount.IsNegative() {
		return decimal.Zero, fmt.Errorf("cash amount %s: %w", cashAmount, ErrInvalidAmount)
	}
	shares := cashAmount.Div(sharePrice)
	if cashAmount.IsPositive() && !shares.IsPositive() {
		return decimal.Zero, fmt.Errorf("cash amount %s buys no shares at %s: %w", cashAmount, sharePrice, ErrInvalidAmount)
	}
	return shares, nil
}

// AmountFromFloat converts a UI-supplied float into a decimal amount.
// NaN and infinities are rejected.
func AmountFromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, fmt.Errorf("amount %v: %w", f, ErrInvalidAmount)
	}
	return decimal.NewFromFloat(f), nil
}

// requirePositive rejects zero, negative and oversized amounts.
func requirePositive(amount decimal.Decimal, what string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%s %s must be positive: %w", what, amount, ErrInvalidAmount)
	}
	if amount.GreaterThan(MaxAmount) {
		return fmt.Errorf("%s %s exceeds %s: %w", what, amount, MaxAmount, ErrInvalidAmount)
	}
	return nil
}

// requireBalanceWithinLimit rejects balances FormatCash could not render.
func requireBalanceWithinLimit(balance decimal.Decimal) error {
	if balance.GreaterThan(MaxAmount) {
		return fmt.Errorf("balance %s would exceed %s: %w", balance, MaxAmount, ErrInvalidAmount)
	}
	return nil
}
