package settlement

import (
	"fmt"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Currency is the dashboard's single wallet currency.
const Currency = money.USD

// Transaction-log descriptions for cash movements.
const (
	DepositDescription    = "Cash deposit"
	WithdrawalDescription = "Cash withdrawal"
)

// PurchaseDescription is the transaction-log text for buying into fundName.
func PurchaseDescription(fundName string) string { return "Purchase: " + fundName }

// SaleDescription is the transaction-log text for selling out of fundName.
func SaleDescription(fundName string) string { return "Sale: " + fundName }

// FormatCash renders amount in the wallet currency, e.g. "$1,142.50".
// Values are rounded half away from zero to the currency's minor unit.
func FormatCash(amount decimal.Decimal) string {
	cur := money.GetCurrency(Currency)
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	if !minor.BigInt().IsInt64() {
		// Beyond int64 minor units; never reached for amounts within MaxAmount.
		if minor.IsNegative() {
			return "-" + cur.Grapheme + amount.Neg().StringFixed(int32(cur.Fraction))
		}
		return cur.Grapheme + amount.StringFixed(int32(cur.Fraction))
	}
	return money.New(minor.IntPart(), Currency).Display()
}

// FormatShares rounds a share quantity to 4 decimal places for display.
func FormatShares(q decimal.Decimal) string {
	return q.StringFixed(4)
}

// Receipt returns the human-readable confirmation shown after an operation.
func (r *BuyResult) Receipt() string {
	return fmt.Sprintf("Bought %s shares of %s for %s", FormatShares(r.Shares), r.FundName, FormatCash(r.Position.TotalAmount))
}

func (r *SellResult) Receipt() string {
	return fmt.Sprintf("Sold %s shares for %s", FormatShares(r.SharesSold), FormatCash(r.SaleAmount))
}

func (r *CashResult) Receipt() string {
	if r.Amount.IsNegative() {
		return fmt.Sprintf("Withdrew %s", FormatCash(r.Amount.Neg()))
	}
	return fmt.Sprintf("Deposited %s", FormatCash(r.Amount))
}
