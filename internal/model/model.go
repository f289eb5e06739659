// Package model defines the core domain types shared across the fund engine.
// All monetary values and share quantities use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a balance change in the wallet ledger.
type TransactionType string

const (
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
	TransactionPurchase   TransactionType = "purchase"
	TransactionSale       TransactionType = "sale"
)

// RiskLevel is the administrator-assigned risk band of a fund.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskVeryHigh RiskLevel = "very_high"
)

// Role is the dashboard role carried by a session.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Wallet is the per-user cash balance. One row per user.
type Wallet struct {
	UserID    string          `json:"user_id" db:"user_id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Transaction is an immutable record of a balance change.
// Amount is signed: positive = credit, negative = debit.
type Transaction struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Type        TransactionType `json:"type" db:"type"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Description string          `json:"description" db:"description"`
	ReferenceID string          `json:"reference_id,omitempty" db:"reference_id"` // position id, if any
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Position is one discrete purchase lot of fund shares. Lots are never
// aggregated; a lot reaching zero shares is deleted.
type Position struct {
	ID             string          `json:"id" db:"id"`
	UserID         string          `json:"user_id" db:"user_id"`
	FundID         string          `json:"fund_id" db:"fund_id"`
	SharesQuantity decimal.Decimal `json:"shares_quantity" db:"shares_quantity"`
	PurchasePrice  decimal.Decimal `json:"purchase_price" db:"purchase_price"`
	TotalAmount    decimal.Decimal `json:"total_amount" db:"total_amount"`
	PurchaseDate   time.Time       `json:"purchase_date" db:"purchase_date"`
}

// Fund is an investment fund managed by administrators.
// RedemptionPrice is nil when selling is disabled.
type Fund struct {
	ID                 string           `json:"id" db:"id"`
	Name               string           `json:"name" db:"name"`
	InvestmentStrategy string           `json:"investment_strategy" db:"investment_strategy"`
	RiskLevel          RiskLevel        `json:"risk_level" db:"risk_level"`
	TargetMarket       string           `json:"target_market" db:"target_market"`
	SharePrice         decimal.Decimal  `json:"share_price" db:"share_price"`
	RedemptionPrice    *decimal.Decimal `json:"redemption_price" db:"redemption_price"`
	IsActive           bool             `json:"is_active" db:"is_active"`
	CreatedBy          string           `json:"created_by" db:"created_by"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at" db:"updated_at"`
}

// CanRedeem reports whether the fund currently buys back shares.
func (f *Fund) CanRedeem() bool {
	return f.RedemptionPrice != nil && f.RedemptionPrice.IsPositive()
}

// FundFilter selects funds by activity status.
type FundFilter string

const (
	FundsAll      FundFilter = "all"
	FundsActive   FundFilter = "active"
	FundsInactive FundFilter = "inactive"
)

// Matches reports whether f passes the filter.
func (ff FundFilter) Matches(f *Fund) bool {
	switch ff {
	case FundsActive:
		return f.IsActive
	case FundsInactive:
		return !f.IsActive
	default:
		return true
	}
}

// Holding is a lot valued at the fund's current share price.
type Holding struct {
	Position
	FundName     string          `json:"fund_name"`
	SharePrice   decimal.Decimal `json:"share_price"`
	CurrentValue decimal.Decimal `json:"current_value"`
	GainLoss     decimal.Decimal `json:"gain_loss"`
	CanSell      bool            `json:"can_sell"`
}

// Exposure is the share of portfolio value held in one fund.
type Exposure struct {
	FundID     string          `json:"fund_id"`
	FundName   string          `json:"fund_name"`
	Value      decimal.Decimal `json:"value"`
	Percentage decimal.Decimal `json:"percentage"`
}

// Portfolio aggregates a user's lots with totals and per-fund exposure.
type Portfolio struct {
	UserID          string          `json:"user_id"`
	Holdings        []Holding       `json:"holdings"`
	TotalInvested   decimal.Decimal `json:"total_invested"`
	CurrentValue    decimal.Decimal `json:"current_value"`
	GainLoss        decimal.Decimal `json:"gain_loss"`
	GainLossPercent decimal.Decimal `json:"gain_loss_percent"`
	Exposure        []Exposure      `json:"exposure"`
}
