// Package fund implements the administrator-facing fund catalog: creation,
// validation, pricing edits, activation and deletion.
package fund

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fundboard/fund-engine/internal/model"
	"github.com/fundboard/fund-engine/internal/store"
)

const maxNameLength = 120

var validRiskLevels = map[model.RiskLevel]bool{
	model.RiskLow:      true,
	model.RiskModerate: true,
	model.RiskHigh:     true,
	model.RiskVeryHigh: true,
}

var (
	ErrInvalidFund      = errors.New("fund: invalid fund")
	ErrInvalidFilter    = errors.New("fund: invalid status filter")
	ErrNotFound         = errors.New("fund: not found")
	ErrFundHasPositions = errors.New("fund: fund still has open positions")
)

// Draft is the administrator's input for a new fund.
type Draft struct {
	Name               string           `json:"name"`
	InvestmentStrategy string           `json:"investment_strategy"`
	RiskLevel          model.RiskLevel  `json:"risk_level"`
	TargetMarket       string           `json:"target_market"`
	SharePrice         decimal.Decimal  `json:"share_price"`
	RedemptionPrice    *decimal.Decimal `json:"redemption_price"`
}

// Validate checks a draft and returns the first problem found.
func (d Draft) Validate() error {
	name := strings.TrimSpace(d.Name)
	switch {
	case name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidFund)
	case len(name) > maxNameLength:
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidFund, maxNameLength)
	case strings.TrimSpace(d.InvestmentStrategy) == "":
		return fmt.Errorf("%w: investment_strategy is required", ErrInvalidFund)
	case strings.TrimSpace(d.TargetMarket) == "":
		return fmt.Errorf("%w: target_market is required", ErrInvalidFund)
	case !validRiskLevels[d.RiskLevel]:
		return fmt.Errorf("%w: unsupported risk_level %q", ErrInvalidFund, d.RiskLevel)
	case !d.SharePrice.IsPositive():
		return fmt.Errorf("%w: share_price must be positive", ErrInvalidFund)
	}
	return validateRedemption(d.RedemptionPrice)
}

func validateRedemption(p *decimal.Decimal) error {
	if p != nil && !p.IsPositive() {
		return fmt.Errorf("%w: redemption_price must be positive when set", ErrInvalidFund)
	}
	return nil
}

// ParseFilter maps the ?status= query value onto a filter. Empty means all.
func ParseFilter(s string) (model.FundFilter, error) {
	switch f := model.FundFilter(strings.ToLower(s)); f {
	case "":
		return model.FundsAll, nil
	case model.FundsAll, model.FundsActive, model.FundsInactive:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q (expected all, active or inactive)", ErrInvalidFilter, s)
	}
}

// Listener is told about every committed catalog change.
type Listener interface {
	FundChanged(kind string, f model.Fund)
}

// Change kinds passed to Listener.
const (
	ChangeCreated = "fund_created"
	ChangeUpdated = "fund_updated"
	ChangeDeleted = "fund_deleted"
)

// Catalog manages funds on behalf of administrators.
type Catalog struct {
	funds     store.FundStore
	positions store.PositionStore
	listener  Listener // optional
	now       func() time.Time
}

// NewCatalog creates a catalog. Pass nil for listener if nothing subscribes.
func NewCatalog(funds store.FundStore, positions store.PositionStore, listener Listener) *Catalog {
	return &Catalog{
		funds:     funds,
		positions: positions,
		listener:  listener,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create validates d and stores it as a new active fund owned by adminID.
func (c *Catalog) Create(ctx context.Context, adminID string, d Draft) (*model.Fund, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	now := c.now()
	f := &model.Fund{
		ID:                 uuid.New().String(),
		Name:               strings.TrimSpace(d.Name),
		InvestmentStrategy: strings.TrimSpace(d.InvestmentStrategy),
		RiskLevel:          d.RiskLevel,
		TargetMarket:       strings.TrimSpace(d.TargetMarket),
		SharePrice:         d.SharePrice,
		RedemptionPrice:    d.RedemptionPrice,
		IsActive:           true,
		CreatedBy:          adminID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := c.funds.CreateFund(ctx, f); err != nil {
		return nil, fmt.Errorf("create fund: %w", err)
	}

	slog.Info("fund created",
		"id", f.ID,
		"name", f.Name,
		"admin", adminID,
		"share_price", f.SharePrice.String(),
	)
	c.changed(ChangeCreated, f)
	return f, nil
}

// Get returns one fund.
func (c *Catalog) Get(ctx context.Context, id string) (*model.Fund, error) {
	f, err := c.funds.GetFund(ctx, id)
	if err != nil {
		return nil, lookupErr(err, id)
	}
	return f, nil
}

// List returns funds matching filter, newest first. Never nil.
func (c *Catalog) List(ctx context.Context, filter model.FundFilter) ([]model.Fund, error) {
	funds, err := c.funds.ListFunds(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list funds: %w", err)
	}
	if funds == nil {
		funds = []model.Fund{}
	}
	return funds, nil
}

// SetRedemptionPrice changes the buy-back price. A nil price disables selling.
func (c *Catalog) SetRedemptionPrice(ctx context.Context, id string, price *decimal.Decimal) (*model.Fund, error) {
	if err := validateRedemption(price); err != nil {
		return nil, err
	}
	return c.update(ctx, id, func(f *model.Fund) { f.RedemptionPrice = price })
}

// SetActive opens or closes the fund to new purchases. Existing lots can
// still be sold.
func (c *Catalog) SetActive(ctx context.Context, id string, active bool) (*model.Fund, error) {
	return c.update(ctx, id, func(f *model.Fund) { f.IsActive = active })
}

// Delete removes a fund that no investor holds.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	f, err := c.Get(ctx, id)
	if err != nil {
		return err
	}

	n, err := c.positions.CountFundPositions(ctx, id)
	if err != nil {
		return fmt.Errorf("count positions: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %d lots reference fund %s", ErrFundHasPositions, n, id)
	}

	// A lot opened after the count still blocks the delete in the store.
	if err := c.funds.DeleteFund(ctx, id); err != nil {
		if errors.Is(err, store.ErrReferenced) {
			return fmt.Errorf("%w: fund %s", ErrFundHasPositions, id)
		}
		return lookupErr(err, id)
	}

	slog.Info("fund deleted", "id", id, "name", f.Name)
	c.changed(ChangeDeleted, f)
	return nil
}

func (c *Catalog) update(ctx context.Context, id string, apply func(*model.Fund)) (*model.Fund, error) {
	f, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	apply(f)
	f.UpdatedAt = c.now()

	if err := c.funds.UpdateFund(ctx, f); err != nil {
		return nil, lookupErr(err, id)
	}

	slog.Info("fund updated",
		"id", f.ID,
		"active", f.IsActive,
		"redeemable", f.CanRedeem(),
	)
	c.changed(ChangeUpdated, f)
	return f, nil
}

func (c *Catalog) changed(kind string, f *model.Fund) {
	if c.listener != nil {
		c.listener.FundChanged(kind, *f)
	}
}

func lookupErr(err error, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fmt.Errorf("fund %s: %w", id, err)
}
