// Package portfolio values a user's position lots at current fund prices.
package portfolio

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/fundboard/fund-engine/internal/model"
	"github.com/fundboard/fund-engine/internal/store"
)

var hundred = decimal.NewFromInt(100)

// Service builds portfolio summaries from the position and fund stores.
type Service struct {
	positions store.PositionStore
	funds     store.FundCatalog
}

// NewService creates a portfolio service.
func NewService(positions store.PositionStore, funds store.FundCatalog) *Service {
	return &Service{positions: positions, funds: funds}
}

// Get loads the user's lots and values them.
func (s *Service) Get(ctx context.Context, userID string) (*model.Portfolio, error) {
	positions, err := s.positions.ListPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	funds := make(map[string]*model.Fund)
	for _, p := range positions {
		if _, seen := funds[p.FundID]; seen {
			continue
		}
		f, err := s.funds.GetFund(ctx, p.FundID)
		if err != nil {
			return nil, fmt.Errorf("get fund %s: %w", p.FundID, err)
		}
		funds[p.FundID] = f
	}

	pf := Summarize(userID, positions, funds)
	return &pf, nil
}

// Summarize values each lot at its fund's share price. Lots whose fund is
// missing from funds are valued at their purchase price and cannot be sold.
// Percentages are rounded to 2 places; money values are exact.
func Summarize(userID string, positions []model.Position, funds map[string]*model.Fund) model.Portfolio {
	pf := model.Portfolio{
		UserID:          userID,
		Holdings:        make([]model.Holding, 0, len(positions)),
		TotalInvested:   decimal.Zero,
		CurrentValue:    decimal.Zero,
		GainLoss:        decimal.Zero,
		GainLossPercent: decimal.Zero,
		Exposure:        []model.Exposure{},
	}

	byFund := make(map[string]*model.Exposure)
	for _, p := range positions {
		h := model.Holding{Position: p, SharePrice: p.PurchasePrice}
		if f, ok := funds[p.FundID]; ok {
			h.FundName = f.Name
			h.SharePrice = f.SharePrice
			h.CanSell = f.CanRedeem()
		}
		h.CurrentValue = p.SharesQuantity.Mul(h.SharePrice)
		h.GainLoss = h.CurrentValue.Sub(p.TotalAmount)
		pf.Holdings = append(pf.Holdings, h)

		pf.TotalInvested = pf.TotalInvested.Add(p.TotalAmount)
		pf.CurrentValue = pf.CurrentValue.Add(h.CurrentValue)

		e, ok := byFund[p.FundID]
		if !ok {
			e = &model.Exposure{FundID: p.FundID, FundName: h.FundName, Value: decimal.Zero}
			byFund[p.FundID] = e
		}
		e.Value = e.Value.Add(h.CurrentValue)
	}

	pf.GainLoss = pf.CurrentValue.Sub(pf.TotalInvested)
	if pf.TotalInvested.IsPositive() {
		pf.GainLossPercent = pf.GainLoss.Div(pf.TotalInvested).Mul(hundred).Round(2)
	}

	for _, e := range byFund {
		if pf.CurrentValue.IsPositive() {
			e.Percentage = e.Value.Div(pf.CurrentValue).Mul(hundred).Round(2)
		}
		pf.Exposure = append(pf.Exposure, *e)
	}
	sort.Slice(pf.Exposure, func(i, j int) bool {
		a, b := pf.Exposure[i], pf.Exposure[j]
		if !a.Value.Equal(b.Value) {
			return a.Value.GreaterThan(b.Value)
		}
		return a.FundID < b.FundID
	})
	return pf
}
