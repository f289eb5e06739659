package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fundboard/fund-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu            sync.RWMutex
	wallets       map[string]*model.Wallet
	positions     map[string]*model.Position
	positionOrder []string
	funds         map[string]*model.Fund
	fundOrder     []string
	ledger        []model.Transaction
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:   make(map[string]*model.Wallet),
		positions: make(map[string]*model.Position),
		funds:     make(map[string]*model.Fund),
	}
}

// --- Wallets ---

func (s *MemoryStore) GetWallet(_ context.Context, userID string) (*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[userID]
	if !ok {
		return nil, fmt.Errorf("wallet for user %s: %w", userID, ErrNotFound)
	}
	copy := *w
	return &copy, nil
}

func (s *MemoryStore) CreateWallet(_ context.Context, userID string, balance decimal.Decimal) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.wallets[userID]; ok {
		copy := *existing
		return &copy, nil
	}

	now := time.Now().UTC()
	w := &model.Wallet{UserID: userID, Balance: balance, CreatedAt: now, UpdatedAt: now}
	s.wallets[userID] = w
	copy := *w
	return &copy, nil
}

func (s *MemoryStore) SetBalance(_ context.Context, userID string, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[userID]
	if !ok {
		return fmt.Errorf("wallet for user %s: %w", userID, ErrNotFound)
	}
	w.Balance = balance
	w.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Positions ---

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) CreatePosition(_ context.Context, p *model.Position) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *p
	if copy.ID == "" {
		copy.ID = uuid.New().String()
	}
	if _, exists := s.positions[copy.ID]; exists {
		return "", fmt.Errorf("position %s already exists", copy.ID)
	}
	if copy.PurchaseDate.IsZero() {
		copy.PurchaseDate = time.Now().UTC()
	}
	s.positions[copy.ID] = &copy
	s.positionOrder = append(s.positionOrder, copy.ID)
	return copy.ID, nil
}

func (s *MemoryStore) SetShares(_ context.Context, id string, quantity decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	p.SharesQuantity = quantity
	return nil
}

func (s *MemoryStore) DeletePosition(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[id]; !ok {
		return fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	delete(s.positions, id)
	for i, pid := range s.positionOrder {
		if pid == id {
			s.positionOrder = append(s.positionOrder[:i], s.positionOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) ListPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for i := len(s.positionOrder) - 1; i >= 0; i-- {
		p := s.positions[s.positionOrder[i]]
		if p.UserID == userID {
			result = append(result, *p)
		}
	}
	return result, nil
}

func (s *MemoryStore) CountFundPositions(_ context.Context, fundID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, p := range s.positions {
		if p.FundID == fundID {
			n++
		}
	}
	return n, nil
}

// --- Transaction log ---

func (s *MemoryStore) AppendTransaction(_ context.Context, tx *model.Transaction) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *tx
	if copy.ID == "" {
		copy.ID = uuid.New().String()
	}
	if copy.CreatedAt.IsZero() {
		copy.CreatedAt = time.Now().UTC()
	}
	s.ledger = append(s.ledger, copy)
	return copy.ID, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string, limit int) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for i := len(s.ledger) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		if s.ledger[i].UserID == userID {
			result = append(result, s.ledger[i])
		}
	}
	return result, nil
}

// --- Funds ---

func (s *MemoryStore) CreateFund(_ context.Context, f *model.Fund) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.funds[f.ID]; exists {
		return fmt.Errorf("fund %s already exists", f.ID)
	}
	s.funds[f.ID] = cloneFund(f)
	s.fundOrder = append(s.fundOrder, f.ID)
	return nil
}

func (s *MemoryStore) GetFund(_ context.Context, id string) (*model.Fund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.funds[id]
	if !ok {
		return nil, fmt.Errorf("fund %s: %w", id, ErrNotFound)
	}
	return cloneFund(f), nil
}

func (s *MemoryStore) ListFunds(_ context.Context, filter model.FundFilter) ([]model.Fund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	funds := make([]model.Fund, 0, len(s.funds))
	for i := len(s.fundOrder) - 1; i >= 0; i-- {
		f := s.funds[s.fundOrder[i]]
		if filter.Matches(f) {
			funds = append(funds, *cloneFund(f))
		}
	}
	return funds, nil
}

func (s *MemoryStore) UpdateFund(_ context.Context, f *model.Fund) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.funds[f.ID]; !ok {
		return fmt.Errorf("fund %s: %w", f.ID, ErrNotFound)
	}
	s.funds[f.ID] = cloneFund(f)
	return nil
}

func (s *MemoryStore) DeleteFund(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.funds[id]; !ok {
		return fmt.Errorf("fund %s: %w", id, ErrNotFound)
	}
	for _, p := range s.positions {
		if p.FundID == id {
			return fmt.Errorf("fund %s: %w", id, ErrReferenced)
		}
	}
	delete(s.funds, id)
	for i, fid := range s.fundOrder {
		if fid == id {
			s.fundOrder = append(s.fundOrder[:i], s.fundOrder[i+1:]...)
			break
		}
	}
	return nil
}

// cloneFund copies f including its optional redemption price.
func cloneFund(f *model.Fund) *model.Fund {
	copy := *f
	if f.RedemptionPrice != nil {
		rp := *f.RedemptionPrice
		copy.RedemptionPrice = &rp
	}
	return &copy
}
