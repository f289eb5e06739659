package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/fundboard/fund-engine/internal/model"
)

// ErrInjected is returned by FaultStore for an armed operation.
var ErrInjected = errors.New("store: injected fault")

// Op names a store operation that can be made to fail.
type Op string

const (
	OpGetWallet          Op = "get_wallet"
	OpCreateWallet       Op = "create_wallet"
	OpSetBalance         Op = "set_balance"
	OpGetPosition        Op = "get_position"
	OpCreatePosition     Op = "create_position"
	OpSetShares          Op = "set_shares"
	OpDeletePosition     Op = "delete_position"
	OpListPositions      Op = "list_positions"
	OpAppendTransaction  Op = "append_transaction"
	OpListTransactions   Op = "list_transactions"
	OpGetFund            Op = "get_fund"
	OpListFunds          Op = "list_funds"
	OpCreateFund         Op = "create_fund"
	OpUpdateFund         Op = "update_fund"
	OpDeleteFund         Op = "delete_fund"
	OpCountFundPositions Op = "count_fund_positions"
)

var knownOps = map[Op]bool{
	OpGetWallet: true, OpCreateWallet: true, OpSetBalance: true,
	OpGetPosition: true, OpCreatePosition: true, OpSetShares: true,
	OpDeletePosition: true, OpListPositions: true, OpAppendTransaction: true,
	OpListTransactions: true, OpGetFund: true, OpListFunds: true,
	OpCreateFund: true, OpUpdateFund: true, OpDeleteFund: true,
	OpCountFundPositions: true,
}

// ParseOp validates an operation name.
func ParseOp(s string) (Op, error) {
	op := Op(s)
	if !knownOps[op] {
		return "", fmt.Errorf("unknown store operation %q", s)
	}
	return op, nil
}

// Fault arms one operation. The first Skip calls succeed, then the next
// Times calls fail. Times <= 0 fails every call until cleared.
type Fault struct {
	Op    Op  `json:"op"`
	Skip  int `json:"skip"`
	Times int `json:"times"`
}

// FaultStore wraps a Store and fails armed operations with ErrInjected.
// It backs the debug fault endpoints and the partial-failure tests.
type FaultStore struct {
	inner Store

	mu     sync.Mutex
	faults map[Op]*Fault
}

// NewFaultStore wraps inner with no faults armed.
func NewFaultStore(inner Store) *FaultStore {
	return &FaultStore{inner: inner, faults: make(map[Op]*Fault)}
}

// Arm replaces any fault already armed for f.Op.
func (s *FaultStore) Arm(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := f
	s.faults[f.Op] = &copy
}

// Clear disarms every operation.
func (s *FaultStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = make(map[Op]*Fault)
}

// Armed returns the currently armed faults ordered by operation name.
func (s *FaultStore) Armed() []Fault {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Fault, 0, len(s.faults))
	for _, f := range s.faults {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Op < out[j].Op })
	return out
}

func (s *FaultStore) trip(op Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.faults[op]
	if !ok {
		return nil
	}
	if f.Skip > 0 {
		f.Skip--
		return nil
	}
	if f.Times > 0 {
		f.Times--
		if f.Times == 0 {
			delete(s.faults, op)
		}
	}
	return fmt.Errorf("%s: %w", op, ErrInjected)
}

// --- Wallets ---

func (s *FaultStore) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	if err := s.trip(OpGetWallet); err != nil {
		return nil, err
	}
	return s.inner.GetWallet(ctx, userID)
}

func (s *FaultStore) CreateWallet(ctx context.Context, userID string, balance decimal.Decimal) (*model.Wallet, error) {
	if err := s.trip(OpCreateWallet); err != nil {
		return nil, err
	}
	return s.inner.CreateWallet(ctx, userID, balance)
}

func (s *FaultStore) SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	if err := s.trip(OpSetBalance); err != nil {
		return err
	}
	return s.inner.SetBalance(ctx, userID, balance)
}

// --- Positions ---

func (s *FaultStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	if err := s.trip(OpGetPosition); err != nil {
		return nil, err
	}
	return s.inner.GetPosition(ctx, id)
}

func (s *FaultStore) CreatePosition(ctx context.Context, p *model.Position) (string, error) {
	if err := s.trip(OpCreatePosition); err != nil {
		return "", err
	}
	return s.inner.CreatePosition(ctx, p)
}

func (s *FaultStore) SetShares(ctx context.Context, id string, quantity decimal.Decimal) error {
	if err := s.trip(OpSetShares); err != nil {
		return err
	}
	return s.inner.SetShares(ctx, id, quantity)
}

func (s *FaultStore) DeletePosition(ctx context.Context, id string) error {
	if err := s.trip(OpDeletePosition); err != nil {
		return err
	}
	return s.inner.DeletePosition(ctx, id)
}

func (s *FaultStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	if err := s.trip(OpListPositions); err != nil {
		return nil, err
	}
	return s.inner.ListPositions(ctx, userID)
}

func (s *FaultStore) CountFundPositions(ctx context.Context, fundID string) (int, error) {
	if err := s.trip(OpCountFundPositions); err != nil {
		return 0, err
	}
	return s.inner.CountFundPositions(ctx, fundID)
}

// --- Transaction log ---

func (s *FaultStore) AppendTransaction(ctx context.Context, tx *model.Transaction) (string, error) {
	if err := s.trip(OpAppendTransaction); err != nil {
		return "", err
	}
	return s.inner.AppendTransaction(ctx, tx)
}

func (s *FaultStore) ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	if err := s.trip(OpListTransactions); err != nil {
		return nil, err
	}
	return s.inner.ListTransactions(ctx, userID, limit)
}

// --- Funds ---

func (s *FaultStore) GetFund(ctx context.Context, id string) (*model.Fund, error) {
	if err := s.trip(OpGetFund); err != nil {
		return nil, err
	}
	return s.inner.GetFund(ctx, id)
}

func (s *FaultStore) ListFunds(ctx context.Context, filter model.FundFilter) ([]model.Fund, error) {
	if err := s.trip(OpListFunds); err != nil {
		return nil, err
	}
	return s.inner.ListFunds(ctx, filter)
}

func (s *FaultStore) CreateFund(ctx context.Context, f *model.Fund) error {
	if err := s.trip(OpCreateFund); err != nil {
		return err
	}
	return s.inner.CreateFund(ctx, f)
}

func (s *FaultStore) UpdateFund(ctx context.Context, f *model.Fund) error {
	if err := s.trip(OpUpdateFund); err != nil {
		return err
	}
	return s.inner.UpdateFund(ctx, f)
}

func (s *FaultStore) DeleteFund(ctx context.Context, id string) error {
	if err := s.trip(OpDeleteFund); err != nil {
		return err
	}
	return s.inner.DeleteFund(ctx, id)
}
