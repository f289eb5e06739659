// Package store defines the persistence contracts for the fund engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache for the fund catalog), in-memory (development and tests) and a
// fault-injecting wrapper for debug builds.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/fundboard/fund-engine/internal/model"
)

// ErrNotFound is returned when a requested row does not exist. Any other
// error from a store is an infrastructure failure.
var ErrNotFound = errors.New("store: not found")

// ErrReferenced is returned when deleting a row that other rows still
// point at, such as a fund with open positions.
var ErrReferenced = errors.New("store: row is still referenced")

// WalletStore holds one cash balance row per user.
type WalletStore interface {
	// GetWallet returns the user's wallet or ErrNotFound.
	GetWallet(ctx context.Context, userID string) (*model.Wallet, error)

	// CreateWallet creates the wallet with the given opening balance. If a
	// wallet already exists it is returned unchanged.
	CreateWallet(ctx context.Context, userID string, balance decimal.Decimal) (*model.Wallet, error)

	// SetBalance overwrites the balance of an existing wallet.
	SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error
}

// PositionStore holds per-user purchase lots.
type PositionStore interface {
	GetPosition(ctx context.Context, id string) (*model.Position, error)

	// CreatePosition inserts a new lot and returns its id. An empty p.ID is
	// assigned by the store.
	CreatePosition(ctx context.Context, p *model.Position) (string, error)

	SetShares(ctx context.Context, id string, quantity decimal.Decimal) error
	DeletePosition(ctx context.Context, id string) error

	// ListPositions returns the user's lots, newest purchase first.
	ListPositions(ctx context.Context, userID string) ([]model.Position, error)

	// CountFundPositions returns how many open lots reference the fund.
	CountFundPositions(ctx context.Context, fundID string) (int, error)
}

// TransactionLog is the append-only wallet ledger.
type TransactionLog interface {
	// AppendTransaction records tx and returns its id.
	AppendTransaction(ctx context.Context, tx *model.Transaction) (string, error)

	// ListTransactions returns the user's most recent transactions, newest first.
	ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error)
}

// FundCatalog is the read-only view of funds used during settlement.
type FundCatalog interface {
	GetFund(ctx context.Context, id string) (*model.Fund, error)
}

// FundStore is the administrator-facing fund table.
type FundStore interface {
	FundCatalog
	CreateFund(ctx context.Context, f *model.Fund) error
	ListFunds(ctx context.Context, filter model.FundFilter) ([]model.Fund, error)
	UpdateFund(ctx context.Context, f *model.Fund) error
	DeleteFund(ctx context.Context, id string) error
}

// Store is the full persistence surface.
type Store interface {
	WalletStore
	PositionStore
	TransactionLog
	FundStore
}
