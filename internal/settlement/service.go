// Package settlement converts cash to fund shares and back while keeping the
// wallet, position lots and transaction log consistent.
//
// The stores offer single-row atomicity only. Each operation runs as a short
// saga: validate everything up front, then issue the mutating steps in a
// fixed order and compensate where a later step fails. The transaction log
// is advisory; a failed append is reported as a ledger gap and never rolls
// back a committed balance or position change.
//
// All monetary values use shopspring/decimal, never float64.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundboard/fund-engine/internal/metrics"
	"github.com/fundboard/fund-engine/internal/model"
	"github.com/fundboard/fund-engine/internal/store"
)

// DefaultHistoryLimit is the number of transactions returned when the caller
// does not ask for a specific count.
const DefaultHistoryLimit = 50

// maxHistoryLimit caps a single history page.
const maxHistoryLimit = 500

// Rows is the set of user-owned tables the service mutates.
type Rows interface {
	store.WalletStore
	store.PositionStore
	store.TransactionLog
}

// Event is published after an operation commits so views can re-fetch.
type Event struct {
	Type       string
	UserID     string
	FundID     string
	PositionID string
	Balance    decimal.Decimal
}

// Event types.
const (
	EventBought    = "investment_bought"
	EventSold      = "investment_sold"
	EventDeposited = "cash_deposited"
	EventWithdrew  = "cash_withdrawn"
)

// Notifier receives committed-settlement events. Notify must not block.
type Notifier interface {
	Notify(Event)
}

// Service executes settlements. Operations for the same user are serialized
// inside this process; concurrent writers in other processes can still race
// (later write wins).
type Service struct {
	rows   Rows
	funds  store.FundCatalog
	locks  userLocks
	notify Notifier // optional
	now    func() time.Time
}

// NewService creates a settlement service. funds must read authoritative
// prices, not a cache. Pass nil for notify if nothing listens for events.
func NewService(rows Rows, funds store.FundCatalog, notify Notifier) *Service {
	return &Service{
		rows:   rows,
		funds:  funds,
		notify: notify,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// BuyResult describes a committed purchase.
type BuyResult struct {
	Balance       decimal.Decimal `json:"balance"`
	Position      model.Position  `json:"position"`
	Shares        decimal.Decimal `json:"shares_purchased"`
	FundName      string          `json:"fund_name"`
	TransactionID string          `json:"transaction_id,omitempty"`
	LedgerGap     bool            `json:"ledger_gap"`
}

// SellResult describes a committed sale. Position is nil when the lot was
// fully sold and deleted.
type SellResult struct {
	Position       *model.Position `json:"position"`
	PositionClosed bool            `json:"position_closed"`
	SharesSold     decimal.Decimal `json:"shares_sold"`
	SaleAmount     decimal.Decimal `json:"sale_amount"`
	Balance        decimal.Decimal `json:"balance"`
	FundName       string          `json:"fund_name"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	LedgerGap      bool            `json:"ledger_gap"`
}

// CashResult describes a committed deposit or withdrawal. Amount is signed.
type CashResult struct {
	Balance       decimal.Decimal `json:"balance"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id,omitempty"`
	LedgerGap     bool            `json:"ledger_gap"`
}

// Buy spends cashAmount on shares of fundID at the fund's current share price.
func (s *Service) Buy(ctx context.Context, userID, fundID string, cashAmount decimal.Decimal) (res *BuyResult, err error) {
	started := time.Now()
	defer func() { s.observe("buy", started, err, res != nil && res.LedgerGap) }()

	if err := requirePositive(cashAmount, "cash amount"); err != nil {
		return nil, err
	}

	fund, err := s.funds.GetFund(ctx, fundID)
	if err != nil {
		return nil, storeErr(err, "get fund "+fundID)
	}
	shares, err := ComputeShareCount(cashAmount, fund.SharePrice)
	if err != nil {
		return nil, err
	}
	if !fund.IsActive {
		return nil, fmt.Errorf("fund %s: %w", fundID, ErrFundInactive)
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	wallet, err := s.wallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	before := wallet.Balance
	if cashAmount.GreaterThan(before) {
		return nil, fmt.Errorf("buy %s with balance %s: %w", cashAmount, before, ErrInsufficientFunds)
	}

	// No cancellation past this point.
	mctx := context.WithoutCancel(ctx)
	after := before.Sub(cashAmount)

	// Step 1: debit.
	if err := s.rows.SetBalance(mctx, userID, after); err != nil {
		return nil, fmt.Errorf("debit wallet: %w: %w", ErrStoreUnavailable, err)
	}

	// Step 2: open the lot; reverse the debit if that fails.
	pos := model.Position{
		UserID:         userID,
		FundID:         fund.ID,
		SharesQuantity: shares,
		PurchasePrice:  fund.SharePrice,
		TotalAmount:    cashAmount,
		PurchaseDate:   s.now(),
	}
	pos.ID, err = s.rows.CreatePosition(mctx, &pos)
	if err != nil {
		cerr := s.rows.SetBalance(mctx, userID, before)
		pfe := &PartialFailureError{
			Op:              "buy",
			Step:            "create position",
			Cause:           err,
			CompensationErr: cerr,
			Recovered:       cerr == nil,
		}
		s.reportPartial(pfe,
			"user", userID,
			"fund", fund.ID,
			"amount", cashAmount.String(),
			"balance_before", before.String(),
			"balance_after", after.String(),
		)
		return nil, pfe
	}

	// Step 3: ledger.
	res = &BuyResult{
		Balance:  after,
		Position: pos,
		Shares:   shares,
		FundName: fund.Name,
	}
	res.TransactionID, res.LedgerGap = s.appendLedger(mctx, "buy", &model.Transaction{
		UserID:      userID,
		Type:        model.TransactionPurchase,
		Amount:      cashAmount.Neg(),
		Description: PurchaseDescription(fund.Name),
		ReferenceID: pos.ID,
	})

	slog.Info("investment bought",
		"user", userID,
		"fund", fund.ID,
		"position", pos.ID,
		"amount", cashAmount.String(),
		"shares", shares.String(),
		"price", fund.SharePrice.String(),
		"balance", after.String(),
	)
	s.publish(Event{Type: EventBought, UserID: userID, FundID: fund.ID, PositionID: pos.ID, Balance: after})
	return res, nil
}

// Sell redeems sharesToSell from positionID at the fund's current
// redemption price. The stored share quantity is re-read here; callers'
// snapshots are never trusted.
func (s *Service) Sell(ctx context.Context, userID, positionID string, sharesToSell decimal.Decimal) (res *SellResult, err error) {
	started := time.Now()
	defer func() { s.observe("sell", started, err, res != nil && res.LedgerGap) }()

	if err := requirePositive(sharesToSell, "shares"); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	pos, err := s.rows.GetPosition(ctx, positionID)
	if err != nil {
		return nil, storeErr(err, "get position "+positionID)
	}
	if pos.UserID != userID {
		return nil, fmt.Errorf("position %s: %w", positionID, ErrNotFound)
	}
	if sharesToSell.GreaterThan(pos.SharesQuantity) {
		return nil, fmt.Errorf("sell %s of %s shares: %w", sharesToSell, pos.SharesQuantity, ErrInvalidAmount)
	}

	fund, err := s.funds.GetFund(ctx, pos.FundID)
	if err != nil {
		return nil, storeErr(err, "get fund "+pos.FundID)
	}
	if !fund.CanRedeem() {
		return nil, fmt.Errorf("fund %s: %w", fund.ID, ErrRedemptionUnavailable)
	}

	price := *fund.RedemptionPrice
	saleAmount := sharesToSell.Mul(price)
	remaining := pos.SharesQuantity.Sub(sharesToSell)

	// The credit cannot be reversed once shares are consumed, so the
	// resulting balance is bounded before anything changes.
	wallet, err := s.wallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := requireBalanceWithinLimit(wallet.Balance.Add(saleAmount)); err != nil {
		return nil, err
	}

	mctx := context.WithoutCancel(ctx)

	// Step 1: consume the shares.
	closed := remaining.IsZero()
	if closed {
		err = s.rows.DeletePosition(mctx, positionID)
	} else {
		err = s.rows.SetShares(mctx, positionID, remaining)
	}
	if err != nil {
		return nil, storeErr(err, "update position "+positionID)
	}

	// Step 2: credit. The lot is already consumed, so a failure here
	// cannot be reversed automatically.
	balance, err := s.credit(mctx, userID, saleAmount)
	if err != nil {
		pfe := &PartialFailureError{
			Op:    "sell",
			Step:  "credit wallet",
			Cause: err,
		}
		s.reportPartial(pfe,
			"user", userID,
			"fund", fund.ID,
			"position", positionID,
			"shares", sharesToSell.String(),
			"sale_amount", saleAmount.String(),
			"position_closed", closed,
		)
		return nil, pfe
	}

	// Step 3: ledger.
	res = &SellResult{
		PositionClosed: closed,
		SharesSold:     sharesToSell,
		SaleAmount:     saleAmount,
		Balance:        balance,
		FundName:       fund.Name,
	}
	if !closed {
		updated := *pos
		updated.SharesQuantity = remaining
		res.Position = &updated
	}
	res.TransactionID, res.LedgerGap = s.appendLedger(mctx, "sell", &model.Transaction{
		UserID:      userID,
		Type:        model.TransactionSale,
		Amount:      saleAmount,
		Description: SaleDescription(fund.Name),
		ReferenceID: positionID,
	})

	slog.Info("investment sold",
		"user", userID,
		"fund", fund.ID,
		"position", positionID,
		"shares", sharesToSell.String(),
		"remaining", remaining.String(),
		"price", price.String(),
		"sale_amount", saleAmount.String(),
		"balance", balance.String(),
	)
	s.publish(Event{Type: EventSold, UserID: userID, FundID: fund.ID, PositionID: positionID, Balance: balance})
	return res, nil
}

// Deposit adds amount to the user's wallet.
func (s *Service) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (res *CashResult, err error) {
	started := time.Now()
	defer func() { s.observe("deposit", started, err, res != nil && res.LedgerGap) }()

	if err := requirePositive(amount, "deposit amount"); err != nil {
		return nil, err
	}
	return s.moveCash(ctx, "deposit", userID, amount)
}

// Withdraw removes amount from the user's wallet.
func (s *Service) Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (res *CashResult, err error) {
	started := time.Now()
	defer func() { s.observe("withdraw", started, err, res != nil && res.LedgerGap) }()

	if err := requirePositive(amount, "withdrawal amount"); err != nil {
		return nil, err
	}
	return s.moveCash(ctx, "withdraw", userID, amount.Neg())
}

// moveCash applies a signed balance change and logs it.
func (s *Service) moveCash(ctx context.Context, op, userID string, delta decimal.Decimal) (*CashResult, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	wallet, err := s.wallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	after := wallet.Balance.Add(delta)
	if after.IsNegative() {
		return nil, fmt.Errorf("withdraw %s with balance %s: %w", delta.Neg(), wallet.Balance, ErrInsufficientFunds)
	}
	if err := requireBalanceWithinLimit(after); err != nil {
		return nil, err
	}

	mctx := context.WithoutCancel(ctx)
	if err := s.rows.SetBalance(mctx, userID, after); err != nil {
		return nil, fmt.Errorf("update balance: %w: %w", ErrStoreUnavailable, err)
	}

	tx := &model.Transaction{
		UserID:      userID,
		Type:        model.TransactionDeposit,
		Amount:      delta,
		Description: DepositDescription,
	}
	eventType := EventDeposited
	if delta.IsNegative() {
		tx.Type = model.TransactionWithdrawal
		tx.Description = WithdrawalDescription
		eventType = EventWithdrew
	}

	res := &CashResult{Balance: after, Amount: delta}
	res.TransactionID, res.LedgerGap = s.appendLedger(mctx, op, tx)

	slog.Info("wallet updated",
		"op", op,
		"user", userID,
		"amount", delta.String(),
		"balance", after.String(),
	)
	s.publish(Event{Type: eventType, UserID: userID, Balance: after})
	return res, nil
}

// Wallet returns the user's wallet, creating an empty one on first access.
func (s *Service) Wallet(ctx context.Context, userID string) (*model.Wallet, error) {
	return s.wallet(ctx, userID)
}

// History returns the user's most recent transactions, newest first.
// limit <= 0 selects DefaultHistoryLimit.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	txns, err := s.rows.ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, storeErr(err, "list transactions")
	}
	if txns == nil {
		txns = []model.Transaction{}
	}
	return txns, nil
}

// --- helpers ---

// wallet reads the user's wallet or lazily creates it with a zero balance.
func (s *Service) wallet(ctx context.Context, userID string) (*model.Wallet, error) {
	w, err := s.rows.GetWallet(ctx, userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, storeErr(err, "get wallet")
	}
	w, err = s.rows.CreateWallet(ctx, userID, decimal.Zero)
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w: %w", ErrStoreUnavailable, err)
	}
	return w, nil
}

// credit adds amount to the user's wallet and returns the new balance.
func (s *Service) credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	w, err := s.wallet(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	balance := w.Balance.Add(amount)
	if err := s.rows.SetBalance(ctx, userID, balance); err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// appendLedger records tx. A failure is logged and counted, never returned.
func (s *Service) appendLedger(ctx context.Context, op string, tx *model.Transaction) (id string, gap bool) {
	id, err := s.rows.AppendTransaction(ctx, tx)
	if err != nil {
		metrics.LedgerGaps.WithLabelValues(op).Inc()
		slog.Warn("transaction log append failed; balance change committed without ledger row",
			"op", op,
			"user", tx.UserID,
			"type", string(tx.Type),
			"amount", tx.Amount.String(),
			"reference", tx.ReferenceID,
			"error", err,
		)
		return "", true
	}
	return id, false
}

func (s *Service) reportPartial(pfe *PartialFailureError, attrs ...any) {
	metrics.PartialFailures.WithLabelValues(pfe.Op, strconv.FormatBool(pfe.Recovered)).Inc()
	attrs = append(attrs,
		"step", pfe.Step,
		"recovered", pfe.Recovered,
		"error", pfe.Cause,
	)
	if pfe.CompensationErr != nil {
		attrs = append(attrs, "compensation_error", pfe.CompensationErr)
	}
	if pfe.Recovered {
		slog.Error("settlement failed mid-sequence; changes reversed", attrs...)
		return
	}
	slog.Error("settlement failed mid-sequence; manual reconciliation required", attrs...)
}

func (s *Service) publish(ev Event) {
	if s.notify != nil {
		s.notify.Notify(ev)
	}
}

func (s *Service) observe(op string, started time.Time, err error, gap bool) {
	metrics.ObserveSettlement(op, Outcome(err, gap), started)
}

// Outcome labels the result of an operation for metrics.
func Outcome(err error, ledgerGap bool) string {
	switch {
	case err == nil && ledgerGap:
		return "ledger_gap"
	case err == nil:
		return "ok"
	case errors.Is(err, ErrPartialFailureUnrecovered):
		return "unrecovered"
	case errors.Is(err, ErrPartialFailureRecovered):
		return "recovered"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_error"
	default:
		return "rejected"
	}
}

// userLocks serializes operations per user within this process.
type userLocks struct {
	mu    sync.Mutex
	users map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until userID's lock is held and returns its release func.
func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	if l.users == nil {
		l.users = make(map[string]*userLock)
	}
	ul, ok := l.users[userID]
	if !ok {
		ul = &userLock{}
		l.users[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.users, userID)
		}
		l.mu.Unlock()
	}
}
