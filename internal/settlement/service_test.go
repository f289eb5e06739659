package settlement_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundboard/fund-engine/internal/model"
	"github.com/fundboard/fund-engine/internal/settlement"
	"github.com/fundboard/fund-engine/internal/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type testEnv struct {
	svc    *settlement.Service
	store  *store.FaultStore
	events *recorder
}

type recorder struct {
	mu     sync.Mutex
	events []settlement.Event
}

func (r *recorder) Notify(ev settlement.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fs := store.NewFaultStore(store.NewMemoryStore())
	rec := &recorder{}
	return &testEnv{svc: settlement.NewService(fs, fs, rec), store: fs, events: rec}
}

// fund seeds an active fund. redemption may be empty to disable selling.
func (e *testEnv) fund(t *testing.T, id, price, redemption string) {
	t.Helper()
	f := &model.Fund{
		ID:         id,
		Name:       "Fund " + id,
		RiskLevel:  model.RiskModerate,
		SharePrice: d(price),
		IsActive:   true,
	}
	if redemption != "" {
		rp := d(redemption)
		f.RedemptionPrice = &rp
	}
	require.NoError(t, e.store.CreateFund(context.Background(), f))
}

func (e *testEnv) balance(t *testing.T, userID string, amount string) {
	t.Helper()
	ctx := context.Background()
	_, err := e.store.CreateWallet(ctx, userID, decimal.Zero)
	require.NoError(t, err)
	require.NoError(t, e.store.SetBalance(ctx, userID, d(amount)))
}

func (e *testEnv) walletBalance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	w, err := e.store.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	return w.Balance
}

func (e *testEnv) positions(t *testing.T, userID string) []model.Position {
	t.Helper()
	ps, err := e.store.ListPositions(context.Background(), userID)
	require.NoError(t, err)
	return ps
}

func (e *testEnv) transactions(t *testing.T, userID string) []model.Transaction {
	t.Helper()
	txns, err := e.store.ListTransactions(context.Background(), userID, 0)
	require.NoError(t, err)
	return txns
}

// --- Buy ---

func TestBuy_DebitsWalletAndOpensLot(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "f1", "100", "95")
	env.balance(t, "alice", "1000")

	res, err := env.svc.Buy(context.Background(), "alice", "f1", d("250"))
	require.NoError(t, err)

	assert.True(t, res.Balance.Equal(d("750")), "balance %s", res.Balance)
	assert.True(t, res.Shares.Equal(d("2.5")), "shares %s", res.Shares)
	assert.False(t, res.LedgerGap)
	assert.True(t, env.walletBalance(t, "alice").Equal(d("750")))

	ps := env.positions(t, "alice")
	require.Len(t, ps, 1)
	assert.Equal(t, res.Position.ID, ps[0].ID)
	assert.True(t, ps[0].SharesQuantity.Equal(d("2.5")))
	assert.True(t, ps[0].PurchasePrice.Equal(d("100")))
	assert.True(t, ps[0].TotalAmount.Equal(d("250")))

	txns := env.transactions(t, "alice")
	require.Len(t, txns, 1)
	assert.Equal(t, res.TransactionID, txns[0].ID)
	assert.Equal(t, model.TransactionPurchase, txns[0].Type)
	assert.True(t, txns[0].Amount.Equal(d("-250")))
	assert.Equal(t, ps[0].ID, txns[0].ReferenceID)
	assert.Equal(t, "Purchase: Fund f1", txns[0].Description)

	assert.Equal(t, "Bought 2.5000 shares of Fund f1 for $250.00", res.Receipt())

	require.Len(t, env.events.events, 1)
	assert.Equal(t, settlement.EventBought, env.events.events[0].Type)
	assert.Equal(t, ps[0].ID, env.events.events[0].PositionID)
}

func TestBuy_InsufficientFundsMutatesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "f1", "100", "95")
	env.balance(t, "alice", "50")

	_, err := env.svc.Buy(context.Background(), "alice", "f1", d("100"))
	require.ErrorIs(t, err, settlement.ErrInsufficientFunds)

	assert.True(t, env.walletBalance(t, "alice").Equal(d("50")))
	assert.Empty(t, env.positions(t, "alice"))
	assert.Empty(t, env.transactions(t, "alice"))
	assert.Empty(t, env.events.events)
}

func TestBuy_CreatesWalletOnDemand(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "f1", "100", "")

	_, err := env.svc.Buy(context.Background(), "newcomer", "f1", d("10"))
	require.ErrorIs(t, err, settlement.ErrInsufficientFunds)
	assert.True(t, env.walletBalance(t, "newcomer").IsZero())
}

func TestBuy_ExactBalanceLeavesZero(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "f1", "3", "")
	env.balance(t, "alice", "10")

	res, err := env.svc.Buy(context.Background(), "alice", "f1", d("10"))
	require.NoError(t, err)
	assert.True(t, res.Balance.IsZero())
	assert.True(t, res.Shares.Equal(d("10").Div(d("3"))))
}

func TestBuy_Rejections(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "f1", "100", "")
	env.balance(t, "alice", "1000")
	ctx := context.Background()

	require.NoError(t, env.store.CreateFund(ctx, &model.Fund{ID: "closed", Name: "Closed", SharePrice: d("10"), IsActive: false}))
	require.NoError(t, env.store.CreateFund(ctx, &model.Fund{ID: "free", Name: "Free", SharePrice: decimal.Zero, IsActive: true}))

	tests := []struct {
		name   string
		fundID string
		amount decimal.Decimal
		want   error
	}{
		{"zero amount", "f1", decimal.Zero, settlement.ErrInvalidAmount},
		{"negative amount", "f1", d("-5"), settlement.ErrInvalidAmount},
		{"unknown fund", "nope", d("10"), settlement.ErrNotFound},
		{"inactive fund", "closed", d("10"), settlement.ErrFundInactive},
		{"zero share price", "free", d("10"), settlement.ErrInvalidPrice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Buy(ctx, "alice", tt.fundID, tt.amount)
			require.ErrorIs(t, err, tt.want)
		})
	}

	assert.True(t, env.walletBalance(t, "alice").Equal(d("1000")))
	assert.Empty(t, env.positions(t, "alice"))
}

func TestBuy_DustAmountOpensNoLot(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "f1", "100", "95")
	env.balance(t, "alice", "1")

	_, err := env.svc.Buy(context.Background(), "alice", "f1", d("0.00000000000000001"))
	require.ErrorIs(t, err, settlement.ErrInvalidAmount)

	assert.True(t, env.walletBalance(t, "alice").Equal(d("1")))
	assert.Empty(t, env.positions(t, "alice"))
	assert.Empty(t, env.transactions(t, "alice"))
}

func TestBuy_OversizedAmount(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "f1", "100", "95")
	env.balance(t, "alice", "1")

	_, err := env.svc.Buy(context.Background(), "alice", "f1", settlement.MaxAmount.Add(d("0.01")))
	require.ErrorIs(t, err, settlement.ErrInvalidAmount)
	assert.True(t, env.walletBalance(t, "alice").Equal(d("1")))
}

func TestBuy_DebitFailureIsStoreUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "f1", "100", "")
	env.balance(t, "alice", "1000")
	env.store.Arm(store.Fault{Op: store.OpSetBalance, Times: 1})

	_, err := env.svc.Buy(context.Background(), "alice", "f1", d("250"))
	require.ErrorIs(t, err, settlement.ErrStoreUnavailable)
	assert.False(t, errors.Is(err, settlement.ErrPartialFailureRecovered))
	assert.False(t, settlement.RequiresReconciliation(err))

	assert.True(t, env.walletBalance(t, "alice").Equal(d("1000")))
	assert.Empty(t, env.positions(t, "alice"))
}

func TestBuy_PositionFailureCompensates(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "f1", "100", "")
	env.balance(t, "alice", "1000")
	env.store.Arm(store.Fault{Op: store.OpCreatePosition, Times: 1})

	_, err := env.svc.Buy(context.Background(), "alice", "f1", d("250"))
	require.ErrorIs(t, err, settlement.ErrPartialFailureRecovered)
	assert.False(t, errors.Is(err, settlement.ErrPartialFailureUnrecovered))
	assert.ErrorIs(t, err, store.ErrInjected)
	assert.False(t, settlement.RequiresReconciliation(err))

	var pfe *settlement.PartialFailureError
	require.ErrorAs(t, err, &pfe)
	assert.Equal(t, "buy", pfe.Op)
	assert.Equal(t, "create position", pfe.Step)
	assert.True(t, pfe.Recovered)
	assert.NoError(t, pfe.CompensationErr)

	assert.True(t, env.walletBalance(t, "alice").Equal(d("1000")), "debit should be reversed")
	assert.Empty(t, env.positions(t, "alice"))
	assert.Empty(t, env.transactions(t, "alice"))
	assert.Empty(t, env.events.events)
}

func TestBuy_FailedCompensationIsUnrecovered(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "f1", "100", "")
	env.balance(t, "alice", "1000")
	env.store.Arm(store.Fault{Op: store.OpCreatePosition, Times: 1})
	// The debit passes, the reversal fails.
	env.store.Arm(store.Fault{Op: store.OpSetBalance, Skip: 1, Times: 1})

	_, err := env.svc.Buy(context.Background(), "alice", "f1", d("250"))
	require.ErrorIs(t, err, settlement.ErrPartialFailureUnrecovered)
	assert.False(t, errors.Is(err, settlement.ErrPartialFailureRecovered))
	assert.True(t, settlement.RequiresReconciliation(err))

	var pfe *settlement.PartialFailureError
	require.ErrorAs(t, err, &pfe)
	assert.False(t, pfe.Recovered)
	assert.ErrorIs(t, pfe.CompensationErr, store.ErrInjected)
	assert.Contains(t, err.Error(), "manual reconciliation required")

	assert.True(t, env.walletBalance(t, "alice").Equal(d("750")))
	assert.Empty(t, env.positions(t, "alice"))
}

func TestBuy_LedgerFailureKeepsMutation(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "f1", "100", "")
	env.balance(t, "alice", "1000")
	env.store.Arm(store.Fault{Op: store.OpAppendTransaction, Times: 1})

	res, err := env.svc.Buy(context.Background(), "alice", "f1", d("250"))
	require.NoError(t, err)
	assert.True(t, res.LedgerGap)
	assert.Empty(t, res.TransactionID)

	assert.True(t, env.walletBalance(t, "alice").Equal(d("750")))
	assert.Len(t, env.positions(t, "alice"), 1)
	assert.Empty(t, env.transactions(t, "alice"))
}

func TestBuy_DoesNotAbandonAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rows := &cancelOnDebit{MemoryStore: store.NewMemoryStore(), cancel: cancel}
	svc := settlement.NewService(rows, rows, nil)
	require.NoError(t, rows.CreateFund(context.Background(), &model.Fund{ID: "f1", Name: "F", SharePrice: d("10"), IsActive: true}))
	_, err := rows.CreateWallet(context.Background(), "alice", d("100"))
	require.NoError(t, err)

	res, err := svc.Buy(ctx, "alice", "f1", d("40"))
	require.NoError(t, err)
	assert.False(t, res.LedgerGap)
	assert.Error(t, ctx.Err())

	ps, _ := rows.ListPositions(context.Background(), "alice")
	assert.Len(t, ps, 1)
}

// cancelOnDebit cancels the caller's context as soon as the first balance
// write lands and fails any later call made with a cancelled context.
type cancelOnDebit struct {
	*store.MemoryStore
	cancel context.CancelFunc
}

func (c *cancelOnDebit) SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	if err := c.MemoryStore.SetBalance(ctx, userID, balance); err != nil {
		return err
	}
	c.cancel()
	return nil
}

func (c *cancelOnDebit) CreatePosition(ctx context.Context, p *model.Position) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.MemoryStore.CreatePosition(ctx, p)
}

func (c *cancelOnDebit) AppendTransaction(ctx context.Context, tx *model.Transaction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.MemoryStore.AppendTransaction(ctx, tx)
}

func TestBuy_Conservation(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "f1", "37.13", "")
	env.balance(t, "alice", "10000")
	ctx := context.Background()

	balance := d("10000")
	for _, amount := range []string{"0.01", "1", "99.99", "250.5", "1234.5678", "3333.33"} {
		res, err := env.svc.Buy(ctx, "alice", "f1", d(amount))
		require.NoError(t, err, amount)

		balance = balance.Sub(d(amount))
		assert.True(t, res.Balance.Equal(balance), "after %s: %s != %s", amount, res.Balance, balance)
		assert.True(t, res.Position.SharesQuantity.Equal(d(amount).Div(d("37.13"))))
		assert.False(t, res.Balance.IsNegative())
	}
	assert.True(t, env.walletBalance(t, "alice").Equal(balance))
}

// --- Sell ---

// bought seeds 2.5 shares of f1 (redemption 95) for alice with 750 left.
func bought(t *testing.T, env *testEnv) string {
	t.Helper()
	env.fund(t, "f1", "100", "95")
	env.balance(t, "alice", "1000")
	res, err := env.svc.Buy(context.Background(), "alice", "f1", d("250"))
	require.NoError(t, err)
	return res.Position.ID
}

func TestSell_PartialLot(t *testing.T) {
	env := newTestEnv(t)
	posID := bought(t, env)

	res, err := env.svc.Sell(context.Background(), "alice", posID, d("1.5"))
	require.NoError(t, err)

	assert.True(t, res.SaleAmount.Equal(d("142.50")), "sale amount %s", res.SaleAmount)
	assert.True(t, res.Balance.Equal(d("892.50")))
	assert.False(t, res.PositionClosed)
	require.NotNil(t, res.Position)
	assert.True(t, res.Position.SharesQuantity.Equal(d("1")))
	assert.Equal(t, "Sold 1.5000 shares for $142.50", res.Receipt())

	p, err := env.store.GetPosition(context.Background(), posID)
	require.NoError(t, err)
	assert.True(t, p.SharesQuantity.Equal(d("1.0")))

	txns := env.transactions(t, "alice")
	require.Len(t, txns, 2)
	assert.Equal(t, model.TransactionSale, txns[0].Type)
	assert.True(t, txns[0].Amount.Equal(d("142.5")))
	assert.Equal(t, posID, txns[0].ReferenceID)
	assert.Equal(t, "Sale: Fund f1", txns[0].Description)
}

func TestSell_WholeLotDeletesPosition(t *testing.T) {
	env := newTestEnv(t)
	posID := bought(t, env)

	res, err := env.svc.Sell(context.Background(), "alice", posID, d("2.5"))
	require.NoError(t, err)

	assert.True(t, res.PositionClosed)
	assert.Nil(t, res.Position)
	assert.True(t, res.SaleAmount.Equal(d("2.5").Mul(d("95"))))
	assert.True(t, env.walletBalance(t, "alice").Equal(d("987.5")))

	_, err = env.store.GetPosition(context.Background(), posID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSell_RereadsQuantity(t *testing.T) {
	env := newTestEnv(t)
	posID := bought(t, env)
	ctx := context.Background()

	_, err := env.svc.Sell(ctx, "alice", posID, d("2"))
	require.NoError(t, err)

	// A caller still holding the 2.5 snapshot cannot overdraw.
	_, err = env.svc.Sell(ctx, "alice", posID, d("1"))
	require.ErrorIs(t, err, settlement.ErrInvalidAmount)

	p, err := env.store.GetPosition(ctx, posID)
	require.NoError(t, err)
	assert.True(t, p.SharesQuantity.Equal(d("0.5")))
	assert.False(t, p.SharesQuantity.IsNegative())
}

func TestSell_Rejections(t *testing.T) {
	env := newTestEnv(t)
	posID := bought(t, env)
	ctx := context.Background()

	tests := []struct {
		name   string
		user   string
		pos    string
		shares decimal.Decimal
		want   error
	}{
		{"zero shares", "alice", posID, decimal.Zero, settlement.ErrInvalidAmount},
		{"negative shares", "alice", posID, d("-1"), settlement.ErrInvalidAmount},
		{"more than held", "alice", posID, d("2.5000001"), settlement.ErrInvalidAmount},
		{"unknown position", "alice", "missing", d("1"), settlement.ErrNotFound},
		{"someone else's position", "mallory", posID, d("1"), settlement.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Sell(ctx, tt.user, tt.pos, tt.shares)
			require.ErrorIs(t, err, tt.want)
		})
	}

	p, err := env.store.GetPosition(ctx, posID)
	require.NoError(t, err)
	assert.True(t, p.SharesQuantity.Equal(d("2.5")))
	assert.True(t, env.walletBalance(t, "alice").Equal(d("750")))
}

func TestSell_RedemptionUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "f2", "10", "")
	env.balance(t, "alice", "100")
	ctx := context.Background()

	res, err := env.svc.Buy(ctx, "alice", "f2", d("50"))
	require.NoError(t, err)

	_, err = env.svc.Sell(ctx, "alice", res.Position.ID, d("1"))
	require.ErrorIs(t, err, settlement.ErrRedemptionUnavailable)

	p, err := env.store.GetPosition(ctx, res.Position.ID)
	require.NoError(t, err)
	assert.True(t, p.SharesQuantity.Equal(d("5")))
}

func TestSell_UsesCurrentRedemptionPrice(t *testing.T) {
	env := newTestEnv(t)
	posID := bought(t, env)
	ctx := context.Background()

	f, err := env.store.GetFund(ctx, "f1")
	require.NoError(t, err)
	rp := d("110")
	f.RedemptionPrice = &rp
	require.NoError(t, env.store.UpdateFund(ctx, f))

	res, err := env.svc.Sell(ctx, "alice", posID, d("1"))
	require.NoError(t, err)
	assert.True(t, res.SaleAmount.Equal(d("110")))
}

func TestSell_CreditFailureIsUnrecovered(t *testing.T) {
	env := newTestEnv(t)
	posID := bought(t, env)
	env.store.Arm(store.Fault{Op: store.OpSetBalance, Times: 1})

	_, err := env.svc.Sell(context.Background(), "alice", posID, d("1.5"))
	require.ErrorIs(t, err, settlement.ErrPartialFailureUnrecovered)
	assert.True(t, settlement.RequiresReconciliation(err))

	var pfe *settlement.PartialFailureError
	require.ErrorAs(t, err, &pfe)
	assert.Equal(t, "sell", pfe.Op)
	assert.Equal(t, "credit wallet", pfe.Step)

	// Shares are gone, cash never arrived.
	p, err := env.store.GetPosition(context.Background(), posID)
	require.NoError(t, err)
	assert.True(t, p.SharesQuantity.Equal(d("1")))
	assert.True(t, env.walletBalance(t, "alice").Equal(d("750")))
}

func TestSell_PositionUpdateFailureChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	posID := bought(t, env)
	env.store.Arm(store.Fault{Op: store.OpDeletePosition, Times: 1})

	_, err := env.svc.Sell(context.Background(), "alice", posID, d("2.5"))
	require.ErrorIs(t, err, settlement.ErrStoreUnavailable)
	assert.False(t, settlement.RequiresReconciliation(err))
	assert.True(t, env.walletBalance(t, "alice").Equal(d("750")))
}

func TestSell_LedgerGap(t *testing.T) {
	env := newTestEnv(t)
	posID := bought(t, env)
	env.store.Arm(store.Fault{Op: store.OpAppendTransaction, Times: 1})

	res, err := env.svc.Sell(context.Background(), "alice", posID, d("1"))
	require.NoError(t, err)
	assert.True(t, res.LedgerGap)
	assert.True(t, env.walletBalance(t, "alice").Equal(d("845")))
}

// --- Cash ---

func TestDepositWithdraw(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	dep, err := env.svc.Deposit(ctx, "bob", d("100"))
	require.NoError(t, err)
	assert.True(t, dep.Balance.Equal(d("100")))
	assert.Equal(t, "Deposited $100.00", dep.Receipt())

	wd, err := env.svc.Withdraw(ctx, "bob", d("40"))
	require.NoError(t, err)
	assert.True(t, wd.Balance.Equal(d("60")))
	assert.True(t, wd.Amount.Equal(d("-40")))
	assert.Equal(t, "Withdrew $40.00", wd.Receipt())

	_, err = env.svc.Withdraw(ctx, "bob", d("60.01"))
	require.ErrorIs(t, err, settlement.ErrInsufficientFunds)

	_, err = env.svc.Deposit(ctx, "bob", decimal.Zero)
	require.ErrorIs(t, err, settlement.ErrInvalidAmount)

	txns := env.transactions(t, "bob")
	require.Len(t, txns, 2)
	assert.Equal(t, model.TransactionWithdrawal, txns[0].Type)
	assert.Equal(t, "Cash withdrawal", txns[0].Description)
	assert.True(t, txns[0].Amount.Equal(d("-40")))
	assert.Equal(t, model.TransactionDeposit, txns[1].Type)
	assert.Equal(t, "Cash deposit", txns[1].Description)

	assert.True(t, env.walletBalance(t, "bob").Equal(d("60")))
}

func TestWithdraw_WholeBalance(t *testing.T) {
	env := newTestEnv(t)
	env.balance(t, "bob", "25.25")

	res, err := env.svc.Withdraw(context.Background(), "bob", d("25.25"))
	require.NoError(t, err)
	assert.True(t, res.Balance.IsZero())
}

func TestDeposit_AmountLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, "bob", d("1e17"))
	require.ErrorIs(t, err, settlement.ErrInvalidAmount)

	res, err := env.svc.Deposit(ctx, "bob", settlement.MaxAmount)
	require.NoError(t, err)
	assert.Equal(t, "Deposited $1,000,000,000,000.00", res.Receipt())

	// The balance itself is capped too.
	_, err = env.svc.Deposit(ctx, "bob", d("0.01"))
	require.ErrorIs(t, err, settlement.ErrInvalidAmount)
	assert.True(t, env.walletBalance(t, "bob").Equal(settlement.MaxAmount))
	assert.Len(t, env.transactions(t, "bob"), 1)
}

func TestSell_CreditPastLimitChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	posID := bought(t, env)
	require.NoError(t, env.store.SetBalance(context.Background(), "alice", settlement.MaxAmount))

	_, err := env.svc.Sell(context.Background(), "alice", posID, d("1"))
	require.ErrorIs(t, err, settlement.ErrInvalidAmount)

	p, err := env.store.GetPosition(context.Background(), posID)
	require.NoError(t, err)
	assert.True(t, p.SharesQuantity.Equal(d("2.5")))
	assert.True(t, env.walletBalance(t, "alice").Equal(settlement.MaxAmount))
}

func TestDeposit_StoreFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.Arm(store.Fault{Op: store.OpGetWallet, Times: 1})

	_, err := env.svc.Deposit(context.Background(), "bob", d("10"))
	require.ErrorIs(t, err, settlement.ErrStoreUnavailable)
}

func TestDeposit_SerializedPerUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Deposit(ctx, "carol", d("1"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.True(t, env.walletBalance(t, "carol").Equal(d("50")), "lost update: %s", env.walletBalance(t, "carol"))
	assert.Len(t, env.transactions(t, "carol"), 50)
}

func TestHistory_DefaultLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 60; i++ {
		_, err := env.svc.Deposit(ctx, "dave", d("1"))
		require.NoError(t, err)
	}

	txns, err := env.svc.History(ctx, "dave", 0)
	require.NoError(t, err)
	assert.Len(t, txns, settlement.DefaultHistoryLimit)

	txns, err = env.svc.History(ctx, "dave", 5)
	require.NoError(t, err)
	assert.Len(t, txns, 5)

	empty, err := env.svc.History(ctx, "nobody", 0)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestOutcome(t *testing.T) {
	recovered := &settlement.PartialFailureError{Op: "buy", Step: "create position", Cause: store.ErrInjected, Recovered: true}
	unrecovered := &settlement.PartialFailureError{Op: "sell", Step: "credit wallet", Cause: store.ErrInjected}

	assert.Equal(t, "ok", settlement.Outcome(nil, false))
	assert.Equal(t, "ledger_gap", settlement.Outcome(nil, true))
	assert.Equal(t, "recovered", settlement.Outcome(recovered, false))
	assert.Equal(t, "unrecovered", settlement.Outcome(unrecovered, false))
	assert.Equal(t, "rejected", settlement.Outcome(settlement.ErrInsufficientFunds, false))
	assert.Equal(t, "store_error", settlement.Outcome(settlement.ErrStoreUnavailable, false))
}
