package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fundboard/fund-engine/internal/model"
)

const foreignKeyViolationCode = "23503"

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Each method is a single statement; PostgreSQL guarantees the single-row
// atomicity the settlement workflow relies on.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// convertErr maps pgx.ErrNoRows onto ErrNotFound and adds context to the rest.
func convertErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolationCode
}

// --- Wallets ---

func (s *PostgresStore) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	var w model.Wallet
	var balance string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, balance::TEXT, created_at, updated_at
		 FROM wallets WHERE user_id = $1`, userID).
		Scan(&w.UserID, &balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, convertErr(err, "get wallet %s", userID)
	}

	w.Balance, _ = decimal.NewFromString(balance)
	return &w, nil
}

func (s *PostgresStore) CreateWallet(ctx context.Context, userID string, balance decimal.Decimal) (*model.Wallet, error) {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wallets (user_id, balance, created_at, updated_at)
		 VALUES ($1, $2::NUMERIC, $3, $3)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, balance.String(), now,
	)
	if err != nil {
		return nil, convertErr(err, "create wallet %s", userID)
	}
	return s.GetWallet(ctx, userID)
}

func (s *PostgresStore) SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE wallets SET balance = $2::NUMERIC, updated_at = $3 WHERE user_id = $1`,
		userID, balance.String(), time.Now().UTC(),
	)
	if err != nil {
		return convertErr(err, "set balance %s", userID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set balance %s: %w", userID, ErrNotFound)
	}
	return nil
}

// --- Positions ---

const positionColumns = `id, user_id, fund_id, shares_quantity::TEXT, purchase_price::TEXT,
	total_amount::TEXT, purchase_date`

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if err != nil {
		return nil, convertErr(err, "get position %s", id)
	}
	return p, nil
}

func (s *PostgresStore) CreatePosition(ctx context.Context, p *model.Position) (string, error) {
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	purchaseDate := p.PurchaseDate
	if purchaseDate.IsZero() {
		purchaseDate = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (id, user_id, fund_id, shares_quantity, purchase_price, total_amount, purchase_date)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7)`,
		id, p.UserID, p.FundID,
		p.SharesQuantity.String(), p.PurchasePrice.String(), p.TotalAmount.String(),
		purchaseDate,
	)
	if err != nil {
		return "", convertErr(err, "create position for user %s", p.UserID)
	}
	return id, nil
}

func (s *PostgresStore) SetShares(ctx context.Context, id string, quantity decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET shares_quantity = $2::NUMERIC WHERE id = $1`,
		id, quantity.String(),
	)
	if err != nil {
		return convertErr(err, "set shares %s", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set shares %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeletePosition(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE id = $1`, id)
	if err != nil {
		return convertErr(err, "delete position %s", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete position %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE user_id = $1 ORDER BY purchase_date DESC`, userID)
	if err != nil {
		return nil, convertErr(err, "list positions %s", userID)
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) CountFundPositions(ctx context.Context, fundID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM positions WHERE fund_id = $1`, fundID).Scan(&n)
	if err != nil {
		return 0, convertErr(err, "count positions for fund %s", fundID)
	}
	return n, nil
}

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var sharesS, priceS, totalS string

	if err := row.Scan(&p.ID, &p.UserID, &p.FundID,
		&sharesS, &priceS, &totalS, &p.PurchaseDate); err != nil {
		return nil, err
	}

	p.SharesQuantity, _ = decimal.NewFromString(sharesS)
	p.PurchasePrice, _ = decimal.NewFromString(priceS)
	p.TotalAmount, _ = decimal.NewFromString(totalS)
	return &p, nil
}

// --- Transaction log ---

func (s *PostgresStore) AppendTransaction(ctx context.Context, tx *model.Transaction) (string, error) {
	id := tx.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var ref *string
	if tx.ReferenceID != "" {
		ref = &tx.ReferenceID
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO wallet_transactions (id, user_id, type, amount, description, reference_id, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7)`,
		id, tx.UserID, string(tx.Type), tx.Amount.String(), tx.Description, ref, createdAt,
	)
	if err != nil {
		return "", convertErr(err, "append transaction for user %s", tx.UserID)
	}
	return id, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, type, amount::TEXT, description, reference_id, created_at
		 FROM wallet_transactions WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`, userID, lim)
	if err != nil {
		return nil, convertErr(err, "list transactions %s", userID)
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var txType, amountS string
		var ref *string

		if err := rows.Scan(&t.ID, &t.UserID, &txType, &amountS,
			&t.Description, &ref, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = model.TransactionType(txType)
		t.Amount, _ = decimal.NewFromString(amountS)
		if ref != nil {
			t.ReferenceID = *ref
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// --- Funds ---

const fundColumns = `id, name, investment_strategy, risk_level, target_market,
	share_price::TEXT, redemption_price::TEXT, is_active, created_by, created_at, updated_at`

func (s *PostgresStore) CreateFund(ctx context.Context, f *model.Fund) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO funds (id, name, investment_strategy, risk_level, target_market,
		                    share_price, redemption_price, is_active, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8, $9, $10, $11)`,
		f.ID, f.Name, f.InvestmentStrategy, string(f.RiskLevel), f.TargetMarket,
		f.SharePrice.String(), nullableDecimal(f.RedemptionPrice), f.IsActive,
		f.CreatedBy, f.CreatedAt, f.UpdatedAt,
	)
	return convertErr(err, "create fund %s", f.ID)
}

func (s *PostgresStore) GetFund(ctx context.Context, id string) (*model.Fund, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+fundColumns+` FROM funds WHERE id = $1`, id)
	f, err := scanFund(row)
	if err != nil {
		return nil, convertErr(err, "get fund %s", id)
	}
	return f, nil
}

func (s *PostgresStore) ListFunds(ctx context.Context, filter model.FundFilter) ([]model.Fund, error) {
	if filter == "" {
		filter = model.FundsAll
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+fundColumns+` FROM funds
		 WHERE $1::TEXT = 'all' OR is_active = ($1::TEXT = 'active')
		 ORDER BY created_at DESC`, string(filter))
	if err != nil {
		return nil, convertErr(err, "list funds")
	}
	defer rows.Close()

	var funds []model.Fund
	for rows.Next() {
		f, err := scanFund(rows)
		if err != nil {
			return nil, err
		}
		funds = append(funds, *f)
	}
	return funds, rows.Err()
}

func (s *PostgresStore) UpdateFund(ctx context.Context, f *model.Fund) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE funds
		 SET name = $2, investment_strategy = $3, risk_level = $4, target_market = $5,
		     share_price = $6::NUMERIC, redemption_price = $7::NUMERIC, is_active = $8,
		     updated_at = $9
		 WHERE id = $1`,
		f.ID, f.Name, f.InvestmentStrategy, string(f.RiskLevel), f.TargetMarket,
		f.SharePrice.String(), nullableDecimal(f.RedemptionPrice), f.IsActive, f.UpdatedAt,
	)
	if err != nil {
		return convertErr(err, "update fund %s", f.ID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update fund %s: %w", f.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteFund(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM funds WHERE id = $1`, id)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("delete fund %s: %w: %s", id, ErrReferenced, err.Error())
	}
	if err != nil {
		return convertErr(err, "delete fund %s", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete fund %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanFund(row pgx.Row) (*model.Fund, error) {
	var f model.Fund
	var risk, priceS string
	var redemptionS *string

	if err := row.Scan(&f.ID, &f.Name, &f.InvestmentStrategy, &risk, &f.TargetMarket,
		&priceS, &redemptionS, &f.IsActive, &f.CreatedBy, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}

	f.RiskLevel = model.RiskLevel(risk)
	f.SharePrice, _ = decimal.NewFromString(priceS)
	if redemptionS != nil {
		rp, err := decimal.NewFromString(*redemptionS)
		if err == nil {
			f.RedemptionPrice = &rp
		}
	}
	return &f, nil
}

// nullableDecimal renders an optional decimal as a NUMERIC text parameter.
func nullableDecimal(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
