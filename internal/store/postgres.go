package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/deltadesk/position-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Optimistic updates condition on the stored version column and bump it
// atomically in the same statement.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- DexAccount operations ---

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.DexAccount) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dex_accounts (id, user_id, venue, address, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.UserID, a.Venue, a.Address, a.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("create account %s/%s: %w", a.Venue, a.Address, ErrDuplicate)
	}
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.DexAccount, error) {
	var a model.DexAccount
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, venue, address, created_at
		 FROM dex_accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.UserID, &a.Venue, &a.Address, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	return &a, nil
}

func (s *PostgresStore) ListAccountsByUser(ctx context.Context, userID string) ([]model.DexAccount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, venue, address, created_at
		 FROM dex_accounts WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAccounts(rows)
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]model.DexAccount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, venue, address, created_at
		 FROM dex_accounts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAccounts(rows)
}

// --- Order operations ---

const orderColumns = `id, dex_account_id, venue, external_order_id, client_order_id,
	        market_index, direction, order_type,
	        price::TEXT, trigger_price::TEXT, trigger_condition,
	        base_asset_amount::TEXT, filled_amount::TEXT, avg_fill_price::TEXT,
	        status, version, created_at, updated_at`

func (s *PostgresStore) CreateOrder(ctx context.Context, o *model.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, dex_account_id, venue, external_order_id, client_order_id,
		                     market_index, direction, order_type,
		                     price, trigger_price, trigger_condition,
		                     base_asset_amount, filled_amount, avg_fill_price,
		                     status, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
		         $9::NUMERIC, $10::NUMERIC, $11,
		         $12::NUMERIC, $13::NUMERIC, $14::NUMERIC,
		         $15, $16, $17, $18)`,
		o.ID, o.DexAccountID, o.Venue, o.ExternalOrderID, o.ClientOrderID,
		o.MarketIndex, o.Direction, o.OrderType,
		o.Price.String(), o.TriggerPrice.String(), o.TriggerCondition,
		o.BaseAssetAmount.String(), o.FilledAmount.String(), o.AvgFillPrice.String(),
		o.Status, o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("create order %s: %w", o.ID, ErrDuplicate)
	}
	return err
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := s.queryOrder(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (s *PostgresStore) GetOrderByExternalID(ctx context.Context, accountID, externalOrderID string) (*model.Order, error) {
	o, err := s.queryOrder(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE dex_account_id = $1 AND external_order_id = $2`,
		accountID, externalOrderID)
	if err != nil {
		return nil, fmt.Errorf("get order by external id %s: %w", externalOrderID, err)
	}
	return o, nil
}

func (s *PostgresStore) GetOrderByClientID(ctx context.Context, accountID, clientOrderID string) (*model.Order, error) {
	o, err := s.queryOrder(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE dex_account_id = $1 AND client_order_id = $2`,
		accountID, clientOrderID)
	if err != nil {
		return nil, fmt.Errorf("get order by client id %s: %w", clientOrderID, err)
	}
	return o, nil
}

func (s *PostgresStore) queryOrder(ctx context.Context, query string, args ...any) (*model.Order, error) {
	var o model.Order
	var price, triggerPrice, baseAmount, filled, avgPrice string

	err := s.pool.QueryRow(ctx, query, args...).
		Scan(&o.ID, &o.DexAccountID, &o.Venue, &o.ExternalOrderID, &o.ClientOrderID,
			&o.MarketIndex, &o.Direction, &o.OrderType,
			&price, &triggerPrice, &o.TriggerCondition,
			&baseAmount, &filled, &avgPrice,
			&o.Status, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	o.Price, _ = decimal.NewFromString(price)
	o.TriggerPrice, _ = decimal.NewFromString(triggerPrice)
	o.BaseAssetAmount, _ = decimal.NewFromString(baseAmount)
	o.FilledAmount, _ = decimal.NewFromString(filled)
	o.AvgFillPrice, _ = decimal.NewFromString(avgPrice)

	return &o, nil
}

func (s *PostgresStore) UpdateOrder(ctx context.Context, o *model.Order) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders
		 SET external_order_id = $3, market_index = $4, direction = $5, order_type = $6,
		     price = $7::NUMERIC, trigger_price = $8::NUMERIC, trigger_condition = $9,
		     base_asset_amount = $10::NUMERIC, filled_amount = $11::NUMERIC,
		     avg_fill_price = $12::NUMERIC, status = $13,
		     version = version + 1, updated_at = $14
		 WHERE id = $1 AND version = $2`,
		o.ID, o.Version,
		o.ExternalOrderID, o.MarketIndex, o.Direction, o.OrderType,
		o.Price.String(), o.TriggerPrice.String(), o.TriggerCondition,
		o.BaseAssetAmount.String(), o.FilledAmount.String(),
		o.AvgFillPrice.String(), o.Status, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update order %s at version %d: %w", o.ID, o.Version, ErrVersionConflict)
	}
	o.Version++
	return nil
}

func (s *PostgresStore) ListOrdersByAccount(ctx context.Context, accountID string, f OrderFilter) ([]model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE dex_account_id = $1`
	args := []any{accountID}

	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Venue != "" {
		args = append(args, f.Venue)
		query += fmt.Sprintf(" AND venue = $%d", len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOrders(rows)
}

// --- Position operations ---

const positionColumns = `id, user_id, kind, leg_order_ids, state, hedge_broken, name,
	        metadata, version, created_at, updated_at, closed_at`

func (s *PostgresStore) CreatePosition(ctx context.Context, p *model.Position) error {
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("create position %s: encode metadata: %w", p.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO positions (id, user_id, kind, leg_order_ids, state, hedge_broken, name,
		                        metadata, version, created_at, updated_at, closed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.UserID, p.Kind, p.LegOrderIDs, p.State, p.HedgeBroken, p.Name,
		meta, p.Version, p.CreatedAt, p.UpdatedAt, p.ClosedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("create position %s: %w", p.ID, ErrDuplicate)
	}
	return err
}

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	p, err := s.queryPosition(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) GetPositionByLegOrder(ctx context.Context, orderID string) (*model.Position, error) {
	p, err := s.queryPosition(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE $1 = ANY(leg_order_ids)
		 ORDER BY created_at DESC LIMIT 1`, orderID)
	if err != nil {
		return nil, fmt.Errorf("get position by leg %s: %w", orderID, err)
	}
	return p, nil
}

func (s *PostgresStore) queryPosition(ctx context.Context, query string, args ...any) (*model.Position, error) {
	var p model.Position
	var meta []byte

	err := s.pool.QueryRow(ctx, query, args...).
		Scan(&p.ID, &p.UserID, &p.Kind, &p.LegOrderIDs, &p.State, &p.HedgeBroken, &p.Name,
			&meta, &p.Version, &p.CreatedAt, &p.UpdatedAt, &p.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &p.Metadata)
	}
	return &p, nil
}

func (s *PostgresStore) UpdatePosition(ctx context.Context, p *model.Position) error {
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("update position %s: encode metadata: %w", p.ID, err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions
		 SET state = $3, hedge_broken = $4, name = $5, metadata = $6,
		     version = version + 1, updated_at = $7, closed_at = $8
		 WHERE id = $1 AND version = $2`,
		p.ID, p.Version,
		p.State, p.HedgeBroken, p.Name, meta,
		p.UpdatedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update position %s at version %d: %w", p.ID, p.Version, ErrVersionConflict)
	}
	p.Version++
	return nil
}

func (s *PostgresStore) ListPositionsByUser(ctx context.Context, userID string, f PositionFilter) ([]model.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE user_id = $1`
	args := []any{userID}

	if f.State != "" {
		args = append(args, f.State)
		query += fmt.Sprintf(" AND state = $%d", len(args))
	}
	if f.Kind != "" {
		args = append(args, f.Kind)
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) ListLivePositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE state IN ($1, $2) ORDER BY created_at`,
		model.StateOpening, model.StateOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

// --- Immutable snapshots ---

func (s *PostgresStore) InsertSnapshot(ctx context.Context, snap *model.PositionSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO position_snapshots (id, position_id, captured_at, size, entry_price, mark_price, unrealized_pnl)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC)`,
		snap.ID, snap.PositionID, snap.CapturedAt,
		snap.Size.String(), snap.EntryPrice.String(),
		snap.MarkPrice.String(), snap.UnrealizedPnl.String(),
	)
	return err
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, positionID string, f SnapshotFilter) ([]model.PositionSnapshot, error) {
	query := `SELECT id, position_id, captured_at,
	        size::TEXT, entry_price::TEXT, mark_price::TEXT, unrealized_pnl::TEXT
	 FROM position_snapshots WHERE position_id = $1`
	args := []any{positionID}

	if !f.From.IsZero() {
		args = append(args, f.From)
		query += fmt.Sprintf(" AND captured_at >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		query += fmt.Sprintf(" AND captured_at <= $%d", len(args))
	}
	query += " ORDER BY captured_at"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.PositionSnapshot
	for rows.Next() {
		var sn model.PositionSnapshot
		var size, entry, mark, pnl string
		if err := rows.Scan(&sn.ID, &sn.PositionID, &sn.CapturedAt,
			&size, &entry, &mark, &pnl); err != nil {
			return nil, err
		}
		sn.Size, _ = decimal.NewFromString(size)
		sn.EntryPrice, _ = decimal.NewFromString(entry)
		sn.MarkPrice, _ = decimal.NewFromString(mark)
		sn.UnrealizedPnl, _ = decimal.NewFromString(pnl)
		snaps = append(snaps, sn)
	}
	return snaps, rows.Err()
}

// --- Transactions ---

func (s *PostgresStore) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transactions (id, dex_account_id, direction, market_index, amount,
		                           token_symbol, external_tx_signature, status, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8, $9)`,
		t.ID, t.DexAccountID, t.Direction, t.MarketIndex, t.Amount.String(),
		t.TokenSymbol, t.ExternalTxSignature, t.Status, t.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert transaction %s: %w", t.ExternalTxSignature, ErrDuplicate)
	}
	return err
}

func (s *PostgresStore) GetTransactionBySignature(ctx context.Context, accountID, signature string) (*model.Transaction, error) {
	var t model.Transaction
	var amount string

	err := s.pool.QueryRow(ctx,
		`SELECT id, dex_account_id, direction, market_index, amount::TEXT,
		        token_symbol, external_tx_signature, status, created_at
		 FROM transactions
		 WHERE dex_account_id = $1 AND external_tx_signature = $2`,
		accountID, signature).
		Scan(&t.ID, &t.DexAccountID, &t.Direction, &t.MarketIndex, &amount,
			&t.TokenSymbol, &t.ExternalTxSignature, &t.Status, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get transaction %s: %w", signature, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", signature, err)
	}

	t.Amount, _ = decimal.NewFromString(amount)
	return &t, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, accountID string, f TransactionFilter) ([]model.Transaction, error) {
	query := `SELECT id, dex_account_id, direction, market_index, amount::TEXT,
	        token_symbol, external_tx_signature, status, created_at
	 FROM transactions WHERE dex_account_id = $1`
	args := []any{accountID}

	if f.Direction != "" {
		args = append(args, f.Direction)
		query += fmt.Sprintf(" AND direction = $%d", len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var amount string
		if err := rows.Scan(&t.ID, &t.DexAccountID, &t.Direction, &t.MarketIndex, &amount,
			&t.TokenSymbol, &t.ExternalTxSignature, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Amount, _ = decimal.NewFromString(amount)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// --- Scan helpers ---

// pgxRows is the subset of pgx.Rows the scan helpers need.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanAccounts(rows pgxRows) ([]model.DexAccount, error) {
	var accounts []model.DexAccount
	for rows.Next() {
		var a model.DexAccount
		if err := rows.Scan(&a.ID, &a.UserID, &a.Venue, &a.Address, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func scanOrders(rows pgxRows) ([]model.Order, error) {
	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var price, triggerPrice, baseAmount, filled, avgPrice string

		if err := rows.Scan(&o.ID, &o.DexAccountID, &o.Venue, &o.ExternalOrderID, &o.ClientOrderID,
			&o.MarketIndex, &o.Direction, &o.OrderType,
			&price, &triggerPrice, &o.TriggerCondition,
			&baseAmount, &filled, &avgPrice,
			&o.Status, &o.Version, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}

		o.Price, _ = decimal.NewFromString(price)
		o.TriggerPrice, _ = decimal.NewFromString(triggerPrice)
		o.BaseAssetAmount, _ = decimal.NewFromString(baseAmount)
		o.FilledAmount, _ = decimal.NewFromString(filled)
		o.AvgFillPrice, _ = decimal.NewFromString(avgPrice)

		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanPositions(rows pgxRows) ([]model.Position, error) {
	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var meta []byte

		if err := rows.Scan(&p.ID, &p.UserID, &p.Kind, &p.LegOrderIDs, &p.State, &p.HedgeBroken, &p.Name,
			&meta, &p.Version, &p.CreatedAt, &p.UpdatedAt, &p.ClosedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &p.Metadata)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
