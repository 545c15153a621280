package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/pavan9802/prediction-market/pkg/money"
	"github.com/pavan9802/prediction-market/pkg/types"
)

// SQLite implements Store on an embedded SQLite database. Monetary columns
// hold the canonical 8-digit string form of Money; the database never does
// arithmetic on them.
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS orders (
	id                 TEXT PRIMARY KEY,
	nonce              TEXT NOT NULL,
	user_id            TEXT NOT NULL,
	market_id          TEXT NOT NULL,
	order_type         TEXT NOT NULL,
	side               TEXT NOT NULL,
	outcome            TEXT NOT NULL,
	quantity           INTEGER NOT NULL,
	filled_quantity    INTEGER NOT NULL DEFAULT 0,
	total_cost         TEXT,
	average_fill_price TEXT,
	status             TEXT NOT NULL,
	created_at         INTEGER NOT NULL,
	updated_at         INTEGER NOT NULL,
	completed_at       INTEGER,
	rejection_reason   TEXT NOT NULL DEFAULT '',
	transaction_id     TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS orders_nonce_idx ON orders(nonce) WHERE nonce <> '';
CREATE INDEX IF NOT EXISTS orders_user_created_idx ON orders(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS transactions (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	market_id     TEXT NOT NULL DEFAULT '',
	tx_type       TEXT NOT NULL,
	amount        TEXT NOT NULL,
	outcome       TEXT NOT NULL DEFAULT '',
	shares        INTEGER NOT NULL DEFAULT 0,
	price         TEXT,
	timestamp     INTEGER NOT NULL,
	nonce         TEXT NOT NULL,
	balance_after TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS transactions_nonce_idx ON transactions(nonce) WHERE nonce <> '';
CREATE INDEX IF NOT EXISTS transactions_user_ts_idx ON transactions(user_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS users (
	user_id TEXT PRIMARY KEY,
	balance TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	user_id    TEXT NOT NULL,
	market_id  TEXT NOT NULL,
	yes_shares INTEGER NOT NULL DEFAULT 0,
	no_shares  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, market_id)
);

CREATE TABLE IF NOT EXISTS markets (
	market_id                TEXT PRIMARY KEY,
	yes_shares               REAL NOT NULL,
	no_shares                REAL NOT NULL,
	liquidity_b              REAL NOT NULL,
	current_price            REAL NOT NULL,
	status                   TEXT NOT NULL,
	last_trade_timestamp     INTEGER NOT NULL DEFAULT 0,
	last_persisted_timestamp INTEGER NOT NULL DEFAULT 0
);
`

// OpenSQLite opens (and if needed initializes) the database at path.
// WAL mode is enabled for crash recovery.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// mapErr translates driver constraint violations onto ErrDuplicateKey.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
		}
	}
	return err
}

func nullMoney(m *money.Money) any {
	if m == nil {
		return nil
	}
	return m.String()
}

func scanMoney(s sql.NullString) (*money.Money, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	m, err := money.FromString(s.String)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

func (s *SQLite) SaveOrder(ctx context.Context, o *types.Order) error {
	var completed any
	if o.CompletedAt != nil {
		completed = *o.CompletedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, nonce, user_id, market_id, order_type, side, outcome,
			quantity, filled_quantity, total_cost, average_fill_price, status,
			created_at, updated_at, completed_at, rejection_reason, transaction_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filled_quantity = excluded.filled_quantity,
			total_cost = excluded.total_cost,
			average_fill_price = excluded.average_fill_price,
			status = excluded.status,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at,
			rejection_reason = excluded.rejection_reason,
			transaction_id = excluded.transaction_id`,
		o.ID, o.Nonce, o.UserID, o.MarketID, string(o.OrderType), string(o.Side), string(o.Outcome),
		o.Quantity, o.FilledQuantity, nullMoney(o.TotalCost), nullMoney(o.AverageFillPrice), string(o.Status),
		o.CreatedAt, o.UpdatedAt, completed, o.RejectionReason, o.TransactionID,
	)
	return mapErr(err)
}

const orderColumns = `id, nonce, user_id, market_id, order_type, side, outcome,
	quantity, filled_quantity, total_cost, average_fill_price, status,
	created_at, updated_at, completed_at, rejection_reason, transaction_id`

func (s *SQLite) scanOrder(row interface{ Scan(...any) error }) (*types.Order, error) {
	var (
		o                  types.Order
		orderType, side    string
		outcome, status    string
		totalCost, avgFill sql.NullString
		completed          sql.NullInt64
	)
	err := row.Scan(&o.ID, &o.Nonce, &o.UserID, &o.MarketID, &orderType, &side, &outcome,
		&o.Quantity, &o.FilledQuantity, &totalCost, &avgFill, &status,
		&o.CreatedAt, &o.UpdatedAt, &completed, &o.RejectionReason, &o.TransactionID)
	if err != nil {
		return nil, err
	}
	o.OrderType = types.OrderType(orderType)
	o.Side = types.Side(side)
	o.Outcome = types.Outcome(outcome)
	o.Status = types.OrderStatus(status)
	if o.TotalCost, err = scanMoney(totalCost); err != nil {
		return nil, fmt.Errorf("order %s total_cost: %w", o.ID, err)
	}
	if o.AverageFillPrice, err = scanMoney(avgFill); err != nil {
		return nil, fmt.Errorf("order %s average_fill_price: %w", o.ID, err)
	}
	if completed.Valid {
		c := completed.Int64
		o.CompletedAt = &c
	}
	return &o, nil
}

func (s *SQLite) orderWhere(ctx context.Context, clause string, args ...any) (*types.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+clause, args...)
	o, err := s.scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

func (s *SQLite) OrderByID(ctx context.Context, id string) (*types.Order, error) {
	return s.orderWhere(ctx, "id = ?", id)
}

func (s *SQLite) OrderByNonce(ctx context.Context, nonce string) (*types.Order, error) {
	return s.orderWhere(ctx, "nonce = ?", nonce)
}

func (s *SQLite) OrdersForUser(ctx context.Context, userID string) ([]*types.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*types.Order
	for rows.Next() {
		o, err := s.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *SQLite) ApplyFill(ctx context.Context, o *types.Order) (int64, error) {
	var completed any
	if o.CompletedAt != nil {
		completed = *o.CompletedAt
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			filled_quantity = ?, total_cost = ?, average_fill_price = ?,
			status = ?, updated_at = ?, completed_at = ?, transaction_id = ?
		WHERE id = ? AND status IN (?, ?)`,
		o.FilledQuantity, nullMoney(o.TotalCost), nullMoney(o.AverageFillPrice),
		string(o.Status), o.UpdatedAt, completed, o.TransactionID,
		o.ID, string(types.StatusOpen), string(types.StatusPartial),
	)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.RowsAffected()
}

func (s *SQLite) CancelOrder(ctx context.Context, id string, timestamp int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(types.StatusCancelled), timestamp, timestamp,
		id, string(types.StatusOpen), string(types.StatusPartial),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ————————————————————————————————————————————————————————————————————————
// Transactions
// ————————————————————————————————————————————————————————————————————————

func (s *SQLite) InsertTransaction(ctx context.Context, tx *types.Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, market_id, tx_type, amount, outcome,
			shares, price, timestamp, nonce, balance_after)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.MarketID, string(tx.Type), tx.Amount.String(), string(tx.Outcome),
		tx.Shares, nullMoney(tx.Price), tx.Timestamp, tx.Nonce, tx.BalanceAfter.String(),
	)
	return mapErr(err)
}

const txColumns = `id, user_id, market_id, tx_type, amount, outcome, shares, price, timestamp, nonce, balance_after`

func (s *SQLite) scanTransaction(row interface{ Scan(...any) error }) (*types.Transaction, error) {
	var (
		tx                   types.Transaction
		txType, outcome      string
		amount, balanceAfter string
		price                sql.NullString
	)
	err := row.Scan(&tx.ID, &tx.UserID, &tx.MarketID, &txType, &amount, &outcome,
		&tx.Shares, &price, &tx.Timestamp, &tx.Nonce, &balanceAfter)
	if err != nil {
		return nil, err
	}
	tx.Type = types.TransactionType(txType)
	tx.Outcome = types.Outcome(outcome)
	if tx.Amount, err = money.FromString(amount); err != nil {
		return nil, fmt.Errorf("transaction %s amount: %w", tx.ID, err)
	}
	if tx.BalanceAfter, err = money.FromString(balanceAfter); err != nil {
		return nil, fmt.Errorf("transaction %s balance_after: %w", tx.ID, err)
	}
	if tx.Price, err = scanMoney(price); err != nil {
		return nil, fmt.Errorf("transaction %s price: %w", tx.ID, err)
	}
	return &tx, nil
}

func (s *SQLite) LatestForUser(ctx context.Context, userID string) (*types.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE user_id = ? ORDER BY timestamp DESC, rowid DESC LIMIT 1`, userID)
	tx, err := s.scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return tx, err
}

func (s *SQLite) TransactionsForUser(ctx context.Context, userID string) ([]*types.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE user_id = ? ORDER BY timestamp ASC, rowid ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*types.Transaction
	for rows.Next() {
		tx, err := s.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// ————————————————————————————————————————————————————————————————————————
// Users, positions, markets
// ————————————————————————————————————————————————————————————————————————

func (s *SQLite) SaveUser(ctx context.Context, u *types.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, balance) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET balance = excluded.balance`,
		u.UserID, u.Balance.String(),
	)
	return mapErr(err)
}

func (s *SQLite) UserByID(ctx context.Context, userID string) (*types.User, error) {
	var balance string
	u := &types.User{UserID: userID}
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM users WHERE user_id = ?`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if u.Balance, err = money.FromString(balance); err != nil {
		return nil, fmt.Errorf("user %s balance: %w", userID, err)
	}
	return u, nil
}

func (s *SQLite) AllUsers(ctx context.Context) ([]*types.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, balance FROM users ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*types.User
	for rows.Next() {
		var balance string
		u := &types.User{}
		if err := rows.Scan(&u.UserID, &balance); err != nil {
			return nil, err
		}
		if u.Balance, err = money.FromString(balance); err != nil {
			return nil, fmt.Errorf("user %s balance: %w", u.UserID, err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLite) SavePosition(ctx context.Context, p *types.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (user_id, market_id, yes_shares, no_shares) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, market_id) DO UPDATE SET
			yes_shares = excluded.yes_shares, no_shares = excluded.no_shares`,
		p.UserID, p.MarketID, p.YesShares, p.NoShares,
	)
	return mapErr(err)
}

func (s *SQLite) PositionFor(ctx context.Context, userID, marketID string) (*types.Position, error) {
	p := &types.Position{UserID: userID, MarketID: marketID}
	err := s.db.QueryRowContext(ctx,
		`SELECT yes_shares, no_shares FROM positions WHERE user_id = ? AND market_id = ?`,
		userID, marketID).Scan(&p.YesShares, &p.NoShares)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQLite) SaveMarket(ctx context.Context, m *types.MarketState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO markets (market_id, yes_shares, no_shares, liquidity_b, current_price,
			status, last_trade_timestamp, last_persisted_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(market_id) DO UPDATE SET
			yes_shares = excluded.yes_shares,
			no_shares = excluded.no_shares,
			liquidity_b = excluded.liquidity_b,
			current_price = excluded.current_price,
			status = excluded.status,
			last_trade_timestamp = excluded.last_trade_timestamp,
			last_persisted_timestamp = excluded.last_persisted_timestamp`,
		m.MarketID, m.YesShares, m.NoShares, m.LiquidityB, m.CurrentPrice,
		string(m.Status), m.LastTradeTimestamp, m.LastPersistedTimestamp,
	)
	return mapErr(err)
}

func (s *SQLite) MarketByID(ctx context.Context, marketID string) (*types.MarketState, error) {
	m := &types.MarketState{MarketID: marketID}
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT yes_shares, no_shares, liquidity_b, current_price, status,
			last_trade_timestamp, last_persisted_timestamp
		FROM markets WHERE market_id = ?`, marketID).
		Scan(&m.YesShares, &m.NoShares, &m.LiquidityB, &m.CurrentPrice, &status,
			&m.LastTradeTimestamp, &m.LastPersistedTimestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Status = types.MarketStatus(status)
	return m, nil
}

var _ Store = (*SQLite)(nil)
