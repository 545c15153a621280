// Package storage defines the durable-storage contract for the trading
// backend and provides two adapters: an embedded SQLite implementation and
// an in-memory implementation used in tests.
//
// The contract is deliberately engine-agnostic: any backend that provides
// upserts, unique indexes on nonces, and conditional updates that report a
// modified count can implement it. Services never inspect driver error text;
// adapters map their driver's duplicate-key failures onto ErrDuplicateKey so
// callers can branch with IsDuplicateKey.
package storage

import (
	"context"
	"errors"

	"github.com/pavan9802/prediction-market/pkg/types"
)

// ErrDuplicateKey is returned when an insert or upsert violates a unique
// index (order nonce, transaction nonce, position key).
var ErrDuplicateKey = errors.New("duplicate key")

// IsDuplicateKey reports whether err is a unique-index violation. This is
// the only sanctioned way to detect duplicates; never substring-match driver
// messages.
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}

// Orders persists order records.
//
// Lookups return (nil, nil) when no record exists.
type Orders interface {
	// SaveOrder upserts by ID. Inserting a second order with an existing
	// nonce fails with ErrDuplicateKey and performs no mutation.
	SaveOrder(ctx context.Context, o *types.Order) error

	OrderByID(ctx context.Context, id string) (*types.Order, error)
	OrderByNonce(ctx context.Context, nonce string) (*types.Order, error)

	// OrdersForUser returns the user's orders, newest first.
	OrdersForUser(ctx context.Context, userID string) ([]*types.Order, error)

	// ApplyFill conditionally writes the fill fields (filledQuantity,
	// totalCost, averageFillPrice, status, transactionId, timestamps) of o,
	// keyed by (o.ID, status ∈ {OPEN, PARTIAL}). Returns the modified count:
	// 0 means the guard failed and nothing was written.
	ApplyFill(ctx context.Context, o *types.Order) (int64, error)

	// CancelOrder conditionally sets status CANCELLED keyed by
	// (id, status ∈ {OPEN, PARTIAL}). Returns the modified count.
	CancelOrder(ctx context.Context, id string, timestamp int64) (int64, error)
}

// Transactions is the insert-only ledger backing.
type Transactions interface {
	// InsertTransaction durably inserts an entry. The insert is atomic at
	// the storage layer; a nonce conflict fails with ErrDuplicateKey and
	// performs no mutation.
	InsertTransaction(ctx context.Context, tx *types.Transaction) error

	// LatestForUser returns the user's highest-timestamp entry (insertion
	// order breaks ties), or (nil, nil).
	LatestForUser(ctx context.Context, userID string) (*types.Transaction, error)

	// TransactionsForUser returns all entries for the user in insertion
	// order. Reconciliation only; not a hot path.
	TransactionsForUser(ctx context.Context, userID string) ([]*types.Transaction, error)
}

// Users persists the cached user balances.
type Users interface {
	SaveUser(ctx context.Context, u *types.User) error
	UserByID(ctx context.Context, userID string) (*types.User, error)
	AllUsers(ctx context.Context) ([]*types.User, error)
}

// Positions persists share holdings keyed by (userId, marketId).
type Positions interface {
	SavePosition(ctx context.Context, p *types.Position) error
	PositionFor(ctx context.Context, userID, marketID string) (*types.Position, error)
}

// Markets persists market state keyed by marketId.
type Markets interface {
	SaveMarket(ctx context.Context, m *types.MarketState) error
	MarketByID(ctx context.Context, marketID string) (*types.MarketState, error)
}

// Store is the full durable-storage contract.
type Store interface {
	Orders
	Transactions
	Users
	Positions
	Markets

	Close() error
}
