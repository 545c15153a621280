// Package ledger provides the append-only transaction ledger that is the
// source of truth for user balances. Entries carry a running balance and a
// globally unique nonce; nothing here updates or deletes past entries.
package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pavan9802/prediction-market/internal/storage"
	"github.com/pavan9802/prediction-market/pkg/money"
	"github.com/pavan9802/prediction-market/pkg/types"
)

// Ledger appends and reads transaction entries. Atomicity of the
// insert-if-nonce-unseen operation is delegated to the storage adapter.
type Ledger struct {
	txs storage.Transactions
}

// New returns a Ledger backed by the given transaction storage.
func New(txs storage.Transactions) *Ledger {
	return &Ledger{txs: txs}
}

// Append inserts a single entry. The caller is responsible for having
// computed Amount and BalanceAfter; Append only assigns an ID when the entry
// has none. A reused nonce surfaces as storage.ErrDuplicateKey and the ledger
// is left unchanged.
func (l *Ledger) Append(ctx context.Context, tx *types.Transaction) error {
	if tx.Nonce == "" {
		return fmt.Errorf("ledger entry requires a nonce (userId=%s type=%s)", tx.UserID, tx.Type)
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if err := l.txs.InsertTransaction(ctx, tx); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// Latest returns the most recent entry for a user, or nil if the user has no
// ledger history.
func (l *Ledger) Latest(ctx context.Context, userID string) (*types.Transaction, error) {
	return l.txs.LatestForUser(ctx, userID)
}

// History returns a user's entries in insertion order.
func (l *Ledger) History(ctx context.Context, userID string) ([]*types.Transaction, error) {
	return l.txs.TransactionsForUser(ctx, userID)
}

// ReplayBalance recomputes a user's balance by summing every entry's signed
// amount from the beginning of their history. This is the slow path used for
// reconciliation; the fast path reads BalanceAfter off the latest entry.
func (l *Ledger) ReplayBalance(ctx context.Context, userID string) (money.Money, error) {
	txs, err := l.txs.TransactionsForUser(ctx, userID)
	if err != nil {
		return money.Zero, fmt.Errorf("replay ledger for %s: %w", userID, err)
	}
	balance := money.Zero
	for _, tx := range txs {
		balance = balance.Add(tx.Amount)
	}
	return balance, nil
}
