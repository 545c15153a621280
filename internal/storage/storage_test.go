package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/pavan9802/prediction-market/pkg/money"
	"github.com/pavan9802/prediction-market/pkg/types"
)

func newOrder(id, nonce string, createdAt int64) *types.Order {
	return &types.Order{
		ID:        id,
		Nonce:     nonce,
		UserID:    "alice",
		MarketID:  "mkt-1",
		OrderType: types.OrderTypeMarket,
		Side:      types.BUY,
		Outcome:   types.OutcomeYes,
		Quantity:  10,
		Status:    types.StatusOpen,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestMemoryOrderNonceUniqueness(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	if err := s.SaveOrder(ctx, newOrder("ord-1", "alice:mkt-1:1:aa", 1)); err != nil {
		t.Fatalf("save first order: %v", err)
	}
	err := s.SaveOrder(ctx, newOrder("ord-2", "alice:mkt-1:1:aa", 2))
	if !IsDuplicateKey(err) {
		t.Fatalf("expected duplicate key for reused nonce, got %v", err)
	}

	// Re-saving the same order under its own nonce is an upsert, not a conflict.
	o := newOrder("ord-1", "alice:mkt-1:1:aa", 1)
	o.Status = types.StatusFilled
	if err := s.SaveOrder(ctx, o); err != nil {
		t.Fatalf("upsert existing order: %v", err)
	}
	got, err := s.OrderByNonce(ctx, "alice:mkt-1:1:aa")
	if err != nil {
		t.Fatalf("lookup by nonce: %v", err)
	}
	if got == nil || got.Status != types.StatusFilled {
		t.Fatalf("expected upserted FILLED order, got %+v", got)
	}
}

func TestMemoryMissingLookupsReturnNil(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	if o, err := s.OrderByID(ctx, "nope"); err != nil || o != nil {
		t.Fatalf("OrderByID = (%v, %v), want (nil, nil)", o, err)
	}
	if tx, err := s.LatestForUser(ctx, "nobody"); err != nil || tx != nil {
		t.Fatalf("LatestForUser = (%v, %v), want (nil, nil)", tx, err)
	}
	if m, err := s.MarketByID(ctx, "nope"); err != nil || m != nil {
		t.Fatalf("MarketByID = (%v, %v), want (nil, nil)", m, err)
	}
	if p, err := s.PositionFor(ctx, "nobody", "nope"); err != nil || p != nil {
		t.Fatalf("PositionFor = (%v, %v), want (nil, nil)", p, err)
	}
}

func TestMemoryApplyFillOnlyActiveOrders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	o := newOrder("ord-1", "n1", 1)
	if err := s.SaveOrder(ctx, o); err != nil {
		t.Fatalf("save: %v", err)
	}

	cost := money.MustFromString("5.01249000")
	avg := money.MustFromString("0.50124900")
	completed := int64(5)
	filled := newOrder("ord-1", "n1", 1)
	filled.FilledQuantity = 10
	filled.TotalCost = &cost
	filled.AverageFillPrice = &avg
	filled.Status = types.StatusFilled
	filled.UpdatedAt = 5
	filled.CompletedAt = &completed
	filled.TransactionID = "tx-1"

	n, err := s.ApplyFill(ctx, filled)
	if err != nil || n != 1 {
		t.Fatalf("ApplyFill = (%d, %v), want (1, nil)", n, err)
	}

	// Second fill must lose: the order is no longer active.
	n, err = s.ApplyFill(ctx, filled)
	if err != nil || n != 0 {
		t.Fatalf("second ApplyFill = (%d, %v), want (0, nil)", n, err)
	}

	got, _ := s.OrderByID(ctx, "ord-1")
	if got.TransactionID != "tx-1" || got.TotalCost == nil || !got.TotalCost.Equal(cost) {
		t.Fatalf("fill fields not persisted: %+v", got)
	}
}

func TestMemoryCancelOrderRace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	if err := s.SaveOrder(ctx, newOrder("ord-1", "n1", 1)); err != nil {
		t.Fatalf("save: %v", err)
	}
	n, err := s.CancelOrder(ctx, "ord-1", 9)
	if err != nil || n != 1 {
		t.Fatalf("CancelOrder = (%d, %v), want (1, nil)", n, err)
	}
	n, err = s.CancelOrder(ctx, "ord-1", 10)
	if err != nil || n != 0 {
		t.Fatalf("cancel of cancelled order = (%d, %v), want (0, nil)", n, err)
	}
	got, _ := s.OrderByID(ctx, "ord-1")
	if got.Status != types.StatusCancelled || got.CompletedAt == nil || *got.CompletedAt != 9 {
		t.Fatalf("unexpected cancelled order: %+v", got)
	}
}

func TestMemoryOrdersForUserNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	for i, id := range []string{"a", "b", "c"} {
		o := newOrder(id, "n-"+id, int64(i+1))
		if err := s.SaveOrder(ctx, o); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	orders, err := s.OrdersForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("OrdersForUser: %v", err)
	}
	if len(orders) != 3 || orders[0].ID != "c" || orders[2].ID != "a" {
		t.Fatalf("expected newest-first [c b a], got %+v", orders)
	}
}

func TestMemoryTransactionNonceUniqueness(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	tx := &types.Transaction{
		ID:           "tx-1",
		UserID:       "alice",
		Type:         types.TxDeposit,
		Amount:       money.MustFromString("100"),
		Timestamp:    1,
		Nonce:        "dep-1",
		BalanceAfter: money.MustFromString("100"),
	}
	if err := s.InsertTransaction(ctx, tx); err != nil {
		t.Fatalf("insert: %v", err)
	}
	dup := *tx
	dup.ID = "tx-2"
	if err := s.InsertTransaction(ctx, &dup); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey for reused nonce, got %v", err)
	}

	latest, err := s.LatestForUser(ctx, "alice")
	if err != nil || latest == nil || latest.ID != "tx-1" {
		t.Fatalf("LatestForUser = (%+v, %v)", latest, err)
	}
}

func TestMemoryLatestForUserTiesGoToNewestInsert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	for _, id := range []string{"tx-1", "tx-2"} {
		tx := &types.Transaction{
			ID:           id,
			UserID:       "alice",
			Type:         types.TxDeposit,
			Amount:       money.MustFromString("1"),
			Timestamp:    7, // same millisecond
			Nonce:        "n-" + id,
			BalanceAfter: money.MustFromString("1"),
		}
		if err := s.InsertTransaction(ctx, tx); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	latest, err := s.LatestForUser(ctx, "alice")
	if err != nil || latest == nil || latest.ID != "tx-2" {
		t.Fatalf("expected tx-2 to win the timestamp tie, got (%+v, %v)", latest, err)
	}
}
