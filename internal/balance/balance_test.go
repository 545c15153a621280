package balance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alitto/pond"

	"github.com/pavan9802/prediction-market/internal/ledger"
	"github.com/pavan9802/prediction-market/internal/storage"
	"github.com/pavan9802/prediction-market/pkg/money"
	"github.com/pavan9802/prediction-market/pkg/types"
)

func newService(t *testing.T) (*Service, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	pool := pond.New(2, 16)
	t.Cleanup(pool.StopAndWait)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(ledger.New(store), store, pool, log), store
}

func TestBalanceEmptyHistoryIsZero(t *testing.T) {
	t.Parallel()
	s, _ := newService(t)

	b, err := s.Balance(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !b.IsZero() {
		t.Fatalf("expected zero, got %s", b)
	}
}

func TestDepositThenWithdraw(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newService(t)

	if _, err := s.Deposit(ctx, "alice", money.MustFromString("100"), ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	tx, err := s.Withdraw(ctx, "alice", money.MustFromString("30.25"), "")
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !tx.Amount.Equal(money.MustFromString("-30.25")) {
		t.Fatalf("withdrawal amount = %s, want -30.25", tx.Amount)
	}
	b, err := s.Balance(ctx, "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !b.Equal(money.MustFromString("69.75")) {
		t.Fatalf("balance = %s, want 69.75", b)
	}
}

func TestWithdrawOverdraftRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newService(t)

	if _, err := s.Deposit(ctx, "alice", money.MustFromString("10"), ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	_, err := s.Withdraw(ctx, "alice", money.MustFromString("10.01"), "")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	b, _ := s.Balance(ctx, "alice")
	if !b.Equal(money.MustFromString("10")) {
		t.Fatalf("balance changed after rejected withdrawal: %s", b)
	}
}

func TestDepositNonPositiveRejected(t *testing.T) {
	t.Parallel()
	s, _ := newService(t)

	for _, amount := range []string{"0", "-5"} {
		_, err := s.Deposit(context.Background(), "alice", money.MustFromString(amount), "")
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %s: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestDepositDuplicateNonceIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newService(t)

	first, err := s.Deposit(ctx, "alice", money.MustFromString("50"), "dep-1")
	if err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	second, err := s.Deposit(ctx, "alice", money.MustFromString("50"), "dep-1")
	if err != nil {
		t.Fatalf("replayed deposit: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay returned a different entry: %s != %s", second.ID, first.ID)
	}
	b, _ := s.Balance(ctx, "alice")
	if !b.Equal(money.MustFromString("50")) {
		t.Fatalf("balance = %s after replayed deposit, want 50", b)
	}
}

func TestHasSufficient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newService(t)

	if _, err := s.Deposit(ctx, "alice", money.MustFromString("25"), ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	ok, err := s.HasSufficient(ctx, "alice", money.MustFromString("25"))
	if err != nil || !ok {
		t.Fatalf("exact balance should be sufficient: (%v, %v)", ok, err)
	}
	ok, err = s.HasSufficient(ctx, "alice", money.MustFromString("25.00000001"))
	if err != nil || ok {
		t.Fatalf("one ulp over balance should be insufficient: (%v, %v)", ok, err)
	}
}

func TestReconcilerOverwritesDriftedCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, store := newService(t)

	if _, err := s.Deposit(ctx, "alice", money.MustFromString("80"), ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// Poison the cache well past tolerance.
	poisoned := &types.User{UserID: "alice", Balance: money.MustFromString("123.45")}
	if err := store.SaveUser(ctx, poisoned); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	s.reconcileAll(ctx)

	u, err := store.UserByID(ctx, "alice")
	if err != nil || u == nil {
		t.Fatalf("user lookup: (%+v, %v)", u, err)
	}
	if !u.Balance.Equal(money.MustFromString("80")) {
		t.Fatalf("cache not reconciled: %s, want 80", u.Balance)
	}
}
