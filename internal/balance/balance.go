// Package balance exposes user balances on top of the ledger. Reads are O(1)
// off the latest entry's running balance; a background reconciler replays
// full histories to catch drift in the cached balances.
package balance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alitto/pond"
	"github.com/google/uuid"

	"github.com/pavan9802/prediction-market/internal/ledger"
	"github.com/pavan9802/prediction-market/internal/storage"
	"github.com/pavan9802/prediction-market/pkg/money"
	"github.com/pavan9802/prediction-market/pkg/types"
)

var (
	// ErrInvalidAmount is returned for non-positive deposit or withdrawal amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientFunds is returned when a withdrawal would overdraw the
	// ledger balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// DriftTolerance is the largest cached-vs-replayed discrepancy the
// reconciler tolerates silently.
var DriftTolerance = money.MustFromString("0.0001")

// Service answers balance queries and records funding events. Funding events
// for one user are serialized so the running-balance chain stays consistent.
type Service struct {
	ledger *ledger.Ledger
	users  storage.Users
	pool   *pond.WorkerPool
	log    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService wires a balance service over the ledger and the user cache.
// pool runs async recomputations; it may be shared with other components.
func NewService(l *ledger.Ledger, users storage.Users, pool *pond.WorkerPool, log *slog.Logger) *Service {
	return &Service{
		ledger: l,
		users:  users,
		pool:   pool,
		log:    log.With("component", "balance"),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *Service) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// Balance returns the user's current balance: the latest ledger entry's
// running balance, or zero for a user with no history.
func (s *Service) Balance(ctx context.Context, userID string) (money.Money, error) {
	latest, err := s.ledger.Latest(ctx, userID)
	if err != nil {
		return money.Zero, fmt.Errorf("balance for %s: %w", userID, err)
	}
	if latest == nil {
		return money.Zero, nil
	}
	return latest.BalanceAfter, nil
}

// HasSufficient reports whether the user's balance covers need.
func (s *Service) HasSufficient(ctx context.Context, userID string, need money.Money) (bool, error) {
	b, err := s.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return b.GreaterThanOrEqual(need), nil
}

// Deposit credits amount to the user and appends the ledger entry. An empty
// nonce gets a generated one.
func (s *Service) Deposit(ctx context.Context, userID string, amount money.Money, nonce string) (*types.Transaction, error) {
	return s.fund(ctx, userID, amount, nonce, types.TxDeposit)
}

// Withdraw debits amount from the user, failing with ErrInsufficientFunds if
// the ledger balance cannot cover it.
func (s *Service) Withdraw(ctx context.Context, userID string, amount money.Money, nonce string) (*types.Transaction, error) {
	return s.fund(ctx, userID, amount, nonce, types.TxWithdrawal)
}

func (s *Service) fund(ctx context.Context, userID string, amount money.Money, nonce string, txType types.TransactionType) (*types.Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}

	signed := amount
	if txType == types.TxWithdrawal {
		if current.Cmp(amount) < 0 {
			return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, current, amount)
		}
		signed = amount.Neg()
	}

	now := time.Now().UnixMilli()
	if nonce == "" {
		nonce = fmt.Sprintf("%s:%s:%d:%s", userID, txType, now, uuid.NewString())
	}
	tx := &types.Transaction{
		UserID:       userID,
		Type:         txType,
		Amount:       signed,
		Timestamp:    now,
		Nonce:        nonce,
		BalanceAfter: current.Add(signed),
	}
	if err := s.ledger.Append(ctx, tx); err != nil {
		if storage.IsDuplicateKey(err) {
			// Idempotent replay: return the outcome already on the ledger.
			return s.replayByNonce(ctx, userID, nonce)
		}
		return nil, err
	}

	s.RecomputeAsync(userID)
	s.log.Info("funding event recorded",
		"userId", userID, "type", txType, "amount", signed.String(), "balanceAfter", tx.BalanceAfter.String())
	return tx, nil
}

func (s *Service) replayByNonce(ctx context.Context, userID, nonce string) (*types.Transaction, error) {
	history, err := s.ledger.History(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, tx := range history {
		if tx.Nonce == nonce {
			return tx, nil
		}
	}
	return nil, fmt.Errorf("duplicate nonce %s not found in user %s history", nonce, userID)
}

// RecomputeAsync refreshes the user's cached balance off the critical path.
// Best effort: a full pool drops the request and the reconciler catches up.
func (s *Service) RecomputeAsync(userID string) {
	submitted := s.pool.TrySubmit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.recompute(ctx, userID); err != nil {
			s.log.Warn("balance recompute failed", "userId", userID, "error", err)
		}
	})
	if !submitted {
		s.log.Warn("balance recompute dropped, pool saturated", "userId", userID)
	}
}

func (s *Service) recompute(ctx context.Context, userID string) error {
	replayed, err := s.ledger.ReplayBalance(ctx, userID)
	if err != nil {
		return err
	}
	return s.users.SaveUser(ctx, &types.User{UserID: userID, Balance: replayed})
}

// RunReconciler replays every known user's ledger at the given interval and
// overwrites cached balances that drifted past DriftTolerance. Blocks until
// ctx is cancelled.
func (s *Service) RunReconciler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconcileAll(ctx)
		}
	}
}

func (s *Service) reconcileAll(ctx context.Context) {
	users, err := s.users.AllUsers(ctx)
	if err != nil {
		s.log.Error("reconciliation sweep failed", "error", err)
		return
	}
	for _, u := range users {
		replayed, err := s.ledger.ReplayBalance(ctx, u.UserID)
		if err != nil {
			s.log.Warn("reconciliation replay failed", "userId", u.UserID, "error", err)
			continue
		}
		drift := u.Balance.Sub(replayed).Abs()
		if drift.Cmp(DriftTolerance) <= 0 {
			continue
		}
		s.log.Warn("balance drift detected",
			"userId", u.UserID, "cached", u.Balance.String(), "replayed", replayed.String(), "drift", drift.String())
		if err := s.users.SaveUser(ctx, &types.User{UserID: u.UserID, Balance: replayed}); err != nil {
			s.log.Error("reconciliation write failed", "userId", u.UserID, "error", err)
		}
	}
}
