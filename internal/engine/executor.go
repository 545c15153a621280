package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavan9802/prediction-market/internal/balance"
	"github.com/pavan9802/prediction-market/internal/ledger"
	"github.com/pavan9802/prediction-market/internal/pricing"
	"github.com/pavan9802/prediction-market/internal/storage"
	"github.com/pavan9802/prediction-market/internal/store"
	"github.com/pavan9802/prediction-market/pkg/money"
	"github.com/pavan9802/prediction-market/pkg/types"
)

// FillListener is notified after a fill has committed to the ledger and the
// hot caches. Implementations must not block the execution lane.
type FillListener interface {
	OrderFilled(o *types.Order, m *types.MarketState)
}

// Executor drives the full order lifecycle: dedupe, validate, price, ledger
// append, then cache updates. It is invoked only from a market's serial
// execution lane, so market state mutation here needs no locking.
type Executor struct {
	orders    storage.Orders
	validator *Validator
	balance   *balance.Service
	ledger    *ledger.Ledger
	markets   *store.MarketStore
	positions *store.PositionStore
	listener  FillListener // optional
	log       *slog.Logger
}

// NewExecutor wires an executor. listener may be nil.
func NewExecutor(
	orders storage.Orders,
	v *Validator,
	b *balance.Service,
	l *ledger.Ledger,
	markets *store.MarketStore,
	positions *store.PositionStore,
	listener FillListener,
	log *slog.Logger,
) *Executor {
	return &Executor{
		orders:    orders,
		validator: v,
		balance:   b,
		ledger:    l,
		markets:   markets,
		positions: positions,
		listener:  listener,
		log:       log.With("component", "executor"),
	}
}

// ExecuteMarketOrder runs a market BUY end to end and returns the final
// order. Replays of a seen nonce return the original order unchanged.
func (e *Executor) ExecuteMarketOrder(ctx context.Context, req types.TradeRequest) (*types.Order, error) {
	now := time.Now().UnixMilli()

	nonce := req.Nonce
	if nonce == "" {
		nonce = fmt.Sprintf("%s:%s:%d:%s", req.UserID, req.MarketID, now, uuid.NewString())
	}

	// Idempotency: a known nonce short-circuits to the stored outcome.
	existing, err := e.orders.OrderByNonce(ctx, nonce)
	if err != nil {
		return nil, fmt.Errorf("nonce lookup: %w", err)
	}
	if existing != nil {
		e.log.Info("duplicate order request, returning existing order", "nonce", nonce, "orderId", existing.ID)
		return existing, nil
	}

	order := &types.Order{
		ID:        uuid.NewString(),
		Nonce:     nonce,
		UserID:    req.UserID,
		MarketID:  req.MarketID,
		OrderType: types.OrderTypeMarket,
		Side:      types.BUY,
		Outcome:   types.Outcome(req.Outcome),
		Quantity:  req.Quantity,
		Status:    types.StatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if canonical, ok := types.ParseOutcome(req.Outcome); ok {
		order.Outcome = canonical
	}

	// Persisting in NEW establishes nonce uniqueness. Losing the race means
	// another request with this nonce got there first; return its order.
	if err := e.orders.SaveOrder(ctx, order); err != nil {
		if storage.IsDuplicateKey(err) {
			e.log.Info("lost order creation race, returning existing order", "nonce", nonce)
			winner, lookupErr := e.orders.OrderByNonce(ctx, nonce)
			if lookupErr != nil || winner == nil {
				return nil, fmt.Errorf("re-read after nonce race: %w", lookupErr)
			}
			return winner, nil
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	market, err := e.markets.GetOrLoad(ctx, req.MarketID)
	if err != nil {
		return order, fmt.Errorf("load market %s: %w", req.MarketID, err)
	}
	if market == nil {
		reason := "Market not found: " + req.MarketID
		e.rejectAndSave(ctx, order, reason)
		return order, fmt.Errorf("%w: %s", ErrMarketNotFound, req.MarketID)
	}

	if errs := e.validator.Validate(ctx, order, market); len(errs) > 0 {
		verr := &ValidationError{Errors: errs}
		e.log.Warn("order rejected", "orderId", order.ID, "userId", req.UserID, "reason", verr.Reason())
		e.rejectAndSave(ctx, order, verr.Reason())
		return order, verr
	}

	if err := order.TransitionTo(types.StatusOpen); err != nil {
		return order, err
	}
	if err := e.orders.SaveOrder(ctx, order); err != nil {
		return order, fmt.Errorf("persist open order: %w", err)
	}

	// Past this point the trade is uninterruptible.
	if err := e.execute(ctx, order, market); err != nil {
		e.log.Error("order execution failed", "orderId", order.ID, "error", err)
		e.rejectAndSave(ctx, order, "Execution failed: "+err.Error())
		if errors.Is(err, ErrInsufficientBalance) {
			return order, err
		}
		return order, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}
	return order, nil
}

// execute prices the order, appends the ledger entry, then applies the fill
// to the order record and the hot caches. The ledger append is the commit
// point: everything after it is recoverable from the ledger.
func (e *Executor) execute(ctx context.Context, order *types.Order, market *types.MarketState) error {
	if _, err := e.positions.GetOrCreate(ctx, order.UserID, order.MarketID); err != nil {
		return fmt.Errorf("load position: %w", err)
	}

	buyYes := order.Outcome == types.OutcomeYes
	costF := pricing.ComputeCost(market.YesShares, market.NoShares, buyYes, float64(order.Quantity), market.LiquidityB)
	cost := money.FromFloat(costF)

	// Authoritative check: the validator's estimate may have been optimistic.
	current, err := e.balance.Balance(ctx, order.UserID)
	if err != nil {
		return fmt.Errorf("balance read: %w", err)
	}
	if current.Cmp(cost) < 0 {
		return ErrInsufficientBalance
	}

	amount := cost.Neg()
	price, err := cost.DivInt(int64(order.Quantity))
	if err != nil {
		return fmt.Errorf("price per share: %w", err)
	}

	now := time.Now().UnixMilli()
	tx := &types.Transaction{
		UserID:       order.UserID,
		MarketID:     order.MarketID,
		Type:         types.TxTradeBuy,
		Amount:       amount,
		Outcome:      order.Outcome,
		Shares:       order.Quantity,
		Price:        &price,
		Timestamp:    now,
		Nonce:        order.Nonce + ":tx",
		BalanceAfter: current.Add(amount),
	}
	if err := e.ledger.Append(ctx, tx); err != nil {
		if storage.IsDuplicateKey(err) {
			// A prior attempt already settled this order; the caches and the
			// order record reflect it. Nothing left to do.
			e.log.Warn("duplicate trade transaction, order already executed", "orderId", order.ID)
			return nil
		}
		return fmt.Errorf("ledger append: %w", err)
	}

	// Ledger committed: mark the order FILLED through the conditional update.
	if err := order.Fill(order.Quantity, cost); err != nil {
		return err
	}
	order.TransactionID = tx.ID
	modified, err := e.orders.ApplyFill(ctx, order)
	if err != nil {
		return fmt.Errorf("persist fill: %w", err)
	}
	if modified == 0 {
		e.log.Warn("fill update modified no rows, order left the active set", "orderId", order.ID)
	}

	// Hot-path cache updates. The market store applies the trade under its
	// own lock so concurrent Snapshot and flush reads see a consistent state.
	updated := e.markets.ApplyTrade(order.MarketID, order.Outcome, order.Quantity, now)
	e.positions.AddShares(order.UserID, order.MarketID, order.Outcome, order.Quantity)

	e.balance.RecomputeAsync(order.UserID)

	if e.listener != nil && updated != nil {
		e.listener.OrderFilled(order, updated)
	}

	e.log.Info("order executed",
		"orderId", order.ID, "userId", order.UserID, "marketId", order.MarketID,
		"outcome", order.Outcome, "quantity", order.Quantity, "cost", cost.String())
	return nil
}

// Cancel cancels an active order owned by byUserID via an atomic conditional
// update. Market orders fill instantly, so in practice this serves future
// resting orders and the race tests.
func (e *Executor) Cancel(ctx context.Context, orderID, byUserID string) error {
	order, err := e.orders.OrderByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("order lookup: %w", err)
	}
	if order == nil {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if order.UserID != byUserID {
		return ErrNotAuthorized
	}
	if !order.IsActive() {
		return fmt.Errorf("%w: %s", ErrNotActive, order.Status)
	}

	modified, err := e.orders.CancelOrder(ctx, orderID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if modified == 0 {
		return ErrRaceLost
	}
	e.log.Info("order cancelled", "orderId", orderID, "userId", byUserID)
	return nil
}

func (e *Executor) rejectAndSave(ctx context.Context, order *types.Order, reason string) {
	if err := order.Reject(reason); err != nil {
		e.log.Error("reject transition failed", "orderId", order.ID, "error", err)
		return
	}
	if err := e.orders.SaveOrder(ctx, order); err != nil {
		e.log.Error("persist rejected order failed", "orderId", order.ID, "error", err)
	}
}
