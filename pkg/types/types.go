// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the trading backend — orders and
// their lifecycle state machine, ledger transactions, market and position
// state, and trade requests. It has no dependencies on internal packages, so
// it can be imported by any layer.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pavan9802/prediction-market/pkg/money"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order. Only BUY is executable in the
// current system; SELL is declared for forward compatibility and rejected by
// validation.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// OrderType enumerates the supported order lifecycles. Market orders fill
// completely and instantly against the AMM; LIMIT is declared but rejected.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Outcome is the side of a binary market being traded.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// ParseOutcome canonicalizes a user-supplied outcome string (case-insensitive)
// to its uppercase form. The second return is false for anything that is not
// YES or NO.
func ParseOutcome(s string) (Outcome, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(OutcomeYes):
		return OutcomeYes, true
	case string(OutcomeNo):
		return OutcomeNo, true
	default:
		return "", false
	}
}

// MarketStatus is the lifecycle state of a market.
type MarketStatus string

const (
	MarketOpen     MarketStatus = "OPEN"
	MarketResolved MarketStatus = "RESOLVED"
)

// TransactionType classifies ledger entries.
type TransactionType string

const (
	TxTradeBuy         TransactionType = "TRADE_BUY"
	TxTradeSell        TransactionType = "TRADE_SELL"
	TxDeposit          TransactionType = "DEPOSIT"
	TxWithdrawal       TransactionType = "WITHDRAWAL"
	TxMarketResolution TransactionType = "MARKET_RESOLUTION"
)

// ————————————————————————————————————————————————————————————————————————
// Order lifecycle state machine
// ————————————————————————————————————————————————————————————————————————

// ErrIllegalTransition is returned for every rejected state transition.
var ErrIllegalTransition = errors.New("illegal order state transition")

// OrderStatus is the order lifecycle state.
//
// Legal transitions (strict, no shortcuts):
//
//	NEW     → OPEN | REJECTED
//	OPEN    → PARTIAL | FILLED | CANCELLED | REJECTED
//	PARTIAL → FILLED | CANCELLED
//
// FILLED, CANCELLED and REJECTED are terminal: once reached, no further
// transitions are allowed. Market orders go NEW → OPEN → FILLED; PARTIAL
// exists for future limit orders.
type OrderStatus string

const (
	StatusNew       OrderStatus = "NEW"
	StatusOpen      OrderStatus = "OPEN"
	StatusPartial   OrderStatus = "PARTIAL"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// IsTerminal reports whether the state admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// IsActive reports whether an order in this state can still be executed or
// cancelled.
func (s OrderStatus) IsActive() bool {
	return s == StatusOpen || s == StatusPartial
}

// CanTransitionTo reports whether s → to is a legal transition.
func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusNew:
		return to == StatusOpen || to == StatusRejected
	case StatusOpen:
		return to == StatusPartial || to == StatusFilled || to == StatusCancelled || to == StatusRejected
	case StatusPartial:
		return to == StatusFilled || to == StatusCancelled
	default:
		return false
	}
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// Order is a user's intent to buy shares in a market, and the source of
// truth for order lifecycle state. All timestamps are milliseconds since
// epoch.
type Order struct {
	ID string `json:"id"`

	// Nonce is the unique idempotency token. Generated form:
	// {userId}:{marketId}:{timestampMs}:{uuidv4}.
	Nonce string `json:"nonce"`

	UserID   string `json:"userId"`
	MarketID string `json:"marketId"`

	OrderType OrderType `json:"orderType"`
	Side      Side      `json:"side"`
	Outcome   Outcome   `json:"outcome"`

	// Quantity is the requested number of shares (>= 1).
	Quantity int `json:"quantity"`

	// FilledQuantity equals Quantity once a market order fills.
	FilledQuantity int `json:"filledQuantity"`

	// TotalCost is the amount debited for the filled quantity.
	TotalCost *money.Money `json:"totalCost,omitempty"`

	// AverageFillPrice = TotalCost / FilledQuantity.
	AverageFillPrice *money.Money `json:"averageFillPrice,omitempty"`

	Status OrderStatus `json:"status"`

	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
	CompletedAt *int64 `json:"completedAt,omitempty"`

	// RejectionReason is set only via Reject.
	RejectionReason string `json:"rejectionReason,omitempty"`

	// TransactionID links the ledger entry that settled this order.
	TransactionID string `json:"transactionId,omitempty"`
}

// TransitionTo moves the order to a new status, refreshing UpdatedAt and
// setting CompletedAt when a terminal state is entered. Illegal transitions
// fail with ErrIllegalTransition and leave the order untouched.
func (o *Order) TransitionTo(newStatus OrderStatus) error {
	if !o.Status.CanTransitionTo(newStatus) {
		return fmt.Errorf("%w: %s → %s (orderId=%s)", ErrIllegalTransition, o.Status, newStatus, o.ID)
	}
	o.Status = newStatus
	o.UpdatedAt = time.Now().UnixMilli()
	if newStatus.IsTerminal() {
		completed := o.UpdatedAt
		o.CompletedAt = &completed
	}
	return nil
}

// Reject transitions the order to REJECTED and records the reason. This is
// the only path that populates RejectionReason.
func (o *Order) Reject(reason string) error {
	if err := o.TransitionTo(StatusRejected); err != nil {
		return err
	}
	o.RejectionReason = reason
	return nil
}

// Fill records an execution of quantity shares for cost and transitions the
// order to FILLED (or PARTIAL for an incomplete fill of a future limit
// order). AverageFillPrice is recomputed from the running totals.
func (o *Order) Fill(quantity int, cost money.Money) error {
	if quantity <= 0 {
		return fmt.Errorf("fill quantity must be positive, got %d", quantity)
	}
	if !cost.IsPositive() {
		return fmt.Errorf("fill cost must be positive, got %s", cost)
	}
	newFilled := o.FilledQuantity + quantity
	if newFilled > o.Quantity {
		return fmt.Errorf("overfill: %d > %d (orderId=%s)", newFilled, o.Quantity, o.ID)
	}

	total := cost
	if o.TotalCost != nil {
		total = o.TotalCost.Add(cost)
	}
	avg, err := total.DivInt(int64(newFilled))
	if err != nil {
		return err
	}

	target := StatusFilled
	if newFilled < o.Quantity {
		target = StatusPartial
	}
	if err := o.TransitionTo(target); err != nil {
		return err
	}

	o.FilledQuantity = newFilled
	o.TotalCost = &total
	o.AverageFillPrice = &avg
	return nil
}

// RemainingQuantity is the unfilled share count.
func (o *Order) RemainingQuantity() int {
	return o.Quantity - o.FilledQuantity
}

// IsActive reports whether the order can still be executed or cancelled.
func (o *Order) IsActive() bool {
	return o.Status.IsActive()
}

// ————————————————————————————————————————————————————————————————————————
// Ledger transactions
// ————————————————————————————————————————————————————————————————————————

// Transaction is a single append-only ledger entry. Entries are never
// updated or deleted; the ledger is the source of truth for balances.
type Transaction struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	MarketID string `json:"marketId,omitempty"`

	Type TransactionType `json:"type"`

	// Amount is signed: positive = credit, negative = debit.
	Amount money.Money `json:"amount"`

	// Outcome, Shares and Price are set for trade entries only.
	Outcome Outcome      `json:"outcome,omitempty"`
	Shares  int          `json:"shares,omitempty"`
	Price   *money.Money `json:"price,omitempty"`

	Timestamp int64 `json:"timestamp"`

	// Nonce is globally unique across all transactions. Trade entries use
	// {orderNonce}:tx so the order and its settlement share an identity.
	Nonce string `json:"nonce"`

	// BalanceAfter is the running balance cached on the entry:
	// balanceAfter[n] = balanceAfter[n-1] + amount[n].
	BalanceAfter money.Money `json:"balanceAfter"`
}

// ————————————————————————————————————————————————————————————————————————
// Market, position, user
// ————————————————————————————————————————————————————————————————————————

// MarketState is the LMSR share-pool state of one binary market. It is
// mutated only under the market's serial execution lane.
type MarketState struct {
	MarketID string `json:"marketId"`

	YesShares float64 `json:"yesShares"`
	NoShares  float64 `json:"noShares"`

	// LiquidityB is the LMSR liquidity parameter, constant per market.
	LiquidityB float64 `json:"liquidityB"`

	// CurrentPrice is the YES price implied by the pools, in (0, 1).
	CurrentPrice float64 `json:"currentPrice"`

	Status MarketStatus `json:"status"`

	LastTradeTimestamp     int64 `json:"lastTradeTimestamp"`
	LastPersistedTimestamp int64 `json:"lastPersistedTimestamp"`
}

// Position is a user's share holdings in one market, keyed by
// (userId, marketId). Mutated only by the executor on a successful fill.
type Position struct {
	UserID    string `json:"userId"`
	MarketID  string `json:"marketId"`
	YesShares int    `json:"yesShares"`
	NoShares  int    `json:"noShares"`
}

// User carries the cached balance. The ledger is the source of truth; this
// value is observability only and never drives money decisions.
type User struct {
	UserID  string      `json:"userId"`
	Balance money.Money `json:"balance"`
}

// TradeRequest is the unit of work submitted to a market's execution lane.
type TradeRequest struct {
	UserID   string `json:"userId"`
	MarketID string `json:"marketId"`
	Outcome  string `json:"outcome"`
	Quantity int    `json:"quantity"`

	// Nonce is the optional client-provided idempotency token.
	Nonce string `json:"nonce,omitempty"`
}
