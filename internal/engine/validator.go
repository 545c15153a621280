package engine

import (
	"context"
	"fmt"

	"github.com/pavan9802/prediction-market/internal/balance"
	"github.com/pavan9802/prediction-market/pkg/money"
	"github.com/pavan9802/prediction-market/pkg/types"
)

// Validation constraints.
const (
	minQuantity = 1
	maxQuantity = 1_000_000
)

var (
	minOrderCost = money.MustFromString("0.01")
	maxOrderCost = money.MustFromString("1000000.00")
)

// Validator runs the pre-execution checks on an order. Validation is
// read-only: it estimates cost but never prices, appends or mutates anything.
type Validator struct {
	balance *balance.Service
}

// NewValidator returns a validator backed by the given balance service.
func NewValidator(b *balance.Service) *Validator {
	return &Validator{balance: b}
}

// Validate checks the order against the given market state and returns the
// ordered list of constraint violations, empty when the order is acceptable.
func (v *Validator) Validate(ctx context.Context, o *types.Order, m *types.MarketState) []string {
	var errs []string

	// Basic field checks.
	if o.UserID == "" {
		errs = append(errs, "userId is required")
	}
	if o.MarketID == "" {
		errs = append(errs, "marketId is required")
	}
	if o.Side == "" {
		errs = append(errs, "side is required")
	}
	if o.Outcome == "" {
		errs = append(errs, "outcome is required")
	}
	if o.Nonce == "" {
		errs = append(errs, "nonce is required for idempotency")
	}

	// Market state.
	if m == nil {
		errs = append(errs, "Market not found")
	} else if m.Status != "" && m.Status != types.MarketOpen {
		errs = append(errs, fmt.Sprintf("Market is not open for trading: %s", m.Status))
	}

	// Quantity bounds.
	if o.Quantity < minQuantity {
		errs = append(errs, fmt.Sprintf("Quantity must be at least %d", minQuantity))
	}
	if o.Quantity > maxQuantity {
		errs = append(errs, fmt.Sprintf("Quantity cannot exceed %d", maxQuantity))
	}

	// Outcome.
	if o.Outcome != "" {
		if _, ok := types.ParseOutcome(string(o.Outcome)); !ok {
			errs = append(errs, "Outcome must be YES or NO")
		}
	}

	// Order type.
	if o.OrderType != "" && o.OrderType != types.OrderTypeMarket {
		errs = append(errs, "Only MARKET orders are supported currently")
	}

	// Balance pre-check for BUY orders, only once everything else holds.
	if len(errs) == 0 && o.Side == types.BUY {
		errs = v.validateBalance(ctx, o, m, errs)
	}
	return errs
}

// validateBalance estimates the order cost off the current price with a 10%
// slippage buffer. The estimate deliberately overshoots so the executor's
// authoritative check stays the strict one.
func (v *Validator) validateBalance(ctx context.Context, o *types.Order, m *types.MarketState, errs []string) []string {
	estimate := float64(o.Quantity) * m.CurrentPrice * 1.10
	if o.Outcome == types.OutcomeNo {
		estimate = float64(o.Quantity) * (1.0 - m.CurrentPrice) * 1.10
	}

	required := money.FromFloat(estimate)
	if !required.IsPositive() {
		return append(errs, "Estimated order cost must be positive")
	}
	if required.Cmp(minOrderCost) < 0 {
		return append(errs, fmt.Sprintf("Order cost must be at least %s", minOrderCost))
	}
	if required.Cmp(maxOrderCost) > 0 {
		return append(errs, fmt.Sprintf("Order cost cannot exceed %s", maxOrderCost))
	}

	have, err := v.balance.Balance(ctx, o.UserID)
	if err != nil {
		return append(errs, "Failed to validate balance: "+err.Error())
	}
	if have.Cmp(required) < 0 {
		return append(errs, fmt.Sprintf("Insufficient balance: have %s, need ~%s", have, required))
	}
	return errs
}
