package engine

import (
	"errors"
	"strings"
)

var (
	// ErrMarketNotFound is returned for trades against a market that was
	// never created.
	ErrMarketNotFound = errors.New("market not found")

	// ErrInsufficientBalance is the authoritative ledger-backed rejection at
	// execution time. Money is untouched when it fires.
	ErrInsufficientBalance = errors.New("insufficient balance at execution time")

	// ErrExecutionFailed wraps unexpected failures after an order went OPEN.
	ErrExecutionFailed = errors.New("order execution failed")

	// ErrOrderNotFound is returned by cancel for an unknown order ID.
	ErrOrderNotFound = errors.New("order not found")

	// ErrNotAuthorized is returned when a user cancels someone else's order.
	ErrNotAuthorized = errors.New("cannot cancel order owned by different user")

	// ErrNotActive is returned when cancelling an order already in a
	// terminal state.
	ErrNotActive = errors.New("order is not active, cannot cancel")

	// ErrRaceLost is returned when the conditional cancel update modified
	// nothing: the order left the active set between check and update.
	ErrRaceLost = errors.New("order state changed, cannot cancel")

	// ErrQueueFull is the fail-fast rejection for a saturated market lane.
	ErrQueueFull = errors.New("market queue full")
)

// ValidationError carries the ordered list of human-readable constraint
// violations found by the validator.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "order validation failed: " + strings.Join(e.Errors, "; ")
}

// Reason is the rejection reason recorded on the order.
func (e *ValidationError) Reason() string {
	return strings.Join(e.Errors, "; ")
}
