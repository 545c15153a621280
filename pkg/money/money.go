// Package money provides the fixed-precision decimal type used on every
// monetary path in the system.
//
// All values carry exactly 8 fractional digits (crypto-exchange precision)
// and every operation re-normalizes to that scale with half-even (banker's)
// rounding, so repeated arithmetic cannot drift through biased rounding.
// Money is immutable; operations return new values. Floating point is never
// used for decisions — Float64 exists only for logging and pricing handoff.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the fixed number of fractional digits for all monetary values.
const Scale = 8

var (
	// ErrInvalidAmount is returned by constructors for empty or malformed input.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrArithmetic is returned for impossible operations (division by zero).
	ErrArithmetic = errors.New("arithmetic error")
)

// Money is a fixed-scale decimal amount. The zero value is 0.00000000.
type Money struct {
	d decimal.Decimal
}

// Zero is the zero amount.
var Zero = Money{}

// One is the unit amount.
var One = FromInt(1)

func normalize(d decimal.Decimal) Money {
	return Money{d: d.RoundBank(Scale)}
}

// FromString parses a plain decimal string. This is the safest constructor
// for user input.
func FromString(s string) (Money, error) {
	if strings.TrimSpace(s) == "" {
		return Money{}, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return normalize(d), nil
}

// MustFromString parses a plain decimal string and panics on failure.
// For package-level constants only.
func MustFromString(s string) Money {
	m, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return m
}

// FromInt creates a whole amount.
func FromInt(n int64) Money {
	return normalize(decimal.NewFromInt(n))
}

// FromDecimal creates Money from an arbitrary-scale decimal.
func FromDecimal(d decimal.Decimal) Money {
	return normalize(d)
}

// FromFloat converts a float to Money. Use sparingly: the only legitimate
// producer of floats on a monetary path is the pricing engine.
func FromFloat(f float64) Money {
	return normalize(decimal.NewFromFloat(f))
}

// Add returns m + other.
func (m Money) Add(other Money) Money {
	return normalize(m.d.Add(other.d))
}

// Sub returns m - other.
func (m Money) Sub(other Money) Money {
	return normalize(m.d.Sub(other.d))
}

// Neg returns -m.
func (m Money) Neg() Money {
	return normalize(m.d.Neg())
}

// Abs returns |m|.
func (m Money) Abs() Money {
	return normalize(m.d.Abs())
}

// MulInt returns m * n (shares, quantities).
func (m Money) MulInt(n int64) Money {
	return normalize(m.d.Mul(decimal.NewFromInt(n)))
}

// Mul returns m * other.
func (m Money) Mul(other Money) Money {
	return normalize(m.d.Mul(other.d))
}

// DivInt returns m / n. Fails with ErrArithmetic when n is zero.
func (m Money) DivInt(n int64) (Money, error) {
	if n == 0 {
		return Money{}, fmt.Errorf("%w: division by zero", ErrArithmetic)
	}
	return normalize(m.d.DivRound(decimal.NewFromInt(n), Scale+2)), nil
}

// Div returns m / other. Fails with ErrArithmetic when other is zero.
func (m Money) Div(other Money) (Money, error) {
	if other.d.IsZero() {
		return Money{}, fmt.Errorf("%w: division by zero", ErrArithmetic)
	}
	return normalize(m.d.DivRound(other.d, Scale+2)), nil
}

// Cmp compares two amounts: -1 if m < other, 0 if equal, +1 if m > other.
func (m Money) Cmp(other Money) int {
	return m.d.Cmp(other.d)
}

// Equal reports value equality, ignoring representation.
func (m Money) Equal(other Money) bool {
	return m.d.Cmp(other.d) == 0
}

// GreaterThanOrEqual reports m >= other.
func (m Money) GreaterThanOrEqual(other Money) bool {
	return m.d.Cmp(other.d) >= 0
}

// LessThanOrEqual reports m <= other.
func (m Money) LessThanOrEqual(other Money) bool {
	return m.d.Cmp(other.d) <= 0
}

// IsZero reports m == 0.
func (m Money) IsZero() bool {
	return m.d.IsZero()
}

// IsPositive reports m > 0.
func (m Money) IsPositive() bool {
	return m.d.IsPositive()
}

// IsNegative reports m < 0.
func (m Money) IsNegative() bool {
	return m.d.IsNegative()
}

// Decimal returns the underlying decimal (persistence/serialization only).
func (m Money) Decimal() decimal.Decimal {
	return m.d.RoundBank(Scale)
}

// Float64 converts to float for display and metrics. Never use the result
// for monetary decisions.
func (m Money) Float64() float64 {
	f, _ := m.d.Float64()
	return f
}

// String returns the canonical wire form: a plain decimal string with
// exactly 8 fractional digits, e.g. "9994.98751000".
func (m Money) String() string {
	return m.d.StringFixedBank(Scale)
}

// MarshalJSON encodes the canonical string form.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either a JSON string or a bare JSON number.
func (m *Money) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n json.Number
		if numErr := json.Unmarshal(data, &n); numErr != nil {
			return err
		}
		s = n.String()
	}
	parsed, err := FromString(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
