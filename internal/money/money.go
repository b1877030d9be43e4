/**
 * @description
 * Fixed-point money for the ledger. Every balance, limit and ledger amount is held as an
 * integer number of cents; decimals only exist at the API boundary and inside rate math.
 *
 * @dependencies
 * - github.com/shopspring/decimal: exact decimal parsing, formatting and rounding.
 */
package money

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount = errors.New("amount is not a valid decimal number")
	ErrTooPrecise    = errors.New("amount has more than 2 fractional digits")
	ErrOutOfRange    = errors.New("amount is out of range")
)

// Money is an amount in minor units (cents).
type Money int64

const Zero Money = 0

var (
	half     = decimal.New(5, -1)
	maxCents = decimal.NewFromInt(1<<62 - 1)
)

// FromMinor builds a Money value from cents.
func FromMinor(cents int64) Money {
	return Money(cents)
}

// FromMajor builds a Money value from whole currency units.
func FromMajor(units int64) Money {
	return Money(units * 100)
}

// Parse converts a decimal string with at most 2 fractional digits into cents.
func Parse(raw string) (Money, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if !d.Equal(d.Truncate(2)) {
		return 0, ErrTooPrecise
	}
	return fromExactDecimal(d)
}

// FromDecimal rounds d half-up to cents.
func FromDecimal(d decimal.Decimal) (Money, error) {
	cents := d.Shift(2).Add(half).Floor()
	if cents.Abs().GreaterThan(maxCents) {
		return 0, ErrOutOfRange
	}
	return Money(cents.IntPart()), nil
}

func fromExactDecimal(d decimal.Decimal) (Money, error) {
	cents := d.Shift(2)
	if cents.Abs().GreaterThan(maxCents) {
		return 0, ErrOutOfRange
	}
	return Money(cents.IntPart()), nil
}

func (m Money) Minor() int64 { return int64(m) }

func (m Money) Add(o Money) Money { return m + o }

func (m Money) Sub(o Money) Money { return m - o }

func (m Money) Neg() Money { return -m }

func (m Money) IsPositive() bool { return m > 0 }

func (m Money) IsNegative() bool { return m < 0 }

func (m Money) IsZero() bool { return m == 0 }

// Min returns the smaller of m and o.
func (m Money) Min(o Money) Money {
	if o < m {
		return o
	}
	return m
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

// String formats the amount with exactly two fractional digits.
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// MarshalJSON writes the amount as a JSON number with two fractional digits.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (m *Money) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	raw := strings.Trim(string(trimmed), "\"")
	parsed, err := Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	*m = parsed
	return nil
}
