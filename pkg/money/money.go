// Package money provides a fixed-point currency type. Amounts are held as
// integer minor units (kobo for NGN); no floating-point value is ever stored
// or compared. Divisions round down so the platform never inflates a
// customer's obligation.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency is an ISO 4217 code.
type Currency string

const NGN Currency = "NGN"

// minorUnitsPerMajor is the kobo-per-naira factor shared by all supported
// currencies (all are 2-decimal).
const minorUnitsPerMajor = 100

// Money is an amount in integer minor units tagged with its currency.
type Money struct {
	Amount   int64    `json:"amount"` // minor units
	Currency Currency `json:"currency"`
}

// NGNKobo builds an NGN amount from kobo.
func NGNKobo(kobo int64) Money {
	return Money{Amount: kobo, Currency: NGN}
}

// NGNNaira builds an NGN amount from whole naira.
func NGNNaira(naira int64) Money {
	return Money{Amount: naira * minorUnitsPerMajor, Currency: NGN}
}

// Zero returns the zero amount in the given currency.
func Zero(c Currency) Money {
	return Money{Amount: 0, Currency: c}
}

func (m Money) assertSameCurrency(o Money) {
	if m.Currency != o.Currency {
		panic(fmt.Sprintf("money: currency mismatch %s vs %s", m.Currency, o.Currency))
	}
}

// Add returns m + o. Panics on currency mismatch; amounts of different
// currencies must never meet in one computation.
func (m Money) Add(o Money) Money {
	m.assertSameCurrency(o)
	return Money{Amount: m.Amount + o.Amount, Currency: m.Currency}
}

// Sub returns m - o. Panics on currency mismatch.
func (m Money) Sub(o Money) Money {
	m.assertSameCurrency(o)
	return Money{Amount: m.Amount - o.Amount, Currency: m.Currency}
}

// MulBasisPoints returns m scaled by bp/10000, rounded down.
// 10% of principal is MulBasisPoints(1000).
func (m Money) MulBasisPoints(bp int64) Money {
	return Money{Amount: m.Amount * bp / 10000, Currency: m.Currency}
}

// DivFloor returns m / n, rounded down. Panics if n <= 0.
func (m Money) DivFloor(n int64) Money {
	if n <= 0 {
		panic(fmt.Sprintf("money: division by non-positive %d", n))
	}
	return Money{Amount: m.Amount / n, Currency: m.Currency}
}

// Ratio returns m × num / den, rounded down. Used for splitting a payment
// into principal and interest components.
func (m Money) Ratio(num, den int64) Money {
	if den <= 0 {
		panic(fmt.Sprintf("money: ratio with non-positive denominator %d", den))
	}
	return Money{Amount: m.Amount * num / den, Currency: m.Currency}
}

// Min returns the smaller of m and o.
func (m Money) Min(o Money) Money {
	m.assertSameCurrency(o)
	if o.Amount < m.Amount {
		return o
	}
	return m
}

func (m Money) IsZero() bool     { return m.Amount == 0 }
func (m Money) IsPositive() bool { return m.Amount > 0 }
func (m Money) IsNegative() bool { return m.Amount < 0 }

// LessThan reports m < o. Panics on currency mismatch.
func (m Money) LessThan(o Money) bool {
	m.assertSameCurrency(o)
	return m.Amount < o.Amount
}

// GreaterThanOrEqual reports m >= o. Panics on currency mismatch.
func (m Money) GreaterThanOrEqual(o Money) bool {
	m.assertSameCurrency(o)
	return m.Amount >= o.Amount
}

// Equal reports value and currency equality.
func (m Money) Equal(o Money) bool {
	return m.Currency == o.Currency && m.Amount == o.Amount
}

// Decimal returns the amount in major units for display and reporting.
// Arithmetic must never be performed on the returned value.
func (m Money) Decimal() decimal.Decimal {
	return decimal.NewFromInt(m.Amount).Shift(-2)
}

// String renders e.g. "NGN 1000.00".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Currency, m.Decimal().StringFixed(2))
}
