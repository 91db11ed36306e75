package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Rates holds how many units of each currency one unit of Base buys.
type Rates struct {
	Base        Currency        `json:"base"`
	INR         decimal.Decimal `json:"INR"`
	USD         decimal.Decimal `json:"USD"`
	LastUpdated time.Time       `json:"lastUpdated"`
}

// DefaultRates are used until a live or stored pair is available.
func DefaultRates() Rates {
	return Rates{
		Base: USD,
		INR:  decimal.NewFromInt(83),
		USD:  decimal.NewFromInt(1),
	}
}

// Rate returns the quote for c relative to Base.
func (r Rates) Rate(c Currency) decimal.Decimal {
	switch c {
	case INR:
		return r.INR
	case USD:
		return r.USD
	default:
		return decimal.Zero
	}
}

func (r Rates) Validate() error {
	if !r.Base.IsValid() {
		return fmt.Errorf("base: %w", ErrUnknownCurrency)
	}
	if !r.INR.IsPositive() || !r.USD.IsPositive() {
		return errors.New("rates must be positive")
	}
	return nil
}

// Convert expresses amount, denominated in from, in to. Same-currency
// conversion is the identity; an unusable rate leaves the amount unchanged.
func Convert(amount decimal.Decimal, from, to Currency, r Rates) decimal.Decimal {
	if from == to {
		return amount
	}
	fromRate, toRate := r.Rate(from), r.Rate(to)
	if !fromRate.IsPositive() || !toRate.IsPositive() {
		return amount
	}
	return amount.Div(fromRate).Mul(toRate)
}

// CalculateProgress returns current/target as a percentage clamped to
// [0, 100]. A non-positive target yields 0.
func CalculateProgress(current, target decimal.Decimal) float64 {
	if !target.IsPositive() {
		return 0
	}
	p := current.Div(target).Mul(decimal.NewFromInt(100))
	if p.IsNegative() {
		return 0
	}
	if p.GreaterThan(decimal.NewFromInt(100)) {
		return 100
	}
	return p.InexactFloat64()
}
