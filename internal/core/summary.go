package core

import "github.com/shopspring/decimal"

// Totals is an amount expressed in every supported currency.
type Totals struct {
	INR decimal.Decimal `json:"INR"`
	USD decimal.Decimal `json:"USD"`
}

// Add converts amount from c into both currencies and accumulates it.
func (t Totals) Add(amount decimal.Decimal, c Currency, r Rates) Totals {
	return Totals{
		INR: t.INR.Add(Convert(amount, c, INR, r)),
		USD: t.USD.Add(Convert(amount, c, USD, r)),
	}
}

// In returns the total for c.
func (t Totals) In(c Currency) decimal.Decimal {
	if c == USD {
		return t.USD
	}
	return t.INR
}
