package core

import (
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

const (
	INR Currency = "INR"
	USD Currency = "USD"
)

type (
	Currency string

	// Goal is a named savings target. CurrentAmount always equals the sum of
	// Contributions; only the store mutates either.
	Goal struct {
		ID            string          `json:"id"`
		Name          string          `json:"name"`
		TargetAmount  decimal.Decimal `json:"targetAmount"`
		Currency      Currency        `json:"currency"`
		CurrentAmount decimal.Decimal `json:"currentAmount"`
		Contributions []Contribution  `json:"contributions"`
		CreatedAt     time.Time       `json:"createdAt"`
		UpdatedAt     time.Time       `json:"updatedAt"`
	}

	// Contribution is a single deposit toward a goal, in the goal's currency.
	Contribution struct {
		ID     string          `json:"id"`
		Amount decimal.Decimal `json:"amount"`
		Date   time.Time       `json:"date"`
		Note   string          `json:"note,omitempty"`
	}

	// GoalPatch lists the fields UpdateGoal may change. Nil fields are left alone.
	GoalPatch struct {
		Name         *string
		TargetAmount *decimal.Decimal
		Currency     *Currency
	}
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrUnknownCurrency = errors.New("unknown currency")
)

// Currencies returns the supported currencies in display order.
func Currencies() []Currency {
	return []Currency{INR, USD}
}

func (c Currency) IsValid() bool {
	return c == INR || c == USD
}

func (c Currency) String() string {
	return string(c)
}

// Symbol returns the display symbol, or the ISO code for unknown currencies.
func (c Currency) Symbol() string {
	switch c {
	case INR:
		return "₹"
	case USD:
		return "$"
	default:
		return string(c)
	}
}

func (c Currency) DisplayName() string {
	switch c {
	case INR:
		return "Indian Rupee"
	case USD:
		return "US Dollar"
	default:
		return string(c)
	}
}

// ParseCurrency accepts a case-insensitive ISO code.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", ErrUnknownCurrency
	}
	return c, nil
}

// NewID returns a lexicographically sortable unique identifier.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.DefaultEntropy()).String()
}

// SumContributions recomputes the total of all contributions.
func (g Goal) SumContributions() decimal.Decimal {
	sum := decimal.Zero
	for _, c := range g.Contributions {
		sum = sum.Add(c.Amount)
	}
	return sum
}

// LastContribution returns the most recently appended contribution.
func (g Goal) LastContribution() (Contribution, bool) {
	if len(g.Contributions) == 0 {
		return Contribution{}, false
	}
	return g.Contributions[len(g.Contributions)-1], true
}

// Clone returns a copy that shares no slices with g.
func (g Goal) Clone() Goal {
	out := g
	if g.Contributions != nil {
		out.Contributions = make([]Contribution, len(g.Contributions))
		copy(out.Contributions, g.Contributions)
	}
	return out
}

// IsEmpty reports whether the patch changes nothing.
func (p GoalPatch) IsEmpty() bool {
	return p.Name == nil && p.TargetAmount == nil && p.Currency == nil
}
