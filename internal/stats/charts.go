package stats

import (
	"time"

	"github.com/shopspring/decimal"

	"savings/internal/core"
)

// TrendMonths is the number of points in the savings trend series.
const TrendMonths = 6

// DistributionSlice is one goal's share of the combined target.
type DistributionSlice struct {
	GoalID   string          `json:"goalId"`
	Name     string          `json:"name"`
	Share    float64         `json:"share"`
	Target   decimal.Decimal `json:"target"`
	Current  decimal.Decimal `json:"current"`
	Currency core.Currency   `json:"currency"`
	Progress float64         `json:"progress"`
}

// CompletionBar is one goal's capped completion percentage.
type CompletionBar struct {
	GoalID     string  `json:"goalId"`
	Name       string  `json:"name"`
	Completion float64 `json:"completion"`
}

// MonthPoint is one month of the savings trend, in INR.
type MonthPoint struct {
	Month  string          `json:"month"`
	Saved  decimal.Decimal `json:"saved"`
	Target decimal.Decimal `json:"target"`
}

// Distribution returns each goal's share of the total target, in percent with
// one decimal. Targets are compared in INR so mixed currencies are weighed
// fairly. Progress here is not capped at 100.
func Distribution(goals []core.Goal, rates *core.Rates) []DistributionSlice {
	r := core.DefaultRates()
	if rates != nil {
		r = *rates
	}

	total := decimal.Zero
	inINR := make([]decimal.Decimal, len(goals))
	for i, g := range goals {
		inINR[i] = core.Convert(g.TargetAmount, g.Currency, core.INR, r)
		total = total.Add(inINR[i])
	}

	out := make([]DistributionSlice, len(goals))
	for i, g := range goals {
		var share float64
		if total.IsPositive() {
			share = inINR[i].Div(total).Mul(decimal.NewFromInt(100)).Round(1).InexactFloat64()
		}
		var progress float64
		if g.TargetAmount.IsPositive() {
			progress = g.CurrentAmount.Div(g.TargetAmount).Mul(decimal.NewFromInt(100)).InexactFloat64()
		}
		out[i] = DistributionSlice{
			GoalID:   g.ID,
			Name:     g.Name,
			Share:    share,
			Target:   g.TargetAmount,
			Current:  g.CurrentAmount,
			Currency: g.Currency,
			Progress: progress,
		}
	}
	return out
}

func Completion(goals []core.Goal) []CompletionBar {
	out := make([]CompletionBar, len(goals))
	for i, g := range goals {
		out[i] = CompletionBar{
			GoalID:     g.ID,
			Name:       g.Name,
			Completion: core.CalculateProgress(g.CurrentAmount, g.TargetAmount),
		}
	}
	return out
}

// SavingsTrend returns TrendMonths points ending at now's month. No history
// is kept, so every point but the last is zero and the last carries the
// current totals.
func SavingsTrend(goals []core.Goal, rates *core.Rates, now time.Time) []MonthPoint {
	s := ComputeDashboardStats(goals, rates)
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -(TrendMonths - 1), 0)

	out := make([]MonthPoint, TrendMonths)
	for i := range out {
		out[i] = MonthPoint{
			Month:  first.AddDate(0, i, 0).Format("Jan"),
			Saved:  decimal.Zero,
			Target: decimal.Zero,
		}
	}
	out[TrendMonths-1].Saved = s.TotalSavedINR
	out[TrendMonths-1].Target = s.TotalTargetINR
	return out
}

// MonthlyAverage spreads the total saved (INR) over the trend window.
func MonthlyAverage(goals []core.Goal, rates *core.Rates) decimal.Decimal {
	s := ComputeDashboardStats(goals, rates)
	return s.TotalSavedINR.Div(decimal.NewFromInt(TrendMonths)).Round(2)
}
