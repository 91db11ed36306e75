// Package stats derives dashboard figures from a goal collection.
//
// Everything here is a pure function of its inputs; nothing is cached.
package stats

import (
	"time"

	"github.com/shopspring/decimal"

	"savings/internal/core"
)

// DashboardStats are the portfolio totals shown at the top of the dashboard.
type DashboardStats struct {
	TotalTargetINR  decimal.Decimal `json:"totalTargetINR"`
	TotalTargetUSD  decimal.Decimal `json:"totalTargetUSD"`
	TotalSavedINR   decimal.Decimal `json:"totalSavedINR"`
	TotalSavedUSD   decimal.Decimal `json:"totalSavedUSD"`
	OverallProgress float64         `json:"overallProgress"`
	GoalCount       int             `json:"goalCount"`
}

// ComputeDashboardStats converts every goal into both currencies and sums.
// OverallProgress is the unweighted mean of per-goal progress, so a small
// finished goal counts as much as a large untouched one. Nil rates fall back
// to core.DefaultRates.
func ComputeDashboardStats(goals []core.Goal, rates *core.Rates) DashboardStats {
	r := core.DefaultRates()
	if rates != nil {
		r = *rates
	}

	var (
		target, saved core.Totals
		progressSum   float64
	)
	for _, g := range goals {
		target = target.Add(g.TargetAmount, g.Currency, r)
		saved = saved.Add(g.CurrentAmount, g.Currency, r)
		progressSum += core.CalculateProgress(g.CurrentAmount, g.TargetAmount)
	}

	var overall float64
	if len(goals) > 0 {
		overall = progressSum / float64(len(goals))
	}

	return DashboardStats{
		TotalTargetINR:  target.INR,
		TotalTargetUSD:  target.USD,
		TotalSavedINR:   saved.INR,
		TotalSavedUSD:   saved.USD,
		OverallProgress: overall,
		GoalCount:       len(goals),
	}
}

// TargetIn returns the total target expressed in c.
func (s DashboardStats) TargetIn(c core.Currency) decimal.Decimal {
	return core.Totals{INR: s.TotalTargetINR, USD: s.TotalTargetUSD}.In(c)
}

// SavedIn returns the total saved expressed in c.
func (s DashboardStats) SavedIn(c core.Currency) decimal.Decimal {
	return core.Totals{INR: s.TotalSavedINR, USD: s.TotalSavedUSD}.In(c)
}

// GoalView is a goal plus the figures the dashboard card derives from it.
type GoalView struct {
	core.Goal
	Progress             float64            `json:"progress"`
	IsCompleted          bool               `json:"isCompleted"`
	ExceedsTarget        bool               `json:"exceedsTarget"`
	RemainingAmount      decimal.Decimal    `json:"remainingAmount"`
	ContributionCount    int                `json:"contributionCount"`
	LastContribution     *core.Contribution `json:"lastContribution,omitempty"`
	LastContributionDate *time.Time         `json:"lastContributionDate,omitempty"`
}

// Derive computes the card figures for one goal. The last contribution is the
// last one appended, not the one with the latest date.
func Derive(g core.Goal) GoalView {
	remaining := g.TargetAmount.Sub(g.CurrentAmount)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	v := GoalView{
		Goal:              g,
		Progress:          core.CalculateProgress(g.CurrentAmount, g.TargetAmount),
		IsCompleted:       g.CurrentAmount.GreaterThanOrEqual(g.TargetAmount),
		ExceedsTarget:     g.CurrentAmount.GreaterThan(g.TargetAmount),
		RemainingAmount:   remaining,
		ContributionCount: len(g.Contributions),
	}
	if last, ok := g.LastContribution(); ok {
		date := last.Date
		v.LastContribution = &last
		v.LastContributionDate = &date
	}
	return v
}

func DeriveAll(goals []core.Goal) []GoalView {
	out := make([]GoalView, len(goals))
	for i, g := range goals {
		out[i] = Derive(g)
	}
	return out
}
