package http

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"savings/internal/core"
)

const dateLayout = "2006-01-02"

// parseDate parses a date string in YYYY-MM-DD format.
func parseDate(dateStr string) (time.Time, error) {
	return time.Parse(dateLayout, strings.TrimSpace(dateStr))
}

// sanitizeInput removes control characters other than tab and newlines, and
// trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// formatRelative renders how long ago t was: minutes under an hour, hours
// under a day, days beyond that.
func formatRelative(t, now time.Time) string {
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d/time.Hour))
	default:
		return fmt.Sprintf("%d days ago", int(d/(24*time.Hour)))
	}
}

// otherCurrency returns the counterpart shown under each card amount.
func otherCurrency(c core.Currency) core.Currency {
	if c == core.INR {
		return core.USD
	}
	return core.INR
}

func templateFuncs(now func() time.Time) template.FuncMap {
	return template.FuncMap{
		"amount":  core.FormatAmount,
		"compact": core.FormatCompact,
		"percent": func(p float64) string { return fmt.Sprintf("%.1f%%", p) },
		"date":    func(t time.Time) string { return t.Format("02 Jan 2006") },
		"ago":     func(t time.Time) string { return formatRelative(t, now()) },
	}
}
