// Package core provides money parsing and handling utilities.
//
// Amounts are shopspring decimals rounded to two places. Formatting follows
// Indian digit grouping (12,34,567.89) for both currencies.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts go out as JSON numbers, the shape the browser app stored and
	// API clients expect. Decoding accepts numbers and quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// ParseAmount converts a user-entered decimal string to an amount.
//
// The dot is the decimal separator. Commas are digit-group separators and
// may appear only between digits of the integer part, in Indian (12,34,567)
// or western (1,234,567) grouping. The result is rounded half-up to two
// places. Signs, empty input and zero are rejected.
//
// Examples:
//
//	ParseAmount("12.34")      -> 12.34, nil
//	ParseAmount("10,000")     -> 10000, nil
//	ParseAmount("1,23,456.7") -> 123456.7, nil
//	ParseAmount("1.5,0")      -> 0, ErrInvalidAmount
//	ParseAmount("-1")         -> 0, ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.Count(s, ".") > 1 {
		return decimal.Zero, ErrInvalidAmount
	}
	intPart, frac, _ := strings.Cut(s, ".")
	if strings.Contains(frac, ",") {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.Contains(intPart, ",") {
		if strings.HasPrefix(intPart, ",") || strings.HasSuffix(intPart, ",") || strings.Contains(intPart, ",,") {
			return decimal.Zero, ErrInvalidAmount
		}
		s = strings.ReplaceAll(s, ",", "")
	}
	for _, r := range s {
		if r != '.' && !unicode.IsDigit(r) {
			return decimal.Zero, ErrInvalidAmount
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	d = d.Round(2)
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// FormatAmount renders an amount with the currency symbol, Indian grouping and
// at most two fraction digits (trailing zeros dropped).
func FormatAmount(amount decimal.Decimal, c Currency) string {
	return c.Symbol() + groupIndian(amount.Round(2))
}

// FormatCompact abbreviates large amounts as crore (Cr), lakh (L) or
// thousand (K) with one fraction digit; smaller values use FormatAmount.
func FormatCompact(amount decimal.Decimal, c Currency) string {
	var (
		crore    = decimal.NewFromInt(10_000_000)
		lakh     = decimal.NewFromInt(100_000)
		thousand = decimal.NewFromInt(1_000)
	)
	switch {
	case amount.GreaterThanOrEqual(crore):
		return c.Symbol() + amount.Div(crore).StringFixed(1) + "Cr"
	case amount.GreaterThanOrEqual(lakh):
		return c.Symbol() + amount.Div(lakh).StringFixed(1) + "L"
	case amount.GreaterThanOrEqual(thousand):
		return c.Symbol() + amount.Div(thousand).StringFixed(1) + "K"
	}
	return FormatAmount(amount, c)
}

func groupIndian(d decimal.Decimal) string {
	neg := d.IsNegative()
	s := d.Abs().String()
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if n := len(intPart); n > 3 {
		head, tail := intPart[:n-3], intPart[n-3:]
		// leading group may be one or two digits, the rest are pairs
		first := len(head) % 2
		if first == 0 {
			first = 2
		}
		b.WriteString(head[:first])
		for i := first; i < len(head); i += 2 {
			b.WriteByte(',')
			b.WriteString(head[i : i+2])
		}
		b.WriteByte(',')
		b.WriteString(tail)
	} else {
		b.WriteString(intPart)
	}
	if frac != "" {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
