package core

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"1.0", "1", true},
		{"1.23", "1.23", true},
		{"1,23", "123", true},
		{"10,000", "10000", true},
		{"1,500", "1500", true},
		{"12,34,567.89", "1234567.89", true},
		{"1,234,567", "1234567", true},
		{",500", "", false},
		{"500,", "", false},
		{"1,,000", "", false},
		{"1.5,0", "", false},
		{"0.01", "0.01", true},
		{"1.005", "1.01", true}, // half-up rounding
		{" 2.50 ", "2.5", true},
		{"10000000", "10000000", true},
		{"-1", "", false},
		{"+1", "", false},
		{"0", "", false},
		{"0.001", "", false},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"1e3", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || !got.Equal(decimal.RequireFromString(tc.out)) {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error, got %s", tc.in, got)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		amount string
		cur    Currency
		want   string
	}{
		{"0", INR, "₹0"},
		{"999", INR, "₹999"},
		{"1000", INR, "₹1,000"},
		{"12345.6", INR, "₹12,345.6"},
		{"123456.789", INR, "₹1,23,456.79"},
		{"1234567", USD, "$12,34,567"},
		{"10000000", INR, "₹1,00,00,000"},
	}
	for _, tc := range cases {
		got := FormatAmount(decimal.RequireFromString(tc.amount), tc.cur)
		if got != tc.want {
			t.Errorf("FormatAmount(%s, %s) = %q, want %q", tc.amount, tc.cur, got, tc.want)
		}
	}
}

func TestFormatCompact(t *testing.T) {
	cases := []struct {
		amount string
		want   string
	}{
		{"500", "₹500"},
		{"1500", "₹1.5K"},
		{"250000", "₹2.5L"},
		{"12000000", "₹1.2Cr"},
	}
	for _, tc := range cases {
		got := FormatCompact(decimal.RequireFromString(tc.amount), INR)
		if got != tc.want {
			t.Errorf("FormatCompact(%s) = %q, want %q", tc.amount, got, tc.want)
		}
	}
}

func TestAmountsEncodeAsJSONNumbers(t *testing.T) {
	g := Goal{ID: "g1", TargetAmount: decimal.RequireFromString("1500.5"), CurrentAmount: decimal.Zero}
	data, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"targetAmount":1500.5`, `"currentAmount":0`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("encoded goal %s missing %s", data, want)
		}
	}

	var back Goal
	if err := json.Unmarshal([]byte(`{"targetAmount":"12.5","currentAmount":3}`), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.TargetAmount.Equal(decimal.RequireFromString("12.5")) || !back.CurrentAmount.Equal(decimal.NewFromInt(3)) {
		t.Errorf("decoded amounts = %s/%s", back.TargetAmount, back.CurrentAmount)
	}
}
