package utils

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(t *testing.T, s string) *decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return &d
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1.5", "1.5"},
		{"0.5", "0.50"},
		{"0", "0.00"},
		{"12", "12"},
		{"1234567.891", "1,234,567.891"},
		{"0.1234567", "0.123457"},
		{"1.0000001", "1"},
		{"-2500.25", "-2,500.25"},
		{"100", "100"},
	}
	for _, tt := range tests {
		if got := FormatAmount(dec(t, tt.in)); got != tt.want {
			t.Errorf("FormatAmount(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if got := FormatAmount(nil); got != "0" {
		t.Errorf("FormatAmount(nil) = %q", got)
	}
}

func TestFormatFiat(t *testing.T) {
	tests := []struct {
		in       string
		currency string
		want     string
	}{
		{"1234.5", "", "$1,234.50"},
		{"3", "usd", "$3.00"},
		{"0.456", "EUR", "€0.46"},
		{"10", "CHF", "CHF 10.00"},
		{"-5", "USD", "-$5.00"},
	}
	for _, tt := range tests {
		if got := FormatFiat(dec(t, tt.in), tt.currency); got != tt.want {
			t.Errorf("FormatFiat(%s, %q) = %q, want %q", tt.in, tt.currency, got, tt.want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	valid := map[string]string{
		"10":         "10",
		" 0.5 ":      "0.5",
		"1234567.89": "1234567.89",
	}
	for in, want := range valid {
		got, ok := ParseAmount(in)
		if !ok || !got.Equal(*dec(t, want)) {
			t.Errorf("ParseAmount(%q) = %s, %v", in, got, ok)
		}
	}

	invalid := []string{"", "0", "-5", "abc", "NaN", "Infinity", "1..2",
		"1e2", "1E-3", "1e400", "1e99999999", strings.Repeat("9", maxAmountLength+1)}
	for _, in := range invalid {
		if _, ok := ParseAmount(in); ok {
			t.Errorf("ParseAmount(%q) should be invalid", in)
		}
	}
}

func TestShortenAddress(t *testing.T) {
	if got := ShortenAddress("0xDEAD"); got != "0xDEAD" {
		t.Errorf("short address changed: %q", got)
	}
	if got := ShortenAddress("0x1234567890abcdef1234"); got != "0x123456…ef1234" {
		t.Errorf("unexpected %q", got)
	}
}
