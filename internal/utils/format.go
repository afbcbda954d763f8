package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

const maxAmountFractionDigits = 6

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
}

// FormatAmount renders a holding amount with up to six fraction digits. Values
// below one keep at least two. A nil amount renders as "0".
func FormatAmount(value *decimal.Decimal) string {
	if value == nil {
		return "0"
	}
	minFraction := 0
	if value.LessThan(decimal.NewFromInt(1)) {
		minFraction = 2
	}
	return formatDecimal(*value, minFraction, maxAmountFractionDigits)
}

// FormatFiat renders a fiat value with two decimals and the currency symbol,
// defaulting to USD.
func FormatFiat(value *decimal.Decimal, currency string) string {
	if value == nil {
		return "0"
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}

	formatted := formatDecimal(value.Abs(), 2, 2)
	sign := ""
	if value.IsNegative() && formatted != "0.00" {
		sign = "-"
	}
	if symbol, ok := currencySymbols[currency]; ok {
		return sign + symbol + formatted
	}
	return sign + currency + " " + formatted
}

func formatDecimal(value decimal.Decimal, minFraction, maxFraction int) string {
	fixed := value.Round(int32(maxFraction)).StringFixed(int32(maxFraction))

	negative := strings.HasPrefix(fixed, "-")
	fixed = strings.TrimPrefix(fixed, "-")

	integer, fraction, _ := strings.Cut(fixed, ".")
	for len(fraction) > minFraction && strings.HasSuffix(fraction, "0") {
		fraction = fraction[:len(fraction)-1]
	}

	var b strings.Builder
	if negative && (strings.Trim(integer, "0") != "" || strings.Trim(fraction, "0") != "") {
		b.WriteByte('-')
	}
	b.WriteString(groupThousands(integer))
	if fraction != "" {
		b.WriteByte('.')
		b.WriteString(fraction)
	}
	return b.String()
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// maxAmountLength bounds plain decimal input well inside float64 range.
const maxAmountLength = 40

// ParseAmount parses user input as a decimal amount. It reports false unless
// the input is a plain finite number strictly greater than zero. Exponent
// notation is rejected.
func ParseAmount(input string) (decimal.Decimal, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" || len(trimmed) > maxAmountLength || strings.ContainsAny(trimmed, "eE") {
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(trimmed)
	if err != nil || !amount.IsPositive() {
		return decimal.Zero, false
	}
	return amount, true
}

// ShortenAddress abbreviates long addresses for narrow displays.
func ShortenAddress(address string) string {
	if len(address) <= 14 {
		return address
	}
	return address[:8] + "…" + address[len(address)-6:]
}
