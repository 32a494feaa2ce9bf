package cart

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/JoJoGatito/koji-gallery/internal/domain"
)

var symbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
	"CAD": "CA$",
	"AUD": "A$",
}

// FormatMinor renders an amount given in the smallest unit of code, e.g.
// FormatMinor(4500, "USD") == "$45.00" and FormatMinor(4500, "JPY") == "¥4,500".
// Unknown codes fall back to USD. The sign goes before the symbol.
func FormatMinor(amount int64, code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	unit, err := currency.ParseISO(code)
	if err != nil {
		unit = currency.USD
		code = domain.DefaultCurrency
	}

	scale, _ := currency.Standard.Rounding(unit)
	major := decimal.New(amount, -int32(scale))

	sign := ""
	if major.IsNegative() {
		sign = "-"
	}
	fixed := major.Abs().StringFixed(int32(scale))
	intPart, frac, _ := strings.Cut(fixed, ".")
	digits := group(intPart)
	if frac != "" {
		digits += "." + frac
	}

	if sym, ok := symbols[code]; ok {
		return sign + sym + digits
	}
	return sign + code + " " + digits
}

// group inserts thousands separators into a run of digits.
func group(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
