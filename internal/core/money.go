// Package core holds the ledger data model, money helpers and the error taxonomy
// shared by every other package.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places kept for converted amounts.
const MoneyPlaces = 2

// ParseAmount converts user input into a positive decimal amount.
//
// Both dot (12.34) and comma (12,34) decimal separators are accepted. Signs,
// exponents, thousand separators and zero are rejected. The native amount keeps
// the precision it was entered with; only converted amounts are rounded.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34, nil
//	ParseAmount("12,34")  -> 12.34, nil
//	ParseAmount("0")      -> error
//	ParseAmount("-1")     -> error
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return decimal.Zero, ErrInvalidAmount
		}
	}
	if s == "." {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// RoundMoney rounds half-up to MoneyPlaces. Amounts in the ledger are positive,
// so decimal's half-away-from-zero rounding is half-up here.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// FormatMoney renders an amount with exactly two decimals, for display.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(MoneyPlaces)
}

// FormatExact renders at least two decimals but never drops digits, so a
// sub-cent amount does not show as zero.
func FormatExact(d decimal.Decimal) string {
	if d.Equal(d.Round(MoneyPlaces)) {
		return FormatMoney(d)
	}
	return d.String()
}
