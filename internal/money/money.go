// Package money parses monetary amounts into fixed-point decimals.
package money

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Places is the number of fractional digits kept for every amount.
const Places = 2

// MaxAmount is the largest amount a NUMERIC(12,2) column holds.
var MaxAmount = decimal.RequireFromString("9999999999.99")

var ErrInvalidAmount = errors.New("invalid amount")

// groupedNumber matches thousands grouped with commas: 1,200 or 12,345,678.90.
var groupedNumber = regexp.MustCompile(`^[0-9]{1,3}(,[0-9]{3})+(\.[0-9]+)?$`)

// ParseAmount converts a decimal string to an amount rounded half-up to two places.
// Both dot (12.34) and comma (12,34) separators are accepted; a comma followed by
// groups of exactly three digits is a thousands separator (1,200 is 1200).
// Negative values, signs, exponents and anything that is not a plain number are rejected.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if groupedNumber.MatchString(s) {
		s = strings.ReplaceAll(s, ",", "")
	}
	if !isUnsignedNumber(s) {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", "."))
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return Round(d), nil
}

// Round normalizes d to the amount precision.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Format renders an amount with exactly two decimals.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}

// FirstAmount returns the first whitespace-delimited token of text that reads
// as an unsigned number, ignoring a leading currency sign and trailing punctuation.
func FirstAmount(text string) (decimal.Decimal, bool) {
	for _, word := range strings.Fields(text) {
		token := strings.TrimLeft(word, "$€£")
		token = strings.TrimRight(token, ".,;:!?)")
		if token == "" {
			continue
		}
		if amount, err := ParseAmount(token); err == nil {
			return amount, true
		}
	}
	return decimal.Zero, false
}

// isUnsignedNumber accepts digits with at most one decimal separator.
func isUnsignedNumber(s string) bool {
	if s == "" {
		return false
	}
	digits, separators := 0, 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r) && r < unicode.MaxASCII:
			digits++
		case r == '.' || r == ',':
			separators++
		default:
			return false
		}
	}
	return digits > 0 && separators <= 1
}
