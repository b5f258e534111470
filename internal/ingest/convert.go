package ingest

// convert.go turns spreadsheet cell text into typed values. Cells exported
// by hand tend to carry currency symbols, thousands separators, accounting
// parentheses and Excel formula prefixes.

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/JonMunkholm/billing/internal/billing"
)

var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

var errNegativeAmount = errors.New("amount is negative")

// ParseAmount parses a monetary cell rounded to cents, the precision amounts
// are stored with. An empty cell yields zero and present=false. Negative
// values are rejected since billed and paid amounts are never below zero.
func ParseAmount(s string) (amount decimal.Decimal, present bool, err error) {
	s = CleanCell(s)
	if s == "" {
		return decimal.Zero, false, nil
	}

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.NewReplacer(
		"$", "",
		"\u20ac", "",
		"\u00a3", "",
		"COP", "",
		",", "",
		" ", "",
		"\u00a0", "",
	).Replace(s)

	if !numericRegex.MatchString(s) {
		return decimal.Zero, true, fmt.Errorf("%w: %q is not a number", ErrMalformedRow, s)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, true, fmt.Errorf("%w: %v", ErrMalformedRow, err)
	}
	if neg {
		d = d.Neg()
	}
	if d.IsNegative() {
		return decimal.Zero, true, fmt.Errorf("%w: %w", ErrMalformedRow, errNegativeAmount)
	}
	return d.Round(2), true, nil
}

var periodLayouts = []string{"2006-01", "2006-1", "2006/01", "2006-01-02", "200601"}

// ParsePeriod parses a YYYY-MM billing period and returns the first day of
// that month in UTC.
func ParsePeriod(s string) (time.Time, error) {
	s = CleanCell(s)
	for _, layout := range periodLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return billing.FirstOfMonth(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: billing period %q is not YYYY-MM", ErrMalformedRow, s)
}

// CleanCell trims whitespace, an Excel ="..." wrapper and surrounding quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}
	return strings.TrimSpace(strings.Trim(s, `"'`))
}

// headerKey folds a header cell so "Número de Identificación" and
// "numero de identificacion" address the same column.
func headerKey(s string) string {
	s = CleanCell(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
