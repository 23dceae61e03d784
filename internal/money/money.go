// Package money keeps every monetary value as whole int64 cents. Decimal
// input crosses into cents exactly once, at the boundary, so no epsilon
// comparison exists anywhere in the ledger.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrPrecision marks an amount that is not representable in whole cents.
var ErrPrecision = errors.New("amount not representable in whole cents")

var hundred = decimal.NewFromInt(100)

// ParseAmount converts a decimal string like "12.50" into cents. Anything
// with more than two decimal places is rejected, not rounded: a sub-cent
// remainder at the boundary is a caller bug, never data.
func ParseAmount(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrPrecision)
	}

	dec, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrPrecision, raw)
	}

	cents := dec.Mul(hundred)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("%w: %q", ErrPrecision, raw)
	}
	return cents.IntPart(), nil
}

// FormatCents renders cents as a plain 2-decimal string ("-2.50").
func FormatCents(cents int64) string {
	return decimal.NewFromInt(cents).Div(hundred).StringFixed(2)
}

// PercentOf returns percent% of amount, rounded half away from zero to the
// nearest cent. The multiplication runs in decimal space so values like
// 10% of 1005 cents never pick up binary-float noise.
func PercentOf(amountCents int64, percent float64) int64 {
	if amountCents == 0 || percent == 0 {
		return 0
	}
	return decimal.NewFromInt(amountCents).
		Mul(decimal.NewFromFloat(percent)).
		Div(hundred).
		Round(0).
		IntPart()
}

// Min returns the smaller of two cent amounts.
func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Abs returns the magnitude of a cent amount.
func Abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
