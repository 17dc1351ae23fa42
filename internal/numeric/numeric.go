// Package numeric provides helpers for exact decimal conversions used across services.
package numeric

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Format renders d with a fixed number of fractional digits, truncated toward zero.
func Format(d decimal.Decimal, scale int) string {
	return d.Truncate(int32(scale)).StringFixed(int32(scale))
}

// Parse converts a decimal string exactly. On failure, it returns (zero, false).
func Parse(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ScaleFromStep derives the effective fractional precision from a decimal "step" string.
func ScaleFromStep(step string) int {
	step = strings.TrimSpace(step)
	if step == "" {
		return 0
	}
	idx := strings.IndexByte(step, '.')
	if idx < 0 {
		return 0
	}
	frac := strings.TrimRight(step[idx+1:], "0")
	return len(frac)
}

// FloorToStep rounds v down to a multiple of step. A non-positive step returns v unchanged.
func FloorToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}
