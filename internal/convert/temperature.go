// Package convert holds the temperature arithmetic spoken by the skill.
package convert

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

var ErrInvalidDegrees = errors.New("invalid degrees value")

func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

func FahrenheitToCelsius(f float64) float64 {
	return (f - 32) * 5 / 9
}

// FormatDegrees renders a converted value with exactly two decimals. The
// rounding works on the exact binary value and breaks ties away from zero, so
// 33.125 reads as 33.13 while 1.005 (stored just below) reads as 1.00.
func FormatDegrees(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', 2, 64)
	}
	exact := new(big.Rat).SetFloat64(math.Abs(v))
	scaled := new(big.Int).Mul(exact.Num(), big.NewInt(100))
	cents, rem := new(big.Int).QuoRem(scaled, exact.Denom(), new(big.Int))
	if rem.Lsh(rem, 1).Cmp(exact.Denom()) >= 0 {
		cents.Add(cents, big.NewInt(1))
	}

	digits := cents.String()
	if len(digits) < 3 {
		digits = strings.Repeat("0", 3-len(digits)) + digits
	}
	out := digits[:len(digits)-2] + "." + digits[len(digits)-2:]
	if v < 0 && cents.Sign() != 0 {
		return "-" + out
	}
	return out
}

// ParseDegrees reads a spoken number slot. A decimal comma is accepted.
func ParseDegrees(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidDegrees)
	}
	s = strings.Replace(s, ",", ".", 1)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDegrees, raw)
	}
	return v, nil
}
