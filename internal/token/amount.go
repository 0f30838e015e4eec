package token

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// ParseAmount converts a user-entered decimal string into base units of a
// token with the given decimal count. Malformed input never produces an
// error: inputs that fail exact fixed-point parsing are re-parsed as a
// float rounded to 8 fractional digits, and anything unsalvageable maps
// to zero. The result is never negative.
func ParseAmount(s string, decimals int) *big.Int {
	s = strings.TrimSpace(s)
	if v, err := parseFixed(s, decimals); err == nil {
		return v
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return new(big.Int)
	}
	v, err := parseFixed(strconv.FormatFloat(f, 'f', 8, 64), decimals)
	if err != nil {
		return new(big.Int)
	}
	return v
}

// parseFixed is a strict decimal-string parser: digits, at most one dot,
// and no more fractional digits than the token carries.
func parseFixed(s string, decimals int) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("token: empty amount")
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	frac = strings.TrimRight(frac, "0")
	if len(frac) > decimals {
		return nil, fmt.Errorf("token: too many decimal places")
	}
	if !isDigits(whole) || (frac != "" && !isDigits(frac)) {
		return nil, fmt.Errorf("token: not a decimal number")
	}
	v, ok := new(big.Int).SetString(whole+frac+strings.Repeat("0", decimals-len(frac)), 10)
	if !ok {
		return nil, fmt.Errorf("token: not a decimal number")
	}
	return v, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// FormatAmount renders base units as a decimal string, trimming trailing
// fractional zeros.
func FormatAmount(v *big.Int, decimals int) string {
	if v == nil || v.Sign() == 0 {
		return "0"
	}
	s := new(big.Int).Abs(v).String()
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	whole, frac := s[:len(s)-decimals], strings.TrimRight(s[len(s)-decimals:], "0")
	out := whole
	if frac != "" {
		out += "." + frac
	}
	if v.Sign() < 0 {
		out = "-" + out
	}
	return out
}

// ToFloat converts base units to a float value in whole tokens. Intended
// for display and price math only, never for balance comparisons.
func ToFloat(v *big.Int, decimals int) float64 {
	f, _ := strconv.ParseFloat(FormatAmount(v, decimals), 64)
	return f
}

// WholeTokens scales a whole-token count into base units.
func WholeTokens(n uint64, decimals int) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return scale.Mul(scale, new(big.Int).SetUint64(n))
}
