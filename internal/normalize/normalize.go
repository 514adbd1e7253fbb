// Package normalize coerces raw tabular field values into the text forms
// the report schema declares (xs:string, xs:decimal, xs:integer). The store
// must never receive a syntactically invalid numeric, even from dirty
// input, because downstream consumers join rows by position and a dropped
// row would shift every join after it.
package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	// <number>-<digits> at end of string: scientific notation with a
	// missing exponent marker, e.g. "2.33-7" meaning 2.33e-7.
	brokenSciRe    = regexp.MustCompile(`^([+-]?\d+\.?\d*)-(\d+)$`)
	leadingDigitRe = regexp.MustCompile(`^-?\d`)
)

// Text trims the raw value and falls back to def when nothing remains.
func Text(raw, def string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def
	}
	return s
}

// Decimal converts raw into a plain decimal string (never scientific
// notation). It repairs the malformed scientific form "2.33-7" to
// "2.33e-7" before parsing, and on an outright parse failure strips all
// characters except digits, sign, dot and exponent markers and retries
// once. Returns def when no usable number can be recovered.
func Decimal(raw, def string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def
	}

	if m := brokenSciRe.FindStringSubmatch(s); m != nil {
		s = m[1] + "e-" + m[2]
	}

	if v, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(v, 0) && !math.IsNaN(v) {
		return formatDecimal(v, def)
	}

	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || strings.ContainsRune(".-+eE", r) {
			return r
		}
		return -1
	}, s)
	if !strings.ContainsAny(cleaned, "0123456789") {
		return def
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return def
	}
	return formatDecimal(v, def)
}

// formatDecimal renders v in plain decimal notation, trimming trailing
// zeros and a trailing decimal point. Magnitudes below 1e-6 or at or above
// 1e15 get 20 fractional digits so they are not truncated to zero.
func formatDecimal(v float64, def string) string {
	if v == 0 {
		return "0"
	}

	prec := 15
	if abs := math.Abs(v); abs < 1e-6 || abs >= 1e15 {
		prec = 20
	}
	s := strconv.FormatFloat(v, 'f', prec, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")

	if s == "" || s == "-" {
		return def
	}
	if !leadingDigitRe.MatchString(s) {
		return def
	}
	return s
}

// Integer keeps an optional leading minus sign and the digits that follow.
// A minus sign anywhere else ends the scan. Returns def when no digit
// survives.
func Integer(raw, def string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def
	}

	var b strings.Builder
scan:
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' && i == 0:
			b.WriteRune(r)
		case r == '-':
			break scan
		}
	}
	cleaned := b.String()
	if cleaned == "" || cleaned == "-" {
		return def
	}
	return cleaned
}
