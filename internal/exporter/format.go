package exporter

import (
	"math"
	"strconv"
	"strings"
)

// FormatFloat formats a float64 for CSV output with the shortest digits
// that read back to the same value. Values in [1e-4, 1e16) use positional
// notation and keep a ".0" when integral; others use exponent notation.
// NaN is an empty cell, infinities are "inf" and "-inf".
func FormatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return ""
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}

	abs := math.Abs(f)
	if abs == 0 || (abs >= 1e-4 && abs < 1e16) {
		s := strconv.FormatFloat(f, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}
	return strconv.FormatFloat(f, 'e', -1, 64)
}

// FormatInt formats an int64 value for CSV output
func FormatInt(i int64) string {
	return strconv.FormatInt(i, 10)
}
