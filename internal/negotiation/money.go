package negotiation

import (
	"fmt"
	"math"
)

// MinorUnitsPerMajor is the scale between user-facing decimal amounts and the
// integer minor units every internal computation runs on.
const MinorUnitsPerMajor = 100

// MinorFromDecimal converts a user-entered decimal amount to minor units,
// rounding to the nearest integer at the boundary. Floats never flow further
// than this conversion.
func MinorFromDecimal(value float64) int64 {
	return int64(math.Round(value * MinorUnitsPerMajor))
}

// FormatMinor renders minor units as a decimal string, e.g. 3000 -> "30.00".
func FormatMinor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/MinorUnitsPerMajor, minor%MinorUnitsPerMajor)
}
