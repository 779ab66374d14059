package shared

import (
	"math"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// Identifiers
// ═══════════════════════════════════════════════════════════════════════════

// NormalizeID trims surrounding whitespace from an external identifier.
func NormalizeID(id string) string {
	return strings.TrimSpace(id)
}

// ═══════════════════════════════════════════════════════════════════════════
// Percentages
// ═══════════════════════════════════════════════════════════════════════════

// Round rounds value half away from zero to the given number of decimal places.
func Round(value float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(value*p) / p
}

// Percent returns part/total*100 rounded to places decimals.
// A zero total yields 0.
func Percent(part, total int, places int) float64 {
	if total <= 0 {
		return 0
	}
	return Round(float64(part)/float64(total)*100, places)
}
