// Package caffeine estimates the caffeine in a dose of coffee grounds.
package caffeine

// Estimate returns milligrams of caffeine for grams of grounds given the
// caffeine content per 100 g. Negative weights (sensor noise) count as zero.
func Estimate(grams, mgPer100g float64) float64 {
	if grams <= 0 || mgPer100g <= 0 {
		return 0
	}
	return grams * mgPer100g / 100
}
