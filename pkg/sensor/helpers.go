package sensor

// average returns the mean of counts as a float so averaged readings keep
// their fractional part.
func average(counts []int32) float64 {
	if len(counts) == 0 {
		return 0
	}
	var sum int64
	for _, c := range counts {
		sum += int64(c)
	}
	return float64(sum) / float64(len(counts))
}
