package caffeine

import "testing"

func TestEstimate(t *testing.T) {
	tests := []struct {
		grams, per100, want float64
	}{
		{100, 1200, 1200},
		{18, 1200, 216},
		{0, 1200, 0},
		{-3.5, 1200, 0},
		{18, 0, 0},
	}
	for _, tt := range tests {
		if got := Estimate(tt.grams, tt.per100); got != tt.want {
			t.Fatalf("Estimate(%v, %v) = %v; want %v", tt.grams, tt.per100, got, tt.want)
		}
	}
}
