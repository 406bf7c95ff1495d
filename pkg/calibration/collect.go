package calibration

import (
	"context"
	"time"

	"github.com/ericogr/hx711-scale/pkg/sensor"
)

// Progress reports each attempt of Collect. err is set when the attempt failed.
type Progress func(i, n int, raw float64, err error)

// Collect takes n readings from src, interval apart, skipping failed ones.
// It returns ErrNoReadings when every attempt failed.
func Collect(ctx context.Context, src sensor.Sensor, n int, interval time.Duration, progress Progress) ([]float64, error) {
	readings := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
				return readings, ctx.Err()
			case <-time.After(interval):
			}
		}
		r, err := src.Read()
		if progress != nil {
			progress(i, n, r.Raw, err)
		}
		if err != nil {
			continue
		}
		readings = append(readings, r.Raw)
	}
	if len(readings) == 0 {
		return nil, ErrNoReadings
	}
	return readings, nil
}
