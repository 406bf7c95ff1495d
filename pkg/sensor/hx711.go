package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/ericogr/hx711-scale/pkg/config"
	"github.com/ericogr/hx711-scale/pkg/hx711"
)

// counter is the part of hx711.Device the sensor needs.
type counter interface {
	Read(ctx context.Context) (int32, error)
}

type HX711Sensor struct {
	dev     counter
	samples int
	timeout time.Duration
}

func NewHX711Sensor(cfg config.Config) (Sensor, error) {
	gain, err := hx711.ParseGain(cfg.GPIO.Gain)
	if err != nil {
		return nil, err
	}
	dev, err := hx711.Open(cfg.GPIO.DataPin, cfg.GPIO.ClockPin, gain)
	if err != nil {
		return nil, fmt.Errorf("open hx711: %w", err)
	}
	return newHX711Sensor(dev, cfg.Samples), nil
}

func newHX711Sensor(dev counter, samples int) *HX711Sensor {
	if samples < 1 {
		samples = 1
	}
	return &HX711Sensor{dev: dev, samples: samples, timeout: 2 * time.Second}
}

// Read averages the configured number of conversions.
func (s *HX711Sensor) Read() (Reading, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout*time.Duration(s.samples))
	defer cancel()
	counts := make([]int32, 0, s.samples)
	for i := 0; i < s.samples; i++ {
		c, err := s.dev.Read(ctx)
		if err != nil {
			return Reading{}, fmt.Errorf("read hx711: %w", err)
		}
		counts = append(counts, c)
	}
	return Reading{Raw: average(counts), Timestamp: time.Now()}, nil
}

func (s *HX711Sensor) Close() error {
	if pd, ok := s.dev.(interface{ PowerDown() error }); ok {
		return pd.PowerDown()
	}
	return nil
}
