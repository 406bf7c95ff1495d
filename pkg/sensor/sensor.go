package sensor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ericogr/hx711-scale/pkg/config"
	"github.com/ericogr/hx711-scale/pkg/shm"
)

// ErrNoData means the source has nothing new since the last Read.
var ErrNoData = errors.New("sensor: no new data")

// Reading is one sample. Sources fill Raw and Timestamp; the scale fills the
// calibrated fields.
type Reading struct {
	Raw        float64   `json:"raw"`
	Value      float64   `json:"weight"`
	Absolute   float64   `json:"absolute"`
	CaffeineMg float64   `json:"caffeine_mg,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type Sensor interface {
	Read() (Reading, error)
	Close() error
}

// New builds the sensor selected by cfg.SensorType.
func New(ctx context.Context, cfg config.Config) (Sensor, error) {
	switch cfg.SensorType {
	case config.SensorReal:
		return NewHX711Sensor(cfg)
	case config.SensorExec:
		return NewExecSensor(cfg.Reader.Path, cfg.Reader.Args...), nil
	case config.SensorShm:
		return NewSharedMemorySensor(ctx, shm.Options{
			Name:  cfg.SharedMemory.Name,
			Dir:   cfg.SharedMemory.Dir,
			Retry: time.Duration(cfg.SharedMemory.OpenTimeoutMs) * time.Millisecond,
		})
	case config.SensorSimulation:
		return NewFakeSensor(cfg)
	default:
		return nil, fmt.Errorf("unknown sensor type %q", cfg.SensorType)
	}
}
