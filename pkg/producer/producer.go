// Package producer runs the reader side: sample the sensor and hand each raw
// reading to a sink (the shared memory segment or stdout).
package producer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/ericogr/hx711-scale/pkg/sensor"
)

// Sink receives raw readings. *shm.Writer implements it.
type Sink interface {
	Write(raw float64)
}

// LineSink prints one decimal reading per line, the contract of the legacy
// reader executable.
type LineSink struct {
	W io.Writer
}

func (l LineSink) Write(raw float64) {
	fmt.Fprintln(l.W, strconv.FormatFloat(raw, 'f', -1, 64))
}

type Options struct {
	Interval time.Duration
	// Count stops after this many published readings; 0 runs until ctx ends.
	Count  int
	Logger *slog.Logger
}

// Run publishes readings until ctx is done or Count is reached. Failed reads
// are logged and skipped. It returns the number of published readings.
func Run(ctx context.Context, src sensor.Sensor, sink Sink, opts Options) (int, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	published := 0
	for {
		if err := ctx.Err(); err != nil {
			return published, nil
		}
		r, err := src.Read()
		switch {
		case errors.Is(err, sensor.ErrNoData):
		case err != nil:
			log.Warn("sensor read failed", "err", err)
		default:
			sink.Write(r.Raw)
			published++
			log.Debug("published reading", "raw", r.Raw)
			if opts.Count > 0 && published >= opts.Count {
				return published, nil
			}
		}
		if opts.Interval > 0 {
			select {
			case <-ctx.Done():
				return published, nil
			case <-time.After(opts.Interval):
			}
		}
	}
}
