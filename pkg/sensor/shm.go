package sensor

import (
	"context"
	"time"

	"github.com/ericogr/hx711-scale/pkg/shm"
)

// SharedMemorySensor consumes samples published by the reader process.
type SharedMemorySensor struct {
	r *shm.Reader
}

func NewSharedMemorySensor(ctx context.Context, opts shm.Options) (*SharedMemorySensor, error) {
	r, err := shm.OpenReader(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &SharedMemorySensor{r: r}, nil
}

// Read returns ErrNoData when the producer has not written since the last Read.
func (s *SharedMemorySensor) Read() (Reading, error) {
	v, ok := s.r.Poll()
	if !ok {
		return Reading{}, ErrNoData
	}
	return Reading{Raw: v, Timestamp: time.Now()}, nil
}

func (s *SharedMemorySensor) Close() error { return s.r.Close() }
