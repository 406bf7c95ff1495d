// Package scale turns a stream of raw readings into relative weights.
//
// A Scale polls its sensor from one background goroutine. The first sample
// after Start or Tare becomes the reference; every later sample is reported
// relative to it. Consumers either poll Weight, block on Next, or register a
// callback with OnSample.
package scale

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ericogr/hx711-scale/pkg/caffeine"
	"github.com/ericogr/hx711-scale/pkg/mailbox"
	"github.com/ericogr/hx711-scale/pkg/sensor"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultStopTimeout  = 2 * time.Second
)

// ErrStopTimeout is returned by Stop when the poll goroutine is still inside a
// sensor read after the stop timeout.
var ErrStopTimeout = errors.New("scale: poll loop did not stop in time")

// ErrStillStopping is returned by Start while the loop abandoned by a timed
// out Stop is still inside a sensor read.
var ErrStillStopping = errors.New("scale: previous poll loop still running")

// Calibrator converts a raw reading to grams. *calibration.File implements it.
type Calibrator interface {
	Weight(raw float64) float64
}

// CalibratorFunc adapts a function to Calibrator.
type CalibratorFunc func(raw float64) float64

func (f CalibratorFunc) Weight(raw float64) float64 { return f(raw) }

type Options struct {
	PollInterval      time.Duration
	StopTimeout       time.Duration
	CaffeineMgPer100g float64
	Logger            *slog.Logger
}

type Scale struct {
	src  sensor.Sensor
	opts Options
	log  *slog.Logger
	box  *mailbox.Mailbox[sensor.Reading]

	mu        sync.Mutex
	cal       Calibrator
	hasRef    bool
	reference float64
	last      sensor.Reading
	hasLast   bool
	callbacks []func(sensor.Reading)

	running atomic.Bool
	life    sync.Mutex // guards stop and done
	stop    chan struct{}
	done    chan struct{}

	samples atomic.Uint64
	errs    atomic.Uint64
}

func New(src sensor.Sensor, cal Calibrator, opts Options) *Scale {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Scale{
		src:  src,
		opts: opts,
		log:  log,
		box:  mailbox.New[sensor.Reading](),
		cal:  cal,
	}
}

// Start launches the poll loop. Calling Start on a running scale is a no-op.
// After a Stop that timed out, Start fails with ErrStillStopping until the old
// loop has returned.
func (s *Scale) Start() error {
	s.life.Lock()
	defer s.life.Unlock()
	if s.running.Load() {
		return nil
	}
	if s.done != nil {
		select {
		case <-s.done:
		default:
			return ErrStillStopping
		}
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running.Store(true)
	go s.loop(s.stop, s.done)
	return nil
}

// Stop asks the poll loop to exit and waits up to the stop timeout. A read in
// flight is not interrupted.
func (s *Scale) Stop() error {
	s.life.Lock()
	if !s.running.CompareAndSwap(true, false) {
		s.life.Unlock()
		return nil
	}
	close(s.stop)
	done := s.done
	s.life.Unlock()
	select {
	case <-done:
		return nil
	case <-time.After(s.opts.StopTimeout):
		return fmt.Errorf("%w (%s)", ErrStopTimeout, s.opts.StopTimeout)
	}
}

// Close stops the loop and wakes every Next caller.
func (s *Scale) Close() error {
	err := s.Stop()
	s.box.Close()
	return err
}

// Running reports whether the poll loop is active.
func (s *Scale) Running() bool { return s.running.Load() }

func (s *Scale) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		if !s.running.Load() {
			return
		}
		s.pollOnce()
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func (s *Scale) pollOnce() {
	r, err := s.src.Read()
	if errors.Is(err, sensor.ErrNoData) {
		return
	}
	if err != nil {
		s.errs.Add(1)
		s.log.Warn("sensor read failed", "err", err)
		return
	}
	s.Process(r)
}

// Process applies calibration and tare to a raw reading and delivers it.
// The poll loop calls it for every sample; tests and replays may call it
// directly.
func (s *Scale) Process(r sensor.Reading) sensor.Reading {
	s.mu.Lock()
	abs := s.cal.Weight(r.Raw)
	if !s.hasRef {
		s.reference = abs
		s.hasRef = true
	}
	r.Absolute = abs
	r.Value = abs - s.reference
	r.CaffeineMg = caffeine.Estimate(r.Value, s.opts.CaffeineMgPer100g)
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	s.last = r
	s.hasLast = true
	cbs := slices.Clone(s.callbacks)
	s.mu.Unlock()

	s.samples.Add(1)
	s.box.Publish(r)
	for _, cb := range cbs {
		cb(r)
	}
	return r
}

// Weight returns the latest weight relative to the reference, 0 before the
// first sample.
func (s *Scale) Weight() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last.Value
}

// Absolute returns the latest calibrated weight without tare.
func (s *Scale) Absolute() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last.Absolute
}

// Last returns the most recent processed reading.
func (s *Scale) Last() (sensor.Reading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

// Tare makes the next sample the new zero reference.
func (s *Scale) Tare() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasRef = false
}

// SetCalibration swaps the calibrator. The reference is reset because it was
// expressed in the old calibration's grams.
func (s *Scale) SetCalibration(cal Calibrator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cal = cal
	s.hasRef = false
}

// OnSample registers cb to run on the poll goroutine for every sample.
func (s *Scale) OnSample(cb func(sensor.Reading)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// Next blocks until a sample newer than the last one returned by Next.
// Samples arriving faster than the caller drains them are overwritten.
func (s *Scale) Next(ctx context.Context) (sensor.Reading, error) {
	return s.box.Receive(ctx)
}

// Stats reports processed samples, failed reads and samples overwritten
// before Next picked them up.
type Stats struct {
	Samples uint64
	Errors  uint64
	Drops   uint64
}

func (s *Scale) Stats() Stats {
	_, drops := s.box.Stats()
	return Stats{Samples: s.samples.Load(), Errors: s.errs.Load(), Drops: drops}
}
