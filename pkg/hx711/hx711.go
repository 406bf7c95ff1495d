// Package hx711 drives the HX711 24-bit load-cell ADC over two GPIO lines.
package hx711

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

const (
	// MinCount and MaxCount bound a decoded 24-bit reading.
	MinCount = -(1 << 23)
	MaxCount = 1<<23 - 1

	dataBits = 24
	signBit  = 1 << 23
	mask24   = 1<<24 - 1
)

// ErrNotReady is returned when DOUT does not go low within the ready timeout.
var ErrNotReady = errors.New("hx711: not ready")

// Gain selects the input channel and amplifier gain of the next conversion.
// The value is the total number of clock pulses sent per reading.
type Gain int

const (
	GainA128 Gain = 25
	GainB32  Gain = 26
	GainA64  Gain = 27
)

// ParseGain accepts 128, 64 or 32 (channel A for 128/64, channel B for 32).
func ParseGain(v int) (Gain, error) {
	switch v {
	case 128:
		return GainA128, nil
	case 64:
		return GainA64, nil
	case 32:
		return GainB32, nil
	default:
		return 0, fmt.Errorf("hx711: unsupported gain %d", v)
	}
}

// Decode24 converts the low 24 bits of raw from two's complement to a signed value.
func Decode24(raw uint32) int32 {
	raw &= mask24
	if raw&signBit != 0 {
		return int32(raw) - (1 << 24)
	}
	return int32(raw)
}

// DataLine is the DOUT side of the interface. gpio.PinIn satisfies it.
type DataLine interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
}

// ClockLine is the PD_SCK side of the interface. gpio.PinOut satisfies it.
type ClockLine interface {
	Out(l gpio.Level) error
}

// Device bit-bangs the HX711 serial protocol over two GPIO lines.
type Device struct {
	data  DataLine
	clock ClockLine
	gain  Gain

	// ReadyPoll is the interval between DOUT checks while waiting for a conversion.
	ReadyPoll time.Duration
	// ReadyTimeout bounds the wait for a conversion; zero waits until ctx is done.
	ReadyTimeout time.Duration

	mu sync.Mutex
}

// New wires a device to already configured lines.
func New(data DataLine, clock ClockLine, gain Gain) (*Device, error) {
	if gain != GainA128 && gain != GainB32 && gain != GainA64 {
		return nil, fmt.Errorf("hx711: invalid gain pulses %d", gain)
	}
	if err := data.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("configure data line: %w", err)
	}
	if err := clock.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("configure clock line: %w", err)
	}
	return &Device{
		data:         data,
		clock:        clock,
		gain:         gain,
		ReadyPoll:    time.Millisecond,
		ReadyTimeout: time.Second,
	}, nil
}

// Open initialises the host drivers and looks the pins up by name (e.g. "GPIO5").
func Open(dataPin, clockPin string, gain Gain) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	data := gpioreg.ByName(dataPin)
	if data == nil {
		return nil, fmt.Errorf("unknown data pin %q", dataPin)
	}
	clock := gpioreg.ByName(clockPin)
	if clock == nil {
		return nil, fmt.Errorf("unknown clock pin %q", clockPin)
	}
	return New(data, clock, gain)
}

// Gain returns the configured gain.
func (d *Device) Gain() Gain { return d.gain }

// Read waits for a conversion and returns the signed 24-bit count.
func (d *Device) Read(ctx context.Context) (int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.waitReady(ctx); err != nil {
		return 0, err
	}

	// PD_SCK held high for more than 60µs powers the chip down, keep the
	// goroutine on one thread while clocking.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var raw uint32
	for i := 0; i < dataBits; i++ {
		if err := d.pulse(); err != nil {
			return 0, err
		}
		raw <<= 1
		if d.data.Read() == gpio.High {
			raw |= 1
		}
	}
	for i := dataBits; i < int(d.gain); i++ {
		if err := d.pulse(); err != nil {
			return 0, err
		}
	}
	return Decode24(raw), nil
}

// PowerDown puts the chip into power-down mode. The next Read wakes it.
func (d *Device) PowerDown() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.clock.Out(gpio.Low); err != nil {
		return err
	}
	if err := d.clock.Out(gpio.High); err != nil {
		return err
	}
	time.Sleep(100 * time.Microsecond)
	return nil
}

// PowerUp releases power-down mode.
func (d *Device) PowerUp() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clock.Out(gpio.Low)
}

func (d *Device) waitReady(ctx context.Context) error {
	if err := d.clock.Out(gpio.Low); err != nil {
		return fmt.Errorf("clock low: %w", err)
	}
	var deadline time.Time
	if d.ReadyTimeout > 0 {
		deadline = time.Now().Add(d.ReadyTimeout)
	}
	poll := d.ReadyPoll
	if poll <= 0 {
		poll = time.Millisecond
	}
	for d.data.Read() == gpio.High {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return ErrNotReady
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
	return nil
}

func (d *Device) pulse() error {
	if err := d.clock.Out(gpio.High); err != nil {
		return fmt.Errorf("clock high: %w", err)
	}
	if err := d.clock.Out(gpio.Low); err != nil {
		return fmt.Errorf("clock low: %w", err)
	}
	return nil
}
