package hx711

import (
	"context"
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
)

type fakeData struct {
	levels []gpio.Level
	pos    int
	stuck  bool
}

func (f *fakeData) In(gpio.Pull, gpio.Edge) error { return nil }

func (f *fakeData) Read() gpio.Level {
	if f.stuck {
		return gpio.High
	}
	if f.pos >= len(f.levels) {
		return gpio.Low
	}
	l := f.levels[f.pos]
	f.pos++
	return l
}

type fakeClock struct {
	rising int
	last   gpio.Level
}

func (c *fakeClock) Out(l gpio.Level) error {
	if l == gpio.High && c.last == gpio.Low {
		c.rising++
	}
	c.last = l
	return nil
}

// script returns the DOUT levels for a conversion: notReady high samples,
// the ready low sample, then the 24 data bits MSB first.
func script(notReady int, raw uint32) []gpio.Level {
	out := make([]gpio.Level, 0, notReady+1+dataBits)
	for i := 0; i < notReady; i++ {
		out = append(out, gpio.High)
	}
	out = append(out, gpio.Low)
	for i := dataBits - 1; i >= 0; i-- {
		out = append(out, gpio.Level(raw&(1<<uint(i)) != 0))
	}
	return out
}

func TestDecode24(t *testing.T) {
	tests := []struct {
		raw  uint32
		want int32
	}{
		{0x000000, 0},
		{0x000001, 1},
		{0x7FFFFF, MaxCount},
		{0x800000, MinCount},
		{0x800001, -8388607},
		{0xFFFFFF, -1},
		{0xFF000001, 1}, // bits above 24 are ignored
	}
	for _, tt := range tests {
		if got := Decode24(tt.raw); got != tt.want {
			t.Fatalf("Decode24(%#06x) = %d; want %d", tt.raw, got, tt.want)
		}
	}
}

func TestDecode24Ranges(t *testing.T) {
	for raw := uint32(0); raw <= mask24; raw += 4099 {
		v := Decode24(raw)
		if raw&signBit != 0 {
			if v < MinCount || v > -1 {
				t.Fatalf("Decode24(%#06x) = %d; want negative", raw, v)
			}
		} else if v < 0 || v > MaxCount {
			t.Fatalf("Decode24(%#06x) = %d; want non-negative", raw, v)
		}
	}
}

func TestParseGain(t *testing.T) {
	tests := []struct {
		in   int
		want Gain
		ok   bool
	}{
		{128, GainA128, true},
		{64, GainA64, true},
		{32, GainB32, true},
		{16, 0, false},
	}
	for _, tt := range tests {
		got, err := ParseGain(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("ParseGain(%d) ok=%v err=%v", tt.in, tt.ok, err)
		}
		if got != tt.want {
			t.Fatalf("ParseGain(%d) = %d; want %d", tt.in, got, tt.want)
		}
	}
}

func TestReadClocksBitsAndGain(t *testing.T) {
	tests := []struct {
		gain Gain
		raw  uint32
		want int32
	}{
		{GainA128, 0x800001, -8388607},
		{GainB32, 0x000001, 1},
		{GainA64, 0x0F4240, 1000000},
	}
	for _, tt := range tests {
		data := &fakeData{levels: script(3, tt.raw)}
		clock := &fakeClock{}
		d, err := New(data, clock, tt.gain)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		d.ReadyPoll = time.Microsecond
		got, err := d.Read(context.Background())
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if got != tt.want {
			t.Fatalf("Read gain=%d => %d; want %d", tt.gain, got, tt.want)
		}
		if clock.rising != int(tt.gain) {
			t.Fatalf("clock pulses: got %d want %d", clock.rising, tt.gain)
		}
		if clock.last != gpio.Low {
			t.Fatalf("clock left high after read")
		}
	}
}

func TestReadNotReady(t *testing.T) {
	d, err := New(&fakeData{stuck: true}, &fakeClock{}, GainA128)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.ReadyPoll = time.Millisecond
	d.ReadyTimeout = 5 * time.Millisecond
	if _, err := d.Read(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestReadHonoursContext(t *testing.T) {
	d, err := New(&fakeData{stuck: true}, &fakeClock{}, GainA128)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.ReadyTimeout = 0
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Read(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewRejectsBadGain(t *testing.T) {
	if _, err := New(&fakeData{}, &fakeClock{}, Gain(24)); err == nil {
		t.Fatalf("expected error for gain 24")
	}
}

func TestPowerDownLeavesClockHigh(t *testing.T) {
	clk := &fakeClock{}
	d, err := New(&fakeData{}, clk, GainA64)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.Gain() != GainA64 {
		t.Fatalf("Gain: got %d want %d", d.Gain(), GainA64)
	}
	if err := d.PowerDown(); err != nil {
		t.Fatalf("PowerDown: %v", err)
	}
	if clk.last != gpio.High {
		t.Fatalf("clock after PowerDown: got %v want high", clk.last)
	}
	if err := d.PowerUp(); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	if clk.last != gpio.Low {
		t.Fatalf("clock after PowerUp: got %v want low", clk.last)
	}
}
