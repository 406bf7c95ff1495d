package producer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ericogr/hx711-scale/pkg/sensor"
)

type seqSensor struct {
	vals []float64
	errs map[int]error
	i    int
}

func (s *seqSensor) Read() (sensor.Reading, error) {
	i := s.i
	s.i++
	if err, ok := s.errs[i]; ok {
		return sensor.Reading{}, err
	}
	return sensor.Reading{Raw: s.vals[i%len(s.vals)]}, nil
}

func (s *seqSensor) Close() error { return nil }

type recorder struct{ got []float64 }

func (r *recorder) Write(raw float64) { r.got = append(r.got, raw) }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRunCount(t *testing.T) {
	src := &seqSensor{vals: []float64{1, 2, 3}, errs: map[int]error{1: errors.New("boom")}}
	rec := &recorder{}
	n, err := Run(context.Background(), src, rec, Options{Count: 3, Logger: quiet()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 3 {
		t.Fatalf("published %d; want 3", n)
	}
	want := []float64{1, 3, 1}
	for i, v := range want {
		if rec.got[i] != v {
			t.Fatalf("published %v; want %v", rec.got, want)
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	rec := &recorder{}
	n, err := Run(ctx, &seqSensor{vals: []float64{5}}, rec, Options{Interval: 5 * time.Millisecond, Logger: quiet()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n == 0 || n != len(rec.got) {
		t.Fatalf("published %d, recorded %d", n, len(rec.got))
	}
}

func TestLineSink(t *testing.T) {
	var buf bytes.Buffer
	s := LineSink{W: &buf}
	s.Write(8156931)
	s.Write(-12.25)
	if got := buf.String(); got != "8156931\n-12.25\n" {
		t.Fatalf("LineSink output %q", got)
	}
}
