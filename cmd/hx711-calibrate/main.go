// Command hx711-calibrate measures the zero point and span of the load cell
// and stores them in the calibration file.
//
//	hx711-calibrate [flags] zero
//	hx711-calibrate [flags] -weight 300 span
//	hx711-calibrate [flags] show
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/ericogr/hx711-scale/pkg/calibration"
	"github.com/ericogr/hx711-scale/pkg/config"
	"github.com/ericogr/hx711-scale/pkg/logging"
	"github.com/ericogr/hx711-scale/pkg/sensor"
	"golang.org/x/sys/unix"
)

const (
	cmdZero = "zero"
	cmdSpan = "span"
	cmdShow = "show"
)

type params struct {
	command  string
	samples  int
	interval time.Duration
	weight   float64
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	n := fs.Int("n", 10, "readings averaged per measurement")
	intervalMs := fs.Int("sample-interval-ms", 200, "delay between readings in ms")
	weight := fs.Float64("weight", 0, "known weight in grams on the platform (span)")
	cfg, err := config.Load(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] zero|span|show\n", os.Args[0])
		os.Exit(2)
	}
	log := logging.Init(cfg.LogLevel, cfg.LogFormat)
	p := params{command: fs.Arg(0), samples: *n, interval: time.Duration(*intervalMs) * time.Millisecond, weight: *weight}
	if err := p.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	var src sensor.Sensor
	if p.command != cmdShow {
		src, err = sensor.New(ctx, cfg)
		if err != nil {
			log.Error("open sensor", "err", err)
			os.Exit(1)
		}
		defer src.Close()
	}

	err = run(ctx, cfg.CalibrationFile, p, src, os.Stdout, log)
	if errors.Is(err, calibration.ErrZeroDifference) {
		fmt.Fprintln(os.Stderr, "no difference between the zero point and the loaded reading; is the weight on the platform?")
		os.Exit(1)
	}
	if err != nil {
		log.Error("calibration failed", "err", err)
		os.Exit(1)
	}
}

func (p params) validate() error {
	switch p.command {
	case cmdZero, cmdShow:
	case cmdSpan:
		if p.weight <= 0 {
			return errors.New("span requires -weight > 0")
		}
	default:
		return fmt.Errorf("unknown command %q, want zero|span|show", p.command)
	}
	if p.samples < 1 {
		return errors.New("-n must be >= 1")
	}
	return nil
}

func run(ctx context.Context, path string, p params, src sensor.Sensor, out io.Writer, log *slog.Logger) error {
	cal, err := calibration.Load(path)
	if err != nil {
		return err
	}
	if p.command == cmdShow {
		show(out, cal)
		return nil
	}

	readings, err := calibration.Collect(ctx, src, p.samples, p.interval, func(i, n int, raw float64, err error) {
		if err != nil {
			log.Debug("reading failed", "i", i+1, "n", n, "err", err)
			return
		}
		log.Debug("reading", "i", i+1, "n", n, "raw", raw)
	})
	if err != nil {
		return err
	}
	st := calibration.Stats(readings)
	fmt.Fprintf(out, "readings=%d mean=%.2f stddev=%.2f\n", st.N, st.Mean, st.StdDev)

	switch p.command {
	case cmdZero:
		offset, err := cal.Zero(readings)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "offset=%.2f\n", offset)
	case cmdSpan:
		factor, err := cal.Span(p.weight, readings)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "factor=%.10f check=%.2fg\n", factor, cal.Weight(st.Mean))
	}
	if err := cal.Save(path); err != nil {
		return err
	}
	log.Info("calibration saved", "file", path, "offset", cal.InitialOffset, "factor", cal.Factor)
	return nil
}

func show(out io.Writer, cal *calibration.File) {
	fmt.Fprintf(out, "offset=%.2f factor=%.10f last=%q\n", cal.InitialOffset, cal.Factor, cal.LastCalibration)
	for _, r := range cal.CalibrationWeights {
		fmt.Fprintf(out, "  %s weight=%.2fg raw=%.2f factor=%.10f\n", r.Date, r.Weight, r.RawValue, r.Factor)
	}
}
