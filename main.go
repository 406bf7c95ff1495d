package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/ericogr/hx711-scale/pkg/calibration"
	"github.com/ericogr/hx711-scale/pkg/config"
	"github.com/ericogr/hx711-scale/pkg/logging"
	"github.com/ericogr/hx711-scale/pkg/mailbox"
	"github.com/ericogr/hx711-scale/pkg/output"
	"github.com/ericogr/hx711-scale/pkg/output/console"
	"github.com/ericogr/hx711-scale/pkg/output/csvlog"
	"github.com/ericogr/hx711-scale/pkg/output/mqtt"
	"github.com/ericogr/hx711-scale/pkg/output/ws"
	"github.com/ericogr/hx711-scale/pkg/process"
	"github.com/ericogr/hx711-scale/pkg/scale"
	"github.com/ericogr/hx711-scale/pkg/sensor"
	"golang.org/x/sys/unix"
)

const (
	// hx711ConversionMs is one conversion at the chip's 10 SPS rate.
	hx711ConversionMs = 100
	// spawnOpenTimeoutMs is the segment retry window used when the monitor
	// starts the reader itself and no window is configured.
	spawnOpenTimeoutMs = 5000
	readerStopGrace    = 3 * time.Second
)

type outputEntry struct {
	Type       string
	Output     output.Output
	IntervalMs int
	last       time.Time
}

// due reports whether the entry's interval has elapsed at now.
func (e *outputEntry) due(now time.Time) bool {
	if e.last.IsZero() || now.Sub(e.last) >= time.Duration(e.IntervalMs)*time.Millisecond {
		e.last = now
		return true
	}
	return false
}

func main() {
	cfg, err := config.LoadFromFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}
	log := logging.Init(cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, log); err != nil {
		log.Error("weight monitor failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	readerErr := make(chan error, 1)
	if cfg.Reader.Spawn {
		proc, err := process.Start(ctx, log, cfg.Reader.Path, cfg.Reader.Args...)
		if err != nil {
			return err
		}
		defer func() {
			if err := proc.Stop(readerStopGrace); err != nil {
				log.Warn("stop reader", "err", err)
			}
		}()
		if cfg.SensorType == config.SensorShm && cfg.SharedMemory.OpenTimeoutMs == 0 {
			cfg.SharedMemory.OpenTimeoutMs = spawnOpenTimeoutMs
		}
		// a dead reader means no more samples
		sigCtx := ctx
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-proc.Done():
				if sigCtx.Err() != nil {
					// stopped by our own shutdown signal
					return
				}
				readerErr <- readerExitError(proc.Err())
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	src, err := sensor.New(ctx, cfg)
	if err != nil {
		select {
		case rerr := <-readerErr:
			return rerr
		default:
		}
		return fmt.Errorf("sensor: %w", err)
	}
	defer src.Close()

	cal, err := calibration.Load(cfg.CalibrationFile)
	if err != nil {
		return err
	}
	log.Info("calibration loaded", "file", cfg.CalibrationFile, "offset", cal.InitialOffset, "factor", cal.Factor)

	entries, err := initOutputs(&cfg, cfg.IntervalMs)
	if err != nil {
		return err
	}
	defer func() {
		for _, e := range entries {
			if err := e.Output.Close(); err != nil {
				log.Warn("close output", "type", e.Type, "err", err)
			}
		}
	}()

	sc := scale.New(src, cal, scale.Options{
		PollInterval:      time.Duration(computePollInterval(cfg)) * time.Millisecond,
		CaffeineMgPer100g: cfg.CaffeineMgPer100g,
		Logger:            log,
	})
	if err := sc.Start(); err != nil {
		return err
	}
	defer func() {
		if err := sc.Close(); err != nil {
			log.Warn("stop scale", "err", err)
		}
	}()

	if cfg.WatchCalibration {
		go func() {
			if err := calibration.Watch(ctx, cfg.CalibrationFile, func(f *calibration.File) {
				sc.SetCalibration(f)
			}); err != nil {
				log.Warn("calibration watch stopped", "err", err)
			}
		}()
	}

	tare := make(chan os.Signal, 1)
	signal.Notify(tare, unix.SIGUSR1)
	defer signal.Stop(tare)
	go func() {
		for {
			select {
			case <-tare:
				log.Info("tare requested")
				sc.Tare()
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info("weight monitor started", "sensor", cfg.SensorType, "outputs", len(entries))
	for {
		r, err := sc.Next(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, mailbox.ErrClosed) {
			break
		}
		if err != nil {
			return err
		}
		now := time.Now()
		for i := range entries {
			if !entries[i].due(now) {
				continue
			}
			if err := entries[i].Output.Publish(r); err != nil {
				log.Warn("publish failed", "type", entries[i].Type, "err", err)
			}
		}
	}
	st := sc.Stats()
	log.Info("weight monitor stopped", "samples", st.Samples, "errors", st.Errors, "drops", st.Drops)
	select {
	case err := <-readerErr:
		return err
	default:
	}
	return nil
}

// readerExitError reports a reader that exited on its own. A clean exit is
// still a failure because the monitor has no other source of samples.
func readerExitError(err error) error {
	if err != nil {
		return fmt.Errorf("reader exited: %w", err)
	}
	return errors.New("reader exited unexpectedly")
}

// computePollInterval returns the sensor poll interval in ms. A directly
// attached HX711 cannot deliver an averaged sample faster than one conversion
// per averaged reading.
func computePollInterval(cfg config.Config) int {
	interval := cfg.PollIntervalMs
	if cfg.SensorType == config.SensorReal {
		samples := cfg.Samples
		if samples < 1 {
			samples = 1
		}
		if floor := samples * hx711ConversionMs; interval < floor {
			interval = floor
		}
	}
	if interval <= 0 {
		interval = hx711ConversionMs
	}
	return interval
}

// initOutputs creates the configured outputs. Outputs without an interval get
// defaultInterval, written back into cfg.
func initOutputs(cfg *config.Config, defaultInterval int) ([]outputEntry, error) {
	entries := make([]outputEntry, 0, len(cfg.Outputs))
	for i := range cfg.Outputs {
		oc := &cfg.Outputs[i]
		if oc.IntervalMs <= 0 {
			oc.IntervalMs = defaultInterval
		}
		var (
			out output.Output
			err error
		)
		switch oc.Type {
		case config.OutputConsole:
			out = console.NewConsole(cfg.CaffeineMgPer100g > 0)
		case config.OutputMQTT:
			mc := config.MQTTConfig{}
			if oc.MQTT != nil {
				mc = *oc.MQTT
			}
			out, err = mqtt.NewMQTT(mc)
		case config.OutputCSV:
			cc := config.CSVConfig{}
			if oc.CSV != nil {
				cc = *oc.CSV
			}
			out, err = csvlog.NewCSV(cc)
		case config.OutputWS:
			wc := config.WSConfig{}
			if oc.WS != nil {
				wc = *oc.WS
			}
			out, err = ws.NewWS(wc)
		default:
			err = fmt.Errorf("unknown output type %q", oc.Type)
		}
		if err != nil {
			for _, e := range entries {
				_ = e.Output.Close()
			}
			return nil, fmt.Errorf("output %s: %w", oc.Type, err)
		}
		entries = append(entries, outputEntry{Type: oc.Type, Output: out, IntervalMs: oc.IntervalMs})
	}
	return entries, nil
}
