// Command hx711-reader samples the load cell and publishes raw readings,
// either into the shared memory segment or as lines on stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/ericogr/hx711-scale/pkg/config"
	"github.com/ericogr/hx711-scale/pkg/logging"
	"github.com/ericogr/hx711-scale/pkg/producer"
	"github.com/ericogr/hx711-scale/pkg/sensor"
	"github.com/ericogr/hx711-scale/pkg/shm"
	"golang.org/x/sys/unix"
)

const (
	modeShm    = "shm"
	modeStdout = "stdout"
)

type options struct {
	mode  string
	count int
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	mode := fs.String("mode", modeShm, "publish to: shm|stdout")
	count := fs.Int("count", -1, "readings to publish, 0 runs forever (default 1 for stdout, 0 for shm)")
	cfg, err := config.Load(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}
	log := logging.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	opts := options{mode: *mode, count: *count}
	if err := run(ctx, readerConfig(cfg, log), opts, os.Stdout, log); err != nil {
		log.Error("reader failed", "err", err)
		stop()
		os.Exit(1)
	}
}

// readerConfig points the reader at the hardware. Consumer-side sensor types
// would make the reader read its own output.
func readerConfig(cfg config.Config, log *slog.Logger) config.Config {
	switch cfg.SensorType {
	case config.SensorShm, config.SensorExec:
		log.Debug("reader uses the hx711 directly", "configured", cfg.SensorType)
		cfg.SensorType = config.SensorReal
	}
	return cfg
}

func run(ctx context.Context, cfg config.Config, opts options, stdout io.Writer, log *slog.Logger) error {
	src, err := sensor.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("sensor: %w", err)
	}
	defer src.Close()

	var (
		sink  producer.Sink
		count = opts.count
	)
	switch opts.mode {
	case modeShm:
		w, err := shm.CreateWriter(shm.Options{Name: cfg.SharedMemory.Name, Dir: cfg.SharedMemory.Dir})
		if err != nil {
			return fmt.Errorf("create segment: %w", err)
		}
		defer func() {
			if err := w.Close(); err != nil {
				log.Warn("remove segment", "err", err)
			}
		}()
		log.Info("publishing to shared memory", "path", w.Path())
		sink = w
		if count < 0 {
			count = 0
		}
	case modeStdout:
		sink = producer.LineSink{W: stdout}
		if count < 0 {
			count = 1
		}
	default:
		return fmt.Errorf("unknown mode %q", opts.mode)
	}

	n, err := producer.Run(ctx, src, sink, producer.Options{
		Interval: time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		Count:    count,
		Logger:   log,
	})
	log.Info("reader stopped", "published", n)
	return err
}
