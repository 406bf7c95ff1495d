// Package csvlog records readings to a CSV file, one row per reading.
package csvlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ericogr/hx711-scale/pkg/config"
	"github.com/ericogr/hx711-scale/pkg/output"
	"github.com/ericogr/hx711-scale/pkg/sensor"
)

const (
	DefaultDir = "weight_data"
	fileLayout = "20060102_150405"
)

// DefaultPath returns weight_data/weight_data_<YYYYmmdd_HHMMSS>.csv for t.
func DefaultPath(t time.Time) string {
	return filepath.Join(DefaultDir, fmt.Sprintf("weight_data_%s.csv", t.Format(fileLayout)))
}

type CSVOutput struct {
	mu      sync.Mutex
	f       *os.File
	w       *csv.Writer
	rawDiff bool

	started  bool
	start    time.Time
	firstRaw float64
}

// NewCSV creates the file (and its directory) and writes the header.
func NewCSV(cfg config.CSVConfig) (output.Output, error) {
	return create(cfg, time.Now())
}

func create(cfg config.CSVConfig, now time.Time) (*CSVOutput, error) {
	path := cfg.Path
	if path == "" {
		path = DefaultPath(now)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create csv dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create csv: %w", err)
	}
	c := &CSVOutput{f: f, w: csv.NewWriter(f), rawDiff: cfg.RawDiff}
	if err := c.writeRow(c.header()); err != nil {
		_ = f.Close()
		return nil, err
	}
	return c, nil
}

// Path returns the file being written.
func (c *CSVOutput) Path() string { return c.f.Name() }

func (c *CSVOutput) header() []string {
	if c.rawDiff {
		return []string{"time", "raw_reading", "raw_diff", "weight"}
	}
	return []string{"time", "raw_reading", "weight"}
}

// Publish appends a row. time is seconds since the first row; raw_diff is the
// first raw reading minus this one.
func (c *CSVOutput) Publish(r sensor.Reading) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if !c.started {
		c.started = true
		c.start = ts
		c.firstRaw = r.Raw
	}
	row := []string{fmt.Sprintf("%.2f", ts.Sub(c.start).Seconds()), fmt.Sprintf("%.2f", r.Raw)}
	if c.rawDiff {
		row = append(row, fmt.Sprintf("%.2f", c.firstRaw-r.Raw))
	}
	row = append(row, fmt.Sprintf("%.2f", r.Value))
	return c.writeRow(row)
}

func (c *CSVOutput) writeRow(row []string) error {
	if err := c.w.Write(row); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *CSVOutput) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.w.Flush()
	werr := c.w.Error()
	if err := c.f.Close(); err != nil {
		return err
	}
	return werr
}
