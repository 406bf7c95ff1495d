package config

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseKeyIntMap(t *testing.T) {
	tests := []struct {
		in   string
		want map[string]int
		ok   bool
	}{
		{"", map[string]int{}, true},
		{"console=500,mqtt=5000", map[string]int{"console": 500, "mqtt": 5000}, true},
		{" csv = 1000 , ws=250", map[string]int{"csv": 1000, "ws": 250}, true},
		{"bad", nil, false},
		{"console=fast", nil, false},
	}
	for _, tt := range tests {
		got, err := parseKeyIntMap(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("parseKeyIntMap(%q) ok=%v err=%v", tt.in, tt.ok, err)
		}
		if tt.ok && !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("parseKeyIntMap(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseCSV(t *testing.T) {
	got := parseCSV(" console, ,mqtt ,")
	want := []string{"console", "mqtt"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("parseCSV = %v; want %v", got, want)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newFlagSet(), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Fatalf("defaults changed:\n got %+v\nwant %+v", cfg, DefaultConfig())
	}
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	js := `{"sensor_type":"exec","reader":{"path":"/opt/weight_reader"},"poll_interval_ms":250,
		"outputs":[{"type":"console"}]}`
	if err := os.WriteFile(path, []byte(js), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	args := []string{
		"-config", path,
		"-poll-interval-ms", "100",
		"-outputs", "console,csv",
		"-output-intervals", "csv=1000",
		"-csv-raw-diff",
		"-mqtt-server", "tcp://broker:1883",
		"-mqtt-topic", "kitchen/scale",
		"-caffeine", "1200",
	}
	cfg, err := Load(newFlagSet(), args)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SensorType != SensorExec || cfg.Reader.Path != "/opt/weight_reader" {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.PollIntervalMs != 100 {
		t.Fatalf("poll interval: got %d", cfg.PollIntervalMs)
	}
	if len(cfg.Outputs) != 3 {
		t.Fatalf("outputs: %+v", cfg.Outputs)
	}
	if cfg.Outputs[0].Type != OutputConsole || cfg.Outputs[0].IntervalMs != 500 {
		t.Fatalf("console output: %+v", cfg.Outputs[0])
	}
	if cfg.Outputs[1].Type != OutputCSV || cfg.Outputs[1].IntervalMs != 1000 || cfg.Outputs[1].CSV == nil || !cfg.Outputs[1].CSV.RawDiff {
		t.Fatalf("csv output: %+v", cfg.Outputs[1])
	}
	mq := cfg.Outputs[2]
	if mq.Type != OutputMQTT || mq.MQTT == nil || mq.MQTT.Server != "tcp://broker:1883" || mq.MQTT.StateTopic != "kitchen/scale" {
		t.Fatalf("mqtt output: %+v", mq)
	}
	if cfg.CaffeineMgPer100g != 1200 {
		t.Fatalf("caffeine: got %v", cfg.CaffeineMgPer100g)
	}
}

func TestLoadKeepsPositionalArgs(t *testing.T) {
	fs := newFlagSet()
	if _, err := Load(fs, []string{"-sensor-type", "simulation", "span", "-weight", "300"}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := fs.Args(); !reflect.DeepEqual(got, []string{"span", "-weight", "300"}) {
		t.Fatalf("args = %v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"sensor", func(c *Config) { c.SensorType = "i2c" }},
		{"gain", func(c *Config) { c.GPIO.Gain = 16 }},
		{"poll", func(c *Config) { c.PollIntervalMs = 0 }},
		{"samples", func(c *Config) { c.Samples = 0 }},
		{"exec", func(c *Config) { c.SensorType = SensorExec; c.Reader.Path = "" }},
		{"caffeine", func(c *Config) { c.CaffeineMgPer100g = -1 }},
		{"output", func(c *Config) { c.Outputs = []OutputConfig{{Type: "lcd"}} }},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tt.name)
		}
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
