package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Sensor types.
const (
	SensorReal       = "real"
	SensorExec       = "exec"
	SensorShm        = "shm"
	SensorSimulation = "simulation"
)

// Output types.
const (
	OutputConsole = "console"
	OutputMQTT    = "mqtt"
	OutputCSV     = "csv"
	OutputWS      = "ws"
)

type MQTTConfig struct {
	Server            string `json:"server"`
	Username          string `json:"username"`
	Password          string `json:"password"`
	ClientID          string `json:"client_id"`
	StateTopic        string `json:"state_topic"`
	DiscoveryTopic    string `json:"discovery_topic"`
	DiscoveryName     string `json:"discovery_name"`
	DiscoveryUniqueID string `json:"discovery_unique_id"`
}

type CSVConfig struct {
	// Path of the log file. Empty means weight_data/weight_data_<timestamp>.csv.
	Path    string `json:"path"`
	RawDiff bool   `json:"raw_diff"`
}

type WSConfig struct {
	Listen string `json:"listen"`
}

type OutputConfig struct {
	Type       string      `json:"type"`
	IntervalMs int         `json:"interval_ms,omitempty"`
	MQTT       *MQTTConfig `json:"mqtt,omitempty"`
	CSV        *CSVConfig  `json:"csv,omitempty"`
	WS         *WSConfig   `json:"ws,omitempty"`
}

type GPIOConfig struct {
	DataPin  string `json:"data_pin"`
	ClockPin string `json:"clock_pin"`
	Gain     int    `json:"gain"`
}

type SharedMemoryConfig struct {
	Name string `json:"name"`
	Dir  string `json:"dir"`
	// OpenTimeoutMs keeps retrying a missing segment; 0 fails immediately.
	OpenTimeoutMs int `json:"open_timeout_ms"`
}

type ReaderConfig struct {
	Path  string   `json:"path"`
	Args  []string `json:"args"`
	Spawn bool     `json:"spawn"`
}

type Config struct {
	SensorType        string             `json:"sensor_type"`
	GPIO              GPIOConfig         `json:"gpio"`
	Samples           int                `json:"samples"`
	SharedMemory      SharedMemoryConfig `json:"shared_memory"`
	Reader            ReaderConfig       `json:"reader"`
	CalibrationFile   string             `json:"calibration_file"`
	WatchCalibration  bool               `json:"watch_calibration"`
	PollIntervalMs    int                `json:"poll_interval_ms"`
	IntervalMs        int                `json:"interval_ms"`
	Outputs           []OutputConfig     `json:"outputs"`
	CaffeineMgPer100g float64            `json:"caffeine_mg_per_100g"`
	InvertPolarity    bool               `json:"invert_polarity"`
	LogLevel          string             `json:"log_level"`
	LogFormat         string             `json:"log_format"`
}

func DefaultConfig() Config {
	return Config{
		SensorType: SensorShm,
		GPIO:       GPIOConfig{DataPin: "GPIO5", ClockPin: "GPIO6", Gain: 128},
		Samples:    1,
		SharedMemory: SharedMemoryConfig{
			Name: "/weight_shm",
		},
		Reader:          ReaderConfig{Path: "./hx711-reader"},
		CalibrationFile: "weight_config.json",
		PollIntervalMs:  100,
		IntervalMs:      500,
		Outputs:         []OutputConfig{{Type: OutputConsole, IntervalMs: 500}},
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// LoadFromFlags loads configuration from the process command line.
func LoadFromFlags() (Config, error) {
	return Load(flag.CommandLine, os.Args[1:])
}

// Load registers the common flags on fs, parses args, reads the optional JSON
// file named by -config and applies every flag that was set on top of it.
// Callers may register their own flags on fs before calling Load.
func Load(fs *flag.FlagSet, args []string) (Config, error) {
	cfgPath := fs.String("config", "", "Path to JSON config file")
	flagSensorType := fs.String("sensor-type", "", "sensor type: real|exec|shm|simulation")
	flagDataPin := fs.String("data-pin", "", "HX711 DOUT GPIO name (e.g. GPIO5)")
	flagClockPin := fs.String("clock-pin", "", "HX711 PD_SCK GPIO name (e.g. GPIO6)")
	flagGain := fs.Int("gain", 0, "HX711 gain: 128|64|32")
	flagSamples := fs.Int("samples", 0, "Raw readings averaged per sample")
	flagShmName := fs.String("shm-name", "", "POSIX shared memory object name")
	flagShmDir := fs.String("shm-dir", "", "Directory backing shared memory objects")
	flagShmTimeout := fs.Int("shm-open-timeout-ms", 0, "Retry window for opening the segment")
	flagReaderPath := fs.String("reader-path", "", "Reader executable path")
	flagSpawn := fs.Bool("spawn-reader", false, "Start the reader executable as a subprocess")
	flagCalFile := fs.String("calibration-file", "", "Calibration JSON file")
	flagWatch := fs.Bool("watch-calibration", false, "Reload calibration when the file changes")
	flagPoll := fs.Int("poll-interval-ms", 0, "Sensor poll interval in ms")
	flagInterval := fs.Int("interval-ms", 0, "Default output interval in ms")
	flagOutputs := fs.String("outputs", "", "Comma-separated outputs (console,csv,mqtt,ws)")
	flagOutputIntervals := fs.String("output-intervals", "", "Comma-separated output intervals e.g. console=500,mqtt=5000")
	flagMQTTServer := fs.String("mqtt-server", "", "MQTT server (tcp://host:port)")
	flagMQTTUser := fs.String("mqtt-user", "", "MQTT username")
	flagMQTTPass := fs.String("mqtt-pass", "", "MQTT password")
	flagClientID := fs.String("mqtt-client-id", "", "MQTT client id")
	flagTopic := fs.String("mqtt-topic", "", "MQTT state topic")
	flagCSVPath := fs.String("csv-path", "", "CSV log file path")
	flagCSVRawDiff := fs.Bool("csv-raw-diff", false, "Add a raw_diff column to the CSV log")
	flagWSListen := fs.String("ws-listen", "", "WebSocket listen address (e.g. :8080)")
	flagCaffeine := fs.Float64("caffeine", 0, "Caffeine mg per 100 g of coffee grounds")
	flagInvert := fs.Bool("invert-polarity", false, "Simulated sensor reads lower under load")
	flagLogLevel := fs.String("log-level", "", "debug|info|warn|error")
	flagLogFormat := fs.String("log-format", "", "text|json")

	if err := fs.Parse(args); err != nil {
		return DefaultConfig(), err
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg := DefaultConfig()

	if *cfgPath != "" {
		b, err := os.ReadFile(*cfgPath)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if set["sensor-type"] {
		cfg.SensorType = *flagSensorType
	}
	if set["data-pin"] {
		cfg.GPIO.DataPin = *flagDataPin
	}
	if set["clock-pin"] {
		cfg.GPIO.ClockPin = *flagClockPin
	}
	if set["gain"] {
		cfg.GPIO.Gain = *flagGain
	}
	if set["samples"] {
		cfg.Samples = *flagSamples
	}
	if set["shm-name"] {
		cfg.SharedMemory.Name = *flagShmName
	}
	if set["shm-dir"] {
		cfg.SharedMemory.Dir = *flagShmDir
	}
	if set["shm-open-timeout-ms"] {
		cfg.SharedMemory.OpenTimeoutMs = *flagShmTimeout
	}
	if set["reader-path"] {
		cfg.Reader.Path = *flagReaderPath
	}
	if set["spawn-reader"] {
		cfg.Reader.Spawn = *flagSpawn
	}
	if set["calibration-file"] {
		cfg.CalibrationFile = *flagCalFile
	}
	if set["watch-calibration"] {
		cfg.WatchCalibration = *flagWatch
	}
	if set["poll-interval-ms"] {
		cfg.PollIntervalMs = *flagPoll
	}
	if set["interval-ms"] {
		cfg.IntervalMs = *flagInterval
	}
	if set["outputs"] {
		// convert simple CSV of types into structured OutputConfig entries
		parts := parseCSV(*flagOutputs)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, OutputConfig{Type: strings.ToLower(p), IntervalMs: cfg.IntervalMs})
		}
		cfg.Outputs = outs
	}
	if set["output-intervals"] {
		intervals, err := parseKeyIntMap(*flagOutputIntervals)
		if err != nil {
			return cfg, fmt.Errorf("output-intervals: %w", err)
		}
		for i := range cfg.Outputs {
			if v, ok := intervals[cfg.Outputs[i].Type]; ok {
				cfg.Outputs[i].IntervalMs = v
			}
		}
	}
	if set["mqtt-server"] || set["mqtt-user"] || set["mqtt-pass"] || set["mqtt-client-id"] || set["mqtt-topic"] {
		apply := func(m *MQTTConfig) {
			if set["mqtt-server"] {
				m.Server = *flagMQTTServer
			}
			if set["mqtt-user"] {
				m.Username = *flagMQTTUser
			}
			if set["mqtt-pass"] {
				m.Password = *flagMQTTPass
			}
			if set["mqtt-client-id"] {
				m.ClientID = *flagClientID
			}
			if set["mqtt-topic"] {
				m.StateTopic = *flagTopic
			}
		}
		out := ensureOutput(&cfg, OutputMQTT)
		if out.MQTT == nil {
			out.MQTT = &MQTTConfig{}
		}
		apply(out.MQTT)
	}
	if set["csv-path"] || set["csv-raw-diff"] {
		out := ensureOutput(&cfg, OutputCSV)
		if out.CSV == nil {
			out.CSV = &CSVConfig{}
		}
		if set["csv-path"] {
			out.CSV.Path = *flagCSVPath
		}
		if set["csv-raw-diff"] {
			out.CSV.RawDiff = *flagCSVRawDiff
		}
	}
	if set["ws-listen"] {
		out := ensureOutput(&cfg, OutputWS)
		if out.WS == nil {
			out.WS = &WSConfig{}
		}
		out.WS.Listen = *flagWSListen
	}
	if set["caffeine"] {
		cfg.CaffeineMgPer100g = *flagCaffeine
	}
	if set["invert-polarity"] {
		cfg.InvertPolarity = *flagInvert
	}
	if set["log-level"] {
		cfg.LogLevel = *flagLogLevel
	}
	if set["log-format"] {
		cfg.LogFormat = *flagLogFormat
	}

	// ensure outputs have interval default
	for i := range cfg.Outputs {
		if cfg.Outputs[i].IntervalMs == 0 {
			cfg.Outputs[i].IntervalMs = cfg.IntervalMs
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	switch c.SensorType {
	case SensorReal, SensorExec, SensorShm, SensorSimulation:
	default:
		return fmt.Errorf("unknown sensor type %q", c.SensorType)
	}
	switch c.GPIO.Gain {
	case 128, 64, 32:
	default:
		return fmt.Errorf("gain must be 128, 64 or 32, got %d", c.GPIO.Gain)
	}
	if c.PollIntervalMs <= 0 {
		return errors.New("poll-interval-ms must be > 0")
	}
	if c.Samples < 1 {
		return errors.New("samples must be >= 1")
	}
	if c.SensorType == SensorExec && c.Reader.Path == "" {
		return errors.New("exec sensor requires reader path")
	}
	if c.CaffeineMgPer100g < 0 {
		return errors.New("caffeine must be >= 0")
	}
	for _, o := range c.Outputs {
		switch o.Type {
		case OutputConsole, OutputMQTT, OutputCSV, OutputWS:
		default:
			return fmt.Errorf("unknown output type %q", o.Type)
		}
	}
	return nil
}

// ensureOutput returns the first output of type t, appending one if missing.
func ensureOutput(cfg *Config, t string) *OutputConfig {
	for i := range cfg.Outputs {
		if cfg.Outputs[i].Type == t {
			return &cfg.Outputs[i]
		}
	}
	cfg.Outputs = append(cfg.Outputs, OutputConfig{Type: t, IntervalMs: cfg.IntervalMs})
	return &cfg.Outputs[len(cfg.Outputs)-1]
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseKeyIntMap parses "a=1,b=2".
func parseKeyIntMap(s string) (map[string]int, error) {
	out := map[string]int{}
	for _, p := range parseCSV(s) {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid entry %q, want key=value", p)
		}
		v, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid value in %q: %w", p, err)
		}
		out[strings.TrimSpace(kv[0])] = v
	}
	return out, nil
}
