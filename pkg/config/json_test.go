package config

import (
	"encoding/json"
	"testing"
)

func TestUnmarshalConfigJSON(t *testing.T) {
	js := `{
        "sensor_type": "real",
        "gpio": { "data_pin": "GPIO5", "clock_pin": "GPIO6", "gain": 64 },
        "samples": 4,
        "shared_memory": { "name": "/weight_shm", "open_timeout_ms": 3000 },
        "reader": { "path": "./hx711-reader", "args": ["-mode", "shm"], "spawn": true },
        "calibration_file": "weight_config.json",
        "poll_interval_ms": 100,
        "outputs": [
            {"type": "console", "interval_ms": 500},
            {"type": "mqtt", "mqtt": {"server": "tcp://localhost:1883", "state_topic": "scale"}},
            {"type": "csv", "csv": {"path": "log.csv", "raw_diff": true}},
            {"type": "ws", "ws": {"listen": ":8080"}}
        ],
        "caffeine_mg_per_100g": 1200
    }`

	var cfg Config
	if err := json.Unmarshal([]byte(js), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.SensorType != SensorReal || cfg.GPIO.DataPin != "GPIO5" || cfg.GPIO.Gain != 64 {
		t.Fatalf("sensor settings: %+v", cfg)
	}
	if cfg.SharedMemory.OpenTimeoutMs != 3000 {
		t.Fatalf("shm timeout: got %d", cfg.SharedMemory.OpenTimeoutMs)
	}
	if !cfg.Reader.Spawn || len(cfg.Reader.Args) != 2 {
		t.Fatalf("reader: %+v", cfg.Reader)
	}
	if len(cfg.Outputs) != 4 {
		t.Fatalf("outputs len: %d", len(cfg.Outputs))
	}
	if cfg.Outputs[1].MQTT == nil || cfg.Outputs[1].MQTT.StateTopic != "scale" {
		t.Fatalf("mqtt output: %+v", cfg.Outputs[1])
	}
	if cfg.Outputs[2].CSV == nil || !cfg.Outputs[2].CSV.RawDiff {
		t.Fatalf("csv output: %+v", cfg.Outputs[2])
	}
	if cfg.Outputs[3].WS == nil || cfg.Outputs[3].WS.Listen != ":8080" {
		t.Fatalf("ws output: %+v", cfg.Outputs[3])
	}
	if cfg.CaffeineMgPer100g != 1200 {
		t.Fatalf("caffeine: %v", cfg.CaffeineMgPer100g)
	}
}
