package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ericogr/hx711-scale/pkg/config"
	"github.com/ericogr/hx711-scale/pkg/output"
	"github.com/ericogr/hx711-scale/pkg/sensor"
	"github.com/google/uuid"
)

const (
	// defaults
	DefaultServer     = "tcp://localhost:1883"
	DefaultStateTopic = "hx711/weight"
	clientIDPrefix    = "hx711-"
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	unitGrams              = "g"
	deviceClassWeight      = "weight"
	stateClassMeasurement  = "measurement"
	valueTemplateWeight    = "{{ value_json.weight }}"
)

type MQTTOutput struct {
	client     mqtt.Client
	stateTopic string
}

// NewMQTT connects to the broker and publishes the Home Assistant discovery
// payload when a discovery topic is configured.
func NewMQTT(cfg config.MQTTConfig) (output.Output, error) {
	cfg = withDefaults(cfg)
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return newWithClient(client, cfg), nil
}

func newWithClient(client mqtt.Client, cfg config.MQTTConfig) *MQTTOutput {
	m := &MQTTOutput{client: client, stateTopic: cfg.StateTopic}
	if cfg.DiscoveryTopic != "" {
		payload := discoveryPayload(cfg)
		if err := publishJSON(client, cfg.DiscoveryTopic, true, payload); err != nil {
			slog.Warn("mqtt discovery publish error", "topic", cfg.DiscoveryTopic, "err", err)
		}
	}
	return m
}

func withDefaults(cfg config.MQTTConfig) config.MQTTConfig {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.ClientID == "" {
		cfg.ClientID = clientIDPrefix + uuid.NewString()[:8]
	}
	if cfg.StateTopic == "" {
		cfg.StateTopic = DefaultStateTopic
	}
	return cfg
}

func (m *MQTTOutput) Publish(r sensor.Reading) error {
	return publishJSON(m.client, m.stateTopic, false, statePayload(r))
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}

func statePayload(r sensor.Reading) map[string]interface{} {
	payload := map[string]interface{}{
		"weight":    r.Value,
		"absolute":  r.Absolute,
		"raw":       r.Raw,
		"timestamp": r.Timestamp,
	}
	if r.CaffeineMg > 0 {
		payload["caffeine_mg"] = r.CaffeineMg
	}
	return payload
}

// helper: discovery payload for a single weight sensor
func discoveryPayload(cfg config.MQTTConfig) map[string]interface{} {
	name := cfg.DiscoveryName
	if name == "" {
		name = fmt.Sprintf("HX711 %s", cfg.ClientID)
	}
	uid := cfg.DiscoveryUniqueID
	if uid == "" {
		uid = cfg.ClientID
	}
	payload := map[string]interface{}{
		keyName:                name,
		keyStateTopic:          cfg.StateTopic,
		keyUnitOfMeasurement:   unitGrams,
		keyDeviceClass:         deviceClassWeight,
		keyStateClass:          stateClassMeasurement,
		keyValueTemplate:       valueTemplateWeight,
		keyJSONAttributesTopic: cfg.StateTopic,
	}
	if uid != "" {
		payload[keyUniqueID] = uid
	}
	return payload
}

// helper: marshal and publish JSON payload
func publishJSON(client mqtt.Client, topic string, retained bool, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := client.Publish(topic, 0, retained, b)
	token.Wait()
	return token.Error()
}
