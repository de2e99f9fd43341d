package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"screensync/internal/logging"
)

var errNoMessage = errors.New("no message received yet")

// MQTTValue keeps the last numeric value published on a topic. Poll returns
// it; the subscription itself runs in the MQTT client.
type MQTTValue struct {
	topic     string
	jsonField string

	client mqtt.Client
	logger *logging.Logger

	// MaxAge rejects a value older than this; zero accepts any age.
	MaxAge time.Duration

	mu   sync.Mutex
	last float64
	at   time.Time
}

// MQTTOptions configure the broker connection.
type MQTTOptions struct {
	Broker    string
	Topic     string
	ClientID  string
	Username  string
	Password  string
	JSONField string
}

// NewMQTTValue creates the client; Start connects and subscribes.
func NewMQTTValue(opts MQTTOptions) *MQTTValue {
	m := &MQTTValue{
		topic:     opts.Topic,
		jsonField: opts.JSONField,
		logger:    logging.GetLogger("provider").With("source", "mqtt", "topic", opts.Topic),
	}

	broker := opts.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	co := mqtt.NewClientOptions()
	co.AddBroker(broker)
	if opts.ClientID != "" {
		co.SetClientID(opts.ClientID)
	}
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(2 * time.Second)
	co.SetMaxReconnectInterval(30 * time.Second)

	co.OnConnect = func(c mqtt.Client) {
		m.logger.Info("MQTT connected", "broker", broker)
		// subscriptions do not survive a clean reconnect
		token := c.Subscribe(m.topic, 0, m.handle)
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			m.logger.Error("MQTT subscribe failed", "error", token.Error())
		}
	}
	co.OnConnectionLost = func(c mqtt.Client, err error) {
		m.logger.Warn("MQTT connection lost", "error", err)
	}

	m.client = mqtt.NewClient(co)
	return m
}

func (m *MQTTValue) Name() string {
	return "mqtt:" + m.topic
}

// Start connects in the background. It does not wait for the broker.
func (m *MQTTValue) Start() {
	m.client.Connect()
}

func (m *MQTTValue) Stop() {
	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}
}

func (m *MQTTValue) Poll(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.at.IsZero() {
		return 0, errNoMessage
	}
	if m.MaxAge > 0 && time.Since(m.at) > m.MaxAge {
		return 0, fmt.Errorf("last message is %s old", time.Since(m.at).Round(time.Second))
	}
	return m.last, nil
}

func (m *MQTTValue) handle(_ mqtt.Client, msg mqtt.Message) {
	v, err := parseMQTTValue(msg.Payload(), m.jsonField)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.logger.Debug("Ignoring MQTT payload", "error", err)
		return
	}
	m.last = v
	m.at = time.Now()
}

// parseMQTTValue accepts a bare number or, with field set, a JSON object
// holding a number under that key.
func parseMQTTValue(payload []byte, field string) (float64, error) {
	if field == "" {
		return strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return 0, fmt.Errorf("decode json payload: %w", err)
	}
	raw, ok := obj[field]
	if !ok {
		return 0, fmt.Errorf("field %q missing", field)
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0, fmt.Errorf("field %q is not numeric", field)
		}
		return strconv.ParseFloat(s, 64)
	}
	return v, nil
}
