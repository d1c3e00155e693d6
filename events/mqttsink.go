package events

import (
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"doipsim/logging"
)

// MQTTSinkConfig configures a single MQTT egress sink.
type MQTTSinkConfig struct {
	Name       string
	Broker     string // e.g. "tcp://localhost:1883"
	ClientID   string
	Username   string
	Password   string
	TopicPrefix string
}

// wireEvent is the JSON shape published for every event record.
type wireEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Severity  string    `json:"severity"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Peer      string    `json:"peer,omitempty"`
}

// MQTTSink subscribes to an events.Bus and republishes every record as JSON
// to "<topic_prefix>/events". It never blocks the emitter: publishes run
// fire-and-forget via the paho client's async Publish.
type MQTTSink struct {
	cfg    MQTTSinkConfig
	client pahomqtt.Client
}

// NewMQTTSink connects to the configured broker and returns a ready sink.
func NewMQTTSink(cfg MQTTSinkConfig) (*MQTTSink, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		return nil, fmt.Errorf("mqtt sink %s: connect: %w", cfg.Name, token.Error())
	}

	logging.DebugLog("events", "mqtt sink %s connected to %s", cfg.Name, cfg.Broker)
	return &MQTTSink{cfg: cfg, client: client}, nil
}

// Attach registers the sink on bus; every subsequent event is published
// best-effort in a background goroutine so a slow/down broker never stalls
// Emit's caller.
func (s *MQTTSink) Attach(bus *Bus) SubscriberID {
	return bus.Subscribe(func(e Event) {
		go s.publish(e)
	})
}

func (s *MQTTSink) publish(e Event) {
	data, err := json.Marshal(toWireEvent(e))
	if err != nil {
		return
	}
	topic := s.cfg.TopicPrefix + "/events"
	token := s.client.Publish(topic, 0, false, data)
	if !token.WaitTimeout(2*time.Second) || token.Error() != nil {
		logging.DebugLog("events", "mqtt sink %s: publish failed: %v", s.cfg.Name, token.Error())
	}
}

// Close disconnects the underlying MQTT client.
func (s *MQTTSink) Close() {
	s.client.Disconnect(250)
}

// Name returns the sink's configured name, for the status surface.
func (s *MQTTSink) Name() string { return s.cfg.Name }

// Connected reports the paho client's current broker connection state.
func (s *MQTTSink) Connected() bool { return s.client.IsConnected() }

func toWireEvent(e Event) wireEvent {
	return wireEvent{
		Timestamp: e.Timestamp,
		Severity:  string(e.Severity),
		Category:  string(e.Category),
		Message:   e.Message,
		Peer:      e.Peer,
	}
}
