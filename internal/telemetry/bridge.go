// Package telemetry republishes process events onto an MQTT broker for
// remote dashboards.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"defect-sorter/internal/events"
)

// Topics under the sorter/ prefix, one per event type.
const (
	TopicLog      = "sorter/log"
	TopicAlert    = "sorter/alert"
	TopicState    = "sorter/state"
	TopicCapture  = "sorter/capture"
	TopicAnalysis = "sorter/analysis"
	TopicEjection = "sorter/ejection"
	TopicSettings = "sorter/settings"
)

// Publisher is the broker-side surface the bridge needs.
type Publisher interface {
	Publish(topic string, payload []byte) error
	Close()
}

// BrokerConfig holds MQTT connection settings.
type BrokerConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

type pahoPublisher struct {
	client mqtt.Client
}

// Connect dials the broker with auto-reconnect enabled.
func Connect(cfg BrokerConfig) (Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("telemetry: connect %s: %w", cfg.Broker, token.Error())
	}
	return &pahoPublisher{client: client}, nil
}

func (p *pahoPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 1, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("telemetry: publish %s: %w", topic, token.Error())
	}
	return nil
}

func (p *pahoPublisher) Close() {
	p.client.Disconnect(250)
}

// Bridge subscribes to the event bus and mirrors each event to its MQTT
// topic as JSON.
type Bridge struct {
	pub   Publisher
	log   zerolog.Logger
	unsub func()
}

// NewBridge attaches to bus and starts forwarding immediately.
func NewBridge(pub Publisher, bus *events.Bus, log zerolog.Logger) *Bridge {
	b := &Bridge{
		pub: pub,
		log: log.With().Str("component", "telemetry").Logger(),
	}
	b.unsub = bus.Subscribe(b.forward)
	return b
}

// Close detaches from the bus and disconnects the broker.
func (b *Bridge) Close() {
	if b.unsub != nil {
		b.unsub()
	}
	b.pub.Close()
}

func (b *Bridge) forward(ev any) {
	topic := topicFor(ev)
	if topic == "" {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		b.log.Warn().Err(err).Str("topic", topic).Msg("event not serializable")
		return
	}
	if err := b.pub.Publish(topic, payload); err != nil {
		b.log.Warn().Err(err).Str("topic", topic).Msg("publish failed")
	}
}

func topicFor(ev any) string {
	switch ev.(type) {
	case events.SystemLog:
		return TopicLog
	case events.Alert:
		return TopicAlert
	case events.StateUpdate:
		return TopicState
	case events.ImageCaptured:
		return TopicCapture
	case events.AnalysisComplete:
		return TopicAnalysis
	case events.EjectionResult:
		return TopicEjection
	case events.SettingsChanged:
		return TopicSettings
	default:
		return ""
	}
}
