// Package notify pushes fresh recommendations to listeners over MQTT.
package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/loadshift/loadshift/internal/engine"
)

// Publisher delivers recommendations to subscribers.
type Publisher interface {
	Publish(rec engine.Recommendation) error
	Close()
}

// Topic returns the topic a recommendation for an appliance is published
// on. MQTT wildcard and separator characters in the name are replaced.
func Topic(prefix, appliance string) string {
	r := strings.NewReplacer("/", "-", "+", "-", "#", "-")
	return fmt.Sprintf("%s/recommendations/%s", prefix, r.Replace(appliance))
}

// MQTTPublisher publishes recommendations to an MQTT broker.
type MQTTPublisher struct {
	cli    paho.Client
	prefix string
	log    zerolog.Logger
}

// NewMQTTPublisher connects to the broker and returns a publisher.
func NewMQTTPublisher(broker, clientID, prefix string, log zerolog.Logger) (*MQTTPublisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)

	opts.OnConnect = func(paho.Client) {
		log.Info().Str("broker", broker).Msg("mqtt connected")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Error().Err(err).Msg("mqtt connection lost")
	}

	cli := paho.NewClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to %s: %w", broker, token.Error())
	}

	return &MQTTPublisher{cli: cli, prefix: prefix, log: log}, nil
}

// Publish sends one recommendation as JSON at QoS 1.
func (p *MQTTPublisher) Publish(rec engine.Recommendation) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	topic := Topic(p.prefix, rec.Appliance)
	token := p.cli.Publish(topic, 1, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.cli.Disconnect(250)
}

// MockPublisher is a simple publisher used in tests.
type MockPublisher struct {
	Messages map[string]engine.Recommendation
	Fail     map[string]bool
	mu       sync.Mutex
}

// NewMockPublisher creates a new MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		Messages: make(map[string]engine.Recommendation),
		Fail:     make(map[string]bool),
	}
}

// Publish records the recommendation or fails if configured to.
func (m *MockPublisher) Publish(rec engine.Recommendation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail[rec.Appliance] {
		return fmt.Errorf("publish failed")
	}
	m.Messages[rec.Appliance] = rec
	return nil
}

// Close is a no-op.
func (m *MockPublisher) Close() {}
