// Package telemetry publishes session and connection lifecycle events to an
// optional MQTT broker. It is pure ambient observability: nothing in the
// CIP/ENIP wire logic depends on it, and a nil Publisher is always safe to
// call through.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/fieldspan/enip-adapter/internal"
)

// Event is a small JSON-serializable lifecycle record.
type Event struct {
	Kind      string `json:"kind"`
	SessionID uint32 `json:"session_id,omitempty"`
	ConnID    uint32 `json:"connection_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Publisher publishes Events. The zero value (nil *Publisher) is a no-op.
type Publisher struct {
	client mqtt.Client
	topic  string
	log    internal.Logger
}

// NewPublisher connects to brokerURL and returns a Publisher that publishes
// to topic. If brokerURL is empty, it returns nil, meaning telemetry is
// disabled; Publish and Close on a nil *Publisher do nothing.
func NewPublisher(brokerURL, clientID, topic string, log internal.Logger) (*Publisher, error) {
	if brokerURL == "" {
		return nil, nil
	}
	if log == nil {
		log = internal.NopLogger()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("telemetry: timed out connecting to %s", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("telemetry: connect to %s: %w", brokerURL, err)
	}

	return &Publisher{client: client, topic: topic, log: log}, nil
}

// Publish serializes ev and publishes it at QoS 0, best-effort. A nil
// Publisher is a no-op so callers never need a guard.
func (p *Publisher) Publish(ev Event) {
	if p == nil || p.client == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Warnf("telemetry: marshal event: %v", err)
		return
	}
	token := p.client.Publish(p.topic, 0, false, payload)
	go func() {
		if token.WaitTimeout(2*time.Second) && token.Error() != nil {
			p.log.Warnf("telemetry: publish failed: %v", token.Error())
		}
	}()
}

// Close disconnects the underlying MQTT client. Safe on a nil Publisher.
func (p *Publisher) Close() {
	if p == nil || p.client == nil {
		return
	}
	p.client.Disconnect(250)
}
