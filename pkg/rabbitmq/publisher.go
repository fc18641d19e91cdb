package rabbitmq

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// IPublisher is the publish-side contract. Payloads are string or []byte.
type IPublisher interface {
	PublishMessage(message interface{}) error
	PublishMessageQos(qos byte, retained bool, message interface{}) error
	PublishToQos(topic string, qos byte, retained bool, message interface{}) error
	Close()
}

// Publisher publishes on a default topic through the shared MQTT client;
// PublishToQos overrides the topic per call.
type Publisher struct {
	client mqtt.Client
	topic  string
}

func NewPublisher(client mqtt.Client, topic string) *Publisher {
	return &Publisher{
		client: client,
		topic:  topic,
	}
}

var _ IPublisher = (*Publisher)(nil)

// PublishMessage publishes to the default topic at QoS 0.
func (p *Publisher) PublishMessage(message interface{}) error {
	return p.PublishToQos(p.topic, 0, false, message)
}

// PublishMessageQos publishes to the default topic with explicit QoS.
func (p *Publisher) PublishMessageQos(qos byte, retained bool, message interface{}) error {
	return p.PublishToQos(p.topic, qos, retained, message)
}

// PublishToQos publishes to an explicit topic with explicit QoS.
func (p *Publisher) PublishToQos(topic string, qos byte, retained bool, message interface{}) error {
	payload, err := coercePayload(message)
	if err != nil {
		return err
	}
	token := p.client.Publish(topic, qos, retained, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}
	return nil
}

func coercePayload(message interface{}) ([]byte, error) {
	switch m := message.(type) {
	case []byte:
		return m, nil
	case string:
		return []byte(m), nil
	default:
		return nil, fmt.Errorf("invalid message type %T, expected string or []byte", message)
	}
}

// Close disconnects the underlying client.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
