package mqtt

import "fmt"

// Payload ceiling (256KB). Everything this system publishes is a small
// JSON document; anything bigger is a bug upstream.
const maxPayloadSize = 256 << 10

// validate rejects the inputs every broker operation shares.
func validate(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

// Publish sends payload to topic and waits for the broker ack.
//
// Retain only state: lock state, door state and health are retained so
// a late subscriber immediately sees the current value. Commands,
// requests and button events must go unretained, because replaying one
// of those to a fresh subscriber would drive hardware.
//
// Parameters:
//   - topic: Destination, e.g. "frontdoor/lock/command"
//   - payload: JSON document
//   - qos: 0 at most once, 1 at least once, 2 exactly once
//   - retained: Whether the broker keeps it for new subscribers
//
// Returns:
//   - error: nil once the broker acks, otherwise the wrapped failure
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload %d bytes exceeds %d",
			ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(ackTimeout) {
		return fmt.Errorf("%w: no ack within %v", ErrPublishFailed, ackTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishString publishes a string payload.
func (c *Client) PublishString(topic, payload string, qos byte, retained bool) error {
	return c.Publish(topic, []byte(payload), qos, retained)
}

// PublishRetained publishes retained at the configured default QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}
