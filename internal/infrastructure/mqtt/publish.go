package mqtt

import (
	"fmt"
)

// Publish sends a message to the specified MQTT topic and waits for the
// broker to acknowledge delivery at the configured QoS.
//
// Blocking on the ack (rather than fire-and-forget) means callers on the
// synchronous publish path get a definitive success or failure for every
// message, at the cost of per-call latency up to defaultPublishTimeout.
//
// Parameters:
//   - topic: Full topic path (e.g., "sensors/greenhouse/temp")
//   - payload: Message payload (typically JSON)
//
// Returns:
//   - error: ErrNotConnected if disconnected, ErrPublishFailed on broker error
func (c *Client) Publish(topic string, payload []byte) error {
	return c.PublishWithOptions(topic, payload, byte(c.cfg.QoS), false)
}

// PublishRetained sends a message with the retained flag set.
//
// Retained messages are stored by the broker and delivered to new
// subscribers immediately upon subscription. Used for status topics
// where late joiners need the last known value.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.PublishWithOptions(topic, payload, byte(c.cfg.QoS), true)
}

// PublishWithOptions sends a message with explicit QoS and retained settings.
//
// Parameters:
//   - topic: Full topic path
//   - payload: Message payload
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain this message
//
// Returns:
//   - error: Validation, connection, or broker error
func (c *Client) PublishWithOptions(topic string, payload []byte, qos byte, retained bool) error {
	if err := ValidateTopicName(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return fmt.Errorf("%w: QoS %d (max %d)", ErrInvalidQoS, qos, maxQoS)
	}

	if !c.IsConnected() {
		return fmt.Errorf("%w: cannot publish to %s", ErrNotConnected, topic)
	}

	token := c.client.Publish(topic, qos, retained, payload)

	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout publishing to %s", ErrPublishFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}

	return nil
}
