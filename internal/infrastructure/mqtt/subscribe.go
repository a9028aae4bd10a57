package mqtt

import (
	"fmt"
)

// Subscribe registers a handler for messages on the specified topic.
//
// The subscription is tracked internally so HasSubscription can answer
// without a broker round trip. Subscribing to a topic that already has a
// tracked subscription replaces the handler.
//
// Parameters:
//   - topic: Topic to subscribe to (wildcards + and # allowed)
//   - handler: Callback invoked for each received message
//
// Returns:
//   - error: ErrNotConnected if disconnected, ErrSubscribeFailed on broker error
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	return c.SubscribeWithQoS(topic, byte(c.cfg.QoS), handler)
}

// SubscribeWithQoS registers a handler with an explicit QoS level.
func (c *Client) SubscribeWithQoS(topic string, qos byte, handler MessageHandler) error {
	if err := ValidateSubscriptionFilter(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return fmt.Errorf("%w: QoS %d (max %d)", ErrInvalidQoS, qos, maxQoS)
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	}

	if !c.IsConnected() {
		return fmt.Errorf("%w: cannot subscribe to %s", ErrNotConnected, topic)
	}

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))

	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout subscribing to %s", ErrSubscribeFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{
		topic:   topic,
		qos:     qos,
		handler: handler,
	}
	c.subMu.Unlock()

	return nil
}

// Unsubscribe removes the subscription for the specified topic.
//
// Unsubscribing from a topic with no tracked subscription is a no-op
// and returns nil.
func (c *Client) Unsubscribe(topic string) error {
	c.subMu.Lock()
	_, exists := c.subscriptions[topic]
	if exists {
		delete(c.subscriptions, topic)
	}
	c.subMu.Unlock()

	if !exists {
		return nil
	}

	if !c.IsConnected() {
		return fmt.Errorf("%w: cannot unsubscribe from %s", ErrNotConnected, topic)
	}

	token := c.client.Unsubscribe(topic)

	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout unsubscribing from %s", ErrSubscribeFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}

	return nil
}

// HasSubscription reports whether a subscription is tracked for the topic.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.subscriptions[topic]
	return ok
}

// Subscriptions returns the topics with tracked subscriptions.
//
// The returned slice is a snapshot; concurrent Subscribe/Unsubscribe
// calls are not reflected.
func (c *Client) Subscriptions() []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	topics := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		topics = append(topics, topic)
	}
	return topics
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}
