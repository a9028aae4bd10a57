package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectionFailed is returned when the initial broker connection fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrNotConnected is returned when an operation requires an active
	// connection but the client is currently disconnected. The publish
	// queue treats this distinctly from broker rejections: a disconnected
	// publish is retried, not failed.
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrPublishFailed is returned when the broker does not acknowledge a
	// publish within the timeout, or rejects it.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe or unsubscribe
	// operation fails at the broker.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidTopic is returned when a topic name or filter fails validation.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrInvalidQoS is returned when a QoS level outside 0-2 is requested.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS")
)
