// Package mqtt provides the broker connection for Relay Bridge.
//
// It wraps eclipse/paho.mqtt.golang with connection lifecycle management,
// tracked subscriptions, Last Will and Testament for crash detection, and
// panic-recovering message handlers.
//
// The client is connection-oriented infrastructure only: it knows nothing
// about topics stored in the database or message persistence. That wiring
// lives in internal/bridge, which drives this client through subscribe,
// publish and the OnConnect re-subscription callback.
package mqtt
