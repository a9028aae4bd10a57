// Package bridge wires stored topics to the live MQTT connection.
//
// Outbound it offers two shapes: Publish sends the plain {message,
// userId} wire payload and relies on the broker echo for logging, while
// SaveAndPublish persists first and marks the payload so the echo is
// suppressed. Inbound it resolves topic names to stored records and
// appends to the append-only message log.
//
// The subscription set is never trusted from memory across reconnects:
// every broker connect triggers a fresh read of the auto-subscribe topic
// names from the repository.
package bridge
