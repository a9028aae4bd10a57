package topic

import (
	"errors"
	"time"
)

// Topic is a named MQTT channel owned by a user. The same name may exist
// under different owners (uniqueness is scoped to owner+name) but the
// broker carries a single subscription per name.
type Topic struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	DeviceID      string    `json:"device_id,omitempty"`
	OwnerUserID   string    `json:"owner_user_id"`
	AutoSubscribe bool      `json:"auto_subscribe"`
	CreatedAt     time.Time `json:"created_at"`
}

// Message is an immutable logged record of a payload published or
// received on a topic. Append-only; never updated or individually deleted.
type Message struct {
	ID          string    `json:"id"`
	TopicID     string    `json:"topic_id"`
	OwnerUserID string    `json:"owner_user_id"`
	Payload     string    `json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
}

// Sentinel errors for topic operations.
var (
	ErrTopicNotFound = errors.New("topic not found")
	ErrTopicExists   = errors.New("topic already exists for owner")

	// ErrTopicHasMessages guards deletion: a topic with logged messages
	// cannot be removed.
	ErrTopicHasMessages = errors.New("topic has logged messages")
)
