package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relaybridge/relay-core/internal/infrastructure/logging"
	"github.com/relaybridge/relay-core/internal/infrastructure/mqtt"
	"github.com/relaybridge/relay-core/internal/topic"
)

// MQTTClient is the broker surface the bridge drives. Satisfied by
// *mqtt.Client; narrowed to an interface so tests can substitute a fake
// broker.
type MQTTClient interface {
	Publish(topicName string, payload []byte) error
	PublishRetained(topicName string, payload []byte) error
	PublishWithOptions(topicName string, payload []byte, qos byte, retained bool) error
	Subscribe(topicName string, handler mqtt.MessageHandler) error
	Unsubscribe(topicName string) error
	HasSubscription(topicName string) bool
	SetOnConnect(callback func())
	IsConnected() bool
}

// wireMessage is the JSON payload format on the broker.
//
// User-initiated publishes carry {message, userId}. Worker and
// sync-fallback publishes add timestamp and the _alreadySaved marker: the
// message was persisted before publishing, so the inbound handler must
// not log the echo a second time. The marker is a private convention
// between the save-then-publish path and HandleInbound, not public API.
type wireMessage struct {
	Message      string `json:"message"`
	UserID       string `json:"userId"`
	Timestamp    string `json:"timestamp,omitempty"`
	AlreadySaved bool   `json:"_alreadySaved,omitempty"`
}

// Service is the bridge between stored topics and the live broker
// connection.
//
// It owns inbound message logging, subscription lifecycle for stored
// topics, and the two outbound publish shapes (direct and
// persist-then-publish).
type Service struct {
	client MQTTClient
	repo   topic.Repository
	logger *logging.Logger
}

// NewService creates the bridge.
func NewService(client MQTTClient, repo topic.Repository, logger *logging.Logger) *Service {
	return &Service{
		client: client,
		repo:   repo,
		logger: logger.With("component", "bridge"),
	}
}

// Start wires the reconnect hook and performs the initial subscription
// pass. On every broker (re)connect the full auto-subscribe set is read
// fresh from the repository, so broker-side subscription state lost
// during a disconnect is always restored from persistent truth rather
// than an in-memory mirror.
func (s *Service) Start(ctx context.Context) error {
	s.client.SetOnConnect(func() {
		// Reconnect callbacks run on the broker client's goroutine;
		// bound the repository work.
		resubCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.ResubscribeAll(resubCtx)
	})

	if s.client.IsConnected() {
		s.ResubscribeAll(ctx)
	}
	return nil
}

// ResubscribeAll subscribes to every stored auto-subscribe topic name.
// Failures are logged per topic and do not abort the pass.
func (s *Service) ResubscribeAll(ctx context.Context) {
	names, err := s.repo.ListAutoSubscribeNames(ctx)
	if err != nil {
		s.logger.Error("failed to load subscription set", "error", err)
		return
	}

	for _, name := range names {
		if err := s.client.Subscribe(name, s.HandleInbound); err != nil {
			s.logger.Error("failed to subscribe", "topic", name, "error", err)
			continue
		}
	}
	s.logger.Info("subscription set restored", "topics", len(names))
}

// SubscribeTopic subscribes the inbound handler to a topic name. Already
// subscribed is a logged no-op, not an error.
func (s *Service) SubscribeTopic(name string) error {
	if s.client.HasSubscription(name) {
		s.logger.Warn("already subscribed", "topic", name)
		return nil
	}
	if err := s.client.Subscribe(name, s.HandleInbound); err != nil {
		return err
	}
	s.logger.Info("subscribed", "topic", name)
	return nil
}

// UnsubscribeTopic drops the broker subscription for a topic name if no
// remaining stored topic still needs it. Called after a topic delete; the
// same name under another owner keeps the subscription alive.
func (s *Service) UnsubscribeTopic(ctx context.Context, name string) error {
	remaining, err := s.repo.CountTopicsByName(ctx, name)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}

	if err := s.client.Unsubscribe(name); err != nil {
		return err
	}
	s.logger.Info("unsubscribed", "topic", name)
	return nil
}

// Publish sends a user-initiated message to the broker.
//
// The payload is the direct wire shape {message, userId} with no
// persistence marker: if the bridge is subscribed to the topic, the
// broker echo flows back through HandleInbound and is logged there
// exactly once. Fails with mqtt.ErrNotConnected while disconnected.
func (s *Service) Publish(topicName, message, userID string) error {
	payload, err := json.Marshal(wireMessage{
		Message: message,
		UserID:  userID,
	})
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	return s.client.Publish(topicName, payload)
}

// PublishOptions carries per-message broker delivery overrides. A nil
// QoS keeps the client's configured level.
type PublishOptions struct {
	QoS    *int
	Retain bool
}

// SaveAndPublish persists the message to the topic log, then publishes it
// with the _alreadySaved marker so the inbound echo is not logged again.
//
// Used by the queue worker and the synchronous fallback path. The save
// happens strictly before the publish; a failed save aborts the publish,
// and a failed publish leaves the saved message in place (the log is the
// durable record, broker delivery is at-least-once via queue retry).
func (s *Service) SaveAndPublish(ctx context.Context, topicID, topicName, message, userID string) error {
	return s.SaveAndPublishWithOptions(ctx, topicID, topicName, message, userID, PublishOptions{})
}

// SaveAndPublishWithOptions is SaveAndPublish with per-message QoS and
// retain overrides applied to the outbound broker publish.
func (s *Service) SaveAndPublishWithOptions(ctx context.Context, topicID, topicName, message, userID string, opts PublishOptions) error {
	now := time.Now().UTC()

	if err := s.repo.AppendMessage(ctx, &topic.Message{
		TopicID:     topicID,
		OwnerUserID: userID,
		Payload:     message,
		CreatedAt:   now,
	}); err != nil {
		return fmt.Errorf("persisting message: %w", err)
	}

	payload, err := json.Marshal(wireMessage{
		Message:      message,
		UserID:       userID,
		Timestamp:    now.Format(time.RFC3339Nano),
		AlreadySaved: true,
	})
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	switch {
	case opts.QoS != nil:
		return s.client.PublishWithOptions(topicName, payload, byte(*opts.QoS), opts.Retain)
	case opts.Retain:
		return s.client.PublishRetained(topicName, payload)
	default:
		return s.client.Publish(topicName, payload)
	}
}

// HandleInbound is the broker message handler for all subscribed topics.
//
// It resolves the topic name to its stored record and appends the message
// to the log. Echo-suppressed payloads (the _alreadySaved marker) are
// skipped. Messages for unknown topic names are dropped with a warning,
// never buffered or retried.
//
// Runs on the broker client's receive path, concurrently with publishes.
func (s *Service) HandleInbound(topicName string, payload []byte) error {
	var wm wireMessage
	content := string(payload)
	if err := json.Unmarshal(payload, &wm); err == nil {
		if wm.AlreadySaved {
			s.logger.Debug("skipping self-published message", "topic", topicName)
			return nil
		}
		if wm.Message != "" {
			content = wm.Message
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	record, err := s.repo.GetTopicByName(ctx, topicName)
	if err != nil {
		s.logger.Warn("dropping message for unknown topic", "topic", topicName)
		return nil
	}

	// Inbound device messages carry no trusted user identity; the log
	// entry is owned by the topic's owner.
	if err := s.repo.AppendMessage(ctx, &topic.Message{
		TopicID:     record.ID,
		OwnerUserID: record.OwnerUserID,
		Payload:     content,
	}); err != nil {
		return fmt.Errorf("logging inbound message: %w", err)
	}

	s.logger.Debug("inbound message logged", "topic", topicName)
	return nil
}
