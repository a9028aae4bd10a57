package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/relaybridge/relay-core/internal/infrastructure/mqtt"
	"github.com/relaybridge/relay-core/internal/queue"
	"github.com/relaybridge/relay-core/internal/topic"
)

// createTopicRequest is the request body for POST /topics.
type createTopicRequest struct {
	Name          string `json:"name"`
	DeviceID      string `json:"device_id"`
	AutoSubscribe bool   `json:"auto_subscribe"`
}

// publishRequest is the request body for POST /publish. QoS and retain
// override the broker defaults for this message; delay (milliseconds)
// defers delivery in queued mode.
type publishRequest struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
	QoS     *int   `json:"qos"`
	Retain  bool   `json:"retain"`
	Delay   int    `json:"delay"`
}

// handleListTopics returns the caller's topics.
func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.topics.ListTopics(r.Context(), currentUser(r).ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": topics})
}

// handleCreateTopic creates a topic and, if flagged, subscribes the
// bridge to it immediately.
func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	var req createTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := mqtt.ValidateTopicName(req.Name); err != nil {
		writeDomainError(w, err)
		return
	}

	record := &topic.Topic{
		Name:          req.Name,
		DeviceID:      req.DeviceID,
		OwnerUserID:   currentUser(r).ID,
		AutoSubscribe: req.AutoSubscribe,
	}
	if err := s.topics.CreateTopic(r.Context(), record); err != nil {
		writeDomainError(w, err)
		return
	}

	if record.AutoSubscribe {
		if err := s.bridge.SubscribeTopic(record.Name); err != nil {
			// Topic exists; subscription will be retried on the next
			// broker reconnect pass.
			s.logger.Warn("topic created but subscribe failed", "topic", record.Name, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, record)
}

// handleGetTopic returns one of the caller's topics with its message count.
func (s *Server) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	record, err := s.topics.GetTopic(r.Context(), chi.URLParam(r, "id"), currentUser(r).ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	count, err := s.topics.CountMessages(r.Context(), record.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"topic":         record,
		"message_count": count,
	})
}

// handleDeleteTopic removes an empty topic and drops its broker
// subscription if no other owner still holds the name. A topic with
// logged messages is guarded against deletion.
func (s *Server) handleDeleteTopic(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	id := chi.URLParam(r, "id")

	record, err := s.topics.GetTopic(r.Context(), id, user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := s.topics.DeleteTopic(r.Context(), id, user.ID); err != nil {
		writeDomainError(w, err)
		return
	}

	if err := s.bridge.UnsubscribeTopic(r.Context(), record.Name); err != nil {
		s.logger.Warn("topic deleted but unsubscribe failed", "topic", record.Name, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleListMessages returns a topic's message log, owner-scoped.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	id := chi.URLParam(r, "id")

	// Confirm ownership before reading the log so an unowned topic reads
	// as 404 rather than an empty list.
	if _, err := s.topics.GetTopic(r.Context(), id, user.ID); err != nil {
		writeDomainError(w, err)
		return
	}

	messages, err := s.topics.ListMessages(r.Context(), id, user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// handlePublish submits a message for one of the caller's topics.
//
// The job goes through the publish queue: accepted for asynchronous
// delivery in queued mode, processed inline in direct mode. In both
// modes a 202 means accepted, not delivered; queue-mode failures after
// acceptance are retried by the worker and never surfaced here.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Message == "" {
		writeBadRequest(w, "message is required")
		return
	}
	if req.QoS != nil && (*req.QoS < 0 || *req.QoS > 2) {
		writeBadRequest(w, "qos must be 0, 1 or 2")
		return
	}
	if req.Delay < 0 {
		writeBadRequest(w, "delay must not be negative")
		return
	}

	user := currentUser(r)

	record, err := s.topics.GetTopicByNameForOwner(r.Context(), req.Topic, user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	job := &queue.Job{
		TopicID:   record.ID,
		TopicName: record.Name,
		Message:   req.Message,
		UserID:    user.ID,
		QoS:       req.QoS,
		Retain:    req.Retain,
		Delay:     time.Duration(req.Delay) * time.Millisecond,
	}
	if err := s.queue.Enqueue(r.Context(), job); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"job_id": job.ID,
		"mode":   s.queue.Mode(),
	})
}
