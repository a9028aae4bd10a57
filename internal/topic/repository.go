package topic

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository defines topic and message persistence.
type Repository interface {
	CreateTopic(ctx context.Context, t *Topic) error
	GetTopic(ctx context.Context, id, ownerUserID string) (*Topic, error)
	GetTopicByName(ctx context.Context, name string) (*Topic, error)
	GetTopicByNameForOwner(ctx context.Context, name, ownerUserID string) (*Topic, error)
	ListTopics(ctx context.Context, ownerUserID string) ([]Topic, error)
	ListAutoSubscribeNames(ctx context.Context) ([]string, error)
	CountTopicsByName(ctx context.Context, name string) (int, error)
	DeleteTopic(ctx context.Context, id, ownerUserID string) error

	AppendMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, topicID, ownerUserID string) ([]Message, error)
	CountMessages(ctx context.Context, topicID string) (int, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewRepository creates a new SQLite-backed topic repository.
func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const topicColumns = "id, name, device_id, owner_user_id, auto_subscribe, created_at"

// CreateTopic inserts a new topic. The ID is generated if empty. A
// duplicate (owner, name) pair fails with ErrTopicExists.
func (r *SQLiteRepository) CreateTopic(ctx context.Context, t *Topic) error {
	if t.ID == "" {
		t.ID = "top-" + uuid.NewString()[:8]
	}

	now := time.Now().UTC().Truncate(time.Second)
	t.CreatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO topics (id, name, device_id, owner_user_id, auto_subscribe, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, nullString(t.DeviceID), t.OwnerUserID,
		boolToInt(t.AutoSubscribe), now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTopicExists
		}
		return fmt.Errorf("creating topic: %w", err)
	}
	return nil
}

// GetTopic retrieves a topic by id, scoped to its owner. A topic owned by
// someone else is reported as not found.
func (r *SQLiteRepository) GetTopic(ctx context.Context, id, ownerUserID string) (*Topic, error) {
	return r.getTopic(ctx,
		"SELECT "+topicColumns+" FROM topics WHERE id = ? AND owner_user_id = ?",
		id, ownerUserID)
}

// GetTopicByName resolves a topic name to its record, used on the inbound
// message path. The name column is indexed so this stays cheap as topic
// count grows. If the same name exists under multiple owners, the oldest
// record wins deterministically.
func (r *SQLiteRepository) GetTopicByName(ctx context.Context, name string) (*Topic, error) {
	return r.getTopic(ctx,
		"SELECT "+topicColumns+" FROM topics WHERE name = ? ORDER BY created_at ASC, id ASC LIMIT 1",
		name)
}

// GetTopicByNameForOwner resolves a topic by name within one owner's
// namespace. Used on the publish path where the caller must own the topic.
func (r *SQLiteRepository) GetTopicByNameForOwner(ctx context.Context, name, ownerUserID string) (*Topic, error) {
	return r.getTopic(ctx,
		"SELECT "+topicColumns+" FROM topics WHERE name = ? AND owner_user_id = ?",
		name, ownerUserID)
}

// ListTopics returns all topics for an owner, oldest first.
func (r *SQLiteRepository) ListTopics(ctx context.Context, ownerUserID string) ([]Topic, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+topicColumns+" FROM topics WHERE owner_user_id = ? ORDER BY created_at ASC",
		ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("listing topics: %w", err)
	}
	defer rows.Close()

	topics := []Topic{}
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating topics: %w", err)
	}
	return topics, nil
}

// ListAutoSubscribeNames returns the distinct names of topics flagged for
// automatic subscription. Read fresh on every broker (re)connect so the
// subscription set never trusts stale in-memory state.
func (r *SQLiteRepository) ListAutoSubscribeNames(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT DISTINCT name FROM topics WHERE auto_subscribe = 1 ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("listing auto-subscribe topics: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning topic name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating topic names: %w", err)
	}
	return names, nil
}

// CountTopicsByName returns how many topics (across all owners) share a
// name. Used to decide whether deleting a topic should also drop the
// broker subscription.
func (r *SQLiteRepository) CountTopicsByName(ctx context.Context, name string) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM topics WHERE name = ?", name).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting topics by name: %w", err)
	}
	return count, nil
}

// DeleteTopic removes a topic, scoped to its owner.
//
// A topic with one or more logged messages cannot be deleted
// (ErrTopicHasMessages). The check and the delete run in one transaction
// so a concurrent inbound message cannot slip between them.
func (r *SQLiteRepository) DeleteTopic(ctx context.Context, id, ownerUserID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting delete transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var count int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM topic_messages WHERE topic_id = ?", id).Scan(&count); err != nil {
		return fmt.Errorf("counting topic messages: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %d messages logged", ErrTopicHasMessages, count)
	}

	result, err := tx.ExecContext(ctx,
		"DELETE FROM topics WHERE id = ? AND owner_user_id = ?", id, ownerUserID)
	if err != nil {
		return fmt.Errorf("deleting topic: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrTopicNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}

// AppendMessage logs an immutable message. The ID is generated if empty.
func (r *SQLiteRepository) AppendMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = "msg-" + uuid.NewString()[:8]
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO topic_messages (id, topic_id, owner_user_id, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.TopicID, m.OwnerUserID, m.Payload, m.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

// ListMessages returns a topic's message log, oldest first, visible only
// to the topic's owner.
func (r *SQLiteRepository) ListMessages(ctx context.Context, topicID, ownerUserID string) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, topic_id, owner_user_id, payload, created_at FROM topic_messages
		 WHERE topic_id = ? AND owner_user_id = ? ORDER BY created_at ASC, id ASC`,
		topicID, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.TopicID, &m.OwnerUserID, &m.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // format is controlled
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}

// CountMessages returns the number of messages logged for a topic.
func (r *SQLiteRepository) CountMessages(ctx context.Context, topicID string) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM topic_messages WHERE topic_id = ?", topicID).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return count, nil
}

// getTopic executes a query and scans a single topic result.
func (r *SQLiteRepository) getTopic(ctx context.Context, query string, args ...any) (*Topic, error) {
	row := r.db.QueryRowContext(ctx, query, args...)

	var t Topic
	var deviceID sql.NullString
	var autoSubscribe int
	var createdAt string

	err := row.Scan(&t.ID, &t.Name, &deviceID, &t.OwnerUserID, &autoSubscribe, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTopicNotFound
		}
		return nil, fmt.Errorf("scanning topic: %w", err)
	}

	t.AutoSubscribe = autoSubscribe != 0
	if deviceID.Valid {
		t.DeviceID = deviceID.String
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled

	return &t, nil
}

// scanTopic scans one topic from a rows cursor positioned on a row.
func scanTopic(rows *sql.Rows) (*Topic, error) {
	var t Topic
	var deviceID sql.NullString
	var autoSubscribe int
	var createdAt string

	if err := rows.Scan(&t.ID, &t.Name, &deviceID, &t.OwnerUserID, &autoSubscribe, &createdAt); err != nil {
		return nil, fmt.Errorf("scanning topic: %w", err)
	}

	t.AutoSubscribe = autoSubscribe != 0
	if deviceID.Valid {
		t.DeviceID = deviceID.String
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled

	return &t, nil
}

// Helper functions.

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "unique constraint"))
}
