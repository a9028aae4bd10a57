package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/relaybridge/relay-core/internal/auth"
	"github.com/relaybridge/relay-core/internal/bridge"
	"github.com/relaybridge/relay-core/internal/infrastructure/config"
	"github.com/relaybridge/relay-core/internal/infrastructure/logging"
	"github.com/relaybridge/relay-core/internal/infrastructure/mqtt"
	"github.com/relaybridge/relay-core/internal/queue"
	"github.com/relaybridge/relay-core/internal/topic"
)

const testSecret = "api-test-secret-at-least-32-characters"

// memorySessionStore is an in-memory auth.SessionStore for handler tests.
type memorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*auth.Session
	expiry   map[string]time.Time
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{
		sessions: make(map[string]*auth.Session),
		expiry:   make(map[string]time.Time),
	}
}

func (m *memorySessionStore) Put(_ context.Context, s *auth.Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *s
	m.sessions[s.ID] = &copied
	m.expiry[s.ID] = time.Now().Add(ttl)
	return nil
}

func (m *memorySessionStore) Get(_ context.Context, id string) (*auth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || time.Now().After(m.expiry[id]) {
		return nil, auth.ErrSessionNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *memorySessionStore) Touch(_ context.Context, id string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return auth.ErrSessionNotFound
	}
	s.LastActivity = time.Now().UTC()
	m.expiry[id] = time.Now().Add(ttl)
	return nil
}

func (m *memorySessionStore) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	delete(m.expiry, id)
	return ok, nil
}

func (m *memorySessionStore) ListByUser(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, s := range m.sessions {
		if s.UserID == userID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memorySessionStore) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	ids, _ := m.ListByUser(ctx, userID) //nolint:errcheck // fake never errors
	count := 0
	for _, id := range ids {
		deleted, _ := m.Delete(ctx, id) //nolint:errcheck // fake never errors
		if deleted {
			count++
		}
	}
	return count, nil
}

// fakeBroker implements bridge.MQTTClient with echo-back delivery. The
// options of the most recent publish are recorded for assertions.
type fakeBroker struct {
	mu           sync.Mutex
	connected    bool
	handlers     map[string]mqtt.MessageHandler
	lastQoS      *byte
	lastRetained bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{connected: true, handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeBroker) deliver(name string, payload []byte, qos *byte, retained bool) error {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return mqtt.ErrNotConnected
	}
	f.lastQoS = qos
	f.lastRetained = retained
	handler := f.handlers[name]
	f.mu.Unlock()
	if handler != nil {
		handler(name, payload) //nolint:errcheck // handler errors are logged, not propagated
	}
	return nil
}

func (f *fakeBroker) Publish(name string, payload []byte) error {
	return f.deliver(name, payload, nil, false)
}

func (f *fakeBroker) PublishRetained(name string, payload []byte) error {
	return f.deliver(name, payload, nil, true)
}

func (f *fakeBroker) PublishWithOptions(name string, payload []byte, qos byte, retained bool) error {
	return f.deliver(name, payload, &qos, retained)
}

func (f *fakeBroker) lastPublishOptions() (*byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQoS, f.lastRetained
}

func (f *fakeBroker) Subscribe(name string, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = handler
	return nil
}

func (f *fakeBroker) Unsubscribe(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, name)
	return nil
}

func (f *fakeBroker) HasSubscription(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[name]
	return ok
}

func (f *fakeBroker) SetOnConnect(func()) {}
func (f *fakeBroker) IsConnected() bool   { return f.connected }

// testEnv is a fully wired in-process stack behind an httptest server.
type testEnv struct {
	router http.Handler
	broker *fakeBroker
	topics topic.Repository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	f, err := os.CreateTemp("", "api-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	dbPath := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(dbPath) })

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			last_login_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;

		CREATE TABLE topics (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			device_id TEXT,
			owner_user_id TEXT NOT NULL,
			auto_subscribe INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			UNIQUE (owner_user_id, name)
		) STRICT;
		CREATE INDEX idx_topics_name ON topics(name);

		CREATE TABLE topic_messages (
			id TEXT PRIMARY KEY,
			topic_id TEXT NOT NULL,
			owner_user_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL
		) STRICT;
		CREATE INDEX idx_topic_messages_topic ON topic_messages(topic_id);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("applying schema: %v", err)
	}

	logger := logging.Default()
	topics := topic.NewRepository(db)
	broker := newFakeBroker()
	bridgeSvc := bridge.NewService(broker, topics, logger)

	authSvc := auth.NewService(
		auth.NewUserRepository(db),
		newMemorySessionStore(),
		auth.NewTokenService(testSecret, time.Hour),
		24*time.Hour,
		logger,
	)

	// Direct-mode queue: publishes run inline through the bridge.
	q := queue.New(nil, queue.ProcessorFunc(func(ctx context.Context, job *queue.Job) error {
		return bridgeSvc.SaveAndPublishWithOptions(ctx, job.TopicID, job.TopicName, job.Message, job.UserID,
			bridge.PublishOptions{QoS: job.QoS, Retain: job.Retain})
	}), config.Queue{Concurrency: 1, MaxAttempts: 3, BackoffBase: 10, FailedRetention: 10, CompletedRetention: 10},
		10*time.Millisecond, logger)

	server, err := New(Deps{
		Config:  config.API{Host: "127.0.0.1", Port: 0},
		Logger:  logger,
		Auth:    authSvc,
		Topics:  topics,
		Bridge:  bridgeSvc,
		Queue:   q,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}

	return &testEnv{
		router: server.buildRouter(),
		broker: broker,
		topics: topics,
	}
}

// do performs a JSON request against the router and decodes the response.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	decoded := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

// register creates an account and returns its token.
func (e *testEnv) register(t *testing.T, email, password, name string) string {
	t.Helper()
	rec, body := e.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": email, "password": password, "name": name,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register = %d: %s", rec.Code, rec.Body.String())
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("register returned no token")
	}
	return token
}

func TestRegisterLoginChangePasswordFlow(t *testing.T) {
	env := newTestEnv(t)

	t1 := env.register(t, "a@x.com", "pw123456", "Ann")

	// Login issues a second, distinct token; both validate.
	rec, body := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "a@x.com", "password": "pw123456",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", rec.Code, rec.Body.String())
	}
	t2, _ := body["token"].(string)
	if t2 == "" || t2 == t1 {
		t.Fatalf("login token = %q, want fresh token distinct from register's", t2)
	}

	for _, token := range []string{t1, t2} {
		if rec, _ := env.do(t, http.MethodGet, "/api/v1/auth/me", token, nil); rec.Code != http.StatusOK {
			t.Fatalf("me(pre-change) = %d", rec.Code)
		}
	}

	// Password change revokes every session.
	rec, _ = env.do(t, http.MethodPost, "/api/v1/auth/change-password", t2, map[string]string{
		"current_password": "pw123456", "new_password": "newpw9876",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("change-password = %d: %s", rec.Code, rec.Body.String())
	}

	for _, token := range []string{t1, t2} {
		if rec, _ := env.do(t, http.MethodGet, "/api/v1/auth/me", token, nil); rec.Code != http.StatusUnauthorized {
			t.Errorf("me(post-change) = %d, want 401", rec.Code)
		}
	}

	// Re-login with the new password works.
	rec, body = env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "a@x.com", "password": "newpw9876",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("re-login = %d: %s", rec.Code, rec.Body.String())
	}
	if t3, _ := body["token"].(string); t3 == "" {
		t.Fatal("re-login returned no token")
	}
}

func TestRegisterDuplicateAndValidation(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "a@x.com", "pw123456", "Ann")

	rec, _ := env.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": "a@x.com", "password": "pw123456", "name": "Ann Again",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("register(duplicate) = %d, want 409", rec.Code)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": "b@x.com", "password": "pw1", "name": "Bob",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("register(short password) = %d, want 400", rec.Code)
	}
}

func TestLoginFailureCodes(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "a@x.com", "pw123456", "Ann")

	for name, creds := range map[string]map[string]string{
		"unknown email":  {"email": "b@x.com", "password": "pw123456"},
		"wrong password": {"email": "a@x.com", "password": "wrong-password"},
	} {
		rec, _ := env.do(t, http.MethodPost, "/api/v1/auth/login", "", creds)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("login(%s) = %d, want 401", name, rec.Code)
		}
	}
}

func TestBareTokenAccepted(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "a@x.com", "pw123456", "Ann")

	// Authorization header without the Bearer prefix.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", token)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("me(bare token) = %d, want 200", rec.Code)
	}
}

func TestLogoutIdempotent(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "a@x.com", "pw123456", "Ann")

	rec, body := env.do(t, http.MethodPost, "/api/v1/auth/logout", token, nil)
	if rec.Code != http.StatusOK || body["session"] != "ended" {
		t.Fatalf("logout = %d %v, want 200 ended", rec.Code, body)
	}

	rec, body = env.do(t, http.MethodPost, "/api/v1/auth/logout", token, nil)
	if rec.Code != http.StatusOK || body["session"] != "not found" {
		t.Errorf("logout(again) = %d %v, want 200 not found", rec.Code, body)
	}
}

func TestTopicLifecycleWithPublish(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "a@x.com", "pw123456", "Ann")

	// Create with auto-subscribe: broker subscription appears.
	rec, body := env.do(t, http.MethodPost, "/api/v1/topics/", token, map[string]any{
		"name": "sensors/t1", "auto_subscribe": true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create topic = %d: %s", rec.Code, rec.Body.String())
	}
	topicID, _ := body["id"].(string)
	if !env.broker.HasSubscription("sensors/t1") {
		t.Error("broker subscription missing after auto-subscribe create")
	}

	// Publish as owner: direct mode processes inline, message logged once.
	rec, body = env.do(t, http.MethodPost, "/api/v1/publish", token, map[string]string{
		"topic": "sensors/t1", "message": "42",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("publish = %d: %s", rec.Code, rec.Body.String())
	}
	if body["mode"] != "direct" {
		t.Errorf("publish mode = %v, want direct", body["mode"])
	}

	rec, body = env.do(t, http.MethodGet, "/api/v1/topics/"+topicID+"/messages", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("messages = %d: %s", rec.Code, rec.Body.String())
	}
	messages, _ := body["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("message count = %d, want exactly 1", len(messages))
	}

	// Delete with logged messages: guarded.
	rec, _ = env.do(t, http.MethodDelete, "/api/v1/topics/"+topicID+"/", token, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("delete(with messages) = %d, want 409", rec.Code)
	}
}

func TestDeleteEmptyTopicUnsubscribes(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "a@x.com", "pw123456", "Ann")

	rec, body := env.do(t, http.MethodPost, "/api/v1/topics/", token, map[string]any{
		"name": "sensors/empty", "auto_subscribe": true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create topic = %d", rec.Code)
	}
	topicID, _ := body["id"].(string)

	rec, _ = env.do(t, http.MethodDelete, "/api/v1/topics/"+topicID+"/", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete(empty) = %d: %s", rec.Code, rec.Body.String())
	}
	if env.broker.HasSubscription("sensors/empty") {
		t.Error("broker subscription survived topic deletion")
	}
}

func TestPublishWithQoSAndRetain(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "a@x.com", "pw123456", "Ann")

	rec, _ := env.do(t, http.MethodPost, "/api/v1/topics/", token, map[string]any{"name": "sensors/t1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create topic = %d", rec.Code)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/v1/publish", token, map[string]any{
		"topic": "sensors/t1", "message": "42", "qos": 2, "retain": true,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("publish(qos 2, retain) = %d: %s", rec.Code, rec.Body.String())
	}

	qos, retained := env.broker.lastPublishOptions()
	if qos == nil || *qos != 2 {
		t.Errorf("broker qos = %v, want 2", qos)
	}
	if !retained {
		t.Error("broker publish not retained")
	}
}

func TestPublishRejectsBadOptions(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "a@x.com", "pw123456", "Ann")

	rec, _ := env.do(t, http.MethodPost, "/api/v1/topics/", token, map[string]any{"name": "sensors/t1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create topic = %d", rec.Code)
	}

	for name, body := range map[string]map[string]any{
		"qos too high":   {"topic": "sensors/t1", "message": "42", "qos": 3},
		"qos negative":   {"topic": "sensors/t1", "message": "42", "qos": -1},
		"delay negative": {"topic": "sensors/t1", "message": "42", "delay": -100},
	} {
		rec, _ := env.do(t, http.MethodPost, "/api/v1/publish", token, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("publish(%s) = %d, want 400", name, rec.Code)
		}
	}
}

func TestPublishToUnownedTopic(t *testing.T) {
	env := newTestEnv(t)
	owner := env.register(t, "owner@x.com", "pw123456", "Owner")
	other := env.register(t, "other@x.com", "pw123456", "Other")

	rec, _ := env.do(t, http.MethodPost, "/api/v1/topics/", owner, map[string]any{"name": "sensors/private"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create topic = %d", rec.Code)
	}

	// Someone else's topic reads as not found.
	rec, _ = env.do(t, http.MethodPost, "/api/v1/publish", other, map[string]string{
		"topic": "sensors/private", "message": "intrusion",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("publish(unowned) = %d, want 404", rec.Code)
	}
}

func TestPublishBrokerDown(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "a@x.com", "pw123456", "Ann")

	rec, _ := env.do(t, http.MethodPost, "/api/v1/topics/", token, map[string]any{"name": "sensors/t1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create topic = %d", rec.Code)
	}

	env.broker.connected = false

	// Direct mode surfaces the broker failure as 503.
	rec, _ = env.do(t, http.MethodPost, "/api/v1/publish", token, map[string]string{
		"topic": "sensors/t1", "message": "42",
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("publish(broker down) = %d, want 503", rec.Code)
	}
}

func TestCreateTopicInvalidName(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "a@x.com", "pw123456", "Ann")

	rec, _ := env.do(t, http.MethodPost, "/api/v1/topics/", token, map[string]any{"name": "sensors/+/bad"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("create(wildcard name) = %d, want 400", rec.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/v1/auth/me"},
		{http.MethodGet, "/api/v1/topics/"},
		{http.MethodPost, "/api/v1/publish"},
	}
	for _, p := range paths {
		rec, _ := env.do(t, p.method, p.path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token = %d, want 401", p.method, p.path, rec.Code)
		}
	}
}

func TestHealthReportsQueueMode(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d: %s", rec.Code, rec.Body.String())
	}
	if body["queue_mode"] != "direct" {
		t.Errorf("queue_mode = %v, want direct", body["queue_mode"])
	}
}
