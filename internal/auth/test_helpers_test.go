package auth

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// testDB creates a temporary SQLite database with the users schema applied.
// The database file is cleaned up when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	// Use a temp file so WAL mode works (in-memory doesn't support it)
	f, err := os.CreateTemp("", "auth-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	dbPath := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(dbPath) })

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	migrationSQL := `
		CREATE TABLE users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			last_login_at TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;

		CREATE UNIQUE INDEX idx_users_email ON users(email);
	`
	if _, err := db.Exec(migrationSQL); err != nil {
		t.Fatalf("applying users migration: %v", err)
	}

	return db
}

// seedTestUser inserts a test user with password "test-password" and returns it.
func seedTestUser(t *testing.T, db *sql.DB, email string) *User {
	t.Helper()

	hash, err := HashPassword("test-password")
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	repo := NewUserRepository(db)
	user := &User{
		Email:        email,
		Name:         "Test User",
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("creating test user %s: %v", email, err)
	}
	return user
}

// fakeSessionStore is an in-memory SessionStore for service tests,
// honouring TTL expiry via stored deadlines.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	expiry   map[string]time.Time
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions: make(map[string]*Session),
		expiry:   make(map[string]time.Time),
	}
}

func (f *fakeSessionStore) Put(_ context.Context, session *Session, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *session
	f.sessions[session.ID] = &copied
	f.expiry[session.ID] = time.Now().Add(ttl)
	return nil
}

func (f *fakeSessionStore) Get(_ context.Context, sessionID string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok || time.Now().After(f.expiry[sessionID]) {
		return nil, ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (f *fakeSessionStore) Touch(_ context.Context, sessionID string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok || time.Now().After(f.expiry[sessionID]) {
		return ErrSessionNotFound
	}
	session.LastActivity = time.Now().UTC()
	f.expiry[sessionID] = time.Now().Add(ttl)
	return nil
}

func (f *fakeSessionStore) Delete(_ context.Context, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sessions[sessionID]
	delete(f.sessions, sessionID)
	delete(f.expiry, sessionID)
	return ok, nil
}

func (f *fakeSessionStore) ListByUser(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, session := range f.sessions {
		if session.UserID == userID && !time.Now().After(f.expiry[id]) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeSessionStore) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	ids, _ := f.ListByUser(ctx, userID) //nolint:errcheck // fake never errors
	count := 0
	for _, id := range ids {
		deleted, _ := f.Delete(ctx, id) //nolint:errcheck // fake never errors
		if deleted {
			count++
		}
	}
	return count, nil
}
