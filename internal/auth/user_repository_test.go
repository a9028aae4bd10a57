package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUserRepositoryCreateAndGet(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)

	user := seedTestUser(t, db, "ann@example.com")
	if user.ID == "" {
		t.Fatal("Create() left ID empty")
	}

	byID, err := repo.GetByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if byID.Email != "ann@example.com" {
		t.Errorf("Email = %q, want ann@example.com", byID.Email)
	}

	byEmail, err := repo.GetByEmail(context.Background(), "ANN@EXAMPLE.COM")
	if err != nil {
		t.Fatalf("GetByEmail() case-insensitive lookup error: %v", err)
	}
	if byEmail.ID != user.ID {
		t.Errorf("GetByEmail() ID = %q, want %q", byEmail.ID, user.ID)
	}
}

func TestUserRepositoryDuplicateEmail(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)

	seedTestUser(t, db, "dup@example.com")

	err := repo.Create(context.Background(), &User{
		Email:        "dup@example.com",
		Name:         "Second",
		PasswordHash: "hash",
		IsActive:     true,
	})
	if !errors.Is(err, ErrEmailExists) {
		t.Errorf("Create(duplicate email) = %v, want ErrEmailExists", err)
	}
}

func TestUserRepositoryGetMissing(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)

	if _, err := repo.GetByID(context.Background(), "usr-missing"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetByID(missing) = %v, want ErrUserNotFound", err)
	}
	if _, err := repo.GetByEmail(context.Background(), "nobody@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetByEmail(missing) = %v, want ErrUserNotFound", err)
	}
}

func TestUserRepositoryUpdatePassword(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	user := seedTestUser(t, db, "pw@example.com")

	if err := repo.UpdatePassword(context.Background(), user.ID, "new-hash"); err != nil {
		t.Fatalf("UpdatePassword() error: %v", err)
	}

	updated, err := repo.GetByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if updated.PasswordHash != "new-hash" {
		t.Errorf("PasswordHash = %q, want new-hash", updated.PasswordHash)
	}

	if err := repo.UpdatePassword(context.Background(), "usr-missing", "x"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("UpdatePassword(missing) = %v, want ErrUserNotFound", err)
	}
}

func TestUserRepositoryUpdateLastLogin(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	user := seedTestUser(t, db, "login@example.com")

	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if err := repo.UpdateLastLogin(context.Background(), user.ID, at); err != nil {
		t.Fatalf("UpdateLastLogin() error: %v", err)
	}

	updated, err := repo.GetByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if updated.LastLoginAt == nil || !updated.LastLoginAt.Equal(at) {
		t.Errorf("LastLoginAt = %v, want %v", updated.LastLoginAt, at)
	}
}

func TestUserRepositoryCount(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)

	count, err := repo.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 0 {
		t.Errorf("Count() = %d, want 0", count)
	}

	seedTestUser(t, db, "one@example.com")
	seedTestUser(t, db, "two@example.com")

	count, err = repo.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 2 {
		t.Errorf("Count() = %d, want 2", count)
	}
}
