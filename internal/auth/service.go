package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaybridge/relay-core/internal/infrastructure/logging"
)

// SessionMeta carries request metadata recorded on the session at login.
type SessionMeta struct {
	UserAgent string
	IPAddress string
}

// Service orchestrates registration, login, logout, token validation and
// password changes across the user directory, token service and session
// store.
type Service struct {
	users      UserRepository
	sessions   SessionStore
	tokens     *TokenService
	sessionTTL time.Duration
	logger     *logging.Logger
}

// NewService creates the auth service.
//
// Parameters:
//   - users: user directory (SQLite-backed in production)
//   - sessions: session store (Redis-backed in production)
//   - tokens: token issue/verify service
//   - sessionTTL: session lifetime, refreshed on each validation
//   - logger: structured logger
func NewService(users UserRepository, sessions SessionStore, tokens *TokenService, sessionTTL time.Duration, logger *logging.Logger) *Service {
	return &Service{
		users:      users,
		sessions:   sessions,
		tokens:     tokens,
		sessionTTL: sessionTTL,
		logger:     logger.With("component", "auth"),
	}
}

// Register creates a new account and logs it in.
//
// Validates input shape first (email format, password and name length),
// then creates the user. A duplicate email fails with ErrEmailExists
// regardless of call ordering: the UNIQUE constraint on users.email is
// the arbiter, so two concurrent registrations for the same address yield
// exactly one success.
//
// Returns the created user (password hash populated but never serialised)
// and a bearer token bound to a fresh session.
func (s *Service) Register(ctx context.Context, email, password, name string, meta SessionMeta) (*User, string, error) {
	if !IsValidEmail(email) {
		return nil, "", fmt.Errorf("%w: invalid email format", ErrValidation)
	}
	if err := ValidatePassword(password); err != nil {
		return nil, "", err
	}
	if err := ValidateName(name); err != nil {
		return nil, "", err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, "", fmt.Errorf("hashing password: %w", err)
	}

	now := time.Now().UTC()
	user := &User{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		IsActive:     true,
		LastLoginAt:  &now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, "", err
	}

	token, err := s.createSession(ctx, user.ID, meta)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("user registered", "user_id", user.ID)
	return user, token, nil
}

// Login authenticates credentials and issues a session + token.
//
// An unknown email and a wrong password both fail with
// ErrInvalidCredentials, indistinguishable to the caller, to avoid user
// enumeration. A matched but deactivated account fails with
// ErrAccountDeactivated.
func (s *Service) Login(ctx context.Context, email, password string, meta SessionMeta) (*User, string, error) {
	if !IsValidEmail(email) {
		return nil, "", fmt.Errorf("%w: invalid email format", ErrValidation)
	}
	if err := ValidatePassword(password); err != nil {
		return nil, "", err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}

	match, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, "", fmt.Errorf("verifying password: %w", err)
	}
	if !match {
		return nil, "", ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, "", ErrAccountDeactivated
	}

	token, err := s.createSession(ctx, user.ID, meta)
	if err != nil {
		return nil, "", err
	}

	now := time.Now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to record last login", "user_id", user.ID, "error", err)
	}
	user.LastLoginAt = &now

	s.logger.Info("user logged in", "user_id", user.ID)
	return user, token, nil
}

// Logout ends the session referenced by the token.
//
// The token is decoded without signature verification so an expired or
// even tampered token can still end its session; there is no trust
// decision here, only a deletion keyed by session id. Idempotent: returns
// false (not an error) if the session was already gone.
func (s *Service) Logout(ctx context.Context, token string) (bool, error) {
	claims := s.tokens.DecodeUnsafe(token)
	if claims == nil || claims.SessionID == "" {
		return false, ErrTokenInvalid
	}

	deleted, err := s.sessions.Delete(ctx, claims.SessionID)
	if err != nil {
		return false, err
	}
	if deleted {
		s.logger.Info("session ended", "session_id", claims.SessionID)
	}
	return deleted, nil
}

// ValidateToken authenticates a bearer token.
//
// Checks compose in order, short-circuiting on first failure:
//  1. token signature and expiry (TokenService.Verify)
//  2. session exists in the store and is active and unexpired
//  3. user exists and is active
//
// On success the session TTL is refreshed (inactivity extends life) and
// the user and session are returned.
func (s *Service) ValidateToken(ctx context.Context, token string) (*User, *Session, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, nil, fmt.Errorf("%w: session revoked or expired", ErrUnauthorized)
		}
		return nil, nil, err
	}

	if !session.IsValid(time.Now()) {
		return nil, nil, fmt.Errorf("%w: session expired or inactive", ErrUnauthorized)
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil, fmt.Errorf("%w: user no longer exists", ErrUnauthorized)
		}
		return nil, nil, err
	}

	if !user.IsActive {
		return nil, nil, fmt.Errorf("%w: account deactivated", ErrUnauthorized)
	}

	if err := s.sessions.Touch(ctx, session.ID, s.sessionTTL); err != nil {
		// Session may have been revoked between Get and Touch; the
		// validation already succeeded, so only log.
		s.logger.Warn("failed to refresh session", "session_id", session.ID, "error", err)
	}
	session.LastActivity = time.Now().UTC()

	return user, session, nil
}

// ChangePassword re-verifies the current password, persists the new one
// and revokes every session for the user.
//
// The bulk revocation forces re-login on all devices. This is a security
// invariant of the operation, not an optimisation.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	match, err := VerifyPassword(currentPassword, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("verifying password: %w", err)
	}
	if !match {
		return ErrInvalidCredentials
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}

	count, err := s.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		s.logger.Error("password changed but session revocation failed", "user_id", userID, "error", err)
		return fmt.Errorf("revoking sessions: %w", err)
	}

	s.logger.Info("password changed", "user_id", userID, "sessions_revoked", count)
	return nil
}

// RevokeAllUserSessions deletes every session for the user and returns
// how many were removed.
func (s *Service) RevokeAllUserSessions(ctx context.Context, userID string) (int, error) {
	count, err := s.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("sessions revoked", "user_id", userID, "count", count)
	return count, nil
}

// createSession stores a fresh session and issues its bearer token.
func (s *Service) createSession(ctx context.Context, userID string, meta SessionMeta) (string, error) {
	now := time.Now().UTC()
	session := &Session{
		ID:           "ses-" + uuid.NewString(),
		UserID:       userID,
		UserAgent:    meta.UserAgent,
		IPAddress:    meta.IPAddress,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(s.sessionTTL),
		IsActive:     true,
	}

	if err := s.sessions.Put(ctx, session, s.sessionTTL); err != nil {
		return "", fmt.Errorf("storing session: %w", err)
	}

	token, err := s.tokens.Issue(session.ID, userID)
	if err != nil {
		return "", err
	}
	return token, nil
}
