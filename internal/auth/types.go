package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// emailPattern is a pragmatic email shape check, not full RFC 5322.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Input validation bounds.
const (
	minPasswordLength = 6
	maxPasswordLength = 128
	minNameLength     = 2
	maxNameLength     = 64
	maxEmailLength    = 254
)

// IsValidEmail checks if an email address meets format requirements.
func IsValidEmail(email string) bool {
	return len(email) <= maxEmailLength && emailPattern.MatchString(email)
}

// ValidatePassword checks password length bounds.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be at most %d characters", ErrValidation, maxPasswordLength)
	}
	return nil
}

// ValidateName checks display name length bounds.
func ValidateName(name string) error {
	if len(name) < minNameLength {
		return fmt.Errorf("%w: name must be at least %d characters", ErrValidation, minNameLength)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name must be at most %d characters", ErrValidation, maxNameLength)
	}
	return nil
}

// User represents an authenticated account.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"` // never serialised
	IsActive     bool       `json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Session binds a bearer token to a user and a validity window. Sessions
// live in the session store (Redis) as string-keyed hashes; the bearer
// token carries only the session id and user id.
//
// A session is valid iff IsActive AND now < ExpiresAt AND the backing
// record still exists in the store. Store absence invalidates even a
// cryptographically valid token.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	UserAgent    string    `json:"user_agent,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
	IsActive     bool      `json:"is_active"`
}

// IsValid reports whether the session is active and unexpired at the
// given instant.
func (s *Session) IsValid(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

// StoreFormat converts the session to the string-keyed map stored as a
// Redis hash. Timestamps use RFC 3339 with sub-second precision so a
// round trip preserves them to the millisecond.
func (s *Session) StoreFormat() map[string]string {
	return map[string]string{
		"session_id":    s.ID,
		"user_id":       s.UserID,
		"user_agent":    s.UserAgent,
		"ip_address":    s.IPAddress,
		"created_at":    s.CreatedAt.UTC().Format(time.RFC3339Nano),
		"last_activity": s.LastActivity.UTC().Format(time.RFC3339Nano),
		"expires_at":    s.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"is_active":     strconv.FormatBool(s.IsActive),
	}
}

// SessionFromStoreFormat reconstructs a session from its store
// representation. Returns an error if any required field is missing or
// malformed.
func SessionFromStoreFormat(fields map[string]string) (*Session, error) {
	if fields["session_id"] == "" || fields["user_id"] == "" {
		return nil, errors.New("session record missing required fields")
	}

	s := &Session{
		ID:        fields["session_id"],
		UserID:    fields["user_id"],
		UserAgent: fields["user_agent"],
		IPAddress: fields["ip_address"],
	}

	var err error
	if s.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, errors.New("session record has malformed created_at")
	}
	if s.LastActivity, err = time.Parse(time.RFC3339Nano, fields["last_activity"]); err != nil {
		return nil, errors.New("session record has malformed last_activity")
	}
	if s.ExpiresAt, err = time.Parse(time.RFC3339Nano, fields["expires_at"]); err != nil {
		return nil, errors.New("session record has malformed expires_at")
	}

	s.IsActive = fields["is_active"] == "true"

	return s, nil
}

// Sentinel errors for auth operations.
var (
	ErrValidation         = errors.New("validation failed")
	ErrEmailExists        = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDeactivated = errors.New("account is deactivated")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrUserNotFound       = errors.New("user not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenInvalid       = errors.New("invalid token")
)
