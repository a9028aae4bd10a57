package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims extends JWT standard claims with the Relay Bridge session binding.
// A token is only as valid as the session it references: signature and
// expiry checks happen here, revocation checks happen against the store.
type Claims struct {
	jwt.RegisteredClaims
	UserID    string `json:"uid"`
	SessionID string `json:"sid"`
}

// TokenService issues and verifies signed bearer tokens. Signing key and
// token TTL are process-wide configuration fixed at construction.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a token service with the given HMAC signing
// secret and token lifetime.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// TTL returns the configured token lifetime.
func (ts *TokenService) TTL() time.Duration {
	return ts.ttl
}

// Issue creates a signed token binding the session to the user.
//
// Token expiry and session expiry are configured independently; the
// effective lifetime of a login is the earlier of the two.
func (ts *TokenService) Issue(sessionID, userID string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.ttl)),
			ID:        uuid.NewString(),
		},
		UserID:    userID,
		SessionID: sessionID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify validates the token signature and expiry and returns the claims.
//
// Expired tokens fail with ErrTokenExpired; tampered or malformed tokens
// fail with ErrTokenInvalid. Verification is purely cryptographic and
// never consults the session store. Callers needing revocation semantics
// must check the session separately (Service.ValidateToken does both).
func (ts *TokenService) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return ts.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.UserID == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session binding", ErrTokenInvalid)
	}

	return claims, nil
}

// DecodeUnsafe extracts claims without verifying the signature or expiry.
//
// Used only to recover a session id during logout so an expired token can
// still end its session. Never use the result for trust decisions.
// Returns nil if the token is not structurally decodable.
func (ts *TokenService) DecodeUnsafe(tokenString string) *Claims {
	parser := jwt.NewParser()
	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil
	}
	return claims
}
