package auth

import (
	"errors"
	"testing"
	"time"
)

const testSecret = "test-secret-key-at-least-32-characters"

func TestIssueAndVerify(t *testing.T) {
	ts := NewTokenService(testSecret, time.Hour)

	token, err := ts.Issue("ses-1", "usr-1")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	claims, err := ts.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.SessionID != "ses-1" {
		t.Errorf("SessionID = %q, want ses-1", claims.SessionID)
	}
	if claims.UserID != "usr-1" {
		t.Errorf("UserID = %q, want usr-1", claims.UserID)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	ts := NewTokenService(testSecret, -time.Minute)

	token, err := ts.Issue("ses-1", "usr-1")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	_, err = ts.Verify(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Verify() = %v, want ErrTokenExpired", err)
	}
}

func TestVerifyRejectsTampered(t *testing.T) {
	ts := NewTokenService(testSecret, time.Hour)

	token, err := ts.Issue("ses-1", "usr-1")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	tampered := token[:len(token)-4] + "AAAA"
	_, err = ts.Verify(tampered)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Verify(tampered) = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewTokenService(testSecret, time.Hour).Issue("ses-1", "usr-1")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	other := NewTokenService("another-secret-key-32-characters-long", time.Hour)
	if _, err := other.Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Verify(wrong secret) = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	ts := NewTokenService(testSecret, time.Hour)
	if _, err := ts.Verify("not-a-jwt"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Verify(garbage) = %v, want ErrTokenInvalid", err)
	}
}

func TestDecodeUnsafeRecoversExpiredToken(t *testing.T) {
	ts := NewTokenService(testSecret, -time.Minute)

	token, err := ts.Issue("ses-expired", "usr-1")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	claims := ts.DecodeUnsafe(token)
	if claims == nil {
		t.Fatal("DecodeUnsafe() = nil for structurally valid token")
	}
	if claims.SessionID != "ses-expired" {
		t.Errorf("SessionID = %q, want ses-expired", claims.SessionID)
	}
}

func TestDecodeUnsafeReturnsNilForGarbage(t *testing.T) {
	ts := NewTokenService(testSecret, time.Hour)
	if claims := ts.DecodeUnsafe("garbage"); claims != nil {
		t.Errorf("DecodeUnsafe(garbage) = %+v, want nil", claims)
	}
}
