package httpapi

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestJWTAuth tests basic token round trips
func TestJWTAuth(t *testing.T) {
	auth := NewJWTAuth("test-secret", time.Hour)

	token, expiresAt, err := auth.GenerateToken("ops", true)
	if err != nil {
		t.Fatalf("Expected no error generating token, got %v", err)
	}
	if token == "" {
		t.Error("Expected non-empty token")
	}
	if until := time.Until(expiresAt); until <= 59*time.Minute || until > time.Hour {
		t.Errorf("Expected expiry about an hour out, got %v", until)
	}

	claims, err := auth.ValidateToken("Bearer " + token)
	if err != nil {
		t.Fatalf("Expected no error validating token, got %v", err)
	}
	if claims.Subject != "ops" {
		t.Errorf("Expected subject 'ops', got '%s'", claims.Subject)
	}
	if !claims.Admin {
		t.Error("Expected admin claim")
	}

	if _, err := auth.ValidateToken("invalid-token"); err == nil {
		t.Error("Expected error for invalid token")
	}
}

func TestJWTAuth_Errors(t *testing.T) {
	auth := NewJWTAuth("test-secret", 0)

	if _, _, err := auth.GenerateToken("", false); !errors.Is(err, ErrEmptySubject) {
		t.Errorf("Expected ErrEmptySubject, got %v", err)
	}
	if _, err := auth.ValidateToken(""); !errors.Is(err, ErrEmptyToken) {
		t.Errorf("Expected ErrEmptyToken, got %v", err)
	}
	if _, err := auth.ValidateToken("Bearer "); !errors.Is(err, ErrEmptyToken) {
		t.Errorf("Expected ErrEmptyToken for bare prefix, got %v", err)
	}

	t.Run("wrong secret", func(t *testing.T) {
		token, _, err := NewJWTAuth("other-secret", 0).GenerateToken("ops", true)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := auth.ValidateToken(token); !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			t.Errorf("Expected signature error, got %v", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		past := NewJWTAuth("test-secret", time.Minute)
		past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		token, _, err := past.GenerateToken("ops", true)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := auth.ValidateToken(token); !errors.Is(err, jwt.ErrTokenExpired) {
			t.Errorf("Expected expiry error, got %v", err)
		}
	})

	t.Run("unsigned", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
			Admin:            true,
			RegisteredClaims: jwt.RegisteredClaims{Subject: "ops", Issuer: "topicrelay"},
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		if err != nil {
			t.Fatal(err)
		}
		_, err = auth.ValidateToken(token)
		if err == nil || !strings.Contains(err.Error(), "invalid token") {
			t.Errorf("Expected unsigned token to be rejected, got %v", err)
		}
	})
}
