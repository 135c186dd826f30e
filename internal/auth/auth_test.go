package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("secret", "identity", "trading")
	userID := uuid.New()

	token, err := v.Issue(userID, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	got, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != userID {
		t.Fatalf("expected %s, got %s", userID, got)
	}
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("secret", "", "")
	other := NewVerifier("other-secret", "", "")
	wrongSecret, _ := other.Issue(uuid.New(), time.Minute)
	expired, _ := v.Issue(uuid.New(), -time.Minute)
	notUUID, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice"}).SignedString([]byte("secret"))

	cases := map[string]string{
		"wrong secret": wrongSecret,
		"expired":      expired,
		"subject":      notUUID,
		"garbage":      "not-a-token",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
	if _, err := v.Verify(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}

func TestVerifier_ChecksAudience(t *testing.T) {
	issuer := NewVerifier("secret", "", "billing")
	token, _ := issuer.Issue(uuid.New(), time.Minute)

	if _, err := NewVerifier("secret", "", "trading").Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected audience mismatch, got %v", err)
	}
}

func TestRequestToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/messagehub?access_token=from-query", nil)
	if got := RequestToken(r); got != "from-query" {
		t.Fatalf("expected query token, got %q", got)
	}
	r.Header.Set("Authorization", "Bearer from-header")
	if got := RequestToken(r); got != "from-header" {
		t.Fatalf("expected header token, got %q", got)
	}
	if got := BearerToken("Basic abc"); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
}
