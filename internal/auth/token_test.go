package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewTokenRoundTrip(t *testing.T) {
	secret := []byte("secret")
	token, issued, err := NewToken(secret, "user-1", "Avery", "editor", time.Hour)
	if err != nil {
		t.Fatalf("NewToken() error = %v", err)
	}
	if issued.JTI == "" {
		t.Fatal("expected a generated jti")
	}
	claims, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Sub != "user-1" || claims.Name != "Avery" || claims.Role != "editor" || claims.JTI != issued.JTI {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{Sub: "user-1", Name: "Avery", Role: "editor", Exp: time.Now().Add(-time.Minute).Unix()})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenAtUsesGivenClock(t *testing.T) {
	secret := []byte("secret")
	exp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	issued, err := IssueToken(secret, Claims{Sub: "u", Name: "n", Exp: exp.Unix()})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseTokenAt(secret, issued, exp.Add(-time.Second)); err != nil {
		t.Fatalf("expected token valid before expiry, got %v", err)
	}
	if _, err := ParseTokenAt(secret, issued, exp); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken at expiry, got %v", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	secret := []byte("secret")
	issued, _, err := NewToken(secret, "user-1", "Avery", "viewer", time.Hour)
	if err != nil {
		t.Fatalf("NewToken() error = %v", err)
	}

	cases := map[string]string{
		"wrong secret":  "",
		"no separator":  strings.ReplaceAll(issued, ".", ""),
		"extra segment": issued + ".x",
		"swapped payload": func() string {
			other, _, _ := NewToken(secret, "user-2", "Mallory", "admin", time.Hour)
			payload, _, _ := strings.Cut(other, ".")
			_, sig, _ := strings.Cut(issued, ".")
			return payload + "." + sig
		}(),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			key := secret
			if token == "" {
				token = issued
				key = []byte("other")
			}
			if _, err := ParseToken(key, token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestParseTokenRequiresIdentity(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{Name: "Avery", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for missing subject, got %v", err)
	}
}
