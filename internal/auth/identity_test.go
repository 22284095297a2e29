package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
)

func TestBearerToken(t *testing.T) {
	plaintext, hash, err := NewToken()
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	v := NewVerifier(Config{Tokens: map[string]string{hash: "alice@x.com"}})

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+plaintext)

	email, err := v.Identify(r)
	if err != nil {
		t.Fatalf("identify: %v", err)
	}
	if email != "alice@x.com" {
		t.Errorf("expected alice@x.com, got %s", email)
	}
}

func TestUnknownToken(t *testing.T) {
	v := NewVerifier(Config{Tokens: map[string]string{}})
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer nst_bogus")

	if _, err := v.Identify(r); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestMalformedAuthorizationHeader(t *testing.T) {
	v := NewVerifier(Config{})
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

	if _, err := v.Identify(r); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestTrustedHeader(t *testing.T) {
	v := NewVerifier(Config{TrustedHeader: "X-Forwarded-Email"})

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-Email", "bob@x.com")
	email, err := v.Identify(r)
	if err != nil {
		t.Fatalf("identify: %v", err)
	}
	if email != "bob@x.com" {
		t.Errorf("expected bob@x.com, got %s", email)
	}

	// Header auth disabled by default.
	v2 := NewVerifier(Config{})
	if _, err := v2.Identify(r); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized without trusted_header, got %v", err)
	}
}

func TestNoCredentials(t *testing.T) {
	v := NewVerifier(Config{TrustedHeader: "X-Forwarded-Email"})
	r := httptest.NewRequest("GET", "/", nil)

	if _, err := v.Identify(r); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}
