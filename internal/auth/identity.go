// Package auth resolves the caller identity for API requests. Login/OAuth
// flows live outside this service; all it needs is "authenticated email,
// or rejected". Two sources are supported: static bearer tokens (hashed
// in the config file) and a trusted header set by an authenticating
// reverse proxy.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const tokenPrefix = "nst_"

// ErrUnauthorized is returned when no valid caller identity is present.
var ErrUnauthorized = errors.New("unauthorized")

// Config is the identity configuration block.
type Config struct {
	// TrustedHeader names a request header carrying the caller's email,
	// for deployments behind an authenticating proxy (for example
	// X-Forwarded-Email from oauth2-proxy). Empty disables header auth.
	TrustedHeader string `yaml:"trusted_header"`

	// Tokens maps the SHA-256 hex hash of a bearer token to the email it
	// authenticates. Plaintext tokens never appear in configuration.
	Tokens map[string]string `yaml:"tokens"`
}

// Verifier resolves request identities against a Config.
type Verifier struct {
	trustedHeader string
	byHash        map[string]string
}

// NewVerifier creates a Verifier.
func NewVerifier(cfg Config) *Verifier {
	byHash := map[string]string{}
	for hash, email := range cfg.Tokens {
		byHash[strings.ToLower(hash)] = email
	}
	return &Verifier{trustedHeader: cfg.TrustedHeader, byHash: byHash}
}

// LoadConfig reads an identity config file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading auth config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing auth config: %w", err)
	}
	return cfg, nil
}

// Identify returns the authenticated email for a request, or
// ErrUnauthorized. A bearer token wins over the trusted header.
func (v *Verifier) Identify(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		plaintext, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			return "", fmt.Errorf("%w: malformed Authorization header", ErrUnauthorized)
		}
		email, ok := v.byHash[HashToken(strings.TrimSpace(plaintext))]
		if !ok {
			return "", fmt.Errorf("%w: unknown token", ErrUnauthorized)
		}
		return email, nil
	}
	if v.trustedHeader != "" {
		if email := r.Header.Get(v.trustedHeader); email != "" {
			return email, nil
		}
	}
	return "", ErrUnauthorized
}

// NewToken generates a bearer token. The plaintext is shown once to the
// user; the hash goes into the server's token map.
func NewToken() (plaintext, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generating token: %w", err)
	}
	plaintext = tokenPrefix + base64.RawURLEncoding.EncodeToString(raw)
	return plaintext, HashToken(plaintext), nil
}

// HashToken returns the SHA-256 hex hash of a plaintext token.
func HashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}
