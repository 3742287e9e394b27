// Package oauthflow carries the crypto side of the per-business Google
// consent flow: PKCE verifier/challenge generation and the HMAC-signed
// state token that ties a callback to the flow row it belongs to.
package oauthflow

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	verifierLen = 32
	// DefaultStateTTL bounds how long a consent redirect may stay open.
	DefaultStateTTL = 600 * time.Second
	// clockSkew tolerates issuers slightly ahead of our clock.
	clockSkew = 60 * time.Second
)

var (
	ErrBadSignature = errors.New("bad_sig")
	ErrStateExpired = errors.New("state expired")
)

// StateClaims is the signed payload carried through the OAuth redirect.
type StateClaims struct {
	BusinessID string `json:"businessId"`
	Nonce      string `json:"nonce"`
	IssuedAt   int64  `json:"ts"`
}

// SignState serializes the claims and appends an HMAC-SHA256 signature,
// both base64url without padding, joined by a dot.
func SignState(businessID, nonce, secret string, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("state secret is required")
	}
	payload, err := json.Marshal(StateClaims{
		BusinessID: businessID,
		Nonce:      nonce,
		IssuedAt:   now.Unix(),
	})
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	sig := mac.Sum(nil)
	return fmt.Sprintf("%s.%s",
		base64.RawURLEncoding.EncodeToString(payload),
		base64.RawURLEncoding.EncodeToString(sig)), nil
}

// VerifyState checks the signature in constant time, then the TTL. A token
// issued more than clockSkew in the future is rejected as expired rather
// than trusted.
func VerifyState(state, secret string, ttl time.Duration, now time.Time) (*StateClaims, error) {
	if secret == "" {
		return nil, errors.New("state secret is required")
	}
	parts := strings.SplitN(state, ".", 2)
	if len(parts) != 2 {
		return nil, ErrBadSignature
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrBadSignature
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrBadSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, ErrBadSignature
	}

	var claims StateClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrBadSignature
	}

	issued := time.Unix(claims.IssuedAt, 0)
	if issued.After(now.Add(clockSkew)) {
		return nil, ErrStateExpired
	}
	if now.After(issued.Add(ttl)) {
		return nil, ErrStateExpired
	}
	return &claims, nil
}

// NewCodeVerifier returns a PKCE code verifier: 32 random bytes encoded
// base64url without padding.
func NewCodeVerifier() (string, error) {
	raw := make([]byte, verifierLen)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generate code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Challenge derives the S256 code challenge for a verifier.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
