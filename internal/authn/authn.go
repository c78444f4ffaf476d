// Package authn verifies bearer credentials and caches the resulting
// identities so repeated requests with the same credential skip the
// cryptographic check. Cached identities never outlive the credential's
// own expiry.
package authn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cartwheel-labs/edge-gateway/internal/cache"
)

// Verification failure modes. The front door maps these onto the client
// error contract.
var (
	// ErrNoCredential — no bearer credential was presented.
	ErrNoCredential = errors.New("authn: credential required")
	// ErrInvalidCredential — signature, format, or expiry check failed.
	ErrInvalidCredential = errors.New("authn: invalid or expired credential")
)

// Identity is the decoded subject of a verified credential.
type Identity struct {
	Subject string `json:"subject"`
	Email   string `json:"email,omitempty"`
	Role    string `json:"role,omitempty"`
	// ExpiresAt is the credential's own expiry; cached entries are bounded
	// by it.
	ExpiresAt time.Time `json:"expires_at"`
}

// Verifier checks one raw credential cryptographically.
type Verifier interface {
	Verify(credential string) (*Identity, error)
}

// Claims is the JWT payload issued by the auth capability.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// JWTVerifier validates HS256-signed tokens against a shared secret.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a JWTVerifier for the given signing secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify parses and validates credential, returning the embedded identity.
func (v *JWTVerifier) Verify(credential string) (*Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredential
	}

	id := &Identity{
		Subject: claims.Subject,
		Email:   claims.Email,
		Role:    claims.Role,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// Sign issues a token for identity, expiring after lifetime. Used by the
// dev-token endpoint and tests; production tokens come from the auth
// capability.
func Sign(secret, subject, email, role string, lifetime time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			Issuer:    "cartwheel-gateway",
		},
		Email: email,
		Role:  role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Authenticator verifies credentials through a TTL cache keyed by the raw
// credential string.
type Authenticator struct {
	verifier Verifier
	store    cache.Store
	ttl      time.Duration
}

// NewAuthenticator wraps verifier with the given cache store. Cached
// identities live for at most ttl, or until the credential itself expires,
// whichever is sooner.
func NewAuthenticator(verifier Verifier, store cache.Store, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Authenticator{verifier: verifier, store: store, ttl: ttl}
}

// Authenticate resolves credential to an identity, consulting the cache
// first. A cache hit skips cryptographic verification entirely; the returned
// bool reports whether the identity came from the cache.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (*Identity, bool, error) {
	if credential == "" {
		return nil, false, ErrNoCredential
	}

	if raw, err := a.store.Get(ctx, credential); err == nil {
		var id Identity
		if json.Unmarshal(raw, &id) == nil {
			return &id, true, nil
		}
		// Corrupt entry: drop it and fall through to verification.
		_ = a.store.Delete(ctx, credential)
	}

	id, err := a.verifier.Verify(credential)
	if err != nil {
		return nil, false, err
	}

	ttl := a.ttl
	if !id.ExpiresAt.IsZero() {
		if remaining := time.Until(id.ExpiresAt); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl > 0 {
		if raw, err := json.Marshal(id); err == nil {
			_ = a.store.Set(ctx, credential, raw, ttl)
		}
	}
	return id, false, nil
}

// Revoke drops a credential from the cache (logout). The credential stays
// cryptographically valid until its own expiry; revocation only forces
// re-verification.
func (a *Authenticator) Revoke(ctx context.Context, credential string) error {
	return a.store.Delete(ctx, credential)
}

// BearerToken extracts the credential from an Authorization header.
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(auth, "Bearer ")
	if !found {
		return ""
	}
	return strings.TrimSpace(token)
}
