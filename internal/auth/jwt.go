// Package auth implements the daemon's optional shared-token auth model
// (spec.md §1 Non-goals: "no multi-tenant auth beyond an optional shared
// token"). A configured shared token is bcrypt-hashed at rest; a
// connection that presents it is issued a short-lived self-signed bearer
// token so the SPA does not have to resend the raw shared token on every
// request.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Claims is the payload of a self-issued session token.
type Claims struct {
	jwt.RegisteredClaims
	ConnectionID string `json:"cid"`
}

var (
	// ErrSharedTokenMismatch is returned by VerifySharedToken when the
	// presented token does not match the configured one.
	ErrSharedTokenMismatch = errors.New("shared token mismatch")
	// ErrNoSharedTokenConfigured is returned when auth is attempted but
	// no shared token was configured (auth is effectively disabled).
	ErrNoSharedTokenConfigured = errors.New("no shared token configured")
)

const sessionTokenTTL = 24 * time.Hour

// Authenticator verifies the configured shared token and issues/validates
// the daemon's own short-lived HS256 session tokens. Replaces
// vm-agent/internal/auth.JWTValidator's remote-JWKS validation, which has
// no equivalent here: this daemon is single-tenant and self-signs.
type Authenticator struct {
	sharedTokenHash []byte // bcrypt hash, nil if no shared token configured
	signingKey      []byte
	issuer          string
}

// New constructs an Authenticator. sharedToken may be empty, in which case
// VerifySharedToken always fails with ErrNoSharedTokenConfigured and the
// daemon should be treated as open (no auth gate) by its callers.
func New(sharedToken string) (*Authenticator, error) {
	a := &Authenticator{issuer: "onthego-daemon"}

	if sharedToken != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(sharedToken), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hashing shared token: %w", err)
		}
		a.sharedTokenHash = hash
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	a.signingKey = key

	return a, nil
}

// Enabled reports whether a shared token was configured; when false, the
// HTTP/WS layer should skip the auth gate entirely.
func (a *Authenticator) Enabled() bool {
	return a.sharedTokenHash != nil
}

// VerifySharedToken checks candidate against the configured shared token.
func (a *Authenticator) VerifySharedToken(candidate string) error {
	if a.sharedTokenHash == nil {
		return ErrNoSharedTokenConfigured
	}
	if err := bcrypt.CompareHashAndPassword(a.sharedTokenHash, []byte(candidate)); err != nil {
		return ErrSharedTokenMismatch
	}
	return nil
}

// IssueSessionToken mints a session token bound to connectionID, valid for
// sessionTokenTTL.
func (a *Authenticator) IssueSessionToken(connectionID string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTokenTTL)),
			ID:        randomID(),
		},
		ConnectionID: connectionID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.signingKey)
}

// ValidateSessionToken parses and verifies a token minted by
// IssueSessionToken, returning its claims.
func (a *Authenticator) ValidateSessionToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing session token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid session token")
	}
	return claims, nil
}

func randomID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
