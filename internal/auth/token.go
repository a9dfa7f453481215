// Package auth resolves bearer credentials to actors. Credentials are HS256
// JWTs carrying only the actor id; banned and admin flags are always read
// from the store so that a ban takes effect on the next request regardless
// of what the token says.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/whisper/support-chat/internal/dependencies/clock"
	"github.com/whisper/support-chat/internal/model"
)

// DefaultIssuer is the iss claim used when none is configured.
const DefaultIssuer = "support-chat"

// DefaultTokenTTL is the credential lifetime used when none is configured.
const DefaultTokenTTL = 24 * time.Hour

// Claims is the verified content of a credential.
type Claims struct {
	ActorID   string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer signs and verifies credentials with a shared HMAC secret.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  clock.Clock
}

// NewIssuer creates an Issuer. An empty issuer or non-positive ttl falls
// back to the defaults.
func NewIssuer(secret []byte, issuer string, ttl time.Duration, clk clock.Clock) *Issuer {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Issuer{secret: secret, issuer: issuer, ttl: ttl, clock: clk}
}

// Issue mints a credential for actorID and returns it with its expiry.
func (i *Issuer) Issue(actorID string) (string, time.Time, error) {
	if actorID == "" {
		return "", time.Time{}, errors.New("auth: issue: empty actor id")
	}
	now := i.clock.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Subject:   actorID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Parse verifies signature, issuer and expiry. Every failure wraps
// model.ErrUnauthenticated.
func (i *Issuer) Parse(token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("auth: empty token: %w", model.ErrUnauthenticated)
	}

	var rc jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &rc, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: parse token: %v: %w", err, model.ErrUnauthenticated)
	}
	if rc.Subject == "" {
		return nil, fmt.Errorf("auth: token has no subject: %w", model.ErrUnauthenticated)
	}

	c := &Claims{ActorID: rc.Subject, TokenID: rc.ID, ExpiresAt: rc.ExpiresAt.Time}
	if rc.IssuedAt != nil {
		c.IssuedAt = rc.IssuedAt.Time
	}
	return c, nil
}

// HashToken returns the hex sha256 of a credential. Only hashes are stored
// in the revocation list.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
