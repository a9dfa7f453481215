package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/whisper/support-chat/internal/dependencies/clock"
	"github.com/whisper/support-chat/internal/model"
)

// Store is the subset of storage.Store the authenticator needs.
type Store interface {
	GetActor(ctx context.Context, id string) (*model.Actor, error)
	RevokeCredential(ctx context.Context, cred model.RevokedCredential) error
	IsRevoked(ctx context.Context, tokenHash string, now time.Time) (bool, error)
}

// Identity is an authenticated actor together with the credential that
// proved it.
type Identity struct {
	Actor     *model.Actor
	Token     string
	TokenHash string
	ExpiresAt time.Time
}

// Authenticator validates credentials against the issuer and the store.
type Authenticator struct {
	issuer *Issuer
	store  Store
	clock  clock.Clock
	logger *slog.Logger
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(issuer *Issuer, store Store, clk clock.Clock, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		issuer: issuer,
		store:  store,
		clock:  clk,
		logger: logger.With(slog.String("component", "auth")),
	}
}

// Authenticate resolves token to the current state of its actor. It fails
// with ErrUnauthenticated for a bad or expired token or a missing actor,
// ErrRevokedCredential for a revoked token and ErrForbidden for a banned
// actor. Store faults are returned wrapped and match none of these.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Identity, error) {
	claims, err := a.issuer.Parse(token)
	if err != nil {
		return nil, err
	}

	hash := HashToken(token)
	revoked, err := a.store.IsRevoked(ctx, hash, a.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("auth: check revocation: %w", err)
	}
	if revoked {
		return nil, fmt.Errorf("auth: %w", model.ErrRevokedCredential)
	}

	actor, err := a.store.GetActor(ctx, claims.ActorID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("auth: actor %s: %w", claims.ActorID, model.ErrUnauthenticated)
	}
	if err != nil {
		return nil, fmt.Errorf("auth: load actor: %w", err)
	}
	if actor.IsBanned {
		return nil, fmt.Errorf("auth: actor is banned: %w", model.ErrForbidden)
	}

	return &Identity{
		Actor:     actor,
		Token:     token,
		TokenHash: hash,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// Revoke invalidates the credential behind id until its natural expiry.
func (a *Authenticator) Revoke(ctx context.Context, id *Identity) error {
	return a.RevokeHash(ctx, id.TokenHash, id.ExpiresAt)
}

// RevokeHash invalidates a credential known only by its hash. Revoking an
// already-expired credential is a no-op.
func (a *Authenticator) RevokeHash(ctx context.Context, tokenHash string, expiresAt time.Time) error {
	if tokenHash == "" || !expiresAt.After(a.clock.Now()) {
		return nil
	}
	err := a.store.RevokeCredential(ctx, model.RevokedCredential{TokenHash: tokenHash, ExpiresAt: expiresAt})
	if err != nil {
		return fmt.Errorf("auth: revoke credential: %w", err)
	}
	return nil
}

// FailureReason classifies an authentication error for metrics and
// security events.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, model.ErrRevokedCredential):
		return "revoked"
	case errors.Is(err, model.ErrForbidden):
		return "banned"
	case errors.Is(err, model.ErrUnauthenticated):
		return "invalid"
	default:
		return "internal"
	}
}
