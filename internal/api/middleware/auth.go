// Package middleware holds HTTP middleware for the JSON API.
package middleware

import (
	"context"
	"net/http"

	"github.com/whisper/support-chat/internal/api/apierr"
	"github.com/whisper/support-chat/internal/auth"
	"github.com/whisper/support-chat/internal/model"
)

type contextKey string

const identityContextKey contextKey = "identity"

// Authenticator checks a bearer credential presented from origin.
type Authenticator interface {
	Check(ctx context.Context, origin, token string) (*auth.Identity, error)
}

// Auth rejects requests without a valid, unrevoked credential of an
// unbanned actor. The actor is re-read on every request so bans and
// privilege changes apply immediately.
func Auth(authn Authenticator, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := auth.ClientOrigin(r, trustProxy)
			id, err := authn.Check(r.Context(), origin, auth.BearerToken(r))
			if err != nil {
				apierr.WriteError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), identityContextKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects authenticated actors without the admin flag. It
// must run after Auth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := GetActor(r.Context())
		if actor == nil {
			apierr.WriteError(w, model.ErrUnauthenticated)
			return
		}
		if !actor.IsAdmin {
			apierr.WriteError(w, model.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetIdentity returns the authenticated identity from the request context
func GetIdentity(ctx context.Context) *auth.Identity {
	id, _ := ctx.Value(identityContextKey).(*auth.Identity)
	return id
}

// GetActor returns the authenticated actor from the request context
func GetActor(ctx context.Context) *model.Actor {
	if id := GetIdentity(ctx); id != nil {
		return id.Actor
	}
	return nil
}
