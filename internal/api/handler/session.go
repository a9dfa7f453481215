package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/whisper/support-chat/internal/api/apierr"
	"github.com/whisper/support-chat/internal/api/middleware"
	"github.com/whisper/support-chat/internal/api/response"
	"github.com/whisper/support-chat/internal/auth"
	"github.com/whisper/support-chat/internal/ws"
)

// CredentialRevoker revokes the caller's own credential.
type CredentialRevoker interface {
	Revoke(ctx context.Context, id *auth.Identity) error
}

// ConnectionCloser closes live connections opened with one credential.
type ConnectionCloser interface {
	DisconnectCredential(actorID, tokenHash, reason string) int
}

// SessionHandler handles the caller's own session
type SessionHandler struct {
	revoker CredentialRevoker
	conns   ConnectionCloser
	logger  *slog.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(revoker CredentialRevoker, conns ConnectionCloser, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{revoker: revoker, conns: conns, logger: logger}
}

// GetMe handles GET /me
func (h *SessionHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentity(r.Context())
	response.JSON(w, http.StatusOK, response.MeResponse{
		PublicActor:      id.Actor.Public(),
		IsAdmin:          id.Actor.IsAdmin,
		SessionExpiresAt: id.ExpiresAt,
	})
}

// Logout handles POST /auth/logout. The credential is revoked first so a
// reconnect racing the close is refused.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentity(r.Context())
	if err := h.revoker.Revoke(r.Context(), id); err != nil {
		apierr.WriteError(w, err)
		return
	}
	closed := h.conns.DisconnectCredential(id.Actor.ID, id.TokenHash, ws.ReasonLoggedOut)
	h.logger.Info("logged out", slog.String("actor", id.Actor.ID), slog.Int("connections", closed))
	response.NoContent(w)
}
