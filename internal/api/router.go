// Package api wires the HTTP surface: the JSON API, the WebSocket endpoint,
// health and metrics.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/whisper/support-chat/internal/api/apierr"
	"github.com/whisper/support-chat/internal/api/handler"
	"github.com/whisper/support-chat/internal/api/middleware"
	"github.com/whisper/support-chat/internal/chat"
	"github.com/whisper/support-chat/internal/metrics"
	"github.com/whisper/support-chat/internal/model"
	"github.com/whisper/support-chat/internal/moderation"
	"github.com/whisper/support-chat/internal/ratelimit"
	"github.com/whisper/support-chat/internal/ws"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger     *slog.Logger
	Auth       middleware.Authenticator
	Revoker    handler.CredentialRevoker
	TrustProxy bool
	Chat       *chat.Service
	Moderation *moderation.Service
	Sockets    *ws.Server
	Store      handler.Pinger
	RoomID     string
	Advisory   ratelimit.Rule
	Heartbeat  time.Duration
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		apierr.WriteError(w, model.ErrNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		apierr.WriteError(w, apierr.NewMethodNotAllowedError())
	})

	// Create handlers
	systemHandler := handler.NewSystemHandler(cfg.Store, cfg.Sockets, cfg.RoomID, cfg.Advisory, cfg.Heartbeat, cfg.Logger)
	sessionHandler := handler.NewSessionHandler(cfg.Revoker, cfg.Sockets, cfg.Logger)
	messageHandler := handler.NewMessageHandler(cfg.Chat, cfg.Moderation)
	adminHandler := handler.NewAdminHandler(cfg.Moderation)

	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))

	// Public routes
	r.HandleFunc("/health", systemHandler.Health).Methods(http.MethodGet)
	r.HandleFunc("/client-config", systemHandler.ClientConfig).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// The socket authenticates its own handshake.
	r.Handle("/ws", cfg.Sockets).Methods(http.MethodGet)

	// Authenticated routes
	authed := r.NewRoute().Subrouter()
	authed.Use(middleware.Auth(cfg.Auth, cfg.TrustProxy))
	authed.HandleFunc("/me", sessionHandler.GetMe).Methods(http.MethodGet)
	authed.HandleFunc("/auth/logout", sessionHandler.Logout).Methods(http.MethodPost)
	authed.HandleFunc("/messages", messageHandler.List).Methods(http.MethodGet)
	authed.HandleFunc("/messages", messageHandler.Send).Methods(http.MethodPost)
	authed.HandleFunc("/messages/{id}", messageHandler.Delete).Methods(http.MethodDelete)
	authed.HandleFunc("/messages/{id}/react", messageHandler.React).Methods(http.MethodPost)
	authed.HandleFunc("/messages/{id}/report", messageHandler.Report).Methods(http.MethodPost)

	// Admin routes
	admin := authed.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireAdmin)
	admin.HandleFunc("/reports", adminHandler.ListReports).Methods(http.MethodGet)
	admin.HandleFunc("/reports/{id}", adminHandler.TransitionReport).Methods(http.MethodPatch)
	admin.HandleFunc("/users/{id}/ban", adminHandler.Ban).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}/ban", adminHandler.Unban).Methods(http.MethodDelete)

	return r
}
