package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/whisper/support-chat/internal/api/response"
	"github.com/whisper/support-chat/internal/content"
	"github.com/whisper/support-chat/internal/ratelimit"
)

// Pinger reports whether the durable store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RegistryStats exposes the size and age of the connection registry.
type RegistryStats interface {
	OnlineCount() int
	Uptime() time.Duration
}

// SystemHandler serves health and client configuration
type SystemHandler struct {
	store     Pinger
	registry  RegistryStats
	roomID    string
	advisory  ratelimit.Rule
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewSystemHandler creates a new system handler. advisory is the
// client-side send limit published to clients.
func NewSystemHandler(store Pinger, registry RegistryStats, roomID string, advisory ratelimit.Rule, heartbeat time.Duration, logger *slog.Logger) *SystemHandler {
	return &SystemHandler{
		store:     store,
		registry:  registry,
		roomID:    roomID,
		advisory:  advisory,
		heartbeat: heartbeat,
		logger:    logger,
	}
}

// Health handles GET /health. It answers 503 when the store is down.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	res := response.HealthResponse{
		Status:        "ok",
		Database:      "ok",
		Connections:   h.registry.OnlineCount(),
		UptimeSeconds: int64(h.registry.Uptime().Seconds()),
	}
	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health check: store unreachable", slog.Any("error", err))
		res.Status, res.Database = "degraded", "unavailable"
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, res)
}

// ClientConfig handles GET /client-config
func (h *SystemHandler) ClientConfig(w http.ResponseWriter, _ *http.Request) {
	response.JSON(w, http.StatusOK, response.ClientConfigResponse{
		RoomID:           h.roomID,
		MaxMessageLength: content.MaxMessageRunes,
		MessageLimit: response.RuleResponse{
			Limit:         h.advisory.Limit,
			WindowSeconds: int(h.advisory.Window / time.Second),
		},
		HeartbeatSeconds: int(h.heartbeat / time.Second),
	})
}
