package response

import (
	"time"

	"github.com/whisper/support-chat/internal/model"
)

// MeResponse describes the authenticated actor. Real identity fields are
// never included.
type MeResponse struct {
	model.PublicActor
	IsAdmin          bool      `json:"isAdmin"`
	SessionExpiresAt time.Time `json:"sessionExpiresAt"`
}

// MessagesResponse is the recent window, oldest first.
type MessagesResponse struct {
	Messages []model.MessageView `json:"messages"`
}

// ReactionResponse is the outcome of a toggle.
type ReactionResponse struct {
	Added bool `json:"added"`
	Count int  `json:"count"`
}

// ReportResponse wraps a filed or transitioned report.
type ReportResponse struct {
	Report  *model.Report `json:"report"`
	Changed *bool         `json:"changed,omitempty"`
}

// BanResponse is the outcome of a ban or unban.
type BanResponse struct {
	UserID       string `json:"userId"`
	Banned       bool   `json:"banned"`
	Disconnected int    `json:"disconnected"`
}

// RuleResponse describes a sliding-window limit.
type RuleResponse struct {
	Limit         int `json:"limit"`
	WindowSeconds int `json:"windowSeconds"`
}

// ClientConfigResponse is the advisory configuration for clients. The
// client-side limit is a courtesy; the server enforces its own.
type ClientConfigResponse struct {
	RoomID           string       `json:"roomId"`
	MaxMessageLength int          `json:"maxMessageLength"`
	MessageLimit     RuleResponse `json:"messageLimit"`
	HeartbeatSeconds int          `json:"heartbeatSeconds"`
}

// HealthResponse reports liveness and registry size.
type HealthResponse struct {
	Status        string `json:"status"`
	Database      string `json:"database"`
	Connections   int    `json:"connections"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}
