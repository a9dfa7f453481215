package messaging

import (
	"encoding/json"
	"log/slog"
	"time"
)

// Subjects used on the side channel.
const (
	SubjectSecurityAuthFailure = "security.auth_failure"
	SubjectModerationAction    = "moderation.action"
	SubjectSafetyCrisis        = "safety.crisis"

	SubjectSecurityAll   = "security.>"
	SubjectModerationAll = "moderation.>"
	SubjectSafetyAll     = "safety.>"
)

// Moderation action kinds.
const (
	ActionReportFiled      = "report_filed"
	ActionReportTransition = "report_transition"
	ActionDeleteMessage    = "delete_message"
	ActionBan              = "ban"
	ActionUnban            = "unban"
)

// Publisher sends a raw payload to a subject.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NopPublisher discards everything. Used when NATS is not configured.
type NopPublisher struct{}

func (NopPublisher) Publish(string, []byte) error { return nil }

// SecurityEvent records repeated authentication failures from one origin.
// It never carries the credential itself.
type SecurityEvent struct {
	Origin   string    `json:"origin"`
	Reason   string    `json:"reason"`
	Failures int       `json:"failures"`
	At       time.Time `json:"at"`
}

// ModerationEvent records a report or moderator action.
type ModerationEvent struct {
	Action    string    `json:"action"`
	ActorID   string    `json:"actorId"`
	TargetID  string    `json:"targetId,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	ReportID  string    `json:"reportId,omitempty"`
	Status    string    `json:"status,omitempty"`
	At        time.Time `json:"at"`
}

// CrisisEvent flags a message that matched a distress phrase. Content is
// deliberately absent; responders look the message up by id.
type CrisisEvent struct {
	MessageID string    `json:"messageId"`
	ActorID   string    `json:"actorId"`
	At        time.Time `json:"at"`
}

// Events publishes typed side-channel events. Failures are logged and
// swallowed.
type Events struct {
	pub    Publisher
	logger *slog.Logger
}

// NewEvents creates an Events publisher. A nil pub discards events.
func NewEvents(pub Publisher, logger *slog.Logger) *Events {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &Events{pub: pub, logger: logger.With(slog.String("component", "events"))}
}

// SecurityAlert publishes an auth-failure event.
func (e *Events) SecurityAlert(ev SecurityEvent) {
	e.publish(SubjectSecurityAuthFailure, ev)
}

// Moderation publishes a moderation event.
func (e *Events) Moderation(ev ModerationEvent) {
	e.publish(SubjectModerationAction, ev)
}

// Crisis publishes a crisis signal.
func (e *Events) Crisis(ev CrisisEvent) {
	e.publish(SubjectSafetyCrisis, ev)
}

func (e *Events) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		e.logger.Error("marshal event", slog.String("subject", subject), slog.Any("error", err))
		return
	}
	if err := e.pub.Publish(subject, data); err != nil {
		e.logger.Warn("publish event", slog.String("subject", subject), slog.Any("error", err))
	}
}
