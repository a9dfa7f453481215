// Package chat is the single path by which messages enter the room and the
// reaction toggle. A message is rate limited, sanitized, scanned for
// distress signals, persisted and only then broadcast; clients render the
// broadcast copy rather than a local echo.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/whisper/support-chat/internal/content"
	"github.com/whisper/support-chat/internal/dependencies/clock"
	"github.com/whisper/support-chat/internal/messaging"
	"github.com/whisper/support-chat/internal/metrics"
	"github.com/whisper/support-chat/internal/model"
	"github.com/whisper/support-chat/internal/protocol"
	"github.com/whisper/support-chat/internal/ratelimit"
	"github.com/whisper/support-chat/internal/safety"
)

// Recent window bounds.
const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 200
)

// maxToggleAttempts bounds retries when a concurrent toggle by the same
// actor flips the reaction between our insert and delete.
const maxToggleAttempts = 3

// Store is the persistence the pipeline needs.
type Store interface {
	InsertMessage(ctx context.Context, msg *model.Message) (*model.MessageView, error)
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	RecentMessages(ctx context.Context, roomID string, limit int) ([]model.MessageView, error)
	InsertReaction(ctx context.Context, r model.Reaction) error
	DeleteReaction(ctx context.Context, actorID, messageID string) (bool, error)
	CountReactions(ctx context.Context, messageID string) (int, error)
}

// Broadcaster fans an event out to every live connection.
type Broadcaster interface {
	Broadcast(ctx context.Context, msgType string, payload interface{}) error
}

// SendResult is the outcome of a successful send. Crisis tells the caller
// to show the sender a safety banner.
type SendResult struct {
	Message model.MessageView `json:"message"`
	Crisis  bool              `json:"crisis"`
}

// ReactionResult is the outcome of a toggle.
type ReactionResult struct {
	MessageID string `json:"messageId"`
	Added     bool   `json:"added"`
	Count     int    `json:"count"`
}

// Service runs the message pipeline and reaction toggle.
type Service struct {
	store       Store
	limiter     ratelimit.Limiter
	rule        ratelimit.Rule
	detector    *safety.Detector
	broadcaster Broadcaster
	events      *messaging.Events
	clock       clock.Clock
	logger      *slog.Logger
}

// NewService creates a Service enforcing ratelimit.RuleMessageSend.
func NewService(store Store, limiter ratelimit.Limiter, detector *safety.Detector, broadcaster Broadcaster, events *messaging.Events, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{
		store:       store,
		limiter:     limiter,
		rule:        ratelimit.RuleMessageSend,
		detector:    detector,
		broadcaster: broadcaster,
		events:      events,
		clock:       clk,
		logger:      logger.With(slog.String("component", "chat")),
	}
}

// WithSendRule overrides the server-side send limit.
func (s *Service) WithSendRule(rule ratelimit.Rule) *Service {
	s.rule = rule
	return s
}

// SendMessage runs the pipeline for raw content authored by actor. An
// empty roomID selects the default room. Nothing is stored or broadcast
// unless every check passes, and nothing is broadcast unless it was stored.
func (s *Service) SendMessage(ctx context.Context, actor *model.Actor, raw, roomID string) (*SendResult, error) {
	start := time.Now()
	if actor == nil {
		return nil, model.ErrUnauthenticated
	}

	decision, err := s.limiter.Check(ctx, actor.ID, s.rule)
	if err != nil {
		s.logger.Warn("rate limiter unavailable", slog.Any("error", err))
	}
	if !decision.Allowed {
		metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
		return nil, &model.RateLimitError{Action: s.rule.Name, RetryAfter: decision.RetryAfter}
	}

	text, err := content.SanitizeMessage(raw)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	signal := s.detector.Detect(text)

	if roomID == "" {
		roomID = model.DefaultRoomID
	}
	msg := &model.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		AuthorID:  actor.ID,
		Content:   text,
		CreatedAt: s.clock.Now().UTC(),
	}
	view, err := s.store.InsertMessage(ctx, msg)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("chat: persist message: %w", err)
	}

	if err := s.broadcaster.Broadcast(ctx, protocol.TypeNewMessage, protocol.NewMessageMsg{MessageView: *view}); err != nil {
		s.logger.Warn("broadcast new message failed", slog.String("message", view.ID), slog.Any("error", err))
	}

	if signal.Flagged {
		metrics.CrisisSignalsTotal.Inc()
		s.logger.Info("crisis signal", slog.String("message", view.ID), slog.String("actor", actor.ID))
		s.events.Crisis(messaging.CrisisEvent{MessageID: view.ID, ActorID: actor.ID, At: view.CreatedAt})
	}

	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	metrics.MessageLatency.Observe(time.Since(start).Seconds())
	return &SendResult{Message: *view, Crisis: signal.Flagged}, nil
}

// LoadRecent returns up to limit visible messages of the room, oldest
// first. limit is clamped to [1, MaxRecentLimit]; zero selects
// DefaultRecentLimit.
func (s *Service) LoadRecent(ctx context.Context, roomID string, limit int) ([]model.MessageView, error) {
	switch {
	case limit == 0:
		limit = DefaultRecentLimit
	case limit < 1:
		limit = 1
	case limit > MaxRecentLimit:
		limit = MaxRecentLimit
	}
	if roomID == "" {
		roomID = model.DefaultRoomID
	}

	msgs, err := s.store.RecentMessages(ctx, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("chat: load recent: %w", err)
	}
	if msgs == nil {
		msgs = []model.MessageView{}
	}
	return msgs, nil
}

// ToggleReaction adds actor's reaction to a visible message, or removes it
// if present, then broadcasts the new count. The store's uniqueness
// constraint decides which: the insert is attempted first and a conflict
// means the reaction already exists.
func (s *Service) ToggleReaction(ctx context.Context, actor *model.Actor, messageID, emoji string) (*ReactionResult, error) {
	if actor == nil {
		return nil, model.ErrUnauthenticated
	}
	if emoji == "" {
		emoji = model.DefaultReactionEmoji
	} else if err := content.ValidateAvatar(emoji); err != nil {
		return nil, fmt.Errorf("chat: reaction emoji: %w", model.ErrInvalidContent)
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("chat: get message: %w", err)
	}
	if msg.IsDeleted() {
		return nil, model.ErrMessageNotFound
	}

	added, err := s.flip(ctx, model.Reaction{
		ActorID:   actor.ID,
		MessageID: messageID,
		Emoji:     emoji,
		CreatedAt: s.clock.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	count, err := s.store.CountReactions(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("chat: count reactions: %w", err)
	}

	if err := s.broadcaster.Broadcast(ctx, protocol.TypeReactionUpdate, protocol.ReactionUpdateMsg{
		MessageID: messageID,
		Count:     count,
	}); err != nil {
		s.logger.Warn("broadcast reaction update failed", slog.String("message", messageID), slog.Any("error", err))
	}

	op := "removed"
	if added {
		op = "added"
	}
	metrics.ReactionsTotal.WithLabelValues(op).Inc()
	return &ReactionResult{MessageID: messageID, Added: added, Count: count}, nil
}

// flip inserts r, or deletes the existing row when the insert conflicts.
func (s *Service) flip(ctx context.Context, r model.Reaction) (bool, error) {
	for attempt := 0; attempt < maxToggleAttempts; attempt++ {
		err := s.store.InsertReaction(ctx, r)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, model.ErrDuplicateReaction) {
			return false, fmt.Errorf("chat: insert reaction: %w", err)
		}

		removed, err := s.store.DeleteReaction(ctx, r.ActorID, r.MessageID)
		if err != nil {
			return false, fmt.Errorf("chat: delete reaction: %w", err)
		}
		if removed {
			return false, nil
		}
		// A concurrent toggle removed it first; try the insert again.
	}
	return false, model.ErrDuplicateReaction
}
