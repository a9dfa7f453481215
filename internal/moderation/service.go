// Package moderation implements the report lifecycle and moderator
// actions: message deletion, bans and report triage.
//
// Report states:
//
//	pending --resolve--> resolved
//	pending --reject---> rejected
//
// Closed reports never transition again; a repeated transition is a no-op.
package moderation

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
	"github.com/whisper/support-chat/internal/ws"
)

// Queue paging bounds.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Store is the persistence moderation needs.
type Store interface {
	GetActor(ctx context.Context, id string) (*model.Actor, error)
	SetBanned(ctx context.Context, id string, banned bool) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	SoftDeleteMessage(ctx context.Context, id string, at time.Time) (bool, error)
	InsertReport(ctx context.Context, report *model.Report) error
	TransitionReport(ctx context.Context, id string, status model.ReportStatus, by string, at time.Time) (*model.Report, bool, error)
	ListReports(ctx context.Context, filter model.ReportFilter) ([]model.ReportView, int, error)
}

// Registry is the live connection registry.
type Registry interface {
	Broadcast(ctx context.Context, msgType string, payload interface{}) error
	ActorCredentials(actorID string) []model.RevokedCredential
	DisconnectActor(actorID, reason string) int
}

// Revoker invalidates a credential by hash.
type Revoker interface {
	RevokeHash(ctx context.Context, tokenHash string, expiresAt time.Time) error
}

// TransitionResult is the outcome of a report transition. Changed is false
// when the report was already closed.
type TransitionResult struct {
	Report  *model.Report `json:"report"`
	Changed bool          `json:"changed"`
}

// BanResult is the outcome of a ban.
type BanResult struct {
	UserID       string `json:"userId"`
	Disconnected int    `json:"disconnected"`
}

// Service runs reports and moderator actions.
type Service struct {
	store    Store
	registry Registry
	revoker  Revoker
	events   *messaging.Events
	clock    clock.Clock
	logger   *slog.Logger
}

// NewService creates a moderation Service.
func NewService(store Store, registry Registry, revoker Revoker, events *messaging.Events, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		registry: registry,
		revoker:  revoker,
		events:   events,
		clock:    clk,
		logger:   logger.With(slog.String("component", "moderation")),
	}
}

// FileReport records reporter's report against a visible message. The
// store's uniqueness constraint rejects a second report of the same
// message by the same reporter.
func (s *Service) FileReport(ctx context.Context, reporter *model.Actor, messageID, reason string) (*model.Report, error) {
	if reporter == nil {
		return nil, model.ErrUnauthenticated
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("moderation: get message: %w", err)
	}
	if msg.IsDeleted() {
		return nil, model.ErrMessageNotFound
	}
	if msg.AuthorID == reporter.ID {
		return nil, model.ErrSelfReport
	}

	report := &model.Report{
		ID:         uuid.NewString(),
		ReporterID: reporter.ID,
		MessageID:  messageID,
		Reason:     content.SanitizeReason(reason),
		Status:     model.ReportPending,
		CreatedAt:  s.clock.Now().UTC(),
	}
	if err := s.store.InsertReport(ctx, report); err != nil {
		if errors.Is(err, model.ErrDuplicateReport) {
			metrics.ReportsTotal.WithLabelValues("duplicate").Inc()
			return nil, err
		}
		return nil, fmt.Errorf("moderation: insert report: %w", err)
	}

	metrics.ReportsTotal.WithLabelValues("filed").Inc()
	s.logger.Info("report filed", slog.String("report", report.ID), slog.String("message", messageID))
	s.events.Moderation(messaging.ModerationEvent{
		Action:    messaging.ActionReportFiled,
		ActorID:   reporter.ID,
		MessageID: messageID,
		ReportID:  report.ID,
		At:        report.CreatedAt,
	})
	return report, nil
}

// TransitionReport closes a pending report as resolved or rejected.
func (s *Service) TransitionReport(ctx context.Context, moderator *model.Actor, reportID string, status model.ReportStatus) (*TransitionResult, error) {
	if err := requireAdmin(moderator); err != nil {
		return nil, err
	}
	if !status.Terminal() {
		return nil, model.ErrInvalidStatus
	}

	now := s.clock.Now().UTC()
	report, changed, err := s.store.TransitionReport(ctx, reportID, status, moderator.ID, now)
	if err != nil {
		return nil, fmt.Errorf("moderation: transition report: %w", err)
	}
	if !changed {
		return &TransitionResult{Report: report, Changed: false}, nil
	}

	metrics.ReportsTotal.WithLabelValues(string(status)).Inc()
	metrics.ModerationActionsTotal.WithLabelValues(messaging.ActionReportTransition).Inc()
	s.logger.Info("report closed",
		slog.String("report", reportID),
		slog.String("status", string(status)),
		slog.String("moderator", moderator.ID),
	)
	s.events.Moderation(messaging.ModerationEvent{
		Action:    messaging.ActionReportTransition,
		ActorID:   moderator.ID,
		MessageID: report.MessageID,
		ReportID:  reportID,
		Status:    string(status),
		At:        now,
	})
	return &TransitionResult{Report: report, Changed: true}, nil
}

// ListReports returns one page of the queue: pending first, then newest
// first. Page and limit are normalized; an unknown status is rejected.
func (s *Service) ListReports(ctx context.Context, moderator *model.Actor, filter model.ReportFilter) (*model.ReportPage, error) {
	if err := requireAdmin(moderator); err != nil {
		return nil, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, model.ErrInvalidStatus
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	switch {
	case filter.Limit < 1:
		filter.Limit = DefaultPageLimit
	case filter.Limit > MaxPageLimit:
		filter.Limit = MaxPageLimit
	}

	reports, total, err := s.store.ListReports(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("moderation: list reports: %w", err)
	}
	if reports == nil {
		reports = []model.ReportView{}
	}
	return &model.ReportPage{Reports: reports, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

// DeleteMessage soft-deletes a message on behalf of its author or an
// admin and tells clients to drop it. Deleting an already-deleted message
// succeeds without a second broadcast.
func (s *Service) DeleteMessage(ctx context.Context, actor *model.Actor, messageID string) (bool, error) {
	if actor == nil {
		return false, model.ErrUnauthenticated
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return false, fmt.Errorf("moderation: get message: %w", err)
	}
	if msg.AuthorID != actor.ID && !actor.IsAdmin {
		return false, model.ErrForbidden
	}

	now := s.clock.Now().UTC()
	changed, err := s.store.SoftDeleteMessage(ctx, messageID, now)
	if err != nil {
		return false, fmt.Errorf("moderation: delete message: %w", err)
	}
	if !changed {
		return false, nil
	}

	if err := s.registry.Broadcast(ctx, protocol.TypeMessageDeleted, protocol.MessageDeletedMsg{MessageID: messageID}); err != nil {
		s.logger.Warn("broadcast message deleted failed", slog.String("message", messageID), slog.Any("error", err))
	}

	metrics.ModerationActionsTotal.WithLabelValues(messaging.ActionDeleteMessage).Inc()
	s.events.Moderation(messaging.ModerationEvent{
		Action:    messaging.ActionDeleteMessage,
		ActorID:   actor.ID,
		TargetID:  msg.AuthorID,
		MessageID: messageID,
		At:        now,
	})
	return true, nil
}

// BanActor bans targetID, revokes the credentials of its live connections
// and disconnects them. Revocation failures are logged; the banned flag
// alone already blocks every later request.
func (s *Service) BanActor(ctx context.Context, moderator *model.Actor, targetID string) (*BanResult, error) {
	if err := requireAdmin(moderator); err != nil {
		return nil, err
	}
	if targetID == moderator.ID {
		return nil, model.ErrSelfBan
	}
	if _, err := s.store.GetActor(ctx, targetID); err != nil {
		return nil, fmt.Errorf("moderation: get actor: %w", err)
	}
	if err := s.store.SetBanned(ctx, targetID, true); err != nil {
		return nil, fmt.Errorf("moderation: set banned: %w", err)
	}

	for _, cred := range s.registry.ActorCredentials(targetID) {
		if err := s.revoker.RevokeHash(ctx, cred.TokenHash, cred.ExpiresAt); err != nil {
			s.logger.Warn("revoke banned credential failed", slog.String("actor", targetID), slog.Any("error", err))
		}
	}
	disconnected := s.registry.DisconnectActor(targetID, ws.ReasonBanned)

	if err := s.registry.Broadcast(ctx, protocol.TypeUserBanned, protocol.UserBannedMsg{UserID: targetID}); err != nil {
		s.logger.Warn("broadcast user banned failed", slog.String("actor", targetID), slog.Any("error", err))
	}

	now := s.clock.Now().UTC()
	metrics.ModerationActionsTotal.WithLabelValues(messaging.ActionBan).Inc()
	s.logger.Info("actor banned",
		slog.String("actor", targetID),
		slog.String("moderator", moderator.ID),
		slog.Int("disconnected", disconnected),
	)
	s.events.Moderation(messaging.ModerationEvent{
		Action:   messaging.ActionBan,
		ActorID:  moderator.ID,
		TargetID: targetID,
		At:       now,
	})
	return &BanResult{UserID: targetID, Disconnected: disconnected}, nil
}

// UnbanActor clears the banned flag. Credentials revoked by the ban stay
// revoked until they expire.
func (s *Service) UnbanActor(ctx context.Context, moderator *model.Actor, targetID string) error {
	if err := requireAdmin(moderator); err != nil {
		return err
	}
	if _, err := s.store.GetActor(ctx, targetID); err != nil {
		return fmt.Errorf("moderation: get actor: %w", err)
	}
	if err := s.store.SetBanned(ctx, targetID, false); err != nil {
		return fmt.Errorf("moderation: clear banned: %w", err)
	}

	metrics.ModerationActionsTotal.WithLabelValues(messaging.ActionUnban).Inc()
	s.events.Moderation(messaging.ModerationEvent{
		Action:   messaging.ActionUnban,
		ActorID:  moderator.ID,
		TargetID: targetID,
		At:       s.clock.Now().UTC(),
	})
	return nil
}

func requireAdmin(actor *model.Actor) error {
	if actor == nil {
		return model.ErrUnauthenticated
	}
	if !actor.IsAdmin {
		return model.ErrForbidden
	}
	return nil
}
