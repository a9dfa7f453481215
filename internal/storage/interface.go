// Package storage defines the durable store used by the chat server. The
// store is the single source of truth for reaction and report uniqueness:
// implementations must reject duplicate inserts atomically rather than rely
// on a prior existence check.
package storage

import (
	"context"
	"time"

	"github.com/whisper/support-chat/internal/model"
)

// Store defines the interface for data persistence.
type Store interface {
	// Actor operations
	CreateActor(ctx context.Context, actor *model.Actor) error
	GetActor(ctx context.Context, id string) (*model.Actor, error)
	SetBanned(ctx context.Context, id string, banned bool) error

	// Revoked credential operations
	RevokeCredential(ctx context.Context, cred model.RevokedCredential) error
	IsRevoked(ctx context.Context, tokenHash string, now time.Time) (bool, error)
	PurgeRevoked(ctx context.Context, now time.Time) (int64, error)

	// Message operations. GetMessage resolves soft-deleted messages;
	// RecentMessages never returns them.
	InsertMessage(ctx context.Context, msg *model.Message) (*model.MessageView, error)
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	RecentMessages(ctx context.Context, roomID string, limit int) ([]model.MessageView, error)
	SoftDeleteMessage(ctx context.Context, id string, at time.Time) (bool, error)

	// Reaction operations. InsertReaction returns model.ErrDuplicateReaction
	// when the (actor, message) pair already exists.
	InsertReaction(ctx context.Context, r model.Reaction) error
	DeleteReaction(ctx context.Context, actorID, messageID string) (bool, error)
	CountReactions(ctx context.Context, messageID string) (int, error)

	// Report operations. InsertReport returns model.ErrDuplicateReport when
	// the (reporter, message) pair already exists. TransitionReport only
	// moves a pending report and reports whether it changed anything.
	InsertReport(ctx context.Context, report *model.Report) error
	GetReport(ctx context.Context, id string) (*model.Report, error)
	TransitionReport(ctx context.Context, id string, status model.ReportStatus, by string, at time.Time) (*model.Report, bool, error)
	ListReports(ctx context.Context, filter model.ReportFilter) ([]model.ReportView, int, error)

	Ping(ctx context.Context) error
	Close() error
}
