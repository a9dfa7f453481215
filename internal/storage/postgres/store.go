// Package postgres provides the PostgreSQL-backed implementation of
// storage.Store. Reaction and report uniqueness are enforced by table
// constraints; violations are mapped to the model's duplicate errors.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/whisper/support-chat/internal/model"
	"github.com/whisper/support-chat/internal/storage"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Store manages chat state in PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Config holds connection pool settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns sensible pool defaults for a single server process.
func DefaultConfig() Config {
	return Config{
		DSN:             "postgres://localhost:5432/support?sslmode=disable",
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return New(db), nil
}

// New creates a store backed by the given database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// Actor operations

func (s *Store) CreateActor(ctx context.Context, actor *model.Actor) error {
	const query = `
		INSERT INTO actors (id, pseudonym, avatar, real_name, emergency_contact, is_banned, is_admin, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		actor.ID, actor.Pseudonym, actor.Avatar, actor.RealName,
		actor.EmergencyContact, actor.IsBanned, actor.IsAdmin, actor.CreatedAt,
	)
	if pqCode(err) == codeUniqueViolation {
		return model.ErrDuplicateActor
	}
	if err != nil {
		return fmt.Errorf("postgres: create actor: %w", err)
	}
	return nil
}

func (s *Store) GetActor(ctx context.Context, id string) (*model.Actor, error) {
	const query = `
		SELECT id, pseudonym, avatar, real_name, emergency_contact, is_banned, is_admin, created_at
		FROM actors
		WHERE id = $1`

	var a model.Actor
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.Pseudonym, &a.Avatar, &a.RealName,
		&a.EmergencyContact, &a.IsBanned, &a.IsAdmin, &a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrActorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get actor: %w", err)
	}
	return &a, nil
}

func (s *Store) SetBanned(ctx context.Context, id string, banned bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE actors SET is_banned = $2 WHERE id = $1`, id, banned)
	if err != nil {
		return fmt.Errorf("postgres: set banned: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: set banned: %w", err)
	}
	if n == 0 {
		return model.ErrActorNotFound
	}
	return nil
}

// Revoked credential operations

func (s *Store) RevokeCredential(ctx context.Context, cred model.RevokedCredential) error {
	const query = `
		INSERT INTO revoked_credentials (token_hash, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (token_hash) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, cred.TokenHash, cred.ExpiresAt); err != nil {
		return fmt.Errorf("postgres: revoke credential: %w", err)
	}
	return nil
}

func (s *Store) IsRevoked(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM revoked_credentials WHERE token_hash = $1 AND expires_at > $2
		)`

	var revoked bool
	if err := s.db.QueryRowContext(ctx, query, tokenHash, now).Scan(&revoked); err != nil {
		return false, fmt.Errorf("postgres: is revoked: %w", err)
	}
	return revoked, nil
}

func (s *Store) PurgeRevoked(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM revoked_credentials WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("postgres: purge revoked: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: purge revoked: %w", err)
	}
	return n, nil
}

// Message operations

func (s *Store) InsertMessage(ctx context.Context, msg *model.Message) (*model.MessageView, error) {
	const query = `
		WITH inserted AS (
			INSERT INTO messages (id, room_id, author_id, content, created_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, room_id, author_id, content, created_at
		)
		SELECT i.id, i.room_id, i.author_id, i.content, i.created_at, a.pseudonym, a.avatar
		FROM inserted i
		JOIN actors a ON a.id = i.author_id`

	var v model.MessageView
	err := s.db.QueryRowContext(ctx, query,
		msg.ID, msg.RoomID, msg.AuthorID, msg.Content, msg.CreatedAt,
	).Scan(&v.ID, &v.RoomID, &v.AuthorID, &v.Content, &v.CreatedAt, &v.Pseudonym, &v.Avatar)
	if pqCode(err) == codeForeignKeyViolation {
		return nil, model.ErrActorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: insert message: %w", err)
	}
	return &v, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	const query = `
		SELECT id, room_id, author_id, content, created_at, deleted_at
		FROM messages
		WHERE id = $1`

	var (
		m         model.Message
		deletedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.RoomID, &m.AuthorID, &m.Content, &m.CreatedAt, &deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get message: %w", err)
	}
	if deletedAt.Valid {
		m.DeletedAt = &deletedAt.Time
	}
	return &m, nil
}

func (s *Store) RecentMessages(ctx context.Context, roomID string, limit int) ([]model.MessageView, error) {
	const query = `
		SELECT id, room_id, author_id, content, created_at, pseudonym, avatar, reaction_count
		FROM (
			SELECT m.id, m.room_id, m.author_id, m.content, m.created_at, a.pseudonym, a.avatar,
				(SELECT COUNT(*) FROM reactions r WHERE r.message_id = m.id) AS reaction_count
			FROM messages m
			JOIN actors a ON a.id = m.author_id
			WHERE m.room_id = $1 AND m.deleted_at IS NULL
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent messages: %w", err)
	}
	defer rows.Close()

	out := make([]model.MessageView, 0, limit)
	for rows.Next() {
		var v model.MessageView
		if err := rows.Scan(&v.ID, &v.RoomID, &v.AuthorID, &v.Content, &v.CreatedAt,
			&v.Pseudonym, &v.Avatar, &v.ReactionCount); err != nil {
			return nil, fmt.Errorf("postgres: recent messages: scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: recent messages: %w", err)
	}
	return out, nil
}

func (s *Store) SoftDeleteMessage(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return false, fmt.Errorf("postgres: soft delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: soft delete: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.GetMessage(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// Reaction operations

func (s *Store) InsertReaction(ctx context.Context, r model.Reaction) error {
	const query = `
		INSERT INTO reactions (actor_id, message_id, emoji, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err := s.db.ExecContext(ctx, query, r.ActorID, r.MessageID, r.Emoji, r.CreatedAt)
	switch pqCode(err) {
	case codeUniqueViolation:
		return model.ErrDuplicateReaction
	case codeForeignKeyViolation:
		return model.ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres: insert reaction: %w", err)
	}
	return nil
}

func (s *Store) DeleteReaction(ctx context.Context, actorID, messageID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reactions WHERE actor_id = $1 AND message_id = $2`, actorID, messageID)
	if err != nil {
		return false, fmt.Errorf("postgres: delete reaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: delete reaction: %w", err)
	}
	return n > 0, nil
}

func (s *Store) CountReactions(ctx context.Context, messageID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reactions WHERE message_id = $1`, messageID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count reactions: %w", err)
	}
	return n, nil
}

// Report operations

const reportColumns = `id, reporter_id, message_id, reason, status, created_at, resolved_at, COALESCE(resolved_by, '')`

func scanReport(row interface{ Scan(...any) error }, r *model.Report, extra ...any) error {
	var resolvedAt sql.NullTime
	dest := append([]any{
		&r.ID, &r.ReporterID, &r.MessageID, &r.Reason, &r.Status, &r.CreatedAt, &resolvedAt, &r.ResolvedBy,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return err
	}
	if resolvedAt.Valid {
		r.ResolvedAt = &resolvedAt.Time
	}
	return nil
}

func (s *Store) InsertReport(ctx context.Context, report *model.Report) error {
	const query = `
		INSERT INTO reports (id, reporter_id, message_id, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		report.ID, report.ReporterID, report.MessageID, report.Reason, report.Status, report.CreatedAt,
	)
	switch pqCode(err) {
	case codeUniqueViolation:
		return model.ErrDuplicateReport
	case codeForeignKeyViolation:
		return model.ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres: insert report: %w", err)
	}
	return nil
}

func (s *Store) GetReport(ctx context.Context, id string) (*model.Report, error) {
	var r model.Report
	err := scanReport(s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id), &r)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get report: %w", err)
	}
	return &r, nil
}

func (s *Store) TransitionReport(ctx context.Context, id string, status model.ReportStatus, by string, at time.Time) (*model.Report, bool, error) {
	query := `
		UPDATE reports
		SET status = $2, resolved_at = $3, resolved_by = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + reportColumns

	var r model.Report
	err := scanReport(s.db.QueryRowContext(ctx, query, id, status, at, by), &r)
	if errors.Is(err, sql.ErrNoRows) {
		current, err := s.GetReport(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: transition report: %w", err)
	}
	return &r, true, nil
}

func (s *Store) ListReports(ctx context.Context, filter model.ReportFilter) ([]model.ReportView, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reports WHERE ($1::text = '' OR status = $1)`, string(filter.Status),
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: count reports: %w", err)
	}

	const query = `
		SELECT r.id, r.reporter_id, r.message_id, r.reason, r.status, r.created_at, r.resolved_at,
			COALESCE(r.resolved_by, ''),
			rp.pseudonym, m.content, m.author_id, au.pseudonym, m.deleted_at
		FROM reports r
		JOIN actors rp ON rp.id = r.reporter_id
		JOIN messages m ON m.id = r.message_id
		JOIN actors au ON au.id = m.author_id
		WHERE ($1::text = '' OR r.status = $1)
		ORDER BY CASE WHEN r.status = 'pending' THEN 0 ELSE 1 END, r.created_at DESC, r.id
		LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, string(filter.Status), filter.Limit, filter.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list reports: %w", err)
	}
	defer rows.Close()

	out := make([]model.ReportView, 0, filter.Limit)
	for rows.Next() {
		var (
			v         model.ReportView
			deletedAt sql.NullTime
		)
		if err := scanReport(rows, &v.Report,
			&v.ReporterPseudonym, &v.MessageContent, &v.MessageAuthorID, &v.AuthorPseudonym, &deletedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("postgres: list reports: scan: %w", err)
		}
		if deletedAt.Valid {
			v.MessageDeletedAt = &deletedAt.Time
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("postgres: list reports: %w", err)
	}
	return out, total, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
