// Package memory is an in-memory implementation of storage.Store, used for
// local development and tests. It enforces the same uniqueness and
// visibility rules as the Postgres store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/whisper/support-chat/internal/model"
	"github.com/whisper/support-chat/internal/storage"
)

type pairKey struct {
	actorID   string
	messageID string
}

type storedMessage struct {
	model.Message
	seq int64
}

// Storage is an in-memory implementation of the storage interface.
type Storage struct {
	mu sync.RWMutex

	actors      map[string]*model.Actor
	pseudonyms  map[string]string
	messages    map[string]*storedMessage
	reactions   map[pairKey]model.Reaction
	reports     map[string]*model.Report
	reportPairs map[pairKey]string
	revoked     map[string]time.Time
	seq         int64
}

// New creates a new in-memory storage instance.
func New() *Storage {
	return &Storage{
		actors:      make(map[string]*model.Actor),
		pseudonyms:  make(map[string]string),
		messages:    make(map[string]*storedMessage),
		reactions:   make(map[pairKey]model.Reaction),
		reports:     make(map[string]*model.Report),
		reportPairs: make(map[pairKey]string),
		revoked:     make(map[string]time.Time),
	}
}

// Ensure Storage implements the interface
var _ storage.Store = (*Storage)(nil)

// Actor operations

func (s *Storage) CreateActor(_ context.Context, actor *model.Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pseudonyms[actor.Pseudonym]; ok {
		return model.ErrDuplicateActor
	}
	a := *actor
	s.actors[a.ID] = &a
	s.pseudonyms[a.Pseudonym] = a.ID
	return nil
}

func (s *Storage) GetActor(_ context.Context, id string) (*model.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actors[id]
	if !ok {
		return nil, model.ErrActorNotFound
	}
	out := *a
	return &out, nil
}

func (s *Storage) SetBanned(_ context.Context, id string, banned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[id]
	if !ok {
		return model.ErrActorNotFound
	}
	a.IsBanned = banned
	return nil
}

// Revoked credential operations

func (s *Storage) RevokeCredential(_ context.Context, cred model.RevokedCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[cred.TokenHash] = cred.ExpiresAt
	return nil
}

func (s *Storage) IsRevoked(_ context.Context, tokenHash string, now time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.revoked[tokenHash]
	return ok && exp.After(now), nil
}

func (s *Storage) PurgeRevoked(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, exp := range s.revoked {
		if !exp.After(now) {
			delete(s.revoked, hash)
			n++
		}
	}
	return n, nil
}

// Message operations

func (s *Storage) InsertMessage(_ context.Context, msg *model.Message) (*model.MessageView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	author, ok := s.actors[msg.AuthorID]
	if !ok {
		return nil, model.ErrActorNotFound
	}
	s.seq++
	stored := &storedMessage{Message: *msg, seq: s.seq}
	stored.DeletedAt = nil
	s.messages[msg.ID] = stored

	return &model.MessageView{
		Message:   stored.Message,
		Pseudonym: author.Pseudonym,
		Avatar:    author.Avatar,
	}, nil
}

func (s *Storage) GetMessage(_ context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, model.ErrMessageNotFound
	}
	out := m.Message
	return &out, nil
}

func (s *Storage) RecentMessages(_ context.Context, roomID string, limit int) ([]model.MessageView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	visible := make([]*storedMessage, 0, len(s.messages))
	for _, m := range s.messages {
		if m.RoomID == roomID && m.DeletedAt == nil {
			visible = append(visible, m)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		if !visible[i].CreatedAt.Equal(visible[j].CreatedAt) {
			return visible[i].CreatedAt.Before(visible[j].CreatedAt)
		}
		return visible[i].seq < visible[j].seq
	})
	if limit > 0 && len(visible) > limit {
		visible = visible[len(visible)-limit:]
	}

	out := make([]model.MessageView, 0, len(visible))
	for _, m := range visible {
		view := model.MessageView{Message: m.Message, ReactionCount: s.countLocked(m.ID)}
		if a, ok := s.actors[m.AuthorID]; ok {
			view.Pseudonym = a.Pseudonym
			view.Avatar = a.Avatar
		}
		out = append(out, view)
	}
	return out, nil
}

func (s *Storage) SoftDeleteMessage(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return false, model.ErrMessageNotFound
	}
	if m.DeletedAt != nil {
		return false, nil
	}
	t := at
	m.DeletedAt = &t
	return true, nil
}

// Reaction operations

func (s *Storage) InsertReaction(_ context.Context, r model.Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[r.MessageID]; !ok {
		return model.ErrMessageNotFound
	}
	key := pairKey{r.ActorID, r.MessageID}
	if _, ok := s.reactions[key]; ok {
		return model.ErrDuplicateReaction
	}
	s.reactions[key] = r
	return nil
}

func (s *Storage) DeleteReaction(_ context.Context, actorID, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{actorID, messageID}
	if _, ok := s.reactions[key]; !ok {
		return false, nil
	}
	delete(s.reactions, key)
	return true, nil
}

func (s *Storage) CountReactions(_ context.Context, messageID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLocked(messageID), nil
}

func (s *Storage) countLocked(messageID string) int {
	n := 0
	for k := range s.reactions {
		if k.messageID == messageID {
			n++
		}
	}
	return n
}

// Report operations

func (s *Storage) InsertReport(_ context.Context, report *model.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[report.MessageID]; !ok {
		return model.ErrMessageNotFound
	}
	key := pairKey{report.ReporterID, report.MessageID}
	if _, ok := s.reportPairs[key]; ok {
		return model.ErrDuplicateReport
	}
	r := *report
	s.reports[r.ID] = &r
	s.reportPairs[key] = r.ID
	return nil
}

func (s *Storage) GetReport(_ context.Context, id string) (*model.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, model.ErrReportNotFound
	}
	out := *r
	return &out, nil
}

func (s *Storage) TransitionReport(_ context.Context, id string, status model.ReportStatus, by string, at time.Time) (*model.Report, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, false, model.ErrReportNotFound
	}
	changed := false
	if r.Status == model.ReportPending {
		t := at
		r.Status = status
		r.ResolvedAt = &t
		r.ResolvedBy = by
		changed = true
	}
	out := *r
	return &out, changed, nil
}

func (s *Storage) ListReports(_ context.Context, filter model.ReportFilter) ([]model.ReportView, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*model.Report, 0, len(s.reports))
	for _, r := range s.reports {
		if filter.Status == "" || r.Status == filter.Status {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		pi, pj := matched[i].Status == model.ReportPending, matched[j].Status == model.ReportPending
		if pi != pj {
			return pi
		}
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	start := filter.Offset()
	if start > total {
		start = total
	}
	end := total
	if filter.Limit > 0 && start+filter.Limit < total {
		end = start + filter.Limit
	}

	out := make([]model.ReportView, 0, end-start)
	for _, r := range matched[start:end] {
		view := model.ReportView{Report: *r}
		if a, ok := s.actors[r.ReporterID]; ok {
			view.ReporterPseudonym = a.Pseudonym
		}
		if m, ok := s.messages[r.MessageID]; ok {
			view.MessageContent = m.Content
			view.MessageAuthorID = m.AuthorID
			view.MessageDeletedAt = m.DeletedAt
			if a, ok := s.actors[m.AuthorID]; ok {
				view.AuthorPseudonym = a.Pseudonym
			}
		}
		out = append(out, view)
	}
	return out, total, nil
}

func (s *Storage) Ping(_ context.Context) error { return nil }

func (s *Storage) Close() error { return nil }
