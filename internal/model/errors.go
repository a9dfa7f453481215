package model

import (
	"errors"
	"fmt"
	"time"
)

// Errors shared across the chat, moderation and auth layers.
var (
	// Content errors
	ErrInvalidContent = errors.New("invalid content")

	// Auth errors
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrRevokedCredential = errors.New("credential has been revoked")
	ErrForbidden         = errors.New("forbidden")
	ErrRateLimited       = errors.New("rate limited")

	// Entity errors
	ErrNotFound        = errors.New("not found")
	ErrActorNotFound   = fmt.Errorf("actor %w", ErrNotFound)
	ErrMessageNotFound = fmt.Errorf("message %w", ErrNotFound)
	ErrReportNotFound  = fmt.Errorf("report %w", ErrNotFound)

	// Uniqueness and moderation errors
	ErrDuplicateReaction = errors.New("reaction already exists")
	ErrDuplicateReport   = errors.New("message already reported")
	ErrDuplicateActor    = errors.New("pseudonym already taken")
	ErrSelfReport        = errors.New("cannot report your own message")
	ErrSelfBan           = errors.New("cannot ban yourself")
	ErrInvalidStatus     = errors.New("invalid report status")
)

// RateLimitError is returned when an action exceeds its sliding window.
// It matches ErrRateLimited under errors.Is.
type RateLimitError struct {
	Action     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on %s: retry after %s", e.Action, e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfterSeconds rounds the wait up to whole seconds, never below one.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
