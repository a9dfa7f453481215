// Package ratelimit provides sliding-window rate limiting keyed by
// (action, actor) or (action, origin). The Redis implementation is the
// authoritative limiter shared across the server; Window is an in-process
// implementation used when Redis is not configured and in tests.
package ratelimit

import (
	"context"
	"time"
)

// Rule defines a rate limiting policy: at most Limit accepted calls within
// any trailing Window.
type Rule struct {
	Name   string        // action class, also the key prefix
	Limit  int           // max accepted calls in the window
	Window time.Duration // trailing window length
}

// Standard rules.
var (
	// RuleMessageSend allows 20 messages per minute per actor. Enforced
	// server-side on every send.
	RuleMessageSend = Rule{Name: "message-send", Limit: 20, Window: time.Minute}

	// RuleMessageSendAdvisory is published to clients so they can throttle
	// locally. It is never enforced by the server.
	RuleMessageSendAdvisory = Rule{Name: "message-send-client", Limit: 10, Window: 30 * time.Second}

	// RuleAuthAttempt allows 10 failed authentications per 15 minutes per
	// network origin.
	RuleAuthAttempt = Rule{Name: "auth-attempt", Limit: 10, Window: 15 * time.Minute}
)

// Decision is the result of a Check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration // zero when allowed
	Remaining  int           // calls left in the window after this one
}

// Limiter records an attempt for key under rule and reports whether it is
// within the limit. A denied attempt is not recorded.
type Limiter interface {
	Check(ctx context.Context, key string, rule Rule) (Decision, error)
}

// Key builds the per-rule key for an identifier.
func Key(rule Rule, identifier string) string {
	return rule.Name + ":" + identifier
}
