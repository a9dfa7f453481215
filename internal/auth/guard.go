package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/whisper/support-chat/internal/dependencies/clock"
	"github.com/whisper/support-chat/internal/messaging"
	"github.com/whisper/support-chat/internal/metrics"
	"github.com/whisper/support-chat/internal/model"
	"github.com/whisper/support-chat/internal/ratelimit"
)

// Guard wraps an Authenticator with per-origin failure accounting. Each
// failed attempt is recorded against the origin under RuleAuthAttempt;
// once an origin is over the limit its failures become rate-limit errors
// and a security event is published. Successful attempts are not counted.
type Guard struct {
	auth    *Authenticator
	limiter ratelimit.Limiter
	rule    ratelimit.Rule
	events  *messaging.Events
	clock   clock.Clock
	logger  *slog.Logger
}

// NewGuard creates a Guard using ratelimit.RuleAuthAttempt.
func NewGuard(auth *Authenticator, limiter ratelimit.Limiter, events *messaging.Events, clk clock.Clock, logger *slog.Logger) *Guard {
	return &Guard{
		auth:    auth,
		limiter: limiter,
		rule:    ratelimit.RuleAuthAttempt,
		events:  events,
		clock:   clk,
		logger:  logger.With(slog.String("component", "auth-guard")),
	}
}

// WithRule overrides the failure accounting rule.
func (g *Guard) WithRule(rule ratelimit.Rule) *Guard {
	g.rule = rule
	return g
}

// Revalidate re-runs authentication for a credential that already passed
// Check, without failure accounting. Live connections use it to pick up
// bans and revocations issued after the handshake.
func (g *Guard) Revalidate(ctx context.Context, token string) (*Identity, error) {
	return g.auth.Authenticate(ctx, token)
}

// Check authenticates token on behalf of origin.
func (g *Guard) Check(ctx context.Context, origin, token string) (*Identity, error) {
	id, err := g.auth.Authenticate(ctx, token)
	if err == nil {
		return id, nil
	}

	reason := FailureReason(err)
	metrics.AuthFailuresTotal.WithLabelValues(reason).Inc()
	if reason == "internal" {
		// A store fault says nothing about the caller.
		return nil, err
	}

	decision, lerr := g.limiter.Check(ctx, origin, g.rule)
	if lerr != nil {
		g.logger.Warn("auth failure accounting unavailable", slog.Any("error", lerr))
		return nil, err
	}
	if decision.Allowed {
		return nil, err
	}

	g.logger.Warn("repeated auth failures",
		slog.String("origin", origin),
		slog.String("reason", reason),
	)
	g.events.SecurityAlert(messaging.SecurityEvent{
		Origin:   origin,
		Reason:   reason,
		Failures: g.rule.Limit,
		At:       g.clock.Now(),
	})
	return nil, errors.Join(err, &model.RateLimitError{Action: g.rule.Name, RetryAfter: decision.RetryAfter})
}
