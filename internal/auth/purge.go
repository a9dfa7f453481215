package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/whisper/support-chat/internal/dependencies/clock"
	"github.com/whisper/support-chat/internal/metrics"
)

// DefaultPurgeCron runs the revoked-credential purge every ten minutes.
const DefaultPurgeCron = "*/10 * * * *"

// RevocationStore deletes revoked credentials whose expiry has passed.
type RevocationStore interface {
	PurgeRevoked(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper drops idle in-process rate limiter state.
type Sweeper interface {
	Sweep() int
}

// Purger garbage-collects expired revocations on a cron schedule.
type Purger struct {
	store    RevocationStore
	sweepers []Sweeper
	cron     string
	clock    clock.Clock
	logger   *slog.Logger
}

// NewPurger creates a Purger. An empty cron expression selects
// DefaultPurgeCron; an invalid one is an error.
func NewPurger(store RevocationStore, cronExpr string, clk clock.Clock, logger *slog.Logger, sweepers ...Sweeper) (*Purger, error) {
	if cronExpr == "" {
		cronExpr = DefaultPurgeCron
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("auth: invalid purge cron expression %q", cronExpr)
	}
	return &Purger{
		store:    store,
		sweepers: sweepers,
		cron:     cronExpr,
		clock:    clk,
		logger:   logger.With(slog.String("component", "purger")),
	}, nil
}

// RunOnce purges expired revocations and sweeps limiter state. It returns
// the number of revocations removed.
func (p *Purger) RunOnce(ctx context.Context) (int64, error) {
	n, err := p.store.PurgeRevoked(ctx, p.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("auth: purge revoked: %w", err)
	}
	metrics.RevokedPurgedTotal.Add(float64(n))

	swept := 0
	for _, s := range p.sweepers {
		swept += s.Sweep()
	}
	p.logger.Debug("purge complete", slog.Int64("revoked", n), slog.Int("limiter_keys", swept))
	return n, nil
}

// Next returns the first scheduled run strictly after t.
func (p *Purger) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(p.cron, t, false)
}

// Run blocks, purging at every scheduled tick until ctx is cancelled.
func (p *Purger) Run(ctx context.Context) {
	p.logger.Info("purge scheduler started", slog.String("cron", p.cron))
	for {
		now := p.clock.Now()
		next, err := p.Next(now)
		wait := next.Sub(now)
		if err != nil {
			p.logger.Error("compute next purge", slog.Any("error", err))
			wait = time.Minute
		}
		if wait < time.Second {
			wait = time.Second
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.logger.Info("purge scheduler stopped")
			return
		case <-timer.C:
		}

		if _, err := p.RunOnce(ctx); err != nil {
			p.logger.Error("purge failed", slog.Any("error", err))
		}
	}
}
