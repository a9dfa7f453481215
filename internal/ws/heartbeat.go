package ws

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/whisper/support-chat/internal/model"
)

// HeartbeatConfig holds heartbeat tuning parameters. Interval also bounds
// how long a banned or revoked connection can stay registered.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping and re-validate (default: 30s)
	Timeout  time.Duration // grace after a missed ping (default: 10s)
}

// DefaultHeartbeatConfig returns the default heartbeat settings.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// StartHeartbeat runs checkConnections every Interval until the server is
// shut down. It returns immediately.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	if config.Interval <= 0 {
		config = DefaultHeartbeatConfig()
	}
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				checkConnections(server, config)
			}
		}
	}()
}

// checkConnections evicts connections silent for longer than Interval +
// Timeout, closes those whose credential no longer authenticates and pings
// the rest. Browsers answer the ping frame with a pong automatically.
func checkConnections(server *Server, config HeartbeatConfig) {
	deadline := config.Interval + config.Timeout
	now := server.clock.Now()
	verdicts := make(map[string]string) // token hash -> disconnect reason, "" if still valid

	for _, c := range server.Connections().All() {
		if idle := now.Sub(c.LastActivity()); idle > deadline {
			server.logger.Info("heartbeat timeout",
				slog.String("conn", c.ID),
				slog.Duration("idle", idle.Round(time.Second)),
			)
			server.RemoveConnection(c)
			continue
		}

		reason, seen := verdicts[c.TokenHash]
		if !seen {
			reason = server.revalidate(c)
			verdicts[c.TokenHash] = reason
		}
		if reason != "" {
			server.DisconnectConnection(c, reason)
			continue
		}

		if err := c.WritePing(server.config.WriteTimeout); err != nil {
			server.logger.Debug("heartbeat ping failed", slog.String("conn", c.ID), slog.Any("error", err))
			server.RemoveConnection(c)
		}
	}
}

// revalidate re-runs authentication for the connection's credential and
// returns the disconnect reason, or "" if it is still valid. Store faults
// keep the connection.
func (s *Server) revalidate(c *Connection) string {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.AuthTimeout)
	defer cancel()

	_, err := s.auth.Revalidate(ctx, c.token)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, model.ErrForbidden):
		return ReasonBanned
	case errors.Is(err, model.ErrRevokedCredential):
		return ReasonRevoked
	case errors.Is(err, model.ErrUnauthenticated):
		return ReasonSessionExpired
	default:
		s.logger.Warn("revalidation unavailable", slog.String("conn", c.ID), slog.Any("error", err))
		return ""
	}
}

// DisconnectConnection sends the banned event with reason to c and removes
// it.
func (s *Server) DisconnectConnection(c *Connection, reason string) {
	if notice, err := newBannedEvent(reason); err == nil {
		_ = c.WriteMessageTimeout(notice, s.config.WriteTimeout)
	}
	if s.RemoveConnection(c) {
		s.logger.Info("connection revoked", slog.String("conn", c.ID), slog.String("reason", reason))
	}
}
