// Command moderator follows the side channel and logs security, moderation
// and safety events for on-call responders.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/whisper/support-chat/internal/config"
	"github.com/whisper/support-chat/internal/messaging"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", slog.Any("error", err))
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger(os.Stdout).With(slog.String("component", "moderator"))

	if cfg.NATS.URL == "" {
		logger.Error("NATS_URL is required")
		os.Exit(1)
	}

	natsCfg := messaging.DefaultNATSConfig()
	natsCfg.URL = cfg.NATS.URL
	natsCfg.Name = "support-chat-moderator"

	client, err := messaging.NewNATSClient(natsCfg, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", slog.Any("error", err))
		os.Exit(1)
	}
	defer client.Close()

	handler := newEventLogger(logger)
	for _, subject := range []string{
		messaging.SubjectSecurityAll,
		messaging.SubjectModerationAll,
		messaging.SubjectSafetyAll,
	} {
		if err := client.Subscribe(subject, handler); err != nil {
			logger.Error("subscribe failed", slog.String("subject", subject), slog.Any("error", err))
			os.Exit(1)
		}
	}

	logger.Info("moderator listening", slog.String("nats_url", natsCfg.URL))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", slog.String("signal", sig.String()))
}

// newEventLogger decodes side-channel events by subject prefix. Crisis
// events are logged at warn level so they stand out.
func newEventLogger(logger *slog.Logger) func(subject string, data []byte) {
	return func(subject string, data []byte) {
		var (
			level = slog.LevelInfo
			attrs []slog.Attr
			err   error
		)

		switch {
		case strings.HasPrefix(subject, "security."):
			var ev messaging.SecurityEvent
			if err = json.Unmarshal(data, &ev); err == nil {
				level = slog.LevelWarn
				attrs = append(attrs,
					slog.String("origin", ev.Origin),
					slog.String("reason", ev.Reason),
					slog.Int("failures", ev.Failures),
				)
			}
		case strings.HasPrefix(subject, "moderation."):
			var ev messaging.ModerationEvent
			if err = json.Unmarshal(data, &ev); err == nil {
				attrs = append(attrs,
					slog.String("action", ev.Action),
					slog.String("actor_id", ev.ActorID),
					slog.String("target_id", ev.TargetID),
					slog.String("message_id", ev.MessageID),
					slog.String("report_id", ev.ReportID),
					slog.String("status", ev.Status),
				)
			}
		case strings.HasPrefix(subject, "safety."):
			var ev messaging.CrisisEvent
			if err = json.Unmarshal(data, &ev); err == nil {
				level = slog.LevelWarn
				attrs = append(attrs,
					slog.String("message_id", ev.MessageID),
					slog.String("actor_id", ev.ActorID),
				)
			}
		default:
			logger.Debug("ignoring event", slog.String("subject", subject))
			return
		}

		if err != nil {
			logger.Error("failed to decode event", slog.String("subject", subject), slog.Any("error", err))
			return
		}
		attrs = append(attrs, slog.String("subject", subject))
		logger.LogAttrs(context.Background(), level, "event", attrs...)
	}
}
