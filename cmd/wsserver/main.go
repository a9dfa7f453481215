package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/whisper/support-chat/internal/api"
	"github.com/whisper/support-chat/internal/config"
	"github.com/whisper/support-chat/internal/factory"
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
	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := factory.New(ctx, cfg, factory.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer app.Close()

	logger.Info("support chat server starting",
		slog.String("listen_addr", cfg.Server.ListenAddr),
		slog.String("storage", cfg.Storage.Driver),
		slog.Bool("redis", cfg.Redis.Addr != ""),
		slog.Bool("nats", cfg.NATS.URL != ""),
		slog.String("room_id", cfg.RoomID),
	)

	if err := app.Sockets.Start(); err != nil {
		return err
	}
	go app.Purger.Run(ctx)

	server := api.NewServer(app.Router, api.ServerConfig{
		Addr:            cfg.Server.ListenAddr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("received signal, initiating graceful shutdown")
	}

	app.Sockets.Shutdown()
	return server.Shutdown(context.Background())
}
