package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/marcus/boardsync/internal/api"
	"github.com/marcus/boardsync/internal/serverdb"
	"github.com/marcus/boardsync/internal/webhook"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "seed" {
		runSeed(os.Args[2:])
		return
	}

	cfg := api.LoadConfig()
	slog.SetDefault(newLogger(os.Stderr, cfg.LogFormat, cfg.LogLevel))

	if err := run(cfg); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger. Unknown levels fall back to info and
// any format other than "text" logs JSON.
func newLogger(w io.Writer, format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func run(cfg api.Config) error {
	store, err := serverdb.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open server db: %w", err)
	}
	defer store.Close()

	if cfg.SeedPath != "" {
		if err := applySeed(store, cfg.SeedPath); err != nil {
			return fmt.Errorf("seed %s: %w", cfg.SeedPath, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []api.Option
	pub, err := api.PublisherFromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}
	if pub != nil {
		defer pub.Close()
		opts = append(opts, api.WithPublisher(pub))
		slog.Info("publishing events to pubsub", "project", cfg.PubSubProject, "topic", cfg.PubSubTopic)
	}
	if cfg.WebhookURL != "" {
		opts = append(opts, api.WithPublisher(webhook.New(cfg.WebhookURL, cfg.WebhookSecret)))
		slog.Info("posting events to webhook", "url", cfg.WebhookURL, "signed", cfg.WebhookSecret != "")
	}

	srv, err := api.NewServer(cfg, store, opts...)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	slog.Info("server started", "addr", srv.Addr().String(), "db", store.Path(), "schema", store.SchemaVersion())

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
