package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/marcus/boardsync/internal/channel"
	"github.com/marcus/boardsync/internal/config"
	"github.com/marcus/boardsync/internal/engine"
	"github.com/marcus/boardsync/internal/gateway"
	"github.com/marcus/boardsync/internal/models"
)

const requestTimeout = 15 * time.Second

func newGateway() *gateway.Client {
	return gateway.New(cfg.ServerURL, cfg.APIKey)
}

// requestContext bounds a one-shot command.
func requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, requestTimeout)
}

// newSubscriber opens the configured event transport. The returned close
// function releases it; a nil subscriber means events are disabled.
func newSubscriber(ctx context.Context, logger *slog.Logger) (channel.Subscriber, func(), error) {
	switch cfg.Transport {
	case config.TransportNone:
		return nil, func() {}, nil
	case config.TransportPubSub:
		ps, err := channel.NewPubSub(ctx, cfg.ChannelPubSub(), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub transport: %w", err)
		}
		return ps, func() { ps.Close() }, nil
	default:
		return channel.NewSSE(cfg.ServerURL, cfg.APIKey, logger), func() {}, nil
	}
}

// newEngine builds an engine for mode over the configured gateway and
// transport. The caller runs it.
func newEngine(ctx context.Context, mode engine.Mode, logger *slog.Logger) (*engine.Engine, func(), error) {
	if err := cfg.RequireProject(); err != nil {
		return nil, nil, err
	}
	sub, closeSub, err := newSubscriber(ctx, logger)
	if err != nil {
		return nil, nil, err
	}
	ec := engine.DefaultConfig(mode, cfg.ProjectID)
	if mode == engine.ModeBoard {
		ec.SprintID = cfg.SprintID
	}
	ec.RefreshInterval = cfg.Interval()
	ec.Logger = logger
	return engine.New(newGateway(), sub, ec), closeSub, nil
}

// runEngine starts eng in the background. The channel yields Run's result.
func runEngine(ctx context.Context, eng *engine.Engine) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- eng.Run(ctx) }()
	return errc
}

// startEngine runs eng until ctx ends and waits for its first load.
func startEngine(ctx context.Context, eng *engine.Engine) (engine.View, error) {
	errc := runEngine(ctx, eng)
	for {
		v, err := eng.Snapshot(ctx)
		if errors.Is(err, engine.ErrStopped) {
			if runErr := <-errc; runErr != nil {
				return v, runErr
			}
		}
		if err != nil {
			return v, err
		}
		if v.Loaded && !v.Loading {
			return v, nil
		}
		select {
		case <-eng.Changes():
		case n := <-eng.Notices():
			if n.Level == engine.LevelError {
				return v, fmt.Errorf("%s: %w", n.Message, n.Err)
			}
		case <-ctx.Done():
			return v, ctx.Err()
		}
	}
}

// findTicket resolves a ticket by id or human key (WP-12) within tickets.
func findTicket(tickets []models.Ticket, ref string) (*models.Ticket, error) {
	for i := range tickets {
		t := &tickets[i]
		if t.ID == ref || strings.EqualFold(t.Key, ref) {
			return t, nil
		}
	}
	return nil, fmt.Errorf("ticket %s: %w", ref, gateway.ErrNotFound)
}

// resolveTicket fetches a ticket by id, falling back to a key lookup in the
// configured project.
func resolveTicket(ctx context.Context, gw *gateway.Client, ref string) (*models.Ticket, error) {
	t, err := gw.GetTicket(ctx, ref)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, gateway.ErrNotFound) || cfg.ProjectID == "" {
		return nil, err
	}
	tickets, lerr := gw.ListTickets(ctx, cfg.ProjectID, "")
	if lerr != nil {
		return nil, lerr
	}
	return findTicket(tickets, ref)
}

// findSprint resolves a sprint by id or case-insensitive name.
func findSprint(sprints []models.Sprint, ref string) (*models.Sprint, error) {
	for i := range sprints {
		s := &sprints[i]
		if s.ID == ref || strings.EqualFold(s.Name, ref) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("sprint %s: %w", ref, gateway.ErrNotFound)
}
