package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"

	"github.com/marcus/boardsync/internal/channel"
	"github.com/marcus/boardsync/internal/events"
)

// handleEvents streams events for ?projectId= or ?userId= as
// text/event-stream. A subscriber that falls behind is disconnected; its
// client reconnects and refetches.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "server is shutting down")
		return
	}
	q := r.URL.Query()
	scope := channel.Scope{ProjectID: q.Get("projectId"), UserID: q.Get("userId")}
	if err := scope.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "exactly one of projectId and userId is required")
		return
	}
	if scope.ProjectID != "" {
		p, err := s.store.GetProject(scope.ProjectID)
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		if p == nil {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "project not found")
			return
		}
	}

	// The stream ends with the request or with the server.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	// Subscribe before the headers go out so no event published after the
	// client saw 200 can be missed.
	ch, err := s.hub.Subscribe(ctx, scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "subscribe failed")
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logFor(r.Context()).Error("event stream: flush unsupported", "err", err)
		return
	}

	s.metrics.StreamOpened()
	defer s.metrics.StreamClosed()
	log := logFor(r.Context()).With("scope", scope.Room())
	log.Info("event stream opened")
	defer log.Info("event stream closed")

	keepalive := time.NewTicker(s.keepalive())
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
		case e, ok := <-ch:
			if !ok {
				return
			}
			if e.Kind == events.KindResync {
				log.Warn("event stream lagged, closing")
				return
			}
			if err := writeEvent(w, e); err != nil {
				log.Warn("event stream write", "event", e.Kind, "err", err)
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// writeEvent writes one SSE frame: the kind as the event name and the JSON
// payload as data.
func writeEvent(w io.Writer, e channel.Event) error {
	kind, data, err := channel.Encode(e)
	if err != nil {
		return err
	}
	return sse.Encode(w, sse.Event{Event: string(kind), Data: data})
}

func (s *Server) keepalive() time.Duration {
	if s.config.EventKeepalive > 0 {
		return s.config.EventKeepalive
	}
	return 25 * time.Second
}
