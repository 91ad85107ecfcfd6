// Package api is the reference board server: the REST contract the client
// gateway consumes, plus an event stream fed by every successful write.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/marcus/boardsync/internal/channel"
	"github.com/marcus/boardsync/internal/serverdb"
)

// Server is the HTTP API server for the board.
type Server struct {
	config      Config
	http        *http.Server
	store       *serverdb.ServerDB
	hub         *channel.Memory
	publishers  []channel.Publisher
	metrics     *Metrics
	rateLimiter *RateLimiter
	addr        net.Addr

	// ctx ends open event streams on shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

// WithPublisher forwards every broadcast event to p in addition to the
// server's own stream subscribers. It may be given more than once.
func WithPublisher(p channel.Publisher) Option {
	return func(s *Server) { s.publishers = append(s.publishers, p) }
}

// NewServer creates a new Server with the given config and store.
func NewServer(cfg Config, store *serverdb.ServerDB, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("api: store is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:      cfg,
		store:       store,
		hub:         channel.NewMemory(cfg.EventBuffer),
		metrics:     NewMetrics(),
		rateLimiter: NewRateLimiter(),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	// No WriteTimeout: event streams stay open. Handlers that stream clear
	// their own deadline, the rest finish well within ReadTimeout.
	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s, nil
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.addr = ln.Addr()

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("rate limiter panic", "panic", r)
			}
		}()
		s.rateLimiter.Run(s.ctx)
	}()

	return nil
}

// Addr returns the address the server listens on once started.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Handler returns the server's root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Shutdown ends open event streams and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.http.Shutdown(ctx)
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health & metrics
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)

	// Projects
	mux.HandleFunc("GET /api/projects", s.requireToken(s.handleListProjects))
	mux.HandleFunc("POST /api/projects", s.requireToken(s.withWriteLimit(s.handleCreateProject)))
	mux.HandleFunc("GET /api/projects/{id}", s.requireToken(s.handleGetProject))

	// Tickets
	mux.HandleFunc("GET /api/tickets", s.requireToken(s.handleListTickets))
	mux.HandleFunc("POST /api/tickets", s.requireToken(s.withWriteLimit(s.handleCreateTicket)))
	mux.HandleFunc("GET /api/tickets/{id}", s.requireToken(s.handleGetTicket))
	mux.HandleFunc("PATCH /api/tickets/{id}", s.requireToken(s.withWriteLimit(s.handleUpdateTicket)))
	mux.HandleFunc("PATCH /api/tickets/{id}/status", s.requireToken(s.withWriteLimit(s.handleUpdateTicketStatus)))
	mux.HandleFunc("DELETE /api/tickets/{id}", s.requireToken(s.withWriteLimit(s.handleDeleteTicket)))

	// Sprints
	mux.HandleFunc("GET /api/sprints", s.requireToken(s.handleListSprints))
	mux.HandleFunc("POST /api/sprints", s.requireToken(s.withWriteLimit(s.handleCreateSprint)))
	mux.HandleFunc("GET /api/sprints/{id}", s.requireToken(s.handleGetSprint))
	mux.HandleFunc("PATCH /api/sprints/{id}", s.requireToken(s.withWriteLimit(s.handleUpdateSprint)))
	mux.HandleFunc("PATCH /api/sprints/{id}/complete", s.requireToken(s.withWriteLimit(s.handleCompleteSprint)))

	// Comments
	mux.HandleFunc("POST /api/comments", s.requireToken(s.withWriteLimit(s.handleCreateComment)))
	mux.HandleFunc("GET /api/comments/{ticketId}", s.requireToken(s.handleListComments))

	// Events
	mux.HandleFunc("GET /api/events", s.requireToken(s.handleEvents))

	return chain(mux, recoveryMiddleware, requestScope, observe(s.metrics), maxBytesMiddleware(1<<20), s.CORSMiddleware)
}

// handleHealth returns a health check response, pinging the server DB.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics returns a snapshot of server metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// broadcast delivers e to stream subscribers and then to each external
// publisher. Publisher failures are logged; the write that caused the event
// has already succeeded.
func (s *Server) broadcast(r *http.Request, e channel.Event) {
	s.hub.Publish(r.Context(), e)

	failed := false
	if len(s.publishers) > 0 {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
		defer cancel()
		for _, p := range s.publishers {
			if err := p.Publish(ctx, e); err != nil {
				failed = true
				logFor(r.Context()).Error("publish event", "event", e.Kind, "err", err)
			}
		}
	}
	s.metrics.RecordPublish(failed)
}
