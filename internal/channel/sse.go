package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SSE subscribes to the server's event stream over HTTP
// (GET /api/events?projectId= or ?userId=).
type SSE struct {
	BaseURL    string
	APIKey     string
	HTTP       *http.Client
	Logger     *slog.Logger
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// NewSSE creates an SSE subscriber. The HTTP client has no overall timeout
// since streams stay open indefinitely.
func NewSSE(baseURL, apiKey string, logger *slog.Logger) *SSE {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSE{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTP:       &http.Client{},
		Logger:     logger,
		MinBackoff: 500 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
	}
}

// Subscribe connects in the background and keeps reconnecting with capped
// exponential backoff until ctx is done. Resync() is sent after every
// successful reconnect.
func (s *SSE) Subscribe(ctx context.Context, scope Scope) (<-chan Event, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	out := make(chan Event, DefaultBuffer)
	go s.run(ctx, scope, out)
	return out, nil
}

func (s *SSE) run(ctx context.Context, scope Scope, out chan<- Event) {
	defer close(out)
	backoff := s.MinBackoff
	connected := false

	for ctx.Err() == nil {
		err := s.stream(ctx, scope, func() bool {
			backoff = s.MinBackoff
			if connected {
				return send(ctx, out, Resync())
			}
			connected = true
			return true
		}, out)
		if ctx.Err() != nil {
			return
		}
		s.Logger.Warn("event stream disconnected", "scope", scope.Room(), "err", err, "retry_in", backoff)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		backoff *= 2
		if backoff > s.MaxBackoff {
			backoff = s.MaxBackoff
		}
	}
}

// stream holds one connection open until it fails. onOpen runs once the
// server accepted the subscription.
func (s *SSE) stream(ctx context.Context, scope Scope, onOpen func() bool, out chan<- Event) error {
	params := url.Values{}
	if scope.UserID != "" {
		params.Set("userId", scope.UserID)
	} else {
		params.Set("projectId", scope.ProjectID)
	}
	req, err := http.NewRequestWithContext(ctx, "GET", s.BaseURL+"/api/events?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("subscribe: HTTP %d", resp.StatusCode)
	}
	if !onOpen() {
		return ctx.Err()
	}

	return readFrames(resp.Body, func(name, data string) bool {
		ev, err := Decode(name, []byte(data))
		if err != nil {
			s.Logger.Warn("dropping event", "scope", scope.Room(), "event", name, "err", err)
			return true
		}
		return send(ctx, out, ev)
	})
}

// errStopped is returned by readFrames when the handler asked to stop.
var errStopped = errors.New("stopped")

// readFrames parses a text/event-stream body, calling fn for each frame that
// has an event name. A frame without a name is a comment or keepalive.
// It returns io.ErrUnexpectedEOF when the stream ends.
func readFrames(r io.Reader, fn func(name, data string) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var name string
	var data []string
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if line == "" {
			if name != "" && len(data) > 0 {
				if !fn(name, strings.Join(data, "\n")) {
					return errStopped
				}
			}
			name, data = "", nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return io.ErrUnexpectedEOF
}
