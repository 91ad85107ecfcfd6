package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus/boardsync/internal/gateway"
	"github.com/marcus/boardsync/internal/models"
	"github.com/marcus/boardsync/internal/serverdb"
)

// TestHarness wraps a full Server with a real HTTP listener for integration tests.
type TestHarness struct {
	t       *testing.T
	Server  *Server
	Store   *serverdb.ServerDB
	BaseURL string
	client  *http.Client
	httpSrv *httptest.Server
}

// newTestHarness creates a TestHarness with a real HTTP server on a random port.
func newTestHarness(t *testing.T, opts ...func(*Config)) *TestHarness {
	t.Helper()
	return newTestHarnessWith(t, nil, opts...)
}

// newTestHarnessWith is newTestHarness with server options.
func newTestHarnessWith(t *testing.T, srvOpts []Option, opts ...func(*Config)) *TestHarness {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "board.db")
	store, err := serverdb.Open(dbPath)
	if err != nil {
		t.Fatalf("open server db: %v", err)
	}

	cfg := Config{
		ListenAddr:     ":0",
		DBPath:         dbPath,
		RateLimitWrite: 100000,
		EventBuffer:    16,
		EventKeepalive: time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	srv, err := NewServer(cfg, store, srvOpts...)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}

	httpSrv := httptest.NewServer(srv.Handler())

	h := &TestHarness{
		t:       t,
		Server:  srv,
		Store:   store,
		BaseURL: httpSrv.URL,
		client:  &http.Client{Timeout: 5 * time.Second},
		httpSrv: httpSrv,
	}

	t.Cleanup(func() {
		// End open event streams before the listener waits on them.
		srv.cancel()
		httpSrv.Close()
		store.Close()
	})

	return h
}

// Gateway returns a client for the harness server.
func (h *TestHarness) Gateway() *gateway.Client {
	return gateway.New(h.BaseURL, h.Server.config.APIKey)
}

// Do sends a request and returns the response status and body.
func (h *TestHarness) Do(method, path string, body any) (int, []byte) {
	h.t.Helper()
	var r io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			r = bytes.NewBufferString(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				h.t.Fatalf("marshal body: %v", err)
			}
			r = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequest(method, h.BaseURL+path, r)
	if err != nil {
		h.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := h.Server.config.APIKey; key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

// Seed creates project p1 ("Web Platform", key WP) with sprint s1 ACTIVE and
// s2 PLANNED.
func (h *TestHarness) Seed() {
	h.t.Helper()
	if _, err := h.Store.CreateProject("p1", "Web Platform", ""); err != nil {
		h.t.Fatal(err)
	}
	for _, s := range []models.Sprint{
		{ID: "s1", ProjectID: "p1", Name: "Sprint 1", Status: models.SprintActive},
		{ID: "s2", ProjectID: "p1", Name: "Sprint 2"},
	} {
		if _, err := h.Store.CreateSprint(s); err != nil {
			h.t.Fatal(err)
		}
	}
}

// Ticket stores a ticket in project p1 directly, bypassing the event hub.
func (h *TestHarness) Ticket(id string, status models.Status, sprintID string) *models.Ticket {
	h.t.Helper()
	t := models.Ticket{ID: id, ProjectID: "p1", Title: "Ticket " + id, Status: status}
	if sprintID != "" {
		t.SprintID = models.StringPtr(sprintID)
	}
	out, err := h.Store.CreateTicket(t)
	if err != nil {
		h.t.Fatalf("create ticket %s: %v", id, err)
	}
	return out
}

// WaitSubscribers blocks until the event hub has at least n subscribers.
func (h *TestHarness) WaitSubscribers(n int) {
	h.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for h.Server.hub.Subscribers() < n {
		if time.Now().After(deadline) {
			h.t.Fatalf("timed out waiting for %d subscribers, have %d", n, h.Server.hub.Subscribers())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// decodeData unmarshals the {"data": ...} envelope into v.
func decodeData(t *testing.T, body []byte, v any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode envelope: %v: %s", err, body)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data: %v: %s", err, env.Data)
	}
}

// errorCode returns the code of an {"error":{...}} body.
func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil {
		t.Fatalf("decode error body: %v: %s", err, body)
	}
	return er.Error.Code
}
