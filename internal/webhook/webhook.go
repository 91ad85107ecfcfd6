// Package webhook posts board events to an HTTP endpoint. It implements
// channel.Publisher so the server can fan events out to it alongside its own
// stream subscribers.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/marcus/boardsync/internal/channel"
	"github.com/marcus/boardsync/internal/events"
)

const (
	// TimestampHeader carries the unix time the payload was signed at.
	TimestampHeader = "X-Boardsync-Timestamp"
	// SignatureHeader carries "sha256=<hex hmac of timestamp.body>".
	SignatureHeader = "X-Boardsync-Signature"

	userAgent = "boardsync-webhook/1"
)

// Payload is the POST body for one event.
type Payload struct {
	Event     events.Kind     `json:"event"`
	ProjectID string          `json:"project_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// BuildPayload converts an event into a webhook payload. Local markers such
// as resync have no payload and are rejected.
func BuildPayload(e channel.Event, at time.Time) (Payload, error) {
	kind, data, err := channel.Encode(e)
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		Event:     kind,
		ProjectID: e.ProjectID,
		UserID:    e.UserID,
		Timestamp: at.UTC().Format(time.RFC3339),
		Data:      data,
	}, nil
}

// Sign returns the signature header value for body sent at unix time ts.
func Sign(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Publisher delivers every published event to one URL.
type Publisher struct {
	url    string
	secret string
	client *http.Client
	now    func() time.Time
}

// New returns a publisher for url. An empty secret sends unsigned payloads.
func New(url, secret string) *Publisher {
	return &Publisher{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Publish posts e. It returns once the endpoint answered.
func (p *Publisher) Publish(ctx context.Context, e channel.Event) error {
	payload, err := BuildPayload(e, p.now())
	if err != nil {
		return err
	}
	return p.Dispatch(ctx, payload)
}

// Dispatch performs the HTTP POST. Any non-2xx status is an error.
func (p *Publisher) Dispatch(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	ts := fmt.Sprintf("%d", p.now().Unix())
	req.Header.Set(TimestampHeader, ts)
	if p.secret != "" {
		req.Header.Set(SignatureHeader, Sign(p.secret, ts, body))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: status %d", p.url, resp.StatusCode)
	}
	return nil
}
