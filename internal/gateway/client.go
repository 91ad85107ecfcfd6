// Package gateway is the HTTP client for the board backend's ticket, sprint,
// project and comment endpoints. Responses arrive wrapped in {"data": ...};
// errors arrive as {"error":{"code","message"}}.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/marcus/boardsync/internal/models"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)

// APIError is an error response the server described with a code.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// Client is an HTTP client for the board backend.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// New creates a new gateway client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, "GET", "/healthz", nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Ticket methods ---

// ListTickets returns the tickets of a project in server order. A non-empty
// sprintID narrows the list to that sprint.
func (c *Client) ListTickets(ctx context.Context, projectID, sprintID string) ([]models.Ticket, error) {
	params := url.Values{}
	if projectID != "" {
		params.Set("projectId", projectID)
	}
	if sprintID != "" {
		params.Set("sprintId", sprintID)
	}
	path := "/api/tickets"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp []models.Ticket
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return resp, nil
}

// GetTicket fetches a single ticket.
func (c *Client) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	var resp models.Ticket
	if err := c.do(ctx, "GET", "/api/tickets/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, fmt.Errorf("get ticket %s: %w", id, err)
	}
	return &resp, nil
}

// UpdateTicketStatus changes only the status of a ticket.
func (c *Client) UpdateTicketStatus(ctx context.Context, id string, status models.Status) (*models.Ticket, error) {
	body := map[string]models.Status{"status": status}
	var resp models.Ticket
	if err := c.do(ctx, "PATCH", "/api/tickets/"+url.PathEscape(id)+"/status", body, &resp); err != nil {
		return nil, fmt.Errorf("update ticket %s status: %w", id, err)
	}
	return &resp, nil
}

// UpdateTicketSprint changes only the sprint assignment of a ticket. A nil
// sprintID moves the ticket to the backlog.
func (c *Client) UpdateTicketSprint(ctx context.Context, id string, sprintID *string) (*models.Ticket, error) {
	body := map[string]*string{"sprintId": sprintID}
	var resp models.Ticket
	if err := c.do(ctx, "PATCH", "/api/tickets/"+url.PathEscape(id), body, &resp); err != nil {
		return nil, fmt.Errorf("update ticket %s sprint: %w", id, err)
	}
	return &resp, nil
}

// CreateTicketRequest is the body for POST /api/tickets.
type CreateTicketRequest struct {
	ProjectID   string          `json:"projectId"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Status      models.Status   `json:"status,omitempty"`
	Priority    models.Priority `json:"priority,omitempty"`
	Type        models.Type     `json:"type,omitempty"`
	SprintID    *string         `json:"sprintId,omitempty"`
	Assignee    *models.User    `json:"assignee,omitempty"`
}

// CreateTicket creates a ticket and returns the stored record.
func (c *Client) CreateTicket(ctx context.Context, req *CreateTicketRequest) (*models.Ticket, error) {
	var resp models.Ticket
	if err := c.do(ctx, "POST", "/api/tickets", req, &resp); err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	return &resp, nil
}

// DeleteTicket removes a ticket.
func (c *Client) DeleteTicket(ctx context.Context, id string) error {
	if err := c.do(ctx, "DELETE", "/api/tickets/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("delete ticket %s: %w", id, err)
	}
	return nil
}

// --- Sprint methods ---

// ListSprints returns the sprints of a project.
func (c *Client) ListSprints(ctx context.Context, projectID string) ([]models.Sprint, error) {
	path := "/api/sprints"
	if projectID != "" {
		path += "?" + url.Values{"projectId": {projectID}}.Encode()
	}
	var resp []models.Sprint
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list sprints: %w", err)
	}
	return resp, nil
}

// CreateSprintRequest is the body for POST /api/sprints.
type CreateSprintRequest struct {
	ProjectID string    `json:"projectId"`
	Name      string    `json:"name"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	Goal      string    `json:"goal,omitempty"`
}

// CreateSprint creates a planned sprint.
func (c *Client) CreateSprint(ctx context.Context, req *CreateSprintRequest) (*models.Sprint, error) {
	var resp models.Sprint
	if err := c.do(ctx, "POST", "/api/sprints", req, &resp); err != nil {
		return nil, fmt.Errorf("create sprint: %w", err)
	}
	return &resp, nil
}

// UpdateSprintStatus moves a sprint to status. The server rejects backward
// transitions with ErrConflict.
func (c *Client) UpdateSprintStatus(ctx context.Context, id string, status models.SprintStatus) (*models.Sprint, error) {
	body := map[string]models.SprintStatus{"status": status}
	var resp models.Sprint
	if err := c.do(ctx, "PATCH", "/api/sprints/"+url.PathEscape(id), body, &resp); err != nil {
		return nil, fmt.Errorf("update sprint %s: %w", id, err)
	}
	return &resp, nil
}

// CompleteSprint completes an active sprint. The server moves the sprint's
// unfinished tickets back to the backlog.
func (c *Client) CompleteSprint(ctx context.Context, id string) (*models.Sprint, error) {
	var resp models.Sprint
	if err := c.do(ctx, "PATCH", "/api/sprints/"+url.PathEscape(id)+"/complete", nil, &resp); err != nil {
		return nil, fmt.Errorf("complete sprint %s: %w", id, err)
	}
	return &resp, nil
}

// AssignTicket sets or clears (nil) the assignee of a ticket.
func (c *Client) AssignTicket(ctx context.Context, id string, assignee *models.User) (*models.Ticket, error) {
	body := map[string]*models.User{"assignee": assignee}
	var resp models.Ticket
	if err := c.do(ctx, "PATCH", "/api/tickets/"+url.PathEscape(id), body, &resp); err != nil {
		return nil, fmt.Errorf("assign ticket %s: %w", id, err)
	}
	return &resp, nil
}

// --- Project methods ---

// ListProjects returns every project on the server.
func (c *Client) ListProjects(ctx context.Context) ([]models.Project, error) {
	var resp []models.Project
	if err := c.do(ctx, "GET", "/api/projects", nil, &resp); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return resp, nil
}

// GetProject fetches a single project.
func (c *Client) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var resp models.Project
	if err := c.do(ctx, "GET", "/api/projects/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	return &resp, nil
}

// --- Comment methods ---

// ListComments returns a ticket's comments, oldest first.
func (c *Client) ListComments(ctx context.Context, ticketID string) ([]models.Comment, error) {
	var resp []models.Comment
	if err := c.do(ctx, "GET", "/api/comments/"+url.PathEscape(ticketID), nil, &resp); err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return resp, nil
}

// CreateCommentRequest is the body for POST /api/comments.
type CreateCommentRequest struct {
	TicketID string       `json:"ticketId"`
	Message  string       `json:"message"`
	Author   *models.User `json:"author,omitempty"`
}

// CreateComment posts a comment on a ticket.
func (c *Client) CreateComment(ctx context.Context, req *CreateCommentRequest) (*models.Comment, error) {
	var resp models.Comment
	if err := c.do(ctx, "POST", "/api/comments", req, &resp); err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	return &resp, nil
}

// --- HTTP helpers ---

// envelope is the success body from the server.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// errorBody is the standard error body from the server.
type errorBody struct {
	Error *APIError `json:"error"`
}

// do executes an authenticated HTTP request.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	return c.doRequest(ctx, method, path, body, result, true)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result any, auth bool) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth && c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return statusError(resp.StatusCode, respBody)
	}

	if result == nil || len(respBody) == 0 {
		return nil
	}

	// Health responses and older servers reply unwrapped.
	payload := respBody
	var env envelope
	if json.Unmarshal(respBody, &env) == nil && len(env.Data) > 0 {
		payload = env.Data
	}
	if err := json.Unmarshal(payload, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// statusError maps an error response to a sentinel error when one applies,
// otherwise to an *APIError.
func statusError(status int, body []byte) error {
	var eb errorBody
	apiErr := &APIError{Status: status, Code: http.StatusText(status), Message: string(bytes.TrimSpace(body))}
	if json.Unmarshal(body, &eb) == nil && eb.Error != nil && eb.Error.Code != "" {
		apiErr = eb.Error
		apiErr.Status = status
	}

	var sentinel error
	switch status {
	case http.StatusUnauthorized:
		sentinel = ErrUnauthorized
	case http.StatusForbidden:
		sentinel = ErrForbidden
	case http.StatusNotFound:
		sentinel = ErrNotFound
	case http.StatusConflict:
		sentinel = ErrConflict
	default:
		return apiErr
	}
	return fmt.Errorf("%w: %w", sentinel, apiErr)
}
