package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/marcus/boardsync/internal/channel"
	"github.com/marcus/boardsync/internal/events"
	"github.com/marcus/boardsync/internal/models"
	"github.com/marcus/boardsync/internal/serverdb"
)

// CreateTicketRequest is the body of POST /api/tickets.
type CreateTicketRequest struct {
	ProjectID   string          `json:"projectId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Status      models.Status   `json:"status"`
	Priority    models.Priority `json:"priority"`
	Type        models.Type     `json:"type"`
	SprintID    *string         `json:"sprintId"`
	Assignee    *models.User    `json:"assignee"`
}

// handleListTickets returns a project's tickets, optionally narrowed to a sprint.
func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "projectId is required")
		return
	}
	tickets, err := s.store.ListTickets(projectID, r.URL.Query().Get("sprintId"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, tickets)
}

// handleGetTicket returns a single ticket.
func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, err := s.store.GetTicket(id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "ticket not found")
		return
	}
	writeData(w, http.StatusOK, t)
}

// handleCreateTicket creates a ticket and broadcasts ticket_created.
func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req CreateTicketRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ProjectID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "projectId is required")
		return
	}

	t, err := s.store.CreateTicket(models.Ticket{
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		Type:        req.Type,
		SprintID:    req.SprintID,
		Assignee:    req.Assignee,
	})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	logFor(r.Context()).Info("ticket created", "ticket", t.ID, "key", t.Key, "project", t.ProjectID)
	s.broadcast(r, channel.Event{Kind: events.KindTicketCreated, ProjectID: t.ProjectID, Ticket: t, TicketID: t.ID})
	s.notifyAssignee(r, nil, t)
	writeData(w, http.StatusCreated, t)
}

// handleUpdateTicket applies a partial update. Only fields present in the
// body change; "sprintId": null moves the ticket to the backlog and
// "assignee": null unassigns it.
func (s *Server) handleUpdateTicket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var raw map[string]json.RawMessage
	if !decodeBody(w, r, &raw) {
		return
	}
	patch, err := parseTicketPatch(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	before, err := s.store.GetTicket(id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	t, err := s.store.UpdateTicket(id, patch)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	if patch.Status != nil || patch.SetSprint {
		s.metrics.RecordTicketMove()
	}
	logFor(r.Context()).Info("ticket updated", "ticket", t.ID, "status", t.Status, "sprint", sprintLabel(t.SprintID))
	s.broadcast(r, channel.Event{Kind: events.KindTicketUpdated, ProjectID: t.ProjectID, Ticket: t, TicketID: t.ID})
	if patch.SetAssignee {
		s.notifyAssignee(r, before, t)
	}
	writeData(w, http.StatusOK, t)
}

// handleUpdateTicketStatus changes only the status of a ticket.
func (s *Server) handleUpdateTicketStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		Status string `json:"status"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	status, err := models.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	t, err := s.store.UpdateTicketStatus(id, status)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	s.metrics.RecordTicketMove()
	logFor(r.Context()).Info("ticket status", "ticket", t.ID, "status", t.Status)
	s.broadcast(r, channel.Event{Kind: events.KindTicketUpdated, ProjectID: t.ProjectID, Ticket: t, TicketID: t.ID})
	writeData(w, http.StatusOK, t)
}

// handleDeleteTicket removes a ticket and broadcasts ticket_deleted.
func (s *Server) handleDeleteTicket(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.DeleteTicket(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	logFor(r.Context()).Info("ticket deleted", "ticket", t.ID, "project", t.ProjectID)
	s.broadcast(r, channel.Event{Kind: events.KindTicketDeleted, ProjectID: t.ProjectID, TicketID: t.ID})
	writeData(w, http.StatusOK, map[string]string{"_id": t.ID})
}

// notifyAssignee sends a notification to the ticket's assignee when the
// assignment changed to someone with a user id.
func (s *Server) notifyAssignee(r *http.Request, before, after *models.Ticket) {
	if after.Assignee == nil || after.Assignee.ID == "" {
		return
	}
	if before != nil && before.Assignee != nil && before.Assignee.ID == after.Assignee.ID {
		return
	}
	n := &models.Notification{
		ID:        serverdb.NewID(),
		UserID:    after.Assignee.ID,
		Message:   fmt.Sprintf("You were assigned %s: %s", after.ShortID(), after.Title),
		Link:      "/tickets/" + after.ID,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	s.broadcast(r, channel.Event{Kind: events.KindNotification, UserID: n.UserID, Notification: n})
}

// parseTicketPatch turns a JSON object into a TicketPatch, keeping explicit
// nulls apart from absent keys.
func parseTicketPatch(raw map[string]json.RawMessage) (serverdb.TicketPatch, error) {
	var p serverdb.TicketPatch
	for key, val := range raw {
		var err error
		switch key {
		case "title":
			p.Title = new(string)
			err = json.Unmarshal(val, p.Title)
		case "description":
			p.Description = new(string)
			err = json.Unmarshal(val, p.Description)
		case "status":
			var v string
			if err = json.Unmarshal(val, &v); err == nil {
				var st models.Status
				st, err = models.ParseStatus(v)
				p.Status = &st
			}
		case "priority":
			var v string
			if err = json.Unmarshal(val, &v); err == nil {
				var pr models.Priority
				pr, err = models.ParsePriority(v)
				p.Priority = &pr
			}
		case "type":
			p.Type = new(models.Type)
			err = json.Unmarshal(val, p.Type)
		case "sprintId":
			p.SetSprint = true
			err = json.Unmarshal(val, &p.SprintID)
			if err == nil && p.SprintID != nil && *p.SprintID == "" {
				p.SprintID = nil
			}
		case "assignee":
			p.SetAssignee = true
			err = json.Unmarshal(val, &p.Assignee)
		default:
			return p, fmt.Errorf("unknown field %q", key)
		}
		if err != nil {
			return p, fmt.Errorf("field %q: %w", key, err)
		}
	}
	return p, nil
}

func sprintLabel(id *string) string {
	if id == nil {
		return "backlog"
	}
	return *id
}
