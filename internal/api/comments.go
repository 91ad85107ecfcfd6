package api

import (
	"net/http"

	"github.com/marcus/boardsync/internal/channel"
	"github.com/marcus/boardsync/internal/events"
	"github.com/marcus/boardsync/internal/models"
)

// CreateCommentRequest is the body of POST /api/comments.
type CreateCommentRequest struct {
	TicketID string       `json:"ticketId"`
	Message  string       `json:"message"`
	Author   *models.User `json:"author"`
}

// handleCreateComment adds a comment and broadcasts comment_created to the
// ticket's project.
func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	var req CreateCommentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TicketID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "ticketId is required")
		return
	}

	c, err := s.store.CreateComment(models.Comment{TicketID: req.TicketID, Text: req.Message, Author: req.Author})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	logFor(r.Context()).Info("comment created", "comment", c.ID, "ticket", c.TicketID)
	if t, err := s.store.GetTicket(c.TicketID); err == nil && t != nil {
		s.broadcast(r, channel.Event{Kind: events.KindCommentCreated, ProjectID: t.ProjectID, TicketID: c.TicketID, Comment: c})
	}
	writeData(w, http.StatusCreated, c)
}

// handleListComments returns a ticket's comments, oldest first.
func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.store.ListComments(r.PathValue("ticketId"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, comments)
}
