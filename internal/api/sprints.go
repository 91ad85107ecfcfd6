package api

import (
	"net/http"
	"time"

	"github.com/marcus/boardsync/internal/channel"
	"github.com/marcus/boardsync/internal/events"
	"github.com/marcus/boardsync/internal/models"
)

// CreateSprintRequest is the body of POST /api/sprints.
type CreateSprintRequest struct {
	ProjectID string    `json:"projectId"`
	Name      string    `json:"name"`
	Goal      string    `json:"goal"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

// handleListSprints returns a project's sprints in creation order.
func (s *Server) handleListSprints(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "projectId is required")
		return
	}
	sprints, err := s.store.ListSprints(projectID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, sprints)
}

// handleGetSprint returns a single sprint.
func (s *Server) handleGetSprint(w http.ResponseWriter, r *http.Request) {
	sp, err := s.store.GetSprint(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if sp == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "sprint not found")
		return
	}
	writeData(w, http.StatusOK, sp)
}

// handleCreateSprint creates a planned sprint.
func (s *Server) handleCreateSprint(w http.ResponseWriter, r *http.Request) {
	var req CreateSprintRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ProjectID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "projectId is required")
		return
	}

	sp, err := s.store.CreateSprint(models.Sprint{
		ProjectID: req.ProjectID,
		Name:      req.Name,
		Goal:      req.Goal,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
	})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.metrics.RecordSprintChange()
	logFor(r.Context()).Info("sprint created", "sprint", sp.ID, "project", sp.ProjectID)
	writeData(w, http.StatusCreated, sp)
}

// handleUpdateSprint moves a sprint one step forward in its lifecycle.
func (s *Server) handleUpdateSprint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	status, err := models.ParseSprintStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	s.transitionSprint(w, r, status)
}

// handleCompleteSprint completes an active sprint.
func (s *Server) handleCompleteSprint(w http.ResponseWriter, r *http.Request) {
	s.transitionSprint(w, r, models.SprintCompleted)
}

// transitionSprint applies a sprint status change. Completing a sprint moves
// its unfinished tickets to the backlog; each moved ticket is broadcast as
// ticket_updated.
func (s *Server) transitionSprint(w http.ResponseWriter, r *http.Request, status models.SprintStatus) {
	sp, moved, err := s.store.UpdateSprintStatus(r.PathValue("id"), status)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	s.metrics.RecordSprintChange()
	logFor(r.Context()).Info("sprint status", "sprint", sp.ID, "status", sp.Status, "moved", len(moved))
	for i := range moved {
		t := &moved[i]
		s.broadcast(r, channel.Event{Kind: events.KindTicketUpdated, ProjectID: t.ProjectID, Ticket: t, TicketID: t.ID})
	}
	writeData(w, http.StatusOK, sp)
}
