package api

import (
	"net/http"
)

// CreateProjectRequest is the body of POST /api/projects.
type CreateProjectRequest struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

// handleCreateProject creates a new project.
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := s.store.CreateProject("", req.Name, req.Key)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	logFor(r.Context()).Info("project created", "project", p.ID, "key", p.Key)
	writeData(w, http.StatusCreated, p)
}

// handleListProjects returns every project.
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects()
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, projects)
}

// handleGetProject returns a single project.
func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetProject(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "project not found")
		return
	}
	writeData(w, http.StatusOK, p)
}
