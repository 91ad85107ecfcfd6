package serverdb

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marcus/boardsync/internal/models"
)

// Seed is the YAML fixture format used to populate a fresh server:
//
//	projects:
//	  - id: web
//	    name: Web Platform
//	    sprints:
//	      - id: s1
//	        name: Sprint 1
//	        status: ACTIVE
//	        start: 2026-03-02
//	        end: 2026-03-16
//	    tickets:
//	      - title: Fix login redirect
//	        status: In Progress
//	        sprint: s1
//	        assignee: Sam
type Seed struct {
	Projects []SeedProject `yaml:"projects"`
}

// SeedProject is one project with its sprints and tickets.
type SeedProject struct {
	ID      string       `yaml:"id"`
	Name    string       `yaml:"name"`
	Key     string       `yaml:"key"`
	Sprints []SeedSprint `yaml:"sprints"`
	Tickets []SeedTicket `yaml:"tickets"`
}

// SeedSprint is a sprint fixture. Dates use YYYY-MM-DD.
type SeedSprint struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Goal   string `yaml:"goal"`
	Status string `yaml:"status"`
	Start  string `yaml:"start"`
	End    string `yaml:"end"`
}

// SeedTicket is a ticket fixture. Sprint references a sprint id of the
// same project; empty means backlog.
type SeedTicket struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Status      string `yaml:"status"`
	Priority    string `yaml:"priority"`
	Type        string `yaml:"type"`
	Sprint      string `yaml:"sprint"`
	Assignee    string `yaml:"assignee"`
}

// LoadSeed reads a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes seed YAML, rejecting unknown fields.
func ParseSeed(data []byte) (*Seed, error) {
	var s Seed
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &s, nil
}

// SeedStats reports what Apply inserted.
type SeedStats struct {
	Projects int
	Sprints  int
	Tickets  int
	Skipped  int
}

// Apply inserts the seed. Projects whose id already exists are skipped with
// their sprints and tickets, so a seed can be applied on every start.
func (db *ServerDB) Apply(seed *Seed) (SeedStats, error) {
	var stats SeedStats
	for _, sp := range seed.Projects {
		if sp.ID != "" {
			existing, err := db.GetProject(sp.ID)
			if err != nil {
				return stats, err
			}
			if existing != nil {
				stats.Skipped++
				continue
			}
		}

		p, err := db.CreateProject(sp.ID, sp.Name, sp.Key)
		if err != nil {
			return stats, fmt.Errorf("seed project %q: %w", sp.Name, err)
		}
		stats.Projects++

		for _, ss := range sp.Sprints {
			s, err := ss.sprint(p.ID)
			if err != nil {
				return stats, fmt.Errorf("seed sprint %q: %w", ss.Name, err)
			}
			if _, err := db.CreateSprint(s); err != nil {
				return stats, fmt.Errorf("seed sprint %q: %w", ss.Name, err)
			}
			stats.Sprints++
		}

		for _, st := range sp.Tickets {
			t, err := st.ticket(p.ID)
			if err != nil {
				return stats, fmt.Errorf("seed ticket %q: %w", st.Title, err)
			}
			if err := db.insertSeedTicket(t); err != nil {
				return stats, fmt.Errorf("seed ticket %q: %w", st.Title, err)
			}
			stats.Tickets++
		}
	}
	return stats, nil
}

// insertSeedTicket creates a ticket even when its sprint is already
// completed, which CreateTicket refuses.
func (db *ServerDB) insertSeedTicket(t models.Ticket) error {
	sprintID := t.SprintID
	t.SprintID = nil
	created, err := db.CreateTicket(t)
	if err != nil {
		return err
	}
	if sprintID == nil {
		return nil
	}
	_, err = db.conn.Exec(`UPDATE tickets SET sprint_id = ? WHERE id = ?`, *sprintID, created.ID)
	return err
}

func (ss SeedSprint) sprint(projectID string) (models.Sprint, error) {
	s := models.Sprint{ID: ss.ID, ProjectID: projectID, Name: ss.Name, Goal: ss.Goal}
	if ss.Status != "" {
		st, err := models.ParseSprintStatus(ss.Status)
		if err != nil {
			return s, err
		}
		s.Status = st
	}
	var err error
	if s.StartDate, err = parseDate(ss.Start); err != nil {
		return s, err
	}
	if s.EndDate, err = parseDate(ss.End); err != nil {
		return s, err
	}
	return s, nil
}

func (st SeedTicket) ticket(projectID string) (models.Ticket, error) {
	t := models.Ticket{
		ID:          st.ID,
		ProjectID:   projectID,
		Title:       st.Title,
		Description: st.Description,
		Type:        models.Type(st.Type),
		SprintID:    models.StringPtr(st.Sprint),
	}
	if st.Status != "" {
		s, err := models.ParseStatus(st.Status)
		if err != nil {
			return t, err
		}
		t.Status = s
	}
	if st.Priority != "" {
		p, err := models.ParsePriority(st.Priority)
		if err != nil {
			return t, err
		}
		t.Priority = p
	}
	if st.Assignee != "" {
		t.Assignee = &models.User{Name: st.Assignee}
	}
	return t, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w date %q", models.ErrInvalid, s)
	}
	return t, nil
}
