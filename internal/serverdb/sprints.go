package serverdb

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/marcus/boardsync/internal/models"
)

const sprintColumns = `id, project_id, name, goal, start_date, end_date, status`

func scanSprint(row scanner) (*models.Sprint, error) {
	var (
		s          models.Sprint
		start, end string
	)
	if err := row.Scan(&s.ID, &s.ProjectID, &s.Name, &s.Goal, &start, &end, &s.Status); err != nil {
		return nil, err
	}
	s.StartDate = parseTime(start)
	s.EndDate = parseTime(end)
	return &s, nil
}

// CreateSprint inserts a sprint. An empty ID generates one and an empty
// status means PLANNED.
func (db *ServerDB) CreateSprint(s models.Sprint) (*models.Sprint, error) {
	s.Name = strings.TrimSpace(s.Name)
	if s.Name == "" {
		return nil, fmt.Errorf("%w sprint: name is required", models.ErrInvalid)
	}
	if s.ID == "" {
		s.ID = NewID()
	}
	if s.Status == "" {
		s.Status = models.SprintPlanned
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if err := db.requireProject(s.ProjectID); err != nil {
		return nil, err
	}

	_, err := db.conn.Exec(
		`INSERT INTO sprints (`+sprintColumns+`, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ProjectID, s.Name, s.Goal, formatTime(s.StartDate), formatTime(s.EndDate), s.Status, formatTime(now()),
	)
	if err != nil {
		return nil, fmt.Errorf("insert sprint: %w", err)
	}
	return &s, nil
}

// GetSprint returns a sprint by ID, or nil if it does not exist.
func (db *ServerDB) GetSprint(id string) (*models.Sprint, error) {
	s, err := scanSprint(db.conn.QueryRow(`SELECT `+sprintColumns+` FROM sprints WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sprint: %w", err)
	}
	return s, nil
}

// ListSprints returns a project's sprints in creation order.
func (db *ServerDB) ListSprints(projectID string) ([]models.Sprint, error) {
	rows, err := db.conn.Query(`SELECT `+sprintColumns+` FROM sprints WHERE project_id = ? ORDER BY seq`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list sprints: %w", err)
	}
	defer rows.Close()

	sprints := []models.Sprint{}
	for rows.Next() {
		s, err := scanSprint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sprint: %w", err)
		}
		sprints = append(sprints, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sprints: iterate: %w", err)
	}
	return sprints, nil
}

// UpdateSprintStatus moves a sprint one step forward. Completing a sprint
// goes through CompleteSprint so its unfinished tickets return to the
// backlog; the moved tickets are returned alongside the sprint.
func (db *ServerDB) UpdateSprintStatus(id string, status models.SprintStatus) (*models.Sprint, []models.Ticket, error) {
	if status == models.SprintCompleted {
		return db.CompleteSprint(id)
	}
	if !models.IsValidSprintStatus(status) {
		return nil, nil, fmt.Errorf("%w sprint status %q", models.ErrInvalid, status)
	}

	s, err := db.GetSprint(id)
	if err != nil {
		return nil, nil, err
	}
	if s == nil {
		return nil, nil, fmt.Errorf("sprint %s: %w", id, ErrNotFound)
	}
	if !s.Status.CanTransition(status) {
		return nil, nil, fmt.Errorf("sprint %s %s -> %s: %w", id, s.Status, status, ErrInvalidTransition)
	}

	if _, err := db.conn.Exec(`UPDATE sprints SET status = ? WHERE id = ?`, status, id); err != nil {
		return nil, nil, fmt.Errorf("update sprint: %w", err)
	}
	s.Status = status
	return s, nil, nil
}

// CompleteSprint marks an active sprint COMPLETED and moves its tickets that
// are not Done to the backlog, in one transaction.
func (db *ServerDB) CompleteSprint(id string) (*models.Sprint, []models.Ticket, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	s, err := scanSprint(tx.QueryRow(`SELECT `+sprintColumns+` FROM sprints WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("sprint %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get sprint: %w", err)
	}
	if !s.Status.CanTransition(models.SprintCompleted) {
		return nil, nil, fmt.Errorf("sprint %s %s -> %s: %w", id, s.Status, models.SprintCompleted, ErrInvalidTransition)
	}

	if _, err := tx.Exec(`UPDATE sprints SET status = ? WHERE id = ?`, models.SprintCompleted, id); err != nil {
		return nil, nil, fmt.Errorf("complete sprint: %w", err)
	}

	rows, err := tx.Query(`SELECT id FROM tickets WHERE sprint_id = ? AND status != ? ORDER BY seq`, id, models.StatusComplete)
	if err != nil {
		return nil, nil, fmt.Errorf("find unfinished tickets: %w", err)
	}
	var ids []string
	for rows.Next() {
		var tid string
		if err := rows.Scan(&tid); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("scan ticket id: %w", err)
		}
		ids = append(ids, tid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("find unfinished tickets: iterate: %w", err)
	}

	ts := formatTime(now())
	moved := make([]models.Ticket, 0, len(ids))
	for _, tid := range ids {
		if _, err := tx.Exec(`UPDATE tickets SET sprint_id = NULL, updated_at = ? WHERE id = ?`, ts, tid); err != nil {
			return nil, nil, fmt.Errorf("return ticket %s to backlog: %w", tid, err)
		}
		t, err := scanTicket(tx.QueryRow(`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, tid))
		if err != nil {
			return nil, nil, fmt.Errorf("reload ticket %s: %w", tid, err)
		}
		moved = append(moved, *t)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	s.Status = models.SprintCompleted
	return s, moved, nil
}
