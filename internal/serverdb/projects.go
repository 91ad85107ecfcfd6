package serverdb

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/marcus/boardsync/internal/models"
)

// CreateProject creates a project. An empty id generates one; key prefixes
// human ticket keys and defaults to the first letters of the name.
func (db *ServerDB) CreateProject(id, name, key string) (*models.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: project name is required", models.ErrInvalid)
	}
	if id == "" {
		id = NewID()
	}
	if key == "" {
		key = projectKey(name)
	}
	key = strings.ToUpper(key)

	_, err := db.conn.Exec(
		`INSERT INTO projects (id, name, key, created_at) VALUES (?, ?, ?, ?)`,
		id, name, key, formatTime(now()),
	)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	return &models.Project{ID: id, Name: name, Key: key}, nil
}

// GetProject returns a project by ID, or nil if it does not exist.
func (db *ServerDB) GetProject(id string) (*models.Project, error) {
	p := &models.Project{}
	err := db.conn.QueryRow(`SELECT id, name, key FROM projects WHERE id = ?`, id).Scan(&p.ID, &p.Name, &p.Key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// ListProjects returns all projects in creation order.
func (db *ServerDB) ListProjects() ([]models.Project, error) {
	rows, err := db.conn.Query(`SELECT id, name, key FROM projects ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Key); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list projects: iterate: %w", err)
	}
	return projects, nil
}

func (db *ServerDB) requireProject(id string) error {
	p, err := db.GetProject(id)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return nil
}

// projectKey derives "WP" from "Web Platform" and "WEB" from "Website":
// initials of up to three words, or the first three letters of one word.
func projectKey(name string) string {
	words := strings.Fields(name)
	var b strings.Builder
	if len(words) > 1 {
		for _, w := range words {
			if b.Len() == 3 {
				break
			}
			b.WriteString(w[:1])
		}
	} else {
		w := words[0]
		if len(w) > 3 {
			w = w[:3]
		}
		b.WriteString(w)
	}
	return strings.ToUpper(b.String())
}
