package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/orchestra/pkg/models"
)

// ErrAgentNotFound is returned by Get for unknown agent IDs.
var ErrAgentNotFound = errors.New("agent not found")

// SaveAgent inserts or updates an agent. Updates keep the original insertion position.
func (db *DB) SaveAgent(ctx context.Context, a models.Agent) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	skills, err := json.Marshal(a.Skills)
	if err != nil {
		return fmt.Errorf("marshal skills: %w", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO agents (id, name, status, skills, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			skills = excluded.skills,
			updated_at = excluded.updated_at
	`, a.ID, a.Name, string(a.Status), string(skills), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.ID, err)
	}
	return nil
}

// DeleteAgent removes an agent. Returns false if it did not exist.
func (db *DB) DeleteAgent(ctx context.Context, id string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	result, err := db.conn.ExecContext(ctx, "DELETE FROM agents WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete agent %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n > 0, nil
}

// List returns all stored agents in insertion order.
func (db *DB) List(ctx context.Context) ([]models.Agent, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, name, status, skills FROM agents ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return agents, nil
}

// Get retrieves an agent by ID.
func (db *DB) Get(ctx context.Context, id string) (models.Agent, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	row := db.conn.QueryRowContext(ctx, "SELECT id, name, status, skills FROM agents WHERE id = ?", id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Agent{}, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return a, err
}

func scanAgent(row rowScanner) (models.Agent, error) {
	var (
		a      models.Agent
		status string
		skills sql.NullString
	)
	if err := row.Scan(&a.ID, &a.Name, &status, &skills); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Agent{}, err
		}
		return models.Agent{}, fmt.Errorf("scan agent: %w", err)
	}
	a.Status = models.AgentStatus(status)
	if skills.Valid && skills.String != "" && skills.String != "null" {
		if err := json.Unmarshal([]byte(skills.String), &a.Skills); err != nil {
			return models.Agent{}, fmt.Errorf("unmarshal skills for agent %s: %w", a.ID, err)
		}
	}
	return a, nil
}
