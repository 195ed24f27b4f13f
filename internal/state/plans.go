package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/orchestra/internal/orchestrator"
	"github.com/ShayCichocki/orchestra/pkg/models"
)

// SavePlan inserts or replaces a plan and its subtask results.
func (db *DB) SavePlan(ctx context.Context, plan *models.ExecutionPlan) error {
	if plan == nil || plan.ID == "" {
		return fmt.Errorf("save plan: missing plan id")
	}

	subtasks, err := json.Marshal(plan.Subtasks)
	if err != nil {
		return fmt.Errorf("marshal subtasks: %w", err)
	}
	deps, err := json.Marshal(plan.Dependencies)
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}
	var metadata sql.NullString
	if len(plan.Metadata) > 0 {
		b, err := json.Marshal(plan.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}

	return db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO plans (id, query, strategy, status, subtasks, dependencies, metadata, passes,
				created_at, created_ns, updated_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				query = excluded.query,
				strategy = excluded.strategy,
				status = excluded.status,
				subtasks = excluded.subtasks,
				dependencies = excluded.dependencies,
				metadata = excluded.metadata,
				passes = excluded.passes,
				updated_at = excluded.updated_at,
				completed_at = excluded.completed_at
		`, plan.ID, plan.Query, plan.Strategy, string(plan.Status), string(subtasks), string(deps), metadata,
			plan.Passes, formatTime(plan.CreatedAt), plan.CreatedAt.UnixNano(), formatTime(plan.UpdatedAt),
			nullableTime(plan.CompletedAt))
		if err != nil {
			return fmt.Errorf("upsert plan %s: %w", plan.ID, err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM plan_results WHERE plan_id = ?", plan.ID); err != nil {
			return fmt.Errorf("clear results for plan %s: %w", plan.ID, err)
		}
		for _, r := range plan.Results {
			if r == nil {
				continue
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO plan_results (plan_id, subtask_id, agent_id, status, output, error, attempts, completed_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, plan.ID, r.SubtaskID, r.AgentID, string(r.Status), r.Output, r.Error, r.Attempts,
				nullableTime(r.CompletedAt))
			if err != nil {
				return fmt.Errorf("insert result %s: %w", r.SubtaskID, err)
			}
		}
		return nil
	})
}

// GetPlan retrieves a plan by ID. Unknown IDs yield *orchestrator.PlanNotFoundError.
func (db *DB) GetPlan(ctx context.Context, id string) (*models.ExecutionPlan, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	row := db.conn.QueryRowContext(ctx, `
		SELECT id, query, strategy, status, subtasks, dependencies, metadata, passes,
			created_at, updated_at, completed_at
		FROM plans WHERE id = ?
	`, id)
	plan, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &orchestrator.PlanNotFoundError{ID: id}
	}
	if err != nil {
		return nil, err
	}
	if err := db.loadResults(ctx, []*models.ExecutionPlan{plan}); err != nil {
		return nil, err
	}
	return plan, nil
}

// ListPlans returns plans matching filter, most recently created first.
func (db *DB) ListPlans(ctx context.Context, filter orchestrator.PlanFilter) ([]*models.ExecutionPlan, error) {
	query := `
		SELECT id, query, strategy, status, subtasks, dependencies, metadata, passes,
			created_at, updated_at, completed_at
		FROM plans`
	var args []any
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		query += " WHERE status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY created_ns DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []*models.ExecutionPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}

	if err := db.loadResults(ctx, plans); err != nil {
		return nil, err
	}
	return plans, nil
}

// DeletePlan removes a plan and its results. Returns false if it did not exist.
func (db *DB) DeletePlan(ctx context.Context, id string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	result, err := db.conn.ExecContext(ctx, "DELETE FROM plans WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete plan %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*models.ExecutionPlan, error) {
	var (
		p                    models.ExecutionPlan
		strategy, metadata   sql.NullString
		status               string
		subtasks, deps       string
		createdAt, updatedAt string
		completedAt          sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Query, &strategy, &status, &subtasks, &deps, &metadata, &p.Passes,
		&createdAt, &updatedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan plan: %w", err)
	}

	p.Strategy = strategy.String
	p.Status = models.PlanStatus(status)
	if err := json.Unmarshal([]byte(subtasks), &p.Subtasks); err != nil {
		return nil, fmt.Errorf("unmarshal subtasks for plan %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(deps), &p.Dependencies); err != nil {
		return nil, fmt.Errorf("unmarshal dependencies for plan %s: %w", p.ID, err)
	}
	if p.Dependencies == nil {
		p.Dependencies = models.DependencyGraph{}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &p.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for plan %s: %w", p.ID, err)
		}
	}

	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at for plan %s: %w", p.ID, err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at for plan %s: %w", p.ID, err)
	}
	p.CompletedAt = parseNullableTime(completedAt)
	p.Results = make(map[string]*models.SubtaskResult)
	return &p, nil
}

// loadResults fills Results for plans. Caller must hold db.mu.
func (db *DB) loadResults(ctx context.Context, plans []*models.ExecutionPlan) error {
	for _, p := range plans {
		rows, err := db.conn.QueryContext(ctx, `
			SELECT subtask_id, agent_id, status, output, error, attempts, completed_at
			FROM plan_results WHERE plan_id = ?
		`, p.ID)
		if err != nil {
			return fmt.Errorf("query results for plan %s: %w", p.ID, err)
		}
		for rows.Next() {
			var (
				r                     models.SubtaskResult
				agentID, output, errs sql.NullString
				status                string
				completedAt           sql.NullString
			)
			if err := rows.Scan(&r.SubtaskID, &agentID, &status, &output, &errs, &r.Attempts, &completedAt); err != nil {
				rows.Close()
				return fmt.Errorf("scan result: %w", err)
			}
			r.AgentID = agentID.String
			r.Status = models.ResultStatus(status)
			r.Output = output.String
			r.Error = errs.String
			r.CompletedAt = parseNullableTime(completedAt)
			p.Results[r.SubtaskID] = &r
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("iterate results for plan %s: %w", p.ID, err)
		}
	}
	return nil
}
