package state

import (
	"context"
	"fmt"
	"time"

	"github.com/ShayCichocki/orchestra/internal/orchestrator"
	"github.com/ShayCichocki/orchestra/pkg/models"
)

// InterruptedPlan describes a plan left in progress by a process that stopped
// before finishing it.
type InterruptedPlan struct {
	PlanID       string
	Query        string
	LastActivity time.Time
	Passes       int
	Completed    int
	Pending      int
}

// RecoveryManager handles detection and cleanup of interrupted plans.
type RecoveryManager struct {
	db  *DB
	now func() time.Time
}

// NewRecoveryManager creates a new RecoveryManager with the given database.
func NewRecoveryManager(db *DB) *RecoveryManager {
	return &RecoveryManager{db: db, now: time.Now}
}

// CheckForInterrupted returns in-progress plans that have not been updated
// for at least staleAfter. A zero staleAfter reports every in-progress plan.
func (rm *RecoveryManager) CheckForInterrupted(ctx context.Context, staleAfter time.Duration) ([]InterruptedPlan, error) {
	plans, err := rm.db.ListPlans(ctx, orchestrator.PlanFilter{
		Statuses: []models.PlanStatus{models.PlanStatusInProgress},
	})
	if err != nil {
		return nil, fmt.Errorf("list in-progress plans: %w", err)
	}

	cutoff := rm.now().Add(-staleAfter)
	var out []InterruptedPlan
	for _, p := range plans {
		if staleAfter > 0 && p.UpdatedAt.After(cutoff) {
			continue
		}
		completed, _, pending := p.Counts()
		out = append(out, InterruptedPlan{
			PlanID:       p.ID,
			Query:        p.Query,
			LastActivity: p.UpdatedAt,
			Passes:       p.Passes,
			Completed:    completed,
			Pending:      pending,
		})
	}
	return out, nil
}

// Clean marks an interrupted plan as cancelled so it is no longer restored
// as active.
func (rm *RecoveryManager) Clean(ctx context.Context, planID string) error {
	plan, err := rm.db.GetPlan(ctx, planID)
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}
	if plan.Status.Terminal() {
		return nil
	}

	if err := plan.Transition(models.PlanStatusCancelled, rm.now()); err != nil {
		return fmt.Errorf("cancel plan %s: %w", planID, err)
	}
	if plan.Metadata == nil {
		plan.Metadata = make(map[string]string)
	}
	plan.Metadata["recovery"] = "cleaned"

	if err := rm.db.SavePlan(ctx, plan); err != nil {
		return fmt.Errorf("save plan %s: %w", planID, err)
	}
	return nil
}
