package orchestrator

import (
	"context"

	"github.com/ShayCichocki/orchestra/pkg/models"
)

// PlanStore persists execution plans.
type PlanStore interface {
	SavePlan(ctx context.Context, plan *models.ExecutionPlan) error
	GetPlan(ctx context.Context, id string) (*models.ExecutionPlan, error)
	ListPlans(ctx context.Context, filter PlanFilter) ([]*models.ExecutionPlan, error)
}

// PlanFilter narrows ListPlans.
type PlanFilter struct {
	// Statuses restricts results to these statuses; empty means all.
	Statuses []models.PlanStatus
	// Limit caps the number of plans returned; zero means no limit.
	Limit int
}

// AgentSource supplies agent records from outside the engine.
type AgentSource interface {
	List(ctx context.Context) ([]models.Agent, error)
	Get(ctx context.Context, id string) (models.Agent, error)
}
