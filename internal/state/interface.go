package state

import (
	"context"
	"io"

	"github.com/ShayCichocki/orchestra/internal/orchestrator"
	"github.com/ShayCichocki/orchestra/pkg/models"
)

// AgentStore handles agent persistence on top of the read-only AgentSource.
type AgentStore interface {
	orchestrator.AgentSource
	SaveAgent(ctx context.Context, a models.Agent) error
	DeleteAgent(ctx context.Context, id string) (bool, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store is the full persistence surface used by the CLI and HTTP server.
type Store interface {
	io.Closer
	Migrator
	orchestrator.PlanStore
	AgentStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store                    = (*DB)(nil)
	_ orchestrator.PlanStore   = (*DB)(nil)
	_ orchestrator.AgentSource = (*DB)(nil)
	_ AgentStore               = (*DB)(nil)
)
