//go:build integration

package integration

import (
	"github.com/ShayCichocki/orchestra/internal/decompose"
	"github.com/ShayCichocki/orchestra/pkg/models"
)

// decomposition builds an independent decomposition from subtasks.
func decomposition(subtasks ...models.Subtask) decompose.Decomposition {
	return decompose.Decomposition{Subtasks: subtasks, Graph: models.DependencyGraph{}}
}
