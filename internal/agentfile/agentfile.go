// Package agentfile reads the agent pool from a YAML file and keeps an
// engine in sync with it while the file changes.
package agentfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/orchestra/pkg/models"
)

// ErrAgentNotFound is returned by Get for IDs not present in the file.
var ErrAgentNotFound = errors.New("agent not found")

// fileFormat is the on-disk layout:
//
//	agents:
//	  - id: w1
//	    name: Writer
//	    status: available
//	    skills: [writing]
type fileFormat struct {
	Agents []agentEntry `yaml:"agents"`
}

type agentEntry struct {
	ID     string   `yaml:"id"`
	Name   string   `yaml:"name"`
	Status string   `yaml:"status"`
	Skills []string `yaml:"skills"`
}

// Parse decodes agent definitions. Statuses go through models.ParseAgentStatus,
// so an omitted status means offline.
func Parse(data []byte) ([]models.Agent, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse agents file: %w", err)
	}

	seen := make(map[string]bool, len(f.Agents))
	agents := make([]models.Agent, 0, len(f.Agents))
	for i, e := range f.Agents {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return nil, fmt.Errorf("agent %d: id is required", i+1)
		}
		if seen[id] {
			return nil, fmt.Errorf("agent %s: duplicate id", id)
		}
		seen[id] = true

		status, err := models.ParseAgentStatus(e.Status)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", id, err)
		}
		agents = append(agents, models.Agent{
			ID:     id,
			Name:   e.Name,
			Status: status,
			Skills: e.Skills,
		})
	}
	return agents, nil
}

// Load reads and parses the agents file at path.
func Load(path string) ([]models.Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}
	return Parse(data)
}

// Save writes agents to path in the format Parse reads.
func Save(path string, agents []models.Agent) error {
	f := fileFormat{Agents: make([]agentEntry, 0, len(agents))}
	for _, a := range agents {
		f.Agents = append(f.Agents, agentEntry{
			ID:     a.ID,
			Name:   a.Name,
			Status: string(a.Status),
			Skills: a.Skills,
		})
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("marshal agents: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create agents directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write agents file: %w", err)
	}
	return nil
}

// File is an AgentSource backed by a YAML file. Every call rereads the file.
type File struct {
	Path string
}

// List returns the agents in file order.
func (f File) List(ctx context.Context) ([]models.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Load(f.Path)
}

// Get returns the agent with the given ID.
func (f File) Get(ctx context.Context, id string) (models.Agent, error) {
	agents, err := f.List(ctx)
	if err != nil {
		return models.Agent{}, err
	}
	for _, a := range agents {
		if a.ID == id {
			return a, nil
		}
	}
	return models.Agent{}, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
}
