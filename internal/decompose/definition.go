package decompose

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/orchestra/pkg/models"
)

// ErrInvalidDefinition indicates a hand-authored plan definition could not be resolved.
var ErrInvalidDefinition = errors.New("invalid plan definition")

// definedSubtask is the YAML/JSON structure of a single hand-authored subtask.
// Dependencies and parents are referenced by name.
type definedSubtask struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Priority    string   `yaml:"priority"`
	Skills      []string `yaml:"skills"`
	DependsOn   []string `yaml:"depends_on"`
	Parent      string   `yaml:"parent"`
	Group       string   `yaml:"group"`
	Order       int      `yaml:"order"`
	Level       int      `yaml:"level"`
}

type definitionFile struct {
	Query    string           `yaml:"query"`
	Strategy string           `yaml:"strategy"`
	Subtasks []definedSubtask `yaml:"subtasks"`
}

// Definition is a pre-built decomposition loaded from a file.
type Definition struct {
	Query    string
	Strategy string
	Decomposition
}

// ParseDefinition loads a hand-authored decomposition from YAML or JSON.
// Subtasks reference dependencies and parents by name. Unknown names are
// errors; cycles are left for graph validation.
func ParseDefinition(data []byte) (*Definition, error) {
	var file definitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	position := make(map[string]int, len(file.Subtasks))
	for i, ds := range file.Subtasks {
		name := strings.TrimSpace(ds.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: subtask %d has no name", ErrInvalidDefinition, i+1)
		}
		if _, dup := position[name]; dup {
			return nil, fmt.Errorf("%w: duplicate subtask name %q", ErrInvalidDefinition, name)
		}
		position[name] = i + 1
	}

	steps := make([]Step, len(file.Subtasks))
	for i, ds := range file.Subtasks {
		name := strings.TrimSpace(ds.Name)
		priority, err := models.ParsePriority(ds.Priority)
		if err != nil {
			return nil, fmt.Errorf("%w: subtask %q: %v", ErrInvalidDefinition, name, err)
		}

		step := Step{
			Name:        name,
			Description: ds.Description,
			Priority:    priority,
			Skills:      ds.Skills,
			Group:       ds.Group,
			Order:       ds.Order,
			Level:       ds.Level,
		}

		for _, dep := range ds.DependsOn {
			pos, ok := position[strings.TrimSpace(dep)]
			if !ok {
				return nil, fmt.Errorf("%w: subtask %q depends on unknown subtask %q", ErrInvalidDefinition, name, dep)
			}
			step.DependsOn = append(step.DependsOn, pos)
		}
		if ds.Parent != "" {
			pos, ok := position[strings.TrimSpace(ds.Parent)]
			if !ok {
				return nil, fmt.Errorf("%w: subtask %q has unknown parent %q", ErrInvalidDefinition, name, ds.Parent)
			}
			step.Parent = pos
		}

		switch {
		case step.Parent != 0 || step.Level > 0:
			step.Kind = models.StructureHierarchy
			if step.Level == 0 {
				step.Level = 2
			}
		case step.Group != "":
			step.Kind = models.StructureParallel
		case step.Order > 0:
			step.Kind = models.StructureSequence
		default:
			step.Kind = models.StructureNone
		}
		steps[i] = step
	}

	decomposition, err := assemble(steps, uuid.NewString, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return &Definition{
		Query:         strings.TrimSpace(file.Query),
		Strategy:      strings.TrimSpace(file.Strategy),
		Decomposition: decomposition,
	}, nil
}
