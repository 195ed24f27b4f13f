package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ShayCichocki/orchestra/internal/exec"
	"github.com/ShayCichocki/orchestra/pkg/models"
)

// SubtaskRunner performs a subtask on behalf of an agent and returns its output.
// A returned error marks the subtask failed with the error text.
type SubtaskRunner interface {
	Run(ctx context.Context, subtask models.Subtask, agent models.Agent) (string, error)
}

// RunnerFunc adapts a function to the SubtaskRunner interface.
type RunnerFunc func(ctx context.Context, subtask models.Subtask, agent models.Agent) (string, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, subtask models.Subtask, agent models.Agent) (string, error) {
	return f(ctx, subtask, agent)
}

// MockRunner produces a deterministic output without invoking anything.
type MockRunner struct{}

// Run implements SubtaskRunner.
func (MockRunner) Run(_ context.Context, subtask models.Subtask, agent models.Agent) (string, error) {
	name := agent.Name
	if name == "" {
		name = agent.ID
	}
	return fmt.Sprintf("Result for %s by %s", subtask.Name, name), nil
}

// CommandRunner runs a shell script for every subtask. The subtask is passed
// as ORCHESTRA_* environment variables and as JSON on stdin; trimmed combined
// output becomes the result output.
type CommandRunner struct {
	Script string
	Dir    string
	Exec   exec.CommandRunner
}

// NewCommandRunner returns a CommandRunner backed by os/exec.
func NewCommandRunner(script string) *CommandRunner {
	return &CommandRunner{Script: script, Exec: exec.NewRunner()}
}

// Run implements SubtaskRunner.
func (r *CommandRunner) Run(ctx context.Context, subtask models.Subtask, agent models.Agent) (string, error) {
	payload, err := json.Marshal(struct {
		Subtask models.Subtask `json:"subtask"`
		Agent   models.Agent   `json:"agent"`
	}{subtask, agent})
	if err != nil {
		return "", fmt.Errorf("encode subtask: %w", err)
	}

	cmd := exec.Shell(r.Script)
	cmd.Dir = r.Dir
	cmd.Stdin = string(payload)
	cmd.Env = []string{
		"ORCHESTRA_SUBTASK_ID=" + subtask.ID,
		"ORCHESTRA_SUBTASK_NAME=" + subtask.Name,
		"ORCHESTRA_SUBTASK_DESCRIPTION=" + subtask.Description,
		"ORCHESTRA_SUBTASK_PRIORITY=" + string(subtask.Priority),
		"ORCHESTRA_AGENT_ID=" + agent.ID,
		"ORCHESTRA_AGENT_NAME=" + agent.Name,
	}

	out, err := r.Exec.Run(ctx, cmd)
	output := strings.TrimSpace(string(out))
	if err != nil {
		if output != "" {
			return "", fmt.Errorf("%w: %s", err, lastLine(output))
		}
		return "", err
	}
	return output, nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
