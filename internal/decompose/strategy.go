package decompose

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownStrategy is returned when a strategy name or value is not recognized.
var ErrUnknownStrategy = errors.New("unknown decomposition strategy")

// Strategy selects how a query is split into subtasks.
type Strategy int

const (
	// Sequential produces a linear chain where each subtask waits on the previous one.
	Sequential Strategy = iota
	// Parallel produces independent subtasks with no dependencies.
	Parallel
	// Hierarchical produces a parent/child tree of subtasks.
	Hierarchical

	// FirstCustomStrategy is the first value handed out by Decomposer.Register.
	FirstCustomStrategy Strategy = 100
)

// String returns the canonical name of a built-in strategy.
// Custom strategies are named by the Decomposer that registered them.
func (s Strategy) String() string {
	switch s {
	case Sequential:
		return "sequential"
	case Parallel:
		return "parallel"
	case Hierarchical:
		return "hierarchical"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// Builtin reports whether s is one of the strategies every Decomposer knows.
func (s Strategy) Builtin() bool {
	return s == Sequential || s == Parallel || s == Hierarchical
}

// ParseStrategy converts a built-in strategy name into a Strategy.
// Empty input yields Sequential.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sequential":
		return Sequential, nil
	case "parallel":
		return Parallel, nil
	case "hierarchical":
		return Hierarchical, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// MarshalText implements encoding.TextMarshaler for built-in strategies.
func (s Strategy) MarshalText() ([]byte, error) {
	if !s.Builtin() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStrategy, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for built-in strategies.
func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
