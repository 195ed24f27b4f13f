package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPlan indicates a plan's dependency graph is cyclic or references unknown subtasks.
	ErrInvalidPlan = errors.New("invalid plan")
	// ErrPlanNotFound indicates no active plan has the requested ID.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrInvalidAgent indicates an agent record failed validation.
	ErrInvalidAgent = errors.New("invalid agent")
)

// InvalidPlanError describes why a plan was rejected at creation.
type InvalidPlanError struct {
	Reason string
	Err    error
}

func (e *InvalidPlanError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidPlan, e.Reason)
}

// Unwrap exposes both ErrInvalidPlan and the underlying graph error.
func (e *InvalidPlanError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidPlan}
	}
	return []error{ErrInvalidPlan, e.Err}
}

// PlanNotFoundError reports an unknown plan ID.
type PlanNotFoundError struct {
	ID string
}

func (e *PlanNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPlanNotFound, e.ID)
}

func (e *PlanNotFoundError) Unwrap() error {
	return ErrPlanNotFound
}
