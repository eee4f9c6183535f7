// Package rollback holds the declarative rollback plans, the trigger
// monitoring loop, and the execution engine that runs plan steps in
// dependency order with compensation on failure. At most one execution may
// be active per process; concurrent attempts fail fast with
// ErrRollbackInProgress.
package rollback

import (
	"context"
	"errors"
	"time"
)

// ErrRollbackInProgress is returned when a plan execution is requested while
// another execution is still active.
var ErrRollbackInProgress = errors.New("rollback already in progress")

// ErrUnknownPlan is returned when the requested plan ID is not registered.
var ErrUnknownPlan = errors.New("unknown rollback plan")

// Severity ranks how urgent a trigger condition is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Trigger is a named boolean condition over live system state. When it fires
// with AutoRollback set, the orchestrator executes a plan without human
// confirmation; otherwise it only raises a notification.
type Trigger struct {
	ID           string
	Name         string
	Condition    func() bool
	Severity     Severity
	AutoRollback bool
	Description  string
}

// Step is one action of a rollback plan. Critical steps abort the plan on
// failure; non-critical failures are recorded and the plan continues.
type Step struct {
	ID          string
	Name        string
	Description string
	// Action performs the step, recording any preserved data on the
	// execution. A nil return marks the step executed.
	Action func(ctx context.Context, exec *Execution) error
	// CompensatingAction undoes the step during best-effort compensation.
	// Optional.
	CompensatingAction       func(ctx context.Context, exec *Execution) error
	Critical                 bool
	EstimatedDurationMinutes float64
	// DependsOn lists step IDs that must execute before this one.
	DependsOn []string
}

// Plan is a named, ordered, dependency-aware sequence of steps that reverts
// the system to a known-safe configuration. Immutable once registered.
type Plan struct {
	ID                       string
	Name                     string
	Description              string
	Steps                    []Step
	EstimatedDurationMinutes float64
	DataPreservationKeys     []string
	ValidationChecks         []string
}

// ExecutionStatus is the lifecycle state of one plan run.
type ExecutionStatus string

const (
	StatusInProgress ExecutionStatus = "in-progress"
	StatusCompleted  ExecutionStatus = "completed"
	StatusFailed     ExecutionStatus = "failed"
	StatusCancelled  ExecutionStatus = "cancelled"
)

// Execution is the mutable record of one plan run.
type Execution struct {
	ID              string          `json:"id"`
	PlanID          string          `json:"plan_id"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time,omitempty"`
	Status          ExecutionStatus `json:"status"`
	ExecutedStepIDs []string        `json:"executed_step_ids"`
	FailedStepIDs   []string        `json:"failed_step_ids"`
	Errors          []string        `json:"errors"`
	PreservedData   map[string]any  `json:"preserved_data"`
}
