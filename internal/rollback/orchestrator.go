package rollback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/buttonworks/rollguard/internal/bus"
	"github.com/buttonworks/rollguard/internal/flags"
	"github.com/buttonworks/rollguard/internal/healthcheck"
	"github.com/buttonworks/rollguard/internal/telemetry"
)

const (
	defaultTriggerInterval   = 30 * time.Second
	defaultObservationWindow = 2 * time.Minute
	defaultMaxHistorySize    = 100

	// Plan validation check names executeRollbackPlan recognizes.
	CheckLegacyButtonRendering = "legacy-button-rendering"
	CheckActionRouting         = "action-routing"
	CheckErrorRateImprovement  = "error-rate-improvement"

	// recoveredSuccessRate is the floor the error-rate-improvement
	// validation check requires after a rollback.
	recoveredSuccessRate = 0.90
)

// Orchestrator owns the plan registry, the trigger loop, and the single
// active execution slot.
type Orchestrator struct {
	mu sync.RWMutex

	flags   *flags.Engine
	metrics *telemetry.Store
	health  *healthcheck.Runner
	events  *bus.Bus

	// sem enforces at most one active execution per process.
	sem *semaphore.Weighted

	planOrder []string
	plans     map[string]Plan
	triggers  []Trigger

	current        *Execution
	history        []Execution
	maxHistorySize int

	triggerInterval   time.Duration
	observationWindow time.Duration
	notifyLimiter     *rate.Limiter

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// Config holds dependencies for creating an Orchestrator.
type Config struct {
	// Flags is the feature-flag engine rollbacks reconfigure. Required.
	Flags *flags.Engine
	// Metrics feeds trigger conditions and validation checks. Required.
	Metrics *telemetry.Store
	// Health validates the legacy path after rollback steps. Required.
	Health *healthcheck.Runner
	// Events receives rollback notifications. Default: a private bus.
	Events *bus.Bus
	// TriggerInterval overrides the trigger evaluation cadence. Default: 30s.
	TriggerInterval time.Duration
	// ObservationWindow overrides the gradual plan's monitoring wait.
	// Default: 2 minutes.
	ObservationWindow time.Duration
	// MaxHistorySize bounds the retained execution records. Default: 100.
	MaxHistorySize int
	// Now overrides the clock for deterministic tests. Optional.
	Now func() time.Time
	// Sleep overrides the monitoring wait primitive for tests. Optional.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator creates an orchestrator with the two built-in plans and
// the built-in trigger set registered.
func NewOrchestrator(cfg *Config) (*Orchestrator, error) {
	if cfg == nil || cfg.Flags == nil {
		return nil, fmt.Errorf("flag engine is required")
	}
	if cfg.Metrics == nil {
		return nil, fmt.Errorf("metrics store is required")
	}
	if cfg.Health == nil {
		return nil, fmt.Errorf("health check runner is required")
	}

	events := cfg.Events
	if events == nil {
		events = bus.New()
	}

	triggerInterval := cfg.TriggerInterval
	if triggerInterval <= 0 {
		triggerInterval = defaultTriggerInterval
	}
	observationWindow := cfg.ObservationWindow
	if observationWindow <= 0 {
		observationWindow = defaultObservationWindow
	}
	maxHistorySize := cfg.MaxHistorySize
	if maxHistorySize <= 0 {
		maxHistorySize = defaultMaxHistorySize
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	o := &Orchestrator{
		flags:             cfg.Flags,
		metrics:           cfg.Metrics,
		health:            cfg.Health,
		events:            events,
		sem:               semaphore.NewWeighted(1),
		plans:             make(map[string]Plan),
		maxHistorySize:    maxHistorySize,
		triggerInterval:   triggerInterval,
		observationWindow: observationWindow,
		notifyLimiter:     rate.NewLimiter(rate.Every(30*time.Second), 1),
		now:               now,
		sleep:             sleep,
	}

	o.registerPlan(o.buildEmergencyPlan())
	o.registerPlan(o.buildGradualPlan())
	o.triggers = o.builtinTriggers()

	return o, nil
}

func (o *Orchestrator) registerPlan(plan Plan) {
	o.plans[plan.ID] = plan
	o.planOrder = append(o.planOrder, plan.ID)
}

// ExecuteRollbackPlan runs the named plan. Steps run sequentially in
// dependency order; a critical step failure aborts the run and compensates
// already-executed steps in reverse order. The finalized execution record is
// returned alongside any failure.
func (o *Orchestrator) ExecuteRollbackPlan(ctx context.Context, planID string) (*Execution, error) {
	o.mu.RLock()
	plan, ok := o.plans[planID]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, planID)
	}

	if !o.sem.TryAcquire(1) {
		return nil, ErrRollbackInProgress
	}

	exec := &Execution{
		ID:              uuid.New().String(),
		PlanID:          plan.ID,
		StartTime:       o.now(),
		Status:          StatusInProgress,
		ExecutedStepIDs: []string{},
		FailedStepIDs:   []string{},
		Errors:          []string{},
		PreservedData:   make(map[string]any),
	}

	o.mu.Lock()
	o.current = exec
	o.mu.Unlock()

	fmt.Printf("Rollback: executing plan %s (%s)\n", plan.ID, exec.ID)

	runErr := o.runPlan(ctx, plan, exec)

	// Finalize under the lock: the trigger loop and the CLI poll the active
	// record through GetCurrentRollbackStatus while steps are still running.
	o.mu.Lock()
	exec.EndTime = o.now()
	if runErr != nil {
		exec.Status = StatusFailed
	} else {
		exec.Status = StatusCompleted
	}
	o.current = nil
	o.addToHistoryLocked(*copyExecution(exec))
	o.mu.Unlock()
	o.sem.Release(1)

	fmt.Printf("Rollback: plan %s finished with status %s\n", plan.ID, exec.Status)

	return exec, runErr
}

// runPlan executes the plan's steps and validation checks against the given
// execution record.
func (o *Orchestrator) runPlan(ctx context.Context, plan Plan, exec *Execution) error {
	if err := o.runSteps(ctx, plan.Steps, exec); err != nil {
		o.compensate(ctx, plan, exec)
		return err
	}

	if err := o.runValidationChecks(plan, exec); err != nil {
		o.recordError(exec, err.Error())
		o.compensate(ctx, plan, exec)
		return err
	}

	return nil
}

// runSteps executes steps in dependency order. A critical failure aborts;
// non-critical failures are recorded and the run continues.
func (o *Orchestrator) runSteps(ctx context.Context, steps []Step, exec *Execution) error {
	for _, step := range orderSteps(steps) {
		if err := o.runStep(ctx, step, exec); err != nil {
			o.markStepFailed(exec, step.ID, err)
			if step.Critical {
				return fmt.Errorf("critical step %s failed: %w", step.ID, err)
			}
			fmt.Printf("Rollback: non-critical step %s failed, continuing: %v\n", step.ID, err)
			continue
		}
		o.markStepExecuted(exec, step.ID)
	}
	return nil
}

// markStepExecuted records a completed step on the active execution. All
// mutation of an in-progress record goes through o.mu so status readers see
// a consistent view.
func (o *Orchestrator) markStepExecuted(exec *Execution, stepID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	exec.ExecutedStepIDs = append(exec.ExecutedStepIDs, stepID)
}

// markStepFailed records a failed step and its error on the active execution.
func (o *Orchestrator) markStepFailed(exec *Execution, stepID string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	exec.FailedStepIDs = append(exec.FailedStepIDs, stepID)
	exec.Errors = append(exec.Errors, fmt.Sprintf("step %s: %v", stepID, err))
}

// recordError appends a free-form error to the active execution.
func (o *Orchestrator) recordError(exec *Execution, msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	exec.Errors = append(exec.Errors, msg)
}

// preserve stores a data-preservation snapshot on the active execution.
// Step actions use this instead of writing PreservedData directly.
func (o *Orchestrator) preserve(exec *Execution, key string, value any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	exec.PreservedData[key] = value
}

// runStep invokes one step action, converting a panic into a step error.
func (o *Orchestrator) runStep(ctx context.Context, step Step, exec *Execution) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("step panicked: %v", rec)
		}
	}()

	fmt.Printf("Rollback: running step %s\n", step.ID)
	return step.Action(ctx, exec)
}

// compensate invokes compensating actions for executed steps in reverse
// order. Compensation failures are logged, never re-thrown.
func (o *Orchestrator) compensate(ctx context.Context, plan Plan, exec *Execution) {
	byID := make(map[string]Step, len(plan.Steps))
	for _, step := range plan.Steps {
		byID[step.ID] = step
	}

	for i := len(exec.ExecutedStepIDs) - 1; i >= 0; i-- {
		step, ok := byID[exec.ExecutedStepIDs[i]]
		if !ok || step.CompensatingAction == nil {
			continue
		}
		if err := o.runCompensation(ctx, step, exec); err != nil {
			fmt.Printf("Rollback: compensation for step %s failed: %v\n", step.ID, err)
			o.recordError(exec, fmt.Sprintf("compensation %s: %v", step.ID, err))
		}
	}
}

func (o *Orchestrator) runCompensation(ctx context.Context, step Step, exec *Execution) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("compensation panicked: %v", rec)
		}
	}()

	return step.CompensatingAction(ctx, exec)
}

// runValidationChecks runs the plan's named post-rollback assertions.
// Unknown check names are logged and skipped.
func (o *Orchestrator) runValidationChecks(plan Plan, exec *Execution) error {
	for _, name := range plan.ValidationChecks {
		switch name {
		case CheckLegacyButtonRendering:
			if err := o.validateLegacyRendering(); err != nil {
				return fmt.Errorf("validation check %s: %w", name, err)
			}
		case CheckActionRouting:
			if err := o.validateActionRouting(); err != nil {
				return fmt.Errorf("validation check %s: %w", name, err)
			}
		case CheckErrorRateImprovement:
			if err := o.validateErrorRateImprovement(exec); err != nil {
				return fmt.Errorf("validation check %s: %w", name, err)
			}
		default:
			fmt.Printf("Rollback: skipping unknown validation check %q\n", name)
		}
	}
	return nil
}

// validateLegacyRendering asserts a legacy-shaped button still validates.
func (o *Orchestrator) validateLegacyRendering() error {
	result := healthcheck.ValidateButton(healthcheck.ButtonSpec{
		ID:         "legacy-validation-probe",
		Label:      "Legacy probe",
		ActionType: "navigate",
	})
	if !result.IsValid {
		return fmt.Errorf("legacy button failed validation: %v", result.Errors)
	}
	return nil
}

// validateActionRouting asserts every action type the legacy path serves
// still validates.
func (o *Orchestrator) validateActionRouting() error {
	for _, actionType := range []string{"navigate", "save", "delete", "share", "submit"} {
		result := healthcheck.ValidateButton(healthcheck.ButtonSpec{
			ID:         "routing-probe-" + actionType,
			Label:      "Routing probe",
			ActionType: actionType,
		})
		if !result.IsValid {
			return fmt.Errorf("action type %s failed validation: %v", actionType, result.Errors)
		}
	}
	return nil
}

// validateErrorRateImprovement asserts the success rate has recovered.
// Only interactions recorded since the rollback started count: the failures
// that caused the rollback stay in the full history forever, so measuring
// them again would fail every rollback they triggered.
func (o *Orchestrator) validateErrorRateImprovement(exec *Execution) error {
	rate := o.metrics.SuccessRateSince(exec.StartTime)
	if rate < recoveredSuccessRate {
		return fmt.Errorf("post-rollback success rate %.3f still below %.2f", rate, recoveredSuccessRate)
	}
	return nil
}

// ManualRollback runs a plan on human request, raising a stakeholder
// notification with the provided reason before executing.
func (o *Orchestrator) ManualRollback(ctx context.Context, planID, reason string) (*Execution, error) {
	o.mu.RLock()
	_, ok := o.plans[planID]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, planID)
	}

	fmt.Printf("Rollback: manual rollback of %s requested: %s\n", planID, reason)
	o.events.Publish(bus.Event{
		Topic:     bus.TopicRollbackNotification,
		Message:   fmt.Sprintf("Manual rollback of plan %s requested: %s", planID, reason),
		Timestamp: o.now(),
	})

	return o.ExecuteRollbackPlan(ctx, planID)
}

// GetCurrentRollbackStatus returns a snapshot of the active execution, or
// nil when none is in progress. The snapshot is a deep copy: the live record
// keeps growing while steps run, and a shallow copy would alias its backing
// arrays.
func (o *Orchestrator) GetCurrentRollbackStatus() *Execution {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.current == nil {
		return nil
	}
	return copyExecution(o.current)
}

// copyExecution deep-copies an execution record.
func copyExecution(exec *Execution) *Execution {
	out := *exec
	out.ExecutedStepIDs = append([]string(nil), exec.ExecutedStepIDs...)
	out.FailedStepIDs = append([]string(nil), exec.FailedStepIDs...)
	out.Errors = append([]string(nil), exec.Errors...)
	out.PreservedData = make(map[string]any, len(exec.PreservedData))
	for k, v := range exec.PreservedData {
		out.PreservedData[k] = v
	}
	return &out
}

// GetAvailableRollbackPlans returns the registered plans in registration
// order.
func (o *Orchestrator) GetAvailableRollbackPlans() []Plan {
	o.mu.RLock()
	defer o.mu.RUnlock()

	plans := make([]Plan, 0, len(o.planOrder))
	for _, id := range o.planOrder {
		plans = append(plans, o.plans[id])
	}
	return plans
}

// GetRollbackHistory returns a copy of the retained execution records,
// oldest first.
func (o *Orchestrator) GetRollbackHistory() []Execution {
	o.mu.RLock()
	defer o.mu.RUnlock()

	history := make([]Execution, len(o.history))
	copy(history, o.history)
	return history
}

// addToHistoryLocked appends an execution record, enforcing the bound.
// MUST be called with o.mu held.
func (o *Orchestrator) addToHistoryLocked(exec Execution) {
	o.history = append(o.history, exec)
	if len(o.history) > o.maxHistorySize {
		copy(o.history, o.history[len(o.history)-o.maxHistorySize:])
		o.history = o.history[:o.maxHistorySize]
	}
}

// orderSteps topologically orders steps by DependsOn, keeping declared order
// among ready steps. A cycle or a reference to a missing step falls back to
// declared order rather than deadlocking.
func orderSteps(steps []Step) []Step {
	index := make(map[string]int, len(steps))
	for i, step := range steps {
		index[step.ID] = i
	}

	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := index[dep]; !ok {
				fmt.Printf("Rollback: step %s depends on unknown step %s, using declared order\n", step.ID, dep)
				return steps
			}
		}
	}

	ordered := make([]Step, 0, len(steps))
	done := make(map[string]bool, len(steps))

	for len(ordered) < len(steps) {
		progressed := false
		for _, step := range steps {
			if done[step.ID] {
				continue
			}
			ready := true
			for _, dep := range step.DependsOn {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				ordered = append(ordered, step)
				done[step.ID] = true
				progressed = true
			}
		}
		if !progressed {
			fmt.Println("Rollback: dependency cycle detected, using declared order")
			return steps
		}
	}

	return ordered
}

// sleepContext blocks for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
