package rollback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buttonworks/rollguard/internal/bus"
	"github.com/buttonworks/rollguard/internal/flags"
	"github.com/buttonworks/rollguard/internal/healthcheck"
	"github.com/buttonworks/rollguard/internal/telemetry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// instantSleep makes the gradual plan's observation window a no-op.
func instantSleep(ctx context.Context, d time.Duration) error { return nil }

type testHarness struct {
	orchestrator *Orchestrator
	engine       *flags.Engine
	store        *telemetry.Store
	events       *bus.Bus
}

func newTestHarness(t *testing.T, opts ...func(*Config)) *testHarness {
	t.Helper()

	engine := flags.NewEngine(nil)
	store := telemetry.NewStore(nil)
	runner, err := healthcheck.NewRunner(&healthcheck.Config{Flags: engine, Metrics: store})
	require.NoError(t, err)

	events := bus.New()
	cfg := &Config{
		Flags:   engine,
		Metrics: store,
		Health:  runner,
		Events:  events,
		Sleep:   instantSleep,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	orchestrator, err := NewOrchestrator(cfg)
	require.NoError(t, err)

	return &testHarness{
		orchestrator: orchestrator,
		engine:       engine,
		store:        store,
		events:       events,
	}
}

func TestNewOrchestratorRequiresDependencies(t *testing.T) {
	engine := flags.NewEngine(nil)
	store := telemetry.NewStore(nil)
	runner, err := healthcheck.NewRunner(&healthcheck.Config{Flags: engine, Metrics: store})
	require.NoError(t, err)

	_, err = NewOrchestrator(nil)
	assert.Error(t, err)

	_, err = NewOrchestrator(&Config{Metrics: store, Health: runner})
	assert.Error(t, err)

	_, err = NewOrchestrator(&Config{Flags: engine, Health: runner})
	assert.Error(t, err)

	_, err = NewOrchestrator(&Config{Flags: engine, Metrics: store})
	assert.Error(t, err)
}

func TestGetAvailableRollbackPlans(t *testing.T) {
	h := newTestHarness(t)

	plans := h.orchestrator.GetAvailableRollbackPlans()
	require.Len(t, plans, 2)
	assert.Equal(t, PlanEmergencyRollback, plans[0].ID)
	assert.Equal(t, PlanGradualRollback, plans[1].ID)
	assert.Len(t, plans[0].Steps, 5)
	assert.Len(t, plans[1].Steps, 3)
}

func TestExecuteEmergencyRollback(t *testing.T) {
	h := newTestHarness(t)

	cohort := flags.Cohort{UserID: "standard-user"}
	require.True(t, h.engine.ShouldUseUnifiedButtons(cohort))

	exec, err := h.orchestrator.ExecuteRollbackPlan(context.Background(), PlanEmergencyRollback)
	require.NoError(t, err)
	require.NotNil(t, exec)

	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Len(t, exec.ExecutedStepIDs, 5)
	assert.Empty(t, exec.FailedStepIDs)
	assert.False(t, exec.EndTime.Before(exec.StartTime))

	assert.Contains(t, exec.PreservedData, "pre-rollback-config")
	assert.Contains(t, exec.PreservedData, "button-config")
	assert.Contains(t, exec.PreservedData, "usage-stats")

	assert.False(t, h.engine.ShouldUseUnifiedButtons(cohort))
	cfg := h.engine.Configuration()
	assert.False(t, cfg.EnableUnifiedButtons)
	assert.True(t, cfg.FallbackToLegacy)
	assert.Equal(t, 0, cfg.RolloutPercentage)
}

func TestExecuteUnknownPlan(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.orchestrator.ExecuteRollbackPlan(context.Background(), "no-such-plan")
	assert.ErrorIs(t, err, ErrUnknownPlan)
}

func TestMutualExclusion(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	h := newTestHarness(t, func(cfg *Config) {
		cfg.Sleep = func(ctx context.Context, d time.Duration) error {
			close(started)
			<-release
			return nil
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := h.orchestrator.ExecuteRollbackPlan(context.Background(), PlanGradualRollback)
		assert.NoError(t, err)
	}()

	<-started

	status := h.orchestrator.GetCurrentRollbackStatus()
	require.NotNil(t, status)
	assert.Equal(t, PlanGradualRollback, status.PlanID)
	assert.Equal(t, StatusInProgress, status.Status)

	_, err := h.orchestrator.ExecuteRollbackPlan(context.Background(), PlanEmergencyRollback)
	assert.ErrorIs(t, err, ErrRollbackInProgress)

	close(release)
	<-done

	assert.Nil(t, h.orchestrator.GetCurrentRollbackStatus())
	assert.Len(t, h.orchestrator.GetRollbackHistory(), 1)
}

func TestGradualRollbackHealthySystem(t *testing.T) {
	h := newTestHarness(t)

	exec, err := h.orchestrator.ExecuteRollbackPlan(context.Background(), PlanGradualRollback)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Len(t, exec.ExecutedStepIDs, 3)
	assert.Equal(t, 10, h.engine.Configuration().RolloutPercentage)
	assert.True(t, h.engine.Configuration().EnableUnifiedButtons)
}

func TestGradualRollbackEscalatesWhenDegraded(t *testing.T) {
	clock := newFakeClock()
	engine := flags.NewEngine(nil)
	store := telemetry.NewStore(&telemetry.StoreConfig{Now: clock.Now})
	runner, err := healthcheck.NewRunner(&healthcheck.Config{Flags: engine, Metrics: store})
	require.NoError(t, err)

	orchestrator, err := NewOrchestrator(&Config{
		Flags:   engine,
		Metrics: store,
		Health:  runner,
		Sleep:   instantSleep,
	})
	require.NoError(t, err)

	// Slow renders push the performance check into warning, which makes the
	// quick health check report degraded and forces the escalation step.
	for i := 0; i < 5; i++ {
		stop := store.StartTiming(telemetry.OpButtonRender)
		clock.Advance(300 * time.Millisecond)
		stop()
	}

	exec, err := orchestrator.ExecuteRollbackPlan(context.Background(), PlanGradualRollback)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Contains(t, exec.ExecutedStepIDs, "escalate-if-unhealthy")
	assert.Contains(t, exec.ExecutedStepIDs, "disable-unified-buttons")
	assert.False(t, engine.Configuration().EnableUnifiedButtons)
}

func TestValidationFailureCompensates(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()

	engine := flags.NewEngine(nil)
	store := telemetry.NewStore(&telemetry.StoreConfig{Now: clock.Now})
	runner, err := healthcheck.NewRunner(&healthcheck.Config{Flags: engine, Metrics: store})
	require.NoError(t, err)

	orchestrator, err := NewOrchestrator(&Config{
		Flags:   engine,
		Metrics: store,
		Health:  runner,
		Now:     func() time.Time { return start },
		Sleep:   instantSleep,
	})
	require.NoError(t, err)

	// Failures that keep arriving after the rollback starts mean the error
	// rate never recovered.
	clock.Advance(time.Minute)
	store.RecordInteraction("btn-1", "save", true, nil)
	for i := 0; i < 5; i++ {
		store.RecordInteraction(fmt.Sprintf("btn-%d", i), "save", false, nil)
	}

	exec, err := orchestrator.ExecuteRollbackPlan(context.Background(), PlanEmergencyRollback)
	require.Error(t, err)
	assert.Contains(t, err.Error(), CheckErrorRateImprovement)
	assert.Equal(t, StatusFailed, exec.Status)

	// Compensation restored the pre-rollback configuration.
	cfg := engine.Configuration()
	assert.True(t, cfg.EnableUnifiedButtons)
	assert.False(t, cfg.FallbackToLegacy)
	assert.Equal(t, 100, cfg.RolloutPercentage)
}

func TestValidationIgnoresPreRollbackFailures(t *testing.T) {
	h := newTestHarness(t)

	// The failures that justify a rollback are recorded before it starts;
	// they stay in the retained history and must not fail the recovery
	// validation of the rollback they caused.
	h.store.RecordInteraction("btn-1", "save", true, nil)
	for i := 0; i < 9; i++ {
		h.store.RecordInteraction(fmt.Sprintf("btn-%d", i), "save", false, nil)
	}

	exec, err := h.orchestrator.ExecuteRollbackPlan(context.Background(), PlanEmergencyRollback)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, exec.Status)
	assert.False(t, h.engine.Configuration().EnableUnifiedButtons)
}

func TestCriticalStepFailureAbortsAndCompensates(t *testing.T) {
	h := newTestHarness(t)

	var compensated []string
	plan := Plan{
		ID:   "test-plan",
		Name: "Test plan",
		Steps: []Step{
			{
				ID:       "first",
				Critical: false,
				Action:   func(ctx context.Context, exec *Execution) error { return nil },
				CompensatingAction: func(ctx context.Context, exec *Execution) error {
					compensated = append(compensated, "first")
					return nil
				},
			},
			{
				ID:       "second",
				Critical: false,
				Action:   func(ctx context.Context, exec *Execution) error { return nil },
				CompensatingAction: func(ctx context.Context, exec *Execution) error {
					compensated = append(compensated, "second")
					return nil
				},
			},
			{
				ID:       "breaks",
				Critical: true,
				Action: func(ctx context.Context, exec *Execution) error {
					return fmt.Errorf("storage unavailable")
				},
			},
			{
				ID:       "never-runs",
				Critical: false,
				Action: func(ctx context.Context, exec *Execution) error {
					t.Error("step after a critical failure must not run")
					return nil
				},
			},
		},
	}
	h.orchestrator.registerPlan(plan)

	exec, err := h.orchestrator.ExecuteRollbackPlan(context.Background(), "test-plan")
	require.Error(t, err)

	assert.Equal(t, StatusFailed, exec.Status)
	assert.Equal(t, []string{"first", "second"}, exec.ExecutedStepIDs)
	assert.Equal(t, []string{"breaks"}, exec.FailedStepIDs)
	assert.Equal(t, []string{"second", "first"}, compensated)
}

func TestNonCriticalFailureContinues(t *testing.T) {
	h := newTestHarness(t)

	plan := Plan{
		ID: "lenient-plan",
		Steps: []Step{
			{
				ID:       "flaky",
				Critical: false,
				Action: func(ctx context.Context, exec *Execution) error {
					return fmt.Errorf("transient")
				},
			},
			{
				ID:       "solid",
				Critical: true,
				Action:   func(ctx context.Context, exec *Execution) error { return nil },
			},
		},
	}
	h.orchestrator.registerPlan(plan)

	exec, err := h.orchestrator.ExecuteRollbackPlan(context.Background(), "lenient-plan")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Equal(t, []string{"solid"}, exec.ExecutedStepIDs)
	assert.Equal(t, []string{"flaky"}, exec.FailedStepIDs)
	assert.Len(t, exec.Errors, 1)
}

func TestStepPanicIsAStepFailure(t *testing.T) {
	h := newTestHarness(t)

	plan := Plan{
		ID: "panicky-plan",
		Steps: []Step{
			{
				ID:       "explodes",
				Critical: true,
				Action: func(ctx context.Context, exec *Execution) error {
					panic("nil pointer somewhere")
				},
			},
		},
	}
	h.orchestrator.registerPlan(plan)

	exec, err := h.orchestrator.ExecuteRollbackPlan(context.Background(), "panicky-plan")
	require.Error(t, err)
	assert.Equal(t, StatusFailed, exec.Status)
	assert.Contains(t, exec.Errors[0], "nil pointer somewhere")
}

func TestManualRollbackNotifiesFirst(t *testing.T) {
	h := newTestHarness(t)

	notifications, cancel := h.events.Subscribe(bus.TopicRollbackNotification)
	defer cancel()

	exec, err := h.orchestrator.ManualRollback(context.Background(), PlanEmergencyRollback, "dashboard errors spiking")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, exec.Status)

	select {
	case event := <-notifications:
		assert.Contains(t, event.Message, "dashboard errors spiking")
	case <-time.After(time.Second):
		t.Fatal("expected a manual rollback notification")
	}
}

func TestManualRollbackUnknownPlan(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.orchestrator.ManualRollback(context.Background(), "bogus", "why not")
	assert.ErrorIs(t, err, ErrUnknownPlan)
}

func TestErrorPropagatesAfterFinalization(t *testing.T) {
	h := newTestHarness(t)

	plan := Plan{
		ID: "doomed-plan",
		Steps: []Step{
			{
				ID:       "fails",
				Critical: true,
				Action: func(ctx context.Context, exec *Execution) error {
					return errors.New("no")
				},
			},
		},
	}
	h.orchestrator.registerPlan(plan)

	_, err := h.orchestrator.ExecuteRollbackPlan(context.Background(), "doomed-plan")
	require.Error(t, err)

	// The failed run must have released the execution slot.
	assert.Nil(t, h.orchestrator.GetCurrentRollbackStatus())
	exec, err := h.orchestrator.ExecuteRollbackPlan(context.Background(), PlanEmergencyRollback)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, exec.Status)
}

func TestStatusSnapshotIsolated(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	h := newTestHarness(t, func(cfg *Config) {
		cfg.Sleep = func(ctx context.Context, d time.Duration) error {
			close(started)
			<-release
			return nil
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := h.orchestrator.ExecuteRollbackPlan(context.Background(), PlanGradualRollback)
		assert.NoError(t, err)
	}()
	<-started

	status := h.orchestrator.GetCurrentRollbackStatus()
	require.NotNil(t, status)
	assert.Equal(t, []string{"reduce-rollout"}, status.ExecutedStepIDs)

	// Mutating the snapshot must not leak into the live record.
	status.ExecutedStepIDs = append(status.ExecutedStepIDs, "bogus")
	status.PreservedData["injected"] = true

	close(release)
	<-done

	history := h.orchestrator.GetRollbackHistory()
	require.Len(t, history, 1)
	assert.Equal(t, []string{"reduce-rollout", "monitor-error-rate", "escalate-if-unhealthy"},
		history[0].ExecutedStepIDs)
	assert.NotContains(t, history[0].PreservedData, "injected")
}

func TestConcurrentStatusPolling(t *testing.T) {
	h := newTestHarness(t)

	steps := make([]Step, 40)
	for i := range steps {
		stepID := fmt.Sprintf("step-%02d", i)
		steps[i] = Step{
			ID: stepID,
			Action: func(ctx context.Context, exec *Execution) error {
				h.orchestrator.preserve(exec, stepID, true)
				return nil
			},
		}
	}
	h.orchestrator.registerPlan(Plan{ID: "wide-plan", Name: "Wide plan", Steps: steps})

	done := make(chan struct{})
	go func() {
		defer close(done)
		exec, err := h.orchestrator.ExecuteRollbackPlan(context.Background(), "wide-plan")
		assert.NoError(t, err)
		assert.Len(t, exec.ExecutedStepIDs, len(steps))
	}()

	// Poll the live record the way the trigger loop does while steps are
	// still appending to it.
	for polling := true; polling; {
		select {
		case <-done:
			polling = false
		default:
			if status := h.orchestrator.GetCurrentRollbackStatus(); status != nil {
				assert.Equal(t, StatusInProgress, status.Status)
				assert.LessOrEqual(t, len(status.ExecutedStepIDs), len(steps))
				assert.Empty(t, status.FailedStepIDs)
			}
		}
	}

	history := h.orchestrator.GetRollbackHistory()
	require.Len(t, history, 1)
	assert.Len(t, history[0].ExecutedStepIDs, len(steps))
	assert.Len(t, history[0].PreservedData, len(steps))
}

func TestOrderSteps(t *testing.T) {
	a := Step{ID: "a"}
	b := Step{ID: "b", DependsOn: []string{"a"}}
	c := Step{ID: "c", DependsOn: []string{"b"}}

	t.Run("reorders by dependencies", func(t *testing.T) {
		ordered := orderSteps([]Step{c, b, a})
		assert.Equal(t, []string{"a", "b", "c"}, stepIDs(ordered))
	})

	t.Run("keeps declared order among ready steps", func(t *testing.T) {
		x := Step{ID: "x"}
		y := Step{ID: "y"}
		ordered := orderSteps([]Step{x, y, a})
		assert.Equal(t, []string{"x", "y", "a"}, stepIDs(ordered))
	})

	t.Run("cycle falls back to declared order", func(t *testing.T) {
		p := Step{ID: "p", DependsOn: []string{"q"}}
		q := Step{ID: "q", DependsOn: []string{"p"}}
		ordered := orderSteps([]Step{p, q})
		assert.Equal(t, []string{"p", "q"}, stepIDs(ordered))
	})

	t.Run("missing dependency falls back to declared order", func(t *testing.T) {
		orphan := Step{ID: "orphan", DependsOn: []string{"ghost"}}
		ordered := orderSteps([]Step{orphan, a})
		assert.Equal(t, []string{"orphan", "a"}, stepIDs(ordered))
	})
}

func stepIDs(steps []Step) []string {
	ids := make([]string, len(steps))
	for i, step := range steps {
		ids[i] = step.ID
	}
	return ids
}

func TestHistoryBounded(t *testing.T) {
	h := newTestHarness(t, func(cfg *Config) {
		cfg.MaxHistorySize = 3
	})

	plan := Plan{
		ID: "noop-plan",
		Steps: []Step{
			{ID: "noop", Action: func(ctx context.Context, exec *Execution) error { return nil }},
		},
	}
	h.orchestrator.registerPlan(plan)

	for i := 0; i < 5; i++ {
		_, err := h.orchestrator.ExecuteRollbackPlan(context.Background(), "noop-plan")
		require.NoError(t, err)
	}

	history := h.orchestrator.GetRollbackHistory()
	assert.Len(t, history, 3)
}
