package rollback

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buttonworks/rollguard/internal/bus"
)

func TestBuiltinTriggers(t *testing.T) {
	h := newTestHarness(t)

	triggers := h.orchestrator.Triggers()
	require.Len(t, triggers, 5)

	byID := make(map[string]Trigger, len(triggers))
	for _, trigger := range triggers {
		byID[trigger.ID] = trigger
	}

	assert.True(t, byID["high-error-rate"].AutoRollback)
	assert.Equal(t, SeverityCritical, byID["high-error-rate"].Severity)
	assert.False(t, byID["slow-performance"].AutoRollback)
	assert.True(t, byID["memory-pressure"].AutoRollback)
	assert.False(t, byID["validation-failures"].AutoRollback)
	assert.True(t, byID["emergency-signal"].AutoRollback)
}

func TestBuiltinTriggersQuietOnHealthySystem(t *testing.T) {
	h := newTestHarness(t)

	for _, trigger := range h.orchestrator.Triggers() {
		if trigger.ID == "memory-pressure" {
			// Depends on the test process heap, not system state under test.
			continue
		}
		assert.False(t, trigger.Condition(), "trigger %s fired on a healthy system", trigger.ID)
	}
}

func TestHighErrorRateCondition(t *testing.T) {
	h := newTestHarness(t)

	for i := 0; i < 2; i++ {
		h.store.RecordInteraction(fmt.Sprintf("ok-%d", i), "save", true, nil)
	}
	for i := 0; i < 8; i++ {
		h.store.RecordInteraction(fmt.Sprintf("bad-%d", i), "save", false, nil)
	}

	for _, trigger := range h.orchestrator.Triggers() {
		if trigger.ID == "high-error-rate" {
			assert.True(t, trigger.Condition())
		}
	}
}

func TestEmergencySignalCondition(t *testing.T) {
	h := newTestHarness(t)

	h.engine.TriggerEmergencyDisable("operator")
	for _, trigger := range h.orchestrator.Triggers() {
		if trigger.ID == "emergency-signal" {
			assert.True(t, trigger.Condition())
		}
	}
}

func TestAddRemoveCustomTrigger(t *testing.T) {
	h := newTestHarness(t)

	custom := Trigger{
		ID:        "custom-check",
		Name:      "Custom check",
		Severity:  SeverityLow,
		Condition: func() bool { return false },
	}

	require.NoError(t, h.orchestrator.AddCustomTrigger(custom))
	assert.Len(t, h.orchestrator.Triggers(), 6)

	assert.Error(t, h.orchestrator.AddCustomTrigger(custom))

	assert.Error(t, h.orchestrator.AddCustomTrigger(Trigger{Condition: func() bool { return true }}))
	assert.Error(t, h.orchestrator.AddCustomTrigger(Trigger{ID: "no-condition"}))

	assert.True(t, h.orchestrator.RemoveTrigger("custom-check"))
	assert.False(t, h.orchestrator.RemoveTrigger("custom-check"))
	assert.Len(t, h.orchestrator.Triggers(), 5)
}

func TestAutoTriggerExecutesEmergencyPlan(t *testing.T) {
	h := newTestHarness(t)

	require.NoError(t, h.orchestrator.AddCustomTrigger(Trigger{
		ID:           "always-on",
		Name:         "Always on",
		Severity:     SeverityCritical,
		AutoRollback: true,
		Condition:    func() bool { return true },
	}))

	h.orchestrator.evaluateTriggers(context.Background())

	history := h.orchestrator.GetRollbackHistory()
	require.Len(t, history, 1)
	assert.Equal(t, PlanEmergencyRollback, history[0].PlanID)
	assert.Equal(t, StatusCompleted, history[0].Status)
	assert.False(t, h.engine.Configuration().EnableUnifiedButtons)

	// With the unified path already off there is nothing left to roll back.
	h.orchestrator.evaluateTriggers(context.Background())
	assert.Len(t, h.orchestrator.GetRollbackHistory(), 1)
}

func TestHighErrorRateRollbackHoldsAcrossEvaluations(t *testing.T) {
	h := newTestHarness(t)

	h.store.RecordInteraction("btn-ok", "save", true, nil)
	for i := 0; i < 9; i++ {
		h.store.RecordInteraction(fmt.Sprintf("btn-%d", i), "save", false, nil)
	}

	h.orchestrator.evaluateTriggers(context.Background())

	history := h.orchestrator.GetRollbackHistory()
	require.Len(t, history, 1)
	assert.Equal(t, PlanEmergencyRollback, history[0].PlanID)
	assert.Equal(t, StatusCompleted, history[0].Status,
		"failures that caused the rollback must not fail its recovery validation")
	assert.False(t, h.engine.Configuration().EnableUnifiedButtons)

	// The bad success rate lingers in the retained history, so the trigger
	// keeps firing. The next evaluation must leave the system rolled back
	// rather than re-run the plan against an already-disabled rollout.
	h.orchestrator.evaluateTriggers(context.Background())

	assert.Len(t, h.orchestrator.GetRollbackHistory(), 1)
	assert.False(t, h.engine.Configuration().EnableUnifiedButtons)
}

func TestNonCriticalAutoTriggerUsesGradualPlan(t *testing.T) {
	h := newTestHarness(t)

	require.NoError(t, h.orchestrator.AddCustomTrigger(Trigger{
		ID:           "mildly-worrying",
		Name:         "Mildly worrying",
		Severity:     SeverityHigh,
		AutoRollback: true,
		Condition:    func() bool { return true },
	}))

	h.orchestrator.evaluateTriggers(context.Background())

	history := h.orchestrator.GetRollbackHistory()
	require.Len(t, history, 1)
	assert.Equal(t, PlanGradualRollback, history[0].PlanID)
}

func TestManualTriggerOnlyNotifies(t *testing.T) {
	h := newTestHarness(t)

	notifications, cancel := h.events.Subscribe(bus.TopicRollbackNotification)
	defer cancel()

	require.NoError(t, h.orchestrator.AddCustomTrigger(Trigger{
		ID:           "needs-a-human",
		Name:         "Needs a human",
		Severity:     SeverityMedium,
		AutoRollback: false,
		Condition:    func() bool { return true },
	}))

	h.orchestrator.evaluateTriggers(context.Background())

	assert.Empty(t, h.orchestrator.GetRollbackHistory())
	select {
	case event := <-notifications:
		assert.Contains(t, event.Message, "needs-a-human")
		assert.Contains(t, event.Message, "manual action required")
	case <-time.After(time.Second):
		t.Fatal("expected a trigger notification")
	}
}

func TestTriggerEvaluationSuppressedDuringRollback(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	h := newTestHarness(t, func(cfg *Config) {
		cfg.Sleep = func(ctx context.Context, d time.Duration) error {
			close(started)
			<-release
			return nil
		}
	})

	require.NoError(t, h.orchestrator.AddCustomTrigger(Trigger{
		ID:           "always-on",
		Name:         "Always on",
		Severity:     SeverityCritical,
		AutoRollback: true,
		Condition:    func() bool { return true },
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := h.orchestrator.ExecuteRollbackPlan(context.Background(), PlanGradualRollback)
		assert.NoError(t, err)
	}()
	<-started

	h.orchestrator.evaluateTriggers(context.Background())
	assert.Empty(t, h.orchestrator.GetRollbackHistory())

	close(release)
	<-done
	assert.Len(t, h.orchestrator.GetRollbackHistory(), 1)
}

func TestPanickingConditionDoesNotFire(t *testing.T) {
	h := newTestHarness(t)

	require.NoError(t, h.orchestrator.AddCustomTrigger(Trigger{
		ID:           "broken-condition",
		Name:         "Broken condition",
		Severity:     SeverityCritical,
		AutoRollback: true,
		Condition:    func() bool { panic("lookup failed") },
	}))

	h.orchestrator.evaluateTriggers(context.Background())
	assert.Empty(t, h.orchestrator.GetRollbackHistory())
}

func TestTriggerMonitoringLifecycle(t *testing.T) {
	h := newTestHarness(t, func(cfg *Config) {
		cfg.TriggerInterval = 10 * time.Millisecond
	})

	require.NoError(t, h.orchestrator.StartTriggerMonitoring(context.Background()))
	assert.Error(t, h.orchestrator.StartTriggerMonitoring(context.Background()))

	time.Sleep(30 * time.Millisecond)

	h.orchestrator.StopTriggerMonitoring()
	h.orchestrator.StopTriggerMonitoring()
}
