package rollback

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/buttonworks/rollguard/internal/bus"
)

// Trigger thresholds.
const (
	triggerErrorRateFloor  = 0.85
	triggerSlowRenderMs    = 500
	triggerSlowActionMs    = 2000
	triggerMemoryPressure  = 0.95
	triggerRecentErrorsMax = 10
)

// builtinTriggers constructs the default trigger set evaluated by the
// monitoring loop.
func (o *Orchestrator) builtinTriggers() []Trigger {
	return []Trigger{
		{
			ID:           "high-error-rate",
			Name:         "High error rate",
			Severity:     SeverityCritical,
			AutoRollback: true,
			Description:  fmt.Sprintf("Interaction success rate below %.0f%%", triggerErrorRateFloor*100),
			Condition: func() bool {
				return o.metrics.GetUsageStats().SuccessRate < triggerErrorRateFloor
			},
		},
		{
			ID:           "slow-performance",
			Name:         "Slow performance",
			Severity:     SeverityHigh,
			AutoRollback: false,
			Description:  "Average render or action time far beyond budget",
			Condition: func() bool {
				stats := o.metrics.GetUsageStats()
				return stats.AverageRenderTimeMs > triggerSlowRenderMs ||
					stats.AverageActionTimeMs > triggerSlowActionMs
			},
		},
		{
			ID:           "memory-pressure",
			Name:         "Memory pressure",
			Severity:     SeverityCritical,
			AutoRollback: true,
			Description:  "Heap allocation above 95% of the heap reserved from the OS",
			Condition: func() bool {
				var m runtime.MemStats
				runtime.ReadMemStats(&m)
				if m.HeapSys == 0 {
					return false
				}
				return float64(m.HeapAlloc)/float64(m.HeapSys) > triggerMemoryPressure
			},
		},
		{
			ID:           "validation-failures",
			Name:         "Validation failures",
			Severity:     SeverityMedium,
			AutoRollback: false,
			Description:  "More than 10 errors in the recent window",
			Condition: func() bool {
				return o.metrics.GetRealTimeMetrics().RecentErrors > triggerRecentErrorsMax
			},
		},
		{
			ID:           "emergency-signal",
			Name:         "Emergency signal",
			Severity:     SeverityCritical,
			AutoRollback: true,
			Description:  "Emergency disable latch has been set",
			Condition: func() bool {
				return o.flags.Emergency().Active
			},
		},
	}
}

// AddCustomTrigger registers an additional trigger at runtime.
func (o *Orchestrator) AddCustomTrigger(trigger Trigger) error {
	if trigger.ID == "" {
		return fmt.Errorf("trigger id is required")
	}
	if trigger.Condition == nil {
		return fmt.Errorf("trigger condition is required")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	for _, existing := range o.triggers {
		if existing.ID == trigger.ID {
			return fmt.Errorf("trigger %s already registered", trigger.ID)
		}
	}
	o.triggers = append(o.triggers, trigger)
	return nil
}

// RemoveTrigger deletes a trigger by ID. Returns false if it was not
// registered.
func (o *Orchestrator) RemoveTrigger(triggerID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, trigger := range o.triggers {
		if trigger.ID == triggerID {
			o.triggers = append(o.triggers[:i], o.triggers[i+1:]...)
			return true
		}
	}
	return false
}

// Triggers returns a copy of the registered trigger set.
func (o *Orchestrator) Triggers() []Trigger {
	o.mu.RLock()
	defer o.mu.RUnlock()

	triggers := make([]Trigger, len(o.triggers))
	copy(triggers, o.triggers)
	return triggers
}

// StartTriggerMonitoring begins the periodic trigger evaluation loop.
func (o *Orchestrator) StartTriggerMonitoring(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return fmt.Errorf("trigger monitoring already running")
	}

	o.ctx, o.cancel = context.WithCancel(ctx)
	o.running = true

	o.wg.Add(1)
	go o.triggerLoop()

	fmt.Printf("Rollback: trigger monitoring started (interval=%v)\n", o.triggerInterval)
	return nil
}

// StopTriggerMonitoring halts the evaluation loop and waits for it to
// quiesce. Safe to call twice.
func (o *Orchestrator) StopTriggerMonitoring() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.cancel()
	o.running = false
	o.mu.Unlock()

	o.wg.Wait()
	fmt.Println("Rollback: trigger monitoring stopped")
}

func (o *Orchestrator) triggerLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.triggerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.evaluateTriggers(o.ctx)
		}
	}
}

// evaluateTriggers checks every registered trigger once. Evaluation is
// suppressed entirely while an execution is active.
func (o *Orchestrator) evaluateTriggers(ctx context.Context) {
	if o.GetCurrentRollbackStatus() != nil {
		return
	}

	for _, trigger := range o.Triggers() {
		fired := o.evaluateCondition(trigger)
		if !fired {
			continue
		}

		fmt.Printf("Rollback: trigger %s fired (severity=%s auto=%t)\n", trigger.ID, trigger.Severity, trigger.AutoRollback)

		if !trigger.AutoRollback {
			o.notifyTriggered(trigger)
			continue
		}

		// Nothing to roll back once the unified path is already off;
		// sticky conditions like the emergency latch would otherwise
		// re-fire every interval.
		if !o.flags.Configuration().EnableUnifiedButtons {
			fmt.Printf("Rollback: trigger %s fired but unified buttons already disabled, skipping\n", trigger.ID)
			continue
		}

		planID := PlanGradualRollback
		if trigger.Severity == SeverityCritical {
			planID = PlanEmergencyRollback
		}
		if _, err := o.ExecuteRollbackPlan(ctx, planID); err != nil {
			fmt.Printf("Rollback: auto rollback for trigger %s failed: %v\n", trigger.ID, err)
		}
		return
	}
}

// evaluateCondition runs one trigger condition, treating a panic inside it
// as "did not fire".
func (o *Orchestrator) evaluateCondition(trigger Trigger) (fired bool) {
	defer func() {
		if rec := recover(); rec != nil {
			fmt.Printf("Rollback: trigger %s condition panicked: %v\n", trigger.ID, rec)
			fired = false
		}
	}()

	return trigger.Condition()
}

// notifyTriggered raises a manual-action notification, rate limited so a
// persistently firing trigger does not flood subscribers.
func (o *Orchestrator) notifyTriggered(trigger Trigger) {
	if !o.notifyLimiter.Allow() {
		return
	}

	o.events.Publish(bus.Event{
		Topic:     bus.TopicRollbackNotification,
		Message:   fmt.Sprintf("Trigger %s fired (%s): %s - manual action required", trigger.ID, trigger.Severity, trigger.Description),
		Timestamp: o.now(),
	})
}
