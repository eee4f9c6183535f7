package rollback

import (
	"context"
	"fmt"

	"github.com/buttonworks/rollguard/internal/bus"
	"github.com/buttonworks/rollguard/internal/flags"
	"github.com/buttonworks/rollguard/internal/healthcheck"
)

// Built-in plan IDs.
const (
	PlanEmergencyRollback = "emergency-rollback"
	PlanGradualRollback   = "gradual-rollback"
)

// monitorSuccessRateFloor is the success rate the gradual plan's monitoring
// step requires after reducing the rollout.
const monitorSuccessRateFloor = 0.95

// reducedRolloutPercentage is where the gradual plan parks the rollout while
// monitoring.
const reducedRolloutPercentage = 10

// buildEmergencyPlan constructs the full-stop plan: disable the unified
// path, activate the legacy fallback, preserve state, and validate that the
// legacy path still works.
func (o *Orchestrator) buildEmergencyPlan() Plan {
	return Plan{
		ID:          PlanEmergencyRollback,
		Name:        "Emergency Rollback",
		Description: "Immediately disable unified buttons and fall back to the legacy path",
		Steps: []Step{
			{
				ID:          "disable-unified-buttons",
				Name:        "Disable unified buttons",
				Description: "Turn off the unified button path and zero the rollout",
				Critical:    true,
				EstimatedDurationMinutes: 1,
				Action: func(ctx context.Context, exec *Execution) error {
					o.preserve(exec, "pre-rollback-config", o.flags.Configuration())
					o.flags.UpdateConfiguration(flags.Patch{
						EnableUnifiedButtons: flags.Bool(false),
						RolloutPercentage:    flags.Int(0),
					})
					return nil
				},
				CompensatingAction: func(ctx context.Context, exec *Execution) error {
					prev, ok := exec.PreservedData["pre-rollback-config"].(flags.Config)
					if !ok {
						return fmt.Errorf("no preserved configuration to restore")
					}
					o.flags.UpdateConfiguration(flags.Patch{
						EnableUnifiedButtons: flags.Bool(prev.EnableUnifiedButtons),
						RolloutPercentage:    flags.Int(prev.RolloutPercentage),
					})
					return nil
				},
			},
			{
				ID:          "activate-legacy-fallback",
				Name:        "Activate legacy fallback",
				Description: "Route all interactions through the legacy handlers",
				Critical:    true,
				EstimatedDurationMinutes: 1,
				DependsOn:   []string{"disable-unified-buttons"},
				Action: func(ctx context.Context, exec *Execution) error {
					o.flags.UpdateConfiguration(flags.Patch{
						FallbackToLegacy:      flags.Bool(true),
						PreserveLegacyActions: flags.Bool(true),
					})
					return nil
				},
				CompensatingAction: func(ctx context.Context, exec *Execution) error {
					prev, ok := exec.PreservedData["pre-rollback-config"].(flags.Config)
					if !ok {
						return fmt.Errorf("no preserved configuration to restore")
					}
					o.flags.UpdateConfiguration(flags.Patch{
						FallbackToLegacy:      flags.Bool(prev.FallbackToLegacy),
						PreserveLegacyActions: flags.Bool(prev.PreserveLegacyActions),
					})
					return nil
				},
			},
			{
				ID:          "preserve-button-data",
				Name:        "Preserve button data",
				Description: "Snapshot configuration and usage stats before anything else changes",
				Critical:    false,
				EstimatedDurationMinutes: 1,
				Action: func(ctx context.Context, exec *Execution) error {
					o.preserve(exec, "button-config", o.flags.Configuration())
					o.preserve(exec, "usage-stats", o.metrics.GetUsageStats())
					return nil
				},
			},
			{
				ID:          "validate-legacy-functionality",
				Name:        "Validate legacy functionality",
				Description: "Quick health check of the legacy path after the switch",
				Critical:    true,
				EstimatedDurationMinutes: 2,
				DependsOn:   []string{"activate-legacy-fallback"},
				Action: func(ctx context.Context, exec *Execution) error {
					quick := o.health.RunQuickHealthCheck()
					if quick.OverallStatus == healthcheck.OverallCritical {
						return fmt.Errorf("legacy path critical after fallback (score %d)", quick.HealthScore)
					}
					return nil
				},
			},
			{
				ID:          "notify-stakeholders",
				Name:        "Notify stakeholders",
				Description: "Raise a rollback notification for subscribers",
				Critical:    false,
				EstimatedDurationMinutes: 1,
				DependsOn:   []string{"validate-legacy-functionality"},
				Action: func(ctx context.Context, exec *Execution) error {
					o.events.Publish(bus.Event{
						Topic:     bus.TopicRollbackNotification,
						Message:   fmt.Sprintf("Emergency rollback %s completed: unified buttons disabled", exec.ID),
						Timestamp: o.now(),
					})
					return nil
				},
			},
		},
		EstimatedDurationMinutes: 6,
		DataPreservationKeys:     []string{"pre-rollback-config", "button-config", "usage-stats"},
		ValidationChecks: []string{
			CheckLegacyButtonRendering,
			CheckActionRouting,
			CheckErrorRateImprovement,
		},
	}
}

// buildGradualPlan constructs the staged plan: shrink the rollout, watch the
// error rate for an observation window, and escalate to the emergency plan
// if the system is still unhealthy.
func (o *Orchestrator) buildGradualPlan() Plan {
	return Plan{
		ID:          PlanGradualRollback,
		Name:        "Gradual Rollback",
		Description: "Reduce the rollout, monitor, and escalate only if the system stays unhealthy",
		Steps: []Step{
			{
				ID:          "reduce-rollout",
				Name:        "Reduce rollout percentage",
				Description: fmt.Sprintf("Shrink the unified rollout to %d%%", reducedRolloutPercentage),
				Critical:    false,
				EstimatedDurationMinutes: 1,
				Action: func(ctx context.Context, exec *Execution) error {
					o.preserve(exec, "previous-rollout-percentage", o.flags.Configuration().RolloutPercentage)
					o.flags.UpdateConfiguration(flags.Patch{
						RolloutPercentage: flags.Int(reducedRolloutPercentage),
					})
					return nil
				},
				CompensatingAction: func(ctx context.Context, exec *Execution) error {
					prev, ok := exec.PreservedData["previous-rollout-percentage"].(int)
					if !ok {
						return fmt.Errorf("no preserved rollout percentage to restore")
					}
					o.flags.UpdateConfiguration(flags.Patch{
						RolloutPercentage: flags.Int(prev),
					})
					return nil
				},
			},
			{
				ID:          "monitor-error-rate",
				Name:        "Monitor error rate",
				Description: "Wait out the observation window and require the success rate to recover",
				Critical:    true,
				EstimatedDurationMinutes: o.observationWindow.Minutes(),
				DependsOn:   []string{"reduce-rollout"},
				Action: func(ctx context.Context, exec *Execution) error {
					windowStart := o.now()
					if err := o.sleep(ctx, o.observationWindow); err != nil {
						return fmt.Errorf("observation window interrupted: %w", err)
					}
					// Judge only traffic that arrived during the window;
					// the pre-rollback failures never go away.
					rate := o.metrics.SuccessRateSince(windowStart)
					if rate < monitorSuccessRateFloor {
						return fmt.Errorf("success rate %.3f still below %.2f after observation window",
							rate, monitorSuccessRateFloor)
					}
					return nil
				},
			},
			{
				ID:          "escalate-if-unhealthy",
				Name:        "Escalate if unhealthy",
				Description: "Run the emergency plan's steps if the system is still not healthy",
				Critical:    true,
				EstimatedDurationMinutes: 6,
				DependsOn:   []string{"monitor-error-rate"},
				Action: func(ctx context.Context, exec *Execution) error {
					quick := o.health.RunQuickHealthCheck()
					if quick.OverallStatus == healthcheck.OverallHealthy {
						return nil
					}

					fmt.Printf("Rollback: system still %s after gradual rollback, escalating\n", quick.OverallStatus)
					o.mu.RLock()
					emergency := o.plans[PlanEmergencyRollback]
					o.mu.RUnlock()
					return o.runSteps(ctx, emergency.Steps, exec)
				},
			},
		},
		EstimatedDurationMinutes: 8,
		DataPreservationKeys:     []string{"previous-rollout-percentage"},
		ValidationChecks:         []string{CheckErrorRateImprovement},
	}
}
