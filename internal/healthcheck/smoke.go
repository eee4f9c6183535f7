package healthcheck

import (
	"fmt"

	"github.com/buttonworks/rollguard/internal/flags"
)

// Smoke test names, in execution order.
const (
	SmokeButtonRendering   = "button-rendering"
	SmokeActionRouting     = "action-routing"
	SmokeValidationSystem  = "validation-system"
	SmokeFallbackMechanism = "fallback-mechanism"
	SmokeEmergencyDisable  = "emergency-disable"
)

// smokeButtonRendering constructs a synthetic button and asserts it is
// well-formed.
func (r *Runner) smokeButtonRendering() error {
	button := ButtonSpec{
		ID:         "smoke-render-check",
		Label:      "Smoke test",
		ActionType: "navigate",
		Variant:    "primary",
	}

	result := ValidateButton(button)
	if !result.IsValid {
		return fmt.Errorf("synthetic button failed validation: %v", result.Errors)
	}
	return nil
}

// smokeActionRouting checks that every representative action descriptor
// carries the fields routing requires.
func (r *Runner) smokeActionRouting() error {
	for _, action := range routingTable {
		if action.ID == "" || action.Kind == "" || action.Target == "" || action.Label == "" {
			return fmt.Errorf("action descriptor %+v is missing required fields", action)
		}
		if !knownActionTypes[action.Kind] {
			return fmt.Errorf("action %s routes through unknown kind %q", action.ID, action.Kind)
		}
	}
	return nil
}

// smokeValidationSystem exercises the validator against one valid and one
// deliberately broken button, asserting both outcomes.
func (r *Runner) smokeValidationSystem() error {
	valid := ValidateButton(ButtonSpec{ID: "ok", Label: "OK", ActionType: "save"})
	if !valid.IsValid {
		return fmt.Errorf("validator rejected a well-formed button: %v", valid.Errors)
	}

	invalid := ValidateButton(ButtonSpec{ActionType: "teleport"})
	if invalid.IsValid {
		return fmt.Errorf("validator accepted a malformed button")
	}
	return nil
}

// smokeFallbackMechanism asserts the flag engine answers for both admin and
// non-admin cohorts without panicking.
func (r *Runner) smokeFallbackMechanism() error {
	cohorts := []flags.Cohort{
		{UserID: "smoke-admin", IsAdmin: true},
		{UserID: "smoke-user"},
	}

	for _, cohort := range cohorts {
		// The engine's contract is to return a decision, never panic;
		// either boolean is a valid answer here.
		_ = r.flags.ShouldUseUnifiedButtons(cohort)
	}
	return nil
}

// smokeEmergencyDisable asserts the emergency-trigger and error-reporting
// entry points are callable, using a throwaway engine so the live latch is
// untouched.
func (r *Runner) smokeEmergencyDisable() error {
	probe := flags.NewEngine(nil)

	probe.RecordError("smoke-probe", fmt.Errorf("synthetic error"), nil)
	probe.TriggerEmergencyDisable("smoke test probe")

	if !probe.Emergency().Active {
		return fmt.Errorf("emergency latch did not set on a probe engine")
	}
	if probe.ShouldUseUnifiedButtons(flags.Cohort{UserID: "probe"}) {
		return fmt.Errorf("probe engine served unified path while emergency-disabled")
	}
	return nil
}
