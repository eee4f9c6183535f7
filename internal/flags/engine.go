// Package flags implements the feature-flag engine that decides, per user
// cohort, whether the unified button path or the legacy path renders. The
// engine also tracks its own error and performance windows and trips a sticky
// emergency latch when the error rate crosses the configured threshold, so a
// misbehaving rollout degrades to the safe path without human action.
package flags

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/buttonworks/rollguard/internal/bus"
)

// Well-known operation names tracked by the engine's performance window.
const (
	OpButtonRender    = "button-render"
	OpActionExecution = "action-execution"
)

// Engine health statuses.
const (
	StatusHealthy           = "healthy"
	StatusDegraded          = "degraded"
	StatusEmergencyDisabled = "emergency_disabled"
)

const (
	// errorWindow is the rolling window the auto-trip evaluates.
	errorWindow = time.Minute
	// minErrorsForTrip keeps one stray error from tripping the latch.
	minErrorsForTrip = 5
	// perfWindowSize bounds the per-operation sample list.
	perfWindowSize = 100
	// perfWindow is how far back samples count toward health evaluation.
	perfWindow = 5 * time.Minute
)

// Cohort is the identifying context used to make a per-user rollout
// decision. It is a value object: constructed per evaluation, never stored.
type Cohort struct {
	UserID        string
	SessionID     string
	UserAgentHash string
	IsAdmin       bool
}

// EmergencyState is the sticky override forcing the legacy path. Once set it
// stays set until ResetEmergencyState is called explicitly.
type EmergencyState struct {
	Active      bool
	Reason      string
	TriggeredAt time.Time
}

// SystemHealth summarizes the engine's own view of the migration.
type SystemHealth struct {
	Status          string
	Metrics         map[string][]float64
	Recommendations []string
}

type perfSample struct {
	value float64
	at    time.Time
}

type errorRecord struct {
	operation string
	message   string
	at        time.Time
}

// Engine evaluates rollout decisions and watches its own error budget.
// All state is in-memory; every operation is synchronous and lock-guarded so
// the background loops can read while the UI thread evaluates.
type Engine struct {
	mu     sync.RWMutex
	config Config

	emergency EmergencyState

	perf      map[string][]perfSample
	errors    []errorRecord
	errorsAll int64

	events *bus.Bus
	now    func() time.Time
}

// EngineConfig holds dependencies for creating an Engine.
type EngineConfig struct {
	// Config is the initial configuration. Zero value means DefaultConfig.
	Config *Config
	// Events receives emergency-disable notifications. Optional.
	Events *bus.Bus
	// Now overrides the clock for deterministic tests. Optional.
	Now func() time.Time
}

// NewEngine creates a feature-flag engine.
func NewEngine(cfg *EngineConfig) *Engine {
	if cfg == nil {
		cfg = &EngineConfig{}
	}

	config := DefaultConfig()
	if cfg.Config != nil {
		config = *cfg.Config
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		config: config,
		perf:   make(map[string][]perfSample),
		events: cfg.Events,
		now:    now,
	}
}

// ShouldUseUnifiedButtons decides which button path a cohort gets.
// Decision order: emergency latch, global kill switch, admin override, then
// stable percentage rollout. The hash is deterministic per user id so a given
// user never flickers between paths as long as the configuration holds.
// Never panics: any internal fault falls back to the legacy path.
func (e *Engine) ShouldUseUnifiedButtons(cohort Cohort) (unified bool) {
	defer func() {
		if r := recover(); r != nil {
			unified = false
		}
	}()

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.emergency.Active {
		return false
	}
	if !e.config.EnableUnifiedButtons {
		return false
	}
	if cohort.IsAdmin {
		return true
	}

	return cohortBucket(cohort) < e.config.RolloutPercentage
}

// cohortBucket maps a cohort to a stable integer in [0,100).
func cohortBucket(cohort Cohort) int {
	id := cohort.UserID
	if id == "" {
		id = cohort.SessionID
	}
	if id == "" {
		// Anonymous cohorts all land in one bucket rather than erroring.
		id = "anonymous"
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % 100)
}

// UpdateConfiguration merges a partial update into the configuration. The
// change takes effect for the next decision.
func (e *Engine) UpdateConfiguration(patch Patch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	patch.apply(&e.config)
}

// Configuration returns a copy of the current configuration.
func (e *Engine) Configuration() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}

// TriggerEmergencyDisable sets the emergency latch, forcing the legacy path
// for every cohort until ResetEmergencyState. Publishes an emergency-disable
// event for subscribers. No-op when the latch is disabled by configuration
// or already set.
func (e *Engine) TriggerEmergencyDisable(reason string) {
	e.mu.Lock()
	if !e.config.EnableEmergencyDisable {
		e.mu.Unlock()
		fmt.Printf("FlagEngine: emergency disable requested (%s) but latch is disabled by configuration\n", reason)
		return
	}
	if e.emergency.Active {
		e.mu.Unlock()
		return
	}

	at := e.now()
	e.emergency = EmergencyState{
		Active:      true,
		Reason:      reason,
		TriggeredAt: at,
	}
	events := e.events
	e.mu.Unlock()

	fmt.Printf("FlagEngine: EMERGENCY DISABLE: %s\n", reason)
	if events != nil {
		events.Publish(bus.Event{
			Topic:     bus.TopicEmergencyDisable,
			Reason:    reason,
			Timestamp: at,
		})
	}
}

// ResetEmergencyState clears the latch, restoring rollout-driven decisions.
func (e *Engine) ResetEmergencyState() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.emergency.Active {
		fmt.Printf("FlagEngine: emergency state reset (was: %s)\n", e.emergency.Reason)
	}
	e.emergency = EmergencyState{}
}

// Emergency returns a copy of the current emergency state.
func (e *Engine) Emergency() EmergencyState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.emergency
}

// RecordPerformanceMetric appends a timing value to the bounded sliding
// window for the operation.
func (e *Engine) RecordPerformanceMetric(operation string, valueMs float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	samples := append(e.perf[operation], perfSample{value: valueMs, at: e.now()})
	if len(samples) > perfWindowSize {
		copy(samples, samples[len(samples)-perfWindowSize:])
		samples = samples[:perfWindowSize]
	}
	e.perf[operation] = samples
}

// RecordError appends an error to the rolling window. If the windowed error
// rate crosses the configured threshold the engine trips the emergency latch
// itself: degrading to the safe path is preferable to compounding failures.
func (e *Engine) RecordError(operation string, err error, metadata map[string]string) {
	message := ""
	if err != nil {
		message = err.Error()
	}

	e.mu.Lock()
	at := e.now()
	e.errors = append(e.errors, errorRecord{operation: operation, message: message, at: at})
	e.errorsAll++
	e.pruneErrorsLocked(at)

	trip := false
	reason := ""
	if !e.emergency.Active && e.config.EnableEmergencyDisable {
		recent := len(e.errors)
		rate := e.recentErrorRateLocked(at)
		if recent >= minErrorsForTrip && rate > e.config.ErrorRateThreshold {
			trip = true
			reason = fmt.Sprintf("error rate %.2f exceeded threshold %.2f (%d errors in %v)",
				rate, e.config.ErrorRateThreshold, recent, errorWindow)
		}
	}
	e.mu.Unlock()

	if trip {
		e.TriggerEmergencyDisable(reason)
	}
}

// GetSystemHealth reports the engine's own health: emergency_disabled while
// the latch is set, degraded when a tracked operation's recent average blows
// its budget or errors are non-trivial, healthy otherwise.
func (e *Engine) GetSystemHealth() SystemHealth {
	e.mu.RLock()
	defer e.mu.RUnlock()

	now := e.now()
	metrics := make(map[string][]float64, len(e.perf))
	for op, samples := range e.perf {
		values := make([]float64, 0, len(samples))
		for _, s := range samples {
			if now.Sub(s.at) <= perfWindow {
				values = append(values, s.value)
			}
		}
		metrics[op] = values
	}

	if e.emergency.Active {
		return SystemHealth{
			Status:  StatusEmergencyDisabled,
			Metrics: metrics,
			Recommendations: []string{
				fmt.Sprintf("Emergency disable active since %s: %s", e.emergency.TriggeredAt.Format(time.RFC3339), e.emergency.Reason),
				"Investigate the root cause, then reset the emergency state to resume rollout",
			},
		}
	}

	var recommendations []string
	degraded := false

	for op, values := range metrics {
		threshold := e.thresholdForLocked(op)
		if threshold <= 0 || len(values) == 0 {
			continue
		}
		if avg(values) > threshold {
			degraded = true
			recommendations = append(recommendations,
				fmt.Sprintf("Average %s time %.0fms exceeds the %.0fms budget; profile the unified path", op, avg(values), threshold))
		}
	}

	rate := e.recentErrorRateLocked(now)
	if len(e.errorsInWindowLocked(now)) > 0 && rate > e.config.ErrorRateThreshold/2 {
		degraded = true
		recommendations = append(recommendations,
			fmt.Sprintf("Error rate %.2f is approaching the %.2f trip threshold; watch recent errors", rate, e.config.ErrorRateThreshold))
	}

	status := StatusHealthy
	if degraded {
		status = StatusDegraded
	}
	if len(recommendations) == 0 {
		recommendations = []string{"Flag engine operating normally"}
	}

	return SystemHealth{
		Status:          status,
		Metrics:         metrics,
		Recommendations: recommendations,
	}
}

// TotalErrors returns the count of errors recorded since process start.
func (e *Engine) TotalErrors() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.errorsAll
}

// thresholdForLocked maps a tracked operation to its configured budget.
// Unknown operations have no budget.
func (e *Engine) thresholdForLocked(operation string) float64 {
	switch operation {
	case OpButtonRender:
		return e.config.MaxRenderTimeMs
	case OpActionExecution:
		return e.config.MaxActionExecutionTimeMs
	default:
		return 0
	}
}

// pruneErrorsLocked drops errors that fell out of the rolling window.
func (e *Engine) pruneErrorsLocked(now time.Time) {
	cutoff := now.Add(-errorWindow)
	keep := e.errors[:0]
	for _, rec := range e.errors {
		if rec.at.After(cutoff) {
			keep = append(keep, rec)
		}
	}
	e.errors = keep
}

// errorsInWindowLocked returns errors inside the rolling window.
func (e *Engine) errorsInWindowLocked(now time.Time) []errorRecord {
	cutoff := now.Add(-errorWindow)
	var recent []errorRecord
	for _, rec := range e.errors {
		if rec.at.After(cutoff) {
			recent = append(recent, rec)
		}
	}
	return recent
}

// recentErrorRateLocked computes errors / (errors + performance samples)
// over the rolling window. With no successful samples in the window the rate
// is 1.0: nothing but errors is the worst case, not an unknown.
func (e *Engine) recentErrorRateLocked(now time.Time) float64 {
	errs := len(e.errorsInWindowLocked(now))
	if errs == 0 {
		return 0
	}

	cutoff := now.Add(-errorWindow)
	samples := 0
	for _, list := range e.perf {
		for _, s := range list {
			if s.at.After(cutoff) {
				samples++
			}
		}
	}

	return float64(errs) / float64(errs+samples)
}

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
