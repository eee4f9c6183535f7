// Package healthcheck runs the fixed battery of health checks and smoke
// tests over the flag engine and metrics store, aggregating them into a
// single report with a 0-100 score. A background loop re-runs the full
// battery every five minutes while started; each run is stateless and the
// latest report is cached as "last known".
package healthcheck

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/buttonworks/rollguard/internal/flags"
	"github.com/buttonworks/rollguard/internal/telemetry"
)

// defaultInterval is how often the background loop runs a full check.
const defaultInterval = 5 * time.Minute

// Runner executes health checks and smoke tests.
type Runner struct {
	mu sync.RWMutex

	flags   *flags.Engine
	metrics *telemetry.Store

	interval time.Duration
	now      func() time.Time

	lastReport *SystemHealthReport

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// Config holds dependencies for creating a Runner.
type Config struct {
	// Flags is the feature-flag engine under observation. Required.
	Flags *flags.Engine
	// Metrics is the metrics store under observation. Required.
	Metrics *telemetry.Store
	// Interval overrides the background check cadence. Default: 5 minutes.
	Interval time.Duration
	// Now overrides the clock for deterministic tests. Optional.
	Now func() time.Time
}

// NewRunner creates a health check runner.
func NewRunner(cfg *Config) (*Runner, error) {
	if cfg == nil || cfg.Flags == nil {
		return nil, fmt.Errorf("flag engine is required")
	}
	if cfg.Metrics == nil {
		return nil, fmt.Errorf("metrics store is required")
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Runner{
		flags:    cfg.Flags,
		metrics:  cfg.Metrics,
		interval: interval,
		now:      now,
	}, nil
}

// RunFullHealthCheck executes every health check and smoke test, aggregates
// the results, and caches the report. A failure in one item never aborts the
// others; a failure in the aggregation itself degrades the whole report to
// critical with a synthetic entry describing the fault.
func (r *Runner) RunFullHealthCheck() (report SystemHealthReport) {
	defer func() {
		if rec := recover(); rec != nil {
			report = SystemHealthReport{
				OverallStatus: OverallCritical,
				HealthScore:   0,
				HealthChecks: []HealthCheckResult{{
					Name:      "health-check-runner",
					Status:    StatusCritical,
					Message:   fmt.Sprintf("health check orchestration failed: %v", rec),
					Timestamp: r.now(),
				}},
				Recommendations: []string{"Health check runner itself failed - investigate immediately"},
				LastUpdated:     r.now(),
			}
			r.storeReport(report)
		}
	}()

	checks := []HealthCheckResult{
		r.runCheck(CheckFeatureFlagSystem, r.checkFeatureFlagSystem),
		r.runCheck(CheckMonitoringSystem, r.checkMonitoringSystem),
		r.runCheck(CheckPerformanceMetrics, r.checkPerformanceMetrics),
		r.runCheck(CheckErrorRates, r.checkErrorRates),
		r.runCheck(CheckSystemResources, r.checkSystemResources),
	}

	smokes := []SmokeTestResult{
		r.runSmokeTest(SmokeButtonRendering, r.smokeButtonRendering),
		r.runSmokeTest(SmokeActionRouting, r.smokeActionRouting),
		r.runSmokeTest(SmokeValidationSystem, r.smokeValidationSystem),
		r.runSmokeTest(SmokeFallbackMechanism, r.smokeFallbackMechanism),
		r.runSmokeTest(SmokeEmergencyDisable, r.smokeEmergencyDisable),
	}

	report = r.aggregate(checks, smokes)
	r.storeReport(report)
	return report
}

// RunQuickHealthCheck runs only the feature-flag and performance checks.
// It never panics: any internal failure yields {critical, 0}.
func (r *Runner) RunQuickHealthCheck() (result QuickHealthResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = QuickHealthResult{OverallStatus: OverallCritical, HealthScore: 0}
		}
	}()

	checks := []HealthCheckResult{
		r.runCheck(CheckFeatureFlagSystem, r.checkFeatureFlagSystem),
		r.runCheck(CheckPerformanceMetrics, r.checkPerformanceMetrics),
	}

	report := r.aggregate(checks, nil)
	return QuickHealthResult{
		OverallStatus: report.OverallStatus,
		HealthScore:   report.HealthScore,
	}
}

// GetLastHealthCheck returns the cached report of the most recent full run,
// or nil before the first run.
func (r *Runner) GetLastHealthCheck() *SystemHealthReport {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.lastReport == nil {
		return nil
	}
	report := *r.lastReport
	return &report
}

// Start begins the periodic full health check loop.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("health check runner already running")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.running = true

	r.wg.Add(1)
	go r.loop()

	fmt.Printf("HealthCheck: started (interval=%v)\n", r.interval)
	return nil
}

// StopHealthChecks halts the background loop and waits for it to quiesce.
// Safe to call twice.
func (r *Runner) StopHealthChecks() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
	fmt.Println("HealthCheck: stopped")
}

func (r *Runner) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			report := r.RunFullHealthCheck()
			fmt.Printf("HealthCheck: periodic run complete (status=%s score=%d)\n", report.OverallStatus, report.HealthScore)
		}
	}
}

// runCheck times a single health check and converts a panic inside it into
// a critical result instead of aborting the run.
func (r *Runner) runCheck(name string, fn func() HealthCheckResult) (result HealthCheckResult) {
	start := r.now()
	defer func() {
		if rec := recover(); rec != nil {
			result = HealthCheckResult{
				Name:    name,
				Status:  StatusCritical,
				Message: fmt.Sprintf("check panicked: %v", rec),
			}
		}
		result.Timestamp = start
		result.DurationMs = float64(r.now().Sub(start)) / float64(time.Millisecond)
	}()

	return fn()
}

// runSmokeTest times a single smoke test, converting errors and panics into
// failed results.
func (r *Runner) runSmokeTest(name string, fn func() error) (result SmokeTestResult) {
	start := r.now()
	defer func() {
		if rec := recover(); rec != nil {
			result = SmokeTestResult{
				TestName: name,
				Passed:   false,
				Error:    fmt.Sprintf("smoke test panicked: %v", rec),
			}
		}
		result.Timestamp = start
		result.DurationMs = float64(r.now().Sub(start)) / float64(time.Millisecond)
	}()

	result = SmokeTestResult{TestName: name, Passed: true}
	if err := fn(); err != nil {
		result.Passed = false
		result.Error = err.Error()
	}
	return result
}

// aggregate derives overall status, score, and recommendations.
func (r *Runner) aggregate(checks []HealthCheckResult, smokes []SmokeTestResult) SystemHealthReport {
	healthyChecks := 0
	warnings := 0
	criticals := 0
	var criticalNames, warningNames []string

	for _, c := range checks {
		switch c.Status {
		case StatusHealthy:
			healthyChecks++
		case StatusWarning:
			warnings++
			warningNames = append(warningNames, c.Name)
		case StatusCritical:
			criticals++
			criticalNames = append(criticalNames, c.Name)
		}
	}

	passedTests := 0
	var failedNames []string
	for _, s := range smokes {
		if s.Passed {
			passedTests++
		} else {
			failedNames = append(failedNames, s.TestName)
		}
	}

	status := OverallHealthy
	if warnings > 0 {
		status = OverallDegraded
	}
	if criticals > 0 || len(failedNames) > 0 {
		status = OverallCritical
	}

	total := len(checks) + len(smokes)
	score := 0
	if total > 0 {
		score = int(float64(healthyChecks+passedTests)/float64(total)*100 + 0.5)
	}

	var recommendations []string
	if len(criticalNames) > 0 {
		recommendations = append(recommendations,
			fmt.Sprintf("Critical issues detected (%s) - investigate immediately", joinNames(criticalNames)))
	}
	if len(warningNames) > 0 {
		recommendations = append(recommendations,
			fmt.Sprintf("Warnings detected (%s) - monitor closely and optimize", joinNames(warningNames)))
	}
	if len(failedNames) > 0 {
		recommendations = append(recommendations,
			fmt.Sprintf("Smoke test failures (%s) - fix before deploying further rollout", joinNames(failedNames)))
	}
	if len(recommendations) == 0 {
		recommendations = []string{"System operating normally"}
	}

	return SystemHealthReport{
		OverallStatus:   status,
		HealthScore:     score,
		HealthChecks:    checks,
		SmokeTests:      smokes,
		Recommendations: recommendations,
		LastUpdated:     r.now(),
	}
}

func (r *Runner) storeReport(report SystemHealthReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastReport = &report
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}
