package healthcheck

import (
	"fmt"
	"runtime"

	"github.com/buttonworks/rollguard/internal/flags"
)

// Health check names, in execution order.
const (
	CheckFeatureFlagSystem  = "feature-flag-system"
	CheckMonitoringSystem   = "monitoring-system"
	CheckPerformanceMetrics = "performance-metrics"
	CheckErrorRates         = "error-rates"
	CheckSystemResources    = "system-resources"
)

// Fixed thresholds the checks grade against.
const (
	criticalHealthScore = 50
	warningHealthScore  = 80

	warnRenderTimeMs     = 200
	criticalActionTimeMs = 1000
	warnSuccessRate      = 0.95
	criticalSuccessRate  = 0.90
	warnMemoryUsage      = 0.75
	criticalMemoryUsage  = 0.90
)

// checkFeatureFlagSystem grades the flag engine's own health: the emergency
// latch is critical, a degraded engine is a warning.
func (r *Runner) checkFeatureFlagSystem() HealthCheckResult {
	health := r.flags.GetSystemHealth()

	switch health.Status {
	case flags.StatusEmergencyDisabled:
		return HealthCheckResult{
			Name:    CheckFeatureFlagSystem,
			Status:  StatusCritical,
			Message: "Emergency disable is active; all cohorts are on the legacy path",
		}
	case flags.StatusDegraded:
		return HealthCheckResult{
			Name:    CheckFeatureFlagSystem,
			Status:  StatusWarning,
			Message: fmt.Sprintf("Flag engine degraded: %v", health.Recommendations),
		}
	default:
		return HealthCheckResult{
			Name:    CheckFeatureFlagSystem,
			Status:  StatusHealthy,
			Message: "Flag engine healthy",
		}
	}
}

// checkMonitoringSystem grades the real-time health score.
func (r *Runner) checkMonitoringSystem() HealthCheckResult {
	metrics := r.metrics.GetRealTimeMetrics()
	details := map[string]string{
		"health_score":  fmt.Sprintf("%d", metrics.HealthScore),
		"recent_errors": fmt.Sprintf("%d", metrics.RecentErrors),
	}

	switch {
	case metrics.HealthScore < criticalHealthScore:
		return HealthCheckResult{
			Name:    CheckMonitoringSystem,
			Status:  StatusCritical,
			Message: fmt.Sprintf("Health score %d below critical threshold %d", metrics.HealthScore, criticalHealthScore),
			Details: details,
		}
	case metrics.HealthScore < warningHealthScore:
		return HealthCheckResult{
			Name:    CheckMonitoringSystem,
			Status:  StatusWarning,
			Message: fmt.Sprintf("Health score %d below warning threshold %d", metrics.HealthScore, warningHealthScore),
			Details: details,
		}
	default:
		return HealthCheckResult{
			Name:    CheckMonitoringSystem,
			Status:  StatusHealthy,
			Message: fmt.Sprintf("Health score %d", metrics.HealthScore),
			Details: details,
		}
	}
}

// checkPerformanceMetrics grades average render and action times.
func (r *Runner) checkPerformanceMetrics() HealthCheckResult {
	stats := r.metrics.GetUsageStats()
	details := map[string]string{
		"avg_render_ms": fmt.Sprintf("%.1f", stats.AverageRenderTimeMs),
		"avg_action_ms": fmt.Sprintf("%.1f", stats.AverageActionTimeMs),
	}

	if stats.AverageActionTimeMs > criticalActionTimeMs {
		return HealthCheckResult{
			Name:    CheckPerformanceMetrics,
			Status:  StatusCritical,
			Message: fmt.Sprintf("Average action time %.0fms exceeds %dms", stats.AverageActionTimeMs, criticalActionTimeMs),
			Details: details,
		}
	}
	if stats.AverageRenderTimeMs > warnRenderTimeMs {
		return HealthCheckResult{
			Name:    CheckPerformanceMetrics,
			Status:  StatusWarning,
			Message: fmt.Sprintf("Average render time %.0fms exceeds %dms", stats.AverageRenderTimeMs, warnRenderTimeMs),
			Details: details,
		}
	}
	return HealthCheckResult{
		Name:    CheckPerformanceMetrics,
		Status:  StatusHealthy,
		Message: "Render and action times within budget",
		Details: details,
	}
}

// checkErrorRates grades the interaction success rate.
func (r *Runner) checkErrorRates() HealthCheckResult {
	stats := r.metrics.GetUsageStats()
	details := map[string]string{
		"success_rate": fmt.Sprintf("%.3f", stats.SuccessRate),
		"error_count":  fmt.Sprintf("%d", stats.ErrorCount),
	}

	switch {
	case stats.SuccessRate < criticalSuccessRate:
		return HealthCheckResult{
			Name:    CheckErrorRates,
			Status:  StatusCritical,
			Message: fmt.Sprintf("Success rate %.1f%% below critical threshold %.0f%%", stats.SuccessRate*100, criticalSuccessRate*100),
			Details: details,
		}
	case stats.SuccessRate < warnSuccessRate:
		return HealthCheckResult{
			Name:    CheckErrorRates,
			Status:  StatusWarning,
			Message: fmt.Sprintf("Success rate %.1f%% below warning threshold %.0f%%", stats.SuccessRate*100, warnSuccessRate*100),
			Details: details,
		}
	default:
		return HealthCheckResult{
			Name:    CheckErrorRates,
			Status:  StatusHealthy,
			Message: fmt.Sprintf("Success rate %.1f%%", stats.SuccessRate*100),
			Details: details,
		}
	}
}

// checkSystemResources grades heap usage from the runtime's own accounting:
// warning above 75% of the heap reserved from the OS, critical above 90%.
func (r *Runner) checkSystemResources() HealthCheckResult {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	if m.HeapSys == 0 {
		return HealthCheckResult{
			Name:    CheckSystemResources,
			Status:  StatusUnknown,
			Message: "Heap statistics unavailable",
		}
	}

	usage := float64(m.HeapAlloc) / float64(m.HeapSys)
	details := map[string]string{
		"heap_alloc_bytes": fmt.Sprintf("%d", m.HeapAlloc),
		"heap_sys_bytes":   fmt.Sprintf("%d", m.HeapSys),
		"usage":            fmt.Sprintf("%.2f", usage),
	}

	switch {
	case usage > criticalMemoryUsage:
		return HealthCheckResult{
			Name:    CheckSystemResources,
			Status:  StatusCritical,
			Message: fmt.Sprintf("Heap usage %.0f%% above critical threshold %.0f%%", usage*100, criticalMemoryUsage*100),
			Details: details,
		}
	case usage > warnMemoryUsage:
		return HealthCheckResult{
			Name:    CheckSystemResources,
			Status:  StatusWarning,
			Message: fmt.Sprintf("Heap usage %.0f%% above warning threshold %.0f%%", usage*100, warnMemoryUsage*100),
			Details: details,
		}
	default:
		return HealthCheckResult{
			Name:    CheckSystemResources,
			Status:  StatusHealthy,
			Message: fmt.Sprintf("Heap usage %.0f%%", usage*100),
			Details: details,
		}
	}
}
