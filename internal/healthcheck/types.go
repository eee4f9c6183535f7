package healthcheck

import "time"

// Status classifies a single health check outcome.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

// OverallStatus classifies the aggregate report.
type OverallStatus string

const (
	OverallHealthy  OverallStatus = "healthy"
	OverallDegraded OverallStatus = "degraded"
	OverallCritical OverallStatus = "critical"
)

// HealthCheckResult is the outcome of one health check.
type HealthCheckResult struct {
	Name       string            `json:"name"`
	Status     Status            `json:"status"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	DurationMs float64           `json:"duration_ms"`
}

// SmokeTestResult is the outcome of one smoke test.
type SmokeTestResult struct {
	TestName   string            `json:"test_name"`
	Passed     bool              `json:"passed"`
	Error      string            `json:"error,omitempty"`
	DurationMs float64           `json:"duration_ms"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// SystemHealthReport aggregates one full run of checks and smoke tests.
// A new report is computed each run and cached as "last known".
type SystemHealthReport struct {
	OverallStatus   OverallStatus       `json:"overall_status"`
	HealthScore     int                 `json:"health_score"`
	HealthChecks    []HealthCheckResult `json:"health_checks"`
	SmokeTests      []SmokeTestResult   `json:"smoke_tests"`
	Recommendations []string            `json:"recommendations"`
	LastUpdated     time.Time           `json:"last_updated"`
}

// QuickHealthResult is the cheap variant's summary.
type QuickHealthResult struct {
	OverallStatus OverallStatus `json:"overall_status"`
	HealthScore   int           `json:"health_score"`
}
