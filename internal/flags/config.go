package flags

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the button-system migration configuration. It is created once
// at process start (possibly from environment variables or a YAML file) and
// mutated afterwards only through Engine.UpdateConfiguration.
type Config struct {
	// EnableUnifiedButtons gates the new button code path globally.
	// Default: true
	EnableUnifiedButtons bool `yaml:"enable_unified_buttons" json:"enable_unified_buttons"`

	// EnableMonitoring controls whether interaction telemetry is recorded.
	// Default: true
	EnableMonitoring bool `yaml:"enable_monitoring" json:"enable_monitoring"`

	// RolloutPercentage is the fraction (0-100) of non-admin cohorts routed
	// to the unified path via stable hashing.
	// Default: 100
	RolloutPercentage int `yaml:"rollout_percentage" json:"rollout_percentage"`

	// EnableEmergencyDisable controls whether the emergency latch can trip.
	// Default: true
	EnableEmergencyDisable bool `yaml:"enable_emergency_disable" json:"enable_emergency_disable"`

	// FallbackToLegacy routes failures on the unified path to legacy handling.
	// Default: true
	FallbackToLegacy bool `yaml:"fallback_to_legacy" json:"fallback_to_legacy"`

	// PreserveLegacyActions keeps legacy action handlers registered while the
	// unified path is live.
	// Default: true
	PreserveLegacyActions bool `yaml:"preserve_legacy_actions" json:"preserve_legacy_actions"`

	// MaxRenderTimeMs is the render-time budget used by the engine's own
	// health evaluation.
	// Default: 100
	MaxRenderTimeMs float64 `yaml:"max_render_time_ms" json:"max_render_time_ms"`

	// MaxActionExecutionTimeMs is the action-execution budget used by the
	// engine's own health evaluation.
	// Default: 1000
	MaxActionExecutionTimeMs float64 `yaml:"max_action_execution_time_ms" json:"max_action_execution_time_ms"`

	// ErrorRateThreshold is the rolling-window error rate (0-1) above which
	// the engine trips the emergency latch on its own.
	// Default: 0.10
	ErrorRateThreshold float64 `yaml:"error_rate_threshold" json:"error_rate_threshold"`
}

// DefaultConfig returns the default migration configuration.
func DefaultConfig() Config {
	return Config{
		EnableUnifiedButtons:     true,
		EnableMonitoring:         true,
		RolloutPercentage:        100,
		EnableEmergencyDisable:   true,
		FallbackToLegacy:         true,
		PreserveLegacyActions:    true,
		MaxRenderTimeMs:          100,
		MaxActionExecutionTimeMs: 1000,
		ErrorRateThreshold:       0.10,
	}
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables override default values.
func LoadFromEnv() Config {
	cfg := DefaultConfig()

	if val := os.Getenv("ENABLE_UNIFIED_BUTTONS"); val != "" {
		cfg.EnableUnifiedButtons = parseBool(val)
	}

	if val := os.Getenv("ENABLE_BUTTON_MONITORING"); val != "" {
		cfg.EnableMonitoring = parseBool(val)
	}

	if val := os.Getenv("BUTTON_ROLLOUT_PERCENTAGE"); val != "" {
		if pct, err := strconv.Atoi(val); err == nil && pct >= 0 && pct <= 100 {
			cfg.RolloutPercentage = pct
		} else {
			fmt.Printf("Warning: invalid BUTTON_ROLLOUT_PERCENTAGE %q (using %d)\n", val, cfg.RolloutPercentage)
		}
	}

	if val := os.Getenv("ENABLE_EMERGENCY_BUTTON_DISABLE"); val != "" {
		cfg.EnableEmergencyDisable = parseBool(val)
	}

	if val := os.Getenv("BUTTON_FALLBACK_TO_LEGACY"); val != "" {
		cfg.FallbackToLegacy = parseBool(val)
	}

	if val := os.Getenv("BUTTON_PRESERVE_LEGACY_ACTIONS"); val != "" {
		cfg.PreserveLegacyActions = parseBool(val)
	}

	if val := os.Getenv("BUTTON_MAX_RENDER_TIME_MS"); val != "" {
		if ms, err := strconv.ParseFloat(val, 64); err == nil && ms > 0 {
			cfg.MaxRenderTimeMs = ms
		}
	}

	if val := os.Getenv("BUTTON_MAX_ACTION_TIME_MS"); val != "" {
		if ms, err := strconv.ParseFloat(val, 64); err == nil && ms > 0 {
			cfg.MaxActionExecutionTimeMs = ms
		}
	}

	if val := os.Getenv("BUTTON_ERROR_RATE_THRESHOLD"); val != "" {
		if rate, err := strconv.ParseFloat(val, 64); err == nil && rate > 0 && rate <= 1.0 {
			cfg.ErrorRateThreshold = rate
		} else {
			fmt.Printf("Warning: invalid BUTTON_ERROR_RATE_THRESHOLD %q (using %.2f)\n", val, cfg.ErrorRateThreshold)
		}
	}

	return cfg
}

// fileConfig mirrors Config with optional fields so a YAML file only
// overrides what it declares.
type fileConfig struct {
	EnableUnifiedButtons     *bool    `yaml:"enable_unified_buttons"`
	EnableMonitoring         *bool    `yaml:"enable_monitoring"`
	RolloutPercentage        *int     `yaml:"rollout_percentage"`
	EnableEmergencyDisable   *bool    `yaml:"enable_emergency_disable"`
	FallbackToLegacy         *bool    `yaml:"fallback_to_legacy"`
	PreserveLegacyActions    *bool    `yaml:"preserve_legacy_actions"`
	MaxRenderTimeMs          *float64 `yaml:"max_render_time_ms"`
	MaxActionExecutionTimeMs *float64 `yaml:"max_action_execution_time_ms"`
	ErrorRateThreshold       *float64 `yaml:"error_rate_threshold"`
}

// ApplyFile overlays settings from a YAML file onto the config. Fields the
// file does not declare keep their current values.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if fc.EnableUnifiedButtons != nil {
		c.EnableUnifiedButtons = *fc.EnableUnifiedButtons
	}
	if fc.EnableMonitoring != nil {
		c.EnableMonitoring = *fc.EnableMonitoring
	}
	if fc.RolloutPercentage != nil {
		c.RolloutPercentage = *fc.RolloutPercentage
	}
	if fc.EnableEmergencyDisable != nil {
		c.EnableEmergencyDisable = *fc.EnableEmergencyDisable
	}
	if fc.FallbackToLegacy != nil {
		c.FallbackToLegacy = *fc.FallbackToLegacy
	}
	if fc.PreserveLegacyActions != nil {
		c.PreserveLegacyActions = *fc.PreserveLegacyActions
	}
	if fc.MaxRenderTimeMs != nil {
		c.MaxRenderTimeMs = *fc.MaxRenderTimeMs
	}
	if fc.MaxActionExecutionTimeMs != nil {
		c.MaxActionExecutionTimeMs = *fc.MaxActionExecutionTimeMs
	}
	if fc.ErrorRateThreshold != nil {
		c.ErrorRateThreshold = *fc.ErrorRateThreshold
	}

	return nil
}

// Patch is a partial configuration update. Nil fields are left unchanged.
// The merge is deliberately permissive: no validation beyond types, so the
// decision hot path stays dependency-free.
type Patch struct {
	EnableUnifiedButtons     *bool    `json:"enable_unified_buttons,omitempty"`
	EnableMonitoring         *bool    `json:"enable_monitoring,omitempty"`
	RolloutPercentage        *int     `json:"rollout_percentage,omitempty"`
	EnableEmergencyDisable   *bool    `json:"enable_emergency_disable,omitempty"`
	FallbackToLegacy         *bool    `json:"fallback_to_legacy,omitempty"`
	PreserveLegacyActions    *bool    `json:"preserve_legacy_actions,omitempty"`
	MaxRenderTimeMs          *float64 `json:"max_render_time_ms,omitempty"`
	MaxActionExecutionTimeMs *float64 `json:"max_action_execution_time_ms,omitempty"`
	ErrorRateThreshold       *float64 `json:"error_rate_threshold,omitempty"`
}

// apply merges the patch into the config.
func (p Patch) apply(c *Config) {
	if p.EnableUnifiedButtons != nil {
		c.EnableUnifiedButtons = *p.EnableUnifiedButtons
	}
	if p.EnableMonitoring != nil {
		c.EnableMonitoring = *p.EnableMonitoring
	}
	if p.RolloutPercentage != nil {
		c.RolloutPercentage = *p.RolloutPercentage
	}
	if p.EnableEmergencyDisable != nil {
		c.EnableEmergencyDisable = *p.EnableEmergencyDisable
	}
	if p.FallbackToLegacy != nil {
		c.FallbackToLegacy = *p.FallbackToLegacy
	}
	if p.PreserveLegacyActions != nil {
		c.PreserveLegacyActions = *p.PreserveLegacyActions
	}
	if p.MaxRenderTimeMs != nil {
		c.MaxRenderTimeMs = *p.MaxRenderTimeMs
	}
	if p.MaxActionExecutionTimeMs != nil {
		c.MaxActionExecutionTimeMs = *p.MaxActionExecutionTimeMs
	}
	if p.ErrorRateThreshold != nil {
		c.ErrorRateThreshold = *p.ErrorRateThreshold
	}
}

// Bool returns a pointer to the given bool, for building patches.
func Bool(v bool) *bool { return &v }

// Int returns a pointer to the given int, for building patches.
func Int(v int) *int { return &v }

// Float returns a pointer to the given float64, for building patches.
func Float(v float64) *float64 { return &v }

// parseBool parses a boolean string.
func parseBool(val string) bool {
	switch val {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return true
	}
}
