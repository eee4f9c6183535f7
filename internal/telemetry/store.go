// Package telemetry implements the in-memory metrics store for the button
// migration: an append-only log of interaction, timing, error, and validation
// events with derived usage statistics and real-time health indicators. The
// store is the ground truth the health-check runner and rollback trigger loop
// read; it never touches disk or network.
package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Well-known operation names recorded through the store's timing API. These
// mirror the flag engine's tracked operations: the two windows are kept
// deliberately parallel so either side can be consulted independently.
const (
	OpButtonRender    = "button-render"
	OpActionExecution = "action-execution"
)

// recentWindow is how far back an error counts as "recent" for real-time
// metrics and health scoring.
const recentWindow = 5 * time.Minute

// defaultMaxEvents bounds each event log; oldest entries are evicted first.
const defaultMaxEvents = 10000

// InteractionEvent records one button interaction outcome.
type InteractionEvent struct {
	ID         string            `json:"id"`
	ButtonID   string            `json:"button_id"`
	ActionType string            `json:"action_type"`
	Success    bool              `json:"success"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// ErrorEvent records one operation failure.
type ErrorEvent struct {
	ID        string            `json:"id"`
	Operation string            `json:"operation"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// TimingSample records one scoped duration measurement.
type TimingSample struct {
	ID         string    `json:"id"`
	Operation  string    `json:"operation"`
	DurationMs float64   `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// ValidationResult is the outcome of validating a button definition.
type ValidationResult struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors,omitempty"`
}

// ValidationEvent records one validation run. Invalid results count as
// error-equivalent events for real-time error tracking.
type ValidationEvent struct {
	ID         string    `json:"id"`
	ButtonID   string    `json:"button_id"`
	Valid      bool      `json:"valid"`
	DurationMs float64   `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// ActionCount pairs an action type with its interaction count.
type ActionCount struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
}

// UsageStats aggregates the full retained interaction history.
type UsageStats struct {
	TotalInteractions   int           `json:"total_interactions"`
	SuccessRate         float64       `json:"success_rate"`
	ErrorCount          int           `json:"error_count"`
	AverageRenderTimeMs float64       `json:"average_render_time_ms"`
	AverageActionTimeMs float64       `json:"average_action_time_ms"`
	MostUsedActions     []ActionCount `json:"most_used_actions"`
}

// RealTimeMetrics summarizes live system state.
type RealTimeMetrics struct {
	ActiveOperations int `json:"active_operations"`
	RecentErrors     int `json:"recent_errors"`
	HealthScore      int `json:"health_score"`
}

// Store is the in-memory metrics log. Safe for concurrent use: the
// background health and trigger loops read while the UI path appends.
type Store struct {
	mu sync.Mutex

	interactions []InteractionEvent
	errors       []ErrorEvent
	timings      []TimingSample
	validations  []ValidationEvent

	activeOps int
	maxEvents int

	instruments *instruments
	recording   func() bool
	now         func() time.Time
}

// StoreConfig holds configuration for creating a Store.
type StoreConfig struct {
	// MaxEvents bounds each event log. Default: 10000.
	MaxEvents int
	// Recording reports whether telemetry capture is currently enabled.
	// Consulted on every record call so the flag can change at runtime.
	// Default: always on.
	Recording func() bool
	// Now overrides the clock for deterministic tests. Optional.
	Now func() time.Time
}

// NewStore creates an empty metrics store.
func NewStore(cfg *StoreConfig) *Store {
	if cfg == nil {
		cfg = &StoreConfig{}
	}

	maxEvents := cfg.MaxEvents
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}

	recording := cfg.Recording
	if recording == nil {
		recording = func() bool { return true }
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Store{
		maxEvents:   maxEvents,
		instruments: newInstruments(),
		recording:   recording,
		now:         now,
	}
}

// RecordInteraction appends a button interaction outcome. A no-op while
// monitoring is disabled.
func (s *Store) RecordInteraction(buttonID, actionType string, success bool, metadata map[string]string) {
	if !s.recording() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.interactions = append(s.interactions, InteractionEvent{
		ID:         uuid.New().String(),
		ButtonID:   buttonID,
		ActionType: actionType,
		Success:    success,
		Metadata:   metadata,
		Timestamp:  s.now(),
	})
	if len(s.interactions) > s.maxEvents {
		s.interactions = s.interactions[len(s.interactions)-s.maxEvents:]
	}

	s.instruments.observeInteraction(actionType, success)
	s.instruments.setHealthScore(s.healthScoreLocked(s.now()))
}

// StartTiming begins a scoped measurement and returns the function that ends
// it. Overlapping and nested timings are fine: each call tracks its own start
// time. The stop function is idempotent. A no-op while monitoring is
// disabled.
func (s *Store) StartTiming(operation string) func() {
	if !s.recording() {
		return func() {}
	}

	start := s.now()

	s.mu.Lock()
	s.activeOps++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			elapsed := s.now().Sub(start)

			s.mu.Lock()
			defer s.mu.Unlock()

			s.activeOps--
			s.timings = append(s.timings, TimingSample{
				ID:         uuid.New().String(),
				Operation:  operation,
				DurationMs: float64(elapsed) / float64(time.Millisecond),
				Timestamp:  s.now(),
			})
			if len(s.timings) > s.maxEvents {
				s.timings = s.timings[len(s.timings)-s.maxEvents:]
			}

			s.instruments.observeTiming(operation, elapsed)
		})
	}
}

// RecordError appends an operation failure. A no-op while monitoring is
// disabled.
func (s *Store) RecordError(operation string, err error, metadata map[string]string) {
	if !s.recording() {
		return
	}

	message := ""
	if err != nil {
		message = err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.errors = append(s.errors, ErrorEvent{
		ID:        uuid.New().String(),
		Operation: operation,
		Message:   message,
		Metadata:  metadata,
		Timestamp: s.now(),
	})
	if len(s.errors) > s.maxEvents {
		s.errors = s.errors[len(s.errors)-s.maxEvents:]
	}

	s.instruments.observeError(operation)
	s.instruments.setHealthScore(s.healthScoreLocked(s.now()))
}

// RecordValidation appends a validation run. An invalid result is treated as
// an error-equivalent event for real-time error counting. A no-op while
// monitoring is disabled.
func (s *Store) RecordValidation(buttonID string, result ValidationResult, durationMs float64) {
	if !s.recording() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.validations = append(s.validations, ValidationEvent{
		ID:         uuid.New().String(),
		ButtonID:   buttonID,
		Valid:      result.IsValid,
		DurationMs: durationMs,
		Timestamp:  s.now(),
	})
	if len(s.validations) > s.maxEvents {
		s.validations = s.validations[len(s.validations)-s.maxEvents:]
	}

	if !result.IsValid {
		s.instruments.observeError("validation")
		s.instruments.setHealthScore(s.healthScoreLocked(s.now()))
	}
}

// ClearOldMetrics removes events older than maxAge. A maxAge of zero (or
// negative) clears everything; tests and long-running processes use this to
// bound memory.
func (s *Store) ClearOldMetrics(maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxAge <= 0 {
		s.interactions = nil
		s.errors = nil
		s.timings = nil
		s.validations = nil
		return
	}

	cutoff := s.now().Add(-maxAge)
	s.interactions = keepInteractions(s.interactions, cutoff)
	s.errors = keepErrors(s.errors, cutoff)
	s.timings = keepTimings(s.timings, cutoff)
	s.validations = keepValidations(s.validations, cutoff)
}

func keepInteractions(events []InteractionEvent, cutoff time.Time) []InteractionEvent {
	kept := events[:0]
	for _, e := range events {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}

func keepErrors(events []ErrorEvent, cutoff time.Time) []ErrorEvent {
	kept := events[:0]
	for _, e := range events {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}

func keepTimings(events []TimingSample, cutoff time.Time) []TimingSample {
	kept := events[:0]
	for _, e := range events {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}

func keepValidations(events []ValidationEvent, cutoff time.Time) []ValidationEvent {
	kept := events[:0]
	for _, e := range events {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}
