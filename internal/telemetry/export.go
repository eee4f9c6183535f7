package telemetry

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// exportPayload is the JSON export shape. The "metrics" key carries the raw
// event logs; aggregates ride alongside so a consumer does not need to
// recompute them.
type exportPayload struct {
	Metrics struct {
		Interactions []InteractionEvent `json:"interactions"`
		Errors       []ErrorEvent       `json:"errors"`
		Timings      []TimingSample     `json:"timings"`
		Validations  []ValidationEvent  `json:"validations"`
	} `json:"metrics"`
	Stats      UsageStats      `json:"stats"`
	RealTime   RealTimeMetrics `json:"real_time"`
	ExportedAt time.Time       `json:"exported_at"`
}

// ExportMetrics serializes the retained event log. JSON output is an object
// with a "metrics" key; CSV output starts with the id,operation,timestamp
// header row followed by one row per retained event.
func (s *Store) ExportMetrics(format string) (string, error) {
	switch format {
	case FormatJSON:
		return s.exportJSON()
	case FormatCSV:
		return s.exportCSV()
	default:
		return "", fmt.Errorf("unsupported export format %q (want %q or %q)", format, FormatJSON, FormatCSV)
	}
}

func (s *Store) exportJSON() (string, error) {
	var payload exportPayload
	payload.Stats = s.GetUsageStats()
	payload.RealTime = s.GetRealTimeMetrics()

	s.mu.Lock()
	payload.Metrics.Interactions = append([]InteractionEvent{}, s.interactions...)
	payload.Metrics.Errors = append([]ErrorEvent{}, s.errors...)
	payload.Metrics.Timings = append([]TimingSample{}, s.timings...)
	payload.Metrics.Validations = append([]ValidationEvent{}, s.validations...)
	payload.ExportedAt = s.now()
	s.mu.Unlock()

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serializing metrics: %w", err)
	}
	return string(data), nil
}

// csvHeader is the fixed first row of CSV exports.
var csvHeader = []string{"id", "operation", "timestamp", "type", "value", "success"}

func (s *Store) exportCSV() (string, error) {
	s.mu.Lock()
	interactions := append([]InteractionEvent{}, s.interactions...)
	errorEvents := append([]ErrorEvent{}, s.errors...)
	timings := append([]TimingSample{}, s.timings...)
	validations := append([]ValidationEvent{}, s.validations...)
	s.mu.Unlock()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return "", fmt.Errorf("writing csv header: %w", err)
	}

	for _, e := range interactions {
		record := []string{e.ID, e.ActionType, e.Timestamp.Format(time.RFC3339Nano), "interaction", e.ButtonID, strconv.FormatBool(e.Success)}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("writing interaction row: %w", err)
		}
	}
	for _, e := range errorEvents {
		record := []string{e.ID, e.Operation, e.Timestamp.Format(time.RFC3339Nano), "error", e.Message, "false"}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("writing error row: %w", err)
		}
	}
	for _, e := range timings {
		record := []string{e.ID, e.Operation, e.Timestamp.Format(time.RFC3339Nano), "timing", strconv.FormatFloat(e.DurationMs, 'f', 3, 64), "true"}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("writing timing row: %w", err)
		}
	}
	for _, e := range validations {
		record := []string{e.ID, "validation", e.Timestamp.Format(time.RFC3339Nano), "validation", e.ButtonID, strconv.FormatBool(e.Valid)}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("writing validation row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flushing csv: %w", err)
	}
	return buf.String(), nil
}
