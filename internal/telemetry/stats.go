package telemetry

import (
	"sort"
	"time"
)

// healthPenaltyPerError is subtracted from the health score per recent
// error. The penalty saturates at healthPenaltyCap errors so a burst cannot
// push the score below what the success rate alone would justify minus the
// cap.
const (
	healthPenaltyPerError = 8
	healthPenaltyCap      = 10
)

// GetUsageStats aggregates the full retained history. Never panics: an
// internal fault yields a neutral zeroed structure rather than taking down
// the caller.
func (s *Store) GetUsageStats() (stats UsageStats) {
	defer func() {
		if r := recover(); r != nil {
			stats = UsageStats{SuccessRate: 1.0}
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	stats.TotalInteractions = len(s.interactions)

	successes := 0
	for _, e := range s.interactions {
		if e.Success {
			successes++
		} else {
			stats.ErrorCount++
		}
	}

	// With nothing recorded there is nothing failing: success rate is 1.0
	// by definition, not 0/0.
	stats.SuccessRate = 1.0
	if stats.TotalInteractions > 0 {
		stats.SuccessRate = float64(successes) / float64(stats.TotalInteractions)
	}

	stats.ErrorCount += len(s.errors)

	stats.AverageRenderTimeMs = s.averageTimingLocked(OpButtonRender)
	stats.AverageActionTimeMs = s.averageTimingLocked(OpActionExecution)
	stats.MostUsedActions = s.mostUsedActionsLocked()

	return stats
}

// GetRealTimeMetrics reports live indicators: in-flight operations, errors
// in the last five minutes, and a 0-100 health score. Never panics.
func (s *Store) GetRealTimeMetrics() (metrics RealTimeMetrics) {
	defer func() {
		if r := recover(); r != nil {
			metrics = RealTimeMetrics{}
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	metrics.ActiveOperations = s.activeOps
	metrics.RecentErrors = s.recentErrorsLocked(now)
	metrics.HealthScore = s.healthScoreLocked(now)

	s.instruments.setHealthScore(metrics.HealthScore)

	return metrics
}

// SuccessRateSince reports the interaction success rate over events recorded
// at or after cutoff. With no interactions in the window there is nothing
// failing, so the rate is 1.0.
func (s *Store) SuccessRateSince(cutoff time.Time) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	total, successes := 0, 0
	for _, e := range s.interactions {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		total++
		if e.Success {
			successes++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(successes) / float64(total)
}

// healthScoreLocked computes the 0-100 health score: the overall success
// rate minus a capped per-recent-error penalty.
func (s *Store) healthScoreLocked(now time.Time) int {
	successRate := 1.0
	if len(s.interactions) > 0 {
		successes := 0
		for _, e := range s.interactions {
			if e.Success {
				successes++
			}
		}
		successRate = float64(successes) / float64(len(s.interactions))
	}

	penalty := s.recentErrorsLocked(now)
	if penalty > healthPenaltyCap {
		penalty = healthPenaltyCap
	}
	score := int(100*successRate+0.5) - penalty*healthPenaltyPerError
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// recentErrorsLocked counts error events and failed validations inside the
// recency window.
func (s *Store) recentErrorsLocked(now time.Time) int {
	cutoff := now.Add(-recentWindow)
	count := 0
	for _, e := range s.errors {
		if !e.Timestamp.Before(cutoff) {
			count++
		}
	}
	for _, v := range s.validations {
		if !v.Valid && !v.Timestamp.Before(cutoff) {
			count++
		}
	}
	return count
}

func (s *Store) averageTimingLocked(operation string) float64 {
	sum := 0.0
	count := 0
	for _, t := range s.timings {
		if t.Operation == operation {
			sum += t.DurationMs
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// mostUsedActionsLocked counts interactions per action type, sorted by count
// descending with ties broken by first-seen order.
func (s *Store) mostUsedActionsLocked() []ActionCount {
	counts := make(map[string]int)
	var order []string
	for _, e := range s.interactions {
		if _, seen := counts[e.ActionType]; !seen {
			order = append(order, e.ActionType)
		}
		counts[e.ActionType]++
	}

	result := make([]ActionCount, 0, len(order))
	for _, action := range order {
		result = append(result, ActionCount{Action: action, Count: counts[action]})
	}

	// Stable sort keeps the first-seen order for equal counts.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Count > result[j].Count
	})

	return result
}
