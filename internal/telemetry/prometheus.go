package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// instruments holds the Prometheus collectors fed alongside the in-memory
// log. They are created per store so isolated test instances never collide
// in a shared registry.
type instruments struct {
	interactionsTotal *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
	operationSeconds  *prometheus.HistogramVec
	healthScore       prometheus.Gauge
}

func newInstruments() *instruments {
	return &instruments{
		interactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rollguard",
				Name:      "interactions_total",
				Help:      "Button interactions recorded, partitioned by action type and outcome.",
			},
			[]string{"action", "outcome"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rollguard",
				Name:      "errors_total",
				Help:      "Operation errors recorded, partitioned by operation.",
			},
			[]string{"operation"},
		),
		operationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "rollguard",
				Name:      "operation_seconds",
				Help:      "Operation latency in seconds.",
				Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1, 2, 5},
			},
			[]string{"operation"},
		),
		healthScore: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "rollguard",
				Name:      "health_score",
				Help:      "Most recently computed real-time health score (0-100).",
			},
		),
	}
}

func (i *instruments) observeInteraction(action string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	i.interactionsTotal.WithLabelValues(action, outcome).Inc()
}

func (i *instruments) observeError(operation string) {
	i.errorsTotal.WithLabelValues(operation).Inc()
}

func (i *instruments) observeTiming(operation string, elapsed time.Duration) {
	if elapsed < 0 {
		elapsed = 0
	}
	i.operationSeconds.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (i *instruments) setHealthScore(score int) {
	i.healthScore.Set(float64(score))
}

// Collectors returns the store's Prometheus collectors for registration at
// the composition root.
func (s *Store) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		s.instruments.interactionsTotal,
		s.instruments.errorsTotal,
		s.instruments.operationSeconds,
		s.instruments.healthScore,
	}
}

// Register attaches the store's collectors to the supplied registerer.
// Already-registered collectors are skipped rather than treated as errors.
func (s *Store) Register(reg prometheus.Registerer) error {
	for _, collector := range s.Collectors() {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}
