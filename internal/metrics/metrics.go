package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels completed diagnoses.
	OutcomeSuccess = "success"
	// OutcomeError labels failed diagnoses (pipeline or dependency issues).
	OutcomeError = "error"
)

var (
	diagnosesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diagnose",
			Name:      "diagnoses_total",
			Help:      "Total number of diagnosis runs handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	diagnosisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "diagnose",
			Name:      "diagnosis_seconds",
			Help:      "End-to-end diagnosis latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 4, 5, 6, 8, 10, 15, 30},
		},
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "diagnose",
			Name:      "stage_seconds",
			Help:      "Per-stage latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		},
		[]string{"stage"},
	)
)

// Register attaches the diagnose collectors to the supplied Prometheus
// registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		diagnosesTotal,
		diagnosisDurationSeconds,
		stageDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveDiagnosis records a run's duration and outcome label.
func ObserveDiagnosis(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	diagnosesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	diagnosisDurationSeconds.Observe(duration.Seconds())
}

// ObserveStage records a single pipeline stage duration.
func ObserveStage(stage string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}
