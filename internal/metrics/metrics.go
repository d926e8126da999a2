package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels cycles that produced a validated result.
	OutcomeSuccess = "success"
	// OutcomeError labels cycles that ended in the failed state.
	OutcomeError = "error"
)

const namespace = "blackswan"

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Analysis cycles run, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	cycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "End-to-end analysis cycle latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90, 120, 180},
		},
	)

	stageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_stage_failures_total",
			Help:      "Cycle failures partitioned by the step that failed.",
		},
		[]string{"stage"},
	)

	storageFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_failures_total",
			Help:      "Validated results that could not be persisted.",
		},
	)

	feedUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_updates_total",
			Help:      "Feed cache updates partitioned by source and kind (update, clear, error).",
		},
		[]string{"source", "kind"},
	)

	sourceAvailable = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_available",
			Help:      "1 if the source was available in the latest snapshot.",
		},
		[]string{"source"},
	)
)

// Register attaches collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		cyclesTotal,
		cycleDurationSeconds,
		stageFailuresTotal,
		storageFailuresTotal,
		feedUpdatesTotal,
		sourceAvailable,
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

// ObserveCycle records a cycle duration and outcome label.
func ObserveCycle(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	cyclesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveStageFailure counts a failure at the named step.
func ObserveStageFailure(stage string) {
	stageFailuresTotal.WithLabelValues(stage).Inc()
}

// ObserveStorageFailure counts a result that was validated but not stored.
func ObserveStorageFailure() {
	storageFailuresTotal.Inc()
}

// ObserveFeedUpdate counts a feed cache mutation.
func ObserveFeedUpdate(source, kind string) {
	feedUpdatesTotal.WithLabelValues(source, kind).Inc()
}

// SetSourceAvailable publishes a source's availability from the latest snapshot.
func SetSourceAvailable(source string, available bool) {
	v := 0.0
	if available {
		v = 1
	}
	sourceAvailable.WithLabelValues(source).Set(v)
}
