package orchestrator

import "github.com/prometheus/client_golang/prometheus"

var (
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sketchd",
			Subsystem: "orchestrator",
			Name:      "executions_total",
			Help:      "Executions by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sketchd",
			Subsystem: "orchestrator",
			Name:      "execution_duration_seconds",
			Help:      "Wall time from lock acquisition to outcome",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"trigger"},
	)

	inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sketchd",
		Subsystem: "orchestrator",
		Name:      "in_flight",
		Help:      "Executions holding a sketch lock",
	})

	watchingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sketchd",
		Subsystem: "orchestrator",
		Name:      "watching",
		Help:      "Sketches with an active file watch",
	})
)

func init() {
	prometheus.MustRegister(executionsTotal, executionDuration, inFlight, watchingGauge)
}
