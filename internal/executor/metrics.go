package executor

import "github.com/prometheus/client_golang/prometheus"

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sketchd",
			Subsystem: "executor",
			Name:      "runs_total",
			Help:      "Sketch executions by outcome kind (ok for success)",
		},
		[]string{"mode", "kind"},
	)

	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sketchd",
			Subsystem: "executor",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of sketch executions",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)
)

func init() {
	prometheus.MustRegister(runsTotal, runDuration)
}

func observe(mode string, r Result) {
	kind := string(r.Kind)
	if r.Success {
		kind = "ok"
	}
	runsTotal.WithLabelValues(mode, kind).Inc()
	runDuration.WithLabelValues(mode).Observe(r.Elapsed.Seconds())
}
