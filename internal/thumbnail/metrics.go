package thumbnail

import "github.com/prometheus/client_golang/prometheus"

var (
	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sketchd",
		Subsystem: "thumbnails",
		Name:      "queue_depth",
		Help:      "Tasks waiting for a worker",
	})

	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sketchd",
			Subsystem: "thumbnails",
			Name:      "tasks_total",
			Help:      "Task outcomes: completed, failed, skipped, retried",
		},
		[]string{"result"},
	)

	taskDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sketchd",
		Subsystem: "thumbnails",
		Name:      "attempt_duration_seconds",
		Help:      "Duration of one generation attempt",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(queueDepth, tasksTotal, taskDuration)
}
