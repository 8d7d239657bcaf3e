package broadcast

import "github.com/prometheus/client_golang/prometheus"

var (
	subscribersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sketchd",
		Subsystem: "broadcast",
		Name:      "subscribers",
		Help:      "Live subscribers across all sketches",
	})

	publishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sketchd",
			Subsystem: "broadcast",
			Name:      "published_total",
			Help:      "Events published by type",
		},
		[]string{"type"},
	)

	sendFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sketchd",
		Subsystem: "broadcast",
		Name:      "send_failures_total",
		Help:      "Sends that failed and removed their subscriber",
	})
)

func init() {
	prometheus.MustRegister(subscribersGauge, publishedTotal, sendFailuresTotal)
}
