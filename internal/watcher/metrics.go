package watcher

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sketchd",
			Subsystem: "watcher",
			Name:      "events_total",
			Help:      "Raw change events before debouncing",
		},
		[]string{"backend"},
	)

	callbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sketchd",
			Subsystem: "watcher",
			Name:      "callbacks_total",
			Help:      "Debounced callback invocations by result",
		},
		[]string{"result"},
	)

	backendUnavailableTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sketchd",
		Subsystem: "watcher",
		Name:      "native_unavailable_total",
		Help:      "Times native notifications could not be used",
	})

	watchedPaths = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sketchd",
		Subsystem: "watcher",
		Name:      "watched_paths",
		Help:      "Number of registered paths",
	})
)

func init() {
	prometheus.MustRegister(eventsTotal, callbacksTotal, backendUnavailableTotal, watchedPaths)
}
