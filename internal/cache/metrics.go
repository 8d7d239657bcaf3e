package cache

import "github.com/prometheus/client_golang/prometheus"

var (
	sizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sketchd",
		Subsystem: "cache",
		Name:      "size_bytes",
		Help:      "Aggregate size of cached artifacts and thumbnails",
	})

	entriesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sketchd",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Number of live cache entries",
	})

	storesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sketchd",
		Subsystem: "cache",
		Name:      "stores_total",
		Help:      "Total artifacts stored",
	})

	evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sketchd",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total cache entries evicted",
		},
		[]string{"reason"},
	)

	thumbnailsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sketchd",
			Subsystem: "cache",
			Name:      "thumbnails_total",
			Help:      "Thumbnail render attempts by result",
		},
		[]string{"result"},
	)

	corruptIndexTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sketchd",
		Subsystem: "cache",
		Name:      "corrupt_index_total",
		Help:      "Times a corrupt index was discarded on load",
	})
)

func init() {
	prometheus.MustRegister(sizeBytes, entriesGauge, storesTotal, evictionsTotal, thumbnailsTotal, corruptIndexTotal)
}

func (c *Cache) updateGaugesLocked() {
	n := 0
	for _, list := range c.entries {
		n += len(list)
	}
	entriesGauge.Set(float64(n))
	sizeBytes.Set(float64(c.totalBytesLocked()))
}
