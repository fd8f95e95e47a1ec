package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	buffersInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "buffers_in_use",
		Help:      "Frame buffers with a non-zero reference count",
	})

	buffersRecycled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "buffers_recycled_total",
		Help:      "Frame buffers returned to the pool",
	})
)

// SetBuffersInUse records the number of live frame buffers.
func SetBuffersInUse(n int64) {
	buffersInUse.Set(float64(n))
}

// BufferRecycled counts a buffer returned to the pool.
func BufferRecycled() {
	buffersRecycled.Inc()
}
