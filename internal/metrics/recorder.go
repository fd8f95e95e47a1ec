package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recorderFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "recorder",
		Name:      "frames_written_total",
		Help:      "Frames persisted to recordings",
	}, []string{"path", "sensor"})

	recorderBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "recorder",
		Name:      "bytes_written_total",
		Help:      "Encoded frame bytes persisted to recordings",
	}, []string{"path"})
)

// FrameWritten counts one persisted frame of size bytes.
func FrameWritten(path, sensor string, size int) {
	recorderFrames.WithLabelValues(path, sensor).Inc()
	recorderBytes.WithLabelValues(path).Add(float64(size))
}

// DeleteRecorderMetrics removes the series for a recording.
func DeleteRecorderMetrics(path string) {
	recorderFrames.DeletePartialMatch(prometheus.Labels{"path": path})
	recorderBytes.DeleteLabelValues(path)
}
