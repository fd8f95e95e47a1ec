// Package metrics provides Prometheus metrics for sensor streams, the frame
// pool and recorders.
package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "depthnode"

var (
	framesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "frames_delivered_total",
		Help:      "Frames accepted from the device backend",
	}, []string{"device", "sensor"})

	framesRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "frames_read_total",
		Help:      "Frames handed to readers",
	}, []string{"device", "sensor"})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "frames_dropped_total",
		Help:      "Frames overwritten before a reader took them",
	}, []string{"device", "sensor"})

	framesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "frames_rejected_total",
		Help:      "Frames whose index did not advance",
	}, []string{"device", "sensor"})

	waitTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "wait",
		Name:      "timeouts_total",
		Help:      "Multi-stream waits that timed out",
	})

	// Local cache for the status API.
	streamCache   = make(map[streamKey]*StreamMetrics)
	streamCacheMu sync.RWMutex
)

type streamKey struct {
	device string
	sensor string
}

// StreamMetrics holds counters for one device sensor.
type StreamMetrics struct {
	Delivered uint64 `json:"delivered"`
	Read      uint64 `json:"read"`
	Dropped   uint64 `json:"dropped"`
	Rejected  uint64 `json:"rejected"`
}

// FrameDelivered counts a frame accepted by a stream.
func FrameDelivered(device, sensor string) {
	framesDelivered.WithLabelValues(device, sensor).Inc()
	updateStream(device, sensor, func(m *StreamMetrics) { m.Delivered++ })
}

// FrameRead counts a frame returned by a read.
func FrameRead(device, sensor string) {
	framesRead.WithLabelValues(device, sensor).Inc()
	updateStream(device, sensor, func(m *StreamMetrics) { m.Read++ })
}

// FrameDropped counts a pending frame replaced by a newer one.
func FrameDropped(device, sensor string) {
	framesDropped.WithLabelValues(device, sensor).Inc()
	updateStream(device, sensor, func(m *StreamMetrics) { m.Dropped++ })
}

// FrameRejected counts a frame refused for a non-increasing index.
func FrameRejected(device, sensor string) {
	framesRejected.WithLabelValues(device, sensor).Inc()
	updateStream(device, sensor, func(m *StreamMetrics) { m.Rejected++ })
}

// WaitTimedOut counts a multi-stream wait timeout.
func WaitTimedOut() {
	waitTimeouts.Inc()
}

// DeleteStreamMetrics removes the series for one device sensor.
func DeleteStreamMetrics(device, sensor string) {
	framesDelivered.DeleteLabelValues(device, sensor)
	framesRead.DeleteLabelValues(device, sensor)
	framesDropped.DeleteLabelValues(device, sensor)
	framesRejected.DeleteLabelValues(device, sensor)

	streamCacheMu.Lock()
	delete(streamCache, streamKey{device, sensor})
	streamCacheMu.Unlock()
}

// GetStreamMetrics returns a copy of the counters for one device sensor.
func GetStreamMetrics(device, sensor string) *StreamMetrics {
	streamCacheMu.RLock()
	defer streamCacheMu.RUnlock()
	if m, ok := streamCache[streamKey{device, sensor}]; ok {
		dup := *m
		return &dup
	}
	return nil
}

func updateStream(device, sensor string, update func(*StreamMetrics)) {
	streamCacheMu.Lock()
	defer streamCacheMu.Unlock()
	key := streamKey{device, sensor}
	m, ok := streamCache[key]
	if !ok {
		m = &StreamMetrics{}
		streamCache[key] = m
	}
	update(m)
}

// StreamSnapshot is the counters of one device sensor.
type StreamSnapshot struct {
	Device string
	Sensor string
	StreamMetrics
}

// AllStreamMetrics returns a copy of every cached stream's counters, sorted
// by device then sensor.
func AllStreamMetrics() []StreamSnapshot {
	streamCacheMu.RLock()
	out := make([]StreamSnapshot, 0, len(streamCache))
	for k, m := range streamCache {
		out = append(out, StreamSnapshot{Device: k.device, Sensor: k.sensor, StreamMetrics: *m})
	}
	streamCacheMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Device != out[j].Device {
			return out[i].Device < out[j].Device
		}
		return out[i].Sensor < out[j].Sensor
	})
	return out
}
