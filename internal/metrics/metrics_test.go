package metrics

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStreamMetricsCache(t *testing.T) {
	const device, sensor = "test://cache", "DEPTH"
	DeleteStreamMetrics(device, sensor)

	if m := GetStreamMetrics(device, sensor); m != nil {
		t.Error("expected nil for unknown stream")
	}

	FrameDelivered(device, sensor)
	FrameDelivered(device, sensor)
	FrameRead(device, sensor)
	FrameDropped(device, sensor)
	FrameRejected(device, sensor)

	m := GetStreamMetrics(device, sensor)
	if m == nil {
		t.Fatal("expected non-nil metrics")
	}
	if m.Delivered != 2 || m.Read != 1 || m.Dropped != 1 || m.Rejected != 1 {
		t.Errorf("unexpected metrics %+v", m)
	}

	m.Delivered = 99
	if got := GetStreamMetrics(device, sensor); got.Delivered != 2 {
		t.Errorf("cache was modified, Delivered = %d", got.Delivered)
	}

	if got := testutil.ToFloat64(framesDelivered.WithLabelValues(device, sensor)); got != 2 {
		t.Errorf("prometheus delivered = %v, want 2", got)
	}

	DeleteStreamMetrics(device, sensor)
	if GetStreamMetrics(device, sensor) != nil {
		t.Error("expected nil after delete")
	}
}

func TestConcurrentStreamUpdates(t *testing.T) {
	const device, sensor = "test://concurrent", "COLOR"
	DeleteStreamMetrics(device, sensor)
	defer DeleteStreamMetrics(device, sensor)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				FrameDelivered(device, sensor)
			}
		}()
	}
	wg.Wait()

	if m := GetStreamMetrics(device, sensor); m.Delivered != 1000 {
		t.Errorf("Delivered = %d, want 1000", m.Delivered)
	}
}

func TestPoolAndRecorderMetrics(t *testing.T) {
	SetBuffersInUse(7)
	if got := testutil.ToFloat64(buffersInUse); got != 7 {
		t.Errorf("buffers in use = %v, want 7", got)
	}

	const path = "/tmp/metrics-test.dnr"
	DeleteRecorderMetrics(path)
	FrameWritten(path, "DEPTH", 100)
	FrameWritten(path, "DEPTH", 50)
	if got := testutil.ToFloat64(recorderBytes.WithLabelValues(path)); got != 150 {
		t.Errorf("bytes written = %v, want 150", got)
	}
	if got := testutil.ToFloat64(recorderFrames.WithLabelValues(path, "DEPTH")); got != 2 {
		t.Errorf("frames written = %v, want 2", got)
	}
	DeleteRecorderMetrics(path)
}

func TestAllStreamMetricsSorted(t *testing.T) {
	devices := []string{"all-test://b", "all-test://a"}
	for _, d := range devices {
		FrameDelivered(d, "DEPTH")
		FrameDelivered(d, "COLOR")
		defer DeleteStreamMetrics(d, "DEPTH")
		defer DeleteStreamMetrics(d, "COLOR")
	}

	var got []string
	for _, s := range AllStreamMetrics() {
		if s.Device == devices[0] || s.Device == devices[1] {
			got = append(got, s.Device+"/"+s.Sensor)
		}
	}
	want := []string{"all-test://a/COLOR", "all-test://a/DEPTH", "all-test://b/COLOR", "all-test://b/DEPTH"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %s, want %s", i, got[i], want[i])
		}
	}
}
