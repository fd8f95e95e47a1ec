package exporters

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/depthnode/internal/events"
	"github.com/smazurov/depthnode/internal/metrics"
)

type mockEventBus struct {
	mu        sync.Mutex
	events    []events.Event
	published chan struct{}
}

func newMockEventBus() *mockEventBus {
	return &mockEventBus{
		events:    make([]events.Event, 0),
		published: make(chan struct{}, 100),
	}
}

func (m *mockEventBus) Publish(ev events.Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	select {
	case m.published <- struct{}{}:
	default:
	}
}

func (m *mockEventBus) getEvents() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]events.Event, len(m.events))
	copy(result, m.events)
	return result
}

func TestSSEExporterPublishesMetrics(t *testing.T) {
	const device = "sse-test://0"
	metrics.DeleteStreamMetrics(device, "DEPTH")
	defer metrics.DeleteStreamMetrics(device, "DEPTH")

	for range 3 {
		metrics.FrameDelivered(device, "DEPTH")
	}
	metrics.FrameRead(device, "DEPTH")
	metrics.FrameDropped(device, "DEPTH")

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.interval = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	exporter.Start(ctx)

	// Wait for at least one publish cycle
	select {
	case <-mock.published:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for metrics publish")
	}

	cancel()
	exporter.Stop()

	var found bool
	for _, ev := range mock.getEvents() {
		sme, ok := ev.(events.StreamMetricsEvent)
		if !ok || sme.URI != device {
			continue
		}
		found = true
		if sme.Sensor != "DEPTH" || sme.Delivered != 3 || sme.Read != 1 || sme.Dropped != 1 {
			t.Errorf("unexpected snapshot %+v", sme)
		}
		break
	}
	if !found {
		t.Error("expected StreamMetricsEvent for test device")
	}
}

func TestSSEExporterNoMetrics(t *testing.T) {
	const device = "sse-no-metrics-test://0"
	metrics.DeleteStreamMetrics(device, "COLOR")

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.interval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	exporter.Start(ctx)

	// Wait for at least one publish cycle
	time.Sleep(50 * time.Millisecond)

	cancel()
	exporter.Stop()

	for _, ev := range mock.getEvents() {
		if sme, ok := ev.(events.StreamMetricsEvent); ok && sme.URI == device {
			t.Error("expected no events for deleted stream")
		}
	}
}

func TestSSEExporterStopIdempotent(t *testing.T) {
	const device = "sse-idempotent-test://0"
	metrics.FrameDelivered(device, "IR")
	defer metrics.DeleteStreamMetrics(device, "IR")

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.interval = 10 * time.Millisecond

	exporter.Start(context.Background())

	// Let it run briefly
	time.Sleep(30 * time.Millisecond)

	exporter.Stop()
	exporter.Stop()
	exporter.Stop()

	countAfterStop := len(mock.getEvents())
	time.Sleep(30 * time.Millisecond)
	if countAfterWait := len(mock.getEvents()); countAfterWait != countAfterStop {
		t.Errorf("events published after stop: got %d, want %d", countAfterWait, countAfterStop)
	}
}

func TestSSEExporterStopBeforeStart(t *testing.T) {
	const device = "sse-stop-before-start-test://0"
	metrics.FrameDelivered(device, "DEPTH")
	defer metrics.DeleteStreamMetrics(device, "DEPTH")

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.interval = 10 * time.Millisecond

	// Stop before start should not panic
	exporter.Stop()

	exporter.Start(t.Context())
	time.Sleep(30 * time.Millisecond)
	exporter.Stop()

	if len(mock.getEvents()) == 0 {
		t.Error("expected events after Start(), got none")
	}
}

func TestGetEventTypes(t *testing.T) {
	types := GetEventTypes()
	if _, ok := types["stream-metrics"]; !ok {
		t.Error("expected stream-metrics event type")
	}
}
