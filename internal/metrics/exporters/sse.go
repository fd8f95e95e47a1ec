package exporters

import (
	"context"
	"sync"
	"time"

	"github.com/smazurov/depthnode/internal/events"
	"github.com/smazurov/depthnode/internal/metrics"
)

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter publishes stream counter snapshots for the live events feed.
type SSEExporter struct {
	eventBus EventPublisher
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSSEExporter creates a new SSE exporter.
func NewSSEExporter(eventBus EventPublisher) *SSEExporter {
	return &SSEExporter{
		eventBus: eventBus,
		interval: 1 * time.Second,
	}
}

// SetInterval changes the publish period. It must be called before Start.
func (s *SSEExporter) SetInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

// Start begins the SSE export loop.
func (s *SSEExporter) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run()
}

// Stop stops the SSE exporter and waits for the goroutine to finish.
func (s *SSEExporter) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *SSEExporter) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.publishMetrics()
		}
	}
}

func (s *SSEExporter) publishMetrics() {
	now := time.Now().Format(time.RFC3339)
	for _, m := range metrics.AllStreamMetrics() {
		s.eventBus.Publish(events.StreamMetricsEvent{
			URI:       m.Device,
			Sensor:    m.Sensor,
			Delivered: m.Delivered,
			Read:      m.Read,
			Dropped:   m.Dropped,
			Rejected:  m.Rejected,
			Timestamp: now,
		})
	}
}

// GetEventTypes returns event types for SSE endpoint registration.
func GetEventTypes() map[string]any {
	return map[string]any{
		"stream-metrics": events.StreamMetricsEvent{},
	}
}
