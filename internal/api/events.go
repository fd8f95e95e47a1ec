package api

import (
	"context"
	"maps"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/depthnode/internal/events"
	"github.com/smazurov/depthnode/internal/metrics/exporters"
)

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	eventTypes := map[string]any{
		"device-connected":       events.DeviceConnectedEvent{},
		"device-disconnected":    events.DeviceDisconnectedEvent{},
		"device-state-changed":   events.DeviceStateChangedEvent{},
		"stream-state-changed":   events.StreamStateChangedEvent{},
		"recorder-state-changed": events.RecorderStateChangedEvent{},
		"playback-ended":         events.PlaybackEndedEvent{},
	}
	maps.Copy(eventTypes, exporters.GetEventTypes())

	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time device, stream, recorder and playback events plus periodic stream counters",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, eventTypes, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.DeviceConnectedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.DeviceDisconnectedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.DeviceStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.StreamStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.RecorderStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.PlaybackEndedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.StreamMetricsEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Devices already open are announced first so a client starts
		// from the current state.
		if s.sensors != nil {
			now := time.Now().Format(time.RFC3339)
			for _, dev := range s.sensors.OpenDevices() {
				info := dev.Info()
				if err := send.Data(events.DeviceConnectedEvent{
					URI:       info.URI,
					Name:      info.Name,
					Vendor:    info.Vendor,
					Timestamp: now,
				}); err != nil {
					return
				}
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
