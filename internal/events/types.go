package events

// Event type constants for kelindar/event.
const (
	TypeDeviceConnected uint32 = iota + 1
	TypeDeviceDisconnected
	TypeDeviceStateChanged
	TypeStreamStateChanged
	TypeRecorderStateChanged
	TypePlaybackEnded
	TypeStreamMetrics
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// DeviceConnectedEvent is published when a driver reports a new device.
type DeviceConnectedEvent struct {
	URI       string `json:"uri" example:"synthetic://0" doc:"Device URI"`
	Name      string `json:"name" example:"Synthetic Depth Camera" doc:"Device name"`
	Vendor    string `json:"vendor" example:"depthnode" doc:"Device vendor"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceConnectedEvent.
func (e DeviceConnectedEvent) Type() uint32 { return TypeDeviceConnected }

// DeviceDisconnectedEvent is published when a device goes away.
type DeviceDisconnectedEvent struct {
	URI       string `json:"uri" example:"synthetic://0" doc:"Device URI"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceDisconnectedEvent.
func (e DeviceDisconnectedEvent) Type() uint32 { return TypeDeviceDisconnected }

// DeviceStateChangedEvent reports a device error state change.
type DeviceStateChangedEvent struct {
	URI       string `json:"uri" example:"synthetic://0" doc:"Device URI"`
	State     string `json:"state" example:"error" doc:"New state: ok, error, not_ready, resource_busy"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceStateChangedEvent.
func (e DeviceStateChangedEvent) Type() uint32 { return TypeDeviceStateChanged }

// StreamStateChangedEvent reports a stream lifecycle transition.
type StreamStateChangedEvent struct {
	URI       string `json:"uri" example:"synthetic://0" doc:"Device URI"`
	StreamID  uint64 `json:"stream_id" example:"3" doc:"Stream handle"`
	Sensor    string `json:"sensor" example:"DEPTH" doc:"Sensor type"`
	OldState  string `json:"old_state" example:"created" doc:"Previous state"`
	NewState  string `json:"new_state" example:"started" doc:"New state"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamStateChangedEvent.
func (e StreamStateChangedEvent) Type() uint32 { return TypeStreamStateChanged }

// RecorderStateChangedEvent reports a recorder lifecycle transition.
type RecorderStateChangedEvent struct {
	Path      string `json:"path" example:"/tmp/capture.dnr" doc:"Recording file path"`
	OldState  string `json:"old_state" example:"created" doc:"Previous state"`
	NewState  string `json:"new_state" example:"recording" doc:"New state"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for RecorderStateChangedEvent.
func (e RecorderStateChangedEvent) Type() uint32 { return TypeRecorderStateChanged }

// PlaybackEndedEvent is published when a file device reaches end of file
// with repeat disabled.
type PlaybackEndedEvent struct {
	URI       string `json:"uri" example:"/tmp/capture.dnr" doc:"Recording path"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for PlaybackEndedEvent.
func (e PlaybackEndedEvent) Type() uint32 { return TypePlaybackEnded }

// StreamMetricsEvent is a periodic snapshot of one stream's frame counters.
type StreamMetricsEvent struct {
	URI       string `json:"uri" example:"synthetic://0" doc:"Device URI"`
	Sensor    string `json:"sensor" example:"DEPTH" doc:"Sensor type"`
	Delivered uint64 `json:"delivered" example:"900" doc:"Frames accepted by the stream"`
	Read      uint64 `json:"read" example:"880" doc:"Frames returned to readers"`
	Dropped   uint64 `json:"dropped" example:"20" doc:"Frames replaced before being read"`
	Rejected  uint64 `json:"rejected" example:"0" doc:"Frames refused for a non-increasing index"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamMetricsEvent.
func (e StreamMetricsEvent) Type() uint32 { return TypeStreamMetrics }

// LogEntryEvent carries one log record to live log viewers.
type LogEntryEvent struct {
	Timestamp  string         `json:"timestamp" example:"2025-01-27T10:30:00.123Z" doc:"Record time"`
	Level      string         `json:"level" example:"INFO" doc:"Severity"`
	Module     string         `json:"module" example:"sensor" doc:"Logger module"`
	Message    string         `json:"message" example:"Device opened" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
