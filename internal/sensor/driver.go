package sensor

import "context"

// Driver discovers and opens devices of one kind. A driver claims a URI by
// inspecting it (for recordings, by reading the file's magic bytes), never by
// file extension alone.
type Driver interface {
	Name() string
	Enumerate(ctx context.Context) ([]DeviceInfo, error)
	Probe(uri string) bool
	Open(ctx context.Context, uri string) (DeviceBackend, error)
}

// DeviceBackend is the device side of a driver.
type DeviceBackend interface {
	Info() DeviceInfo
	Sensors() []SensorInfo
	CreateStream(sensor SensorType) (StreamBackend, error)

	IsPropertySupported(id PropertyID) bool
	GetProperty(id PropertyID) (any, error)
	SetProperty(id PropertyID, value any) error
	IsCommandSupported(cmd CommandID) bool
	Invoke(cmd CommandID, arg any) error
	IsImageRegistrationModeSupported(mode ImageRegistrationMode) bool

	Close() error
}

// StreamBackend produces frames for one sensor. Start must return quickly;
// frames are delivered to the sink from the backend's own goroutine. Stop
// must not return until the backend has stopped calling the sink.
type StreamBackend interface {
	VideoMode() VideoMode
	SetVideoMode(mode VideoMode) error
	Start(sink FrameSink) error
	Stop()

	IsPropertySupported(id PropertyID) bool
	GetProperty(id PropertyID) (any, error)
	SetProperty(id PropertyID, value any) error

	Close()
}

// FrameSink receives frames from a StreamBackend.
type FrameSink interface {
	// Allocate returns a pooled frame of size bytes for the backend to fill.
	Allocate(size int) *Frame
	// Deliver publishes f with info and takes over the backend's reference.
	Deliver(f *Frame, info FrameInfo)
	// Fail reports a backend error; pending and later reads fail with
	// ErrStreamRead until the stream is restarted.
	Fail(err error)
	// Reset forgets the last frame index, for sources that rewind.
	Reset()
}

// Triggerer is implemented by backends that can produce a frame on demand,
// such as a recording played in manual mode.
type Triggerer interface {
	Trigger()
}

// FileBackend is implemented by backends that replay a recording.
type FileBackend interface {
	IsFile() bool
}

// DepthColorMapper is implemented by backends that can map depth pixels onto
// the color image.
type DepthColorMapper interface {
	ConvertDepthToColor(depthX, depthY int, depthZ uint16) (colorX, colorY int, err error)
}

// DeviceState is reported by hotplug-capable drivers.
type DeviceState string

const (
	DeviceStateOK           DeviceState = "ok"
	DeviceStateError        DeviceState = "error"
	DeviceStateNotReady     DeviceState = "not_ready"
	DeviceStateResourceBusy DeviceState = "resource_busy"
)

// HotplugNotifier is handed to drivers that watch for devices.
type HotplugNotifier interface {
	Connected(info DeviceInfo)
	Disconnected(uri string)
	StateChanged(uri string, state DeviceState)
}

// Watcher is implemented by drivers that report device arrival and removal.
// Watch blocks until ctx is done.
type Watcher interface {
	Watch(ctx context.Context, notify HotplugNotifier) error
}
