package sensor

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/smazurov/depthnode/internal/events"
	"github.com/smazurov/depthnode/internal/sensor/handle"
)

// Device is an opened device. Streams created on it have their own lifetime
// and must be destroyed by the caller; Close only stops them.
//
// Device-wide settings are meant to be configured by one goroutine before
// reader goroutines start.
type Device struct {
	ctx     *Context
	id      handle.Handle
	backend DeviceBackend
	info    DeviceInfo
	sensors []SensorInfo
	isFile  bool
	log     *slog.Logger

	mu           sync.Mutex
	closed       bool
	streams      map[*Stream]struct{}
	started      map[SensorType]int
	registration ImageRegistrationMode
	syncEnabled  bool
}

// ID returns the device handle as an integer.
func (d *Device) ID() uint64 { return d.id.ID() }

// Info returns the device description.
func (d *Device) Info() DeviceInfo { return d.info }

// Events returns the bus of the context that opened the device.
func (d *Device) Events() *events.Bus { return d.ctx.bus }

// URI returns the URI the device was opened with.
func (d *Device) URI() string { return d.info.URI }

// IsFile reports whether the device replays a recording.
func (d *Device) IsFile() bool { return d.isFile }

// HasSensor reports whether the device has a sensor of type t.
func (d *Device) HasSensor(t SensorType) bool {
	_, ok := d.SensorInfo(t)
	return ok
}

// SensorInfo returns the supported modes of sensor t.
func (d *Device) SensorInfo(t SensorType) (SensorInfo, bool) {
	for _, si := range d.sensors {
		if si.Type == t {
			modes := make([]VideoMode, len(si.Modes))
			copy(modes, si.Modes)
			return SensorInfo{Type: si.Type, Modes: modes}, true
		}
	}
	return SensorInfo{}, false
}

// Sensors returns the sensor types the device has.
func (d *Device) Sensors() []SensorType {
	out := make([]SensorType, 0, len(d.sensors))
	for _, si := range d.sensors {
		out = append(out, si.Type)
	}
	return out
}

// Streams returns the live streams created on this device.
func (d *Device) Streams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Stream, 0, len(d.streams))
	for s := range d.streams {
		out = append(out, s)
	}
	return out
}

// CreateStream creates a stopped stream for sensor t in the backend's
// default video mode.
func (d *Device) CreateStream(t SensorType) (*Stream, error) {
	const op = "create stream"
	if d.isClosed() {
		return nil, newError(CodeIllegalState, op, "device closed")
	}
	info, ok := d.SensorInfo(t)
	if !ok {
		return nil, newError(CodeUnsupported, op, fmt.Sprintf("device %s has no %s sensor", d.info.URI, t))
	}
	backend, err := d.backend.CreateStream(t)
	if err != nil {
		return nil, backendError(op, err)
	}

	s := &Stream{
		device:  d,
		backend: backend,
		sensor:  t,
		info:    info,
		mode:    backend.VideoMode(),
		state:   StateCreated,
	}
	s.id = d.ctx.streams.Insert(s)
	s.log = d.log.With("stream", s.id.String(), "sensor", t.String())

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		_, _ = d.ctx.streams.Remove(s.id)
		backend.Close()
		return nil, newError(CodeIllegalState, op, "device closed")
	}
	d.streams[s] = struct{}{}
	d.mu.Unlock()

	s.log.Debug("Stream created", "mode", s.mode.String())
	return s, nil
}

// Close stops every stream still alive on the device and releases the
// backend. Closing twice is a no-op.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	streams := make([]*Stream, 0, len(d.streams))
	for s := range d.streams {
		streams = append(streams, s)
	}
	d.mu.Unlock()

	for _, s := range streams {
		s.Stop()
	}
	_, _ = d.ctx.devices.Remove(d.id)

	if err := d.backend.Close(); err != nil {
		d.log.Warn("Backend close failed", "error", err)
		return backendError("close device", err)
	}
	d.log.Info("Device closed")
	return nil
}

func (d *Device) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// IsImageRegistrationModeSupported asks the backend.
func (d *Device) IsImageRegistrationModeSupported(mode ImageRegistrationMode) bool {
	return d.backend.IsImageRegistrationModeSupported(mode)
}

// ImageRegistrationMode returns the current registration mode.
func (d *Device) ImageRegistrationMode() ImageRegistrationMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registration
}

// SetImageRegistrationMode fails with ErrUnsupportedMode when the backend
// does not support mode, even if the caller checked first.
func (d *Device) SetImageRegistrationMode(mode ImageRegistrationMode) error {
	const op = "set registration mode"
	if _, err := ImageRegistrationModeFromCode(int(mode)); err != nil {
		return err
	}
	if d.isClosed() {
		return newError(CodeIllegalState, op, "device closed")
	}
	if !d.backend.IsImageRegistrationModeSupported(mode) {
		return newError(CodeUnsupportedMode, op, fmt.Sprintf("registration mode %s not supported", mode))
	}
	if err := d.backend.SetProperty(DevicePropImageRegistration, mode); err != nil {
		return backendError(op, err)
	}
	d.mu.Lock()
	d.registration = mode
	d.mu.Unlock()
	return nil
}

// DepthColorSyncEnabled reports the last value set.
func (d *Device) DepthColorSyncEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncEnabled
}

// SetDepthColorSyncEnabled turns depth/color frame synchronization on or
// off. How tightly frames align is up to the backend.
func (d *Device) SetDepthColorSyncEnabled(enabled bool) error {
	const op = "set depth color sync"
	if d.isClosed() {
		return newError(CodeIllegalState, op, "device closed")
	}
	if !d.backend.IsPropertySupported(DevicePropFrameSync) {
		return newError(CodeUnsupported, op, "device does not support frame sync")
	}
	if err := d.backend.SetProperty(DevicePropFrameSync, enabled); err != nil {
		return backendError(op, err)
	}
	d.mu.Lock()
	d.syncEnabled = enabled
	d.mu.Unlock()
	return nil
}

// GetProperty reads a device property.
func (d *Device) GetProperty(id PropertyID) (any, error) {
	if !d.backend.IsPropertySupported(id) {
		return nil, newError(CodeUnsupported, "get device property", fmt.Sprintf("device property %d not supported", id))
	}
	v, err := d.backend.GetProperty(id)
	if err != nil {
		return nil, backendError("get device property", err)
	}
	return v, nil
}

// SetProperty writes a device property.
func (d *Device) SetProperty(id PropertyID, value any) error {
	if !d.backend.IsPropertySupported(id) {
		return newError(CodeUnsupported, "set device property", fmt.Sprintf("device property %d not supported", id))
	}
	if err := d.backend.SetProperty(id, value); err != nil {
		return backendError("set device property", err)
	}
	return nil
}

// FirmwareVersion returns the firmware version string.
func (d *Device) FirmwareVersion() (string, error) {
	return getAs[string]("firmware version", DevicePropFirmwareVersion, d.GetProperty)
}

// SerialNumber returns the device serial number.
func (d *Device) SerialNumber() (string, error) {
	return getAs[string]("serial number", DevicePropSerialNumber, d.GetProperty)
}

// Playback returns the playback controls of a file device.
func (d *Device) Playback() (*PlaybackControl, error) {
	if !d.isFile {
		return nil, newError(CodeUnsupported, "playback", "device is not a recording")
	}
	return &PlaybackControl{dev: d}, nil
}

func (d *Device) trigger() {
	if t, ok := d.backend.(Triggerer); ok {
		t.Trigger()
	}
}

func (d *Device) streamStarted(s *Stream) {
	d.mu.Lock()
	d.started[s.sensor]++
	d.mu.Unlock()
}

func (d *Device) streamStopped(s *Stream) {
	d.mu.Lock()
	if d.started[s.sensor] > 0 {
		d.started[s.sensor]--
	}
	d.mu.Unlock()
}

// StartedStreams returns how many streams of sensor t are running.
func (d *Device) StartedStreams(t SensorType) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started[t]
}

func (d *Device) removeStream(s *Stream) {
	d.mu.Lock()
	delete(d.streams, s)
	d.mu.Unlock()
	_, _ = d.ctx.streams.Remove(s.id)
}
