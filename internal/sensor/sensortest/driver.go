// Package sensortest provides an in-memory driver whose streams deliver
// frames pushed by a test.
package sensortest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/smazurov/depthnode/internal/sensor"
)

// Driver serves a fixed set of Devices keyed by URI.
type Driver struct {
	mu      sync.Mutex
	devices map[string]*Device
}

// NewDriver returns a driver serving devs.
func NewDriver(devs ...*Device) *Driver {
	d := &Driver{devices: make(map[string]*Device)}
	for _, dev := range devs {
		d.Add(dev)
	}
	return d
}

// Add registers dev.
func (d *Driver) Add(dev *Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[dev.URI] = dev
}

func (d *Driver) Name() string { return "test" }

func (d *Driver) Enumerate(context.Context) ([]sensor.DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	uris := make([]string, 0, len(d.devices))
	for uri := range d.devices {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	out := make([]sensor.DeviceInfo, 0, len(uris))
	for _, uri := range uris {
		out = append(out, d.devices[uri].Info())
	}
	return out, nil
}

func (d *Driver) Probe(uri string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.devices[uri]
	return ok
}

func (d *Driver) Open(_ context.Context, uri string) (sensor.DeviceBackend, error) {
	d.mu.Lock()
	dev, ok := d.devices[uri]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown device %q", uri)
	}
	if dev.OpenErr != nil {
		return nil, dev.OpenErr
	}
	return dev, nil
}

// Device is a scripted device backend.
type Device struct {
	URI        string
	SensorList []sensor.SensorInfo
	// Registration lists supported registration modes besides OFF.
	Registration []sensor.ImageRegistrationMode
	FrameSync    bool
	OpenErr      error
	StartErr     error
	File         bool

	Triggers atomic.Int64

	mu      sync.Mutex
	closed  bool
	props   map[sensor.PropertyID]any
	streams map[sensor.SensorType]*Stream
}

// NewDepthColorDevice returns a device with one depth and one color sensor,
// each offering two modes.
func NewDepthColorDevice(uri string) *Device {
	return &Device{
		URI:        uri,
		SensorList: []sensor.SensorInfo{
			{Type: sensor.SensorDepth, Modes: []sensor.VideoMode{
				{ResolutionX: 640, ResolutionY: 480, FPS: 30, PixelFormat: sensor.PixelFormatDepth1MM},
				{ResolutionX: 320, ResolutionY: 240, FPS: 60, PixelFormat: sensor.PixelFormatDepth100UM},
			}},
			{Type: sensor.SensorColor, Modes: []sensor.VideoMode{
				{ResolutionX: 640, ResolutionY: 480, FPS: 30, PixelFormat: sensor.PixelFormatRGB888},
				{ResolutionX: 320, ResolutionY: 240, FPS: 30, PixelFormat: sensor.PixelFormatGray8},
			}},
		},
		Registration: []sensor.ImageRegistrationMode{sensor.RegistrationDepthToColor},
		FrameSync:    true,
	}
}

// Stream returns the backend of the last stream created for t.
func (d *Device) Stream(t sensor.SensorType) *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[t]
}

// Closed reports whether the device backend was closed.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Device) Info() sensor.DeviceInfo {
	return sensor.DeviceInfo{URI: d.URI, Name: "Test Device", Vendor: "test"}
}

func (d *Device) Sensors() []sensor.SensorInfo { return d.SensorList }

func (d *Device) CreateStream(t sensor.SensorType) (sensor.StreamBackend, error) {
	for _, si := range d.SensorList {
		if si.Type != t {
			continue
		}
		s := &Stream{
			dev:  d,
			mode: si.Modes[0],
			props: map[sensor.PropertyID]any{
				sensor.StreamPropHFOV:     1.0226,
				sensor.StreamPropVFOV:     0.7966,
				sensor.StreamPropMaxValue: 10000,
				sensor.StreamPropMinValue: 0,
				sensor.StreamPropCropping: sensor.Cropping{},
			},
		}
		d.mu.Lock()
		if d.streams == nil {
			d.streams = make(map[sensor.SensorType]*Stream)
		}
		d.streams[t] = s
		d.mu.Unlock()
		return s, nil
	}
	return nil, fmt.Errorf("no %s sensor", t)
}

func (d *Device) IsPropertySupported(id sensor.PropertyID) bool {
	switch id {
	case sensor.DevicePropImageRegistration, sensor.DevicePropSerialNumber, sensor.DevicePropFirmwareVersion:
		return true
	case sensor.DevicePropFrameSync:
		return d.FrameSync
	}
	return false
}

func (d *Device) GetProperty(id sensor.PropertyID) (any, error) {
	switch id {
	case sensor.DevicePropSerialNumber:
		return "TEST-0001", nil
	case sensor.DevicePropFirmwareVersion:
		return "1.0.0", nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.props[id]
	if !ok {
		return nil, fmt.Errorf("property %d not set", id)
	}
	return v, nil
}

func (d *Device) SetProperty(id sensor.PropertyID, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.props == nil {
		d.props = make(map[sensor.PropertyID]any)
	}
	d.props[id] = value
	return nil
}

// Property returns a value previously set through SetProperty.
func (d *Device) Property(id sensor.PropertyID) any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.props[id]
}

func (d *Device) IsCommandSupported(sensor.CommandID) bool { return false }

func (d *Device) Invoke(sensor.CommandID, any) error {
	return errors.New("no commands")
}

func (d *Device) IsImageRegistrationModeSupported(mode sensor.ImageRegistrationMode) bool {
	if mode == sensor.RegistrationOff {
		return true
	}
	for _, m := range d.Registration {
		if m == mode {
			return true
		}
	}
	return false
}

func (d *Device) IsFile() bool { return d.File }

// Trigger counts on-demand frame requests.
func (d *Device) Trigger() { d.Triggers.Add(1) }

// ConvertDepthToColor shifts depth pixels 10 columns right.
func (d *Device) ConvertDepthToColor(x, y int, _ uint16) (int, int, error) {
	return x + 10, y, nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Stream is a stream backend fed by Push.
type Stream struct {
	dev *Device

	mu      sync.Mutex
	mode    sensor.VideoMode
	sink    sensor.FrameSink
	started bool
	closed  bool
	props   map[sensor.PropertyID]any
}

func (s *Stream) VideoMode() sensor.VideoMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Stream) SetVideoMode(mode sensor.VideoMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	return nil
}

func (s *Stream) Start(sink sensor.FrameSink) error {
	if s.dev.StartErr != nil {
		return s.dev.StartErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
	s.started = true
	return nil
}

func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	s.sink = nil
}

func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Started reports whether the backend is producing.
func (s *Stream) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Stream) IsPropertySupported(id sensor.PropertyID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.props[id]
	return ok
}

func (s *Stream) GetProperty(id sensor.PropertyID) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.props[id]
	if !ok {
		return nil, fmt.Errorf("property %d not supported", id)
	}
	return v, nil
}

func (s *Stream) SetProperty(id sensor.PropertyID, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.props[id] = value
	return nil
}

// SetProperties adds or replaces stream properties.
func (s *Stream) SetProperties(props map[sensor.PropertyID]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.props, props)
}

// Push delivers a frame with the given index, timestamp and payload. It
// returns false when the stream is not started.
func (s *Stream) Push(index int64, timestamp uint64, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return false
	}
	f := s.sink.Allocate(len(data))
	buf, err := f.Data()
	if err != nil {
		f.Release()
		return false
	}
	copy(buf, data)
	s.sink.Deliver(f, sensor.FrameInfo{
		Index:           index,
		TimestampMicros: timestamp,
		Width:           s.mode.ResolutionX,
		Height:          s.mode.ResolutionY,
		Stride:          s.mode.ResolutionX * s.mode.PixelFormat.BytesPerPixel(),
		VideoMode:       s.mode,
	})
	return true
}

// Fail reports err to the stream.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink != nil {
		s.sink.Fail(err)
	}
}

// Rewind makes the stream accept lower indexes again.
func (s *Stream) Rewind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink != nil {
		s.sink.Reset()
	}
}
