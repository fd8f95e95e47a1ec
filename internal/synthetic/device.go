package synthetic

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/smazurov/depthnode/internal/sensor"
	"github.com/smazurov/depthnode/internal/version"
)

var errUnplugged = errors.New("device disconnected")

// Device is an open synthetic device. All its streams share one clock, so
// with frame sync enabled streams of equal fps produce equal indexes and
// timestamps.
type Device struct {
	drv     *Driver
	profile DeviceProfile
	sensors []sensor.SensorInfo
	epoch   time.Time

	mu           sync.Mutex
	registration sensor.ImageRegistrationMode
	frameSync    bool
	streams      map[sensor.SensorType][]*Stream
	unplugged    bool
	closed       bool
}

func newDevice(drv *Driver, p DeviceProfile) *Device {
	return &Device{
		drv:     drv,
		profile: p,
		sensors: p.sensorInfos(),
		epoch:   time.Now(),
		streams: make(map[sensor.SensorType][]*Stream),
	}
}

func (d *Device) Info() sensor.DeviceInfo { return d.profile.info() }

func (d *Device) Sensors() []sensor.SensorInfo { return d.sensors }

func (d *Device) CreateStream(t sensor.SensorType) (sensor.StreamBackend, error) {
	sp, err := d.profile.sensor(t)
	if err != nil {
		return nil, err
	}
	var info sensor.SensorInfo
	for _, si := range d.sensors {
		if si.Type == t {
			info = si
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.unplugged {
		return nil, errUnplugged
	}
	s := newStream(d, t, sp, info.Modes[0])
	d.streams[t] = append(d.streams[t], s)
	return s, nil
}

func (d *Device) removeStream(s *Stream) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.streams[s.sensorType]
	for i, o := range list {
		if o == s {
			d.streams[s.sensorType] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// syncEnabled reports whether streams share tick phase.
func (d *Device) syncEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frameSync
}

func (d *Device) usable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.unplugged {
		return errUnplugged
	}
	return nil
}

func (d *Device) IsPropertySupported(id sensor.PropertyID) bool {
	switch id {
	case sensor.DevicePropFirmwareVersion, sensor.DevicePropDriverVersion,
		sensor.DevicePropHardwareVersion, sensor.DevicePropSerialNumber,
		sensor.DevicePropErrorState:
		return true
	case sensor.DevicePropImageRegistration:
		return d.profile.Registration
	case sensor.DevicePropFrameSync:
		return d.profile.FrameSync
	}
	return false
}

func (d *Device) GetProperty(id sensor.PropertyID) (any, error) {
	if !d.IsPropertySupported(id) {
		return nil, fmt.Errorf("device property %d not supported", id)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch id {
	case sensor.DevicePropFirmwareVersion:
		return d.profile.Firmware, nil
	case sensor.DevicePropDriverVersion:
		return version.Version, nil
	case sensor.DevicePropHardwareVersion:
		return "synthetic", nil
	case sensor.DevicePropSerialNumber:
		return d.profile.Serial, nil
	case sensor.DevicePropErrorState:
		if d.unplugged {
			return sensor.DeviceStateError, nil
		}
		return sensor.DeviceStateOK, nil
	case sensor.DevicePropImageRegistration:
		return d.registration, nil
	default:
		return d.frameSync, nil
	}
}

func (d *Device) SetProperty(id sensor.PropertyID, value any) error {
	if !d.IsPropertySupported(id) {
		return fmt.Errorf("device property %d not supported", id)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch id {
	case sensor.DevicePropImageRegistration:
		mode, ok := value.(sensor.ImageRegistrationMode)
		if !ok {
			return fmt.Errorf("registration mode has type %T", value)
		}
		d.registration = mode
	case sensor.DevicePropFrameSync:
		enabled, ok := value.(bool)
		if !ok {
			return fmt.Errorf("frame sync has type %T", value)
		}
		d.frameSync = enabled
	default:
		return fmt.Errorf("device property %d is read-only", id)
	}
	return nil
}

func (d *Device) IsCommandSupported(sensor.CommandID) bool { return false }

func (d *Device) Invoke(cmd sensor.CommandID, _ any) error {
	return fmt.Errorf("command %d not supported", cmd)
}

func (d *Device) IsImageRegistrationModeSupported(mode sensor.ImageRegistrationMode) bool {
	return mode == sensor.RegistrationOff || (mode == sensor.RegistrationDepthToColor && d.profile.Registration)
}

// ConvertDepthToColor scales a depth pixel to the color resolution and
// shifts it by the stereo disparity of BaselineMM at depth z.
func (d *Device) ConvertDepthToColor(depthX, depthY int, depthZ uint16) (int, int, error) {
	depthMode, _, ok := d.currentMode(sensor.SensorDepth)
	if !ok {
		return 0, 0, errors.New("device has no depth sensor")
	}
	colorMode, colorHFOV, ok := d.currentMode(sensor.SensorColor)
	if !ok {
		return 0, 0, errors.New("device has no color sensor")
	}
	if depthX < 0 || depthY < 0 || depthX >= depthMode.ResolutionX || depthY >= depthMode.ResolutionY {
		return 0, 0, fmt.Errorf("depth pixel (%d,%d) outside %dx%d", depthX, depthY, depthMode.ResolutionX, depthMode.ResolutionY)
	}

	x := float64(depthX) * float64(colorMode.ResolutionX) / float64(depthMode.ResolutionX)
	y := float64(depthY) * float64(colorMode.ResolutionY) / float64(depthMode.ResolutionY)

	zMM := float64(depthZ)
	if depthMode.PixelFormat == sensor.PixelFormatDepth100UM {
		zMM /= 10
	}
	if zMM > 0 && d.profile.BaselineMM > 0 {
		focal := float64(colorMode.ResolutionX) / (2 * math.Tan(colorHFOV/2))
		x -= d.profile.BaselineMM * focal / zMM
	}

	cx, cy := int(math.Round(x)), int(math.Round(y))
	if cx < 0 || cx >= colorMode.ResolutionX || cy >= colorMode.ResolutionY {
		return 0, 0, fmt.Errorf("depth pixel (%d,%d) at z=%d maps outside the color image", depthX, depthY, depthZ)
	}
	return cx, cy, nil
}

// currentMode returns the mode of the most recent stream of t, or the
// sensor's default mode.
func (d *Device) currentMode(t sensor.SensorType) (sensor.VideoMode, float64, bool) {
	sp, err := d.profile.sensor(t)
	if err != nil {
		return sensor.VideoMode{}, 0, false
	}
	d.mu.Lock()
	list := d.streams[t]
	var last *Stream
	if len(list) > 0 {
		last = list[len(list)-1]
	}
	d.mu.Unlock()
	if last != nil {
		mode, hfov := last.modeAndFOV()
		return mode, hfov, true
	}
	mode, _ := sp.Modes[0].videoMode()
	return mode, sp.HFOV, true
}

// unplug fails every started stream after the device left the profile.
func (d *Device) unplug() {
	d.mu.Lock()
	if d.unplugged {
		d.mu.Unlock()
		return
	}
	d.unplugged = true
	var all []*Stream
	for _, list := range d.streams {
		all = append(all, list...)
	}
	d.mu.Unlock()

	for _, s := range all {
		s.halt(errUnplugged)
	}
}

func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	var all []*Stream
	for _, list := range d.streams {
		all = append(all, list...)
	}
	d.mu.Unlock()

	for _, s := range all {
		s.Stop()
	}
	d.drv.closed(d)
	return nil
}
