package synthetic

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/depthnode/internal/sensor"
)

// Scheme prefixes every synthetic device URI.
const Scheme = "synthetic://"

// ModeProfile is one supported video mode.
type ModeProfile struct {
	Width  int    `toml:"width"`
	Height int    `toml:"height"`
	FPS    int    `toml:"fps"`
	Format string `toml:"format"`
}

// SensorProfile describes one sensor of a device. The first mode is the
// default.
type SensorProfile struct {
	Type  string        `toml:"type"`
	HFOV  float64       `toml:"hfov"`
	VFOV  float64       `toml:"vfov"`
	Modes []ModeProfile `toml:"modes"`
}

// DeviceProfile describes one synthetic device.
type DeviceProfile struct {
	URI      string          `toml:"uri"`
	Name     string          `toml:"name"`
	Vendor   string          `toml:"vendor"`
	Serial   string          `toml:"serial"`
	Firmware string          `toml:"firmware"`
	Sensors  []SensorProfile `toml:"sensors"`

	// Registration enables DEPTH_TO_COLOR registration. BaselineMM is the
	// distance between the depth and color optical centers.
	Registration bool    `toml:"registration"`
	FrameSync    bool    `toml:"frame_sync"`
	BaselineMM   float64 `toml:"baseline_mm"`
}

// Profile is the set of devices the driver reports.
type Profile struct {
	Devices []DeviceProfile `toml:"devices"`
}

const (
	defaultHFOV = 1.0226
	defaultVFOV = 0.7966
)

// DefaultProfile has a single depth, color and IR device.
func DefaultProfile() Profile {
	p := Profile{Devices: []DeviceProfile{{
		URI:  Scheme + "0",
		Name: "Synthetic Depth Camera",
		Sensors: []SensorProfile{
			{Type: "depth", Modes: []ModeProfile{
				{Width: 640, Height: 480, FPS: 30, Format: "DEPTH_1_MM"},
				{Width: 320, Height: 240, FPS: 30, Format: "DEPTH_1_MM"},
				{Width: 640, Height: 480, FPS: 30, Format: "DEPTH_100_UM"},
			}},
			{Type: "color", Modes: []ModeProfile{
				{Width: 640, Height: 480, FPS: 30, Format: "RGB888"},
				{Width: 320, Height: 240, FPS: 30, Format: "GRAY8"},
			}},
			{Type: "ir", Modes: []ModeProfile{
				{Width: 640, Height: 480, FPS: 30, Format: "GRAY16"},
			}},
		},
		Registration: true,
		FrameSync:    true,
		BaselineMM:   25,
	}}}
	if err := p.normalize(); err != nil {
		panic(err)
	}
	return p
}

// LoadProfile reads and validates a TOML profile.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := toml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("failed to parse profile: %w", err)
	}
	if err := p.normalize(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// normalize validates every device and fills defaults. Serial numbers
// default to a name-based UUID of the URI so they survive reloads.
func (p *Profile) normalize() error {
	seen := make(map[string]bool, len(p.Devices))
	for i := range p.Devices {
		d := &p.Devices[i]
		if !strings.HasPrefix(d.URI, Scheme) {
			return fmt.Errorf("device %d: uri %q must start with %s", i, d.URI, Scheme)
		}
		if seen[d.URI] {
			return fmt.Errorf("duplicate device %s", d.URI)
		}
		seen[d.URI] = true

		if d.Name == "" {
			d.Name = "Synthetic Device"
		}
		if d.Vendor == "" {
			d.Vendor = "depthnode"
		}
		if d.Firmware == "" {
			d.Firmware = "1.0.0"
		}
		if d.Serial == "" {
			d.Serial = uuid.NewSHA1(uuid.NameSpaceURL, []byte(d.URI)).String()
		}
		if len(d.Sensors) == 0 {
			return fmt.Errorf("device %s has no sensors", d.URI)
		}
		for j := range d.Sensors {
			if err := d.Sensors[j].normalize(); err != nil {
				return fmt.Errorf("device %s: %w", d.URI, err)
			}
		}
	}
	return nil
}

func (s *SensorProfile) normalize() error {
	t, err := sensor.ParseSensorType(s.Type)
	if err != nil {
		return err
	}
	if s.HFOV == 0 {
		s.HFOV = defaultHFOV
	}
	if s.VFOV == 0 {
		s.VFOV = defaultVFOV
	}
	if len(s.Modes) == 0 {
		return fmt.Errorf("%s sensor has no modes", t)
	}
	for _, m := range s.Modes {
		mode, err := m.videoMode()
		if err != nil {
			return err
		}
		if mode.PixelFormat.BytesPerPixel() == 0 {
			return fmt.Errorf("%s sensor: cannot generate %s frames", t, mode.PixelFormat)
		}
		if (t == sensor.SensorDepth) != mode.PixelFormat.IsDepth() {
			return fmt.Errorf("%s sensor cannot produce %s", t, mode.PixelFormat)
		}
	}
	return nil
}

func (m ModeProfile) videoMode() (sensor.VideoMode, error) {
	format, err := sensor.ParsePixelFormat(m.Format)
	if err != nil {
		return sensor.VideoMode{}, err
	}
	mode := sensor.VideoMode{ResolutionX: m.Width, ResolutionY: m.Height, FPS: m.FPS, PixelFormat: format}
	return mode, mode.Validate()
}

func (d DeviceProfile) info() sensor.DeviceInfo {
	return sensor.DeviceInfo{URI: d.URI, Name: d.Name, Vendor: d.Vendor}
}

// sensorInfos converts a normalized profile into sensor descriptions.
func (d DeviceProfile) sensorInfos() []sensor.SensorInfo {
	out := make([]sensor.SensorInfo, 0, len(d.Sensors))
	for _, s := range d.Sensors {
		t, _ := sensor.ParseSensorType(s.Type)
		si := sensor.SensorInfo{Type: t}
		for _, m := range s.Modes {
			mode, _ := m.videoMode()
			si.Modes = append(si.Modes, mode)
		}
		out = append(out, si)
	}
	return out
}

func (d DeviceProfile) sensor(t sensor.SensorType) (SensorProfile, error) {
	for _, s := range d.Sensors {
		if st, _ := sensor.ParseSensorType(s.Type); st == t {
			return s, nil
		}
	}
	return SensorProfile{}, errors.New("no " + strings.ToLower(t.String()) + " sensor")
}

func (p Profile) device(uri string) (DeviceProfile, bool) {
	for _, d := range p.Devices {
		if d.URI == uri {
			return d, true
		}
	}
	return DeviceProfile{}, false
}
