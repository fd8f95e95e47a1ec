package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/depthnode/internal/sensor"
)

// StreamConfig describes one stream the daemon opens at startup.
type StreamConfig struct {
	ID      string `toml:"-" json:"id"`
	Device  string `toml:"device" json:"device"`
	Sensor  string `toml:"sensor" json:"sensor"`
	Enabled *bool  `toml:"enabled,omitempty" json:"enabled,omitempty"`

	// Mode fields are all-or-nothing; left empty the sensor's first mode
	// is used.
	Width  int    `toml:"width,omitempty" json:"width,omitempty"`
	Height int    `toml:"height,omitempty" json:"height,omitempty"`
	FPS    int    `toml:"fps,omitempty" json:"fps,omitempty"`
	Format string `toml:"format,omitempty" json:"format,omitempty"`

	Mirroring bool `toml:"mirroring,omitempty" json:"mirroring,omitempty"`
	Record    bool `toml:"record,omitempty" json:"record,omitempty"`
}

// IsEnabled defaults to true when the key is absent.
func (s StreamConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// SensorType parses the sensor name.
func (s StreamConfig) SensorType() (sensor.SensorType, error) {
	return sensor.ParseSensorType(s.Sensor)
}

// VideoMode returns the configured mode. ok is false when no mode is set.
func (s StreamConfig) VideoMode() (mode sensor.VideoMode, ok bool, err error) {
	if s.Width == 0 && s.Height == 0 && s.FPS == 0 && s.Format == "" {
		return sensor.VideoMode{}, false, nil
	}
	format, err := sensor.ParsePixelFormat(s.Format)
	if err != nil {
		return sensor.VideoMode{}, false, err
	}
	mode = sensor.VideoMode{ResolutionX: s.Width, ResolutionY: s.Height, FPS: s.FPS, PixelFormat: format}
	if err := mode.Validate(); err != nil {
		return sensor.VideoMode{}, false, err
	}
	return mode, true, nil
}

// Validate checks the device, sensor and optional mode.
func (s StreamConfig) Validate() error {
	if s.Device == "" {
		return errors.New("device cannot be empty")
	}
	if _, err := s.SensorType(); err != nil {
		return err
	}
	_, _, err := s.VideoMode()
	return err
}

// RecordingConfig controls the daemon's continuous recording.
type RecordingConfig struct {
	Folder string `toml:"folder" json:"folder"`
	Lossy  bool   `toml:"lossy" json:"lossy"`
}

// StreamsConfig represents the complete streams configuration file.
type StreamsConfig struct {
	Version   int                     `toml:"version" json:"version"`
	Streams   map[string]StreamConfig `toml:"streams" json:"streams"`
	Recording RecordingConfig         `toml:"recording" json:"recording"`
}

// LoadStreams reads the streams file at path. A missing file yields an
// empty config.
func LoadStreams(path string) (*StreamsConfig, error) {
	cfg := &StreamsConfig{
		Version:   1,
		Streams:   make(map[string]StreamConfig),
		Recording: RecordingConfig{Folder: "recordings"},
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read streams config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse streams config: %w", err)
	}

	if cfg.Streams == nil {
		cfg.Streams = make(map[string]StreamConfig)
	}
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	for id, stream := range cfg.Streams {
		stream.ID = id
		if err := stream.Validate(); err != nil {
			return nil, fmt.Errorf("stream %s: %w", id, err)
		}
		cfg.Streams[id] = stream
	}
	return cfg, nil
}

// EnabledStreams returns the enabled streams ordered by ID.
func (c *StreamsConfig) EnabledStreams() []StreamConfig {
	out := make([]StreamConfig, 0, len(c.Streams))
	for _, stream := range c.Streams {
		if stream.IsEnabled() {
			out = append(out, stream)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
