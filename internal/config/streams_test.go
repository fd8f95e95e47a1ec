package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/smazurov/depthnode/internal/sensor"
)

func TestLoadStreams(t *testing.T) {
	path := writeConfig(t, `
version = 1

[recording]
folder = "/data/rec"
lossy = true

[streams.front_depth]
device = "synthetic://0"
sensor = "depth"
width = 320
height = 240
fps = 60
format = "DEPTH_100_UM"
record = true

[streams.front_color]
device = "synthetic://0"
sensor = "color"
mirroring = true

[streams.spare]
device = "synthetic://1"
sensor = "ir"
enabled = false
`)

	cfg, err := LoadStreams(path)
	if err != nil {
		t.Fatalf("LoadStreams failed: %v", err)
	}

	if cfg.Recording.Folder != "/data/rec" || !cfg.Recording.Lossy {
		t.Errorf("Recording = %+v", cfg.Recording)
	}

	enabled := cfg.EnabledStreams()
	if len(enabled) != 2 {
		t.Fatalf("expected 2 enabled streams, got %d", len(enabled))
	}
	if enabled[0].ID != "front_color" || enabled[1].ID != "front_depth" {
		t.Errorf("unexpected order %s, %s", enabled[0].ID, enabled[1].ID)
	}

	depth := enabled[1]
	st, err := depth.SensorType()
	if err != nil || st != sensor.SensorDepth {
		t.Errorf("SensorType = %v, %v", st, err)
	}
	mode, ok, err := depth.VideoMode()
	if err != nil || !ok {
		t.Fatalf("VideoMode ok=%v err=%v", ok, err)
	}
	want := sensor.VideoMode{ResolutionX: 320, ResolutionY: 240, FPS: 60, PixelFormat: sensor.PixelFormatDepth100UM}
	if mode != want {
		t.Errorf("mode = %v, want %v", mode, want)
	}

	if _, ok, _ := enabled[0].VideoMode(); ok {
		t.Error("color stream has no explicit mode")
	}
	if !enabled[0].Mirroring {
		t.Error("color stream should be mirrored")
	}
}

func TestLoadStreamsMissingFile(t *testing.T) {
	cfg, err := LoadStreams(filepath.Join(t.TempDir(), "streams.toml"))
	if err != nil {
		t.Fatalf("LoadStreams failed: %v", err)
	}
	if len(cfg.Streams) != 0 || cfg.Version != 1 || cfg.Recording.Folder != "recordings" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestLoadStreamsValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"missing device", "[streams.a]\nsensor = \"depth\"\n", "device cannot be empty"},
		{"bad sensor", "[streams.a]\ndevice = \"x\"\nsensor = \"thermal\"\n", "thermal"},
		{"bad format", "[streams.a]\ndevice = \"x\"\nsensor = \"depth\"\nwidth = 1\nheight = 1\nfps = 1\nformat = \"H264\"\n", "H264"},
		{"partial mode", "[streams.a]\ndevice = \"x\"\nsensor = \"depth\"\nwidth = 640\nformat = \"DEPTH_1_MM\"\n", "invalid video mode"},
		{"invalid toml", "[streams.a\n", "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadStreams(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
