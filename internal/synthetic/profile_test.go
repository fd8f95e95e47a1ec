package synthetic

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smazurov/depthnode/internal/sensor"
)

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devices.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultProfile(t *testing.T) {
	p := DefaultProfile()
	if len(p.Devices) != 1 {
		t.Fatalf("expected one device, got %d", len(p.Devices))
	}
	d := p.Devices[0]
	if d.URI != "synthetic://0" {
		t.Errorf("URI = %s", d.URI)
	}
	infos := d.sensorInfos()
	if len(infos) != 3 {
		t.Fatalf("expected depth, color and ir sensors, got %d", len(infos))
	}
	if infos[0].Type != sensor.SensorDepth || infos[0].Modes[0].PixelFormat != sensor.PixelFormatDepth1MM {
		t.Errorf("unexpected first sensor %+v", infos[0])
	}
}

func TestLoadProfile(t *testing.T) {
	path := writeProfile(t, `
[[devices]]
uri = "synthetic://a"
name = "Bench"
registration = true

[[devices.sensors]]
type = "depth"
hfov = 1.2
modes = [{ width = 160, height = 120, fps = 10, format = "DEPTH_100_UM" }]

[[devices.sensors]]
type = "color"
modes = [{ width = 160, height = 120, fps = 10, format = "GRAY8" }]
`)

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}
	d := p.Devices[0]
	if d.Name != "Bench" || d.Vendor != "depthnode" || d.Firmware != "1.0.0" {
		t.Errorf("unexpected defaults %+v", d)
	}
	if d.Sensors[0].HFOV != 1.2 || d.Sensors[0].VFOV != defaultVFOV {
		t.Errorf("fov = %v/%v", d.Sensors[0].HFOV, d.Sensors[0].VFOV)
	}

	again, err := LoadProfile(path)
	if err != nil {
		t.Fatal(err)
	}
	if d.Serial == "" || again.Devices[0].Serial != d.Serial {
		t.Errorf("serial should be stable across loads: %q vs %q", d.Serial, again.Devices[0].Serial)
	}
}

func TestLoadProfileErrors(t *testing.T) {
	mode := `modes = [{ width = 160, height = 120, fps = 10, format = "DEPTH_1_MM" }]`
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad scheme", "[[devices]]\nuri = \"usb://1\"\n[[devices.sensors]]\ntype = \"depth\"\n" + mode, "must start with"},
		{"duplicate", "[[devices]]\nuri = \"synthetic://0\"\n[[devices.sensors]]\ntype = \"depth\"\n" + mode +
			"\n[[devices]]\nuri = \"synthetic://0\"\n[[devices.sensors]]\ntype = \"depth\"\n" + mode, "duplicate"},
		{"no sensors", "[[devices]]\nuri = \"synthetic://0\"\n", "no sensors"},
		{"no modes", "[[devices]]\nuri = \"synthetic://0\"\n[[devices.sensors]]\ntype = \"depth\"\n", "no modes"},
		{"depth format on color", "[[devices]]\nuri = \"synthetic://0\"\n[[devices.sensors]]\ntype = \"color\"\n" + mode, "cannot produce"},
		{"compressed", "[[devices]]\nuri = \"synthetic://0\"\n[[devices.sensors]]\ntype = \"color\"\n" +
			`modes = [{ width = 160, height = 120, fps = 10, format = "JPEG" }]`, "cannot generate"},
		{"invalid toml", "[[devices]\n", "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadProfile(writeProfile(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestDiffProfiles(t *testing.T) {
	dev := func(uri string) DeviceProfile { return DeviceProfile{URI: uri} }
	old := Profile{Devices: []DeviceProfile{dev("synthetic://0"), dev("synthetic://2")}}
	cur := Profile{Devices: []DeviceProfile{dev("synthetic://3"), dev("synthetic://0"), dev("synthetic://1")}}

	removed, added := diffProfiles(old, cur)
	if len(removed) != 1 || removed[0] != "synthetic://2" {
		t.Errorf("removed = %v", removed)
	}
	if len(added) != 2 || added[0].URI != "synthetic://1" || added[1].URI != "synthetic://3" {
		t.Errorf("added = %v", added)
	}
}

func TestFillMirrorAndCrop(t *testing.T) {
	p := pattern{
		format: sensor.PixelFormatGray8,
		fullW:  8,
		fullH:  4,
		area:   sensor.CropArea{OriginX: 2, OriginY: 1, Width: 3, Height: 2},
		index:  5,
	}
	data := make([]byte, 6)
	fill(data, p)
	if data[0] != byte(2+1+5) || data[5] != byte(4+2+5) {
		t.Errorf("cropped pixels = %v", data)
	}

	p.mirror = true
	fill(data, p)
	if data[0] != byte(5+1+5) {
		t.Errorf("mirrored first pixel = %d, want %d", data[0], 5+1+5)
	}
}
