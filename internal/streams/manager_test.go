package streams

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/smazurov/depthnode/internal/config"
	"github.com/smazurov/depthnode/internal/recording"
	"github.com/smazurov/depthnode/internal/sensor"
	"github.com/smazurov/depthnode/internal/sensor/sensortest"
)

func newTestManager(t *testing.T, cfg *config.StreamsConfig) (*Manager, *sensortest.Device) {
	t.Helper()
	backend := sensortest.NewDepthColorDevice("test://streams")
	sctx, err := sensor.New(sensor.Options{Drivers: []sensor.Driver{sensortest.NewDriver(backend)}})
	if err != nil {
		t.Fatalf("sensor.New: %v", err)
	}
	t.Cleanup(sctx.Shutdown)
	m := NewManager(sctx, cfg)
	t.Cleanup(m.StopAll)
	return m, backend
}

func streamsConfig(folder string, streams ...config.StreamConfig) *config.StreamsConfig {
	cfg := &config.StreamsConfig{
		Version:   1,
		Streams:   make(map[string]config.StreamConfig),
		Recording: config.RecordingConfig{Folder: folder},
	}
	for _, s := range streams {
		cfg.Streams[s.ID] = s
	}
	return cfg
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManager_ConsumesFrames(t *testing.T) {
	cfg := streamsConfig(t.TempDir(),
		config.StreamConfig{ID: "depth", Device: "test://streams", Sensor: "depth",
			Width: 320, Height: 240, FPS: 60, Format: "DEPTH_100_UM"},
	)
	m, backend := newTestManager(t, cfg)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	info, err := m.Status("depth")
	if err != nil {
		t.Fatal(err)
	}
	if info.State != ConsumerStateRunning || info.Sensor != "DEPTH" || info.Handle == 0 {
		t.Fatalf("status = %+v", info)
	}

	depth := backend.Stream(sensor.SensorDepth)
	if depth.VideoMode().ResolutionX != 320 {
		t.Errorf("mode = %v, want 320x240", depth.VideoMode())
	}
	payload := make([]byte, depth.VideoMode().FrameSize())
	center := (120*320 + 160) * 2
	payload[center] = 0x34
	payload[center+1] = 0x12

	for i := int64(1); i <= 3; i++ {
		depth.Push(i, uint64(i)*1000, payload)
		waitFor(t, "frame consumed", func() bool {
			s, _ := m.Status("depth")
			return s.LastIndex == i
		})
	}

	info, _ = m.Status("depth")
	if info.Frames != 3 {
		t.Errorf("frames = %d, want 3", info.Frames)
	}
	if info.CenterValue != 0x1234 {
		t.Errorf("center = %#x, want 0x1234", info.CenterValue)
	}
}

func TestManager_FailedStreamDoesNotBlockOthers(t *testing.T) {
	cfg := streamsConfig(t.TempDir(),
		config.StreamConfig{ID: "a-missing", Device: "test://absent", Sensor: "depth"},
		config.StreamConfig{ID: "b-color", Device: "test://streams", Sensor: "color"},
	)
	m, _ := newTestManager(t, cfg)

	err := m.StartAll(context.Background())
	var serr *StreamError
	if !errors.As(err, &serr) || serr.Code != ErrCodeDeviceError {
		t.Fatalf("StartAll error = %v, want %s", err, ErrCodeDeviceError)
	}

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("list = %+v", list)
	}
	if list[0].StreamID != "a-missing" || list[0].State != ConsumerStateError || list[0].LastError == "" {
		t.Errorf("missing stream = %+v", list[0])
	}
	if list[1].State != ConsumerStateRunning {
		t.Errorf("color stream = %+v", list[1])
	}

	if _, err := m.Status("nope"); !errors.As(err, &serr) || serr.Code != ErrCodeStreamNotFound {
		t.Errorf("Status(nope) = %v", err)
	}
}

func TestManager_DisabledStreamsAreSkipped(t *testing.T) {
	off := false
	cfg := streamsConfig(t.TempDir(),
		config.StreamConfig{ID: "depth", Device: "test://streams", Sensor: "depth", Enabled: &off},
	)
	m, _ := newTestManager(t, cfg)
	if err := m.StartAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := m.List(); len(got) != 0 {
		t.Errorf("list = %+v, want empty", got)
	}
}

func TestManager_StartTwice(t *testing.T) {
	m, _ := newTestManager(t, streamsConfig(t.TempDir()))
	if err := m.StartAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	var serr *StreamError
	if err := m.StartAll(context.Background()); !errors.As(err, &serr) || serr.Code != ErrCodeStreamExists {
		t.Errorf("second StartAll = %v", err)
	}
}

func TestManager_RecordsAndFinalizesOnStop(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "rec")
	cfg := streamsConfig(folder,
		config.StreamConfig{ID: "depth", Device: "test://streams", Sensor: "depth", Record: true},
	)
	m, backend := newTestManager(t, cfg)
	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	recs := m.Recorders()
	if len(recs) != 1 || recs[0].State() != recording.StateRecording {
		t.Fatalf("recorders = %v", recs)
	}
	path := recs[0].Path()
	if filepath.Dir(path) != folder {
		t.Errorf("recording %s not in %s", path, folder)
	}

	depth := backend.Stream(sensor.SensorDepth)
	payload := make([]byte, depth.VideoMode().FrameSize())
	for i := int64(1); i <= 2; i++ {
		depth.Push(i, uint64(i)*33000, payload)
		waitFor(t, "frame consumed", func() bool {
			s, _ := m.Status("depth")
			return s.LastIndex == i
		})
	}

	m.StopAll()
	if recs[0].State() != recording.StateDestroyed {
		t.Errorf("recorder state = %s, want destroyed", recs[0].State())
	}
	if info, _ := m.Status("depth"); info.State != ConsumerStateIdle {
		t.Errorf("state after stop = %s", info.State)
	}

	f, err := recording.Open(path)
	if err != nil {
		t.Fatalf("Open recording: %v", err)
	}
	defer f.Close()
	if n := f.Nodes()[0].NumFrames(); n != 2 {
		t.Errorf("recorded %d frames, want 2", n)
	}
}
