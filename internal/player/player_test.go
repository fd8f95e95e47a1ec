package player_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smazurov/depthnode/internal/events"
	"github.com/smazurov/depthnode/internal/player"
	"github.com/smazurov/depthnode/internal/recording"
	"github.com/smazurov/depthnode/internal/sensor"
	"github.com/smazurov/depthnode/internal/sensor/sensortest"
)

var (
	depthMode = sensor.VideoMode{ResolutionX: 8, ResolutionY: 4, FPS: 30, PixelFormat: sensor.PixelFormatDepth1MM}
	colorMode = sensor.VideoMode{ResolutionX: 8, ResolutionY: 4, FPS: 30, PixelFormat: sensor.PixelFormatRGB888}
)

// writeFile records n depth and n color frames, period apart, color 1ms
// after depth.
func writeFile(t *testing.T, n int, period time.Duration) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "play.dnr")
	w, err := recording.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteDeviceInfo(sensor.DeviceInfo{URI: "synthetic://0", Name: "Synthetic", Vendor: "depthnode"}); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteProperty(recording.DeviceNode, recording.Property{ID: sensor.DevicePropImageRegistration, Value: sensor.RegistrationDepthToColor}); err != nil {
		t.Fatal(err)
	}
	if err := w.AddNode(1, sensor.SensorDepth, depthMode); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteProperty(1, recording.Property{ID: sensor.StreamPropHFOV, Value: 1.0}); err != nil {
		t.Fatal(err)
	}
	if err := w.AddNode(2, sensor.SensorColor, colorMode); err != nil {
		t.Fatal(err)
	}
	step := uint64(period / time.Microsecond)
	for i := 1; i <= n; i++ {
		ts := uint64(i) * step
		for _, node := range []struct {
			id   uint32
			mode sensor.VideoMode
			ts   uint64
		}{{1, depthMode, ts}, {2, colorMode, ts + 1000}} {
			data := make([]byte, node.mode.FrameSize())
			data[0] = byte(i)
			info := sensor.FrameInfo{
				Index:           int64(100 + i),
				TimestampMicros: node.ts,
				Width:           node.mode.ResolutionX,
				Height:          node.mode.ResolutionY,
				Stride:          node.mode.ResolutionX * node.mode.PixelFormat.BytesPerPixel(),
				VideoMode:       node.mode,
			}
			if _, err := w.WriteFrame(node.id, info, data, recording.CodecZstd); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

type fixture struct {
	bus *events.Bus
	dev *sensor.Device
	pc  *sensor.PlaybackControl
}

func openFile(t *testing.T, path string) *fixture {
	t.Helper()
	bus := events.New()
	sctx, err := sensor.New(sensor.Options{
		Drivers: []sensor.Driver{player.NewDriver(player.WithBus(bus))},
		Bus:     bus,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sctx.Shutdown)

	dev, err := sctx.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	pc, err := dev.Playback()
	if err != nil {
		t.Fatalf("Playback: %v", err)
	}
	return &fixture{bus: bus, dev: dev, pc: pc}
}

func (fx *fixture) stream(t *testing.T, st sensor.SensorType) *sensor.Stream {
	t.Helper()
	s, err := fx.dev.CreateStream(st)
	if err != nil {
		t.Fatalf("CreateStream(%s): %v", st, err)
	}
	t.Cleanup(s.Destroy)
	return s
}

func readIndex(t *testing.T, s *sensor.Stream) (int64, byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f, err := s.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	defer f.Release()
	info, err := f.Info()
	if err != nil {
		t.Fatal(err)
	}
	data, err := f.Data()
	if err != nil {
		t.Fatal(err)
	}
	return info.Index, data[0]
}

func TestPlayer_OpensRecording(t *testing.T) {
	fx := openFile(t, writeFile(t, 5, 33*time.Millisecond))

	if !fx.dev.IsFile() {
		t.Error("IsFile = false")
	}
	if !fx.dev.HasSensor(sensor.SensorDepth) || !fx.dev.HasSensor(sensor.SensorColor) || fx.dev.HasSensor(sensor.SensorIR) {
		t.Errorf("sensors = %v", fx.dev.Sensors())
	}
	if fx.dev.Info().Name != "Synthetic" {
		t.Errorf("name = %q", fx.dev.Info().Name)
	}
	if speed, err := fx.pc.Speed(); err != nil || speed != 1.0 {
		t.Errorf("Speed = %v, %v; want 1", speed, err)
	}
	if repeat, err := fx.pc.RepeatEnabled(); err != nil || !repeat {
		t.Errorf("RepeatEnabled = %v, %v; want true", repeat, err)
	}
	if !fx.dev.IsImageRegistrationModeSupported(sensor.RegistrationDepthToColor) {
		t.Error("recorded registration mode should be supported")
	}

	depth := fx.stream(t, sensor.SensorDepth)
	if n, err := fx.pc.NumberOfFrames(depth); err != nil || n != 5 {
		t.Errorf("NumberOfFrames = %d, %v; want 5", n, err)
	}
	if hfov, err := depth.HorizontalFOV(); err != nil || hfov != 1.0 {
		t.Errorf("HFOV = %v, %v", hfov, err)
	}
	if depth.VideoMode() != depthMode {
		t.Errorf("mode = %s", depth.VideoMode())
	}
	if err := depth.SetVideoMode(sensor.VideoMode{ResolutionX: 640, ResolutionY: 480, FPS: 30, PixelFormat: sensor.PixelFormatDepth1MM}); err == nil {
		t.Error("expected error changing the recorded mode")
	}
	if err := fx.pc.SetSpeed(-2); !errors.Is(err, sensor.ErrInvalidArgument) {
		t.Errorf("SetSpeed(-2) = %v, want ErrInvalidArgument", err)
	}
}

func TestPlayer_ManualStepThrough(t *testing.T) {
	fx := openFile(t, writeFile(t, 5, 33*time.Millisecond))
	ended := make(chan any, 1)
	unsub := events.SubscribeToChannel[events.PlaybackEndedEvent](fx.bus, ended)
	defer unsub()

	if err := fx.pc.SetSpeed(sensor.SpeedManual); err != nil {
		t.Fatal(err)
	}
	if err := fx.pc.SetRepeatEnabled(false); err != nil {
		t.Fatal(err)
	}
	depth := fx.stream(t, sensor.SensorDepth)
	if err := depth.Start(); err != nil {
		t.Fatal(err)
	}

	for want := int64(1); want <= 5; want++ {
		idx, first := readIndex(t, depth)
		if idx != want || int64(first) != want {
			t.Fatalf("frame = index %d data %d, want %d", idx, first, want)
		}
	}

	select {
	case <-ended:
	case <-time.After(5 * time.Second):
		t.Fatal("no end-of-file event")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := depth.ReadFrame(ctx); !errors.Is(err, sensor.ErrTimeout) {
		t.Errorf("read past the end = %v, want ErrTimeout", err)
	}
}

func TestPlayer_Repeat(t *testing.T) {
	fx := openFile(t, writeFile(t, 3, 33*time.Millisecond))
	if err := fx.pc.SetSpeed(sensor.SpeedManual); err != nil {
		t.Fatal(err)
	}
	depth := fx.stream(t, sensor.SensorDepth)
	if err := depth.Start(); err != nil {
		t.Fatal(err)
	}

	var got []int64
	for range 7 {
		idx, _ := readIndex(t, depth)
		got = append(got, idx)
	}
	want := []int64{1, 2, 3, 1, 2, 3, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("indexes = %v, want %v", got, want)
		}
	}
}

func TestPlayer_Seek(t *testing.T) {
	fx := openFile(t, writeFile(t, 5, 33*time.Millisecond))
	if err := fx.pc.SetSpeed(sensor.SpeedManual); err != nil {
		t.Fatal(err)
	}
	depth := fx.stream(t, sensor.SensorDepth)
	color := fx.stream(t, sensor.SensorColor)
	if err := depth.Start(); err != nil {
		t.Fatal(err)
	}

	if idx, _ := readIndex(t, depth); idx != 1 {
		t.Fatalf("first index = %d", idx)
	}
	if err := fx.pc.Seek(depth, 4); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if idx, data := readIndex(t, depth); idx != 4 || data != 4 {
		t.Errorf("after seek: index %d data %d, want 4", idx, data)
	}

	// seeking backwards resets the index baseline
	if err := fx.pc.Seek(depth, 2); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if idx, _ := readIndex(t, depth); idx != 2 {
		t.Errorf("after backward seek: index %d, want 2", idx)
	}

	// seeking through a stream that is not started moves the whole device
	if err := fx.pc.Seek(color, 5); err != nil {
		t.Fatalf("Seek(color): %v", err)
	}
	if idx, _ := readIndex(t, depth); idx != 5 {
		t.Errorf("after color seek: index %d, want 5", idx)
	}

	for _, bad := range []int64{0, 6} {
		if err := fx.pc.Seek(depth, bad); !errors.Is(err, sensor.ErrInvalidArgument) {
			t.Errorf("Seek(%d) = %v, want ErrInvalidArgument", bad, err)
		}
	}
}

func TestPlayer_RealTimePacing(t *testing.T) {
	fx := openFile(t, writeFile(t, 5, 20*time.Millisecond))
	if err := fx.pc.SetRepeatEnabled(false); err != nil {
		t.Fatal(err)
	}
	depth := fx.stream(t, sensor.SensorDepth)

	arrived := make(chan time.Time, 8)
	unsub := depth.OnNewFrame(func(*sensor.Stream) { arrived <- time.Now() })
	defer unsub()

	if err := depth.Start(); err != nil {
		t.Fatal(err)
	}
	var first, last time.Time
	for i := range 5 {
		select {
		case ts := <-arrived:
			if i == 0 {
				first = ts
			}
			last = ts
		case <-time.After(5 * time.Second):
			t.Fatalf("frame %d never arrived", i+1)
		}
	}
	if elapsed := last.Sub(first); elapsed < 60*time.Millisecond {
		t.Errorf("5 frames 20ms apart played in %v", elapsed)
	}
}

func TestPlayer_NumberOfFramesOfForeignStream(t *testing.T) {
	fxA := openFile(t, writeFile(t, 2, 33*time.Millisecond))
	fxB := openFile(t, writeFile(t, 3, 33*time.Millisecond))
	other := fxB.stream(t, sensor.SensorDepth)

	if n, err := fxA.pc.NumberOfFrames(other); err != nil || n != 0 {
		t.Errorf("NumberOfFrames(foreign) = %d, %v; want 0", n, err)
	}
	if err := fxA.pc.Seek(other, 1); !errors.Is(err, sensor.ErrInvalidArgument) {
		t.Errorf("Seek(foreign) = %v, want ErrInvalidArgument", err)
	}
}

func TestPlayer_ProbeByContent(t *testing.T) {
	dir := t.TempDir()
	fake := filepath.Join(dir, "fake.dnr")
	if err := os.WriteFile(fake, []byte("plain text"), 0o644); err != nil {
		t.Fatal(err)
	}
	recorded := writeFile(t, 1, time.Millisecond)
	renamed := filepath.Join(dir, "capture.bin")
	if err := os.Rename(recorded, renamed); err != nil {
		t.Fatal(err)
	}

	drv := player.NewDriver()
	if drv.Probe(fake) {
		t.Error("Probe accepted a file by extension")
	}
	if !drv.Probe(renamed) || !drv.Probe("file://"+renamed) {
		t.Error("Probe rejected a recording without the usual extension")
	}

	sctx, err := sensor.New(sensor.Options{Drivers: []sensor.Driver{drv}})
	if err != nil {
		t.Fatal(err)
	}
	defer sctx.Shutdown()
	if _, err := sctx.Open(context.Background(), fake); !errors.Is(err, sensor.ErrNoDevice) {
		t.Errorf("Open(fake) = %v, want ErrNoDevice", err)
	}
}

// Recording five live frames and opening the file reports five frames.
func TestPlayer_ReplaysRecorderOutput(t *testing.T) {
	backend := sensortest.NewDepthColorDevice("test://live")
	live, err := sensor.New(sensor.Options{Drivers: []sensor.Driver{sensortest.NewDriver(backend)}})
	if err != nil {
		t.Fatal(err)
	}
	defer live.Shutdown()
	dev, err := live.Open(context.Background(), backend.URI)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dev.Playback(); !errors.Is(err, sensor.ErrUnsupported) {
		t.Errorf("Playback on a live device = %v, want ErrUnsupported", err)
	}
	depth, err := dev.CreateStream(sensor.SensorDepth)
	if err != nil {
		t.Fatal(err)
	}
	if err := depth.SetVideoMode(backend.SensorList[0].Modes[1]); err != nil {
		t.Fatal(err)
	}
	if err := depth.Start(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "live.dnr")
	rec, err := recording.NewRecorder(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.AttachStream(depth, false); err != nil {
		t.Fatal(err)
	}
	if err := rec.Start(); err != nil {
		t.Fatal(err)
	}
	size := depth.VideoMode().FrameSize()
	for i := int64(1); i <= 5; i++ {
		if !backend.Stream(sensor.SensorDepth).Push(i, uint64(i)*16666, make([]byte, size)) {
			t.Fatal("push failed")
		}
	}
	if err := rec.Destroy(); err != nil {
		t.Fatal(err)
	}

	fx := openFile(t, path)
	played := fx.stream(t, sensor.SensorDepth)
	if n, err := fx.pc.NumberOfFrames(played); err != nil || n != 5 {
		t.Errorf("NumberOfFrames = %d, %v; want 5", n, err)
	}
	if played.VideoMode() != depth.VideoMode() {
		t.Errorf("replayed mode %s, recorded %s", played.VideoMode(), depth.VideoMode())
	}
}
