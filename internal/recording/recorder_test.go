package recording

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smazurov/depthnode/internal/events"
	"github.com/smazurov/depthnode/internal/sensor"
	"github.com/smazurov/depthnode/internal/sensor/sensortest"
)

const framesWrittenMetric = "depthnode_recorder_frames_written_total"

type recorderFixture struct {
	dev     *sensor.Device
	backend *sensortest.Device
	depth   *sensor.Stream
	color   *sensor.Stream
}

func newRecorderFixture(t *testing.T) *recorderFixture {
	t.Helper()
	backend := sensortest.NewDepthColorDevice("test://recorder")
	sctx, err := sensor.New(sensor.Options{Drivers: []sensor.Driver{sensortest.NewDriver(backend)}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(sctx.Shutdown)

	dev, err := sctx.Open(context.Background(), backend.URI)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fx := &recorderFixture{dev: dev, backend: backend}
	for _, st := range []sensor.SensorType{sensor.SensorDepth, sensor.SensorColor} {
		s, err := dev.CreateStream(st)
		if err != nil {
			t.Fatalf("CreateStream(%s): %v", st, err)
		}
		si, _ := dev.SensorInfo(st)
		if err := s.SetVideoMode(si.Modes[1]); err != nil {
			t.Fatalf("SetVideoMode: %v", err)
		}
		if err := s.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if st == sensor.SensorDepth {
			fx.depth = s
		} else {
			fx.color = s
		}
	}
	return fx
}

func (fx *recorderFixture) push(t *testing.T, st sensor.SensorType, index int64) {
	t.Helper()
	s := fx.backend.Stream(st)
	size := s.VideoMode().FrameSize()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(int(index) + i)
	}
	if !s.Push(index, uint64(index)*33333, data) {
		t.Fatalf("push %s frame %d: stream not started", st, index)
	}
	// keep the reader side empty so the next push is not counted as a drop
	if f, _ := fx.stream(st).TryReadFrame(); f != nil {
		f.Release()
	}
}

func (fx *recorderFixture) stream(st sensor.SensorType) *sensor.Stream {
	if st == sensor.SensorDepth {
		return fx.depth
	}
	return fx.color
}

func TestRecorder_RecordsFiveFrames(t *testing.T) {
	fx := newRecorderFixture(t)
	path := filepath.Join(t.TempDir(), "five.dnr")

	rec, err := NewRecorder(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.AttachStream(fx.depth, false); err != nil {
		t.Fatalf("AttachStream: %v", err)
	}
	if err := rec.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := int64(1); i <= 5; i++ {
		fx.push(t, sensor.SensorDepth, i)
	}
	rec.Stop()

	n, err := testutil.GatherAndCount(prometheus.DefaultGatherer, framesWrittenMetric)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("frames written series = %d, want 1", n)
	}

	if err := rec.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if got := rec.FramesWritten(fx.depth); got != 5 {
		t.Errorf("FramesWritten = %d, want 5", got)
	}
	if got := rec.FramesWritten(fx.color); got != 0 {
		t.Errorf("FramesWritten(unattached) = %d, want 0", got)
	}
	if n, _ := testutil.GatherAndCount(prometheus.DefaultGatherer, framesWrittenMetric); n != 0 {
		t.Errorf("frames written series after Destroy = %d, want 0", n)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if !r.Finalized() {
		t.Error("expected finalized file")
	}
	if r.Device().URI != "test://recorder" {
		t.Errorf("device = %q", r.Device().URI)
	}
	if r.DeviceProperties()[sensor.DevicePropSerialNumber] != "TEST-0001" {
		t.Errorf("device properties = %v", r.DeviceProperties())
	}
	nodes := r.Nodes()
	if len(nodes) != 1 || nodes[0].Sensor != sensor.SensorDepth {
		t.Fatalf("nodes = %v", nodes)
	}
	if nodes[0].NumFrames() != 5 {
		t.Fatalf("NumFrames = %d, want 5", nodes[0].NumFrames())
	}
	if nodes[0].Properties[sensor.StreamPropHFOV] != 1.0226 {
		t.Errorf("HFOV = %v", nodes[0].Properties[sensor.StreamPropHFOV])
	}

	info, size, err := r.FrameInfo(nodes[0], 2)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, size)
	if _, err := r.ReadFrame(nodes[0], 2, buf); err != nil {
		t.Fatal(err)
	}
	if info.Index != 3 || buf[0] != 3 || buf[1] != 4 {
		t.Errorf("frame 2: index %d, data %v", info.Index, buf[:2])
	}
}

func TestRecorder_ConcurrentStopAndDestroy(t *testing.T) {
	fx := newRecorderFixture(t)
	dir := t.TempDir()

	var index int64
	for iter := range 10 {
		path := filepath.Join(dir, fmt.Sprintf("race-%d.dnr", iter))
		rec, err := NewRecorder(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := rec.AttachStream(fx.depth, false); err != nil {
			t.Fatalf("AttachStream: %v", err)
		}
		if err := rec.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
		for range 2 {
			index++
			fx.push(t, sensor.SensorDepth, index)
		}

		var wg sync.WaitGroup
		errs := make(chan error, 4)
		for i := range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if i%2 == 0 {
					errs <- rec.Destroy()
					return
				}
				rec.Stop()
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("iteration %d: Destroy: %v", iter, err)
			}
		}
		if rec.State() != StateDestroyed {
			t.Fatalf("iteration %d: state = %s", iter, rec.State())
		}

		r, err := Open(path)
		if err != nil {
			t.Fatalf("iteration %d: Open: %v", iter, err)
		}
		if !r.Finalized() || r.Nodes()[0].NumFrames() != 2 {
			t.Errorf("iteration %d: finalized=%v frames=%d", iter, r.Finalized(), r.Nodes()[0].NumFrames())
		}
		r.Close()
	}
}

func TestRecorder_AttachAfterStart(t *testing.T) {
	fx := newRecorderFixture(t)
	rec, err := NewRecorder(filepath.Join(t.TempDir(), "attach.dnr"))
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Destroy()

	if err := rec.AttachStream(nil, false); !errors.Is(err, sensor.ErrInvalidArgument) {
		t.Errorf("attach nil = %v, want ErrInvalidArgument", err)
	}
	if err := rec.AttachStream(fx.depth, false); err != nil {
		t.Fatal(err)
	}
	if err := rec.AttachStream(fx.depth, false); !errors.Is(err, sensor.ErrInvalidArgument) {
		t.Errorf("duplicate attach = %v, want ErrInvalidArgument", err)
	}
	if err := rec.Start(); err != nil {
		t.Fatal(err)
	}
	if err := rec.AttachStream(fx.color, true); !errors.Is(err, sensor.ErrIllegalState) {
		t.Errorf("attach after start = %v, want ErrIllegalState", err)
	}
	rec.Stop()
	if err := rec.AttachStream(fx.color, true); !errors.Is(err, sensor.ErrIllegalState) {
		t.Errorf("attach after stop = %v, want ErrIllegalState", err)
	}
	if got := rec.Streams(); len(got) != 1 || got[0] != fx.depth {
		t.Errorf("Streams = %v, want only depth", got)
	}
}

func TestRecorder_StopPausesRecording(t *testing.T) {
	fx := newRecorderFixture(t)
	path := filepath.Join(t.TempDir(), "pause.dnr")
	rec, err := NewRecorder(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.AttachStream(fx.depth, false); err != nil {
		t.Fatal(err)
	}
	if err := rec.AttachStream(fx.color, true); err != nil {
		t.Fatal(err)
	}

	if err := rec.Start(); err != nil {
		t.Fatal(err)
	}
	fx.push(t, sensor.SensorDepth, 1)
	fx.push(t, sensor.SensorColor, 1)
	rec.Stop()
	rec.Stop()

	fx.push(t, sensor.SensorDepth, 2)

	if err := rec.Start(); err != nil {
		t.Fatal(err)
	}
	fx.push(t, sensor.SensorDepth, 3)
	if err := rec.Destroy(); err != nil {
		t.Fatal(err)
	}
	if err := rec.Destroy(); err != nil {
		t.Errorf("second Destroy = %v", err)
	}
	if err := rec.Start(); !errors.Is(err, sensor.ErrIllegalState) {
		t.Errorf("Start after Destroy = %v, want ErrIllegalState", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	nodes := r.Nodes()
	if len(nodes) != 2 {
		t.Fatalf("got %d nodes, want 2", len(nodes))
	}
	if nodes[0].NumFrames() != 2 || nodes[1].NumFrames() != 1 {
		t.Errorf("frames = %d/%d, want 2/1", nodes[0].NumFrames(), nodes[1].NumFrames())
	}
	if info, _, err := r.FrameInfo(nodes[0], 1); err != nil || info.Index != 3 {
		t.Errorf("second depth frame = %d, %v; want index 3", info.Index, err)
	}
}

func TestRecorder_StartFailsForUnwritablePath(t *testing.T) {
	fx := newRecorderFixture(t)
	rec, err := NewRecorder(filepath.Join(t.TempDir(), "missing", "dir", "x.dnr"))
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.AttachStream(fx.depth, false); err != nil {
		t.Fatal(err)
	}
	if err := rec.Start(); !errors.Is(err, sensor.ErrBackend) {
		t.Errorf("Start = %v, want ErrBackend", err)
	}
	if rec.State() != StateCreated {
		t.Errorf("state = %s, want created", rec.State())
	}
	if err := rec.Destroy(); err != nil {
		t.Errorf("Destroy = %v", err)
	}

	if _, err := NewRecorder(""); !errors.Is(err, sensor.ErrInvalidArgument) {
		t.Errorf("NewRecorder(\"\") = %v, want ErrInvalidArgument", err)
	}
}

func TestRecorder_PublishesStateChanges(t *testing.T) {
	fx := newRecorderFixture(t)
	ch := make(chan any, 8)
	unsub := events.SubscribeToChannel[events.RecorderStateChangedEvent](fx.dev.Events(), ch)
	defer unsub()

	rec, err := NewRecorder(filepath.Join(t.TempDir(), "events.dnr"))
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.AttachStream(fx.depth, false); err != nil {
		t.Fatal(err)
	}
	if err := rec.Start(); err != nil {
		t.Fatal(err)
	}
	rec.Stop()
	if err := rec.Destroy(); err != nil {
		t.Fatal(err)
	}

	want := []string{"recording", "stopped", "destroyed"}
	for _, state := range want {
		select {
		case ev := <-ch:
			if e := ev.(events.RecorderStateChangedEvent); e.NewState != state {
				t.Errorf("event state = %s, want %s", e.NewState, state)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s event", state)
		}
	}
}
