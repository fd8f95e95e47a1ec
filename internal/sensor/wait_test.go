package sensor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smazurov/depthnode/internal/sensor"
	"github.com/smazurov/depthnode/internal/sensor/sensortest"
)

func TestWaitForAnyTimesOut(t *testing.T) {
	dev := sensortest.NewDepthColorDevice("test://wait-timeout")
	_, d := openTestDevice(t, dev)
	idle := startStream(t, d, sensor.SensorDepth)

	for _, streams := range [][]*sensor.Stream{nil, {idle}} {
		const timeout = 50 * time.Millisecond
		start := time.Now()
		idx, err := sensor.WaitForAny(context.Background(), streams, timeout)
		elapsed := time.Since(start)

		if !errors.Is(err, sensor.ErrTimeout) || idx != -1 {
			t.Fatalf("WaitForAny = %d, %v; want -1, ErrTimeout", idx, err)
		}
		if elapsed < timeout {
			t.Errorf("returned after %s, before the %s timeout", elapsed, timeout)
		}
		if elapsed > timeout+500*time.Millisecond {
			t.Errorf("returned after %s, too long past the %s timeout", elapsed, timeout)
		}
	}
}

func TestWaitForAnyReturnsReadyStream(t *testing.T) {
	dev := sensortest.NewDepthColorDevice("test://wait-ready")
	_, d := openTestDevice(t, dev)
	depth := startStream(t, d, sensor.SensorDepth)
	color := startStream(t, d, sensor.SensorColor)

	dev.Stream(sensor.SensorColor).Push(1, 500, make([]byte, 3))

	idx, err := sensor.WaitForAny(context.Background(), []*sensor.Stream{depth, nil, color}, 0)
	if err != nil || idx != 2 {
		t.Fatalf("WaitForAny = %d, %v; want 2", idx, err)
	}
}

func TestWaitForAnyPrefersOldestFrame(t *testing.T) {
	dev := sensortest.NewDepthColorDevice("test://wait-oldest")
	_, d := openTestDevice(t, dev)
	depth := startStream(t, d, sensor.SensorDepth)
	color := startStream(t, d, sensor.SensorColor)

	dev.Stream(sensor.SensorDepth).Push(1, 2000, make([]byte, 2))
	dev.Stream(sensor.SensorColor).Push(1, 1000, make([]byte, 3))

	idx, err := sensor.WaitForAny(context.Background(), []*sensor.Stream{depth, color}, 0)
	if err != nil || idx != 1 {
		t.Fatalf("WaitForAny = %d, %v; want 1 (older color frame)", idx, err)
	}
}

func TestWaitForAnyComparesTimestampsWithinDevice(t *testing.T) {
	devA := sensortest.NewDepthColorDevice("test://clock-a")
	devB := sensortest.NewDepthColorDevice("test://clock-b")
	sctx, err := sensor.New(sensor.Options{Drivers: []sensor.Driver{sensortest.NewDriver(devA, devB)}})
	if err != nil {
		t.Fatal(err)
	}
	defer sctx.Shutdown()

	a, err := sctx.Open(context.Background(), devA.URI)
	if err != nil {
		t.Fatal(err)
	}
	b, err := sctx.Open(context.Background(), devB.URI)
	if err != nil {
		t.Fatal(err)
	}
	aDepth := startStream(t, a, sensor.SensorDepth)
	aColor := startStream(t, a, sensor.SensorColor)
	bDepth := startStream(t, b, sensor.SensorDepth)

	// device b runs on a clock that started much later
	devA.Stream(sensor.SensorDepth).Push(1, 5000, make([]byte, 2))
	devA.Stream(sensor.SensorColor).Push(1, 4000, make([]byte, 3))
	devB.Stream(sensor.SensorDepth).Push(1, 10, make([]byte, 2))

	tests := []struct {
		name    string
		streams []*sensor.Stream
		want    int
	}{
		{"older frame on the same device", []*sensor.Stream{aDepth, bDepth, aColor}, 2},
		{"other device first in order", []*sensor.Stream{bDepth, aDepth, aColor}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := sensor.WaitForAny(context.Background(), tt.streams, 0)
			if err != nil || idx != tt.want {
				t.Fatalf("WaitForAny = %d, %v; want %d", idx, err, tt.want)
			}
		})
	}
}

func TestWaitForAnyWakesOnFrame(t *testing.T) {
	devA := sensortest.NewDepthColorDevice("test://wait-a")
	devB := sensortest.NewDepthColorDevice("test://wait-b")
	sctx, err := sensor.New(sensor.Options{Drivers: []sensor.Driver{sensortest.NewDriver(devA, devB)}})
	if err != nil {
		t.Fatal(err)
	}
	defer sctx.Shutdown()

	a, err := sctx.Open(context.Background(), devA.URI)
	if err != nil {
		t.Fatal(err)
	}
	b, err := sctx.Open(context.Background(), devB.URI)
	if err != nil {
		t.Fatal(err)
	}
	sa := startStream(t, a, sensor.SensorDepth)
	sb := startStream(t, b, sensor.SensorDepth)

	go func() {
		time.Sleep(20 * time.Millisecond)
		devB.Stream(sensor.SensorDepth).Push(1, 1, make([]byte, 2))
	}()

	idx, err := sensor.WaitForAny(context.Background(), []*sensor.Stream{sa, sb}, -1)
	if err != nil || idx != 1 {
		t.Fatalf("WaitForAny = %d, %v; want 1", idx, err)
	}
	f, err := sb.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame after wait failed: %v", err)
	}
	f.Release()

	if devA.Triggers.Load() == 0 || devB.Triggers.Load() == 0 {
		t.Error("waiting should poke both devices for a frame")
	}
}

func TestWaitForAnyHonorsContext(t *testing.T) {
	dev := sensortest.NewDepthColorDevice("test://wait-ctx")
	_, d := openTestDevice(t, dev)
	s := startStream(t, d, sensor.SensorDepth)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := sensor.WaitForAny(ctx, []*sensor.Stream{s}, -1)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestWaitForAnyRejectsTooManyStreams(t *testing.T) {
	streams := make([]*sensor.Stream, sensor.MaxWaitStreams+1)
	if _, err := sensor.WaitForAny(context.Background(), streams, 0); !errors.Is(err, sensor.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}
