package sensor_test

import (
	"context"
	"testing"

	"github.com/smazurov/depthnode/internal/sensor"
	"github.com/smazurov/depthnode/internal/sensor/sensortest"
)

func openTestDevice(t *testing.T, dev *sensortest.Device) (*sensor.Context, *sensor.Device) {
	t.Helper()
	sctx, err := sensor.New(sensor.Options{Drivers: []sensor.Driver{sensortest.NewDriver(dev)}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(sctx.Shutdown)

	d, err := sctx.Open(context.Background(), dev.URI)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return sctx, d
}

func startStream(t *testing.T, d *sensor.Device, st sensor.SensorType) *sensor.Stream {
	t.Helper()
	s, err := d.CreateStream(st)
	if err != nil {
		t.Fatalf("CreateStream(%s) failed: %v", st, err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return s
}

func readInfo(t *testing.T, s *sensor.Stream) sensor.FrameInfo {
	t.Helper()
	f, err := s.TryReadFrame()
	if err != nil {
		t.Fatalf("TryReadFrame failed: %v", err)
	}
	if f == nil {
		t.Fatal("expected a pending frame")
	}
	defer f.Release()
	info, err := f.Info()
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	return info
}
