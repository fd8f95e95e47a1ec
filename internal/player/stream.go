package player

import (
	"fmt"
	"sync"

	"github.com/smazurov/depthnode/internal/sensor"
)

// Stream replays one recorded node.
type Stream struct {
	dev   *Device
	track *track

	// deliverMu is held while a frame is handed to the sink, so Stop can
	// wait for an in-flight delivery.
	deliverMu sync.Mutex

	mu      sync.Mutex
	sink    sensor.FrameSink
	started bool
}

func (s *Stream) VideoMode() sensor.VideoMode { return s.track.node.Mode }

// SetVideoMode accepts only the recorded mode.
func (s *Stream) SetVideoMode(mode sensor.VideoMode) error {
	if mode != s.track.node.Mode {
		return fmt.Errorf("recording holds %s only", s.track.node.Mode)
	}
	return nil
}

func (s *Stream) Start(sink sensor.FrameSink) error {
	s.mu.Lock()
	s.sink = sink
	s.started = true
	s.mu.Unlock()
	s.dev.signal()
	return nil
}

func (s *Stream) Stop() {
	s.mu.Lock()
	s.sink = nil
	s.started = false
	s.mu.Unlock()

	s.deliverMu.Lock()
	s.deliverMu.Unlock()
	s.dev.signal()
}

func (s *Stream) Close() {
	s.Stop()
	s.dev.removeStream(s)
}

func (s *Stream) isStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Stream) currentSink() sensor.FrameSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink
}

func (s *Stream) deliver(fn func(sensor.FrameSink) error) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	sink := s.currentSink()
	if sink == nil {
		return
	}
	if err := fn(sink); err != nil {
		s.dev.log.Error("Failed to replay frame", "sensor", s.track.node.Sensor.String(), "error", err)
		sink.Fail(err)
	}
}

func (s *Stream) IsPropertySupported(id sensor.PropertyID) bool {
	switch id {
	case sensor.StreamPropNumberOfFrames, sensor.StreamPropVideoMode:
		return true
	}
	_, ok := s.track.node.Properties[id]
	return ok
}

func (s *Stream) GetProperty(id sensor.PropertyID) (any, error) {
	switch id {
	case sensor.StreamPropNumberOfFrames:
		return s.track.node.NumFrames(), nil
	case sensor.StreamPropVideoMode:
		return s.track.node.Mode, nil
	}
	v, ok := s.track.node.Properties[id]
	if !ok {
		return nil, fmt.Errorf("property %d was not recorded", id)
	}
	return v, nil
}

func (s *Stream) SetProperty(sensor.PropertyID, any) error {
	return errReadOnly
}
