package synthetic

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smazurov/depthnode/internal/sensor"
)

const (
	depthMaxMM        = 10000
	defaultExposure   = 100
	defaultGain       = 100
	defaultIRExposure = 50
)

// Stream generates frames for one sensor on the device clock.
type Stream struct {
	dev        *Device
	sensorType sensor.SensorType

	mu    sync.Mutex
	mode  sensor.VideoMode
	props map[sensor.PropertyID]any
	stop  chan struct{}
	done  chan struct{}
	sink  sensor.FrameSink

	// last frame index handed out; survives restarts so a slower mode
	// never numbers frames below what the consumer already saw
	lastIndex int64
}

func newStream(dev *Device, t sensor.SensorType, sp SensorProfile, mode sensor.VideoMode) *Stream {
	props := map[sensor.PropertyID]any{
		sensor.StreamPropHFOV:      sp.HFOV,
		sensor.StreamPropVFOV:      sp.VFOV,
		sensor.StreamPropMirroring: false,
		sensor.StreamPropCropping:  sensor.Cropping{},
	}
	switch t {
	case sensor.SensorDepth:
		props[sensor.StreamPropMinValue] = 0
		props[sensor.StreamPropMaxValue] = maxValue(mode)
	case sensor.SensorColor:
		props[sensor.StreamPropAutoExposure] = true
		props[sensor.StreamPropAutoWhiteBalance] = true
		props[sensor.StreamPropExposure] = defaultExposure
		props[sensor.StreamPropGain] = defaultGain
	case sensor.SensorIR:
		props[sensor.StreamPropExposure] = defaultIRExposure
		props[sensor.StreamPropGain] = defaultGain
	}
	return &Stream{dev: dev, sensorType: t, mode: mode, props: props}
}

func maxValue(mode sensor.VideoMode) int {
	if mode.PixelFormat == sensor.PixelFormatDepth100UM {
		return 65535
	}
	return depthMaxMM
}

func (s *Stream) VideoMode() sensor.VideoMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetVideoMode also drops a crop area that no longer fits.
func (s *Stream) SetVideoMode(mode sensor.VideoMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return errors.New("stream is running")
	}
	s.mode = mode
	if c, _ := s.props[sensor.StreamPropCropping].(sensor.Cropping); c.Enabled && !c.Area.Within(mode) {
		s.props[sensor.StreamPropCropping] = sensor.Cropping{}
	}
	if s.sensorType == sensor.SensorDepth {
		s.props[sensor.StreamPropMaxValue] = maxValue(mode)
	}
	return nil
}

func (s *Stream) modeAndFOV() (sensor.VideoMode, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hfov, _ := s.props[sensor.StreamPropHFOV].(float64)
	return s.mode, hfov
}

func (s *Stream) Start(sink sensor.FrameSink) error {
	if err := s.dev.usable(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.sink = sink
	go s.run(sink, s.mode, s.stop, s.done)
	return nil
}

// Stop waits for the generator to exit.
func (s *Stream) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done, s.sink = nil, nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// halt stops generation and reports err to the consumer.
func (s *Stream) halt(err error) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	s.Stop()
	if sink != nil {
		sink.Fail(err)
	}
}

func (s *Stream) Close() {
	s.Stop()
	s.dev.removeStream(s)
}

// run fires tick k at epoch + k*period (+ phase when unsynced), skipping
// ticks it was too slow to serve. Timestamps follow the tick; frame indexes
// come from nextIndex.
func (s *Stream) run(sink sensor.FrameSink, mode sensor.VideoMode, stop, done chan struct{}) {
	defer close(done)

	period := time.Second / time.Duration(mode.FPS)
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	var next int64
	for {
		phase := s.phase(period)
		k := int64(time.Since(s.dev.epoch.Add(phase))/period) + 1
		if k <= next {
			k = next + 1
		}
		at := s.dev.epoch.Add(phase + time.Duration(k)*period)
		timer.Reset(time.Until(at))

		select {
		case <-stop:
			return
		case <-timer.C:
		}

		s.emit(sink, mode, s.nextIndex(k), uint64((phase+time.Duration(k)*period)/time.Microsecond))
		next = k
	}
}

// nextIndex returns tick, or one past the last index when the tick lags
// behind it.
func (s *Stream) nextIndex(tick int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastIndex = max(tick, s.lastIndex+1)
	return s.lastIndex
}

// phase offsets unsynced streams by a sensor-specific fraction of a period.
func (s *Stream) phase(period time.Duration) time.Duration {
	if s.dev.syncEnabled() {
		return 0
	}
	return period * time.Duration(s.sensorType.Code()) / 7
}

func (s *Stream) emit(sink sensor.FrameSink, mode sensor.VideoMode, index int64, ts uint64) {
	s.mu.Lock()
	mirror, _ := s.props[sensor.StreamPropMirroring].(bool)
	crop, _ := s.props[sensor.StreamPropCropping].(sensor.Cropping)
	s.mu.Unlock()

	area := sensor.CropArea{Width: mode.ResolutionX, Height: mode.ResolutionY}
	if crop.Enabled {
		area = crop.Area
	}
	bpp := mode.PixelFormat.BytesPerPixel()

	f := sink.Allocate(area.Width * area.Height * bpp)
	data, err := f.Data()
	if err != nil {
		f.Release()
		return
	}
	fill(data, pattern{
		format: mode.PixelFormat,
		fullW:  mode.ResolutionX,
		fullH:  mode.ResolutionY,
		area:   area,
		mirror: mirror,
		index:  index,
	})

	sink.Deliver(f, sensor.FrameInfo{
		Index:           index,
		TimestampMicros: ts,
		Width:           area.Width,
		Height:          area.Height,
		Stride:          area.Width * bpp,
		VideoMode:       mode,
		Cropping:        crop.Enabled,
		CropOriginX:     area.OriginX,
		CropOriginY:     area.OriginY,
	})
}

func (s *Stream) IsPropertySupported(id sensor.PropertyID) bool {
	if id == sensor.StreamPropStride {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.props[id]
	return ok
}

func (s *Stream) GetProperty(id sensor.PropertyID) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == sensor.StreamPropStride {
		return s.mode.ResolutionX * s.mode.PixelFormat.BytesPerPixel(), nil
	}
	v, ok := s.props[id]
	if !ok {
		return nil, fmt.Errorf("stream property %d not supported", id)
	}
	return v, nil
}

func (s *Stream) SetProperty(id sensor.PropertyID, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.props[id]; !ok {
		return fmt.Errorf("stream property %d not supported", id)
	}

	switch id {
	case sensor.StreamPropHFOV, sensor.StreamPropVFOV:
		v, ok := value.(float64)
		if !ok || v <= 0 {
			return fmt.Errorf("field of view must be a positive float64, got %v", value)
		}
	case sensor.StreamPropMirroring, sensor.StreamPropAutoExposure, sensor.StreamPropAutoWhiteBalance:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("property %d needs a bool, got %T", id, value)
		}
	case sensor.StreamPropExposure, sensor.StreamPropGain:
		if _, ok := value.(int); !ok {
			return fmt.Errorf("property %d needs an int, got %T", id, value)
		}
		// manual exposure turns auto exposure off
		if _, auto := s.props[sensor.StreamPropAutoExposure]; auto && id == sensor.StreamPropExposure {
			s.props[sensor.StreamPropAutoExposure] = false
		}
	case sensor.StreamPropCropping:
		c, ok := value.(sensor.Cropping)
		if !ok {
			return fmt.Errorf("cropping needs sensor.Cropping, got %T", value)
		}
		if c.Enabled && !c.Area.Within(s.mode) {
			return fmt.Errorf("crop %+v outside %s", c.Area, s.mode)
		}
	default:
		return fmt.Errorf("stream property %d is read-only", id)
	}
	s.props[id] = value
	return nil
}
