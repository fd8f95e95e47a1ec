package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/depthnode/internal/events"
	"github.com/smazurov/depthnode/internal/metrics"
	"github.com/smazurov/depthnode/internal/sensor/handle"
)

// StreamState is the lifecycle state of a Stream.
type StreamState int

const (
	StateCreated StreamState = iota
	StateStarted
	StateStopped
	StateDestroyed
)

func (s StreamState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateDestroyed:
		return "destroyed"
	}
	return fmt.Sprintf("StreamState(%d)", int(s))
}

// Stream is one sensor's frame feed on a device.
//
// A stream is read either by ReadFrame in a dedicated goroutine or through
// WaitForAny. The owner stops the reading goroutine, waits for it, and only
// then calls Destroy.
type Stream struct {
	id      handle.Handle
	device  *Device
	backend StreamBackend
	sensor  SensorType
	info    SensorInfo
	log     *slog.Logger

	// opMu serializes lifecycle operations. mu guards the fields below and
	// is never held while calling into the backend.
	opMu sync.Mutex

	mu        sync.Mutex
	state     StreamState
	mode      VideoMode
	readErr   error
	conv      *depthConversion
	nextSub   uint64
	listeners map[uint64]func(*Stream)
	taps      map[uint64]func(*Frame)

	holder frameHolder
}

// ID returns the stream's handle as an integer.
func (s *Stream) ID() uint64 { return s.id.ID() }

// Device returns the device the stream was created on.
func (s *Stream) Device() *Device { return s.device }

// Sensor returns the sensor type.
func (s *Stream) Sensor() SensorType { return s.sensor }

// SensorInfo returns the sensor's supported modes in backend order.
func (s *Stream) SensorInfo() SensorInfo {
	modes := make([]VideoMode, len(s.info.Modes))
	copy(modes, s.info.Modes)
	return SensorInfo{Type: s.info.Type, Modes: modes}
}

// State returns the lifecycle state.
func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// VideoMode returns the current video mode.
func (s *Stream) VideoMode() VideoMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Dropped returns how many frames were replaced before being read.
func (s *Stream) Dropped() uint64 {
	return s.holder.droppedCount()
}

// Start begins frame production. Starting a started stream is a no-op.
func (s *Stream) Start() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	prev := s.State()
	switch prev {
	case StateStarted:
		return nil
	case StateDestroyed:
		return newError(CodeIllegalState, "stream start", "stream destroyed")
	}
	if s.device.isClosed() {
		return newError(CodeBackend, "stream start", "device closed").With("uri", s.device.URI())
	}

	s.holder.clear()
	s.mu.Lock()
	s.readErr = nil
	s.state = StateStarted
	s.mu.Unlock()

	if err := s.backend.Start(&streamSink{s: s}); err != nil {
		s.mu.Lock()
		s.state = prev
		s.mu.Unlock()
		s.log.Warn("Backend refused to start stream", "error", err)
		return wrapError(CodeBackend, "stream start", err)
	}

	s.device.streamStarted(s)
	s.publishState(prev, StateStarted)
	s.log.Debug("Stream started", "mode", s.VideoMode().String())
	return nil
}

// Stop ends frame production and wakes blocked readers. Stopping a stream
// that is not started does nothing.
func (s *Stream) Stop() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.stopLocked()
}

func (s *Stream) stopLocked() {
	s.mu.Lock()
	if s.state != StateStarted {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	s.mu.Unlock()

	s.backend.Stop()
	s.holder.clear()
	s.device.streamStopped(s)
	s.publishState(StateStarted, StateStopped)
	s.log.Debug("Stream stopped")
}

// Destroy stops the stream if needed and releases its backend. Frames read
// earlier stay valid until released. Destroying twice is a no-op.
func (s *Stream) Destroy() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.State() == StateDestroyed {
		return
	}
	s.stopLocked()

	s.mu.Lock()
	prev := s.state
	s.state = StateDestroyed
	s.listeners = nil
	s.taps = nil
	s.mu.Unlock()

	s.holder.clear()
	s.backend.Close()
	s.device.removeStream(s)
	s.publishState(prev, StateDestroyed)
	s.log.Debug("Stream destroyed")
}

// SetVideoMode changes the mode of a stream that is not started.
func (s *Stream) SetVideoMode(mode VideoMode) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	switch s.State() {
	case StateStarted:
		return newError(CodeIllegalState, "set video mode", "stream must be stopped to change video mode")
	case StateDestroyed:
		return newError(CodeIllegalState, "set video mode", "stream destroyed")
	}
	if !s.info.Supports(mode) {
		return newError(CodeUnsupportedMode, "set video mode", fmt.Sprintf("%s not supported by %s sensor", mode, s.sensor))
	}
	if err := s.backend.SetVideoMode(mode); err != nil {
		return backendError("set video mode", err)
	}

	s.mu.Lock()
	s.mode = mode
	s.conv = nil
	s.mu.Unlock()
	return nil
}

// ReadFrame blocks until the stream has a frame, the stream stops, or ctx
// is done. The returned frame is owned by the caller.
func (s *Stream) ReadFrame(ctx context.Context) (*Frame, error) {
	wake := make(chan struct{}, 1)
	s.holder.addWaiter(wake)
	defer s.holder.removeWaiter(wake)

	for {
		f, err := s.tryRead()
		if err != nil || f != nil {
			return f, err
		}
		s.device.trigger()

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, &Error{Code: CodeTimeout, Op: "read frame", Message: "read interrupted", Cause: ctx.Err()}
		}
	}
}

// TryReadFrame returns the pending frame without blocking, or nil.
func (s *Stream) TryReadFrame() (*Frame, error) {
	return s.tryRead()
}

func (s *Stream) tryRead() (*Frame, error) {
	s.mu.Lock()
	state, readErr := s.state, s.readErr
	s.mu.Unlock()

	if state != StateStarted {
		return nil, newError(CodeIllegalState, "read frame", fmt.Sprintf("stream is %s", state))
	}
	if readErr != nil {
		return nil, wrapError(CodeStreamRead, "read frame", readErr)
	}
	f := s.holder.take()
	if f != nil {
		metrics.FrameRead(s.device.URI(), s.sensor.String())
	}
	return f, nil
}

// ready reports whether a frame is pending and its timestamp.
func (s *Stream) ready() (uint64, bool) {
	if s.State() != StateStarted {
		return 0, false
	}
	return s.holder.peek()
}

// OnNewFrame registers fn to run on the producer goroutine after each frame
// becomes readable. fn must not block.
func (s *Stream) OnNewFrame(fn func(*Stream)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDestroyed {
		return func() {}
	}
	id := s.addSubLocked()
	if s.listeners == nil {
		s.listeners = make(map[uint64]func(*Stream))
	}
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// AddTap registers fn to receive its own reference to every accepted frame,
// before any reader sees it. fn owns the frame and must release it.
func (s *Stream) AddTap(fn func(*Frame)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDestroyed {
		return func() {}
	}
	id := s.addSubLocked()
	if s.taps == nil {
		s.taps = make(map[uint64]func(*Frame))
	}
	s.taps[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.taps, id)
		s.mu.Unlock()
	}
}

func (s *Stream) addSubLocked() uint64 {
	s.nextSub++
	return s.nextSub
}

func (s *Stream) deliver(f *Frame, info FrameInfo) {
	s.mu.Lock()
	if s.state != StateStarted {
		s.mu.Unlock()
		f.Release()
		return
	}
	info.Sensor = s.sensor
	if info.VideoMode == (VideoMode{}) {
		info.VideoMode = s.mode
	}
	taps := make([]func(*Frame), 0, len(s.taps))
	for _, t := range s.taps {
		taps = append(taps, t)
	}
	listeners := make([]func(*Stream), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	f.buf.info = info

	copies := make([]*Frame, 0, len(taps))
	for range taps {
		c, err := f.Acquire()
		if err != nil {
			break
		}
		copies = append(copies, c)
	}

	uri, sensor := s.device.URI(), s.sensor.String()
	switch s.holder.push(f, info) {
	case pushRejected:
		for _, c := range copies {
			c.Release()
		}
		metrics.FrameRejected(uri, sensor)
		s.log.Debug("Rejected frame with non-increasing index", "index", info.Index)
		return
	case pushReplaced:
		metrics.FrameDropped(uri, sensor)
	}
	metrics.FrameDelivered(uri, sensor)

	for i, c := range copies {
		taps[i](c)
	}
	for _, l := range listeners {
		l(s)
	}
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	if s.state != StateStarted {
		s.mu.Unlock()
		return
	}
	s.readErr = err
	s.mu.Unlock()
	s.log.Error("Stream backend failed", "error", err)
	s.holder.wake()
}

func (s *Stream) publishState(from, to StreamState) {
	s.device.ctx.bus.Publish(events.StreamStateChangedEvent{
		URI:       s.device.URI(),
		StreamID:  s.ID(),
		Sensor:    s.sensor.String(),
		OldState:  from.String(),
		NewState:  to.String(),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// GetProperty reads a backend property.
func (s *Stream) GetProperty(id PropertyID) (any, error) {
	if s.State() == StateDestroyed {
		return nil, newError(CodeIllegalState, "get property", "stream destroyed")
	}
	if !s.backend.IsPropertySupported(id) {
		return nil, newError(CodeUnsupported, "get property", fmt.Sprintf("stream property %d not supported", id))
	}
	v, err := s.backend.GetProperty(id)
	if err != nil {
		return nil, backendError("get property", err)
	}
	return v, nil
}

// SetProperty writes a backend property.
func (s *Stream) SetProperty(id PropertyID, value any) error {
	if s.State() == StateDestroyed {
		return newError(CodeIllegalState, "set property", "stream destroyed")
	}
	if id == StreamPropVideoMode {
		mode, ok := value.(VideoMode)
		if !ok {
			return newError(CodeInvalidArgument, "set property", fmt.Sprintf("video mode property needs VideoMode, got %T", value))
		}
		return s.SetVideoMode(mode)
	}
	if !s.backend.IsPropertySupported(id) {
		return newError(CodeUnsupported, "set property", fmt.Sprintf("stream property %d not supported", id))
	}
	if err := s.backend.SetProperty(id, value); err != nil {
		return backendError("set property", err)
	}
	if id == StreamPropHFOV || id == StreamPropVFOV {
		s.mu.Lock()
		s.conv = nil
		s.mu.Unlock()
	}
	return nil
}

// IsPropertySupported reports whether the backend knows id.
func (s *Stream) IsPropertySupported(id PropertyID) bool {
	return s.backend.IsPropertySupported(id)
}

// streamSink adapts a Stream to FrameSink.
type streamSink struct {
	s *Stream
}

func (k *streamSink) Allocate(size int) *Frame {
	return k.s.device.ctx.pool.Allocate(size)
}

func (k *streamSink) Deliver(f *Frame, info FrameInfo) {
	k.s.deliver(f, info)
}

func (k *streamSink) Fail(err error) {
	if err == nil {
		err = errors.New("unknown backend failure")
	}
	k.s.fail(err)
}

func (k *streamSink) Reset() {
	k.s.holder.reset()
}
