package recording

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/depthnode/internal/events"
	"github.com/smazurov/depthnode/internal/logging"
	"github.com/smazurov/depthnode/internal/metrics"
	"github.com/smazurov/depthnode/internal/sensor"
)

// State is the lifecycle state of a Recorder.
type State int

const (
	StateCreated State = iota
	StateRecording
	StateStopped
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	case StateDestroyed:
		return "destroyed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const queueSize = 64

// recordedStreamProps are copied into the file when recording starts.
var recordedStreamProps = []sensor.PropertyID{
	sensor.StreamPropHFOV,
	sensor.StreamPropVFOV,
	sensor.StreamPropMaxValue,
	sensor.StreamPropMinValue,
	sensor.StreamPropMirroring,
}

var recordedDeviceProps = []sensor.PropertyID{
	sensor.DevicePropFirmwareVersion,
	sensor.DevicePropSerialNumber,
	sensor.DevicePropImageRegistration,
	sensor.DevicePropFrameSync,
}

type attachment struct {
	stream  *sensor.Stream
	node    uint32
	lossy   bool
	written int
}

// queued is a frame waiting for the writer, or a barrier when ack is set.
type queued struct {
	att   *attachment
	frame *sensor.Frame
	ack   chan struct{}
}

// Recorder persists the frames of attached streams to a recording. Streams
// can only be attached before the first Start; after that the set is
// frozen. A single goroutine writes frames in the order each stream
// delivered them.
type Recorder struct {
	path string
	bus  *events.Bus
	log  *slog.Logger

	// opMu serializes Start, Stop and Destroy. stopLocked drops mu while
	// it waits for the writer, so mu alone does not.
	opMu sync.Mutex

	mu       sync.Mutex
	state    State
	attached []*attachment
	writer   *Writer
	untaps   []func()
	queue    chan queued
	quit     chan struct{}
	done     chan struct{}
	err      error
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithBus publishes recorder state changes on bus instead of the bus of
// the first attached stream's device.
func WithBus(bus *events.Bus) Option {
	return func(r *Recorder) { r.bus = bus }
}

// NewRecorder prepares a recording to path. The file is created by Start.
func NewRecorder(path string, opts ...Option) (*Recorder, error) {
	if path == "" {
		return nil, &sensor.Error{Code: sensor.CodeInvalidArgument, Op: "create recorder", Message: "empty path"}
	}
	r := &Recorder{
		path: path,
		log:  logging.GetLogger("recorder").With("path", path),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Path returns the output file.
func (r *Recorder) Path() string { return r.path }

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the first write error, if any. Frames after a write error are
// dropped.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Streams returns the attached streams in attach order.
func (r *Recorder) Streams() []*sensor.Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*sensor.Stream, len(r.attached))
	for i, a := range r.attached {
		out[i] = a.stream
	}
	return out
}

// FramesWritten returns how many frames of s reached the file. It stays
// valid after Destroy.
func (r *Recorder) FramesWritten(s *sensor.Stream) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attached {
		if a.stream == s {
			return a.written
		}
	}
	return 0
}

// AttachStream adds s to the recording. It fails with ErrIllegalState once
// the recorder has been started.
func (r *Recorder) AttachStream(s *sensor.Stream, allowLossyCompression bool) error {
	const op = "attach stream"
	if s == nil {
		return &sensor.Error{Code: sensor.CodeInvalidArgument, Op: op, Message: "nil stream"}
	}
	if s.State() == sensor.StateDestroyed {
		return &sensor.Error{Code: sensor.CodeInvalidArgument, Op: op, Message: "stream destroyed"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateCreated {
		return &sensor.Error{Code: sensor.CodeIllegalState, Op: op, Message: fmt.Sprintf("recorder is %s", r.state)}
	}
	for _, a := range r.attached {
		if a.stream == s {
			return &sensor.Error{Code: sensor.CodeInvalidArgument, Op: op, Message: "stream already attached"}
		}
	}
	r.attached = append(r.attached, &attachment{
		stream: s,
		node:   uint32(len(r.attached) + 1),
		lossy:  allowLossyCompression,
	})
	if r.bus == nil {
		r.bus = s.Device().Events()
	}
	return nil
}

// Start begins or resumes recording. The first Start creates the file and
// fails with ErrBackend when it cannot be written.
func (r *Recorder) Start() error {
	const op = "start recording"
	r.opMu.Lock()
	defer r.opMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.state
	switch prev {
	case StateRecording:
		return nil
	case StateDestroyed:
		return &sensor.Error{Code: sensor.CodeIllegalState, Op: op, Message: "recorder destroyed"}
	case StateCreated:
		if err := r.openLocked(); err != nil {
			return &sensor.Error{Code: sensor.CodeBackend, Op: op, Message: err.Error(), Cause: err}
		}
	}

	r.untaps = r.untaps[:0]
	for _, a := range r.attached {
		a := a
		r.untaps = append(r.untaps, a.stream.AddTap(func(f *sensor.Frame) { r.enqueue(a, f) }))
	}
	r.setStateLocked(StateRecording)
	r.log.Info("Recording started", "streams", len(r.attached), "resumed", prev == StateStopped)
	return nil
}

func (r *Recorder) openLocked() error {
	w, err := Create(r.path)
	if err != nil {
		return err
	}
	if len(r.attached) > 0 {
		dev := r.attached[0].stream.Device()
		if err := w.WriteDeviceInfo(dev.Info()); err != nil {
			w.Close()
			return err
		}
		for _, id := range recordedDeviceProps {
			if v, err := dev.GetProperty(id); err == nil {
				if err := w.WriteProperty(DeviceNode, Property{ID: id, Value: v}); err != nil {
					r.log.Debug("Skipping device property", "id", id, "error", err)
				}
			}
		}
	}
	for _, a := range r.attached {
		if err := w.AddNode(a.node, a.stream.Sensor(), a.stream.VideoMode()); err != nil {
			w.Close()
			return err
		}
		for _, id := range recordedStreamProps {
			if !a.stream.IsPropertySupported(id) {
				continue
			}
			if v, err := a.stream.GetProperty(id); err == nil {
				if err := w.WriteProperty(a.node, Property{ID: id, Value: v}); err != nil {
					r.log.Debug("Skipping stream property", "id", id, "error", err)
				}
			}
		}
	}

	r.writer = w
	r.queue = make(chan queued, queueSize)
	r.quit = make(chan struct{})
	r.done = make(chan struct{})
	go r.pump(w, r.queue, r.quit, r.done)
	r.log.Debug("Recording file created", "session", w.Session())
	return nil
}

// enqueue hands f to the writer goroutine, which releases it.
func (r *Recorder) enqueue(a *attachment, f *sensor.Frame) {
	select {
	case <-r.quit:
		f.Release()
		return
	default:
	}
	select {
	case r.queue <- queued{att: a, frame: f}:
	case <-r.quit:
		f.Release()
	}
}

func (r *Recorder) pump(w *Writer, queue <-chan queued, quit, done chan struct{}) {
	defer close(done)
	for {
		select {
		case item := <-queue:
			r.handle(w, item)
		case <-quit:
			for {
				select {
				case item := <-queue:
					r.handle(w, item)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) handle(w *Writer, item queued) {
	if item.ack != nil {
		close(item.ack)
		return
	}
	defer item.frame.Release()

	if r.Err() != nil {
		return
	}
	info, err := item.frame.Info()
	if err != nil {
		return
	}
	data, err := item.frame.Data()
	if err != nil {
		return
	}
	codec := ChooseCodec(info.VideoMode.PixelFormat, item.att.lossy)
	n, err := w.WriteFrame(item.att.node, info, data, codec)
	if err != nil {
		r.mu.Lock()
		if r.err == nil {
			r.err = err
		}
		r.mu.Unlock()
		r.log.Error("Failed to write frame", "sensor", info.Sensor.String(), "error", err)
		return
	}
	r.mu.Lock()
	item.att.written++
	r.mu.Unlock()
	metrics.FrameWritten(r.path, info.Sensor.String(), n)
}

// Stop pauses recording once every frame delivered so far is written.
// Stopping a recorder that is not recording does nothing.
func (r *Recorder) Stop() {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

func (r *Recorder) stopLocked() {
	if r.state != StateRecording {
		return
	}
	for _, untap := range r.untaps {
		untap()
	}
	r.untaps = r.untaps[:0]

	ack := make(chan struct{})
	r.mu.Unlock()
	r.queue <- queued{ack: ack}
	<-ack
	r.mu.Lock()

	if err := r.writer.Flush(); err != nil && r.err == nil {
		r.err = err
	}
	r.setStateLocked(StateStopped)
	r.log.Info("Recording stopped")
}

// Destroy stops recording, finalizes the file and releases it. Destroying
// twice is a no-op.
func (r *Recorder) Destroy() error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateDestroyed {
		return nil
	}
	r.stopLocked()

	var err error
	if r.writer != nil {
		close(r.quit)
		r.mu.Unlock()
		<-r.done
		r.mu.Lock()
		if err = r.writer.Close(); err != nil {
			err = &sensor.Error{Code: sensor.CodeBackend, Op: "finalize recording", Message: err.Error(), Cause: err}
		}
		r.writer = nil
	}
	r.setStateLocked(StateDestroyed)
	metrics.DeleteRecorderMetrics(r.path)
	return err
}

func (r *Recorder) setStateLocked(next State) {
	prev := r.state
	r.state = next
	if r.bus == nil || prev == next {
		return
	}
	r.bus.Publish(events.RecorderStateChangedEvent{
		Path:      r.path,
		OldState:  prev.String(),
		NewState:  next.String(),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
