package player

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/depthnode/internal/events"
	"github.com/smazurov/depthnode/internal/recording"
	"github.com/smazurov/depthnode/internal/sensor"
)

// manualWait bounds one wait for a trigger so Close is noticed.
const manualWait = 2 * time.Second

var errReadOnly = errors.New("recordings are read-only")

// track is the playback state of one recorded node.
type track struct {
	node    *recording.Node
	pos     int
	streams []*Stream
}

func (t *track) started() []*Stream {
	var out []*Stream
	for _, s := range t.streams {
		if s.isStarted() {
			out = append(out, s)
		}
	}
	return out
}

// Device replays one recording. A single goroutine merges the nodes by
// timestamp and paces them against the wall clock.
type Device struct {
	drv    *Driver
	uri    string
	reader *recording.Reader
	info   sensor.DeviceInfo
	log    *slog.Logger

	mu           sync.Mutex
	tracks       []*track
	speed        float64
	repeat       bool
	registration sensor.ImageRegistrationMode
	gen          uint64
	eof          bool
	closed       bool

	pace    pacer
	wake    chan struct{}
	trigger chan struct{}
	quit    chan struct{}
	done    chan struct{}
}

func newDevice(drv *Driver, uri string, r *recording.Reader) *Device {
	info := r.Device()
	info.URI = uri
	d := &Device{
		drv:     drv,
		uri:     uri,
		reader:  r,
		info:    info,
		log:     drv.log.With("uri", uri),
		speed:   1.0,
		repeat:  true,
		wake:    make(chan struct{}, 1),
		trigger: make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if v, ok := r.DeviceProperties()[sensor.DevicePropImageRegistration].(int); ok {
		if mode, err := sensor.ImageRegistrationModeFromCode(v); err == nil {
			d.registration = mode
		}
	}
	for _, n := range r.Nodes() {
		d.tracks = append(d.tracks, &track{node: n})
	}
	go d.run()
	return d
}

func (d *Device) Info() sensor.DeviceInfo { return d.info }

// Sensors reports one sensor per recorded node, offering only the recorded
// mode.
func (d *Device) Sensors() []sensor.SensorInfo {
	var out []sensor.SensorInfo
	seen := make(map[sensor.SensorType]bool)
	for _, t := range d.tracks {
		if seen[t.node.Sensor] {
			continue
		}
		seen[t.node.Sensor] = true
		out = append(out, sensor.SensorInfo{Type: t.node.Sensor, Modes: []sensor.VideoMode{t.node.Mode}})
	}
	return out
}

func (d *Device) CreateStream(st sensor.SensorType) (sensor.StreamBackend, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("recording closed")
	}
	for _, t := range d.tracks {
		if t.node.Sensor != st {
			continue
		}
		s := &Stream{dev: d, track: t}
		t.streams = append(t.streams, s)
		return s, nil
	}
	return nil, fmt.Errorf("recording has no %s stream", st)
}

func (d *Device) removeStream(s *Stream) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := s.track
	for i, x := range t.streams {
		if x == s {
			t.streams = append(t.streams[:i], t.streams[i+1:]...)
			return
		}
	}
}

func (d *Device) IsPropertySupported(id sensor.PropertyID) bool {
	switch id {
	case sensor.DevicePropPlaybackSpeed, sensor.DevicePropPlaybackRepeat, sensor.DevicePropImageRegistration:
		return true
	}
	_, ok := d.reader.DeviceProperties()[id]
	return ok
}

func (d *Device) GetProperty(id sensor.PropertyID) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch id {
	case sensor.DevicePropPlaybackSpeed:
		return d.speed, nil
	case sensor.DevicePropPlaybackRepeat:
		return d.repeat, nil
	case sensor.DevicePropImageRegistration:
		return d.registration, nil
	}
	v, ok := d.reader.DeviceProperties()[id]
	if !ok {
		return nil, fmt.Errorf("property %d was not recorded", id)
	}
	return v, nil
}

func (d *Device) SetProperty(id sensor.PropertyID, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch id {
	case sensor.DevicePropPlaybackSpeed:
		v, ok := value.(float64)
		if !ok {
			return fmt.Errorf("playback speed needs float64, got %T", value)
		}
		if v < 0 && v != sensor.SpeedManual {
			return fmt.Errorf("invalid playback speed %v", v)
		}
		d.speed = v
		d.pace.reset()
	case sensor.DevicePropPlaybackRepeat:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("playback repeat needs bool, got %T", value)
		}
		d.repeat = v
		if v {
			d.eof = false
		}
	case sensor.DevicePropImageRegistration:
		mode, ok := value.(sensor.ImageRegistrationMode)
		if !ok {
			return fmt.Errorf("registration needs ImageRegistrationMode, got %T", value)
		}
		d.registration = mode
	default:
		return errReadOnly
	}
	d.signal()
	return nil
}

func (d *Device) IsCommandSupported(cmd sensor.CommandID) bool {
	return cmd == sensor.CommandSeek
}

func (d *Device) Invoke(cmd sensor.CommandID, arg any) error {
	if cmd != sensor.CommandSeek {
		return fmt.Errorf("command %d not supported", cmd)
	}
	req, ok := arg.(sensor.SeekRequest)
	if !ok {
		return fmt.Errorf("seek needs SeekRequest, got %T", arg)
	}
	s, ok := req.Stream.(*Stream)
	if !ok || s.dev != d {
		return &sensor.Error{Code: sensor.CodeInvalidArgument, Message: "stream is not part of this recording"}
	}
	return d.seek(s.track, req.Index)
}

// seek positions track at frame index (1-based) and every other track at
// its last frame not later than that one.
func (d *Device) seek(target *track, index int64) error {
	d.mu.Lock()
	n := target.node.NumFrames()
	if index < 1 || index > int64(n) {
		d.mu.Unlock()
		return &sensor.Error{Code: sensor.CodeInvalidArgument, Message: fmt.Sprintf("frame %d out of range [1,%d]", index, n)}
	}
	ts := target.node.Timestamp(int(index - 1))
	var sinks []sensor.FrameSink
	for _, t := range d.tracks {
		if t == target {
			t.pos = int(index - 1)
		} else {
			t.pos = t.node.FrameAtTime(ts)
		}
		for _, s := range t.streams {
			if sink := s.currentSink(); sink != nil {
				sinks = append(sinks, sink)
			}
		}
	}
	d.gen++
	d.eof = false
	d.pace.reset()
	d.mu.Unlock()

	for _, sink := range sinks {
		sink.Reset()
	}
	d.signal()
	d.log.Debug("Seeked", "sensor", target.node.Sensor.String(), "index", index)
	return nil
}

// IsImageRegistrationModeSupported accepts OFF and the recorded mode.
func (d *Device) IsImageRegistrationModeSupported(mode sensor.ImageRegistrationMode) bool {
	if mode == sensor.RegistrationOff {
		return true
	}
	v, _ := d.reader.DeviceProperties()[sensor.DevicePropImageRegistration].(int)
	return v == mode.Code()
}

// IsFile marks the device as a recording.
func (d *Device) IsFile() bool { return true }

// Trigger releases one frame in manual mode.
func (d *Device) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

func (d *Device) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	var streams []*Stream
	for _, t := range d.tracks {
		streams = append(streams, t.streams...)
	}
	d.mu.Unlock()

	for _, s := range streams {
		s.Stop()
	}
	close(d.quit)
	<-d.done
	return d.reader.Close()
}

// nextLocked picks the track with the earliest next frame. ok is false
// when no stream is started; exhausted is true when every track has played
// its last frame.
func (d *Device) nextLocked() (best *track, ok, exhausted bool) {
	for _, t := range d.tracks {
		if len(t.started()) > 0 {
			ok = true
		}
		if t.pos >= t.node.NumFrames() {
			continue
		}
		if best == nil || t.node.Timestamp(t.pos) < best.node.Timestamp(best.pos) {
			best = t
		}
	}
	return best, ok, best == nil
}

// rewindLocked restarts every track and returns the sinks whose index
// baseline must be reset.
func (d *Device) rewindLocked() []sensor.FrameSink {
	var sinks []sensor.FrameSink
	for _, t := range d.tracks {
		t.pos = 0
		for _, s := range t.streams {
			if sink := s.currentSink(); sink != nil {
				sinks = append(sinks, sink)
			}
		}
	}
	d.gen++
	d.pace.reset()
	return sinks
}

// sleep waits for dur, returning false if woken or closed first.
func (d *Device) sleep(dur time.Duration) bool {
	if dur <= 0 {
		return true
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-d.wake:
		return false
	case <-d.quit:
		return false
	}
}

func (d *Device) idle() {
	select {
	case <-d.wake:
	case <-d.quit:
	}
}

func (d *Device) run() {
	defer close(d.done)
	for {
		select {
		case <-d.quit:
			return
		default:
		}

		d.mu.Lock()
		t, ok, exhausted := d.nextLocked()
		if !ok || (d.eof && exhausted) {
			d.mu.Unlock()
			d.idle()
			continue
		}
		if exhausted {
			if d.repeat {
				sinks := d.rewindLocked()
				d.mu.Unlock()
				for _, sink := range sinks {
					sink.Reset()
				}
				d.log.Debug("Recording rewound")
				continue
			}
			d.eof = true
			d.pace.reset()
			d.mu.Unlock()
			d.endOfFile()
			continue
		}
		if len(t.started()) == 0 {
			// keep unread tracks in step with the played ones
			t.pos++
			d.mu.Unlock()
			continue
		}
		gen, pos, speed := d.gen, t.pos, d.speed
		ts := t.node.Timestamp(pos)
		wait := d.pace.delay(ts, speed, time.Now())
		d.mu.Unlock()

		if speed == sensor.SpeedManual {
			if !d.awaitTrigger() {
				continue
			}
		} else if !d.sleep(wait) {
			continue
		}

		d.mu.Lock()
		if gen != d.gen || t.pos != pos {
			d.mu.Unlock()
			continue
		}
		t.pos++
		d.pace.advance(ts, time.Now())
		streams := t.started()
		d.mu.Unlock()

		d.play(t.node, pos, streams)
	}
}

// awaitTrigger blocks until a trigger arrives. It returns false when woken
// for another reason so the caller re-evaluates.
func (d *Device) awaitTrigger() bool {
	timer := time.NewTimer(manualWait)
	defer timer.Stop()
	select {
	case <-d.trigger:
		return true
	case <-d.wake:
		return false
	case <-d.quit:
		return false
	case <-timer.C:
		return false
	}
}

// play decodes frame pos of node once per started stream and delivers it,
// numbered from 1.
func (d *Device) play(node *recording.Node, pos int, streams []*Stream) {
	_, size, err := d.reader.FrameInfo(node, pos)
	if err != nil {
		d.fail(streams, err)
		return
	}
	for _, s := range streams {
		s.deliver(func(sink sensor.FrameSink) error {
			f := sink.Allocate(size)
			buf, err := f.Data()
			if err != nil {
				f.Release()
				return err
			}
			info, err := d.reader.ReadFrame(node, pos, buf)
			if err != nil {
				f.Release()
				return err
			}
			info.Index = int64(pos) + 1
			sink.Deliver(f, info)
			return nil
		})
	}
}

func (d *Device) fail(streams []*Stream, err error) {
	d.log.Error("Failed to read recorded frame", "error", err)
	for _, s := range streams {
		if sink := s.currentSink(); sink != nil {
			sink.Fail(err)
		}
	}
}

func (d *Device) endOfFile() {
	d.log.Info("Playback reached end of recording")
	if d.drv.bus == nil {
		return
	}
	d.drv.bus.Publish(events.PlaybackEndedEvent{
		URI:       d.uri,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
