// Package streams runs the daemon's configured streams: it opens their
// devices, reads every frame in a consumer loop and optionally records them.
package streams

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/smazurov/depthnode/internal/config"
	"github.com/smazurov/depthnode/internal/logging"
	"github.com/smazurov/depthnode/internal/recording"
	"github.com/smazurov/depthnode/internal/sensor"
	"golang.org/x/sync/errgroup"
)

// ConsumerState represents the state of a stream's consumer loop.
type ConsumerState string

// Consumer states.
const (
	ConsumerStateIdle    ConsumerState = "idle"    // Not running
	ConsumerStateRunning ConsumerState = "running" // Reading frames
	ConsumerStateError   ConsumerState = "error"   // Failed to start or read
)

// ConsumerInfo is a snapshot of one configured stream.
type ConsumerInfo struct {
	StreamID  string        `json:"stream_id"`
	URI       string        `json:"uri"`
	Sensor    string        `json:"sensor"`
	State     ConsumerState `json:"state"`
	Handle    uint64        `json:"handle,omitempty"`
	Frames    uint64        `json:"frames"`
	LastIndex int64         `json:"last_index"`
	// CenterValue is the middle pixel of the last depth frame.
	CenterValue uint16    `json:"center_value,omitempty"`
	Recording   string    `json:"recording,omitempty"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
}

type consumer struct {
	cfg      config.StreamConfig
	stream   *sensor.Stream
	recorder *recording.Recorder

	state     ConsumerState
	startedAt time.Time
	frames    uint64
	lastIndex int64
	center    uint16
	lastError error
}

// Manager owns the devices, streams and recorders of the configured streams.
type Manager struct {
	sensors *sensor.Context
	cfg     *config.StreamsConfig
	logger  *slog.Logger

	mu        sync.RWMutex
	consumers map[string]*consumer
	devices   map[string]*sensor.Device

	cancel context.CancelFunc
	group  errgroup.Group
}

// NewManager creates a manager for the enabled streams of cfg.
func NewManager(sensors *sensor.Context, cfg *config.StreamsConfig) *Manager {
	return &Manager{
		sensors:   sensors,
		cfg:       cfg,
		logger:    logging.GetLogger("streams"),
		consumers: make(map[string]*consumer),
		devices:   make(map[string]*sensor.Device),
	}
}

// StartAll starts every enabled stream. A stream that fails to start is
// kept in the error state and the others still start; the failures are
// returned joined.
func (m *Manager) StartAll(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		cancel()
		return NewStreamError(ErrCodeStreamExists, "streams already started", nil)
	}
	m.cancel = cancel
	m.mu.Unlock()

	var errs []error
	for _, sc := range m.cfg.EnabledStreams() {
		if err := m.start(ctx, runCtx, sc); err != nil {
			m.logger.Error("Failed to start stream", "stream_id", sc.ID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) start(ctx, runCtx context.Context, sc config.StreamConfig) error {
	c := &consumer{cfg: sc, state: ConsumerStateIdle}
	m.mu.Lock()
	m.consumers[sc.ID] = c
	m.mu.Unlock()

	fail := func(code, msg string, err error) error {
		serr := NewStreamError(code, fmt.Sprintf("stream %s: %s", sc.ID, msg), err)
		m.mu.Lock()
		c.state = ConsumerStateError
		c.lastError = serr
		m.mu.Unlock()
		return serr
	}

	t, err := sc.SensorType()
	if err != nil {
		return fail(ErrCodeConfigError, "invalid sensor", err)
	}
	dev, err := m.device(ctx, sc.Device)
	if err != nil {
		return fail(ErrCodeDeviceError, "open device", err)
	}
	stream, err := dev.CreateStream(t)
	if err != nil {
		return fail(ErrCodeDeviceError, "create stream", err)
	}
	m.mu.Lock()
	c.stream = stream
	m.mu.Unlock()

	if mode, ok, _ := sc.VideoMode(); ok {
		if err := stream.SetVideoMode(mode); err != nil {
			return fail(ErrCodeConfigError, "set video mode", err)
		}
	}
	if sc.Mirroring {
		if err := stream.SetMirroring(true); err != nil {
			m.logger.Warn("Mirroring not applied", "stream_id", sc.ID, "error", err)
		}
	}

	if sc.Record {
		rec, err := m.newRecorder(sc.ID, stream)
		if err != nil {
			return fail(ErrCodeRecorderError, "create recorder", err)
		}
		m.mu.Lock()
		c.recorder = rec
		m.mu.Unlock()
	}

	if err := stream.Start(); err != nil {
		return fail(ErrCodeDeviceError, "start stream", err)
	}
	if c.recorder != nil {
		if err := c.recorder.Start(); err != nil {
			return fail(ErrCodeRecorderError, "start recorder", err)
		}
	}

	m.mu.Lock()
	c.state = ConsumerStateRunning
	c.startedAt = time.Now()
	m.mu.Unlock()

	m.group.Go(func() error {
		m.consume(runCtx, c)
		return nil
	})
	m.logger.Info("Stream started", "stream_id", sc.ID, "uri", sc.Device, "sensor", t, "mode", stream.VideoMode())
	return nil
}

// device opens uri once and shares it between the streams that name it.
func (m *Manager) device(ctx context.Context, uri string) (*sensor.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dev, ok := m.devices[uri]; ok {
		return dev, nil
	}
	dev, err := m.sensors.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	m.devices[uri] = dev
	return dev, nil
}

func (m *Manager) newRecorder(id string, stream *sensor.Stream) (*recording.Recorder, error) {
	folder := m.cfg.Recording.Folder
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, fmt.Errorf("create recording folder: %w", err)
	}
	name := fmt.Sprintf("%s-%s.dnr", id, time.Now().Format("20060102-150405"))
	rec, err := recording.NewRecorder(filepath.Join(folder, name), recording.WithBus(m.sensors.Events()))
	if err != nil {
		return nil, err
	}
	if err := rec.AttachStream(stream, m.cfg.Recording.Lossy); err != nil {
		return nil, err
	}
	return rec, nil
}

// consume reads frames until ctx is done or the stream stops or fails.
func (m *Manager) consume(ctx context.Context, c *consumer) {
	id := c.cfg.ID
	for {
		f, err := c.stream.ReadFrame(ctx)
		if err != nil {
			m.mu.Lock()
			defer m.mu.Unlock()
			if ctx.Err() != nil || errors.Is(err, sensor.ErrIllegalState) {
				c.state = ConsumerStateIdle
				return
			}
			c.state = ConsumerStateError
			c.lastError = err
			m.logger.Error("Stream consumer stopped", "stream_id", id, "error", sensor.ExtendedError(err))
			return
		}

		info, infoErr := f.Info()
		var center uint16
		if infoErr == nil && info.VideoMode.PixelFormat.IsDepth() {
			center, _ = f.DepthAt(info.Width/2, info.Height/2)
		}
		f.Release()

		m.mu.Lock()
		c.frames++
		if infoErr == nil {
			c.lastIndex = info.Index
			c.center = center
		}
		m.mu.Unlock()
	}
}

// StopAll stops the consumers, finalizes recordings and closes devices.
func (m *Manager) StopAll() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	_ = m.group.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.consumers {
		if c.recorder != nil {
			if err := c.recorder.Destroy(); err != nil {
				m.logger.Error("Failed to finalize recording", "stream_id", id, "path", c.recorder.Path(), "error", err)
			}
		}
		if c.stream != nil {
			c.stream.Destroy()
		}
		c.state = ConsumerStateIdle
	}
	for uri, dev := range m.devices {
		if err := dev.Close(); err != nil {
			m.logger.Warn("Failed to close device", "uri", uri, "error", err)
		}
	}
	m.devices = make(map[string]*sensor.Device)
	m.logger.Info("All streams stopped", "count", len(m.consumers))
}

// Status returns the snapshot of one configured stream.
func (m *Manager) Status(id string) (*ConsumerInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.consumers[id]
	if !ok {
		return nil, NewStreamError(ErrCodeStreamNotFound, fmt.Sprintf("stream %s not found", id), nil)
	}
	info := c.infoLocked()
	return &info, nil
}

// List returns every configured stream ordered by ID.
func (m *Manager) List() []ConsumerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ConsumerInfo, 0, len(m.consumers))
	for _, c := range m.consumers {
		out = append(out, c.infoLocked())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out
}

// Recorders returns the recorders of streams configured to record.
func (m *Manager) Recorders() []*recording.Recorder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.consumers))
	for id, c := range m.consumers {
		if c.recorder != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]*recording.Recorder, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.consumers[id].recorder)
	}
	return out
}

func (c *consumer) infoLocked() ConsumerInfo {
	info := ConsumerInfo{
		StreamID:    c.cfg.ID,
		URI:         c.cfg.Device,
		Sensor:      c.cfg.Sensor,
		State:       c.state,
		Frames:      c.frames,
		LastIndex:   c.lastIndex,
		CenterValue: c.center,
		StartedAt:   c.startedAt,
	}
	if c.stream != nil {
		info.Handle = c.stream.ID()
		info.Sensor = c.stream.Sensor().String()
	}
	if c.recorder != nil {
		info.Recording = c.recorder.Path()
	}
	if c.lastError != nil {
		info.LastError = c.lastError.Error()
	}
	return info
}
