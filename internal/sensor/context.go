// Package sensor is the frame acquisition core: devices, streams of
// reference-counted frames, multi-stream waiting and playback control over
// pluggable drivers.
//
// A Context owns the drivers, the frame pool and the event bus:
//
//	sctx, err := sensor.New(sensor.Options{Drivers: []sensor.Driver{synthetic.NewDriver(nil)}})
//	if err != nil { ... }
//	defer sctx.Shutdown()
//
//	dev, err := sctx.Open(ctx, "")
//	depth, err := dev.CreateStream(sensor.SensorDepth)
//	err = depth.Start()
//	frame, err := depth.ReadFrame(ctx)
//	defer frame.Release()
package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/depthnode/internal/events"
	"github.com/smazurov/depthnode/internal/logging"
	"github.com/smazurov/depthnode/internal/sensor/handle"
)

// Options configures a Context.
type Options struct {
	Drivers []Driver
	// Bus receives device and stream events. A private bus is created when
	// nil; it is closed by Shutdown either way.
	Bus *events.Bus
}

// Context is the entry point: it enumerates and opens devices through its
// drivers and tears everything down on Shutdown.
type Context struct {
	drivers []Driver
	pool    *FramePool
	bus     *events.Bus
	log     *slog.Logger

	devices *handle.Table[*Device]
	streams *handle.Table[*Stream]

	watchCtx    context.Context
	watchCancel context.CancelFunc
	watchWG     sync.WaitGroup

	mu       sync.Mutex
	shutdown bool
}

// New creates a Context and starts hotplug watchers of drivers that
// implement Watcher.
func New(opts Options) (*Context, error) {
	if len(opts.Drivers) == 0 {
		return nil, newError(CodeInvalidArgument, "init", "no drivers")
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.New()
	}
	c := &Context{
		drivers: opts.Drivers,
		pool:    NewFramePool(),
		bus:     bus,
		log:     logging.GetLogger("sensor"),
		devices: handle.New[*Device](),
		streams: handle.New[*Stream](),
	}
	c.watchCtx, c.watchCancel = context.WithCancel(context.Background())

	for _, d := range opts.Drivers {
		w, ok := d.(Watcher)
		if !ok {
			continue
		}
		c.watchWG.Add(1)
		go func(name string) {
			defer c.watchWG.Done()
			if err := w.Watch(c.watchCtx, c); err != nil && !errors.Is(err, context.Canceled) {
				c.log.Error("Driver watcher stopped", "driver", name, "error", err)
			}
		}(d.Name())
	}

	c.log.Info("Sensor context initialized", "drivers", len(opts.Drivers))
	return c, nil
}

// Events returns the context's event bus.
func (c *Context) Events() *events.Bus { return c.bus }

// Pool returns the frame pool shared by all streams of this context.
func (c *Context) Pool() *FramePool { return c.pool }

// Devices lists the devices every driver can see.
func (c *Context) Devices(ctx context.Context) ([]DeviceInfo, error) {
	if err := c.checkRunning("enumerate"); err != nil {
		return nil, err
	}
	var out []DeviceInfo
	for _, d := range c.drivers {
		infos, err := d.Enumerate(ctx)
		if err != nil {
			c.log.Warn("Driver enumeration failed", "driver", d.Name(), "error", err)
			continue
		}
		out = append(out, infos...)
	}
	return out, nil
}

// Open opens uri. An empty uri opens the first device any driver reports
// and fails with ErrNoDevice when there is none.
func (c *Context) Open(ctx context.Context, uri string) (*Device, error) {
	const op = "open device"
	if err := c.checkRunning(op); err != nil {
		return nil, err
	}

	if uri == "" {
		infos, err := c.Devices(ctx)
		if err != nil {
			return nil, err
		}
		if len(infos) == 0 {
			return nil, newError(CodeNoDevice, op, "no devices found")
		}
		uri = infos[0].URI
	}

	for _, drv := range c.drivers {
		if !drv.Probe(uri) {
			continue
		}
		backend, err := drv.Open(ctx, uri)
		if err != nil {
			return nil, backendError(op, err)
		}
		return c.addDevice(drv, backend), nil
	}
	return nil, newError(CodeNoDevice, op, fmt.Sprintf("no driver accepts %q", uri))
}

func (c *Context) addDevice(drv Driver, backend DeviceBackend) *Device {
	info := backend.Info()
	fb, isFile := backend.(FileBackend)
	d := &Device{
		ctx:     c,
		backend: backend,
		info:    info,
		sensors: backend.Sensors(),
		isFile:  isFile && fb.IsFile(),
		streams: make(map[*Stream]struct{}),
		started: make(map[SensorType]int),
	}
	d.id = c.devices.Insert(d)
	d.log = c.log.With("uri", info.URI, "driver", drv.Name())
	d.log.Info("Device opened", "name", info.Name, "sensors", len(d.sensors))
	return d
}

// OpenDevices returns the devices currently open.
func (c *Context) OpenDevices() []*Device {
	var out []*Device
	c.devices.Each(func(_ handle.Handle, d *Device) { out = append(out, d) })
	return out
}

// OpenStreams returns every stream not yet destroyed.
func (c *Context) OpenStreams() []*Stream {
	var out []*Stream
	c.streams.Each(func(_ handle.Handle, s *Stream) { out = append(out, s) })
	return out
}

// StreamByID resolves a stream ID returned by Stream.ID.
func (c *Context) StreamByID(id uint64) (*Stream, error) {
	s, err := c.streams.Get(handle.FromID(id))
	if err != nil {
		return nil, newError(CodeInvalidArgument, "stream lookup", fmt.Sprintf("no stream %d", id))
	}
	return s, nil
}

// OnDeviceConnected registers fn for device arrivals.
func (c *Context) OnDeviceConnected(fn func(DeviceInfo)) func() {
	return c.bus.Subscribe(func(e events.DeviceConnectedEvent) {
		fn(DeviceInfo{URI: e.URI, Name: e.Name, Vendor: e.Vendor})
	})
}

// OnDeviceDisconnected registers fn for device removals.
func (c *Context) OnDeviceDisconnected(fn func(uri string)) func() {
	return c.bus.Subscribe(func(e events.DeviceDisconnectedEvent) {
		fn(e.URI)
	})
}

// OnDeviceStateChanged registers fn for device state changes.
func (c *Context) OnDeviceStateChanged(fn func(uri string, state DeviceState)) func() {
	return c.bus.Subscribe(func(e events.DeviceStateChangedEvent) {
		fn(e.URI, DeviceState(e.State))
	})
}

// Connected implements HotplugNotifier.
func (c *Context) Connected(info DeviceInfo) {
	c.log.Info("Device connected", "uri", info.URI, "name", info.Name)
	c.bus.Publish(events.DeviceConnectedEvent{
		URI:       info.URI,
		Name:      info.Name,
		Vendor:    info.Vendor,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// Disconnected implements HotplugNotifier. Open devices with uri are not
// closed; their streams fail on the next backend error.
func (c *Context) Disconnected(uri string) {
	c.log.Info("Device disconnected", "uri", uri)
	c.bus.Publish(events.DeviceDisconnectedEvent{
		URI:       uri,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// StateChanged implements HotplugNotifier.
func (c *Context) StateChanged(uri string, state DeviceState) {
	c.log.Info("Device state changed", "uri", uri, "state", state)
	c.bus.Publish(events.DeviceStateChangedEvent{
		URI:       uri,
		State:     string(state),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// Shutdown destroys every stream, closes every device, stops the driver
// watchers and closes the event bus. Calling it again does nothing.
func (c *Context) Shutdown() {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	c.shutdown = true
	c.mu.Unlock()

	for _, s := range c.OpenStreams() {
		s.Destroy()
	}
	for _, d := range c.OpenDevices() {
		_ = d.Close()
	}
	c.watchCancel()
	c.watchWG.Wait()
	c.bus.Close()

	stats := c.pool.Stats()
	c.log.Info("Sensor context shut down", "frames_allocated", stats.Allocated, "frames_in_use", stats.InUse)
}

func (c *Context) checkRunning(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return newError(CodeIllegalState, op, "context shut down")
	}
	return nil
}
