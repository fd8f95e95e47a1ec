// Package synthetic is a live device driver that generates depth, color and
// IR frames at the rate of the selected video mode. Devices come from a TOML
// profile; when the profile file changes, added and removed devices are
// reported as hotplug events.
package synthetic

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/depthnode/internal/config"
	"github.com/smazurov/depthnode/internal/logging"
	"github.com/smazurov/depthnode/internal/sensor"
)

// Driver serves the devices of a Profile.
type Driver struct {
	path     string
	debounce time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	profile Profile
	open    map[string][]*Device
}

// NewDriver serves profile, or DefaultProfile when profile is nil.
func NewDriver(profile *Profile) *Driver {
	p := DefaultProfile()
	if profile != nil {
		p = *profile
	}
	return &Driver{
		profile:  p,
		debounce: 500 * time.Millisecond,
		log:      logging.GetLogger("synthetic"),
		open:     make(map[string][]*Device),
	}
}

// NewDriverFromFile loads the profile at path and watches it for changes
// once the driver is handed to a sensor context.
func NewDriverFromFile(path string) (*Driver, error) {
	p, err := LoadProfile(path)
	if err != nil {
		return nil, err
	}
	d := NewDriver(&p)
	d.path = path
	return d, nil
}

// SetDebounce changes how long the profile watcher waits for writes to
// settle.
func (d *Driver) SetDebounce(v time.Duration) { d.debounce = v }

func (d *Driver) Name() string { return "synthetic" }

func (d *Driver) Enumerate(context.Context) ([]sensor.DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]sensor.DeviceInfo, 0, len(d.profile.Devices))
	for _, dev := range d.profile.Devices {
		out = append(out, dev.info())
	}
	return out, nil
}

// Probe claims synthetic URIs present in the current profile.
func (d *Driver) Probe(uri string) bool {
	if !strings.HasPrefix(uri, Scheme) {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.profile.device(uri)
	return ok
}

func (d *Driver) Open(_ context.Context, uri string) (sensor.DeviceBackend, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.profile.device(uri)
	if !ok {
		return nil, fmt.Errorf("synthetic device %s not present", uri)
	}
	dev := newDevice(d, p)
	d.open[uri] = append(d.open[uri], dev)
	d.log.Debug("Synthetic device opened", "uri", uri, "serial", p.Serial)
	return dev, nil
}

func (d *Driver) closed(dev *Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.open[dev.profile.URI]
	for i, o := range list {
		if o == dev {
			d.open[dev.profile.URI] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(d.open[dev.profile.URI]) == 0 {
		delete(d.open, dev.profile.URI)
	}
}

// Watch reloads the profile file on change and reports the difference.
// Without a profile file it only waits for ctx.
func (d *Driver) Watch(ctx context.Context, notify sensor.HotplugNotifier) error {
	if d.path == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	w := config.NewConfigWatcher(d.path, LoadProfile, d.log,
		config.WithDebounce[Profile](d.debounce),
		config.WithErrorHandler[Profile](func(err error) {
			d.log.Warn("Ignoring invalid synthetic profile", "path", d.path, "error", err)
		}),
	)
	w.OnReload(func(p Profile) { d.apply(p, notify) })
	if err := w.Start(); err != nil {
		return fmt.Errorf("watch profile: %w", err)
	}
	<-ctx.Done()
	if err := w.Stop(); err != nil {
		d.log.Warn("Failed to stop profile watcher", "error", err)
	}
	return ctx.Err()
}

// apply swaps in p and reports removed, then added devices. Open devices
// whose URI disappeared fail their started streams.
func (d *Driver) apply(p Profile, notify sensor.HotplugNotifier) {
	d.mu.Lock()
	old := d.profile
	d.profile = p
	var unplugged []*Device
	for _, od := range old.Devices {
		if _, ok := p.device(od.URI); !ok {
			unplugged = append(unplugged, d.open[od.URI]...)
		}
	}
	d.mu.Unlock()

	for _, dev := range unplugged {
		dev.unplug()
	}

	removed, added := diffProfiles(old, p)
	for _, uri := range removed {
		d.log.Info("Synthetic device removed", "uri", uri)
		notify.Disconnected(uri)
	}
	for _, info := range added {
		d.log.Info("Synthetic device added", "uri", info.URI)
		notify.Connected(info)
	}
}

// diffProfiles returns the URIs only in old and the devices only in p,
// both sorted by URI.
func diffProfiles(old, p Profile) (removed []string, added []sensor.DeviceInfo) {
	for _, od := range old.Devices {
		if _, ok := p.device(od.URI); !ok {
			removed = append(removed, od.URI)
		}
	}
	for _, nd := range p.Devices {
		if _, ok := old.device(nd.URI); !ok {
			added = append(added, nd.info())
		}
	}
	sort.Strings(removed)
	sort.Slice(added, func(i, j int) bool { return added[i].URI < added[j].URI })
	return removed, added
}
