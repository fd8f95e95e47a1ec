// Package player opens recordings as file-backed devices. A recording is
// claimed by its magic bytes, so any path can be opened through
// sensor.Context.Open.
package player

import (
	"context"
	"log/slog"
	"strings"

	"github.com/smazurov/depthnode/internal/events"
	"github.com/smazurov/depthnode/internal/logging"
	"github.com/smazurov/depthnode/internal/recording"
	"github.com/smazurov/depthnode/internal/sensor"
)

const fileScheme = "file://"

// Driver replays recordings.
type Driver struct {
	bus *events.Bus
	log *slog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithBus publishes end-of-file events on bus. Pass the bus given to
// sensor.Options so consumers of the context see them.
func WithBus(bus *events.Bus) Option {
	return func(d *Driver) { d.bus = bus }
}

func NewDriver(opts ...Option) *Driver {
	d := &Driver{log: logging.GetLogger("player")}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) Name() string { return "player" }

// Enumerate lists nothing: recordings are opened by path only.
func (d *Driver) Enumerate(context.Context) ([]sensor.DeviceInfo, error) {
	return nil, nil
}

func (d *Driver) Probe(uri string) bool {
	return uri != "" && recording.IsRecording(pathOf(uri))
}

func (d *Driver) Open(_ context.Context, uri string) (sensor.DeviceBackend, error) {
	r, err := recording.Open(pathOf(uri))
	if err != nil {
		return nil, err
	}
	dev := newDevice(d, uri, r)
	d.log.Info("Recording opened", "uri", uri, "streams", len(r.Nodes()), "finalized", r.Finalized())
	return dev, nil
}

func pathOf(uri string) string {
	return strings.TrimPrefix(uri, fileScheme)
}
