package cmd

import (
	"fmt"
	"strings"

	"github.com/smazurov/depthnode/internal/events"
	"github.com/smazurov/depthnode/internal/logging"
	"github.com/smazurov/depthnode/internal/player"
	"github.com/smazurov/depthnode/internal/sensor"
	"github.com/smazurov/depthnode/internal/synthetic"
)

// NewSensorContext creates a context serving recordings and synthetic
// devices. With a profile path the synthetic devices come from that file
// and follow its changes; otherwise the default profile is used.
func NewSensorContext(profile string) (*sensor.Context, error) {
	bus := events.New()

	syn := synthetic.NewDriver(nil)
	if profile != "" {
		var err error
		if syn, err = synthetic.NewDriverFromFile(profile); err != nil {
			bus.Close()
			return nil, fmt.Errorf("load device profile: %w", err)
		}
	}

	sctx, err := sensor.New(sensor.Options{
		Drivers: []sensor.Driver{player.NewDriver(player.WithBus(bus)), syn},
		Bus:     bus,
	})
	if err != nil {
		bus.Close()
		return nil, err
	}
	return sctx, nil
}

// initCLILogging sets up console-only logging for one-shot commands.
func initCLILogging(verbose bool) {
	cfg := logging.DefaultConfig()
	cfg.Journal = false
	cfg.Level = "warn"
	if verbose {
		cfg.Level = "debug"
	}
	_ = logging.Initialize(cfg)
}

// parseSensors parses a comma-separated sensor list.
func parseSensors(list string) ([]sensor.SensorType, error) {
	var out []sensor.SensorType
	seen := make(map[sensor.SensorType]bool)
	for name := range strings.SplitSeq(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		t, err := sensor.ParseSensorType(name)
		if err != nil {
			return nil, err
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no sensors in %q", list)
	}
	return out, nil
}
