package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/depthnode/cmd"
	"github.com/smazurov/depthnode/internal/api"
	"github.com/smazurov/depthnode/internal/config"
	"github.com/smazurov/depthnode/internal/logging"
	"github.com/smazurov/depthnode/internal/metrics/exporters"
	"github.com/smazurov/depthnode/internal/streams"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Device and stream settings
	DevicesProfile    string `help:"Synthetic device profile (TOML)" default:"" toml:"devices.profile" env:"DEVICES_PROFILE"`
	StreamsConfigFile string `help:"Stream definitions file" default:"streams.toml" toml:"streams.config_file" env:"STREAMS_CONFIG_FILE"`

	// Metrics settings
	MetricsPrometheusEnabled bool   `help:"Serve Prometheus metrics on /metrics" default:"true" toml:"metrics.prometheus_enabled" env:"METRICS_PROMETHEUS_ENABLED"`
	MetricsSSEEnabled        bool   `help:"Publish stream counters on the events stream" default:"true" toml:"metrics.sse_enabled" env:"METRICS_SSE_ENABLED"`
	MetricsSSEInterval       string `help:"Stream counter publish interval" default:"1s" toml:"metrics.sse_interval" env:"METRICS_SSE_INTERVAL"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings; per-module levels live in the [logging.modules] table
	LoggingLevel  string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		loggingConfig := config.LoadLoggingConfig(opts.Config)
		loggingConfig.Level = opts.LoggingLevel
		loggingConfig.Format = opts.LoggingFormat
		if initErr := logging.Initialize(loggingConfig); initErr != nil {
			slog.Warn("Failed to initialize logging", "error", initErr)
		}
		logger := logging.GetLogger("main")

		// Log levels follow the config file without a restart.
		configWatcher := config.NewConfigWatcher(opts.Config,
			func(path string) (logging.Config, error) { return config.LoadLoggingConfig(path), nil },
			logger,
		)
		configWatcher.OnReload(func(c logging.Config) {
			logging.Reconfigure(c.Level, c.Modules)
			logger.Info("Logging levels reloaded", "level", c.Level)
		})

		sensors, err := cmd.NewSensorContext(opts.DevicesProfile)
		if err != nil {
			logger.Error("Failed to create sensor context", "error", err)
			os.Exit(1)
		}

		streamsConfig, err := config.LoadStreams(opts.StreamsConfigFile)
		if err != nil {
			logger.Error("Failed to load streams configuration", "error", err, "config", opts.StreamsConfigFile)
			os.Exit(1)
		}
		streamManager := streams.NewManager(sensors, streamsConfig)

		apiOpts := &api.Options{
			AuthUsername: opts.AuthUsername,
			AuthPassword: opts.AuthPassword,
			Sensors:      sensors,
			Recorders:    streamManager,
			Consumers:    streamManager,
		}
		if opts.MetricsPrometheusEnabled {
			apiOpts.PrometheusHandler = exporters.HTTPHandler()
		}
		server := api.NewServer(apiOpts)

		var sseExporter *exporters.SSEExporter
		if opts.MetricsSSEEnabled {
			sseExporter = exporters.NewSSEExporter(sensors.Events())
			if interval, parseErr := time.ParseDuration(opts.MetricsSSEInterval); parseErr == nil {
				sseExporter.SetInterval(interval)
			} else {
				logger.Warn("Invalid metrics SSE interval, using default", "value", opts.MetricsSSEInterval)
			}
		}

		hooks.OnStart(func() {
			if _, statErr := os.Stat(opts.Config); statErr == nil {
				if startErr := configWatcher.Start(); startErr != nil {
					logger.Warn("Failed to watch config file", "error", startErr)
				}
			}

			if startErr := streamManager.StartAll(context.Background()); startErr != nil {
				logger.Warn("Some streams failed to start", "error", startErr)
			}

			if sseExporter != nil {
				sseExporter.Start(context.Background())
			}

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}
			if sseExporter != nil {
				sseExporter.Stop()
			}

			// Finalizes recordings before the devices go away.
			streamManager.StopAll()
			sensors.Shutdown()

			if stopErr := configWatcher.Stop(); stopErr != nil {
				logger.Warn("Error stopping config watcher", "error", stopErr)
			}
			if closeErr := logging.Close(); closeErr != nil {
				slog.Warn("Error closing log file", "error", closeErr)
			}
		})
	})

	cli.Root().AddCommand(cmd.CreateDevicesCmd())
	cli.Root().AddCommand(cmd.CreateRecordCmd())
	cli.Root().AddCommand(cmd.CreatePlayCmd())

	cli.Run()
}
