// Package logging provides module-scoped structured loggers built on log/slog.
//
// Each module gets its own *slog.Logger tagged with a "module" attribute and
// backed by a slog.LevelVar, so levels can change at runtime without
// recreating loggers:
//
//	logger := logging.GetLogger("sensor").With("uri", dev.URI())
//	logger.Debug("stream started", "sensor", sensor)
//
// Outputs are selected in Config: console (stdout), a file in Folder, and the
// systemd journal. Every record is also kept in an in-memory ring buffer that
// the status API serves at /api/logs.
//
// Example TOML:
//
//	[logging]
//	level = "info"
//	format = "text"
//	console = true
//	file = true
//	folder = "/var/log/depthnode"
//
//	[logging.modules]
//	sensor = "debug"
//	recording = "warn"
//
// View journal output with:
//
//	journalctl -t depthnode MODULE=sensor
package logging
