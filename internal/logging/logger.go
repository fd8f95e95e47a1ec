package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	defaultBufferSize = 1000
	logFileName       = "depthnode.log"
)

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config selects the minimum severity, per-module overrides and the outputs
// log records are written to.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`

	// Console writes to stdout. File writes to Folder/depthnode.log.
	// Journal writes to the systemd journal when it is reachable.
	Console bool   `toml:"console"`
	File    bool   `toml:"file"`
	Journal bool   `toml:"journal"`
	Folder  string `toml:"folder"`
}

// DefaultConfig logs info and above to the console and the journal.
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Format:  "text",
		Console: true,
		Journal: true,
	}
}

var (
	mutex           sync.RWMutex
	moduleLoggers   = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	globalConfig    = DefaultConfig()
	globalLevelVar  = &slog.LevelVar{}
	isInitialized   bool
	logBuffer       = NewRingBuffer(defaultBufferSize)
	logFile         *os.File
)

// Initialize applies config to the default logger and every module logger
// created so far. It may be called again to reconfigure.
func Initialize(config Config) error {
	mutex.Lock()
	defer mutex.Unlock()

	if err := openLogFile(config); err != nil {
		return err
	}

	globalConfig = config
	isInitialized = true

	globalLevelVar.Set(levelOr(config.Level, slog.LevelInfo))

	for module, levelVar := range moduleLevelVars {
		levelVar.Set(moduleLevel(config, module))
		moduleLoggers[module] = slog.New(createHandler(config, levelVar)).With("module", module)
	}

	slog.SetDefault(slog.New(createHandler(config, globalLevelVar)))
	return nil
}

// Reconfigure changes levels without touching outputs. It is what the config
// watcher calls when the logging section of the file changes.
func Reconfigure(level string, modules map[string]string) {
	mutex.Lock()
	defer mutex.Unlock()

	globalConfig.Level = level
	globalConfig.Modules = modules
	globalLevelVar.Set(levelOr(level, slog.LevelInfo))
	for module, levelVar := range moduleLevelVars {
		levelVar.Set(moduleLevel(globalConfig, module))
	}
}

// Close flushes and closes the log file, if any.
func Close() error {
	mutex.Lock()
	defer mutex.Unlock()
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// GetBuffer returns the in-memory history of recent log entries.
func GetBuffer() *RingBuffer {
	return logBuffer
}

// GetLogger returns the logger for module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	mutex.RLock()
	logger, ok := moduleLoggers[module]
	mutex.RUnlock()
	if ok {
		return logger
	}

	mutex.Lock()
	defer mutex.Unlock()
	if logger, ok := moduleLoggers[module]; ok {
		return logger
	}

	levelVar := &slog.LevelVar{}
	cfg := globalConfig
	if !isInitialized {
		cfg = DefaultConfig()
	}
	levelVar.Set(moduleLevel(cfg, module))

	logger = slog.New(createHandler(cfg, levelVar)).With("module", module)
	moduleLoggers[module] = logger
	moduleLevelVars[module] = levelVar
	return logger
}

func moduleLevel(config Config, module string) slog.Level {
	level := levelOr(config.Level, slog.LevelInfo)
	if s, ok := config.Modules[module]; ok {
		level = levelOr(s, level)
	}
	return level
}

// openLogFile must be called with mutex held.
func openLogFile(config Config) error {
	if !config.File {
		return nil
	}
	folder := config.Folder
	if folder == "" {
		folder = "."
	}
	path := filepath.Join(folder, logFileName)
	if logFile != nil && logFile.Name() == path {
		return nil
	}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return fmt.Errorf("failed to create log folder: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	return nil
}

// createHandler must be called with mutex held.
func createHandler(config Config, level slog.Leveler) slog.Handler {
	var handlers []slog.Handler

	if config.Console && isStdoutAvailable() {
		handlers = append(handlers, formatHandler(config.Format, os.Stdout, level))
	}
	if config.File && logFile != nil {
		handlers = append(handlers, formatHandler(config.Format, logFile, level))
	}
	if config.Journal && IsJournalAvailable() {
		handlers = append(handlers, NewJournalHandler(level))
	}
	handlers = append(handlers, NewBufferHandler(logBuffer, level))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return NewMultiHandler(handlers...)
}

func formatHandler(format string, w io.Writer, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// isStdoutAvailable reports false when stdout is /dev/null or closed.
func isStdoutAvailable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&os.ModeCharDevice != 0 || mode&os.ModeNamedPipe != 0 || mode&os.ModeSocket != 0 || mode.IsRegular()
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(level) {
	case "debug", "verbose":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return 0, false
	}
}

func levelOr(level string, fallback slog.Level) slog.Level {
	if l, ok := ParseLevel(level); ok {
		return l
	}
	return fallback
}
