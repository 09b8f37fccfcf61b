package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
)

// Diagnostic verbosity levels as stored in the device record.
const (
	VerbosityOff     = 0
	VerbosityError   = 1
	VerbosityInfo    = 2
	VerbosityVerbose = 3
)

// levelOff sits above every level the node emits, silencing output.
const levelOff = slog.LevelError + 4

// Logger wraps slog.Logger with Gray Logic-specific functionality.
//
// It provides structured logging with default fields and a level that can be
// changed at runtime from the persisted diagnostic verbosity.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// New creates a new Logger with the specified configuration.
//
// It configures:
//   - Output format (JSON for production, text for development)
//   - Log level filtering
//   - Default fields (service name, version)
//   - Output destination
//
// Parameters:
//   - cfg: Logging configuration from config.yaml
//   - version: Firmware version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}
	return newWithWriter(output, cfg, version)
}

func newWithWriter(output io.Writer, cfg config.LoggingConfig, version string) *Logger {
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Level))

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: level,
	}

	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "graynode"),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
		level:  level,
	}
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// VerbosityLevel maps a diagnostic verbosity (0-3) to an slog level.
// Values above 3 are treated as verbose, values below 0 as off.
func VerbosityLevel(verbosity int) slog.Level {
	switch {
	case verbosity <= VerbosityOff:
		return levelOff
	case verbosity == VerbosityError:
		return slog.LevelError
	case verbosity == VerbosityInfo:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// SetVerbosity changes the level of this logger and every logger derived
// from it with With.
func (l *Logger) SetVerbosity(verbosity int) {
	if l.level == nil {
		return
	}
	l.level.Set(VerbosityLevel(verbosity))
}

// Level returns the current minimum level.
func (l *Logger) Level() slog.Level {
	if l.level == nil {
		return slog.LevelInfo
	}
	return l.level.Level()
}

// With returns a new Logger with additional default attributes.
//
// The child shares the parent's level, so SetVerbosity on either applies
// to both.
//
// Example:
//
//	brokerLogger := logger.With("component", "broker")
//	brokerLogger.Info("connected") // Includes component=broker
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		level:  l.level,
	}
}

// Default creates a default logger for use before configuration is loaded.
//
// This logger outputs to stdout in JSON format at info level.
// It should only be used during early startup before config is available.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "unknown")
}

// Discard returns a logger that drops all output. Intended for tests.
func Discard() *Logger {
	return newWithWriter(io.Discard, config.LoggingConfig{Level: "error"}, "test")
}
