package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// serviceName is attached to every log entry.
const serviceName = "graylogic-voice"

// Logger wraps slog.Logger with Gray Logic-specific functionality.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the specified configuration.
//
// It configures:
//   - Output destination (stdout, stderr, or a rotating file)
//   - Output format (JSON for production, text for development)
//   - Log level filtering
//   - Default fields (service name, version)
//
// Parameters:
//   - cfg: Logging configuration from config.yaml
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	return newWithWriter(cfg, version, outputWriter(cfg))
}

// newWithWriter builds the handler chain over an explicit writer.
func newWithWriter(cfg config.LoggingConfig, version string, output io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// outputWriter resolves the configured destination.
//
// "file" writes through lumberjack, which rotates by size and prunes old
// files by count and age. Unknown values fall back to stdout.
func outputWriter(cfg config.LoggingConfig) io.Writer {
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		return os.Stderr
	case "file":
		if cfg.File.Path == "" {
			return os.Stdout
		}
		return &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSize,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge,
			Compress:   cfg.File.Compress,
		}
	default:
		return os.Stdout
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

// With returns a new Logger with additional default attributes.
//
// Example:
//
//	regLogger := logger.With("component", "registry", "backend", "home")
//	regLogger.Info("snapshot published") // Includes component and backend
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Default creates a default logger for use before configuration is loaded.
//
// This logger outputs to stdout in JSON format at info level.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
