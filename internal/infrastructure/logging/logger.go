package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nerrad567/nightscan/internal/infrastructure/config"
)

// logDirPermissions is the permission mode for the log directory.
const logDirPermissions = 0750

// Logger wraps slog.Logger with nightscan-specific functionality.
//
// It provides structured logging with default fields and level-based filtering.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
	closer io.Closer
}

// New creates a new Logger with the specified configuration.
//
// It configures:
//   - Output format (JSON for production, text for development)
//   - Log level filtering
//   - Default fields (service name, version, site)
//   - Output destination (stdout, stderr, or a per-run file)
//
// A per-run file is named {dir}/{site}_YYYYMMDD_HHMMSS.log. If the file
// cannot be created the logger falls back to stderr and reports why.
//
// Parameters:
//   - cfg: Logging configuration from the config file
//   - site: Site identifier used for the default field and file name
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, site, version string) *Logger {
	output, closer, fileErr := openOutput(cfg, site, time.Now())

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
		slog.String("service", "nightscan"),
		slog.String("version", version),
		slog.String("site", site),
	})

	l := &Logger{
		Logger: slog.New(handler),
		closer: closer,
	}
	if fileErr != nil {
		l.Warn("log file unavailable, using stderr", "error", fileErr)
	}
	return l
}

// openOutput resolves the configured destination.
func openOutput(cfg config.LoggingConfig, site string, now time.Time) (io.Writer, io.Closer, error) {
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		return os.Stderr, nil, nil
	case "file":
		f, err := createRunFile(cfg.Dir, site, now)
		if err != nil {
			return os.Stderr, nil, err
		}
		return f, f, nil
	default:
		return os.Stdout, nil, nil
	}
}

// createRunFile creates the log file for this run.
func createRunFile(dir, site string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, logDirPermissions); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	path := filepath.Join(dir, RunFileName(site, now))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) //nolint:gosec // Path built from config
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

// RunFileName returns the per-run log file name for a site.
func RunFileName(site string, now time.Time) string {
	return site + now.Format("_20060102_150405") + ".log"
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
// The child shares the parent's output; only the parent closes it.
//
// Example:
//
//	powerLog := logger.With("component", "power")
//	powerLog.Info("port on", "port", 3) // Includes component=power
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Close releases the log file, if one was opened.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
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
	}, "unknown", "dev")
}
