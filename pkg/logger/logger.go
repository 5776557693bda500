package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ParseLogLevel parses a level name case-insensitively. Unknown names map to INFO.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config contains logger configuration.
type Config struct {
	Level    slog.Level // Minimum log level to output
	Prefix   string     // Service name attached to every record
	Console  bool       // Enable console output
	File     bool       // Enable file output
	FilePath string     // Path to log file

	// Console destination; defaults to os.Stderr.
	ConsoleWriter io.Writer
}

// Logger is a slog.Logger that may own an open log file.
type Logger struct {
	*slog.Logger

	level *slog.LevelVar

	mu   sync.Mutex
	file *os.File
}

// NewLogger creates a new logger with the given configuration.
func NewLogger(cfg *Config) (*Logger, error) {
	l := &Logger{level: new(slog.LevelVar)}
	l.level.Set(cfg.Level)

	var writers []io.Writer
	if cfg.Console {
		w := cfg.ConsoleWriter
		if w == nil {
			w = os.Stderr
		}
		writers = append(writers, w)
	}

	// Setup file output if enabled
	if cfg.File && cfg.FilePath != "" {
		// Ensure directory exists
		dir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		// Open log file in append mode
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}

		l.file = file
		writers = append(writers, file)
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: l.level})
	l.Logger = slog.New(handler)
	if prefix := strings.Trim(cfg.Prefix, "[] "); prefix != "" {
		l.Logger = l.Logger.With("service", prefix)
	}

	return l, nil
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level slog.Level) {
	l.level.Set(level)
}

// GetLevel returns the current minimum log level.
func (l *Logger) GetLevel() slog.Level {
	return l.level.Level()
}

// Close closes any open file handles.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}

	return nil
}
