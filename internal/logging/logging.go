// Package logging provides structured logging functionality using Go's slog package.
// It supports both text and JSON output formats, configurable log levels,
// rotated log files, and scan/connection scoped loggers for the ospd daemon.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// File permissions for directories and log files.
	logDirPerm  = 0750
	logFilePerm = 0600
)

// LogLevel represents the available log levels.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogFormat represents the available log formats.
type LogFormat string

const (
	FormatText LogFormat = "text"
	FormatJSON LogFormat = "json"
)

// RotationConfig controls rotation of file outputs.
type RotationConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	MaxSizeMB  int  `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool `yaml:"compress" json:"compress"`
}

// Config holds logging configuration.
type Config struct {
	Level     LogLevel       `yaml:"level" json:"level"`
	Format    LogFormat      `yaml:"format" json:"format"`
	Output    string         `yaml:"output" json:"output"`
	AddSource bool           `yaml:"add_source" json:"add_source"`
	Rotation  RotationConfig `yaml:"rotation" json:"rotation"`
}

// DefaultConfig returns a default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:     LevelInfo,
		Format:    FormatText,
		Output:    "stdout",
		AddSource: false,
	}
}

// Logger wraps slog.Logger with additional functionality.
type Logger struct {
	*slog.Logger
	config Config
	level  *slog.LevelVar
	closer io.Closer
}

// New creates a new structured logger with the given configuration.
func New(cfg Config) (*Logger, error) {
	writer, closer, err := openOutput(cfg)
	if err != nil {
		return nil, err
	}

	logger := NewWithWriter(cfg, writer)
	logger.closer = closer
	return logger, nil
}

// NewWithWriter creates a logger writing to w, ignoring cfg.Output.
func NewWithWriter(cfg Config, w io.Writer) *Logger {
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Level))
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		config: cfg,
		level:  level,
	}
}

// NewDefault creates a logger with default configuration.
func NewDefault() *Logger {
	logger, _ := New(DefaultConfig())
	return logger
}

// Discard returns a logger that drops every record. Useful in tests.
func Discard() *Logger {
	return NewWithWriter(Config{Level: LevelError}, io.Discard)
}

// parseLevel maps a configured level onto slog, defaulting to info.
func parseLevel(level LogLevel) slog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openOutput resolves cfg.Output to a writer. File outputs go through
// lumberjack when rotation is enabled.
func openOutput(cfg Config) (io.Writer, io.Closer, error) {
	switch cfg.Output {
	case "", "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Output), logDirPerm); err != nil {
		return nil, nil, err
	}

	if cfg.Rotation.Enabled {
		lj := &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.Rotation.MaxSizeMB,
			MaxBackups: cfg.Rotation.MaxBackups,
			MaxAge:     cfg.Rotation.MaxAgeDays,
			Compress:   cfg.Rotation.Compress,
		}
		return lj, lj, nil
	}

	file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerm)
	if err != nil {
		return nil, nil, err
	}
	return file, file, nil
}

// Close releases the log file, if the logger owns one.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.closer = nil
	return err
}

// Config returns the configuration the logger was built with.
func (l *Logger) Config() Config {
	return l.config
}

// SetLevel changes the minimum level at runtime. Loggers derived with the
// With helpers share the level of their parent.
func (l *Logger) SetLevel(level LogLevel) {
	l.level.Set(parseLevel(level))
}

// Level returns the current minimum level.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// WithFields adds structured fields to the logger.
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger: l.With(fields...),
		config: l.config,
		level:  l.level,
	}
}

// WithComponent adds a component field to the logger.
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithScanID adds a scan ID field to the logger.
func (l *Logger) WithScanID(scanID string) *Logger {
	return l.WithFields("scan_id", scanID)
}

// WithRemote adds the peer address of a client connection.
func (l *Logger) WithRemote(addr string) *Logger {
	return l.WithFields("remote", addr)
}

// WithError adds an error field to the logger.
func (l *Logger) WithError(err error) *Logger {
	return l.WithFields("error", err)
}

// InfoScan logs scan-related information.
func (l *Logger) InfoScan(msg, scanID string, fields ...any) {
	allFields := append([]any{"scan_id", scanID}, fields...)
	l.Info(msg, allFields...)
}

// ErrorScan logs scan-related errors.
func (l *Logger) ErrorScan(msg, scanID string, err error, fields ...any) {
	allFields := append([]any{"scan_id", scanID, "error", err}, fields...)
	l.Error(msg, allFields...)
}

// InfoConnection logs client connection information.
func (l *Logger) InfoConnection(msg, remote string, fields ...any) {
	allFields := append([]any{"component", "server", "remote", remote}, fields...)
	l.Info(msg, allFields...)
}

// ErrorConnection logs client connection errors.
func (l *Logger) ErrorConnection(msg, remote string, err error, fields ...any) {
	allFields := append([]any{"component", "server", "remote", remote, "error", err}, fields...)
	l.Error(msg, allFields...)
}

// InfoDaemon logs daemon-related information.
func (l *Logger) InfoDaemon(msg string, fields ...any) {
	allFields := append([]any{"component", "daemon"}, fields...)
	l.Info(msg, allFields...)
}

// ErrorDaemon logs daemon-related errors.
func (l *Logger) ErrorDaemon(msg string, err error, fields ...any) {
	allFields := append([]any{"component", "daemon", "error", err}, fields...)
	l.Error(msg, allFields...)
}

// Global logger instance - can be replaced for testing.
var defaultLogger = NewDefault()

// SetDefault sets the default logger instance.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}

// Default returns the default logger instance.
func Default() *Logger {
	return defaultLogger
}

// Debug logs at debug level using the default logger.
func Debug(msg string, fields ...any) {
	defaultLogger.Debug(msg, fields...)
}

// Info logs at info level using the default logger.
func Info(msg string, fields ...any) {
	defaultLogger.Info(msg, fields...)
}

// Warn logs at warn level using the default logger.
func Warn(msg string, fields ...any) {
	defaultLogger.Warn(msg, fields...)
}

// Error logs at error level using the default logger.
func Error(msg string, fields ...any) {
	defaultLogger.Error(msg, fields...)
}

// InfoScan logs scan-related information using the default logger.
func InfoScan(msg, scanID string, fields ...any) {
	defaultLogger.InfoScan(msg, scanID, fields...)
}

// ErrorScan logs scan-related errors using the default logger.
func ErrorScan(msg, scanID string, err error, fields ...any) {
	defaultLogger.ErrorScan(msg, scanID, err, fields...)
}

// InfoDaemon logs daemon-related information using the default logger.
func InfoDaemon(msg string, fields ...any) {
	defaultLogger.InfoDaemon(msg, fields...)
}

// ErrorDaemon logs daemon-related errors using the default logger.
func ErrorDaemon(msg string, err error, fields ...any) {
	defaultLogger.ErrorDaemon(msg, err, fields...)
}
