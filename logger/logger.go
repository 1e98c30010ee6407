// Package logger - Structured logging for sessions and the CLI.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger shared by sessions, the profiler and the CLI. It
// takes alternating key-value pairs instead of zap fields.
type Logger struct {
	*zap.Logger
}

// Config selects the level, encoding and destination of a Logger.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level" yaml:"level"`
	// Format is "json" or "text".
	Format string `json:"format" yaml:"format"`
	// Output is "stdout", "stderr" or a file path.
	Output string `json:"output" yaml:"output"`
}

// New creates a new logger based on configuration.
//
// Arguments:
//   - cfg: The logging configuration. Unknown levels fall back to info.
//
// Returns:
//   - *Logger: The logger.
//   - error: If the output cannot be opened.
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	config := baseConfig(cfg.Format)
	config.Level = zap.NewAtomicLevelAt(level)
	if cfg.Output != "" && cfg.Output != "stdout" {
		config.OutputPaths = []string{cfg.Output}
		config.ErrorOutputPaths = []string{cfg.Output}
	}

	zl, err := config.Build(
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return nil, err
	}
	return &Logger{zl}, nil
}

// baseConfig returns the zap configuration for a format: production JSON for "json",
// development console output otherwise. Both use ISO8601 times, lowercase levels and
// short callers.
func baseConfig(format string) zap.Config {
	config := zap.NewDevelopmentConfig()
	encoder := zap.NewDevelopmentEncoderConfig()
	config.Encoding = "console"
	if format == "json" {
		config = zap.NewProductionConfig()
		encoder = zap.NewProductionEncoderConfig()
		config.Encoding = "json"
	}

	encoder.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder.EncodeLevel = zapcore.LowercaseLevelEncoder
	encoder.EncodeCaller = zapcore.ShortCallerEncoder
	config.EncoderConfig = encoder
	return config
}

// Sync flushes buffered entries, ignoring errors.
func (l *Logger) Sync() {
	_ = l.Logger.Sync()
}

// With returns a child logger that adds fields to every entry.
//
// Arguments:
//   - fields: Alternating keys and values, e.g. "component", "session".
//
// Returns:
//   - *Logger: The child logger. The receiver is unchanged.
func (l *Logger) With(fields ...interface{}) *Logger {
	return &Logger{l.Logger.With(convertFields(fields...)...)}
}

// Info logs msg at info level.
//
// Arguments:
//   - msg: The message.
//   - fields: Alternating keys and values.
func (l *Logger) Info(msg string, fields ...interface{}) {
	l.Logger.Info(msg, convertFields(fields...)...)
}

// Error logs msg at error level with a stack trace.
func (l *Logger) Error(msg string, fields ...interface{}) {
	l.Logger.Error(msg, convertFields(fields...)...)
}

// Warn logs msg at warn level.
func (l *Logger) Warn(msg string, fields ...interface{}) {
	l.Logger.Warn(msg, convertFields(fields...)...)
}

// Debug logs msg at debug level. Entries are dropped unless the level is debug.
func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.Logger.Debug(msg, convertFields(fields...)...)
}

// convertFields pairs up keys and values. Non-string keys and a trailing key without
// a value are dropped.
func convertFields(fields ...interface{}) []zap.Field {
	zapFields := make([]zap.Field, 0, len(fields)/2)
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		zapFields = append(zapFields, zap.Any(key, fields[i+1]))
	}
	return zapFields
}

// NewNopLogger returns a logger that discards everything. Builders default to it.
//
// Returns:
//   - *Logger: The no-op logger.
func NewNopLogger() *Logger {
	return &Logger{zap.NewNop()}
}
