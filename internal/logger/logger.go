// Package logger provides leveled, module-tagged logging on top of zap.
//
// Call sites pass a short module tag ("Transport", "Session", ...) so
// console output stays greppable per component.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.SugaredLogger with module tagging.
type Logger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init initializes the global logger (call once at startup).
func Init(level zapcore.Level, output io.Writer, useColor bool) {
	once.Do(func() {
		defaultLogger = New(level, output, useColor)
	})
}

// New creates a new Logger instance writing to output.
func New(level zapcore.Level, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05.000000")
	if useColor {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	atomicLevel := zap.NewAtomicLevelAt(level)
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(output),
		atomicLevel,
	)

	return &Logger{
		sugar: zap.New(core).Sugar(),
		level: atomicLevel,
	}
}

// SetLevel changes the log level.
func (l *Logger) SetLevel(level zapcore.Level) {
	l.level.SetLevel(level)
}

// Level returns the current log level.
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

func (l *Logger) log(level zapcore.Level, module string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if module != "" {
		msg = fmt.Sprintf("[%s] %s", module, msg)
	}

	switch level {
	case zapcore.DebugLevel:
		l.sugar.Debug(msg)
	case zapcore.InfoLevel:
		l.sugar.Info(msg)
	case zapcore.WarnLevel:
		l.sugar.Warn(msg)
	case zapcore.ErrorLevel:
		l.sugar.Error(msg)
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(module string, format string, args ...any) {
	l.log(zapcore.DebugLevel, module, format, args...)
}

// Info logs an info message.
func (l *Logger) Info(module string, format string, args ...any) {
	l.log(zapcore.InfoLevel, module, format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(module string, format string, args ...any) {
	l.log(zapcore.WarnLevel, module, format, args...)
}

// Error logs an error message.
func (l *Logger) Error(module string, format string, args ...any) {
	l.log(zapcore.ErrorLevel, module, format, args...)
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// Global logger functions (use default logger)

// SetLevel sets the global log level.
func SetLevel(level zapcore.Level) {
	if defaultLogger != nil {
		defaultLogger.SetLevel(level)
	}
}

// Debug logs a debug message using the global logger.
func Debug(module string, format string, args ...any) {
	if defaultLogger != nil {
		defaultLogger.Debug(module, format, args...)
	}
}

// Info logs an info message using the global logger.
func Info(module string, format string, args ...any) {
	if defaultLogger != nil {
		defaultLogger.Info(module, format, args...)
	}
}

// Warn logs a warning message using the global logger.
func Warn(module string, format string, args ...any) {
	if defaultLogger != nil {
		defaultLogger.Warn(module, format, args...)
	}
}

// Error logs an error message using the global logger.
func Error(module string, format string, args ...any) {
	if defaultLogger != nil {
		defaultLogger.Error(module, format, args...)
	}
}

// Sync flushes the global logger.
func Sync() {
	if defaultLogger != nil {
		_ = defaultLogger.Sync()
	}
}

// ParseLevel parses a log level string.
func ParseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "debug", "DEBUG":
		return zapcore.DebugLevel, nil
	case "info", "INFO":
		return zapcore.InfoLevel, nil
	case "warn", "WARN", "warning", "WARNING":
		return zapcore.WarnLevel, nil
	case "error", "ERROR":
		return zapcore.ErrorLevel, nil
	case "silent", "SILENT", "none", "NONE":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s", s)
	}
}
