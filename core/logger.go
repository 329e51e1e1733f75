package core

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Logger interface for structured logging
// Implementations can provide custom logging behavior; the default writes
// through zerolog.
type Logger interface {
	// Debug logs a debug message with optional fields
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields
	Info(msg string, fields ...Field)

	// Warn logs a warning message with optional fields
	Warn(msg string, fields ...Field)

	// Error logs an error message with optional fields
	Error(msg string, fields ...Field)
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value any
}

// F creates a new Field with the given key and value
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// ZerologLogger adapts a zerolog.Logger to Logger.
type ZerologLogger struct {
	z zerolog.Logger
}

// NewZerologLogger wraps z.
func NewZerologLogger(z zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{z: z}
}

// NewDefaultLogger writes human readable output to w at warn level and above.
func NewDefaultLogger(w io.Writer) *ZerologLogger {
	if w == nil {
		w = os.Stderr
	}
	z := zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true}).
		Level(zerolog.WarnLevel).
		With().Timestamp().Logger()
	return NewZerologLogger(z)
}

// Debug logs a debug message
func (l *ZerologLogger) Debug(msg string, fields ...Field) {
	l.log(l.z.Debug(), msg, fields)
}

// Info logs an info message
func (l *ZerologLogger) Info(msg string, fields ...Field) {
	l.log(l.z.Info(), msg, fields)
}

// Warn logs a warning message
func (l *ZerologLogger) Warn(msg string, fields ...Field) {
	l.log(l.z.Warn(), msg, fields)
}

// Error logs an error message
func (l *ZerologLogger) Error(msg string, fields ...Field) {
	l.log(l.z.Error(), msg, fields)
}

func (l *ZerologLogger) log(e *zerolog.Event, msg string, fields []Field) {
	if e == nil {
		return
	}
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			e = e.AnErr(f.Key, err)
			continue
		}
		e = e.Interface(f.Key, f.Value)
	}
	e.Msg(msg)
}

// NoOpLogger is a logger that discards all log messages
// Useful for tests or when logging is not desired
type NoOpLogger struct{}

// NewNoOpLogger creates a new NoOpLogger
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(msg string, fields ...Field) {}
func (l *NoOpLogger) Info(msg string, fields ...Field)  {}
func (l *NoOpLogger) Warn(msg string, fields ...Field)  {}
func (l *NoOpLogger) Error(msg string, fields ...Field) {}

// =============================================================================
// Package logger
// =============================================================================

type loggerHolder struct{ Logger }

var packageLogger atomic.Pointer[loggerHolder]

func init() {
	packageLogger.Store(&loggerHolder{NewDefaultLogger(os.Stderr)})
}

// SetLogger replaces the logger used by loops, runners and queues that were not
// given one explicitly, including ones already built. Passing nil silences
// logging.
func SetLogger(l Logger) {
	if l == nil {
		l = NewNoOpLogger()
	}
	if _, ok := l.(packageLoggerProxy); ok {
		return
	}
	packageLogger.Store(&loggerHolder{l})
}

// GetLogger returns the package logger.
func GetLogger() Logger {
	return packageLogger.Load().Logger
}

// PackageLogger returns a Logger that forwards every call to whatever logger
// SetLogger installed last. Defaults hold it instead of a GetLogger snapshot.
func PackageLogger() Logger {
	return packageLoggerProxy{}
}

type packageLoggerProxy struct{}

func (packageLoggerProxy) Debug(msg string, fields ...Field) { GetLogger().Debug(msg, fields...) }
func (packageLoggerProxy) Info(msg string, fields ...Field)  { GetLogger().Info(msg, fields...) }
func (packageLoggerProxy) Warn(msg string, fields ...Field)  { GetLogger().Warn(msg, fields...) }
func (packageLoggerProxy) Error(msg string, fields ...Field) { GetLogger().Error(msg, fields...) }
