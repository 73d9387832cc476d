// Package logger provides the package-level logging facade of the Chunkflow framework.
// Messages are written through a zerolog.Logger and filtered by a global level.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel is a type representing the logging level.
type LogLevel int

const (
	// LevelDebug is the log level used for detailed debugging information.
	LevelDebug LogLevel = iota
	// LevelInfo is the log level used for general informational messages.
	LevelInfo
	// LevelWarn is the log level used for potential issues or warning messages.
	LevelWarn
	// LevelError is the log level used for error messages.
	LevelError
	// LevelFatal is the log level used for fatal error messages that cause application termination.
	LevelFatal
	// LevelSilent disables all output except Fatalf.
	LevelSilent
)

var (
	mu       sync.RWMutex
	logLevel = LevelInfo
	output   io.Writer = os.Stderr
	base               = newBase(os.Stderr, LevelInfo)
)

func toZerolog(level LogLevel) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelFatal:
		return zerolog.FatalLevel
	case LevelSilent:
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func newBase(w io.Writer, level LogLevel) zerolog.Logger {
	return zerolog.New(w).Level(toZerolog(level)).With().Timestamp().Logger()
}

// ParseLevel converts a level name into a LogLevel.
// It accepts the zerolog names plus the framework aliases TRACE (mapped to DEBUG) and SILENT.
func ParseLevel(level string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE":
		return LevelDebug, nil
	case "SILENT":
		return LevelSilent, nil
	}
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return LevelInfo, err
	}
	switch parsed {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		return LevelDebug, nil
	case zerolog.InfoLevel, zerolog.NoLevel:
		return LevelInfo, nil
	case zerolog.WarnLevel:
		return LevelWarn, nil
	case zerolog.ErrorLevel:
		return LevelError, nil
	case zerolog.FatalLevel, zerolog.PanicLevel:
		return LevelFatal, nil
	default:
		return LevelSilent, nil
	}
}

// SetLogLevel sets the global log level for the framework.
// Valid values are "TRACE", "DEBUG", "INFO", "WARN", "ERROR", "FATAL" and "SILENT" (case-insensitive).
// An unknown value falls back to INFO and a warning is written.
func SetLogLevel(level string) {
	parsed, err := ParseLevel(level)
	mu.Lock()
	logLevel = parsed
	base = newBase(output, parsed)
	mu.Unlock()
	if err != nil {
		Warnf("Unknown log level '%s' specified. Defaulting to INFO level.", level)
	}
}

// GetLogLevel returns the current global log level.
func GetLogLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return logLevel
}

// SetOutput redirects all log output to w using JSON lines.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	base = newBase(w, logLevel)
}

// UseConsoleWriter switches the output to zerolog's human readable console format.
func UseConsoleWriter(w io.Writer) {
	console := zerolog.NewConsoleWriter()
	console.Out = w
	console.TimeFormat = time.RFC3339
	SetOutput(console)
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// With returns a child of the framework logger tagged with component, for callers
// that emit structured fields instead of formatted messages.
func With(component string) zerolog.Logger {
	l := current()
	return l.With().Str("component", component).Logger()
}

// Debugf formats and outputs a DEBUG level log message.
func Debugf(format string, v ...interface{}) {
	l := current()
	l.Debug().Msg(fmt.Sprintf(format, v...))
}

// Infof formats and outputs an INFO level log message.
func Infof(format string, v ...interface{}) {
	l := current()
	l.Info().Msg(fmt.Sprintf(format, v...))
}

// Warnf formats and outputs a WARN level log message.
func Warnf(format string, v ...interface{}) {
	l := current()
	l.Warn().Msg(fmt.Sprintf(format, v...))
}

// Errorf formats and outputs an ERROR level log message.
func Errorf(format string, v ...interface{}) {
	l := current()
	l.Error().Msg(fmt.Sprintf(format, v...))
}

// Fatalf outputs a FATAL level log message regardless of the configured level,
// then terminates the program by calling os.Exit(1).
func Fatalf(format string, v ...interface{}) {
	mu.RLock()
	w := output
	mu.RUnlock()
	l := zerolog.New(w).With().Timestamp().Logger()
	l.WithLevel(zerolog.FatalLevel).Msg(fmt.Sprintf(format, v...))
	os.Exit(1)
}
