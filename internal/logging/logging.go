// Package logging wraps the process-wide structured logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

var logger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	TimeFormat:      time.RFC3339,
	Level:           log.InfoLevel,
})

// Init redirects log output and sets the minimum level. Passing a nil
// writer keeps stderr.
func Init(w io.Writer, debug bool) {
	opts := log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           log.InfoLevel,
	}
	if debug {
		opts.Level = log.DebugLevel
	}
	if w == nil {
		w = os.Stderr
	}
	logger = log.NewWithOptions(w, opts)
}

// Debug logs a debug message with key-value pairs.
func Debug(msg string, keyvals ...interface{}) { logger.Debug(msg, keyvals...) }

// Info logs an info message with key-value pairs.
func Info(msg string, keyvals ...interface{}) { logger.Info(msg, keyvals...) }

// Warn logs a warning message with key-value pairs.
func Warn(msg string, keyvals ...interface{}) { logger.Warn(msg, keyvals...) }

// Error logs an error message with key-value pairs.
func Error(msg string, keyvals ...interface{}) { logger.Error(msg, keyvals...) }

// Fatal logs an error message and exits.
func Fatal(msg string, keyvals ...interface{}) { logger.Fatal(msg, keyvals...) }

// WithPrefix returns a sub-logger tagged with a component prefix.
func WithPrefix(prefix string) *log.Logger { return logger.WithPrefix(prefix) }
