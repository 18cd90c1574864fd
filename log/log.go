// Package log implements the debug logging used across flexmem. Logging is disabled by default and the
// underlying logger is a no-op implementation. Use SetLogger to route debug output somewhere useful.
package log

import (
	stdlog "log"
)

var logger Interface = noopLogger{}

// Interface is the logging interface used by flexmem.
type Interface interface {
	// Debugf v using a format string.
	Debugf(format string, v ...interface{})
}

// SetLogger sets the logger used by the flexmem packages and enables debug level logging. Passing nil disables
// logging again.
func SetLogger(l Interface) {
	if l == nil {
		l = noopLogger{}
	}

	logger = l
}

// Debugf writes to the log using the configured logger.
func Debugf(format string, v ...interface{}) {
	logger.Debugf(format, v...)
}

// DebugEnabled returns true if a logger has been supplied via SetLogger.
func DebugEnabled() bool {
	_, noop := logger.(noopLogger)

	return !noop
}

// StdLogger adapts a standard library logger to Interface.
func StdLogger(l *stdlog.Logger) Interface {
	return stdLogger{l}
}

type stdLogger struct {
	l *stdlog.Logger
}

func (s stdLogger) Debugf(format string, v ...interface{}) {
	s.l.Printf("[DEBUG] "+format, v...)
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
