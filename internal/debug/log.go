// Package debug provides runtime debugging support for the prefork runtime:
// an env-gated debug logger and a one-shot fault profile used by tests to
// exercise worker failure paths deterministically.
package debug

import (
	"fmt"
	"log"
	"os"
	"sync"
)

// Logger provides debug output that can be enabled at process start.
//
// Example usage:
//
//	logger := debug.GetLogger()
//	logger.Debugf("worker %d reported ready", id)
type Logger interface {
	// Debugf logs a formatted debug message
	Debugf(format string, args ...any)
	// Debug logs debug arguments
	Debug(args ...any)
}

// nopLogger does nothing (used when debug mode is disabled).
type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Debug(...any)          {}

// stdLogger logs to standard logger with [DEBUG] prefix.
type stdLogger struct{}

func (stdLogger) Debugf(format string, args ...any) {
	log.Printf("[DEBUG] "+format, args...)
}

func (stdLogger) Debug(args ...any) {
	log.Printf("[DEBUG] %v", fmt.Sprint(args...))
}

var (
	// l is the private global debug logger (use GetLogger() to access)
	l    Logger = nopLogger{}
	once sync.Once
)

// GetLogger returns the configured debug logger.
// Always use this function to access the logger instead of storing a reference.
func GetLogger() Logger {
	return l
}

// InitLogger enables debug logging when PREFORK_DEBUG is set to a non-empty
// value. Uses sync.Once so initialization happens only once, even in
// concurrent environments. Workers inherit the variable from the master, so
// one setting covers the whole process tree.
func InitLogger() {
	once.Do(func() {
		if os.Getenv("PREFORK_DEBUG") != "" {
			l = stdLogger{}
			l.Debug("Debug logging enabled")
		}
	})
}
