// Package logging provides the leveled logger every component in
// gtasksync accepts through its constructor. There is no package-level
// global: the single piece of global mutable state this module allows
// is the store's write mutex (see internal/store), not a logger
// singleton.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Logger is a small leveled wrapper over the standard library logger.
// Verbose toggles Debug output; Info/Warn/Error are always emitted.
type Logger struct {
	out     *log.Logger
	verbose bool
	mu      sync.RWMutex
}

// New creates a logger writing to w with the given prefix.
func New(w io.Writer, prefix string) *Logger {
	return &Logger{out: log.New(w, prefix, log.LstdFlags)}
}

// NewStderr is the common case: a logger writing to stderr.
func NewStderr(prefix string) *Logger {
	return New(os.Stderr, prefix)
}

// Discard returns a logger that drops everything, for tests that don't
// care about log output.
func Discard() *Logger {
	return New(io.Discard, "")
}

func (l *Logger) SetVerbose(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verbose = v
}

func (l *Logger) isVerbose() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.verbose
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l.isVerbose() {
		l.out.Printf("[DEBUG] "+format, args...)
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.out.Printf("[INFO] "+format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.out.Printf("[WARN] "+format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.out.Printf("[ERROR] "+format, args...)
}

// WithOperation logs the start and outcome of fn, returning its error.
// Background goroutines (the periodic driver, queue drains) use this
// so a panic recovery path always has something useful logged before
// it.
func (l *Logger) WithOperation(operation string, fn func() error) error {
	l.Debug("starting %s", operation)
	err := fn()
	if err != nil {
		l.Debug("%s failed: %v", operation, err)
	} else {
		l.Debug("%s completed", operation)
	}
	return err
}

func (l *Logger) Errorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
