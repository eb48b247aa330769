// Package logger provides the component-tagged, leveled logging facade
// used throughout the service. The call shape (InfoCF/WarnCF/ErrorCF/
// DebugCF taking a component name, a message, and a field map) matches
// the teacher's logging idiom; it is backed by zerolog instead of a
// hand-rolled formatter.
package logger

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
)

// Configure replaces the underlying zerolog.Logger, e.g. to switch to
// JSON output in production or to raise/lower the level.
func Configure(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
}

// SetLevel adjusts the minimum emitted level.
func SetLevel(level zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	log = log.Level(level)
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func withFields(ev *zerolog.Event, component string, fields map[string]interface{}) *zerolog.Event {
	ev = ev.Str("component", component)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}

// InfoCF logs an info-level message tagged with a component and fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	withFields(current().Info(), component, fields).Msg(msg)
}

// WarnCF logs a warn-level message tagged with a component and fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	withFields(current().Warn(), component, fields).Msg(msg)
}

// ErrorCF logs an error-level message tagged with a component and fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	withFields(current().Error(), component, fields).Msg(msg)
}

// DebugCF logs a debug-level message tagged with a component and fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	withFields(current().Debug(), component, fields).Msg(msg)
}

// Info logs a plain info-level message, no component tag.
func Info(msg string) { current().Info().Msg(msg) }

// Warn logs a plain warn-level message, no component tag.
func Warn(msg string) { current().Warn().Msg(msg) }

// Error logs a plain error-level message, no component tag.
func Error(msg string) { current().Error().Msg(msg) }
