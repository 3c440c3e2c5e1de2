// Package logger provides the process-wide leveled component logger.
// Every log line carries a component tag ("router", "channels", "agent", ...)
// and optional structured fields. Sinks can be attached at runtime so the
// terminal console and the dashboard event stream can mirror the log flow.
package logger

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level classifies log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// Entry is a single structured log record.
type Entry struct {
	Time      time.Time
	Level     Level
	Component string
	Message   string
	Fields    map[string]interface{}
}

// Format renders the entry as a single display line.
func (e Entry) Format() string {
	var sb strings.Builder
	sb.WriteString(e.Time.Format("15:04:05"))
	sb.WriteString(" [")
	sb.WriteString(e.Level.String())
	sb.WriteString("] ")
	if e.Component != "" {
		sb.WriteString(e.Component)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v", k, e.Fields[k])
		}
	}
	return sb.String()
}

// Sink receives every entry at or above the logger's level.
// Sinks must not block; slow consumers should buffer internally.
type Sink func(Entry)

type state struct {
	mu     sync.RWMutex
	level  Level
	sinks  map[uint64]Sink
	nextID uint64
	stderr bool
}

var global = &state{level: LevelInfo, sinks: map[uint64]Sink{}, stderr: true}

// SetLevel sets the minimum level emitted.
func SetLevel(l Level) {
	global.mu.Lock()
	global.level = l
	global.mu.Unlock()
}

// SetStderr controls whether entries are written to stderr. The console UI
// disables this and renders entries from its own sink instead.
func SetStderr(enabled bool) {
	global.mu.Lock()
	global.stderr = enabled
	global.mu.Unlock()
}

// AddSink attaches a sink to the log stream. The returned function detaches
// it again; components with a shorter lifetime than the process must call it
// on teardown.
func AddSink(s Sink) (remove func()) {
	global.mu.Lock()
	global.nextID++
	id := global.nextID
	global.sinks[id] = s
	global.mu.Unlock()
	return func() {
		global.mu.Lock()
		delete(global.sinks, id)
		global.mu.Unlock()
	}
}

func emit(level Level, component, msg string, fields map[string]interface{}) {
	global.mu.RLock()
	min, stderr := global.level, global.stderr
	sinks := make([]Sink, 0, len(global.sinks))
	for _, s := range global.sinks {
		sinks = append(sinks, s)
	}
	global.mu.RUnlock()

	if level < min {
		return
	}

	e := Entry{
		Time:      time.Now(),
		Level:     level,
		Component: component,
		Message:   msg,
		Fields:    fields,
	}
	if stderr {
		fmt.Fprintln(os.Stderr, e.Format())
	}
	for _, s := range sinks {
		s(e)
	}
}

// DebugC logs a debug message for a component.
func DebugC(component, msg string) { emit(LevelDebug, component, msg, nil) }

// DebugCF logs a debug message with structured fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	emit(LevelDebug, component, msg, fields)
}

// InfoC logs an info message for a component.
func InfoC(component, msg string) { emit(LevelInfo, component, msg, nil) }

// InfoCF logs an info message with structured fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	emit(LevelInfo, component, msg, fields)
}

// WarnC logs a warning for a component.
func WarnC(component, msg string) { emit(LevelWarn, component, msg, nil) }

// WarnCF logs a warning with structured fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	emit(LevelWarn, component, msg, fields)
}

// ErrorC logs an error for a component.
func ErrorC(component, msg string) { emit(LevelError, component, msg, nil) }

// ErrorCF logs an error with structured fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	emit(LevelError, component, msg, fields)
}
