// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the structured logger used throughout netfilterd.
// Every component obtains a component-scoped logger via WithComponent so log
// lines can be attributed to the loop that produced them.
package logging

import (
	"io"
	"os"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

// Priority mirrors the three severities the key-value store's NETFILTER_LOG
// list understands. It is distinct from the charmbracelet level because
// "crit" has no native level in that library.
type Priority string

const (
	PriorityInfo Priority = "info"
	PriorityWarn Priority = "warn"
	PriorityCrit Priority = "crit"
)

// Config controls how a Logger is constructed.
type Config struct {
	Level     charmlog.Level
	Output    io.Writer
	Component string
}

// DefaultConfig returns the baseline logger configuration: info level,
// stderr output, no component tag.
func DefaultConfig() Config {
	return Config{
		Level:  charmlog.InfoLevel,
		Output: os.Stderr,
	}
}

// Sink receives every record logged at Info/Warn/Crit, in addition to the
// structured output, so it can be mirrored into the key-value store's
// NETFILTER_LOG list. Sink is intentionally decoupled from the Logger
// construction path: it is registered after startup once the store
// connection is alive, and is safe to leave nil.
type Sink func(priority Priority, message string)

var (
	mu          sync.RWMutex
	sink        Sink
	defaultOnce sync.Once
	defaultLog  *Logger
)

// SetSink installs the process-wide NETFILTER_LOG mirror. Passing nil
// disables mirroring (the default at startup).
func SetSink(s Sink) {
	mu.Lock()
	defer mu.Unlock()
	sink = s
}

func callSink(p Priority, msg string) {
	mu.RLock()
	s := sink
	mu.RUnlock()
	if s != nil {
		s(p, msg)
	}
}

// Logger wraps a charmbracelet/log logger and fans out to the NETFILTER_LOG
// sink for the three priorities the rest of the system cares about.
type Logger struct {
	l *charmlog.Logger
}

// New creates a Logger from Config.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	l := charmlog.NewWithOptions(out, charmlog.Options{
		Level:           cfg.Level,
		ReportTimestamp: true,
	})
	if cfg.Component != "" {
		l = l.WithPrefix(cfg.Component)
	}
	return &Logger{l: l}
}

// Default returns the process-wide default logger, created lazily.
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultLog = New(DefaultConfig())
	})
	return defaultLog
}

// WithComponent returns the default logger scoped to the named component.
// This is the call site most loops use: logging.WithComponent("watcher").
func WithComponent(name string) *Logger {
	return Default().WithComponent(name)
}

// WithComponent returns a copy of l tagged with the given component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{l: l.l.WithPrefix(name)}
}

// WithError returns a copy of l with an "error" field bound for the next call.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{l: l.l.With("error", err)}
}

// WithFields returns a copy of l with the given structured fields bound.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	kv := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return &Logger{l: l.l.With(kv...)}
}

// Debug logs at debug level. Debug records are never mirrored to
// NETFILTER_LOG: the key-value store's log list is operator-facing and
// debug noise does not belong there.
func (l *Logger) Debug(msg string, kv ...any) {
	l.l.Debug(msg, kv...)
}

// Info logs at info level and mirrors to NETFILTER_LOG with priority "info".
func (l *Logger) Info(msg string, kv ...any) {
	l.l.Info(msg, kv...)
	callSink(PriorityInfo, msg)
}

// Warn logs at warn level and mirrors to NETFILTER_LOG with priority "warn".
func (l *Logger) Warn(msg string, kv ...any) {
	l.l.Warn(msg, kv...)
	callSink(PriorityWarn, msg)
}

// Error logs at error level without mirroring; use Crit for fatal,
// operator-visible conditions.
func (l *Logger) Error(msg string, kv ...any) {
	l.l.Error(msg, kv...)
}

// Crit logs at error level and mirrors to NETFILTER_LOG with priority
// "crit". Used for chain-order violations, banning/unbanning decisions and
// other events the source logged with logCrit.
func (l *Logger) Crit(msg string, kv ...any) {
	l.l.Error(msg, kv...)
	callSink(PriorityCrit, msg)
}
