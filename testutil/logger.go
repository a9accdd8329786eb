package testutil

import (
	"fmt"
	"strings"
	"sync"
)

// Entry is one recorded log call.
type Entry struct {
	Level string
	Msg   string
	Args  []interface{}
}

// Logger records every call; it satisfies core.Logger.
type Logger struct {
	mu      sync.Mutex
	entries []Entry
}

func NewLogger() *Logger {
	return &Logger{}
}

func (l *Logger) record(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Level: level, Msg: msg, Args: args})
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.record("DEBUG", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.record("INFO", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.record("WARN", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.record("ERROR", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.record("FATAL", msg, args) }

func (l *Logger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Contains reports whether a message of level containing substr was logged.
func (l *Logger) Contains(level, substr string) bool {
	for _, e := range l.Entries() {
		if e.Level == level && strings.Contains(e.Msg, substr) {
			return true
		}
	}
	return false
}

func (l *Logger) String() string {
	var b strings.Builder
	for _, e := range l.Entries() {
		fmt.Fprintf(&b, "%s %s %v\n", e.Level, e.Msg, e.Args)
	}
	return b.String()
}
