// Copyright 2025 The Witness Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"sync"
)

var (
	mu  sync.RWMutex
	log Logger = SilentLogger{}
)

// Logger is used by pushguard packages to report what they are doing.
// Nothing is written until a caller installs a Logger with SetLogger.
type Logger interface {
	Errorf(format string, args ...interface{})
	Error(args ...interface{})
	Warnf(format string, args ...interface{})
	Warn(args ...interface{})
	Debugf(format string, args ...interface{})
	Debug(args ...interface{})
	Infof(format string, args ...interface{})
	Info(args ...interface{})
}

// SetLogger will set the Logger instance that all pushguard packages will use.
func SetLogger(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = SilentLogger{}
	}

	log = l
}

// GetLogger returns the Logger instance currently in use.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func Errorf(format string, args ...interface{}) {
	GetLogger().Errorf(format, args...)
}

func Error(args ...interface{}) {
	GetLogger().Error(args...)
}

func Warnf(format string, args ...interface{}) {
	GetLogger().Warnf(format, args...)
}

func Warn(args ...interface{}) {
	GetLogger().Warn(args...)
}

func Debugf(format string, args ...interface{}) {
	GetLogger().Debugf(format, args...)
}

func Debug(args ...interface{}) {
	GetLogger().Debug(args...)
}

func Infof(format string, args ...interface{}) {
	GetLogger().Infof(format, args...)
}

func Info(args ...interface{}) {
	GetLogger().Info(args...)
}

// SilentLogger discards everything.
type SilentLogger struct{}

func (l SilentLogger) Errorf(format string, args ...interface{}) {}
func (l SilentLogger) Error(args ...interface{})                 {}
func (l SilentLogger) Warnf(format string, args ...interface{})  {}
func (l SilentLogger) Warn(args ...interface{})                  {}
func (l SilentLogger) Debugf(format string, args ...interface{}) {}
func (l SilentLogger) Debug(args ...interface{})                 {}
func (l SilentLogger) Infof(format string, args ...interface{})  {}
func (l SilentLogger) Info(args ...interface{})                  {}

// Entry is a single message captured by a RecordingLogger.
type Entry struct {
	Level   string
	Message string
}

// RecordingLogger keeps every message in memory. It is mostly useful in tests
// that need to assert a specific message was logged.
type RecordingLogger struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *RecordingLogger) add(level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Level: level, Message: msg})
}

// Entries returns a copy of everything logged so far.
func (r *RecordingLogger) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Messages returns the messages logged at level.
func (r *RecordingLogger) Messages(level string) []string {
	var out []string
	for _, e := range r.Entries() {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}

	return out
}

func (r *RecordingLogger) Errorf(format string, args ...interface{}) {
	r.add("error", fmt.Sprintf(format, args...))
}

func (r *RecordingLogger) Error(args ...interface{}) { r.add("error", fmt.Sprint(args...)) }

func (r *RecordingLogger) Warnf(format string, args ...interface{}) {
	r.add("warn", fmt.Sprintf(format, args...))
}

func (r *RecordingLogger) Warn(args ...interface{}) { r.add("warn", fmt.Sprint(args...)) }

func (r *RecordingLogger) Debugf(format string, args ...interface{}) {
	r.add("debug", fmt.Sprintf(format, args...))
}

func (r *RecordingLogger) Debug(args ...interface{}) { r.add("debug", fmt.Sprint(args...)) }

func (r *RecordingLogger) Infof(format string, args ...interface{}) {
	r.add("info", fmt.Sprintf(format, args...))
}

func (r *RecordingLogger) Info(args ...interface{}) { r.add("info", fmt.Sprint(args...)) }
