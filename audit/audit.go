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

// Package audit defines the audit log collaborator used to record decisions
// that bypass or narrow push protection.
package audit

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/in-toto/pushguard/log"
)

// Event names recorded by push protection.
const (
	EventSkipPushProtection = "skip_secret_push_protection"
	EventExclusionApplied   = "project_security_exclusion_applied"
	EventSecretFound        = "secret_push_protection_finding"
)

// Event is one audit log entry.
type Event struct {
	Name    string
	Actor   string
	Target  string
	Message string
	Details map[string]string
}

// Recorder persists audit events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, event Event) error

func (f RecorderFunc) Record(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Scope carries the actor and target every event of a single push is
// recorded against.
type Scope struct {
	Actor  string
	Target string
}

// Emit records an event on r and logs, rather than returns, any failure.
// Audit persistence must never change the outcome of a push check.
func Emit(ctx context.Context, r Recorder, scope Scope, name, message string, details map[string]string) {
	if r == nil {
		return
	}

	event := Event{
		Name:    name,
		Actor:   scope.Actor,
		Target:  scope.Target,
		Message: message,
		Details: details,
	}

	if err := r.Record(ctx, event); err != nil {
		log.Errorf("(audit) failed to record %s event: %s", name, err)
	}
}

// LogRecorder writes audit events to the package logger.
type LogRecorder struct{}

func (LogRecorder) Record(_ context.Context, event Event) error {
	log.Infof("(audit) %s actor=%s target=%s: %s%s", event.Name, event.Actor, event.Target, event.Message, formatDetails(event.Details))
	return nil
}

func formatDetails(details map[string]string) string {
	if len(details) == 0 {
		return ""
	}

	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	sb := strings.Builder{}
	for _, k := range keys {
		sb.WriteString(" ")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(details[k])
	}

	return sb.String()
}

// MemoryRecorder keeps events in memory.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemoryRecorder) Record(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (m *MemoryRecorder) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Named returns the recorded events with the given name.
func (m *MemoryRecorder) Named(name string) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}

	return out
}

// Multi fans an event out to every recorder. The first error is returned
// after all recorders have been tried.
func Multi(recorders ...Recorder) Recorder {
	return RecorderFunc(func(ctx context.Context, event Event) error {
		var firstErr error
		for _, r := range recorders {
			if r == nil {
				continue
			}

			if err := r.Record(ctx, event); err != nil && firstErr == nil {
				firstErr = err
			}
		}

		return firstErr
	})
}
