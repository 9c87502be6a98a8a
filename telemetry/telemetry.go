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

// Package telemetry defines the product-analytics and error-tracking
// collaborators used by push protection.
package telemetry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/in-toto/pushguard/log"
)

const (
	EventSkipPushProtection = "skip_secret_push_protection"
	EventSecretTypeDetected = "detect_secret_type_on_push"
)

// Event is a single analytics event. Label and Property follow the usual
// category/action/label/property layout of product analytics.
type Event struct {
	Name       string
	Actor      string
	Project    string
	Label      string
	Properties map[string]string
}

// Tracker records analytics events.
type Tracker interface {
	RecordEvent(ctx context.Context, event Event) error
}

// ErrorTracker receives errors that were handled internally but should
// still be visible to operators.
type ErrorTracker interface {
	TrackException(ctx context.Context, err error, fields map[string]string)
}

// TrackerFunc adapts a function to the Tracker interface.
type TrackerFunc func(ctx context.Context, event Event) error

func (f TrackerFunc) RecordEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// ErrorTrackerFunc adapts a function to the ErrorTracker interface.
type ErrorTrackerFunc func(ctx context.Context, err error, fields map[string]string)

func (f ErrorTrackerFunc) TrackException(ctx context.Context, err error, fields map[string]string) {
	f(ctx, err, fields)
}

// Record sends event to t, logging any failure.
func Record(ctx context.Context, t Tracker, event Event) {
	if t == nil {
		return
	}

	if err := t.RecordEvent(ctx, event); err != nil {
		log.Errorf("(telemetry) failed to record %s event: %s", event.Name, err)
	}
}

// Track sends err to t. A nil tracker or nil error is ignored.
func Track(ctx context.Context, t ErrorTracker, err error, fields map[string]string) {
	if t == nil || err == nil {
		return
	}

	t.TrackException(ctx, err, fields)
}

// LogTracker writes events and exceptions to the package logger.
type LogTracker struct{}

func (LogTracker) RecordEvent(_ context.Context, event Event) error {
	log.Debugf("(telemetry) %s actor=%s project=%s label=%q%s", event.Name, event.Actor, event.Project, event.Label, formatFields(event.Properties))
	return nil
}

func (LogTracker) TrackException(_ context.Context, err error, fields map[string]string) {
	log.Errorf("(telemetry) tracked exception: %s%s", err, formatFields(fields))
}

func formatFields(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	return " " + strings.Join(parts, " ")
}

// Memory keeps events and exceptions in memory.
type Memory struct {
	mu         sync.Mutex
	events     []Event
	exceptions []error
}

func (m *Memory) RecordEvent(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *Memory) TrackException(_ context.Context, err error, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exceptions = append(m.exceptions, err)
}

func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *Memory) Exceptions() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]error, len(m.exceptions))
	copy(out, m.exceptions)
	return out
}

// Named returns the recorded events with the given name.
func (m *Memory) Named(name string) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}

	return out
}
