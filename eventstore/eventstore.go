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

// Package eventstore persists audit events, analytics events and tracked
// exceptions in a local sqlite database.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/in-toto/pushguard/audit"
	"github.com/in-toto/pushguard/log"
	"github.com/in-toto/pushguard/telemetry"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TIMESTAMP NOT NULL,
	name       TEXT NOT NULL,
	actor      TEXT NOT NULL,
	target     TEXT NOT NULL,
	message    TEXT NOT NULL,
	details    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS analytics_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TIMESTAMP NOT NULL,
	name       TEXT NOT NULL,
	actor      TEXT NOT NULL,
	project    TEXT NOT NULL,
	label      TEXT NOT NULL,
	properties TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS exceptions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TIMESTAMP NOT NULL,
	error      TEXT NOT NULL,
	fields     TEXT NOT NULL
);`

var (
	_ audit.Recorder         = (*Store)(nil)
	_ telemetry.Tracker      = (*Store)(nil)
	_ telemetry.ErrorTracker = (*Store)(nil)
)

// Exception is a tracked error as read back from the store.
type Exception struct {
	Error  string
	Fields map[string]string
}

// Store writes every event to sqlite. A single connection is used, so
// writes from concurrent scans are serialized by database/sql.
type Store struct {
	db  *sql.DB
	now func() time.Time

	closeOnce sync.Once
}

// Open creates or opens the database at path. ":memory:" gives a throwaway
// store.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open event store %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create event store schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.db.Close()
	})

	return err
}

func (s *Store) Record(ctx context.Context, event audit.Event) error {
	details, err := encode(event.Details)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_events (created_at, name, actor, target, message, details) VALUES (?, ?, ?, ?, ?, ?)`,
		s.now().UTC(), event.Name, event.Actor, event.Target, event.Message, details)
	if err != nil {
		return fmt.Errorf("failed to store audit event %s: %w", event.Name, err)
	}

	return nil
}

func (s *Store) RecordEvent(ctx context.Context, event telemetry.Event) error {
	props, err := encode(event.Properties)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analytics_events (created_at, name, actor, project, label, properties) VALUES (?, ?, ?, ?, ?, ?)`,
		s.now().UTC(), event.Name, event.Actor, event.Project, event.Label, props)
	if err != nil {
		return fmt.Errorf("failed to store analytics event %s: %w", event.Name, err)
	}

	return nil
}

// TrackException stores err. Failures are logged since the caller has
// already handled err.
func (s *Store) TrackException(ctx context.Context, err error, fields map[string]string) {
	if err == nil {
		return
	}

	encoded, encErr := encode(fields)
	if encErr != nil {
		log.Warnf("(eventstore) %s", encErr)
		return
	}

	// the tracked error is often a context error, so the write must not
	// inherit its cancellation
	_, dbErr := s.db.ExecContext(context.WithoutCancel(ctx),
		`INSERT INTO exceptions (created_at, error, fields) VALUES (?, ?, ?)`,
		s.now().UTC(), err.Error(), encoded)
	if dbErr != nil {
		log.Warnf("(eventstore) failed to store exception: %s", dbErr)
	}
}

// AuditEvents returns stored audit events in insertion order.
func (s *Store) AuditEvents(ctx context.Context) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, actor, target, message, details FROM audit_events ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e       audit.Event
			details string
		)

		if err := rows.Scan(&e.Name, &e.Actor, &e.Target, &e.Message, &details); err != nil {
			return nil, err
		}

		if e.Details, err = decode(details); err != nil {
			return nil, err
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

// AnalyticsEvents returns stored analytics events in insertion order.
func (s *Store) AnalyticsEvents(ctx context.Context) ([]telemetry.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, actor, project, label, properties FROM analytics_events ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query analytics events: %w", err)
	}
	defer rows.Close()

	var events []telemetry.Event
	for rows.Next() {
		var (
			e     telemetry.Event
			props string
		)

		if err := rows.Scan(&e.Name, &e.Actor, &e.Project, &e.Label, &props); err != nil {
			return nil, err
		}

		if e.Properties, err = decode(props); err != nil {
			return nil, err
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

func (s *Store) Exceptions(ctx context.Context) ([]Exception, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT error, fields FROM exceptions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query exceptions: %w", err)
	}
	defer rows.Close()

	var out []Exception
	for rows.Next() {
		var (
			e      Exception
			fields string
		)

		if err := rows.Scan(&e.Error, &fields); err != nil {
			return nil, err
		}

		if e.Fields, err = decode(fields); err != nil {
			return nil, err
		}

		out = append(out, e)
	}

	return out, rows.Err()
}

func encode(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}

	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode event fields: %w", err)
	}

	return string(b), nil
}

func decode(s string) (map[string]string, error) {
	m := map[string]string{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("failed to decode event fields: %w", err)
	}

	if len(m) == 0 {
		return nil, nil
	}

	return m, nil
}
