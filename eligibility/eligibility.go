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

// Package eligibility decides whether a push is scanned at all.
package eligibility

import (
	"context"
	"fmt"
	"strings"

	"github.com/in-toto/pushguard/audit"
	"github.com/in-toto/pushguard/changes"
	"github.com/in-toto/pushguard/log"
	"github.com/in-toto/pushguard/settings"
	"github.com/in-toto/pushguard/telemetry"
)

const (
	// SkipMarker in any commit message of a push skips the scan.
	SkipMarker = "[skip secret push protection]"
	// SkipPushOption passed with "git push -o" skips the scan.
	SkipPushOption = "secret_push_protection.skip_all"
	// LegacySkipPushOption is still honoured for older clients.
	LegacySkipPushOption = "secret_detection.skip_all"
)

const (
	skipMethodCommitMessage = "commit message"
	skipMethodPushOption    = "push option"
)

type Option func(*Gate)

func WithAudit(r audit.Recorder) Option {
	return func(g *Gate) {
		g.recorder = r
	}
}

func WithTracker(t telemetry.Tracker) Option {
	return func(g *Gate) {
		g.tracker = t
	}
}

type Gate struct {
	policy   settings.PolicySource
	recorder audit.Recorder
	tracker  telemetry.Tracker
}

func NewGate(policy settings.PolicySource, opts ...Option) *Gate {
	g := &Gate{policy: policy}
	for _, opt := range opts {
		opt(g)
	}

	return g
}

// ShouldScan returns false when the push must be let through without a
// scan. Explicit skips requested by the pusher are recorded in the audit log
// and in telemetry; every other reason is silent.
func (g *Gate) ShouldScan(ctx context.Context, access *changes.Access) bool {
	if !g.policy.Licensed(ctx) || !g.policy.ProtectionEnabled(ctx) {
		log.Debugf("(eligibility) push protection is not licensed or not enabled")
		return false
	}

	set := access.ChangeSet()
	if set.DeletesRef() {
		log.Debugf("(eligibility) push deletes a ref, skipping")
		return false
	}

	switch set.Protocol {
	case changes.ProtocolSSH, changes.ProtocolHTTP:
	case changes.ProtocolWeb:
		if !set.EnableSecretsCheck {
			log.Debugf("(eligibility) web push without secrets check, skipping")
			return false
		}
	default:
		log.Debugf("(eligibility) unsupported protocol %q, skipping", set.Protocol)
		return false
	}

	commits, err := access.Commits(ctx)
	if err != nil {
		log.Warnf("(eligibility) could not read commit messages: %s", err)
	}

	marker := strings.ToLower(SkipMarker)
	for _, c := range commits {
		if strings.Contains(strings.ToLower(c.Message), marker) {
			g.recordSkip(ctx, set, skipMethodCommitMessage)
			return false
		}
	}

	if set.HasPushOption(SkipPushOption) || set.HasPushOption(LegacySkipPushOption) {
		g.recordSkip(ctx, set, skipMethodPushOption)
		return false
	}

	return true
}

func (g *Gate) recordSkip(ctx context.Context, set changes.ChangeSet, method string) {
	log.Infof("(eligibility) push protection skipped via %s", method)

	branch := ""
	if len(set.Changes) > 0 {
		branch = strings.TrimPrefix(set.Changes[0].Ref, "refs/heads/")
	}

	audit.Emit(ctx, g.recorder, audit.Scope{Actor: set.User, Target: set.Project},
		audit.EventSkipPushProtection,
		fmt.Sprintf("Secret push protection skipped via %s on branch %s", method, branch),
		map[string]string{"skip_method": method, "branch": branch})

	telemetry.Record(ctx, g.tracker, telemetry.Event{
		Name:    telemetry.EventSkipPushProtection,
		Actor:   set.User,
		Project: set.Project,
		Label:   method,
	})
}
