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

// Package pushguard checks incoming pushes for committed secrets and decides
// whether the push is accepted.
package pushguard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/in-toto/pushguard/audit"
	"github.com/in-toto/pushguard/changes"
	"github.com/in-toto/pushguard/eligibility"
	"github.com/in-toto/pushguard/exclusion"
	"github.com/in-toto/pushguard/forwarder"
	"github.com/in-toto/pushguard/log"
	"github.com/in-toto/pushguard/payload"
	"github.com/in-toto/pushguard/repository"
	"github.com/in-toto/pushguard/response"
	"github.com/in-toto/pushguard/scanner"
	"github.com/in-toto/pushguard/settings"
	"github.com/in-toto/pushguard/telemetry"
)

// DefaultTimeout is the budget of one push check.
const DefaultTimeout = 60 * time.Second

// ScannerFactory builds the scanner for one check. An error means the
// detection ruleset is unusable and the push is let through.
type ScannerFactory func(ctx context.Context) (scanner.Scanner, error)

type validateOptions struct {
	repo           repository.Repository
	policy         settings.PolicySource
	exclusions     exclusion.Source
	scannerFactory ScannerFactory
	recorder       audit.Recorder
	tracker        telemetry.Tracker
	errorTracker   telemetry.ErrorTracker
	timeout        time.Duration
	docsURL        string
	forwarderOpts  []forwarder.Option
	processorOpts  []payload.Option
	matcherOpts    []exclusion.MatcherOption
}

type ValidateOption func(vo *validateOptions)

func ValidateWithRepository(repo repository.Repository) ValidateOption {
	return func(vo *validateOptions) {
		vo.repo = repo
	}
}

func ValidateWithPolicy(policy settings.PolicySource) ValidateOption {
	return func(vo *validateOptions) {
		vo.policy = policy
	}
}

func ValidateWithExclusions(src exclusion.Source) ValidateOption {
	return func(vo *validateOptions) {
		vo.exclusions = src
	}
}

func ValidateWithScannerFactory(f ScannerFactory) ValidateOption {
	return func(vo *validateOptions) {
		vo.scannerFactory = f
	}
}

// ValidateWithScanner uses s for every check.
func ValidateWithScanner(s scanner.Scanner) ValidateOption {
	return ValidateWithScannerFactory(func(context.Context) (scanner.Scanner, error) {
		return s, nil
	})
}

func ValidateWithAudit(r audit.Recorder) ValidateOption {
	return func(vo *validateOptions) {
		vo.recorder = r
	}
}

func ValidateWithTracker(t telemetry.Tracker) ValidateOption {
	return func(vo *validateOptions) {
		vo.tracker = t
	}
}

func ValidateWithErrorTracker(t telemetry.ErrorTracker) ValidateOption {
	return func(vo *validateOptions) {
		vo.errorTracker = t
	}
}

func ValidateWithTimeout(d time.Duration) ValidateOption {
	return func(vo *validateOptions) {
		vo.timeout = d
	}
}

func ValidateWithDocsURL(url string) ValidateOption {
	return func(vo *validateOptions) {
		vo.docsURL = url
	}
}

func ValidateWithForwarderOpts(opts ...forwarder.Option) ValidateOption {
	return func(vo *validateOptions) {
		vo.forwarderOpts = append(vo.forwarderOpts, opts...)
	}
}

func ValidateWithProcessorOpts(opts ...payload.Option) ValidateOption {
	return func(vo *validateOptions) {
		vo.processorOpts = append(vo.processorOpts, opts...)
	}
}

func ValidateWithMatcherOpts(opts ...exclusion.MatcherOption) ValidateOption {
	return func(vo *validateOptions) {
		vo.matcherOpts = append(vo.matcherOpts, opts...)
	}
}

func defaultScannerFactory(context.Context) (scanner.Scanner, error) {
	return scanner.NewGitleaks()
}

func validateValidateOpts(vo validateOptions) error {
	if vo.repo == nil {
		return errors.New("a repository is required")
	}

	if vo.policy == nil {
		return errors.New("a policy source is required")
	}

	if vo.timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", vo.timeout)
	}

	return nil
}

// Validate checks set and returns the verdict for the push. Scanner and
// service failures never reject a push; the returned error only reports
// invalid options.
func Validate(ctx context.Context, set changes.ChangeSet, opts ...ValidateOption) (response.Verdict, error) {
	vo := validateOptions{
		policy:         settings.Static{},
		exclusions:     exclusion.Static(nil),
		scannerFactory: defaultScannerFactory,
		timeout:        DefaultTimeout,
	}

	for _, opt := range opts {
		opt(&vo)
	}

	if err := validateValidateOpts(vo); err != nil {
		return response.Allowed(), err
	}

	ctx, cancel := context.WithTimeout(ctx, vo.timeout)
	defer cancel()

	c := &check{
		vo:     vo,
		access: changes.NewAccess(set, vo.repo),
		scope:  audit.Scope{Actor: set.User, Target: set.Project},
		fwd: forwarder.New(vo.policy,
			append(vo.forwarderOpts, forwarder.WithErrorTracker(vo.errorTracker))...),
	}
	defer c.fwd.Close()

	if darkLaunch(ctx, vo.policy) {
		c.runDarkLaunch(ctx)
		return response.Allowed(), nil
	}

	gate := eligibility.NewGate(vo.policy,
		eligibility.WithAudit(vo.recorder),
		eligibility.WithTracker(vo.tracker))
	if !gate.ShouldScan(ctx, c.access) {
		return response.Allowed(), nil
	}

	return c.run(ctx), nil
}

// darkLaunch is set for public projects that have not turned protection on
// but are part of the remote service rollout.
func darkLaunch(ctx context.Context, policy settings.PolicySource) bool {
	return policy.ProjectPublic(ctx) &&
		!policy.ProtectionEnabled(ctx) &&
		policy.FeatureEnabled(ctx, settings.FeatureDarkLaunch)
}

type check struct {
	vo     validateOptions
	access *changes.Access
	scope  audit.Scope
	fwd    *forwarder.Forwarder

	matcher *exclusion.Matcher
}

func (c *check) loadExclusions(ctx context.Context) {
	set, err := exclusion.Load(ctx, c.vo.exclusions)
	if err != nil {
		log.Errorf("(pushguard) could not load exclusions, scanning without them: %s", err)
		set = exclusion.NewSet()
	}

	opts := append([]exclusion.MatcherOption{exclusion.WithAudit(c.vo.recorder, c.scope)}, c.vo.matcherOpts...)
	c.matcher = exclusion.NewMatcher(set, opts...)
}

func (c *check) payloads(ctx context.Context) ([]payload.Payload, error) {
	opts := append([]payload.Option{
		payload.WithPathMatcher(c.matcher),
		payload.WithErrorTracker(c.vo.errorTracker),
	}, c.vo.processorOpts...)

	return payload.NewProcessor(opts...).Standardize(ctx, c.access)
}

func (c *check) runDarkLaunch(ctx context.Context) {
	if c.access.ChangeSet().DeletesRef() || !c.fwd.Enabled(ctx) {
		return
	}

	c.loadExclusions(ctx)
	payloads, err := c.payloads(ctx)
	if err != nil {
		log.Errorf("(pushguard) could not build payloads for dark launch: %s", err)
		return
	}

	if len(payloads) == 0 {
		return
	}

	c.fwd.Forward(ctx, payloads, c.matcher.ActiveExclusions())
}

func (c *check) run(ctx context.Context) response.Verdict {
	c.loadExclusions(ctx)
	payloads, err := c.payloads(ctx)
	if err != nil {
		log.Errorf("(pushguard) could not build payloads, push allowed: %s", err)
		return response.Allowed()
	}

	if len(payloads) == 0 {
		log.Debugf("(pushguard) nothing to scan")
		return response.Allowed()
	}

	active := c.matcher.ActiveExclusions()
	fwdCtx, fwdCancel := context.WithCancel(ctx)
	defer fwdCancel()

	fwdDone := make(chan struct{})
	go func() {
		defer close(fwdDone)
		c.fwd.Forward(fwdCtx, payloads, active)
	}()

	verdict := c.scan(ctx, payloads, active)

	select {
	case <-fwdDone:
	case <-ctx.Done():
		log.Debugf("(pushguard) remote scan still running at the end of the budget, cancelling")
	}

	return verdict
}

func (c *check) scan(ctx context.Context, payloads []payload.Payload, active exclusion.Set) response.Verdict {
	s, err := c.vo.scannerFactory(ctx)
	if err != nil {
		log.Errorf("(pushguard) "+response.MessageScanInitialization, err)
		telemetry.Track(ctx, c.vo.errorTracker, err, map[string]string{"stage": "scanner_init"})
		return response.Allowed()
	}

	remaining := c.vo.timeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining = time.Until(deadline)
	}

	if remaining <= 0 {
		log.Errorf("(pushguard) %s", response.MessageScanTimeout)
		return response.Allowed()
	}

	result := s.Scan(ctx, payloads, active, remaining)
	classifier := response.NewClassifier(
		response.WithPathMatcher(c.matcher),
		response.WithAudit(c.vo.recorder),
		response.WithTracker(c.vo.tracker),
		response.WithDocsURL(c.vo.docsURL),
	)

	return classifier.Classify(ctx, result, c.access)
}
