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

package scanner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/in-toto/pushguard/exclusion"
	"github.com/in-toto/pushguard/log"
	"github.com/in-toto/pushguard/payload"
	"github.com/spf13/viper"
	"github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	"github.com/zricethezav/gitleaks/v8/report"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers        = 4
	DefaultPayloadTimeout = 5 * time.Second
)

type Option func(*Gitleaks)

// WithConfigPath loads the ruleset from a gitleaks TOML file instead of the
// built in rules.
func WithConfigPath(path string) Option {
	return func(g *Gitleaks) {
		g.configPath = path
	}
}

func WithWorkers(n int) Option {
	return func(g *Gitleaks) {
		if n > 0 {
			g.workers = n
		}
	}
}

func WithPayloadTimeout(d time.Duration) Option {
	return func(g *Gitleaks) {
		if d > 0 {
			g.payloadTimeout = d
		}
	}
}

// Gitleaks scans payloads with a gitleaks detector, several payloads at a
// time.
//
// A detector run cannot be interrupted. When a payload times out its run
// keeps going in the background and still holds one of the worker slots
// until it returns, so no more than the configured number of runs are ever
// in flight, across Scan calls.
type Gitleaks struct {
	configPath     string
	workers        int
	payloadTimeout time.Duration
	detector       *detect.Detector
	running        chan struct{}

	// detect is swapped in tests to simulate slow or failing rules
	detect func(data string) []report.Finding
}

var _ Scanner = (*Gitleaks)(nil)

// NewGitleaks builds the detector. An error means the ruleset could not be
// read or compiled.
func NewGitleaks(opts ...Option) (*Gitleaks, error) {
	g := &Gitleaks{
		workers:        DefaultWorkers,
		payloadTimeout: DefaultPayloadTimeout,
	}

	for _, opt := range opts {
		opt(g)
	}

	g.running = make(chan struct{}, g.workers)

	var err error
	if g.configPath != "" {
		g.detector, err = loadCustomConfig(g.configPath)
	} else {
		log.Debugf("(scanner) using default gitleaks configuration")
		g.detector, err = detect.NewDetectorDefaultConfig()
		if err != nil {
			err = fmt.Errorf("error creating default gitleaks detector: %w", err)
		}
	}
	if err != nil {
		return nil, err
	}

	g.detect = func(data string) []report.Finding {
		return g.detector.DetectBytes([]byte(data))
	}

	return g, nil
}

func loadCustomConfig(path string) (*detect.Detector, error) {
	log.Debugf("(scanner) loading gitleaks configuration from: %s", path)

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("gitleaks config file not found at %s: %w", path, err)
		}
		return nil, fmt.Errorf("error reading gitleaks config file %s: %w", path, err)
	}

	var viperConfig config.ViperConfig
	if err := v.Unmarshal(&viperConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling gitleaks config from %s: %w", path, err)
	}

	cfg, err := translate(viperConfig)
	if err != nil {
		return nil, fmt.Errorf("error translating gitleaks config from %s: %w", path, err)
	}

	if len(cfg.Rules) == 0 {
		log.Warnf("(scanner) gitleaks config from %s contains no rules", path)
	}

	return detect.NewDetector(cfg), nil
}

// translate compiles the rules. gitleaks panics on rules whose regex does
// not compile.
func translate(vc config.ViperConfig) (cfg config.Config, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid rule: %v", r)
		}
	}()

	return vc.Translate()
}

// Scan runs every payload through the detector. Payloads that exceed their
// own timeout or make the detector panic are reported as error findings.
// Exceeding the overall timeout discards everything and reports
// StatusScanTimeout.
func (g *Gitleaks) Scan(ctx context.Context, payloads []payload.Payload, set exclusion.Set, timeout time.Duration) Result {
	if len(payloads) == 0 {
		log.Debugf("(scanner) %s", ErrNoPayloads)
		return Result{Status: StatusInputError}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	results := make([][]Finding, len(payloads))
	var eg errgroup.Group
	eg.SetLimit(g.workers)
	for i, p := range payloads {
		if ctx.Err() != nil {
			break
		}

		eg.Go(func() error {
			results[i] = g.scanPayload(ctx, p, set)
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		log.Warnf("(scanner) scan of %d payloads did not finish: %s", len(payloads), err)
		return Result{Status: StatusScanTimeout}
	}

	seen := make(map[Finding]bool)
	var findings []Finding
	for _, fs := range results {
		for _, f := range fs {
			if seen[f] {
				continue
			}

			seen[f] = true
			findings = append(findings, f)
		}
	}

	return Result{Status: summarize(findings), Findings: findings}
}

func (g *Gitleaks) scanPayload(ctx context.Context, p payload.Payload, set exclusion.Set) []Finding {
	if p.Data == "" {
		return nil
	}

	pctx, cancel := context.WithTimeout(ctx, g.payloadTimeout)
	defer cancel()

	type outcome struct {
		findings []report.Finding
		err      error
	}

	select {
	case g.running <- struct{}{}:
	case <-pctx.Done():
		return timedOut(ctx, p, g.payloadTimeout)
	}

	// a timed out run finishes in the background and its result is dropped
	done := make(chan outcome, 1)
	go func() {
		defer func() { <-g.running }()
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("detector panicked: %v", r)}
			}
		}()

		done <- outcome{findings: g.detect(p.Data)}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			log.Errorf("(scanner) failed to scan blob %s: %s", p.ID, out.err)
			return []Finding{{PayloadID: p.ID, Status: StatusScanError}}
		}

		return toFindings(p, out.findings, set)
	case <-pctx.Done():
		return timedOut(ctx, p, g.payloadTimeout)
	}
}

// timedOut reports p as timed out unless the whole scan was cancelled.
func timedOut(ctx context.Context, p payload.Payload, after time.Duration) []Finding {
	if ctx.Err() != nil {
		return nil
	}

	log.Warnf("(scanner) scanning blob %s timed out after %s", p.ID, after)
	return []Finding{{PayloadID: p.ID, Status: StatusPayloadTimeout}}
}

func toFindings(p payload.Payload, found []report.Finding, set exclusion.Set) []Finding {
	base := max(p.Offset, 1)
	// repeated matches of the same text are located one after another
	searchFrom := make(map[string]int)

	var findings []Finding
	for _, gf := range found {
		line := base + lineOf(p.Data, gf, searchFrom)

		if set.HasRule(gf.RuleID) {
			log.Debugf("(scanner) rule %s is excluded, dropping finding in blob %s", gf.RuleID, p.ID)
			continue
		}

		if gf.Secret != "" && set.HasRawValue(gf.Secret) {
			log.Debugf("(scanner) excluded value matched by %s in blob %s", gf.RuleID, p.ID)
			continue
		}

		findings = append(findings, Finding{
			PayloadID:   p.ID,
			Status:      StatusFound,
			LineNumber:  line,
			Type:        gf.RuleID,
			Description: gf.Description,
		})
	}

	return findings
}

// lineOf returns the 0-based line of the finding within data.
func lineOf(data string, gf report.Finding, searchFrom map[string]int) int {
	for _, needle := range []string{gf.Match, gf.Secret} {
		if needle == "" {
			continue
		}

		key := gf.RuleID + "\x00" + needle
		from := searchFrom[key]
		if from > len(data) {
			continue
		}

		idx := strings.Index(data[from:], needle)
		if idx < 0 {
			continue
		}

		idx += from
		searchFrom[key] = idx + 1
		return strings.Count(data[:idx], "\n")
	}

	return max(gf.StartLine, 0)
}
