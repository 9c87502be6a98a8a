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

package exclusion

import (
	"context"
	"strings"

	"github.com/gobwas/glob"
	"github.com/in-toto/pushguard/audit"
	"github.com/in-toto/pushguard/log"
)

const (
	DefaultMaxPathDepth      = 20
	DefaultMaxPathExclusions = 10
)

type MatcherOption func(*Matcher)

// Negative limits are treated as zero.
func WithMaxPathDepth(n int) MatcherOption {
	return func(m *Matcher) {
		m.maxPathDepth = max(n, 0)
	}
}

func WithMaxPathExclusions(n int) MatcherOption {
	return func(m *Matcher) {
		m.maxPathExclusions = max(n, 0)
	}
}

// WithAudit records one audit event for every path an exclusion applies to.
func WithAudit(r audit.Recorder, scope audit.Scope) MatcherOption {
	return func(m *Matcher) {
		m.recorder = r
		m.scope = scope
	}
}

type pathGlob struct {
	exclusion Exclusion
	globs     []glob.Glob
}

// Matcher evaluates the path exclusions of a Set. Only the first
// MaxPathExclusions path exclusions are considered.
type Matcher struct {
	set               Set
	maxPathDepth      int
	maxPathExclusions int
	recorder          audit.Recorder
	scope             audit.Scope
	paths             []pathGlob
}

func NewMatcher(set Set, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		set:               set,
		maxPathDepth:      DefaultMaxPathDepth,
		maxPathExclusions: DefaultMaxPathExclusions,
	}

	for _, opt := range opts {
		opt(m)
	}

	paths := set.Paths()
	if len(paths) > m.maxPathExclusions {
		log.Debugf("(exclusion) only the first %d of %d path exclusions are applied", m.maxPathExclusions, len(paths))
		paths = paths[:m.maxPathExclusions]
	}

	for _, e := range paths {
		pg := pathGlob{exclusion: e}
		for _, pattern := range expandPattern(e.Value) {
			g, err := glob.Compile(pattern, '/')
			if err != nil {
				log.Warnf("(exclusion) ignoring invalid path exclusion %q: %s", e.Value, err)
				continue
			}

			pg.globs = append(pg.globs, g)
		}

		m.paths = append(m.paths, pg)
	}

	return m
}

// ActiveExclusions returns the full set the matcher was built from.
func (m *Matcher) ActiveExclusions() Set {
	return m.set
}

// MatchesPath reports whether path is covered by a path exclusion.
// Paths nested deeper than the configured maximum never match.
func (m *Matcher) MatchesPath(ctx context.Context, path string) bool {
	if m == nil || len(m.paths) == 0 {
		return false
	}

	path = strings.TrimPrefix(path, "/")
	if strings.Count(path, "/") > m.maxPathDepth {
		return false
	}

	for _, pg := range m.paths {
		for _, g := range pg.globs {
			if !g.Match(path) {
				continue
			}

			audit.Emit(ctx, m.recorder, m.scope, audit.EventExclusionApplied,
				"An exclusion was applied to a path during push protection",
				map[string]string{
					"exclusion_type":  pg.exclusion.Type.String(),
					"exclusion_value": pg.exclusion.Value,
					"path":            path,
				})
			return true
		}
	}

	return false
}

// expandPattern lets "**/" also match zero directories, so "spec/**/*.rb"
// matches "spec/file.rb" as well as "spec/models/file.rb".
func expandPattern(pattern string) []string {
	pattern = strings.TrimPrefix(pattern, "/")
	idx := strings.Index(pattern, "**/")
	if idx < 0 {
		return []string{pattern}
	}

	head := pattern[:idx]
	var out []string
	for _, rest := range expandPattern(pattern[idx+3:]) {
		out = append(out, head+"**/"+rest, head+rest)
	}

	return out
}
