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

// Package environment masks sensitive variables in the environment a hook
// runs with, so it can be logged.
package environment

import (
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/in-toto/pushguard/log"
)

// Masked replaces the value of every sensitive variable.
const Masked = "******"

// DefaultSensitiveKeys are masked unless kept explicitly. Entries with a
// '*' are globs.
func DefaultSensitiveKeys() []string {
	return []string{
		"*TOKEN*",
		"*SECRET*",
		"*PASSWORD*",
		"*PASSWD*",
		"*_KEY",
		"*CREDENTIALS*",
		"GL_OIDC_*",
		"PUSHGUARD_REMOTE_AUTH_TOKEN",
	}
}

type Option func(*Redactor)

// WithSensitiveKeys masks keys in addition to the defaults.
func WithSensitiveKeys(keys ...string) Option {
	return func(r *Redactor) {
		r.sensitive = append(r.sensitive, keys...)
	}
}

// WithKeepKeys never masks keys. Globs are not supported here.
func WithKeepKeys(keys ...string) Option {
	return func(r *Redactor) {
		for _, k := range keys {
			r.keep[k] = struct{}{}
		}
	}
}

// WithPrefixes limits the output to variables starting with one of prefixes.
func WithPrefixes(prefixes ...string) Option {
	return func(r *Redactor) {
		r.prefixes = append(r.prefixes, prefixes...)
	}
}

type Redactor struct {
	sensitive []string
	keep      map[string]struct{}
	prefixes  []string

	exact map[string]struct{}
	globs []glob.Glob
}

func New(opts ...Option) *Redactor {
	r := &Redactor{
		sensitive: DefaultSensitiveKeys(),
		keep:      map[string]struct{}{},
		exact:     map[string]struct{}{},
	}

	for _, opt := range opts {
		opt(r)
	}

	for _, k := range r.sensitive {
		if !strings.Contains(k, "*") {
			r.exact[k] = struct{}{}
			continue
		}

		g, err := glob.Compile(k)
		if err != nil {
			log.Warnf("(environment) sensitive key pattern %q could not be compiled: %s", k, err)
			continue
		}

		r.globs = append(r.globs, g)
	}

	return r
}

func (r *Redactor) sensitiveKey(key string) bool {
	if _, ok := r.keep[key]; ok {
		return false
	}

	if _, ok := r.exact[key]; ok {
		return true
	}

	for _, g := range r.globs {
		if g.Match(key) {
			return true
		}
	}

	return false
}

func (r *Redactor) selected(key string) bool {
	if len(r.prefixes) == 0 {
		return true
	}

	for _, p := range r.prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}

	return false
}

// Redact turns "KEY=VALUE" entries into a map with sensitive values masked.
func (r *Redactor) Redact(env []string) map[string]string {
	out := make(map[string]string)
	for _, v := range env {
		key, val := splitVariable(v)
		if !r.selected(key) {
			continue
		}

		if r.sensitiveKey(key) {
			val = Masked
		}

		out[key] = val
	}

	return out
}

// String renders a redacted environment as sorted KEY=VALUE pairs.
func String(vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+vars[k])
	}

	return strings.Join(pairs, " ")
}

// splitVariable splits a string representing an environment variable in the format of
// "KEY=VAL" and returns the key and val separately.
func splitVariable(v string) (key, val string) {
	parts := strings.SplitN(v, "=", 2)
	key = parts[0]
	if len(parts) > 1 {
		val = parts[1]
	}

	return
}
