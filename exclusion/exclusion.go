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

// Package exclusion holds the project level exemptions from push protection
// and decides whether a path, rule or value is covered by one.
package exclusion

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"
)

type Type int

const (
	TypeUnspecified Type = iota
	TypeRule
	TypePath
	TypeRawValue
)

func (t Type) String() string {
	switch t {
	case TypeRule:
		return "rule"
	case TypePath:
		return "path"
	case TypeRawValue:
		return "raw_value"
	default:
		return "unspecified"
	}
}

func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rule":
		return TypeRule, nil
	case "path":
		return TypePath, nil
	case "raw_value":
		return TypeRawValue, nil
	default:
		return TypeUnspecified, fmt.Errorf("unknown exclusion type %q", s)
	}
}

// Exclusion exempts a rule id, a path glob or a literal secret value.
type Exclusion struct {
	Type        Type
	Value       string
	Description string
}

// Set is the exclusions active for one check, grouped by type and kept in
// the order they were loaded.
type Set struct {
	byType map[Type][]Exclusion
}

func NewSet(exclusions ...Exclusion) Set {
	s := Set{byType: make(map[Type][]Exclusion)}
	for _, e := range exclusions {
		if e.Value == "" || e.Type == TypeUnspecified {
			continue
		}

		s.byType[e.Type] = append(s.byType[e.Type], e)
	}

	return s
}

func (s Set) Rules() []Exclusion     { return s.byType[TypeRule] }
func (s Set) Paths() []Exclusion     { return s.byType[TypePath] }
func (s Set) RawValues() []Exclusion { return s.byType[TypeRawValue] }

// All returns every exclusion, rules first, then paths, then raw values.
func (s Set) All() []Exclusion {
	var all []Exclusion
	for _, t := range []Type{TypeRule, TypePath, TypeRawValue} {
		all = append(all, s.byType[t]...)
	}

	return all
}

func (s Set) Len() int {
	n := 0
	for _, e := range s.byType {
		n += len(e)
	}

	return n
}

func (s Set) HasRule(ruleID string) bool {
	for _, e := range s.Rules() {
		if e.Value == ruleID {
			return true
		}
	}

	return false
}

func (s Set) HasRawValue(secret string) bool {
	for _, e := range s.RawValues() {
		if e.Value == secret {
			return true
		}
	}

	return false
}

// Source loads the exclusions configured for a project.
type Source interface {
	Load(ctx context.Context) ([]Exclusion, error)
}

// Load reads src once and groups the result.
func Load(ctx context.Context, src Source) (Set, error) {
	if src == nil {
		return NewSet(), nil
	}

	exclusions, err := src.Load(ctx)
	if err != nil {
		return Set{}, fmt.Errorf("failed to load exclusions: %w", err)
	}

	return NewSet(exclusions...), nil
}

// Static is a fixed list of exclusions.
type Static []Exclusion

func (s Static) Load(context.Context) ([]Exclusion, error) {
	return s, nil
}

// FileSource reads exclusions from a YAML document of the form
//
//	exclusions:
//	  - type: path
//	    value: "spec/**/*.rb"
//	    description: test fixtures
type FileSource struct {
	Path string
}

type fileDocument struct {
	Exclusions []struct {
		Type        string `yaml:"type"`
		Value       string `yaml:"value"`
		Description string `yaml:"description"`
	} `yaml:"exclusions"`
}

func (f FileSource) Load(context.Context) ([]Exclusion, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse decodes the YAML exclusions document.
func Parse(data []byte) ([]Exclusion, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("could not parse exclusions: %w", err)
	}

	exclusions := make([]Exclusion, 0, len(doc.Exclusions))
	for i, raw := range doc.Exclusions {
		t, err := ParseType(raw.Type)
		if err != nil {
			return nil, fmt.Errorf("exclusion %d: %w", i, err)
		}

		if raw.Value == "" {
			return nil, fmt.Errorf("exclusion %d: value is required", i)
		}

		exclusions = append(exclusions, Exclusion{Type: t, Value: raw.Value, Description: raw.Description})
	}

	return exclusions, nil
}
