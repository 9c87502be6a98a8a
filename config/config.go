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

// Package config loads pushguard settings from a file, PUSHGUARD_*
// environment variables and built-in defaults, in that order of precedence
// from lowest to highest: defaults, file, environment.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/in-toto/pushguard/exclusion"
	"github.com/in-toto/pushguard/settings"
	"github.com/invopop/jsonschema"
	"github.com/spf13/viper"
)

const EnvPrefix = "PUSHGUARD"

type Config struct {
	Timeout   time.Duration `mapstructure:"timeout" jsonschema:"description=Overall budget of one push check,default=60s"`
	LogLevel  string        `mapstructure:"log_level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info"`
	LogFormat string        `mapstructure:"log_format" jsonschema:"enum=json,enum=text,enum=auto,default=auto"`
	DocsURL   string        `mapstructure:"docs_url" jsonschema:"description=Documentation linked from rejection messages"`
	EventDB   string        `mapstructure:"event_db" jsonschema:"description=sqlite file audit and analytics events are written to. Empty logs them instead"`

	Scanner    Scanner    `mapstructure:"scanner"`
	Payload    Payload    `mapstructure:"payload"`
	Exclusions Exclusions `mapstructure:"exclusions"`
	Repository Repository `mapstructure:"repository"`
	Remote     Remote     `mapstructure:"remote"`
	Settings   Settings   `mapstructure:"settings"`
}

type Scanner struct {
	Workers        int           `mapstructure:"workers" jsonschema:"minimum=1,default=4"`
	PayloadTimeout time.Duration `mapstructure:"payload_timeout" jsonschema:"default=5s"`
	RulesPath      string        `mapstructure:"rules_path" jsonschema:"description=gitleaks TOML ruleset replacing the built-in rules"`
}

type Payload struct {
	BatchSize     int `mapstructure:"batch_size" jsonschema:"minimum=1,default=50"`
	DiffByteLimit int `mapstructure:"diff_byte_limit" jsonschema:"minimum=1,default=1048576"`
}

type Exclusions struct {
	File              string `mapstructure:"file" jsonschema:"description=YAML file listing rule and path and raw_value exclusions"`
	MaxPathDepth      int    `mapstructure:"max_path_depth" jsonschema:"minimum=1,default=20"`
	MaxPathExclusions int    `mapstructure:"max_path_exclusions" jsonschema:"minimum=0,default=10"`
}

type Repository struct {
	Path           string        `mapstructure:"path" jsonschema:"description=Repository the hook runs in,default=."`
	MaxTreeEntries int           `mapstructure:"max_tree_entries" jsonschema:"minimum=1,default=50000"`
	TreeCacheTTL   time.Duration `mapstructure:"tree_cache_ttl" jsonschema:"default=5m"`
}

type Remote struct {
	Endpoint  string `mapstructure:"endpoint" jsonschema:"description=host:port of the remote analysis service"`
	AuthToken string `mapstructure:"auth_token"`
	Insecure  bool   `mapstructure:"insecure"`
}

type Settings struct {
	Licensed  bool     `mapstructure:"licensed" jsonschema:"default=true"`
	Enabled   bool     `mapstructure:"enabled" jsonschema:"default=true"`
	Public    bool     `mapstructure:"public"`
	Dedicated bool     `mapstructure:"dedicated"`
	Features  []string `mapstructure:"features"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"timeout":                        60 * time.Second,
		"log_level":                      "info",
		"log_format":                     "auto",
		"docs_url":                       "",
		"event_db":                       "",
		"scanner.workers":                4,
		"scanner.payload_timeout":        5 * time.Second,
		"scanner.rules_path":             "",
		"payload.batch_size":             50,
		"payload.diff_byte_limit":        1 << 20,
		"exclusions.file":                "",
		"exclusions.max_path_depth":      exclusion.DefaultMaxPathDepth,
		"exclusions.max_path_exclusions": exclusion.DefaultMaxPathExclusions,
		"repository.path":                ".",
		"repository.max_tree_entries":    50000,
		"repository.tree_cache_ttl":      5 * time.Minute,
		"remote.endpoint":                "",
		"remote.auth_token":              "",
		"remote.insecure":                false,
		"settings.licensed":              true,
		"settings.enabled":               true,
		"settings.public":                false,
		"settings.dedicated":             false,
		"settings.features":              []string{},
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the file at path, if any, and applies environment overrides.
// The file format follows its extension (yaml, toml or json).
func Load(path string) (Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := Config{}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}

	if c.Scanner.Workers < 1 {
		errs = append(errs, fmt.Errorf("scanner.workers must be at least 1, got %d", c.Scanner.Workers))
	}

	if c.Scanner.PayloadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("scanner.payload_timeout must be positive, got %s", c.Scanner.PayloadTimeout))
	}

	if c.Payload.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("payload.batch_size must be at least 1, got %d", c.Payload.BatchSize))
	}

	if c.Payload.DiffByteLimit < 1 {
		errs = append(errs, fmt.Errorf("payload.diff_byte_limit must be at least 1, got %d", c.Payload.DiffByteLimit))
	}

	if c.Exclusions.MaxPathDepth < 1 {
		errs = append(errs, fmt.Errorf("exclusions.max_path_depth must be at least 1, got %d", c.Exclusions.MaxPathDepth))
	}

	if c.Exclusions.MaxPathExclusions < 0 {
		errs = append(errs, fmt.Errorf("exclusions.max_path_exclusions cannot be negative, got %d", c.Exclusions.MaxPathExclusions))
	}

	if c.Repository.MaxTreeEntries < 1 {
		errs = append(errs, fmt.Errorf("repository.max_tree_entries must be at least 1, got %d", c.Repository.MaxTreeEntries))
	}

	if c.Repository.TreeCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("repository.tree_cache_ttl cannot be negative, got %s", c.Repository.TreeCacheTTL))
	}

	if c.Remote.Insecure && c.Remote.AuthToken != "" {
		errs = append(errs, errors.New("remote.auth_token cannot be sent over an insecure connection"))
	}

	return errors.Join(errs...)
}

// Policy turns the settings section into a static policy source.
func (c Config) Policy() settings.Static {
	features := make([]settings.Feature, 0, len(c.Settings.Features))
	for _, f := range c.Settings.Features {
		if f = strings.TrimSpace(f); f != "" {
			features = append(features, settings.Feature(f))
		}
	}

	return settings.Static{
		HasLicense: c.Settings.Licensed,
		Enabled:    c.Settings.Enabled,
		Public:     c.Settings.Public,
		Dedicated:  c.Settings.Dedicated,
		Features:   features,
	}
}

// ExclusionSource returns where project exclusions are read from. Without a
// file there are none.
func (c Config) ExclusionSource() exclusion.Source {
	if c.Exclusions.File == "" {
		return exclusion.Static(nil)
	}

	return exclusion.FileSource{Path: c.Exclusions.File}
}

// Schema describes the config file.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		FieldNameTag:               "mapstructure",
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
		ExpandedStruct:             true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == durationType {
				return &jsonschema.Schema{
					Type:        "string",
					Description: durationDescription,
				}
			}

			return nil
		},
	}

	schema := r.Reflect(&Config{})
	describeDurations(schema, reflect.TypeOf(Config{}))
	schema.ID = "https://github.com/in-toto/pushguard/config"
	schema.Title = "pushguard configuration"
	return schema
}

const durationDescription = "Go duration, e.g. 30s or 5m"

var durationType = reflect.TypeOf(time.Duration(0))

// describeDurations appends the duration format to duration properties
// whose field tag set a description of its own.
func describeDurations(schema *jsonschema.Schema, t reflect.Type) {
	if schema == nil || schema.Properties == nil {
		return
	}

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		prop, ok := schema.Properties.Get(name)
		if name == "" || !ok {
			continue
		}

		switch {
		case f.Type == durationType:
			switch prop.Description {
			case "":
				prop.Description = durationDescription
			case durationDescription:
			default:
				prop.Description = strings.TrimSuffix(prop.Description, ".") + ". " + durationDescription
			}
		case f.Type.Kind() == reflect.Struct:
			describeDurations(prop, f.Type)
		}
	}
}
