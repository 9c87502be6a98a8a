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

package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/in-toto/pushguard/exclusion"
	"github.com/in-toto/pushguard/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "auto", cfg.LogFormat)
	assert.Equal(t, 4, cfg.Scanner.Workers)
	assert.Equal(t, 5*time.Second, cfg.Scanner.PayloadTimeout)
	assert.Equal(t, 50, cfg.Payload.BatchSize)
	assert.Equal(t, 1<<20, cfg.Payload.DiffByteLimit)
	assert.Equal(t, exclusion.DefaultMaxPathDepth, cfg.Exclusions.MaxPathDepth)
	assert.Equal(t, ".", cfg.Repository.Path)
	assert.True(t, cfg.Settings.Licensed)
	assert.Empty(t, cfg.Remote.Endpoint)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, "pushguard.yaml", `
timeout: 30s
scanner:
  workers: 8
remote:
  endpoint: localhost:8443
settings:
  public: true
  features:
    - use_secret_detection_service
`)

	t.Setenv("PUSHGUARD_SCANNER_WORKERS", "2")
	t.Setenv("PUSHGUARD_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 2, cfg.Scanner.Workers)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "localhost:8443", cfg.Remote.Endpoint)

	policy := cfg.Policy()
	assert.True(t, policy.ProjectPublic(context.Background()))
	assert.True(t, policy.FeatureEnabled(context.Background(), settings.FeatureRemoteScan))
	assert.False(t, policy.FeatureEnabled(context.Background(), settings.FeatureDarkLaunch))
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "pushguard.toml", "timeout = \"10s\"\n[payload]\nbatch_size = 5\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 5, cfg.Payload.BatchSize)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := writeFile(t, "bad.yaml", "scanner:\n  workers: 0\npayload:\n  batch_size: 0\n")
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scanner.workers")
	assert.Contains(t, err.Error(), "payload.batch_size")
}

func TestLoadRejectsNegativeLimits(t *testing.T) {
	t.Setenv("PUSHGUARD_EXCLUSIONS_MAX_PATH_EXCLUSIONS", "-1")
	t.Setenv("PUSHGUARD_EXCLUSIONS_MAX_PATH_DEPTH", "-3")
	t.Setenv("PUSHGUARD_REPOSITORY_MAX_TREE_ENTRIES", "0")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exclusions.max_path_exclusions")
	assert.Contains(t, err.Error(), "exclusions.max_path_depth")
	assert.Contains(t, err.Error(), "repository.max_tree_entries")
}

func TestValidateExclusionLimits(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Exclusions.MaxPathExclusions = 0
	assert.NoError(t, cfg.Validate())

	cfg.Exclusions.MaxPathExclusions = -1
	assert.ErrorContains(t, cfg.Validate(), "exclusions.max_path_exclusions cannot be negative")

	cfg.Exclusions.MaxPathExclusions = 1
	cfg.Exclusions.MaxPathDepth = 0
	assert.ErrorContains(t, cfg.Validate(), "exclusions.max_path_depth must be at least 1")
}

func TestValidateInsecureToken(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Remote.Insecure = true
	cfg.Remote.AuthToken = "secret"
	assert.Error(t, cfg.Validate())
}

func TestExclusionSource(t *testing.T) {
	ctx := context.Background()
	cfg := Config{}
	got, err := exclusion.Load(ctx, cfg.ExclusionSource())
	require.NoError(t, err)
	assert.Zero(t, got.Len())

	cfg.Exclusions.File = writeFile(t, "exclusions.yaml", `
exclusions:
  - type: path
    value: "spec/**/*.rb"
  - type: rule
    value: gitlab_personal_access_token
`)
	got, err = exclusion.Load(ctx, cfg.ExclusionSource())
	require.NoError(t, err)
	assert.Equal(t, 2, got.Len())
	assert.True(t, got.HasRule("gitlab_personal_access_token"))
}

func TestSchema(t *testing.T) {
	b, err := json.Marshal(Schema())
	require.NoError(t, err)
	assert.Contains(t, string(b), `"payload_timeout"`)
	assert.Contains(t, string(b), `"max_path_exclusions"`)
	assert.Contains(t, string(b), "Go duration")
}

func TestSchemaDescriptions(t *testing.T) {
	schema := Schema()

	timeout, ok := schema.Properties.Get("timeout")
	require.True(t, ok)
	assert.Equal(t, "Overall budget of one push check. Go duration, e.g. 30s or 5m", timeout.Description)
	assert.Equal(t, "string", timeout.Type)

	scanner, ok := schema.Properties.Get("scanner")
	require.True(t, ok)
	payloadTimeout, ok := scanner.Properties.Get("payload_timeout")
	require.True(t, ok)
	assert.Equal(t, "Go duration, e.g. 30s or 5m", payloadTimeout.Description)

	exclusions, ok := schema.Properties.Get("exclusions")
	require.True(t, ok)
	file, ok := exclusions.Properties.Get("file")
	require.True(t, ok)
	assert.Equal(t, "YAML file listing rule and path and raw_value exclusions", file.Description)
}
