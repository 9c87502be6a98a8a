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

package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatic(t *testing.T) {
	s := Static{HasLicense: true, Public: true, Features: []Feature{FeatureDarkLaunch}}
	ctx := context.Background()

	assert.True(t, s.Licensed(ctx))
	assert.False(t, s.ProtectionEnabled(ctx))
	assert.True(t, s.ProjectPublic(ctx))
	assert.False(t, s.DedicatedInstance(ctx))
	assert.True(t, s.FeatureEnabled(ctx, FeatureDarkLaunch))
	assert.False(t, s.FeatureEnabled(ctx, FeatureRemoteScan))
}
