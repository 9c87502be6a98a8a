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

// Package settings answers the licensing, project and feature flag questions
// push protection asks before doing any work.
package settings

import "context"

type Feature string

const (
	// FeatureDarkLaunch sends public projects without push protection to the
	// remote service only, without ever blocking them.
	FeatureDarkLaunch Feature = "secret_detection_dark_launch"
	// FeatureRemoteScan enables the shadow copy of each scan to the remote
	// analysis service.
	FeatureRemoteScan Feature = "use_secret_detection_service"
)

// PolicySource is the collaborator that owns license and project settings.
type PolicySource interface {
	Licensed(ctx context.Context) bool
	ProtectionEnabled(ctx context.Context) bool
	ProjectPublic(ctx context.Context) bool
	FeatureEnabled(ctx context.Context, feature Feature) bool
	DedicatedInstance(ctx context.Context) bool
}

// Static is a PolicySource with fixed answers.
type Static struct {
	HasLicense bool
	Enabled    bool
	Public     bool
	Dedicated  bool
	Features   []Feature
}

var _ PolicySource = Static{}

func (s Static) Licensed(context.Context) bool          { return s.HasLicense }
func (s Static) ProtectionEnabled(context.Context) bool { return s.Enabled }
func (s Static) ProjectPublic(context.Context) bool     { return s.Public }
func (s Static) DedicatedInstance(context.Context) bool { return s.Dedicated }

func (s Static) FeatureEnabled(_ context.Context, feature Feature) bool {
	for _, f := range s.Features {
		if f == feature {
			return true
		}
	}

	return false
}
