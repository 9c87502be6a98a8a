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

package response

// Verdict is the outcome of a push check. The zero value allows the push.
type Verdict struct {
	rejected bool
	message  string
}

func Allowed() Verdict {
	return Verdict{}
}

func Rejected(message string) Verdict {
	return Verdict{rejected: true, message: message}
}

func (v Verdict) IsAllowed() bool {
	return !v.rejected
}

// Message is the text shown to the pusher. It is empty for allowed pushes.
func (v Verdict) Message() string {
	return v.message
}

func (v Verdict) String() string {
	if v.rejected {
		return "rejected"
	}

	return "allowed"
}
