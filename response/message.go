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

import (
	"fmt"
	"strings"

	"github.com/in-toto/pushguard/eligibility"
	"github.com/in-toto/pushguard/scanner"
)

// DefaultDocsURL is linked from every rejection message.
const DefaultDocsURL = "https://docs.gitlab.com/user/application_security/secret_detection/secret_push_protection/"

const (
	MessageFound              = "PUSH BLOCKED: Secrets detected in code changes"
	MessageFoundWithErrors    = "PUSH BLOCKED: Secrets detected in code changes but some errors occurred"
	MessageNotFound           = "Secret detection scan completed with no findings."
	MessageScanTimeout        = "Secret detection scan timed out."
	MessageInvalidInput       = "Secret detection scan failed due to invalid input."
	MessageInvalidStatus      = "Invalid secret detection scan status, check passed."
	MessageScanInitialization = "Secret detection scan failed to initialize. %s"
	MessageTooManyTreeEntries = "Too many tree entries exist for commit(sha: %s)."

	messageRemediation = "To push your changes you must remove the identified secrets."
	messageSkip        = "To skip secret push protection, add the following string to the commit message: %s, " +
		"or push with the option: -o %s"
	messageDocs = "For help with this, please refer to our documentation: %s"
)

type messageBuilder struct {
	sb strings.Builder
}

func (b *messageBuilder) line(format string, args ...interface{}) {
	b.sb.WriteString(fmt.Sprintf(format, args...))
	b.sb.WriteByte('\n')
}

func (b *messageBuilder) blank() {
	b.sb.WriteByte('\n')
}

// buildMessage renders the rejection text shown to the pusher.
func buildMessage(cf ClassifiedFindings, withErrors bool, docsURL string) string {
	b := &messageBuilder{}
	if withErrors {
		b.line(MessageFoundWithErrors)
	} else {
		b.line(MessageFound)
	}

	for _, c := range cf.Commits {
		b.blank()
		b.line("Secret push protection found the following secrets in commit: %s", c.CommitID)
		for _, p := range c.Paths {
			for _, f := range p.Findings {
				b.line("  -- %s:%d | %s", p.Path, f.LineNumber, f.Description)
			}
		}
	}

	for _, o := range cf.Orphans {
		b.blank()
		b.line("Secret leaked in blob: %s", o.BlobID)
		for _, f := range o.Findings {
			b.line("  -- line:%d | %s", f.LineNumber, f.Description)
		}
	}

	if len(cf.Errors) > 0 {
		b.blank()
		for _, f := range cf.Errors {
			switch f.Status {
			case scanner.StatusScanError:
				b.line("Failed to scan blob(id: %s) due to regex error.", f.PayloadID)
			case scanner.StatusPayloadTimeout:
				b.line("Scanning blob(id: %s) timed out.", f.PayloadID)
			}
		}
	}

	b.blank()
	b.line(messageRemediation)
	b.line(messageSkip, eligibility.SkipMarker, eligibility.SkipPushOption)
	b.blank()
	b.line(messageDocs, docsURL)

	return b.sb.String()
}
