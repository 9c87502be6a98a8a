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

// Package scanner defines the detection engine push protection consults and
// a gitleaks backed implementation of it.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/in-toto/pushguard/exclusion"
	"github.com/in-toto/pushguard/payload"
)

var ErrNoPayloads = errors.New("no payloads to scan")

// Status is shared by scan results and the individual findings in them.
type Status int

const (
	StatusUnspecified Status = iota
	StatusFound
	StatusFoundWithErrors
	StatusScanTimeout
	StatusPayloadTimeout
	StatusScanError
	StatusInputError
	StatusNotFound
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusFoundWithErrors:
		return "found_with_errors"
	case StatusScanTimeout:
		return "scan_timeout"
	case StatusPayloadTimeout:
		return "payload_timeout"
	case StatusScanError:
		return "scan_error"
	case StatusInputError:
		return "input_error"
	case StatusNotFound:
		return "not_found"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Finding is one detected secret, or one payload that could not be scanned.
// Type is the id of the rule that matched.
type Finding struct {
	PayloadID   string
	Status      Status
	LineNumber  int
	Type        string
	Description string
}

type Result struct {
	Status   Status
	Findings []Finding
}

// Scanner inspects payloads for secrets. Rule and raw value exclusions in set
// are honoured by the scanner; path exclusions are applied by callers. A
// timeout of zero leaves the deadline to ctx.
type Scanner interface {
	Scan(ctx context.Context, payloads []payload.Payload, set exclusion.Set, timeout time.Duration) Result
}

// Func adapts a function to the Scanner interface.
type Func func(ctx context.Context, payloads []payload.Payload, set exclusion.Set, timeout time.Duration) Result

func (f Func) Scan(ctx context.Context, payloads []payload.Payload, set exclusion.Set, timeout time.Duration) Result {
	return f(ctx, payloads, set, timeout)
}

// summarize derives the overall status from the findings of a completed
// scan.
func summarize(findings []Finding) Status {
	if len(findings) == 0 {
		return StatusNotFound
	}

	var found, timeouts int
	for _, f := range findings {
		switch f.Status {
		case StatusFound:
			found++
		case StatusPayloadTimeout:
			timeouts++
		}
	}

	switch {
	case found == len(findings):
		return StatusFound
	case found == 0 && timeouts == len(findings):
		return StatusScanTimeout
	default:
		return StatusFoundWithErrors
	}
}
