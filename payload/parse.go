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

// Package payload turns the diffs of a push into the line addressed
// fragments the scanner inspects.
package payload

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Payload is a fragment of added content. ID is the blob the content belongs
// to. Offset is the 1-based line the fragment starts at, or 0 when Data is a
// whole file.
type Payload struct {
	ID     string
	Data   string
	Offset int
}

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@(.*)$`)

// HunkHeaderError is returned when a patch contains a malformed "@@" line.
type HunkHeaderError struct {
	Header string
}

func (e *HunkHeaderError) Error() string {
	return fmt.Sprintf("could not process hunk header: %s", e.Header)
}

// ParseDiff extracts every maximal run of added lines in patch. Runs end at
// context lines, at hunk headers and at the end of the patch. Removed lines
// and "\ No newline at end of file" markers do not affect line numbering.
// A malformed hunk header invalidates the whole patch.
func ParseDiff(id, patch string) ([]Payload, error) {
	var (
		payloads []Payload
		buf      strings.Builder
		offset   int
		cursor   int
		inHunk   bool
	)

	flush := func() {
		if buf.Len() == 0 {
			return
		}

		payloads = append(payloads, Payload{
			ID:     id,
			Data:   strings.TrimSuffix(buf.String(), "\n"),
			Offset: offset,
		})
		buf.Reset()
	}

	for _, line := range strings.SplitAfter(patch, "\n") {
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "@@"):
			header := strings.TrimRight(line, "\r\n")
			m := hunkHeader.FindStringSubmatch(header)
			if m == nil {
				return nil, &HunkHeaderError{Header: strings.TrimSpace(header)}
			}

			start, err := strconv.Atoi(m[3])
			if err != nil {
				return nil, &HunkHeaderError{Header: strings.TrimSpace(header)}
			}

			flush()
			cursor = start - 1
			inHunk = true
		case !inHunk:
			continue
		case line[0] == '+':
			cursor++
			if buf.Len() == 0 {
				offset = cursor
			}

			buf.WriteString(line[1:])
		case line[0] == ' ':
			flush()
			cursor++
		}
	}

	flush()
	return payloads, nil
}
