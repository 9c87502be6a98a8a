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

// Package response turns a scan result into the verdict shown to the pusher.
package response

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/in-toto/pushguard/audit"
	"github.com/in-toto/pushguard/changes"
	"github.com/in-toto/pushguard/log"
	"github.com/in-toto/pushguard/payload"
	"github.com/in-toto/pushguard/repository"
	"github.com/in-toto/pushguard/scanner"
	"github.com/in-toto/pushguard/telemetry"
)

// PathFindings are the secrets found in one file of a commit.
type PathFindings struct {
	Path     string
	Findings []scanner.Finding
}

// CommitFindings groups findings by the commit whose tree holds the blob.
type CommitFindings struct {
	CommitID string
	Paths    []PathFindings
}

// OrphanFindings are findings whose blob could not be found in any tree.
type OrphanFindings struct {
	BlobID   string
	Findings []scanner.Finding
}

// ClassifiedFindings is what remains of a result after blobs have been
// mapped back to commits and paths and path exclusions re-applied.
type ClassifiedFindings struct {
	Commits []CommitFindings
	Orphans []OrphanFindings
	Errors  []scanner.Finding
}

// Empty reports whether there is no secret left to report.
func (cf ClassifiedFindings) Empty() bool {
	return len(cf.Commits) == 0 && len(cf.Orphans) == 0
}

type Option func(*Classifier)

func WithPathMatcher(m payload.PathMatcher) Option {
	return func(c *Classifier) {
		c.matcher = m
	}
}

func WithAudit(r audit.Recorder) Option {
	return func(c *Classifier) {
		c.recorder = r
	}
}

func WithTracker(t telemetry.Tracker) Option {
	return func(c *Classifier) {
		c.tracker = t
	}
}

func WithDocsURL(url string) Option {
	return func(c *Classifier) {
		if url != "" {
			c.docsURL = url
		}
	}
}

type Classifier struct {
	matcher  payload.PathMatcher
	recorder audit.Recorder
	tracker  telemetry.Tracker
	docsURL  string
}

func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{docsURL: DefaultDocsURL}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Classify maps a scan result to a verdict. Only found secrets that survive
// path exclusions reject the push; every failure mode of the scan allows it.
func (c *Classifier) Classify(ctx context.Context, result scanner.Result, access *changes.Access) Verdict {
	switch result.Status {
	case scanner.StatusNotFound:
		log.Infof("(response) %s", MessageNotFound)
		return Allowed()
	case scanner.StatusScanTimeout:
		log.Errorf("(response) %s", MessageScanTimeout)
		return Allowed()
	case scanner.StatusInputError:
		log.Errorf("(response) %s", MessageInvalidInput)
		return Allowed()
	case scanner.StatusFound, scanner.StatusFoundWithErrors:
	default:
		log.Errorf("(response) %s status: %s", MessageInvalidStatus, result.Status)
		return Allowed()
	}

	withErrors := result.Status == scanner.StatusFoundWithErrors
	cf := c.classify(ctx, result, access)
	if cf.Empty() {
		log.Infof("(response) every finding was excluded, push allowed")
		return Allowed()
	}

	if withErrors {
		log.Infof("(response) %s", MessageFoundWithErrors)
	} else {
		log.Infof("(response) %s", MessageFound)
	}

	c.record(ctx, cf, access.ChangeSet())
	return Rejected(buildMessage(cf, withErrors, c.docsURL))
}

func (c *Classifier) classify(ctx context.Context, result scanner.Result, access *changes.Access) ClassifiedFindings {
	cf := ClassifiedFindings{}
	pending := map[string][]scanner.Finding{}
	var blobOrder []string
	for _, f := range result.Findings {
		if f.Status != scanner.StatusFound {
			cf.Errors = append(cf.Errors, f)
			continue
		}

		if _, ok := pending[f.PayloadID]; !ok {
			blobOrder = append(blobOrder, f.PayloadID)
		}

		pending[f.PayloadID] = append(pending[f.PayloadID], f)
	}

	if len(pending) == 0 {
		return cf
	}

	for _, fs := range pending {
		sort.SliceStable(fs, func(i, j int) bool { return fs[i].LineNumber < fs[j].LineNumber })
	}

	commits, err := access.Commits(ctx)
	if err != nil {
		log.Errorf("(response) could not list commits to resolve findings: %s", err)
	}

	repo := access.Repository()
	// Oldest commits first, so a blob is reported against the first commit
	// that carries it.
	for i := len(commits) - 1; i >= 0 && len(pending) > 0; i-- {
		if ctx.Err() != nil {
			break
		}

		commitID := commits[i].ID
		entries, cursor, err := repo.ResolveTree(ctx, commitID, true)
		if err != nil {
			log.Errorf("(response) could not list tree of commit %s: %s", commitID, err)
			continue
		}

		if cursor != "" {
			log.Errorf("(response) "+MessageTooManyTreeEntries+" %s",
				commitID, fmt.Errorf("%w after %s", repository.ErrTreeTruncated, cursor))
		}

		byPath := map[string][]scanner.Finding{}
		resolved := map[string]struct{}{}
		for _, entry := range entries {
			fs, ok := pending[entry.ID]
			if !ok {
				continue
			}

			resolved[entry.ID] = struct{}{}
			if c.matcher != nil && c.matcher.MatchesPath(ctx, entry.Path) {
				continue
			}

			byPath[entry.Path] = append(byPath[entry.Path], fs...)
		}

		for id := range resolved {
			delete(pending, id)
		}

		if len(byPath) == 0 {
			continue
		}

		paths := make([]string, 0, len(byPath))
		for p := range byPath {
			paths = append(paths, p)
		}

		sort.Strings(paths)
		commit := CommitFindings{CommitID: commitID}
		for _, p := range paths {
			commit.Paths = append(commit.Paths, PathFindings{Path: p, Findings: byPath[p]})
		}

		cf.Commits = append(cf.Commits, commit)
	}

	for _, id := range blobOrder {
		if fs, ok := pending[id]; ok {
			cf.Orphans = append(cf.Orphans, OrphanFindings{BlobID: id, Findings: fs})
		}
	}

	return cf
}

func (c *Classifier) record(ctx context.Context, cf ClassifiedFindings, set changes.ChangeSet) {
	scope := audit.Scope{Actor: set.User, Target: set.Project}
	emit := func(f scanner.Finding, commitID, path string) {
		details := map[string]string{
			"secret_type": f.Type,
			"blob_id":     f.PayloadID,
			"line":        strconv.Itoa(f.LineNumber),
		}

		if commitID != "" {
			details["commit_sha"] = commitID
			details["path"] = path
		}

		audit.Emit(ctx, c.recorder, scope, audit.EventSecretFound,
			fmt.Sprintf("Secret push protection found a %s secret", f.Description), details)
		telemetry.Record(ctx, c.tracker, telemetry.Event{
			Name:       telemetry.EventSecretTypeDetected,
			Actor:      set.User,
			Project:    set.Project,
			Label:      f.Type,
			Properties: map[string]string{"description": f.Description},
		})
	}

	for _, commit := range cf.Commits {
		for _, p := range commit.Paths {
			for _, f := range p.Findings {
				emit(f, commit.CommitID, p.Path)
			}
		}
	}

	for _, o := range cf.Orphans {
		for _, f := range o.Findings {
			emit(f, "", "")
		}
	}
}
