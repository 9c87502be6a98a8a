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

// Package changes holds the ref updates of a single push and the
// per-push view of the repository that every check shares.
package changes

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/in-toto/pushguard/repository"
)

type Protocol string

const (
	ProtocolSSH  Protocol = "ssh"
	ProtocolHTTP Protocol = "http"
	ProtocolWeb  Protocol = "web"
)

// Change is a single ref update.
type Change struct {
	OldRev string
	NewRev string
	Ref    string
}

// Deletes reports whether the change removes its ref.
func (c Change) Deletes() bool {
	return repository.IsBlankRevision(c.NewRev)
}

// ParseReceiveLine parses a "<old> <new> <ref>" line as git feeds to
// pre-receive hooks on stdin.
func ParseReceiveLine(line string) (Change, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return Change{}, fmt.Errorf("expected \"<old> <new> <ref>\", got %q", line)
	}

	return Change{OldRev: fields[0], NewRev: fields[1], Ref: fields[2]}, nil
}

// ChangeSet is every ref update of one push plus its push time metadata.
type ChangeSet struct {
	Changes     []Change
	Protocol    Protocol
	PushOptions []string
	// EnableSecretsCheck is set by the web editor for pushes that should be
	// scanned even though they do not come over ssh or http.
	EnableSecretsCheck bool
	User               string
	Project            string
}

func (cs ChangeSet) HasPushOption(option string) bool {
	for _, o := range cs.PushOptions {
		if strings.TrimSpace(o) == option {
			return true
		}
	}

	return false
}

// DeletesRef reports whether any change in the set removes a ref.
func (cs ChangeSet) DeletesRef() bool {
	for _, c := range cs.Changes {
		if c.Deletes() {
			return true
		}
	}

	return false
}

// Ranges returns the revision ranges of every change that creates or
// updates a ref.
func (cs ChangeSet) Ranges() []repository.RevisionRange {
	ranges := make([]repository.RevisionRange, 0, len(cs.Changes))
	for _, c := range cs.Changes {
		if c.Deletes() {
			continue
		}

		from := c.OldRev
		if repository.IsBlankRevision(from) {
			from = ""
		}

		ranges = append(ranges, repository.RevisionRange{From: from, To: c.NewRev})
	}

	return ranges
}

// Access is the per-push view of a repository. The list of new commits is
// computed once and shared by everything that looks at the push.
type Access struct {
	set  ChangeSet
	repo repository.Repository

	once    sync.Once
	commits []repository.Commit
	err     error
}

func NewAccess(set ChangeSet, repo repository.Repository) *Access {
	return &Access{set: set, repo: repo}
}

func (a *Access) ChangeSet() ChangeSet {
	return a.set
}

func (a *Access) Repository() repository.Repository {
	return a.repo
}

// Commits returns the commits introduced by the push.
func (a *Access) Commits(ctx context.Context) ([]repository.Commit, error) {
	a.once.Do(func() {
		ranges := a.set.Ranges()
		if len(ranges) == 0 {
			return
		}

		a.commits, a.err = a.repo.NewCommits(ctx, ranges)
		if a.err != nil {
			a.err = fmt.Errorf("failed to list new commits: %w", a.err)
		}
	})

	return a.commits, a.err
}

// CommitIDs returns the ids of the commits introduced by the push.
func (a *Access) CommitIDs(ctx context.Context) ([]string, error) {
	commits, err := a.Commits(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(commits))
	for _, c := range commits {
		ids = append(ids, c.ID)
	}

	return ids, nil
}
