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

// Package repotest provides an in-memory repository.Repository for tests.
package repotest

import (
	"context"
	"sync"

	"github.com/in-toto/pushguard/repository"
)

// Fake serves canned data. Diffs are keyed by right blob id and trees by
// commit id.
type Fake struct {
	Commits  []repository.Commit
	Paths    []repository.ChangedPath
	Diffs    map[string]repository.DiffRecord
	Trees    map[string][]repository.TreeEntry
	Cursors  map[string]string
	DiffErrs map[string]error

	CommitsErr error
	PathsErr   error
	TreeErr    error

	mu         sync.Mutex
	diffCalls  [][]repository.BlobPair
	treeCalls  []string
	commitRuns int
}

var _ repository.Repository = (*Fake)(nil)

func (f *Fake) NewCommits(ctx context.Context, _ []repository.RevisionRange) ([]repository.Commit, error) {
	f.mu.Lock()
	f.commitRuns++
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return f.Commits, f.CommitsErr
}

func (f *Fake) ChangedPaths(ctx context.Context, _ []string, _ repository.MergeDiffMode) ([]repository.ChangedPath, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return f.Paths, f.PathsErr
}

// DiffBlobs fails the whole batch when any right blob id has an entry in
// DiffErrs.
func (f *Fake) DiffBlobs(ctx context.Context, pairs []repository.BlobPair, byteLimit int) ([]repository.DiffRecord, error) {
	f.mu.Lock()
	f.diffCalls = append(f.diffCalls, pairs)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records := make([]repository.DiffRecord, 0, len(pairs))
	for _, p := range pairs {
		if err, ok := f.DiffErrs[p.RightBlobID]; ok {
			return nil, err
		}

		rec, ok := f.Diffs[p.RightBlobID]
		if !ok {
			continue
		}

		rec.LeftBlobID = p.LeftBlobID
		rec.RightBlobID = p.RightBlobID
		if byteLimit > 0 && len(rec.Patch) > byteLimit {
			rec.Patch = ""
			rec.OverPatchBytesLimit = true
		}

		records = append(records, rec)
	}

	return records, nil
}

func (f *Fake) ResolveTree(ctx context.Context, commitID string, _ bool) ([]repository.TreeEntry, string, error) {
	f.mu.Lock()
	f.treeCalls = append(f.treeCalls, commitID)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	if f.TreeErr != nil {
		return nil, "", f.TreeErr
	}

	return f.Trees[commitID], f.Cursors[commitID], nil
}

func (f *Fake) DiffCalls() [][]repository.BlobPair {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]repository.BlobPair(nil), f.diffCalls...)
}

func (f *Fake) TreeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.treeCalls...)
}

func (f *Fake) CommitRuns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commitRuns
}
