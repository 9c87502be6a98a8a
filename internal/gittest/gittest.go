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

// Package gittest builds throwaway git repositories for tests.
package gittest

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// Repo is a non-bare repository in a temporary directory.
type Repo struct {
	*git.Repository
	Dir string
	t   *testing.T
}

func Init(t *testing.T) *Repo {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	return &Repo{Repository: repo, Dir: dir, t: t}
}

func signature() *object.Signature {
	return &object.Signature{Name: "Test User", Email: "test@example.com", When: time.Now()}
}

// Commit writes files and commits them. A nil entry in files deletes the path.
func (r *Repo) Commit(message string, files map[string][]byte) plumbing.Hash {
	return r.commit(message, files, nil)
}

// Merge commits files on top of HEAD with extra as additional parents.
func (r *Repo) Merge(message string, files map[string][]byte, extra ...plumbing.Hash) plumbing.Hash {
	return r.commit(message, files, extra)
}

func (r *Repo) commit(message string, files map[string][]byte, extra []plumbing.Hash) plumbing.Hash {
	r.t.Helper()
	wt, err := r.Worktree()
	require.NoError(r.t, err)

	for name, content := range files {
		full := filepath.Join(r.Dir, name)
		if content == nil {
			_, err := wt.Remove(name)
			require.NoError(r.t, err)
			continue
		}

		require.NoError(r.t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(r.t, os.WriteFile(full, content, 0o644))
		_, err := wt.Add(name)
		require.NoError(r.t, err)
	}

	opts := &git.CommitOptions{Author: signature(), Committer: signature(), AllowEmptyCommits: true}
	if len(extra) > 0 {
		head, err := r.Head()
		require.NoError(r.t, err)
		opts.Parents = append([]plumbing.Hash{head.Hash()}, extra...)
	}

	h, err := wt.Commit(message, opts)
	require.NoError(r.t, err)
	return h
}

// Checkout switches the worktree to branch, creating it at from when from is
// not the zero hash.
func (r *Repo) Checkout(branch string, from plumbing.Hash) {
	r.t.Helper()
	wt, err := r.Worktree()
	require.NoError(r.t, err)

	opts := &git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(branch)}
	if !from.IsZero() {
		opts.Hash = from
		opts.Create = true
	}

	require.NoError(r.t, wt.Checkout(opts))
}

// SetRef points ref at h without touching the worktree.
func (r *Repo) SetRef(name string, h plumbing.Hash) {
	r.t.Helper()
	require.NoError(r.t, r.Storer.SetReference(plumbing.NewHashReference(plumbing.ReferenceName(name), h)))
}

// BlobID returns the blob id of path in commit c.
func (r *Repo) BlobID(c plumbing.Hash, path string) string {
	r.t.Helper()
	commit, err := r.CommitObject(c)
	require.NoError(r.t, err)
	f, err := commit.File(path)
	require.NoError(r.t, err)
	return f.Hash.String()
}

// Quarantine runs fn and moves every loose object it wrote into a separate
// objects directory, the way git holds received objects while pre-receive
// hooks run. HEAD's branch is reset to where it pointed before fn. The
// returned path is the quarantine directory.
func (r *Repo) Quarantine(fn func()) string {
	r.t.Helper()
	objects := filepath.Join(r.Dir, ".git", "objects")
	before := r.looseObjects(objects)

	head, err := r.Head()
	require.NoError(r.t, err)

	fn()

	quarantine := filepath.Join(r.t.TempDir(), "incoming")
	for rel := range r.looseObjects(objects) {
		if before[rel] {
			continue
		}

		dst := filepath.Join(quarantine, rel)
		require.NoError(r.t, os.MkdirAll(filepath.Dir(dst), 0o755))
		require.NoError(r.t, os.Rename(filepath.Join(objects, rel), dst))
	}

	require.NoError(r.t, r.Storer.SetReference(plumbing.NewHashReference(head.Name(), head.Hash())))
	return quarantine
}

func (r *Repo) looseObjects(objects string) map[string]bool {
	r.t.Helper()
	found := map[string]bool{}
	err := filepath.WalkDir(objects, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		rel, err := filepath.Rel(objects, path)
		if err != nil {
			return err
		}

		if dir := filepath.Dir(rel); len(dir) == 2 && dir != ".." {
			found[rel] = true
		}

		return nil
	})
	require.NoError(r.t, err)
	return found
}
