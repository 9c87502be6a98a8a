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
package gitrepo

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/mount"
	"github.com/go-git/go-billy/v5/helper/polyfill"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/storage"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// Variables git sets for pre-receive hooks. Objects of the push stay in the
// quarantine directory until every hook accepts it.
const (
	EnvObjectDirectory            = "GIT_OBJECT_DIRECTORY"
	EnvAlternateObjectDirectories = "GIT_ALTERNATE_OBJECT_DIRECTORIES"
	EnvQuarantinePath             = "GIT_QUARANTINE_PATH"
)

// ObjectDirectoriesFromEnv lists the object directories a hook must read
// besides the repository's own store, quarantine first.
func ObjectDirectoriesFromEnv(getenv func(string) string) []string {
	candidates := []string{getenv(EnvQuarantinePath), getenv(EnvObjectDirectory)}
	candidates = append(candidates, filepath.SplitList(getenv(EnvAlternateObjectDirectories))...)

	seen := make(map[string]bool, len(candidates))
	var dirs []string
	for _, d := range candidates {
		if d == "" {
			continue
		}

		if abs, err := filepath.Abs(d); err == nil {
			d = abs
		}

		if seen[d] {
			continue
		}

		seen[d] = true
		dirs = append(dirs, d)
	}

	return dirs
}

// WithObjectDirectories makes objects stored under dirs readable along with
// the repository's own. Each entry is an objects directory holding loose
// objects and a pack subdirectory.
func WithObjectDirectories(dirs ...string) Option {
	return func(r *Repository) {
		r.objectDirs = append(r.objectDirs, dirs...)
	}
}

// objectOverlay reads objects from extra directories before falling back to
// the wrapped storer. Refs and config always come from the wrapped storer.
type objectOverlay struct {
	storage.Storer
	extra []storer.EncodedObjectStorer
}

func newObjectOverlay(base storage.Storer, dirs []string) *objectOverlay {
	o := &objectOverlay{Storer: base}
	for _, dir := range dirs {
		fs := polyfill.New(mount.New(memfs.New(), "objects", osfs.New(dir)))
		o.extra = append(o.extra, filesystem.NewStorage(fs, cache.NewObjectLRUDefault()))
	}

	return o
}

func (o *objectOverlay) EncodedObject(t plumbing.ObjectType, h plumbing.Hash) (plumbing.EncodedObject, error) {
	for _, s := range o.extra {
		obj, err := s.EncodedObject(t, h)
		if err == nil {
			return obj, nil
		}

		if !errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, err
		}
	}

	return o.Storer.EncodedObject(t, h)
}

func (o *objectOverlay) HasEncodedObject(h plumbing.Hash) error {
	for _, s := range o.extra {
		if err := s.HasEncodedObject(h); err == nil {
			return nil
		}
	}

	return o.Storer.HasEncodedObject(h)
}

func (o *objectOverlay) EncodedObjectSize(h plumbing.Hash) (int64, error) {
	for _, s := range o.extra {
		if size, err := s.EncodedObjectSize(h); err == nil {
			return size, nil
		}
	}

	return o.Storer.EncodedObjectSize(h)
}

// withObjectDirectories reopens repo over an overlay of dirs.
func withObjectDirectories(repo *git.Repository, dirs []string) (*git.Repository, error) {
	var worktree billy.Filesystem
	if wt, err := repo.Worktree(); err == nil {
		worktree = wt.Filesystem
	}

	overlaid, err := git.Open(newObjectOverlay(repo.Storer, dirs), worktree)
	if err != nil {
		return nil, fmt.Errorf("failed to add object directories: %w", err)
	}

	return overlaid, nil
}
