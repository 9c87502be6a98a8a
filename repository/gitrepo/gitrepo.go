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

// Package gitrepo implements repository.Repository on top of go-git.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/in-toto/pushguard/log"
	"github.com/in-toto/pushguard/repository"
	"github.com/jellydator/ttlcache/v3"
)

const (
	defaultMaxTreeEntries = 50000
	defaultTreeCacheTTL   = 5 * time.Minute
	defaultTreeCacheSize  = 64
)

type Option func(*Repository)

// WithMaxTreeEntries caps the number of entries ResolveTree returns before it
// reports a truncated listing.
func WithMaxTreeEntries(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.maxTreeEntries = n
		}
	}
}

func WithTreeCacheTTL(ttl time.Duration) Option {
	return func(r *Repository) {
		r.treeCacheTTL = ttl
	}
}

// Repository reads commits, diffs and trees from a git repository.
type Repository struct {
	repo           *git.Repository
	maxTreeEntries int
	treeCacheTTL   time.Duration
	objectDirs     []string
	trees          *ttlcache.Cache[string, treeListing]
}

type treeListing struct {
	entries []repository.TreeEntry
	cursor  string
}

var _ repository.Repository = (*Repository)(nil)

// Open opens the repository at path. Bare repositories, as seen by server
// side hooks, are supported.
func Open(path string, opts ...Option) (*Repository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open repository %s: %w", path, err)
	}

	return New(repo, opts...), nil
}

func New(repo *git.Repository, opts ...Option) *Repository {
	r := &Repository{
		repo:           repo,
		maxTreeEntries: defaultMaxTreeEntries,
		treeCacheTTL:   defaultTreeCacheTTL,
	}

	for _, opt := range opts {
		opt(r)
	}

	if len(r.objectDirs) > 0 {
		overlaid, err := withObjectDirectories(repo, r.objectDirs)
		if err != nil {
			log.Warnf("(gitrepo) reading only the repository's own objects: %s", err)
		} else {
			r.repo = overlaid
		}
	}

	r.trees = ttlcache.New[string, treeListing](
		ttlcache.WithTTL[string, treeListing](r.treeCacheTTL),
		ttlcache.WithCapacity[string, treeListing](defaultTreeCacheSize),
		ttlcache.WithDisableTouchOnHit[string, treeListing](),
	)

	return r
}

func (r *Repository) commit(id string) (*object.Commit, error) {
	c, err := r.repo.CommitObject(plumbing.NewHash(id))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", repository.ErrRevisionNotFound, id)
		}

		return nil, fmt.Errorf("could not find commit %s: %w", id, err)
	}

	return c, nil
}

// NewCommits walks back from every range's To revision and stops at commits
// already reachable from the range's From revision or from any existing ref
// that does not point at one of the pushed revisions.
func (r *Repository) NewCommits(ctx context.Context, ranges []repository.RevisionRange) ([]repository.Commit, error) {
	if len(ranges) == 0 {
		return nil, nil
	}

	pushed := make(map[plumbing.Hash]bool, len(ranges))
	var known []plumbing.Hash
	for _, rr := range ranges {
		pushed[plumbing.NewHash(rr.To)] = true
		if !repository.IsBlankRevision(rr.From) {
			known = append(known, plumbing.NewHash(rr.From))
		}
	}

	refs, err := r.repo.References()
	if err != nil {
		return nil, fmt.Errorf("could not list references: %w", err)
	}

	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference || pushed[ref.Hash()] {
			return nil
		}

		known = append(known, ref.Hash())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not iterate references: %w", err)
	}

	existing, err := r.ancestors(ctx, known, nil)
	if err != nil {
		return nil, err
	}

	var tips []plumbing.Hash
	for _, rr := range ranges {
		tips = append(tips, plumbing.NewHash(rr.To))
	}

	var commits []repository.Commit
	_, err = r.ancestors(ctx, tips, func(c *object.Commit) bool {
		if existing[c.Hash] {
			return false
		}

		commits = append(commits, toCommit(c))
		return true
	})
	if err != nil {
		return nil, err
	}

	log.Debugf("(repository/gitrepo) found %d new commits in %d ranges", len(commits), len(ranges))
	return commits, nil
}

// ancestors walks the history from starts breadth first. visit may stop the
// walk at a commit by returning false.
func (r *Repository) ancestors(ctx context.Context, starts []plumbing.Hash, visit func(*object.Commit) bool) (map[plumbing.Hash]bool, error) {
	seen := make(map[plumbing.Hash]bool)
	queue := append([]plumbing.Hash(nil), starts...)
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		h := queue[0]
		queue = queue[1:]
		if seen[h] {
			continue
		}

		seen[h] = true
		c, err := r.commit(h.String())
		if err != nil {
			if visit == nil {
				// refs may point at tags or missing objects
				continue
			}

			return nil, err
		}

		if visit != nil && !visit(c) {
			continue
		}

		queue = append(queue, c.ParentHashes...)
	}

	return seen, nil
}

func toCommit(c *object.Commit) repository.Commit {
	parents := make([]string, 0, len(c.ParentHashes))
	for _, p := range c.ParentHashes {
		parents = append(parents, p.String())
	}

	return repository.Commit{
		ID:        c.Hash.String(),
		Message:   c.Message,
		ParentIDs: parents,
	}
}
