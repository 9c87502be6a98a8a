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
	"context"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/in-toto/pushguard/log"
	"github.com/in-toto/pushguard/repository"
	"github.com/jellydator/ttlcache/v3"
)

// ResolveTree lists the blobs of a commit's tree. Listings are cached per
// commit since trees never change once written. When the tree holds more than
// the configured maximum, the returned cursor names the last path listed.
func (r *Repository) ResolveTree(ctx context.Context, commitID string, recursive bool) ([]repository.TreeEntry, string, error) {
	key := fmt.Sprintf("%s:%t", commitID, recursive)
	if item := r.trees.Get(key); item != nil {
		listing := item.Value()
		return listing.entries, listing.cursor, nil
	}

	c, err := r.commit(commitID)
	if err != nil {
		return nil, "", err
	}

	tree, err := c.Tree()
	if err != nil {
		return nil, "", fmt.Errorf("could not get tree for commit %s: %w", commitID, err)
	}

	var listing treeListing
	if recursive {
		listing, err = r.listRecursive(ctx, tree)
	} else {
		listing = r.listTopLevel(tree)
	}
	if err != nil {
		return nil, "", err
	}

	if listing.cursor != "" {
		log.Debugf("(repository/gitrepo) tree of %s truncated at %d entries", commitID, len(listing.entries))
	}

	r.trees.Set(key, listing, ttlcache.DefaultTTL)
	return listing.entries, listing.cursor, nil
}

func (r *Repository) listRecursive(ctx context.Context, tree *object.Tree) (treeListing, error) {
	var listing treeListing
	err := tree.Files().ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if len(listing.entries) >= r.maxTreeEntries {
			listing.cursor = listing.entries[len(listing.entries)-1].Path
			return storer.ErrStop
		}

		listing.entries = append(listing.entries, repository.TreeEntry{ID: f.Hash.String(), Path: f.Name})
		return nil
	})
	if err != nil {
		return treeListing{}, fmt.Errorf("could not walk tree %s: %w", tree.Hash, err)
	}

	return listing, nil
}

func (r *Repository) listTopLevel(tree *object.Tree) treeListing {
	var listing treeListing
	for _, e := range tree.Entries {
		if !e.Mode.IsFile() {
			continue
		}

		if len(listing.entries) >= r.maxTreeEntries {
			listing.cursor = listing.entries[len(listing.entries)-1].Path
			break
		}

		listing.entries = append(listing.entries, repository.TreeEntry{ID: e.Hash.String(), Path: e.Name})
	}

	return listing
}
