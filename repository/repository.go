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

// Package repository describes the version-control storage that push
// protection reads from. Implementations live in sub-packages.
package repository

import (
	"context"
	"errors"
	"strings"
)

const (
	// BlankSHA1 is the null revision git reports for created or deleted refs.
	BlankSHA1 = "0000000000000000000000000000000000000000"
	// BlankSHA256 is the null revision in SHA-256 repositories.
	BlankSHA256 = "0000000000000000000000000000000000000000000000000000000000000000"
)

var (
	ErrRevisionNotFound = errors.New("revision not found")
	ErrBlobNotFound     = errors.New("blob not found")
	ErrTreeTruncated    = errors.New("tree listing truncated")
)

// IsBlankRevision reports whether rev is empty or the null revision.
func IsBlankRevision(rev string) bool {
	if rev == "" {
		return true
	}

	if len(rev) != len(BlankSHA1) && len(rev) != len(BlankSHA256) {
		return false
	}

	return strings.Trim(rev, "0") == ""
}

// MergeDiffMode controls how merge commits are compared when listing
// changed paths.
type MergeDiffMode int

const (
	// MergeDiffAllParents compares a merge commit against every parent.
	MergeDiffAllParents MergeDiffMode = iota
	// MergeDiffFirstParent only compares against the first parent.
	MergeDiffFirstParent
)

// RevisionRange is a single ref update. From may be blank for new refs.
type RevisionRange struct {
	From string
	To   string
}

type Commit struct {
	ID        string
	Message   string
	ParentIDs []string
}

type ChangeStatus int

const (
	StatusAdded ChangeStatus = iota
	StatusModified
	StatusDeleted
	StatusRenamed
)

// ChangedPath is a single path touched by a commit.
type ChangedPath struct {
	CommitID  string
	Path      string
	OldPath   string
	OldBlobID string
	NewBlobID string
	Status    ChangeStatus
}

// BlobPair identifies the two sides of a diff.
type BlobPair struct {
	LeftBlobID  string
	RightBlobID string
}

// DiffRecord is one file level diff. Patch only contains hunks, starting with
// the first "@@" header line; file headers are not included.
type DiffRecord struct {
	LeftBlobID          string
	RightBlobID         string
	Patch               string
	Binary              bool
	OverPatchBytesLimit bool
}

// TreeEntry is a blob in a commit's tree.
type TreeEntry struct {
	ID   string
	Path string
}

// Repository is the storage collaborator push protection depends on.
type Repository interface {
	// NewCommits lists the commits reachable from the To side of every range
	// that were not previously part of the repository.
	NewCommits(ctx context.Context, ranges []RevisionRange) ([]Commit, error)

	// ChangedPaths lists the paths changed by the given commits.
	ChangedPaths(ctx context.Context, commitIDs []string, mode MergeDiffMode) ([]ChangedPath, error)

	// DiffBlobs returns one record per pair. Records whose patch exceeds
	// byteLimit are flagged with OverPatchBytesLimit and carry no patch.
	DiffBlobs(ctx context.Context, pairs []BlobPair, byteLimit int) ([]DiffRecord, error)

	// ResolveTree lists the blobs in a commit's tree. A non-empty cursor means
	// the listing was truncated and more entries exist.
	ResolveTree(ctx context.Context, commitID string, recursive bool) ([]TreeEntry, string, error)
}
