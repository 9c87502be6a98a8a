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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	fdiff "github.com/go-git/go-git/v5/plumbing/format/diff"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/diff"
	"github.com/go-git/go-git/v5/utils/merkletrie"
	"github.com/in-toto/pushguard/repository"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// git looks for a NUL byte in the same window when deciding a blob is binary
const binarySniffLen = 8000

// ChangedPaths compares every commit against its parents. Root commits are
// compared against an empty tree.
func (r *Repository) ChangedPaths(ctx context.Context, commitIDs []string, mode repository.MergeDiffMode) ([]repository.ChangedPath, error) {
	var paths []repository.ChangedPath
	for _, id := range commitIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c, err := r.commit(id)
		if err != nil {
			return nil, err
		}

		tree, err := c.Tree()
		if err != nil {
			return nil, fmt.Errorf("could not get tree for commit %s: %w", id, err)
		}

		parents := c.ParentHashes
		if mode == repository.MergeDiffFirstParent && len(parents) > 1 {
			parents = parents[:1]
		}

		var parentTrees []*object.Tree
		if len(parents) == 0 {
			parentTrees = append(parentTrees, nil)
		}

		for _, ph := range parents {
			p, err := r.commit(ph.String())
			if err != nil {
				return nil, fmt.Errorf("could not find parent of %s: %w", id, err)
			}

			pt, err := p.Tree()
			if err != nil {
				return nil, fmt.Errorf("could not get tree for parent commit %s: %w", ph, err)
			}

			parentTrees = append(parentTrees, pt)
		}

		for _, pt := range parentTrees {
			changes, err := object.DiffTreeWithOptions(ctx, pt, tree, object.DefaultDiffTreeOptions)
			if err != nil {
				return nil, fmt.Errorf("could not diff commit %s: %w", id, err)
			}

			for _, change := range changes {
				cp, ok, err := toChangedPath(id, change)
				if err != nil {
					return nil, err
				}

				if ok {
					paths = append(paths, cp)
				}
			}
		}
	}

	return paths, nil
}

func toChangedPath(commitID string, change *object.Change) (repository.ChangedPath, bool, error) {
	action, err := change.Action()
	if err != nil {
		return repository.ChangedPath{}, false, err
	}

	cp := repository.ChangedPath{CommitID: commitID}
	switch action {
	case merkletrie.Insert:
		cp.Status = repository.StatusAdded
	case merkletrie.Delete:
		cp.Status = repository.StatusDeleted
	default:
		cp.Status = repository.StatusModified
	}

	if action != merkletrie.Insert {
		if !change.From.TreeEntry.Mode.IsFile() {
			return cp, false, nil
		}

		cp.OldPath = change.From.Name
		cp.OldBlobID = change.From.TreeEntry.Hash.String()
		cp.Path = change.From.Name
	}

	if action != merkletrie.Delete {
		if !change.To.TreeEntry.Mode.IsFile() {
			return cp, false, nil
		}

		cp.Path = change.To.Name
		cp.NewBlobID = change.To.TreeEntry.Hash.String()
	}

	if cp.OldPath != "" && cp.OldPath != cp.Path {
		cp.Status = repository.StatusRenamed
	}

	return cp, true, nil
}

// DiffBlobs renders a unified diff for every pair. Binary blobs and patches
// larger than byteLimit produce a flagged record without a patch.
func (r *Repository) DiffBlobs(ctx context.Context, pairs []repository.BlobPair, byteLimit int) ([]repository.DiffRecord, error) {
	records := make([]repository.DiffRecord, 0, len(pairs))
	for _, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := r.diffPair(pair, byteLimit)
		if err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	return records, nil
}

func (r *Repository) diffPair(pair repository.BlobPair, byteLimit int) (repository.DiffRecord, error) {
	rec := repository.DiffRecord{LeftBlobID: pair.LeftBlobID, RightBlobID: pair.RightBlobID}

	left, err := r.blobContent(pair.LeftBlobID)
	if err != nil {
		return rec, err
	}

	right, err := r.blobContent(pair.RightBlobID)
	if err != nil {
		return rec, err
	}

	if isBinary(left) || isBinary(right) {
		rec.Binary = true
		return rec, nil
	}

	patch, err := unifiedPatch(pair, string(left), string(right))
	if err != nil {
		return rec, fmt.Errorf("could not render diff for blob %s: %w", pair.RightBlobID, err)
	}

	if byteLimit > 0 && len(patch) > byteLimit {
		rec.OverPatchBytesLimit = true
		return rec, nil
	}

	rec.Patch = patch
	return rec, nil
}

func (r *Repository) blobContent(id string) ([]byte, error) {
	if repository.IsBlankRevision(id) {
		return nil, nil
	}

	blob, err := r.repo.BlobObject(plumbing.NewHash(id))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", repository.ErrBlobNotFound, id)
		}

		return nil, fmt.Errorf("could not read blob %s: %w", id, err)
	}

	rd, err := blob.Reader()
	if err != nil {
		return nil, fmt.Errorf("could not read blob %s: %w", id, err)
	}
	defer rd.Close()

	return io.ReadAll(rd)
}

// isBinary follows git: a NUL byte in the first binarySniffLen bytes makes a
// blob binary. Content that is not valid UTF-8 is only treated as binary when
// its detected type does not descend from text/plain.
func isBinary(content []byte) bool {
	if len(content) == 0 {
		return false
	}

	sniff := content
	if len(sniff) > binarySniffLen {
		sniff = trimPartialRune(sniff[:binarySniffLen])
	}

	if bytes.IndexByte(sniff, 0) >= 0 {
		return true
	}

	if utf8.Valid(sniff) {
		return false
	}

	for m := mimetype.Detect(sniff); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return false
		}
	}

	return true
}

// trimPartialRune drops a multi-byte sequence cut off at the end of b.
func trimPartialRune(b []byte) []byte {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if c < utf8.RuneSelf {
			return b
		}

		if utf8.RuneStart(c) {
			if !utf8.FullRune(b[len(b)-i:]) {
				return b[:len(b)-i]
			}

			return b
		}
	}

	return b
}

// unifiedPatch renders the hunks between two blob contents, dropping the file
// header lines so the result starts at the first "@@" line.
func unifiedPatch(pair repository.BlobPair, from, to string) (string, error) {
	fp := &filePatch{}
	if !repository.IsBlankRevision(pair.LeftBlobID) {
		fp.from = &blobFile{hash: plumbing.NewHash(pair.LeftBlobID)}
	}

	if !repository.IsBlankRevision(pair.RightBlobID) {
		fp.to = &blobFile{hash: plumbing.NewHash(pair.RightBlobID)}
	}

	for _, d := range diff.Do(from, to) {
		var op fdiff.Operation
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			op = fdiff.Add
		case diffmatchpatch.DiffDelete:
			op = fdiff.Delete
		default:
			op = fdiff.Equal
		}

		fp.chunks = append(fp.chunks, chunk{content: d.Text, op: op})
	}

	buf := &strings.Builder{}
	if err := fdiff.NewUnifiedEncoder(buf, fdiff.DefaultContextLines).Encode(patch{fp}); err != nil {
		return "", err
	}

	out := buf.String()
	if i := strings.Index(out, "@@"); i >= 0 {
		return out[i:], nil
	}

	return "", nil
}

type patch []fdiff.FilePatch

func (p patch) FilePatches() []fdiff.FilePatch { return p }
func (p patch) Message() string                { return "" }

type filePatch struct {
	from, to *blobFile
	chunks   []fdiff.Chunk
}

func (fp *filePatch) IsBinary() bool { return false }

func (fp *filePatch) Files() (fdiff.File, fdiff.File) {
	// typed nils would not compare equal to nil inside the encoder
	var from, to fdiff.File
	if fp.from != nil {
		from = fp.from
	}

	if fp.to != nil {
		to = fp.to
	}

	return from, to
}

func (fp *filePatch) Chunks() []fdiff.Chunk { return fp.chunks }

type blobFile struct {
	hash plumbing.Hash
}

func (f *blobFile) Hash() plumbing.Hash     { return f.hash }
func (f *blobFile) Mode() filemode.FileMode { return filemode.Regular }
func (f *blobFile) Path() string            { return f.hash.String() }

type chunk struct {
	content string
	op      fdiff.Operation
}

func (c chunk) Content() string       { return c.content }
func (c chunk) Type() fdiff.Operation { return c.op }
