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

package payload

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/in-toto/pushguard/changes"
	"github.com/in-toto/pushguard/log"
	"github.com/in-toto/pushguard/repository"
	"github.com/in-toto/pushguard/telemetry"
	"golang.org/x/text/unicode/norm"
)

const (
	DefaultBatchSize     = 50
	DefaultDiffByteLimit = 1 << 20
)

// PathMatcher reports whether a path is exempt from scanning.
type PathMatcher interface {
	MatchesPath(ctx context.Context, path string) bool
}

type Option func(*Processor)

func WithBatchSize(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithDiffByteLimit sets the size above which a single diff is skipped.
func WithDiffByteLimit(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.byteLimit = n
		}
	}
}

func WithPathMatcher(m PathMatcher) Option {
	return func(p *Processor) {
		p.matcher = m
	}
}

func WithErrorTracker(t telemetry.ErrorTracker) Option {
	return func(p *Processor) {
		p.errors = t
	}
}

// Processor builds the payloads of a push.
type Processor struct {
	batchSize int
	byteLimit int
	matcher   PathMatcher
	errors    telemetry.ErrorTracker
}

func NewProcessor(opts ...Option) *Processor {
	p := &Processor{
		batchSize: DefaultBatchSize,
		byteLimit: DefaultDiffByteLimit,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Standardize returns the added content of every new commit in the push as
// payloads. It returns nil when there is nothing to scan. Failing batches are
// reported and skipped; only listing failures and context expiry are
// returned as errors.
func (p *Processor) Standardize(ctx context.Context, access *changes.Access) ([]Payload, error) {
	ids, err := access.CommitIDs(ctx)
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return nil, nil
	}

	repo := access.Repository()
	paths, err := repo.ChangedPaths(ctx, ids, repository.MergeDiffAllParents)
	if err != nil {
		return nil, fmt.Errorf("failed to list changed paths: %w", err)
	}

	pairs := p.blobPairs(ctx, paths)
	log.Debugf("(payload) %d diffs to inspect across %d commits", len(pairs), len(ids))

	var payloads []Payload
	for start := 0; start < len(pairs); start += p.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+p.batchSize, len(pairs))
		records, err := repo.DiffBlobs(ctx, pairs[start:end], p.byteLimit)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}

			log.Errorf("(payload) failed to fetch diffs %d-%d, skipping batch: %s", start, end, err)
			telemetry.Track(ctx, p.errors, fmt.Errorf("diff batch failed: %w", err), map[string]string{
				"batch_start": fmt.Sprint(start),
				"batch_size":  fmt.Sprint(end - start),
			})
			continue
		}

		for _, rec := range records {
			payloads = append(payloads, p.fromRecord(rec)...)
		}
	}

	if len(payloads) == 0 {
		return nil, nil
	}

	return payloads, nil
}

func (p *Processor) blobPairs(ctx context.Context, paths []repository.ChangedPath) []repository.BlobPair {
	seen := make(map[repository.BlobPair]bool, len(paths))
	pairs := make([]repository.BlobPair, 0, len(paths))
	for _, cp := range paths {
		if repository.IsBlankRevision(cp.NewBlobID) {
			continue
		}

		if p.matcher != nil && p.matcher.MatchesPath(ctx, cp.Path) {
			log.Debugf("(payload) skipping excluded path %s", cp.Path)
			continue
		}

		pair := repository.BlobPair{LeftBlobID: cp.OldBlobID, RightBlobID: cp.NewBlobID}
		if seen[pair] {
			continue
		}

		seen[pair] = true
		pairs = append(pairs, pair)
	}

	return pairs
}

func (p *Processor) fromRecord(rec repository.DiffRecord) []Payload {
	switch {
	case rec.Binary:
		log.Debugf("(payload) skipping binary blob %s", rec.RightBlobID)
		return nil
	case rec.OverPatchBytesLimit:
		log.Debugf("(payload) skipping blob %s, diff exceeds %d bytes", rec.RightBlobID, p.byteLimit)
		return nil
	}

	parsed, err := ParseDiff(rec.RightBlobID, rec.Patch)
	if err != nil {
		var hdr *HunkHeaderError
		if errors.As(err, &hdr) {
			log.Errorf("(payload) %s, skipped parsing diff: %s", err, rec.RightBlobID)
		} else {
			log.Errorf("(payload) failed to parse diff of %s: %s", rec.RightBlobID, err)
		}

		return nil
	}

	out := parsed[:0]
	for _, pl := range parsed {
		if !utf8.ValidString(pl.Data) {
			log.Warnf("(payload) dropping fragment of blob %s at line %d: not valid UTF-8", pl.ID, pl.Offset)
			continue
		}

		pl.Data = norm.NFC.String(pl.Data)
		out = append(out, pl)
	}

	return out
}
