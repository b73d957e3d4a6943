// Copyright 2021 Optakt Labs OÜ
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/osmnotes/notes-sync/codec/osmxml"
	"github.com/osmnotes/notes-sync/service/splitter"
	"github.com/osmnotes/notes-sync/service/storage"
)

// Extractor turns one part file into its three CSV streams.
type Extractor interface {
	Extract(ctx context.Context, part string, format osmxml.Format, dir string, index int) (*splitter.Extraction, error)
}

// Bulk is the storage surface the loader drives: partition management and the
// bulk-copy path.
type Bulk interface {
	CreateSyncPartitions(ctx context.Context, n int) error
	LoadCSV(ctx context.Context, target storage.CopyTarget, notesCSV string, commentsCSV string, textCSV string) (storage.CopyStats, error)
}

// Stats aggregates the rows loaded across all partitions of one run.
type Stats struct {
	Parts    int
	Notes    int64
	Comments int64
	Texts    int64
	Duration time.Duration
}

// Loader dispatches part files across a bounded worker pool; each worker
// extracts its part and bulk-loads the CSVs into its assigned partition
// inside its own transaction. The pool is fail-fast: the first error cancels
// the remaining workers and the run waits for them to settle.
type Loader struct {
	log     zerolog.Logger
	extract Extractor
	bulk    Bulk
	cfg     Config
}

// New creates a parallel loader with the default worker bound, overridable
// through options.
func New(log zerolog.Logger, extract Extractor, bulk Bulk, options ...Option) *Loader {

	cfg := DefaultConfig
	for _, option := range options {
		option(&cfg)
	}

	l := Loader{
		log:     log.With().Str("component", "loader").Logger(),
		extract: extract,
		bulk:    bulk,
		cfg:     cfg,
	}

	return &l
}

// Load processes the given part files into freshly created staging
// partitions, one partition per part.
func (l *Loader) Load(ctx context.Context, parts []string, format osmxml.Format, dir string) (Stats, error) {

	start := time.Now()

	var stats Stats
	if len(parts) == 0 {
		return stats, nil
	}

	err := l.bulk.CreateSyncPartitions(ctx, len(parts))
	if err != nil {
		return stats, fmt.Errorf("could not create staging partitions: %w", err)
	}

	results := make([]storage.CopyStats, len(parts))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(l.cfg.MaxWorkers)
	for i, part := range parts {
		i, part := i, part
		group.Go(func() error {
			extraction, err := l.extract.Extract(groupCtx, part, format, dir, i+1)
			if err != nil {
				return fmt.Errorf("could not extract part (part: %s): %w", part, err)
			}
			target := storage.Partition(i + 1).Target()
			copied, err := l.bulk.LoadCSV(groupCtx, target, extraction.NotesCSV, extraction.CommsCSV, extraction.TextCSV)
			if err != nil {
				return fmt.Errorf("could not load part (part: %s): %w", part, err)
			}
			if copied.Notes != int64(extraction.Notes) {
				return fmt.Errorf("loaded note count mismatch (part: %s, extracted: %d, loaded: %d)",
					part, extraction.Notes, copied.Notes)
			}
			results[i] = copied
			l.log.Debug().
				Str("part", part).
				Int("partition", i+1).
				Int64("notes", copied.Notes).
				Int64("comments", copied.Comments).
				Msg("partition loaded")
			return nil
		})
	}

	err = group.Wait()
	if err != nil {
		return stats, fmt.Errorf("could not load parts: %w", err)
	}

	stats.Parts = len(parts)
	for _, copied := range results {
		stats.Notes += copied.Notes
		stats.Comments += copied.Comments
		stats.Texts += copied.Texts
	}
	stats.Duration = time.Since(start)

	l.log.Info().
		Int("parts", stats.Parts).
		Int64("notes", stats.Notes).
		Int64("comments", stats.Comments).
		Int64("texts", stats.Texts).
		Str("duration", stats.Duration.Round(time.Millisecond).String()).
		Msg("parallel load complete")

	return stats, nil
}
