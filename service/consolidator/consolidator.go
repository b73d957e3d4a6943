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

package consolidator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/osmnotes/notes-sync/models/notes"
	"github.com/osmnotes/notes-sync/service/storage"
)

// Store is the storage surface the consolidator drives.
type Store interface {
	PutLock(ctx context.Context, token string) error
	RemoveLock(ctx context.Context, token string) error
	StagingMaxInstant(ctx context.Context, src storage.Source) (time.Time, error)
	MergeNotes(ctx context.Context, src storage.Source) (int64, error)
	MergeComments(ctx context.Context, src storage.Source) (int64, error)
	MergeTexts(ctx context.Context, src storage.Source) (int64, error)
	GeotagNewNotes(ctx context.Context) (int64, error)
	SetWatermark(ctx context.Context, timestamp time.Time) error
	AnalyzeMainTables(ctx context.Context) error
	GapCounts(ctx context.Context, window time.Duration) (int64, int64, error)
	InsertGapRecord(ctx context.Context, record notes.GapRecord) error
}

// Retrier bounds the logical-lock acquisition attempts.
type Retrier interface {
	Retry(ctx context.Context, description string, op func() error) error
}

// Stats summarizes one consolidation run.
type Stats struct {
	Notes     int64
	Comments  int64
	Texts     int64
	Geotagged int64
	Watermark time.Time
}

// Consolidator merges staged rows into the main tables under the database's
// logical lock, advances the watermark, and checks for integrity gaps. It is
// the only writer of the main tables.
type Consolidator struct {
	log   zerolog.Logger
	store Store
	retry Retrier
	cfg   Config
}

// New creates a consolidator with the default gap policy, overridable
// through options.
func New(log zerolog.Logger, store Store, retry Retrier, options ...Option) *Consolidator {

	cfg := DefaultConfig
	for _, option := range options {
		option(&cfg)
	}

	c := Consolidator{
		log:   log.With().Str("component", "consolidator").Logger(),
		store: store,
		retry: retry,
		cfg:   cfg,
	}

	return &c
}

// Consolidate merges one staging source into the main tables. The logical
// lock is always released, even when a merge step fails partway.
func (c *Consolidator) Consolidate(ctx context.Context, src storage.Source) (Stats, error) {

	var stats Stats

	token := fmt.Sprintf("%s_%d", c.cfg.ProcessName, os.Getpid())
	err := c.retry.Retry(ctx, "acquire logical lock", func() error {
		return c.store.PutLock(ctx, token)
	})
	if err != nil {
		return stats, fmt.Errorf("could not acquire logical lock: %w", err)
	}
	defer func() {
		// Release must not inherit a canceled context, or a failed cycle
		// would leave the logical lock behind.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		releaseErr := c.store.RemoveLock(releaseCtx, token)
		if releaseErr != nil {
			c.log.Error().Err(releaseErr).Str("token", token).Msg("could not release logical lock")
		}
	}()

	watermark, err := c.store.StagingMaxInstant(ctx, src)
	if err != nil {
		return stats, fmt.Errorf("could not inspect staging: %w", err)
	}

	stats.Notes, err = c.store.MergeNotes(ctx, src)
	if err != nil {
		return stats, fmt.Errorf("could not merge notes: %w", err)
	}
	stats.Comments, err = c.store.MergeComments(ctx, src)
	if err != nil {
		return stats, fmt.Errorf("could not merge comments: %w", err)
	}
	stats.Texts, err = c.store.MergeTexts(ctx, src)
	if err != nil {
		return stats, fmt.Errorf("could not merge text: %w", err)
	}

	if !watermark.IsZero() {
		err = c.store.SetWatermark(ctx, watermark)
		if err != nil {
			return stats, fmt.Errorf("could not advance watermark: %w", err)
		}
		stats.Watermark = watermark
	}

	stats.Geotagged, err = c.store.GeotagNewNotes(ctx)
	if err != nil {
		return stats, fmt.Errorf("could not geotag new notes: %w", err)
	}

	err = c.store.AnalyzeMainTables(ctx)
	if err != nil {
		return stats, fmt.Errorf("could not analyze main tables: %w", err)
	}

	err = c.checkGaps(ctx)
	if err != nil {
		return stats, err
	}

	c.log.Info().
		Str("source", src.String()).
		Int64("notes", stats.Notes).
		Int64("comments", stats.Comments).
		Int64("texts", stats.Texts).
		Int64("geotagged", stats.Geotagged).
		Time("watermark", stats.Watermark).
		Msg("consolidation complete")

	return stats, nil
}

// checkGaps records notes created inside the recent window that have no
// comments. Exceeding the threshold is a hard error that needs an operator.
func (c *Consolidator) checkGaps(ctx context.Context) error {

	total, broken, err := c.store.GapCounts(ctx, c.cfg.GapWindow)
	if err != nil {
		return fmt.Errorf("could not check gaps: %w", err)
	}
	if broken == 0 {
		return nil
	}

	record := notes.NewGapRecord(total, broken)
	err = c.store.InsertGapRecord(ctx, record)
	if err != nil {
		return fmt.Errorf("could not record gap: %w", err)
	}

	c.log.Warn().
		Int64("total", total).
		Int64("broken", broken).
		Float64("percentage", record.Percentage).
		Msg("notes without comments detected")

	if broken > c.cfg.GapThreshold {
		failure := notes.NewFailure(
			notes.CodeDataValidation,
			nil,
			"too many notes without comments (broken: %d, threshold: %d)",
			broken, c.cfg.GapThreshold,
		).WithAction("inspect the note_gaps table and the last ingested documents")
		return failure
	}

	return nil
}
