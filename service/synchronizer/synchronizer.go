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

package synchronizer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/osmnotes/notes-sync/codec/osmxml"
	"github.com/osmnotes/notes-sync/service/consolidator"
	"github.com/osmnotes/notes-sync/service/splitter"
	"github.com/osmnotes/notes-sync/service/storage"
	"github.com/osmnotes/notes-sync/service/validator"
)

// API is the notes API surface the synchronizer drives.
type API interface {
	Probe(ctx context.Context, since time.Time) (bool, error)
	Fetch(ctx context.Context, since time.Time, destination string) error
}

// Validator checks a downloaded delta before anything touches the database.
type Validator interface {
	Validate(ctx context.Context, path string, format osmxml.Format) (*validator.Report, error)
}

// Extractor turns the delta into its three CSV streams.
type Extractor interface {
	Extract(ctx context.Context, part string, format osmxml.Format, dir string, index int) (*splitter.Extraction, error)
}

// Store is the storage surface of the small-delta path.
type Store interface {
	Watermark(ctx context.Context) (time.Time, error)
	LoadCSV(ctx context.Context, target storage.CopyTarget, notesCSV string, commentsCSV string, textCSV string) (storage.CopyStats, error)
	TruncateAPIStaging(ctx context.Context) error
}

// Merger consolidates staged rows into the main tables.
type Merger interface {
	Consolidate(ctx context.Context, src storage.Source) (consolidator.Stats, error)
}

// Reloader is the bulk reload entry point for deltas too large for the API
// path.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Retrier bounds the network attempts.
type Retrier interface {
	Retry(ctx context.Context, description string, op func() error) error
}

// Stats summarizes one sync cycle.
type Stats struct {
	Watermark time.Time
	UpToDate  bool
	Escalated bool
	Notes     int64
	Comments  int64
}

// Synchronizer runs one incremental sync cycle against the notes API: probe
// for update candidates, download the delta since the watermark, validate it,
// and either merge it through the API staging tables or escalate to a full
// Planet reload when the delta is too large.
type Synchronizer struct {
	mu       sync.Mutex
	log      zerolog.Logger
	api      API
	validate Validator
	extract  Extractor
	store    Store
	merge    Merger
	reload   Reloader
	retry    Retrier
	cfg      Config
}

// New creates a synchronizer with the default delta policy, overridable
// through options.
func New(log zerolog.Logger, api API, validate Validator, extract Extractor, store Store, merge Merger, reload Reloader, retry Retrier, options ...Option) *Synchronizer {

	cfg := DefaultConfig
	for _, option := range options {
		option(&cfg)
	}

	s := Synchronizer{
		log:      log.With().Str("component", "synchronizer").Logger(),
		api:      api,
		validate: validate,
		extract:  extract,
		store:    store,
		merge:    merge,
		reload:   reload,
		retry:    retry,
		cfg:      cfg,
	}

	return &s
}

// Reconfigure changes the escalation threshold and the artifact cleanup
// policy between cycles. Used by the configuration reload on SIGHUP.
func (s *Synchronizer) Reconfigure(maxNotes int64, clean bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.MaxNotes = maxNotes
	s.cfg.Clean = clean
}

func (s *Synchronizer) maxNotes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.MaxNotes
}

func (s *Synchronizer) clean() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Clean
}

// Sync runs one cycle. Previous-failure gating happens at the daemon level,
// so this assumes it is safe to run.
func (s *Synchronizer) Sync(ctx context.Context) (Stats, error) {

	var stats Stats

	watermark, err := s.store.Watermark(ctx)
	if err != nil {
		return stats, fmt.Errorf("could not read watermark: %w", err)
	}
	stats.Watermark = watermark

	var candidate bool
	err = s.retry.Retry(ctx, "probe notes API", func() error {
		found, err := s.api.Probe(ctx, watermark)
		if err != nil {
			return err
		}
		candidate = found
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("could not probe notes API: %w", err)
	}
	if !candidate {
		stats.UpToDate = true
		s.log.Debug().Time("watermark", watermark).Msg("no update candidates, skipping cycle")
		return stats, nil
	}

	err = os.MkdirAll(s.cfg.WorkDir, 0o777)
	if err != nil {
		return stats, fmt.Errorf("could not create work directory: %w", err)
	}
	delta := filepath.Join(s.cfg.WorkDir, "api_delta.xml")

	err = s.retry.Retry(ctx, "fetch notes delta", func() error {
		return s.api.Fetch(ctx, watermark, delta)
	})
	if err != nil {
		return stats, fmt.Errorf("could not fetch delta: %w", err)
	}

	report, err := s.validate.Validate(ctx, delta, osmxml.FormatAPI)
	if err != nil {
		return stats, fmt.Errorf("could not validate delta: %w", err)
	}

	if report.Notes == 0 {
		stats.UpToDate = true
		s.cleanup(delta)
		s.log.Debug().Time("watermark", watermark).Msg("empty delta, watermark unchanged")
		return stats, nil
	}

	threshold := s.maxNotes()
	if int64(report.Notes) >= threshold {
		// The API path is not meant for bulk volumes; a full reload from the
		// Planet dump advances the watermark instead.
		s.cleanup(delta)
		s.log.Warn().
			Int("notes", report.Notes).
			Int64("threshold", threshold).
			Msg("delta too large, escalating to full reload")
		err = s.reload.Reload(ctx)
		if err != nil {
			return stats, fmt.Errorf("could not run full reload: %w", err)
		}
		stats.Escalated = true
		return stats, nil
	}

	merged, err := s.smallPath(ctx, delta)
	if err != nil {
		return stats, err
	}
	stats.Notes = merged.Notes
	stats.Comments = merged.Comments
	stats.Watermark = merged.Watermark

	s.cleanup(delta)

	s.log.Info().
		Int64("notes", stats.Notes).
		Int64("comments", stats.Comments).
		Time("watermark", stats.Watermark).
		Msg("sync cycle complete")

	return stats, nil
}

// smallPath extracts the delta in a single process and merges it through the
// API staging tables. The staging tables are truncated at the end regardless
// of the merge outcome so a failed cycle cannot leak rows into the next one.
func (s *Synchronizer) smallPath(ctx context.Context, delta string) (consolidator.Stats, error) {

	defer func() {
		truncateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := s.store.TruncateAPIStaging(truncateCtx)
		if err != nil {
			s.log.Error().Err(err).Msg("could not truncate API staging")
		}
	}()

	extraction, err := s.extract.Extract(ctx, delta, osmxml.FormatAPI, s.cfg.WorkDir, 0)
	if err != nil {
		return consolidator.Stats{}, fmt.Errorf("could not extract delta: %w", err)
	}

	copied, err := s.store.LoadCSV(ctx, storage.APITarget(), extraction.NotesCSV, extraction.CommsCSV, extraction.TextCSV)
	if err != nil {
		return consolidator.Stats{}, fmt.Errorf("could not load delta: %w", err)
	}
	if copied.Notes != int64(extraction.Notes) {
		return consolidator.Stats{}, fmt.Errorf("loaded note count mismatch (extracted: %d, loaded: %d)",
			extraction.Notes, copied.Notes)
	}

	merged, err := s.merge.Consolidate(ctx, storage.SourceAPI)
	if err != nil {
		return consolidator.Stats{}, fmt.Errorf("could not consolidate delta: %w", err)
	}

	return merged, nil
}

// cleanup removes cycle artifacts when configured to.
func (s *Synchronizer) cleanup(paths ...string) {
	if !s.clean() {
		return
	}
	for _, path := range paths {
		err := os.Remove(path)
		if err != nil && !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("path", path).Msg("could not remove cycle artifact")
		}
	}
}
