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

package initializer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/osmnotes/notes-sync/codec/osmxml"
	"github.com/osmnotes/notes-sync/models/notes"
	"github.com/osmnotes/notes-sync/service/boundary"
	"github.com/osmnotes/notes-sync/service/consolidator"
	"github.com/osmnotes/notes-sync/service/loader"
	"github.com/osmnotes/notes-sync/service/storage"
	"github.com/osmnotes/notes-sync/service/validator"
)

// Planet downloads and extracts the notes dump.
type Planet interface {
	Download(ctx context.Context, dir string) (string, error)
	Extract(ctx context.Context, archive string) (string, error)
}

// Validator checks the extracted dump before anything touches the database.
type Validator interface {
	Validate(ctx context.Context, path string, format osmxml.Format) (*validator.Report, error)
}

// Splitter cuts the dump into part files for the parallel load.
type Splitter interface {
	Split(ctx context.Context, path string, format osmxml.Format, total int, workers int, dir string) ([]string, error)
}

// Loader bulk-loads the part files into the staging partitions.
type Loader interface {
	Load(ctx context.Context, parts []string, format osmxml.Format, dir string) (loader.Stats, error)
}

// Merger consolidates staged rows into the main tables.
type Merger interface {
	Consolidate(ctx context.Context, src storage.Source) (consolidator.Stats, error)
}

// Boundaries imports the country and maritime boundary set.
type Boundaries interface {
	ImportAll(ctx context.Context) (boundary.Stats, error)
}

// Store is the schema and maintenance surface of the bootstrap.
type Store interface {
	CreateBaseSchema(ctx context.Context) error
	DropBaseTables(ctx context.Context) error
	BaseTablesExist(ctx context.Context) (bool, error)
	CreateSpatialFunction(ctx context.Context) error
	DropSyncStaging(ctx context.Context) error
	DropAPIStaging(ctx context.Context) error
	CountryCount(ctx context.Context) (int64, error)
	GeotagAllNotes(ctx context.Context) (int64, error)
	RefreshWatermark(ctx context.Context) (time.Time, error)
	VacuumMainTables(ctx context.Context) error
}

// Initializer bootstraps the replica from the Planet dump. Base mode builds
// the schema from scratch; sync mode reloads the note data into an existing
// schema, which is also the escalation path for oversized API deltas.
type Initializer struct {
	log        zerolog.Logger
	planet     Planet
	validate   Validator
	split      Splitter
	load       Loader
	merge      Merger
	boundaries Boundaries
	store      Store
	cfg        Config
}

// New creates an initializer with the default bootstrap policy, overridable
// through options.
func New(log zerolog.Logger, planet Planet, validate Validator, split Splitter, load Loader, merge Merger, boundaries Boundaries, store Store, options ...Option) *Initializer {

	cfg := DefaultConfig
	for _, option := range options {
		option(&cfg)
	}

	i := Initializer{
		log:        log.With().Str("component", "initializer").Logger(),
		planet:     planet,
		validate:   validate,
		split:      split,
		load:       load,
		merge:      merge,
		boundaries: boundaries,
		store:      store,
		cfg:        cfg,
	}

	return &i
}

// Bootstrap builds the replica from scratch: schema, full Planet load,
// boundary import, and the initial geotag of every note.
func (i *Initializer) Bootstrap(ctx context.Context) error {

	start := time.Now()

	err := i.store.DropBaseTables(ctx)
	if err != nil {
		return fmt.Errorf("could not drop previous schema: %w", err)
	}
	err = i.store.CreateBaseSchema(ctx)
	if err != nil {
		return fmt.Errorf("could not create schema: %w", err)
	}

	err = i.loadPlanet(ctx)
	if err != nil {
		return err
	}

	if i.cfg.SkipBoundaries {
		i.log.Warn().Msg("boundary import skipped, notes stay untagged")
	} else {
		_, err = i.boundaries.ImportAll(ctx)
		if err != nil {
			return fmt.Errorf("could not import boundaries: %w", err)
		}

		err = i.store.CreateSpatialFunction(ctx)
		if err != nil {
			return fmt.Errorf("could not install spatial lookup: %w", err)
		}

		tagged, err := i.store.GeotagAllNotes(ctx)
		if err != nil {
			return fmt.Errorf("could not geotag notes: %w", err)
		}
		i.log.Info().Int64("tagged", tagged).Msg("initial geotag complete")
	}

	err = i.store.VacuumMainTables(ctx)
	if err != nil {
		return fmt.Errorf("could not vacuum main tables: %w", err)
	}

	i.log.Info().
		Str("duration", time.Since(start).Round(time.Second).String()).
		Msg("bootstrap complete")

	return nil
}

// Reload refreshes the note data of an existing replica from the Planet dump.
// A missing schema is a hard error, never a silent re-bootstrap: the check
// distinguishes "tables are absent" from "the check itself failed", so a
// transient database error cannot trigger a destructive rebuild.
func (i *Initializer) Reload(ctx context.Context) error {

	exists, err := i.store.BaseTablesExist(ctx)
	if err != nil {
		return fmt.Errorf("could not verify schema: %w", err)
	}
	if !exists {
		failure := notes.NewFailure(notes.CodeGeneral, nil, "replica schema is missing").
			WithAction("run the bootstrap binary with --base to build the replica first")
		return failure
	}

	err = i.loadPlanet(ctx)
	if err != nil {
		return err
	}

	countries, err := i.store.CountryCount(ctx)
	if err != nil {
		return fmt.Errorf("could not count countries: %w", err)
	}
	if countries == 0 && !i.cfg.SkipBoundaries {
		_, err = i.boundaries.ImportAll(ctx)
		if err != nil {
			return fmt.Errorf("could not import boundaries: %w", err)
		}
		err = i.store.CreateSpatialFunction(ctx)
		if err != nil {
			return fmt.Errorf("could not install spatial lookup: %w", err)
		}
	}

	i.log.Info().Msg("reload complete")

	return nil
}

// loadPlanet is the shared dump pipeline: download, extract, validate, split,
// parallel load, consolidate. The sync staging tables are dropped afterwards
// regardless of outcome.
func (i *Initializer) loadPlanet(ctx context.Context) error {

	defer func() {
		dropCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		err := i.store.DropSyncStaging(dropCtx)
		if err != nil {
			i.log.Error().Err(err).Msg("could not drop sync staging")
		}
	}()

	archive, err := i.planet.Download(ctx, i.cfg.WorkDir)
	if err != nil {
		return fmt.Errorf("could not download planet dump: %w", err)
	}

	dump, err := i.planet.Extract(ctx, archive)
	if err != nil {
		return fmt.Errorf("could not extract planet dump: %w", err)
	}

	report, err := i.validate.Validate(ctx, dump, osmxml.FormatPlanet)
	if err != nil {
		return fmt.Errorf("could not validate planet dump: %w", err)
	}

	parts, err := i.split.Split(ctx, dump, osmxml.FormatPlanet, report.Notes, i.cfg.MaxThreads, i.cfg.WorkDir)
	if err != nil {
		return fmt.Errorf("could not split planet dump: %w", err)
	}

	loaded, err := i.load.Load(ctx, parts, osmxml.FormatPlanet, i.cfg.WorkDir)
	if err != nil {
		return fmt.Errorf("could not load parts: %w", err)
	}
	if loaded.Notes != int64(report.Notes) {
		return fmt.Errorf("loaded note count mismatch (validated: %d, loaded: %d)", report.Notes, loaded.Notes)
	}

	merged, err := i.merge.Consolidate(ctx, storage.SourceSync)
	if err != nil {
		return fmt.Errorf("could not consolidate planet load: %w", err)
	}

	watermark, err := i.store.RefreshWatermark(ctx)
	if err != nil {
		return fmt.Errorf("could not refresh watermark: %w", err)
	}

	i.log.Info().
		Int("parts", loaded.Parts).
		Int64("notes", merged.Notes).
		Int64("comments", merged.Comments).
		Time("watermark", watermark).
		Msg("planet load complete")

	return nil
}
