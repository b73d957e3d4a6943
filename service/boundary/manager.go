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

package boundary

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/osmnotes/notes-sync/models/notes"
)

// Overpass enumerates boundary relations and downloads their geometries.
type Overpass interface {
	RelationIDs(ctx context.Context, kind notes.BoundaryKind) ([]int64, error)
	FetchRelation(ctx context.Context, id int64, dir string) (string, uint64, error)
}

// Store is the storage surface the boundary manager drives.
type Store interface {
	CountryFingerprints(ctx context.Context) (map[int64]uint64, error)
	MarkCountriesForUpdate(ctx context.Context) error
	TruncateImport(ctx context.Context) error
	UpsertCountryFromImport(ctx context.Context, country notes.Country) error
	ClearCountryFlags(ctx context.Context, ids []int64) error
	MarkFailedCountries(ctx context.Context) (int64, error)
	DeleteCountries(ctx context.Context, ids []int64) error
	CountryCount(ctx context.Context) (int64, error)
	PromoteBaselineImport(ctx context.Context) (int64, error)
	ReassignNotes(ctx context.Context, ids []int64) (int64, error)
}

// Importer loads one downloaded geometry document into the import staging
// table.
type Importer interface {
	Import(ctx context.Context, path string) error
}

// Retrier bounds the per-boundary download attempts.
type Retrier interface {
	Retry(ctx context.Context, description string, op func() error) error
}

// Stats summarizes one boundary run.
type Stats struct {
	Upstream   int
	Added      int
	Changed    int
	Removed    int
	Failed     int64
	Reassigned int64
}

// Manager keeps the local boundary set in sync with Overpass. It drives the
// per-boundary update state machine: every stored boundary is marked pending,
// each refreshed one is cleared, and whatever is still pending at the end is
// flagged as failed for the next run.
type Manager struct {
	log      zerolog.Logger
	overpass Overpass
	store    Store
	importer Importer
	retry    Retrier
	cfg      Config
}

// New creates a boundary manager with the default boundary policy,
// overridable through options.
func New(log zerolog.Logger, overpass Overpass, store Store, importer Importer, retry Retrier, options ...Option) *Manager {

	cfg := DefaultConfig
	for _, option := range options {
		option(&cfg)
	}

	m := Manager{
		log:      log.With().Str("component", "boundary").Logger(),
		overpass: overpass,
		store:    store,
		importer: importer,
		retry:    retry,
		cfg:      cfg,
	}

	return &m
}

// ImportAll downloads and stores the complete boundary set. Used during
// bootstrap when the countries table is empty.
func (m *Manager) ImportAll(ctx context.Context) (Stats, error) {

	ids, err := m.upstreamIDs(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Upstream: len(ids), Added: len(ids)}

	var merr *multierror.Error
	for _, id := range ids {
		err = m.refreshOne(ctx, id, nil)
		if err != nil {
			m.log.Error().Err(err).Int64("id", id).Msg("could not import boundary")
			merr = multierror.Append(merr, fmt.Errorf("boundary %d: %w", id, err))
		}
	}

	count, err := m.store.CountryCount(ctx)
	if err != nil {
		return stats, fmt.Errorf("could not count countries: %w", err)
	}

	// When nothing at all could be downloaded, the accepted baseline file
	// still lets a fresh bootstrap proceed through an Overpass outage.
	if count == 0 && m.cfg.BaselinePath != "" {
		promoted, baseErr := m.importBaseline(ctx)
		if baseErr != nil {
			m.log.Error().Err(baseErr).Str("path", m.cfg.BaselinePath).Msg("could not import baseline boundaries")
			merr = multierror.Append(merr, fmt.Errorf("baseline: %w", baseErr))
		} else {
			stats.Added = int(promoted)
			m.log.Warn().
				Int64("countries", promoted).
				Str("path", m.cfg.BaselinePath).
				Msg("overpass unavailable, boundaries imported from baseline file")
			return stats, nil
		}
	}
	if count == 0 {
		failure := notes.NewFailure(notes.CodeBoundaryDownloadFailed, merr.ErrorOrNil(), "no boundary could be imported").
			WithAction("check Overpass availability and the geometry importer installation")
		return stats, failure
	}

	// Some boundaries failing is tolerable on bootstrap; their notes stay
	// untagged until the next refresh.
	if merr != nil {
		m.log.Warn().Int("failed", merr.Len()).Msg("some boundaries could not be imported")
	}

	m.log.Info().
		Int("upstream", stats.Upstream).
		Int64("stored", count).
		Msg("boundary import complete")

	return stats, nil
}

// Refresh compares the upstream boundary set against the local one and only
// touches boundaries that were added, changed, or removed. Notes affected by
// the diff are re-geotagged.
func (m *Manager) Refresh(ctx context.Context) (Stats, error) {

	ids, err := m.upstreamIDs(ctx)
	if err != nil {
		return Stats{}, err
	}

	stored, err := m.store.CountryFingerprints(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("could not load stored fingerprints: %w", err)
	}

	err = m.store.MarkCountriesForUpdate(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("could not mark countries for update: %w", err)
	}

	diff, unchecked, downloads, err := m.diff(ctx, ids, stored)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Upstream: len(ids),
		Added:    len(diff.Added),
		Changed:  len(diff.Changed),
		Removed:  len(diff.Removed),
	}

	var merr *multierror.Error
	for _, id := range diff.Affected() {
		err = m.refreshOne(ctx, id, downloads)
		if err != nil {
			m.log.Error().Err(err).Int64("id", id).Msg("could not refresh boundary")
			merr = multierror.Append(merr, fmt.Errorf("boundary %d: %w", id, err))
		}
	}

	// Unchanged boundaries were never failures; clearing them is done by the
	// fingerprint diff leaving them out, so flag only what is still pending
	// after the refresh attempts.
	stats.Failed, err = m.markUnchangedRefreshed(ctx, diff, stored, unchecked)
	if err != nil {
		return stats, err
	}

	err = m.store.DeleteCountries(ctx, diff.Removed)
	if err != nil {
		return stats, fmt.Errorf("could not delete removed countries: %w", err)
	}

	if !diff.Empty() {
		stats.Reassigned, err = m.store.ReassignNotes(ctx, diff.Affected())
		if err != nil {
			return stats, fmt.Errorf("could not reassign notes: %w", err)
		}
	}

	// Per-boundary failures are already flagged in the database and retried
	// on the next run; they do not fail the refresh as a whole.
	if merr != nil {
		m.log.Warn().Int("failed", merr.Len()).Msg("some boundaries could not be refreshed")
	}

	m.log.Info().
		Int("upstream", stats.Upstream).
		Int("added", stats.Added).
		Int("changed", stats.Changed).
		Int("removed", stats.Removed).
		Int64("failed", stats.Failed).
		Int64("reassigned", stats.Reassigned).
		Msg("boundary refresh complete")

	return stats, nil
}

// upstreamIDs enumerates the full boundary set: countries, maritime zones,
// and the disputed areas the country query misses.
func (m *Manager) upstreamIDs(ctx context.Context) ([]int64, error) {

	var ids []int64
	err := m.retry.Retry(ctx, "download country ids", func() error {
		downloaded, err := m.overpass.RelationIDs(ctx, notes.BoundaryCountries)
		if err != nil {
			return err
		}
		ids = downloaded
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not download country ids: %w", err)
	}

	if m.cfg.Maritimes {
		err = m.retry.Retry(ctx, "download maritime ids", func() error {
			downloaded, err := m.overpass.RelationIDs(ctx, notes.BoundaryMaritimes)
			if err != nil {
				return err
			}
			ids = append(ids, downloaded...)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("could not download maritime ids: %w", err)
		}
	}

	ids = append(ids, notes.DisputedAreaIDs...)

	seen := make(map[int64]struct{}, len(ids))
	unique := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	sort.Slice(unique, func(i int, j int) bool { return unique[i] < unique[j] })

	return unique, nil
}

// download is one fetched geometry kept around between the diff pass and the
// refresh pass, so a changed boundary is only downloaded once per run.
type download struct {
	path string
	hash uint64
}

// diff downloads the geometry of every stored upstream boundary and compares
// its fingerprint against the stored one. Changed geometries are handed back
// for the refresh pass; unchanged ones are discarded on the spot. Boundaries
// whose geometry could not be fetched are returned separately so they stay
// pending.
func (m *Manager) diff(ctx context.Context, ids []int64, stored map[int64]uint64) (notes.BoundaryDiff, []int64, map[int64]download, error) {

	var diff notes.BoundaryDiff
	var unchecked []int64
	downloads := make(map[int64]download)

	upstream := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		upstream[id] = struct{}{}

		hash, ok := stored[id]
		if !ok {
			diff.Added = append(diff.Added, id)
			continue
		}

		path, downloaded, err := m.fetch(ctx, id)
		if err != nil {
			// An unreachable geometry stays pending and gets flagged as
			// failed at the end of the run.
			m.log.Warn().Err(err).Int64("id", id).Msg("could not fingerprint boundary")
			unchecked = append(unchecked, id)
			continue
		}
		if downloaded == hash {
			_ = os.Remove(path)
			continue
		}
		diff.Changed = append(diff.Changed, id)
		downloads[id] = download{path: path, hash: downloaded}
	}

	for id := range stored {
		if _, ok := upstream[id]; !ok {
			diff.Removed = append(diff.Removed, id)
		}
	}
	sort.Slice(diff.Removed, func(i int, j int) bool { return diff.Removed[i] < diff.Removed[j] })

	return diff, unchecked, downloads, nil
}

// refreshOne stages one boundary geometry through the external importer and
// upserts it, clearing its pending flags. A geometry already downloaded by the
// diff pass is reused instead of fetched again.
func (m *Manager) refreshOne(ctx context.Context, id int64, downloads map[int64]download) error {

	path := ""
	var hash uint64
	if cached, ok := downloads[id]; ok {
		path = cached.path
		hash = cached.hash
	} else {
		var err error
		path, hash, err = m.fetch(ctx, id)
		if err != nil {
			return err
		}
	}
	defer os.Remove(path)

	nameEN, nameLocal, err := relationNames(path, id)
	if err != nil {
		return fmt.Errorf("could not extract boundary names: %w", err)
	}

	err = m.store.TruncateImport(ctx)
	if err != nil {
		return fmt.Errorf("could not clear import staging: %w", err)
	}

	err = m.importer.Import(ctx, path)
	if err != nil {
		return fmt.Errorf("could not import geometry: %w", err)
	}

	country := notes.Country{
		ID:           id,
		NameEN:       nameEN,
		NameLocal:    nameLocal,
		GeometryHash: hash,
	}
	err = m.store.UpsertCountryFromImport(ctx, country)
	if err != nil {
		return fmt.Errorf("could not store boundary: %w", err)
	}

	m.log.Debug().Int64("id", id).Str("name", nameEN).Msg("boundary refreshed")

	return nil
}

// importBaseline stages the baseline boundary file through the external
// importer and promotes its features into the countries table. Baseline
// boundaries keep a zero fingerprint, so the next refresh replaces them with
// live downloads.
func (m *Manager) importBaseline(ctx context.Context) (int64, error) {

	_, err := os.Stat(m.cfg.BaselinePath)
	if err != nil {
		return 0, fmt.Errorf("could not find baseline file: %w", err)
	}

	err = m.store.TruncateImport(ctx)
	if err != nil {
		return 0, fmt.Errorf("could not clear import staging: %w", err)
	}

	err = m.importer.Import(ctx, m.cfg.BaselinePath)
	if err != nil {
		return 0, fmt.Errorf("could not import baseline file: %w", err)
	}

	promoted, err := m.store.PromoteBaselineImport(ctx)
	if err != nil {
		return 0, fmt.Errorf("could not promote baseline boundaries: %w", err)
	}
	if promoted == 0 {
		return 0, fmt.Errorf("baseline file produced no boundaries (path: %s)", m.cfg.BaselinePath)
	}

	return promoted, nil
}

// fetch downloads one boundary geometry with retries.
func (m *Manager) fetch(ctx context.Context, id int64) (string, uint64, error) {
	var path string
	var hash uint64
	err := m.retry.Retry(ctx, fmt.Sprintf("download boundary %d", id), func() error {
		downloaded, fingerprint, err := m.overpass.FetchRelation(ctx, id, m.cfg.WorkDir)
		if err != nil {
			return err
		}
		path = downloaded
		hash = fingerprint
		return nil
	})
	if err != nil {
		return "", 0, err
	}
	return path, hash, nil
}

// markUnchangedRefreshed settles the pending flags at the end of a refresh
// run. A matching fingerprint counts as a successful refresh, so unchanged
// boundaries are cleared first; whatever is still pending afterwards genuinely
// failed and gets flagged for the next run.
func (m *Manager) markUnchangedRefreshed(ctx context.Context, diff notes.BoundaryDiff, stored map[int64]uint64, unchecked []int64) (int64, error) {

	unchanged := make([]int64, 0, len(stored))
	skip := make(map[int64]struct{})
	for _, id := range diff.Affected() {
		skip[id] = struct{}{}
	}
	for _, id := range diff.Removed {
		skip[id] = struct{}{}
	}
	for _, id := range unchecked {
		skip[id] = struct{}{}
	}
	for id := range stored {
		if _, ok := skip[id]; !ok {
			unchanged = append(unchanged, id)
		}
	}

	err := m.store.ClearCountryFlags(ctx, unchanged)
	if err != nil {
		return 0, fmt.Errorf("could not clear country flags: %w", err)
	}

	failed, err := m.store.MarkFailedCountries(ctx)
	if err != nil {
		return 0, fmt.Errorf("could not mark failed countries: %w", err)
	}

	return failed, nil
}

// relationNames extracts the English and local names from the downloaded
// Overpass document.
func relationNames(path string, id int64) (string, string, error) {

	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("could not read boundary file: %w", err)
	}

	var document struct {
		Elements []struct {
			Type string            `json:"type"`
			ID   int64             `json:"id"`
			Tags map[string]string `json:"tags"`
		} `json:"elements"`
	}
	err = json.Unmarshal(data, &document)
	if err != nil {
		return "", "", fmt.Errorf("could not decode boundary file: %w", err)
	}

	for _, element := range document.Elements {
		if element.Type != "relation" || element.ID != id {
			continue
		}
		nameEN := element.Tags["name:en"]
		nameLocal := element.Tags["name"]
		if nameEN == "" {
			nameEN = nameLocal
		}
		return nameEN, nameLocal, nil
	}

	return "", "", fmt.Errorf("relation not found in document (id: %d)", id)
}
