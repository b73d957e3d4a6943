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

package boundary_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osmnotes/notes-sync/models/notes"
	"github.com/osmnotes/notes-sync/service/boundary"
	"github.com/osmnotes/notes-sync/testing/mocks"
)

// fetchFromDir returns a FetchRelation stub that writes a fresh Overpass
// document per call, since the manager removes the file after importing it.
func fetchFromDir(t *testing.T, dir string, hash uint64) func(ctx context.Context, id int64, _ string) (string, uint64, error) {
	t.Helper()

	return func(_ context.Context, id int64, _ string) (string, uint64, error) {
		document := fmt.Sprintf(`{"elements":[{"type":"relation","id":%d,"tags":{"name":"México","name:en":"Mexico"}}]}`, id)
		path := filepath.Join(dir, fmt.Sprintf("boundary_%d.json", id))
		err := os.WriteFile(path, []byte(document), 0o644)
		if err != nil {
			return "", 0, err
		}
		return path, hash, nil
	}
}

func TestManager_ImportAll(t *testing.T) {
	t.Run("imports the complete upstream set", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		overpass := mocks.BaselineOverpass(t)
		overpass.RelationIDsFunc = func(_ context.Context, kind notes.BoundaryKind) ([]int64, error) {
			if kind == notes.BoundaryCountries {
				return []int64{mocks.GenericCountryID}, nil
			}
			return nil, nil
		}
		overpass.FetchRelationFunc = fetchFromDir(t, dir, 42)

		var upserted []notes.Country
		store := mocks.BaselineStore(t)
		store.UpsertCountryFromImportFunc = func(_ context.Context, country notes.Country) error {
			upserted = append(upserted, country)
			return nil
		}

		manager := boundary.New(mocks.NoopLogger, overpass, store, mocks.BaselineImporter(t), mocks.BaselineRetrier(t),
			boundary.WithWorkDir(dir),
		)

		stats, err := manager.ImportAll(context.Background())
		require.NoError(t, err)

		// The disputed areas are always part of the set.
		want := 1 + len(notes.DisputedAreaIDs)
		assert.Equal(t, want, stats.Upstream)
		require.Len(t, upserted, want)
		for _, country := range upserted {
			assert.Equal(t, "Mexico", country.NameEN)
			assert.Equal(t, "México", country.NameLocal)
			assert.Equal(t, uint64(42), country.GeometryHash)
		}
	})

	t.Run("partial failures are tolerated", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		fetch := fetchFromDir(t, dir, 42)
		overpass := mocks.BaselineOverpass(t)
		overpass.FetchRelationFunc = func(ctx context.Context, id int64, fetchDir string) (string, uint64, error) {
			if id == mocks.GenericCountryID {
				return "", 0, mocks.GenericError
			}
			return fetch(ctx, id, fetchDir)
		}
		overpass.RelationIDsFunc = func(_ context.Context, kind notes.BoundaryKind) ([]int64, error) {
			if kind == notes.BoundaryCountries {
				return []int64{mocks.GenericCountryID}, nil
			}
			return nil, nil
		}

		manager := boundary.New(mocks.NoopLogger, overpass, mocks.BaselineStore(t), mocks.BaselineImporter(t), mocks.BaselineRetrier(t),
			boundary.WithWorkDir(dir),
		)

		_, err := manager.ImportAll(context.Background())
		assert.NoError(t, err)
	})

	t.Run("nothing imported is a boundary failure", func(t *testing.T) {
		t.Parallel()

		overpass := mocks.BaselineOverpass(t)
		overpass.FetchRelationFunc = func(context.Context, int64, string) (string, uint64, error) {
			return "", 0, mocks.GenericError
		}
		store := mocks.BaselineStore(t)
		store.CountryCountFunc = func(context.Context) (int64, error) {
			return 0, nil
		}

		manager := boundary.New(mocks.NoopLogger, overpass, store, mocks.BaselineImporter(t), mocks.BaselineRetrier(t))

		_, err := manager.ImportAll(context.Background())
		require.Error(t, err)
		assert.Equal(t, notes.CodeBoundaryDownloadFailed, notes.CodeOf(err))
	})

	t.Run("total download failure falls back to the baseline file", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		baseline := filepath.Join(dir, "baseline.geojson")
		err := os.WriteFile(baseline, []byte(`{"type":"FeatureCollection","features":[]}`), 0o644)
		require.NoError(t, err)

		overpass := mocks.BaselineOverpass(t)
		overpass.FetchRelationFunc = func(context.Context, int64, string) (string, uint64, error) {
			return "", 0, mocks.GenericError
		}

		var imported []string
		importer := mocks.BaselineImporter(t)
		importer.ImportFunc = func(_ context.Context, path string) error {
			imported = append(imported, path)
			return nil
		}

		store := mocks.BaselineStore(t)
		store.CountryCountFunc = func(context.Context) (int64, error) {
			return 0, nil
		}
		store.PromoteBaselineImportFunc = func(context.Context) (int64, error) {
			return 180, nil
		}

		manager := boundary.New(mocks.NoopLogger, overpass, store, importer, mocks.BaselineRetrier(t),
			boundary.WithWorkDir(dir),
			boundary.WithBaseline(baseline),
		)

		stats, err := manager.ImportAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 180, stats.Added)
		assert.Contains(t, imported, baseline)
	})

	t.Run("missing baseline file keeps the download failure", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		overpass := mocks.BaselineOverpass(t)
		overpass.FetchRelationFunc = func(context.Context, int64, string) (string, uint64, error) {
			return "", 0, mocks.GenericError
		}
		store := mocks.BaselineStore(t)
		store.CountryCountFunc = func(context.Context) (int64, error) {
			return 0, nil
		}

		manager := boundary.New(mocks.NoopLogger, overpass, store, mocks.BaselineImporter(t), mocks.BaselineRetrier(t),
			boundary.WithBaseline(filepath.Join(dir, "missing.geojson")),
		)

		_, err := manager.ImportAll(context.Background())
		require.Error(t, err)
		assert.Equal(t, notes.CodeBoundaryDownloadFailed, notes.CodeOf(err))
	})
}

func TestManager_Refresh(t *testing.T) {
	t.Run("only touches added, changed and removed boundaries", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		added := int64(1001)
		changed := int64(1002)
		unchanged := int64(1003)
		removed := int64(1004)

		overpass := mocks.BaselineOverpass(t)
		overpass.RelationIDsFunc = func(_ context.Context, kind notes.BoundaryKind) ([]int64, error) {
			if kind == notes.BoundaryCountries {
				return []int64{added, changed, unchanged}, nil
			}
			return nil, nil
		}
		overpass.FetchRelationFunc = fetchFromDir(t, dir, 42)

		stored := map[int64]uint64{
			changed:   7,
			unchanged: 42,
			removed:   42,
		}
		// The disputed areas come back with every run; storing them with a
		// matching fingerprint keeps them out of the diff.
		for _, id := range notes.DisputedAreaIDs {
			stored[id] = 42
		}

		var marked bool
		var cleared, deleted, reassigned []int64
		store := mocks.BaselineStore(t)
		store.CountryFingerprintsFunc = func(context.Context) (map[int64]uint64, error) {
			return stored, nil
		}
		store.MarkCountriesForUpdateFunc = func(context.Context) error {
			marked = true
			return nil
		}
		store.ClearCountryFlagsFunc = func(_ context.Context, ids []int64) error {
			cleared = ids
			return nil
		}
		store.DeleteCountriesFunc = func(_ context.Context, ids []int64) error {
			deleted = ids
			return nil
		}
		store.ReassignNotesFunc = func(_ context.Context, ids []int64) (int64, error) {
			reassigned = ids
			return 3, nil
		}

		manager := boundary.New(mocks.NoopLogger, overpass, store, mocks.BaselineImporter(t), mocks.BaselineRetrier(t),
			boundary.WithWorkDir(dir),
		)

		stats, err := manager.Refresh(context.Background())
		require.NoError(t, err)

		assert.True(t, marked)
		assert.Equal(t, 1, stats.Added)
		assert.Equal(t, 1, stats.Changed)
		assert.Equal(t, 1, stats.Removed)
		assert.Equal(t, int64(3), stats.Reassigned)
		assert.Equal(t, []int64{removed}, deleted)
		assert.ElementsMatch(t, []int64{added, changed}, reassigned)
		assert.Contains(t, cleared, unchanged)
		assert.NotContains(t, cleared, changed)
		assert.NotContains(t, cleared, removed)
	})

	t.Run("identical sets produce no work", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		overpass := mocks.BaselineOverpass(t)
		overpass.RelationIDsFunc = func(_ context.Context, kind notes.BoundaryKind) ([]int64, error) {
			return nil, nil
		}
		overpass.FetchRelationFunc = fetchFromDir(t, dir, 42)

		stored := make(map[int64]uint64)
		for _, id := range notes.DisputedAreaIDs {
			stored[id] = 42
		}
		store := mocks.BaselineStore(t)
		store.CountryFingerprintsFunc = func(context.Context) (map[int64]uint64, error) {
			return stored, nil
		}
		store.ReassignNotesFunc = func(context.Context, []int64) (int64, error) {
			t.Fatal("no reassignment for an unchanged boundary set")
			return 0, nil
		}
		store.UpsertCountryFromImportFunc = func(context.Context, notes.Country) error {
			t.Fatal("no upsert for an unchanged boundary set")
			return nil
		}

		manager := boundary.New(mocks.NoopLogger, overpass, store, mocks.BaselineImporter(t), mocks.BaselineRetrier(t),
			boundary.WithWorkDir(dir),
		)

		stats, err := manager.Refresh(context.Background())
		require.NoError(t, err)
		assert.Zero(t, stats.Added)
		assert.Zero(t, stats.Changed)
		assert.Zero(t, stats.Removed)
	})

	t.Run("changed geometry is downloaded only once per run", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		changed := int64(1002)

		fetch := fetchFromDir(t, dir, 42)
		fetches := make(map[int64]int)
		overpass := mocks.BaselineOverpass(t)
		overpass.RelationIDsFunc = func(_ context.Context, kind notes.BoundaryKind) ([]int64, error) {
			if kind == notes.BoundaryCountries {
				return []int64{changed}, nil
			}
			return nil, nil
		}
		overpass.FetchRelationFunc = func(ctx context.Context, id int64, fetchDir string) (string, uint64, error) {
			fetches[id]++
			return fetch(ctx, id, fetchDir)
		}

		stored := map[int64]uint64{changed: 7}
		for _, id := range notes.DisputedAreaIDs {
			stored[id] = 42
		}
		store := mocks.BaselineStore(t)
		store.CountryFingerprintsFunc = func(context.Context) (map[int64]uint64, error) {
			return stored, nil
		}

		manager := boundary.New(mocks.NoopLogger, overpass, store, mocks.BaselineImporter(t), mocks.BaselineRetrier(t),
			boundary.WithWorkDir(dir),
		)

		stats, err := manager.Refresh(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 1, stats.Changed)
		for id, count := range fetches {
			assert.Equalf(t, 1, count, "boundary %d fetched more than once", id)
		}
	})

	t.Run("failed downloads stay pending and get flagged", func(t *testing.T) {
		t.Parallel()

		overpass := mocks.BaselineOverpass(t)
		overpass.RelationIDsFunc = func(_ context.Context, kind notes.BoundaryKind) ([]int64, error) {
			return nil, nil
		}
		overpass.FetchRelationFunc = func(context.Context, int64, string) (string, uint64, error) {
			return "", 0, mocks.GenericError
		}

		stored := make(map[int64]uint64)
		for _, id := range notes.DisputedAreaIDs {
			stored[id] = 42
		}
		store := mocks.BaselineStore(t)
		store.CountryFingerprintsFunc = func(context.Context) (map[int64]uint64, error) {
			return stored, nil
		}
		store.MarkFailedCountriesFunc = func(context.Context) (int64, error) {
			return int64(len(notes.DisputedAreaIDs)), nil
		}

		manager := boundary.New(mocks.NoopLogger, overpass, store, mocks.BaselineImporter(t), mocks.BaselineRetrier(t))

		stats, err := manager.Refresh(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(len(notes.DisputedAreaIDs)), stats.Failed)
	})
}
