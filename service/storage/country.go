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

package storage

import (
	"context"
	"fmt"

	"github.com/osmnotes/notes-sync/models/notes"
)

// CountryFingerprints returns the geometry fingerprint of every stored
// boundary, keyed by relation ID. The boundary manager diffs these against
// the fingerprints of freshly downloaded geometries.
func (s *Store) CountryFingerprints(ctx context.Context) (map[int64]uint64, error) {
	rows, err := s.pool.Query(ctx, `SELECT country_id, geometry_hash FROM countries`)
	if err != nil {
		return nil, fmt.Errorf("could not query country fingerprints: %w", err)
	}
	defer rows.Close()

	fingerprints := make(map[int64]uint64)
	for rows.Next() {
		var id int64
		var hash int64
		err = rows.Scan(&id, &hash)
		if err != nil {
			return nil, fmt.Errorf("could not scan country fingerprint: %w", err)
		}
		fingerprints[id] = uint64(hash)
	}
	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("could not iterate country fingerprints: %w", err)
	}

	return fingerprints, nil
}

// MarkCountriesForUpdate flags every stored boundary as pending refresh and
// stamps the attempt instant. Entry transition of the update state machine.
func (s *Store) MarkCountriesForUpdate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE countries
		SET updated = TRUE, last_update_attempt = now()
	`)
	if err != nil {
		return fmt.Errorf("could not mark countries for update: %w", err)
	}
	return nil
}

// TruncateImport clears the staging table of the external geometry importer
// before the next per-boundary run.
func (s *Store) TruncateImport(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE import`)
	if err != nil {
		return fmt.Errorf("could not truncate import staging: %w", err)
	}
	return nil
}

// UpsertCountryFromImport collects the geometry rows left by the external
// importer, repairs them, and upserts the boundary. A refreshed boundary
// leaves the update state machine: updated and update_failed are cleared.
func (s *Store) UpsertCountryFromImport(ctx context.Context, country notes.Country) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO countries (
			country_id, country_name_en, country_name,
			geom, bbox, geometry_hash,
			updated, update_failed, last_update_attempt
		)
		SELECT
			$1, $2, $3,
			ST_Multi(ST_CollectionExtract(ST_MakeValid(ST_Collect(i.geom)), 3)),
			ST_Envelope(ST_Collect(i.geom)),
			$4,
			FALSE, FALSE, now()
		FROM import i
		ON CONFLICT (country_id) DO UPDATE
		SET country_name_en     = EXCLUDED.country_name_en,
		    country_name        = EXCLUDED.country_name,
		    geom                = EXCLUDED.geom,
		    bbox                = EXCLUDED.bbox,
		    geometry_hash       = EXCLUDED.geometry_hash,
		    updated             = FALSE,
		    update_failed       = FALSE,
		    last_update_attempt = now()
	`, country.ID, country.NameEN, country.NameLocal, int64(country.GeometryHash))
	if err != nil {
		return fmt.Errorf("could not upsert country (id: %d): %w", country.ID, err)
	}
	return nil
}

// PromoteBaselineImport turns the features staged from a baseline boundary
// file into countries rows, one per distinct relation ID. The geometry hash is
// left at zero so the next boundary refresh replaces every baseline boundary
// with a live download.
func (s *Store) PromoteBaselineImport(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO countries (
			country_id, country_name_en, country_name,
			geom, bbox, geometry_hash,
			updated, update_failed, last_update_attempt
		)
		SELECT
			i.country_id,
			COALESCE(MAX(i.name_en), MAX(i.name), i.country_id::TEXT),
			MAX(i.name),
			ST_Multi(ST_CollectionExtract(ST_MakeValid(ST_Collect(i.geom)), 3)),
			ST_Envelope(ST_Collect(i.geom)),
			0,
			FALSE, FALSE, now()
		FROM import i
		WHERE i.country_id IS NOT NULL
		GROUP BY i.country_id
		ON CONFLICT (country_id) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("could not promote baseline boundaries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ClearCountryFlags clears the pending and failed flags of boundaries whose
// geometry matched upstream, so only genuinely failed ones stay pending.
func (s *Store) ClearCountryFlags(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE countries
		SET updated = FALSE, update_failed = FALSE
		WHERE country_id = ANY($1)
	`, ids)
	if err != nil {
		return fmt.Errorf("could not clear country flags: %w", err)
	}
	return nil
}

// MarkFailedCountries flags every boundary still pending after an update run
// as failed and returns how many there were.
func (s *Store) MarkFailedCountries(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE countries
		SET update_failed = TRUE
		WHERE updated = TRUE
	`)
	if err != nil {
		return 0, fmt.Errorf("could not mark failed countries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteCountries removes boundaries that are gone upstream. Notes pointing
// at them are released for re-geotagging.
func (s *Store) DeleteCountries(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE notes SET id_country = NULL WHERE id_country = ANY($1)
	`, ids)
	if err != nil {
		return fmt.Errorf("could not release notes of removed countries: %w", err)
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM countries WHERE country_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("could not delete countries: %w", err)
	}
	return nil
}

// CountryCount returns the number of stored boundaries.
func (s *Store) CountryCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM countries`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("could not count countries: %w", err)
	}
	return count, nil
}

// ReassignNotes re-runs the geotag lookup only for notes whose current
// country is one of the refreshed boundaries, or whose coordinates fall
// inside a refreshed boundary's bounding box. The bbox filter keeps the
// statement on the spatial index instead of scanning the notes table.
func (s *Store) ReassignNotes(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE notes n
		SET id_country = get_country(n.latitude, n.longitude)
		WHERE n.id_country = ANY($1)
		   OR EXISTS (
			SELECT 1 FROM countries c
			WHERE c.country_id = ANY($1)
			  AND c.bbox && ST_SetSRID(ST_MakePoint(n.longitude, n.latitude), 4326)
		   )
	`, ids)
	if err != nil {
		return 0, fmt.Errorf("could not reassign notes: %w", err)
	}
	return tag.RowsAffected(), nil
}
