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
)

// baseTables are the main tables whose joint presence decides between base
// and sync bootstrap modes.
var baseTables = []string{
	"notes",
	"note_comments",
	"note_comments_text",
	"max_note_timestamp",
}

// CreateBaseSchema creates enums, main tables, procedures, API staging and
// boundary tables. All scripts are idempotent.
func (s *Store) CreateBaseSchema(ctx context.Context) error {
	for _, name := range []string{
		"01_enums.sql",
		"02_base_tables.sql",
		"03_procedures.sql",
		"04_api_staging.sql",
		"05_countries.sql",
	} {
		err := s.ExecScript(ctx, name)
		if err != nil {
			return fmt.Errorf("could not apply schema script: %w", err)
		}
	}
	return nil
}

// DropBaseTables removes the main tables and the watermark. Only the base
// bootstrap mode may call this; it destroys data.
func (s *Store) DropBaseTables(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS note_comments_text CASCADE;
		DROP TABLE IF EXISTS note_comments CASCADE;
		DROP TABLE IF EXISTS notes CASCADE;
		DROP TABLE IF EXISTS max_note_timestamp CASCADE;
		DROP TABLE IF EXISTS note_gaps CASCADE;
	`)
	if err != nil {
		return fmt.Errorf("could not drop base tables: %w", err)
	}
	return nil
}

// BaseTablesExist reports whether all main tables are present. Any database
// error is surfaced as-is and must never be interpreted as "missing"; only an
// unambiguous answer from the catalog counts.
func (s *Store) BaseTablesExist(ctx context.Context) (bool, error) {
	for _, table := range baseTables {
		var regclass *string
		err := s.pool.QueryRow(ctx, `SELECT to_regclass($1)::TEXT`, table).Scan(&regclass)
		if err != nil {
			return false, fmt.Errorf("could not check table presence (table: %s): %w", table, err)
		}
		if regclass == nil {
			return false, nil
		}
	}
	return true, nil
}

// CreateSpatialFunction replaces the get_country stub with the spatial
// version backed by the countries table.
func (s *Store) CreateSpatialFunction(ctx context.Context) error {
	err := s.ExecScript(ctx, "06_get_country_spatial.sql")
	if err != nil {
		return fmt.Errorf("could not create spatial lookup: %w", err)
	}
	return nil
}

// GetCountry invokes the geotag lookup for a coordinate pair. It works with
// both the stub and the spatial version of the function.
func (s *Store) GetCountry(ctx context.Context, lat float64, lon float64) (*int64, error) {
	var countryID *int64
	err := s.pool.QueryRow(ctx, `SELECT get_country($1, $2)`, lat, lon).Scan(&countryID)
	if err != nil {
		return nil, fmt.Errorf("could not look up country (lat: %f, lon: %f): %w", lat, lon, err)
	}
	return countryID, nil
}

// AnalyzeMainTables refreshes planner statistics after a merge.
func (s *Store) AnalyzeMainTables(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `ANALYZE notes, note_comments, note_comments_text`)
	if err != nil {
		return fmt.Errorf("could not analyze main tables: %w", err)
	}
	return nil
}

// VacuumMainTables reclaims space after the bulk bootstrap load.
func (s *Store) VacuumMainTables(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `VACUUM ANALYZE notes, note_comments, note_comments_text`)
	if err != nil {
		return fmt.Errorf("could not vacuum main tables: %w", err)
	}
	return nil
}

// GeotagAllNotes assigns a country to every note that has none yet, in one
// bulk pass. Used once at the end of the base bootstrap.
func (s *Store) GeotagAllNotes(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notes
		SET id_country = get_country(latitude, longitude)
		WHERE id_country IS NULL
	`)
	if err != nil {
		return 0, fmt.Errorf("could not geotag notes: %w", err)
	}
	return tag.RowsAffected(), nil
}
