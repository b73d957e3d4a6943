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
	"strings"
)

// Source selects which staging family a statement addresses: the partitioned
// sync staging loaded by the parallel pipeline, or the flat API staging
// loaded by the small-file path.
type Source uint8

const (
	SourceSync Source = iota + 1
	SourceAPI
)

// String implements the Stringer interface.
func (s Source) String() string {
	switch s {
	case SourceSync:
		return "sync"
	case SourceAPI:
		return "api"
	default:
		return fmt.Sprintf("invalid source %d", uint8(s))
	}
}

// notesTable returns the staging table (or view) holding note rows.
func (s Source) notesTable() string {
	if s == SourceAPI {
		return "notes_api"
	}
	return "notes_sync"
}

func (s Source) commentsTable() string {
	if s == SourceAPI {
		return "note_comments_api"
	}
	return "note_comments_sync"
}

func (s Source) textTable() string {
	if s == SourceAPI {
		return "note_comments_text_api"
	}
	return "note_comments_text_sync"
}

// SyncPartition names the three partition tables assigned to one worker.
type SyncPartition struct {
	Index    int
	Notes    string
	Comments string
	Text     string
}

// Partition returns the table names for the given one-based partition index.
func Partition(index int) SyncPartition {
	p := SyncPartition{
		Index:    index,
		Notes:    fmt.Sprintf("notes_sync_part_%d", index),
		Comments: fmt.Sprintf("note_comments_sync_part_%d", index),
		Text:     fmt.Sprintf("note_comments_text_sync_part_%d", index),
	}
	return p
}

// CreateSyncPartitions creates n fresh partition tables per staging stream
// and the union views the consolidator reads from. Any previous sync staging
// is dropped first, so partitions always start empty.
func (s *Store) CreateSyncPartitions(ctx context.Context, n int) error {

	err := s.DropSyncStaging(ctx)
	if err != nil {
		return fmt.Errorf("could not reset sync staging: %w", err)
	}

	var ddl strings.Builder
	var notesUnion, commentsUnion, textUnion []string
	for i := 1; i <= n; i++ {
		part := Partition(i)
		ddl.WriteString(fmt.Sprintf(`
			CREATE TABLE %s (
			  note_id    BIGINT NOT NULL,
			  latitude   DOUBLE PRECISION NOT NULL,
			  longitude  DOUBLE PRECISION NOT NULL,
			  created_at TIMESTAMPTZ NOT NULL,
			  closed_at  TIMESTAMPTZ,
			  status     note_status_enum NOT NULL
			);
			CREATE TABLE %s (
			  note_id    BIGINT NOT NULL,
			  event      note_event_enum NOT NULL,
			  created_at TIMESTAMPTZ NOT NULL,
			  id_user    BIGINT,
			  username   VARCHAR(256),
			  sequence_action INTEGER NOT NULL
			);
			CREATE TABLE %s (
			  note_id    BIGINT NOT NULL,
			  sequence_action INTEGER NOT NULL,
			  body       TEXT
			);
		`, part.Notes, part.Comments, part.Text))
		notesUnion = append(notesUnion, "SELECT * FROM "+part.Notes)
		commentsUnion = append(commentsUnion, "SELECT * FROM "+part.Comments)
		textUnion = append(textUnion, "SELECT * FROM "+part.Text)
	}

	ddl.WriteString(fmt.Sprintf(`
		CREATE VIEW notes_sync AS %s;
		CREATE VIEW note_comments_sync AS %s;
		CREATE VIEW note_comments_text_sync AS %s;
	`,
		strings.Join(notesUnion, " UNION ALL "),
		strings.Join(commentsUnion, " UNION ALL "),
		strings.Join(textUnion, " UNION ALL "),
	))

	_, err = s.pool.Exec(ctx, ddl.String())
	if err != nil {
		return fmt.Errorf("could not create sync partitions (count: %d): %w", n, err)
	}

	s.log.Info().Int("partitions", n).Msg("sync staging partitions created")

	return nil
}

// DropSyncStaging removes the sync staging views and every partition table,
// whatever the partition count of the previous run was.
func (s *Store) DropSyncStaging(ctx context.Context) error {

	_, err := s.pool.Exec(ctx, `
		DROP VIEW IF EXISTS notes_sync;
		DROP VIEW IF EXISTS note_comments_sync;
		DROP VIEW IF EXISTS note_comments_text_sync;
	`)
	if err != nil {
		return fmt.Errorf("could not drop sync staging views: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT tablename FROM pg_tables
		WHERE tablename LIKE 'notes_sync_part_%'
		   OR tablename LIKE 'note_comments_sync_part_%'
		   OR tablename LIKE 'note_comments_text_sync_part_%'
	`)
	if err != nil {
		return fmt.Errorf("could not list sync partitions: %w", err)
	}
	var tables []string
	for rows.Next() {
		var table string
		err = rows.Scan(&table)
		if err != nil {
			rows.Close()
			return fmt.Errorf("could not scan partition name: %w", err)
		}
		tables = append(tables, table)
	}
	rows.Close()
	err = rows.Err()
	if err != nil {
		return fmt.Errorf("could not iterate partition names: %w", err)
	}

	for _, table := range tables {
		_, err = s.pool.Exec(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		if err != nil {
			return fmt.Errorf("could not drop partition (table: %s): %w", table, err)
		}
	}

	return nil
}

// TruncateAPIStaging clears the flat API staging tables. Runs unconditionally
// at the end of every cycle.
func (s *Store) TruncateAPIStaging(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		TRUNCATE notes_api, note_comments_api, note_comments_text_api
	`)
	if err != nil {
		return fmt.Errorf("could not truncate API staging: %w", err)
	}
	return nil
}

// DropAPIStaging removes the API staging tables entirely.
func (s *Store) DropAPIStaging(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS notes_api;
		DROP TABLE IF EXISTS note_comments_api;
		DROP TABLE IF EXISTS note_comments_text_api;
	`)
	if err != nil {
		return fmt.Errorf("could not drop API staging: %w", err)
	}
	return nil
}
