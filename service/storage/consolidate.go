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
	"time"

	"github.com/osmnotes/notes-sync/models/notes"
)

// StagingMaxInstant returns the maximum instant present in the staging
// source, which becomes the watermark once the merge commits. A zero time
// means the staging is empty.
func (s *Store) StagingMaxInstant(ctx context.Context, src Source) (time.Time, error) {
	query := fmt.Sprintf(`
		SELECT GREATEST(
			(SELECT MAX(GREATEST(created_at, COALESCE(closed_at, created_at))) FROM %s),
			(SELECT MAX(created_at) FROM %s)
		)
	`, src.notesTable(), src.commentsTable())
	var instant *time.Time
	err := s.pool.QueryRow(ctx, query).Scan(&instant)
	if err != nil {
		return time.Time{}, fmt.Errorf("could not compute staging maximum: %w", err)
	}
	if instant == nil {
		return time.Time{}, nil
	}
	return instant.UTC(), nil
}

// MergeNotes deduplicates staged note rows and upserts them into the main
// table. An existing note is only updated when the incoming row is strictly
// newer by its effective updated_at; an equal instant is a no-op, which makes
// the merge idempotent.
func (s *Store) MergeNotes(ctx context.Context, src Source) (int64, error) {
	query := fmt.Sprintf(`
		WITH incoming AS (
			SELECT DISTINCT ON (n.note_id)
				n.note_id, n.latitude, n.longitude, n.created_at, n.closed_at, n.status,
				GREATEST(
					n.created_at,
					COALESCE(n.closed_at, n.created_at),
					COALESCE(c.last_event, n.created_at)
				) AS updated_at
			FROM %s n
			LEFT JOIN (
				SELECT note_id, MAX(created_at) AS last_event
				FROM %s
				GROUP BY note_id
			) c USING (note_id)
			ORDER BY n.note_id, n.closed_at DESC NULLS LAST
		)
		INSERT INTO notes (note_id, latitude, longitude, created_at, closed_at, status, updated_at)
		SELECT note_id, latitude, longitude, created_at, closed_at, status, updated_at
		FROM incoming
		ON CONFLICT (note_id) DO UPDATE
		SET status     = EXCLUDED.status,
		    closed_at  = EXCLUDED.closed_at,
		    updated_at = EXCLUDED.updated_at
		WHERE EXCLUDED.updated_at > notes.updated_at
	`, src.notesTable(), src.commentsTable())

	tag, err := s.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("could not merge notes (source: %s): %w", src, err)
	}
	return tag.RowsAffected(), nil
}

// MergeComments inserts staged comments whose note exists in main, skipping
// sequence positions that are already present.
func (s *Store) MergeComments(ctx context.Context, src Source) (int64, error) {
	query := fmt.Sprintf(`
		INSERT INTO note_comments (note_id, sequence_action, event, created_at, id_user, username)
		SELECT DISTINCT ON (c.note_id, c.sequence_action)
			c.note_id, c.sequence_action, c.event, c.created_at, c.id_user, c.username
		FROM %s c
		WHERE EXISTS (SELECT 1 FROM notes n WHERE n.note_id = c.note_id)
		ORDER BY c.note_id, c.sequence_action
		ON CONFLICT (note_id, sequence_action) DO NOTHING
	`, src.commentsTable())

	tag, err := s.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("could not merge comments (source: %s): %w", src, err)
	}
	return tag.RowsAffected(), nil
}

// MergeTexts inserts staged text bodies, but only where the matching comment
// made it into main, so the insert can never violate the foreign key even
// after deduplication dropped comments.
func (s *Store) MergeTexts(ctx context.Context, src Source) (int64, error) {
	query := fmt.Sprintf(`
		INSERT INTO note_comments_text (note_id, sequence_action, body)
		SELECT DISTINCT ON (t.note_id, t.sequence_action)
			t.note_id, t.sequence_action, t.body
		FROM %s t
		WHERE EXISTS (
			SELECT 1 FROM note_comments c
			WHERE c.note_id = t.note_id AND c.sequence_action = t.sequence_action
		)
		ORDER BY t.note_id, t.sequence_action
		ON CONFLICT (note_id, sequence_action) DO NOTHING
	`, src.textTable())

	tag, err := s.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("could not merge text (source: %s): %w", src, err)
	}
	return tag.RowsAffected(), nil
}

// GeotagNewNotes assigns a country to notes that do not have one yet. The
// lookup works with both the stub and the spatial version of get_country.
func (s *Store) GeotagNewNotes(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notes
		SET id_country = get_country(latitude, longitude)
		WHERE id_country IS NULL
		  AND updated_at >= now() - INTERVAL '30 days'
	`)
	if err != nil {
		return 0, fmt.Errorf("could not geotag new notes: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GapCounts returns the total number of notes created inside the window and
// how many of them have no comments at all.
func (s *Store) GapCounts(ctx context.Context, window time.Duration) (int64, int64, error) {
	var total, broken int64
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE NOT EXISTS (
				SELECT 1 FROM note_comments c WHERE c.note_id = n.note_id
			))
		FROM notes n
		WHERE n.created_at > now() - $1::INTERVAL
	`, window.String()).Scan(&total, &broken)
	if err != nil {
		return 0, 0, fmt.Errorf("could not compute gap counts: %w", err)
	}
	return total, broken, nil
}

// InsertGapRecord persists one observed integrity defect for operators.
func (s *Store) InsertGapRecord(ctx context.Context, record notes.GapRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO note_gaps (observed_at, kind, notes_total, notes_broken, percentage, unprocessed)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, record.ObservedAt, record.Kind, record.NotesTotal, record.NotesBroken, record.Percentage, record.Unprocessed)
	if err != nil {
		return fmt.Errorf("could not insert gap record: %w", err)
	}
	return nil
}
