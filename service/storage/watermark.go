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
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/osmnotes/notes-sync/models/notes"
)

// Watermark returns the stored maximum updated_at instant. A missing row
// means the base bootstrap has never completed, which is a distinct failure.
func (s *Store) Watermark(ctx context.Context) (time.Time, error) {
	var timestamp time.Time
	err := s.pool.QueryRow(ctx, `SELECT timestamp FROM max_note_timestamp`).Scan(&timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		failure := notes.NewFailure(notes.CodeNoWatermark, err, "no watermark present").
			WithAction("run the base bootstrap before synchronizing")
		return time.Time{}, failure
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("could not read watermark: %w", err)
	}
	return timestamp.UTC(), nil
}

// SetWatermark advances the watermark to the given instant. The statement is
// monotonic: an older instant never lowers the stored one.
func (s *Store) SetWatermark(ctx context.Context, timestamp time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO max_note_timestamp (singleton, timestamp)
		VALUES (TRUE, $1)
		ON CONFLICT (singleton)
		DO UPDATE SET timestamp = GREATEST(max_note_timestamp.timestamp, EXCLUDED.timestamp)
	`, timestamp)
	if err != nil {
		return fmt.Errorf("could not set watermark: %w", err)
	}
	return nil
}

// RefreshWatermark recomputes the watermark from the main tables and stores
// it. Used after bulk paths where the maximum is not tracked incrementally.
func (s *Store) RefreshWatermark(ctx context.Context) (time.Time, error) {
	var timestamp *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT GREATEST(
			(SELECT MAX(updated_at) FROM notes),
			(SELECT MAX(created_at) FROM note_comments)
		)
	`).Scan(&timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("could not compute watermark: %w", err)
	}
	if timestamp == nil {
		return time.Time{}, nil
	}
	err = s.SetWatermark(ctx, *timestamp)
	if err != nil {
		return time.Time{}, err
	}
	return timestamp.UTC(), nil
}
