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
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
)

// CopyTarget names the three tables one bulk load writes into.
type CopyTarget struct {
	Notes    string
	Comments string
	Text     string
}

// Target returns the copy target for a sync partition.
func (p SyncPartition) Target() CopyTarget {
	return CopyTarget{Notes: p.Notes, Comments: p.Comments, Text: p.Text}
}

// APITarget returns the copy target for the flat API staging tables.
func APITarget() CopyTarget {
	return CopyTarget{
		Notes:    "notes_api",
		Comments: "note_comments_api",
		Text:     "note_comments_text_api",
	}
}

// CopyStats reports the rows written by one bulk load.
type CopyStats struct {
	Notes    int64
	Comments int64
	Texts    int64
}

// copyLayout matches the timestamp rendering of the extractor's CSVs.
const copyLayout = "2006-01-02 15:04:05+00"

// LoadCSV bulk-copies the three CSV streams of one extraction into the target
// tables, inside a single transaction. The first error aborts the whole load.
func (s *Store) LoadCSV(ctx context.Context, target CopyTarget, notesCSV string, commentsCSV string, textCSV string) (CopyStats, error) {

	var stats CopyStats

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return stats, fmt.Errorf("could not begin load transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stats.Notes, err = copyFile(ctx, tx, target.Notes,
		[]string{"note_id", "latitude", "longitude", "created_at", "closed_at", "status"},
		convertNoteRow,
		notesCSV,
	)
	if err != nil {
		return stats, fmt.Errorf("could not copy notes: %w", err)
	}

	stats.Comments, err = copyFile(ctx, tx, target.Comments,
		[]string{"note_id", "event", "created_at", "id_user", "username", "sequence_action"},
		convertCommentRow,
		commentsCSV,
	)
	if err != nil {
		return stats, fmt.Errorf("could not copy comments: %w", err)
	}

	stats.Texts, err = copyFile(ctx, tx, target.Text,
		[]string{"note_id", "sequence_action", "body"},
		convertTextRow,
		textCSV,
	)
	if err != nil {
		return stats, fmt.Errorf("could not copy text: %w", err)
	}

	err = tx.Commit(ctx)
	if err != nil {
		return stats, fmt.Errorf("could not commit load transaction: %w", err)
	}

	return stats, nil
}

// copyFile streams one CSV file into a table through the copy protocol.
func copyFile(ctx context.Context, tx pgx.Tx, table string, columns []string, convert func([]string) ([]interface{}, error), path string) (int64, error) {

	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("could not open CSV file: %w", err)
	}
	defer file.Close()

	source := csvSource{
		reader:  csv.NewReader(file),
		convert: convert,
	}

	count, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, &source)
	if err != nil {
		return 0, fmt.Errorf("could not copy into table (table: %s): %w", table, err)
	}

	return count, nil
}

// csvSource adapts a CSV reader to the pgx CopyFromSource interface, keeping
// the load streaming end to end.
type csvSource struct {
	reader  *csv.Reader
	convert func([]string) ([]interface{}, error)
	values  []interface{}
	err     error
}

func (c *csvSource) Next() bool {
	record, err := c.reader.Read()
	if err == io.EOF {
		return false
	}
	if err != nil {
		c.err = fmt.Errorf("could not read CSV record: %w", err)
		return false
	}
	c.values, c.err = c.convert(record)
	return c.err == nil
}

func (c *csvSource) Values() ([]interface{}, error) {
	return c.values, c.err
}

func (c *csvSource) Err() error {
	return c.err
}

func convertNoteRow(record []string) ([]interface{}, error) {
	if len(record) != 6 {
		return nil, fmt.Errorf("invalid note record (fields: %d)", len(record))
	}
	id, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("could not parse note id: %w", err)
	}
	lat, err := strconv.ParseFloat(record[1], 64)
	if err != nil {
		return nil, fmt.Errorf("could not parse latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(record[2], 64)
	if err != nil {
		return nil, fmt.Errorf("could not parse longitude: %w", err)
	}
	createdAt, err := time.Parse(copyLayout, record[3])
	if err != nil {
		return nil, fmt.Errorf("could not parse created_at: %w", err)
	}
	var closedAt interface{}
	if record[4] != "" {
		instant, err := time.Parse(copyLayout, record[4])
		if err != nil {
			return nil, fmt.Errorf("could not parse closed_at: %w", err)
		}
		closedAt = instant
	}
	return []interface{}{id, lat, lon, createdAt, closedAt, record[5]}, nil
}

func convertCommentRow(record []string) ([]interface{}, error) {
	if len(record) != 6 {
		return nil, fmt.Errorf("invalid comment record (fields: %d)", len(record))
	}
	id, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("could not parse note id: %w", err)
	}
	createdAt, err := time.Parse(copyLayout, record[2])
	if err != nil {
		return nil, fmt.Errorf("could not parse comment instant: %w", err)
	}
	var authorID interface{}
	if record[3] != "" {
		parsed, err := strconv.ParseInt(record[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("could not parse author id: %w", err)
		}
		authorID = parsed
	}
	var authorName interface{}
	if record[4] != "" {
		authorName = record[4]
	}
	sequence, err := strconv.Atoi(record[5])
	if err != nil {
		return nil, fmt.Errorf("could not parse sequence: %w", err)
	}
	return []interface{}{id, record[1], createdAt, authorID, authorName, sequence}, nil
}

func convertTextRow(record []string) ([]interface{}, error) {
	if len(record) != 3 {
		return nil, fmt.Errorf("invalid text record (fields: %d)", len(record))
	}
	id, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("could not parse note id: %w", err)
	}
	sequence, err := strconv.Atoi(record[1])
	if err != nil {
		return nil, fmt.Errorf("could not parse sequence: %w", err)
	}
	return []interface{}{id, sequence, record[2]}, nil
}
