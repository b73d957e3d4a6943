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

package splitter

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/osmnotes/notes-sync/codec/osmxml"
)

// Extraction describes the three CSV streams produced from one part file.
type Extraction struct {
	Part     string
	NotesCSV string
	CommsCSV string
	TextCSV  string
	Notes    int
	Comments int
	Texts    int
}

// csvLayout is the timestamp rendering used in CSV records, matching what the
// bulk-copy path expects for timestamptz columns.
const csvLayout = "2006-01-02 15:04:05+00"

// Extract streams one part file into its notes, comments and text CSVs. The
// extractor holds a single note in memory at a time and does not assume any
// child ordering beyond XML well-formedness.
func (s *Splitter) Extract(ctx context.Context, part string, format osmxml.Format, dir string, index int) (*Extraction, error) {

	file, err := os.Open(part)
	if err != nil {
		return nil, fmt.Errorf("could not open part: %w", err)
	}
	defer file.Close()

	err = os.MkdirAll(dir, 0o777)
	if err != nil {
		return nil, fmt.Errorf("could not create CSV directory: %w", err)
	}

	extraction := Extraction{
		Part:     part,
		NotesCSV: filepath.Join(dir, fmt.Sprintf("notes_%05d.csv", index)),
		CommsCSV: filepath.Join(dir, fmt.Sprintf("comments_%05d.csv", index)),
		TextCSV:  filepath.Join(dir, fmt.Sprintf("text_%05d.csv", index)),
	}

	sinks, err := openSinks(&extraction)
	if err != nil {
		return nil, err
	}
	defer sinks.discard()

	dec := osmxml.NewDecoder(file, format)
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("extraction interrupted: %w", ctx.Err())
		default:
		}

		record, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("could not decode note during extraction: %w", err)
		}

		err = sinks.write(record)
		if err != nil {
			return nil, fmt.Errorf("could not write CSV records: %w", err)
		}

		extraction.Notes++
		extraction.Comments += len(record.Comments)
		extraction.Texts += len(record.Texts)
	}

	err = sinks.flush()
	if err != nil {
		return nil, fmt.Errorf("could not finalize CSV streams: %w", err)
	}

	s.log.Debug().
		Str("part", part).
		Int("notes", extraction.Notes).
		Int("comments", extraction.Comments).
		Int("texts", extraction.Texts).
		Msg("part extracted")

	return &extraction, nil
}

// csvSinks bundles the three CSV writers of one extraction.
type csvSinks struct {
	files   []*os.File
	notes   *csv.Writer
	comms   *csv.Writer
	text    *csv.Writer
	flushed bool
}

func openSinks(extraction *Extraction) (*csvSinks, error) {
	var sinks csvSinks
	for _, target := range []struct {
		path string
		dest **csv.Writer
	}{
		{extraction.NotesCSV, &sinks.notes},
		{extraction.CommsCSV, &sinks.comms},
		{extraction.TextCSV, &sinks.text},
	} {
		file, err := os.Create(target.path)
		if err != nil {
			sinks.discard()
			return nil, fmt.Errorf("could not create CSV file: %w", err)
		}
		sinks.files = append(sinks.files, file)
		*target.dest = csv.NewWriter(file)
	}
	return &sinks, nil
}

func (s *csvSinks) write(record *osmxml.Record) error {

	note := record.Note
	closedAt := ""
	if note.ClosedAt != nil {
		closedAt = note.ClosedAt.UTC().Format(csvLayout)
	}
	err := s.notes.Write([]string{
		strconv.FormatInt(note.ID, 10),
		strconv.FormatFloat(note.Latitude, 'f', -1, 64),
		strconv.FormatFloat(note.Longitude, 'f', -1, 64),
		note.CreatedAt.UTC().Format(csvLayout),
		closedAt,
		string(note.Status),
	})
	if err != nil {
		return fmt.Errorf("could not write note record: %w", err)
	}

	for _, comment := range record.Comments {
		authorID := ""
		if comment.AuthorID != nil {
			authorID = strconv.FormatInt(*comment.AuthorID, 10)
		}
		authorName := ""
		if comment.AuthorName != nil {
			authorName = *comment.AuthorName
		}
		err = s.comms.Write([]string{
			strconv.FormatInt(comment.NoteID, 10),
			string(comment.Action),
			comment.CreatedAt.UTC().Format(csvLayout),
			authorID,
			authorName,
			strconv.Itoa(comment.Sequence),
		})
		if err != nil {
			return fmt.Errorf("could not write comment record: %w", err)
		}
	}

	for _, text := range record.Texts {
		err = s.text.Write([]string{
			strconv.FormatInt(text.NoteID, 10),
			strconv.Itoa(text.Sequence),
			text.Body,
		})
		if err != nil {
			return fmt.Errorf("could not write text record: %w", err)
		}
	}

	return nil
}

func (s *csvSinks) flush() error {
	for _, writer := range []*csv.Writer{s.notes, s.comms, s.text} {
		writer.Flush()
		err := writer.Error()
		if err != nil {
			return err
		}
	}
	for _, file := range s.files {
		err := file.Close()
		if err != nil {
			return err
		}
	}
	s.flushed = true
	return nil
}

func (s *csvSinks) discard() {
	if s.flushed {
		return
	}
	for _, file := range s.files {
		_ = file.Close()
	}
}
