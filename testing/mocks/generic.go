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

package mocks

import (
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/osmnotes/notes-sync/models/notes"
)

// Generic fixtures shared across the test suites. The note values come from a
// real Planet record so that tests exercise realistic shapes.
var (
	NoopLogger = zerolog.New(io.Discard)

	GenericError = errors.New("dummy error")

	GenericNoteID    = int64(3450803)
	GenericCountryID = int64(148838)
	GenericAuthorID  = int64(15422751)
	GenericAuthor    = "GHOSTsama2503"
	GenericBody      = "Iglesia pentecostal"

	GenericOpenedAt = time.Date(2022, time.November, 21, 17, 13, 10, 0, time.UTC)
	GenericClosedAt = time.Date(2022, time.November, 22, 2, 6, 53, 0, time.UTC)
)

// GenericNote returns the fixture note in its open state.
func GenericNote() notes.Note {
	return notes.Note{
		ID:        GenericNoteID,
		Latitude:  39.73537,
		Longitude: -104.96264,
		CreatedAt: GenericOpenedAt,
		Status:    notes.StatusOpen,
	}
}

// GenericComment returns the fixture note's opening comment.
func GenericComment() notes.Comment {
	author := GenericAuthorID
	name := GenericAuthor
	return notes.Comment{
		NoteID:     GenericNoteID,
		Sequence:   1,
		Action:     notes.ActionOpened,
		CreatedAt:  GenericOpenedAt,
		AuthorID:   &author,
		AuthorName: &name,
	}
}
