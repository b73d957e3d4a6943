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

package notes

import (
	"fmt"
	"time"
)

// Status enumerates the lifecycle states of a note. A note is never deleted;
// hiding is expressed as a status so that history is retained.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "close"
	StatusHidden Status = "hidden"
)

// Action enumerates the events that can be appended to a note's comment
// sequence. The first action of every note is ActionOpened.
type Action string

const (
	ActionOpened    Action = "opened"
	ActionCommented Action = "commented"
	ActionClosed    Action = "closed"
	ActionReopened  Action = "reopened"
	ActionHidden    Action = "hidden"
)

// ParseAction converts the action string found in API and Planet documents
// into a typed action.
func ParseAction(text string) (Action, error) {
	switch Action(text) {
	case ActionOpened, ActionCommented, ActionClosed, ActionReopened, ActionHidden:
		return Action(text), nil
	default:
		return "", fmt.Errorf("unknown comment action (action: %s)", text)
	}
}

// Note is a geotagged, user-submitted map annotation. Coordinates are
// immutable after insert; status and closure instant follow the comment
// stream.
type Note struct {
	ID        int64     `validate:"required,gt=0"`
	Latitude  float64   `validate:"latitude"`
	Longitude float64   `validate:"longitude"`
	CreatedAt time.Time `validate:"required"`
	ClosedAt  *time.Time
	Status    Status `validate:"required,oneof=open close hidden"`
	CountryID *int64
}

// Comment is one event in a note's ordered comment sequence. Sequence is
// assigned during extraction and is monotonic per note, starting at 1.
type Comment struct {
	NoteID     int64     `validate:"required,gt=0"`
	Sequence   int       `validate:"required,gt=0"`
	Action     Action    `validate:"required"`
	CreatedAt  time.Time `validate:"required"`
	AuthorID   *int64
	AuthorName *string
}

// CommentText carries the free-text body of a comment. Absent for actions
// that carried no text.
type CommentText struct {
	NoteID   int64
	Sequence int
	Body     string
}
