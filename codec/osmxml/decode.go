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

package osmxml

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/osmnotes/notes-sync/models/notes"
)

// Record is one fully decoded note with its ordered comment sequence and the
// text bodies that came with it.
type Record struct {
	Note     notes.Note
	Comments []notes.Comment
	Texts    []notes.CommentText
}

// PlanetNote mirrors one note element of a Planet dump. The coordinates are
// pointers so that an absent attribute stays distinguishable from a literal
// zero; a note at the null island is valid, one without coordinates is not.
type PlanetNote struct {
	ID        int64           `xml:"id,attr"`
	Lat       *float64        `xml:"lat,attr"`
	Lon       *float64        `xml:"lon,attr"`
	CreatedAt string          `xml:"created_at,attr"`
	ClosedAt  string          `xml:"closed_at,attr,omitempty"`
	Comments  []PlanetComment `xml:"comment"`
}

// PlanetComment mirrors one comment element of a Planet note.
type PlanetComment struct {
	Action    string `xml:"action,attr"`
	Timestamp string `xml:"timestamp,attr"`
	UID       *int64 `xml:"uid,attr,omitempty"`
	User      string `xml:"user,attr,omitempty"`
	Body      string `xml:",chardata"`
}

// APINote mirrors one note element of an API response document.
type APINote struct {
	Lat         *float64     `xml:"lat,attr"`
	Lon         *float64     `xml:"lon,attr"`
	ID          int64        `xml:"id"`
	DateCreated string       `xml:"date_created"`
	DateClosed  string       `xml:"date_closed"`
	Status      string       `xml:"status"`
	Comments    []APIComment `xml:"comments>comment"`
}

// APIComment mirrors one comment element of an API note.
type APIComment struct {
	Date   string `xml:"date"`
	UID    *int64 `xml:"uid"`
	User   string `xml:"user"`
	Action string `xml:"action"`
	Text   string `xml:"text"`
}

// Decoder streams note records out of an XML document of either format. It
// holds at most one note in memory at a time.
type Decoder struct {
	format  Format
	dec     *xml.Decoder
	started bool
}

// NewDecoder creates a streaming decoder for the given document format.
func NewDecoder(reader io.Reader, format Format) *Decoder {

	d := Decoder{
		format: format,
		dec:    xml.NewDecoder(reader),
	}

	return &d
}

// Next returns the next note record in the document, or io.EOF when the
// document is exhausted. The root element is checked on first use.
func (d *Decoder) Next() (*Record, error) {
	for {
		token, err := d.dec.Token()
		if err != nil {
			return nil, err
		}
		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		if !d.started {
			if start.Name.Local != d.format.Root() {
				return nil, fmt.Errorf("unexpected root element (want: %s, have: %s)", d.format.Root(), start.Name.Local)
			}
			d.started = true
			continue
		}
		if start.Name.Local != "note" {
			err = d.dec.Skip()
			if err != nil {
				return nil, fmt.Errorf("could not skip element: %w", err)
			}
			continue
		}
		return d.decodeNote(start)
	}
}

func (d *Decoder) decodeNote(start xml.StartElement) (*Record, error) {
	switch d.format {
	case FormatPlanet:
		var raw PlanetNote
		err := d.dec.DecodeElement(&raw, &start)
		if err != nil {
			return nil, fmt.Errorf("could not decode planet note: %w", err)
		}
		return convertPlanet(raw)
	case FormatAPI:
		var raw APINote
		err := d.dec.DecodeElement(&raw, &start)
		if err != nil {
			return nil, fmt.Errorf("could not decode API note: %w", err)
		}
		return convertAPI(raw)
	default:
		return nil, fmt.Errorf("invalid format (format: %d)", d.format)
	}
}

func convertPlanet(raw PlanetNote) (*Record, error) {

	if raw.Lat == nil || raw.Lon == nil {
		return nil, fmt.Errorf("note has no coordinates (id: %d)", raw.ID)
	}

	createdAt, err := ParseTime(FormatPlanet, raw.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("could not parse note creation instant: %w", err)
	}

	note := notes.Note{
		ID:        raw.ID,
		Latitude:  *raw.Lat,
		Longitude: *raw.Lon,
		CreatedAt: createdAt,
		Status:    notes.StatusOpen,
	}
	if raw.ClosedAt != "" {
		closedAt, err := ParseTime(FormatPlanet, raw.ClosedAt)
		if err != nil {
			return nil, fmt.Errorf("could not parse note closure instant: %w", err)
		}
		note.ClosedAt = &closedAt
		note.Status = notes.StatusClosed
	}

	record := Record{
		Note: note,
	}
	for i, rawComment := range raw.Comments {
		action, err := notes.ParseAction(rawComment.Action)
		if err != nil {
			return nil, fmt.Errorf("could not parse comment action: %w", err)
		}
		instant, err := ParseTime(FormatPlanet, rawComment.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("could not parse comment instant: %w", err)
		}
		comment := notes.Comment{
			NoteID:    raw.ID,
			Sequence:  i + 1,
			Action:    action,
			CreatedAt: instant,
			AuthorID:  rawComment.UID,
		}
		if rawComment.User != "" {
			user := rawComment.User
			comment.AuthorName = &user
		}
		record.Comments = append(record.Comments, comment)

		body := strings.TrimSpace(rawComment.Body)
		if body != "" {
			text := notes.CommentText{
				NoteID:   raw.ID,
				Sequence: i + 1,
				Body:     rawComment.Body,
			}
			record.Texts = append(record.Texts, text)
		}
	}

	return &record, nil
}

func convertAPI(raw APINote) (*Record, error) {

	if raw.Lat == nil || raw.Lon == nil {
		return nil, fmt.Errorf("note has no coordinates (id: %d)", raw.ID)
	}

	createdAt, err := ParseTime(FormatAPI, raw.DateCreated)
	if err != nil {
		return nil, fmt.Errorf("could not parse note creation instant: %w", err)
	}

	status := notes.StatusOpen
	switch raw.Status {
	case "open", "":
		status = notes.StatusOpen
	case "closed", "close":
		status = notes.StatusClosed
	case "hidden":
		status = notes.StatusHidden
	default:
		return nil, fmt.Errorf("unknown note status (status: %s)", raw.Status)
	}

	note := notes.Note{
		ID:        raw.ID,
		Latitude:  *raw.Lat,
		Longitude: *raw.Lon,
		CreatedAt: createdAt,
		Status:    status,
	}
	if raw.DateClosed != "" {
		closedAt, err := ParseTime(FormatAPI, raw.DateClosed)
		if err != nil {
			return nil, fmt.Errorf("could not parse note closure instant: %w", err)
		}
		note.ClosedAt = &closedAt
	}

	record := Record{
		Note: note,
	}
	for i, rawComment := range raw.Comments {
		action, err := notes.ParseAction(rawComment.Action)
		if err != nil {
			return nil, fmt.Errorf("could not parse comment action: %w", err)
		}
		instant, err := ParseTime(FormatAPI, rawComment.Date)
		if err != nil {
			return nil, fmt.Errorf("could not parse comment instant: %w", err)
		}
		comment := notes.Comment{
			NoteID:    raw.ID,
			Sequence:  i + 1,
			Action:    action,
			CreatedAt: instant,
			AuthorID:  rawComment.UID,
		}
		if rawComment.User != "" {
			user := rawComment.User
			comment.AuthorName = &user
		}
		record.Comments = append(record.Comments, comment)

		if rawComment.Text != "" {
			text := notes.CommentText{
				NoteID:   raw.ID,
				Sequence: i + 1,
				Body:     rawComment.Text,
			}
			record.Texts = append(record.Texts, text)
		}
	}

	return &record, nil
}

// ParseTime parses an instant in the layout of the given format. Both layouts
// are normalized to UTC.
func ParseTime(format Format, text string) (time.Time, error) {
	var layout string
	switch format {
	case FormatPlanet:
		layout = LayoutPlanet
	case FormatAPI:
		layout = LayoutAPI
	default:
		return time.Time{}, fmt.Errorf("invalid format (format: %d)", format)
	}
	instant, err := time.Parse(layout, text)
	if err != nil {
		return time.Time{}, fmt.Errorf("could not parse instant (layout: %s): %w", layout, err)
	}
	return instant.UTC(), nil
}
