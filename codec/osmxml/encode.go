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
)

// Encoder writes note records into a well-formed XML fragment using the
// Planet schema. Part files produced by the splitter always use this schema,
// regardless of the schema they were read from.
type Encoder struct {
	writer io.Writer
	enc    *xml.Encoder
	open   bool
}

// NewEncoder creates an encoder that writes the XML declaration and opens the
// root element on the given writer.
func NewEncoder(writer io.Writer) (*Encoder, error) {

	_, err := io.WriteString(writer, xml.Header)
	if err != nil {
		return nil, fmt.Errorf("could not write XML declaration: %w", err)
	}

	enc := xml.NewEncoder(writer)
	root := xml.StartElement{Name: xml.Name{Local: FormatPlanet.Root()}}
	err = enc.EncodeToken(root)
	if err != nil {
		return nil, fmt.Errorf("could not open root element: %w", err)
	}

	e := Encoder{
		writer: writer,
		enc:    enc,
		open:   true,
	}

	return &e, nil
}

// Encode appends one note record to the fragment.
func (e *Encoder) Encode(record *Record) error {

	texts := make(map[int]string, len(record.Texts))
	for _, text := range record.Texts {
		texts[text.Sequence] = text.Body
	}

	lat := record.Note.Latitude
	lon := record.Note.Longitude
	raw := PlanetNote{
		ID:        record.Note.ID,
		Lat:       &lat,
		Lon:       &lon,
		CreatedAt: record.Note.CreatedAt.UTC().Format(LayoutPlanet),
	}
	if record.Note.ClosedAt != nil {
		raw.ClosedAt = record.Note.ClosedAt.UTC().Format(LayoutPlanet)
	}
	for _, comment := range record.Comments {
		rawComment := PlanetComment{
			Action:    string(comment.Action),
			Timestamp: comment.CreatedAt.UTC().Format(LayoutPlanet),
			UID:       comment.AuthorID,
			Body:      texts[comment.Sequence],
		}
		if comment.AuthorName != nil {
			rawComment.User = *comment.AuthorName
		}
		raw.Comments = append(raw.Comments, rawComment)
	}

	start := xml.StartElement{Name: xml.Name{Local: "note"}}
	err := e.enc.EncodeElement(raw, start)
	if err != nil {
		return fmt.Errorf("could not encode note: %w", err)
	}

	return nil
}

// Close closes the root element and flushes the encoder. It is safe to call
// multiple times.
func (e *Encoder) Close() error {
	if !e.open {
		return nil
	}
	e.open = false
	root := xml.EndElement{Name: xml.Name{Local: FormatPlanet.Root()}}
	err := e.enc.EncodeToken(root)
	if err != nil {
		return fmt.Errorf("could not close root element: %w", err)
	}
	err = e.enc.Flush()
	if err != nil {
		return fmt.Errorf("could not flush encoder: %w", err)
	}
	return nil
}
