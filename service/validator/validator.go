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

package validator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	playground "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/osmnotes/notes-sync/codec/osmxml"
	"github.com/osmnotes/notes-sync/models/notes"
)

// Report summarizes a successful validation run. The note count feeds the
// splitter's part computation and the synchronizer's escalation decision.
type Report struct {
	Path     string
	Format   osmxml.Format
	Size     int64
	Notes    int
	Comments int
	Sampled  bool
}

// Validator performs size-adaptive validation of API and Planet documents.
// Small files are fully decoded and every event checked; large files are
// checked for well-formedness with sampled sanity checks so that memory stays
// bounded.
type Validator struct {
	log      zerolog.Logger
	cfg      Config
	validate *playground.Validate
	monitor  *Monitor
}

// New creates a validator with the default thresholds, overridable through
// options.
func New(log zerolog.Logger, options ...Option) *Validator {

	cfg := DefaultConfig
	for _, option := range options {
		option(&cfg)
	}

	v := Validator{
		log:      log.With().Str("component", "validator").Logger(),
		cfg:      cfg,
		validate: playground.New(),
		monitor:  NewMonitor(log),
	}

	return &v
}

// Validate checks the document at the given path against the schema of the
// given format. Any rejection is a data-validation failure for the containing
// cycle.
func (v *Validator) Validate(ctx context.Context, path string, format osmxml.Format) (*Report, error) {

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, notes.NewFailure(notes.CodeDataValidation, err, "document not found (path: %s)", path)
	}
	if err != nil {
		return nil, fmt.Errorf("could not stat document: %w", err)
	}

	if v.cfg.Skip {
		v.log.Warn().Str("path", path).Msg("XML validation skipped by configuration")
		report := Report{Path: path, Format: format, Size: info.Size()}
		return &report, nil
	}

	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	stop := v.monitor.Start(ctx)
	defer stop()

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open document: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReaderSize(file, 1024*1024)

	err = checkDeclaration(reader)
	if err != nil {
		return nil, notes.NewFailure(notes.CodeDataValidation, err, "document rejected (path: %s)", path)
	}

	sampled := info.Size() > v.cfg.SizeThreshold
	stride := 1
	if sampled {
		stride = v.cfg.SampleEvery
	}

	report := Report{
		Path:    path,
		Format:  format,
		Size:    info.Size(),
		Sampled: sampled,
	}

	dec := osmxml.NewDecoder(reader, format)
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("validation interrupted: %w", ctx.Err())
		default:
		}

		record, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, notes.NewFailure(notes.CodeDataValidation, err, "document rejected (path: %s)", path)
		}

		report.Notes++
		report.Comments += len(record.Comments)

		if (report.Notes-1)%stride != 0 {
			continue
		}
		err = v.checkRecord(record)
		if err != nil {
			return nil, notes.NewFailure(notes.CodeDataValidation, err, "document rejected (path: %s, note: %d)", path, record.Note.ID)
		}
	}

	v.log.Info().
		Str("path", path).
		Str("format", format.String()).
		Int64("size", report.Size).
		Int("notes", report.Notes).
		Int("comments", report.Comments).
		Bool("sampled", sampled).
		Msg("document validated")

	return &report, nil
}

// checkRecord applies the date and coordinate sanity checks to one decoded
// note and its comment stream.
func (v *Validator) checkRecord(record *osmxml.Record) error {

	err := v.validate.Struct(record.Note)
	if err != nil {
		return fmt.Errorf("invalid note coordinates or fields (id: %d, lat: %f, lon: %f): %w",
			record.Note.ID, record.Note.Latitude, record.Note.Longitude, err)
	}

	now := time.Now().UTC()
	instants := []time.Time{record.Note.CreatedAt}
	if record.Note.ClosedAt != nil {
		instants = append(instants, *record.Note.ClosedAt)
	}
	for _, comment := range record.Comments {
		instants = append(instants, comment.CreatedAt)
	}
	for _, instant := range instants {
		if instant.After(now) {
			return fmt.Errorf("instant in the future (id: %d, instant: %s)", record.Note.ID, instant)
		}
		if instant.Before(v.cfg.Epoch) {
			return fmt.Errorf("instant before epoch (id: %d, instant: %s, epoch: %s)", record.Note.ID, instant, v.cfg.Epoch)
		}
	}

	// Notes without comments do exist upstream; they are surfaced by the
	// consolidator's gap check rather than rejected here.
	if len(record.Comments) > 0 && record.Comments[0].Action != notes.ActionOpened {
		return fmt.Errorf("first comment action is not opened (id: %d, action: %s)", record.Note.ID, record.Comments[0].Action)
	}

	return nil
}

// checkDeclaration verifies the XML declaration without consuming it.
func checkDeclaration(reader *bufio.Reader) error {
	head, err := reader.Peek(6)
	if err != nil {
		return fmt.Errorf("could not read document head: %w", err)
	}
	if !strings.HasPrefix(string(head), "<?xml") {
		return fmt.Errorf("missing XML declaration")
	}
	return nil
}
