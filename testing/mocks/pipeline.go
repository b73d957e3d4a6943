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
	"context"
	"testing"

	"github.com/osmnotes/notes-sync/codec/osmxml"
	"github.com/osmnotes/notes-sync/service/splitter"
	"github.com/osmnotes/notes-sync/service/validator"
)

type Validator struct {
	ValidateFunc func(ctx context.Context, path string, format osmxml.Format) (*validator.Report, error)
}

func BaselineValidator(t *testing.T) *Validator {
	t.Helper()

	v := Validator{
		ValidateFunc: func(_ context.Context, path string, format osmxml.Format) (*validator.Report, error) {
			return &validator.Report{Path: path, Format: format, Notes: 1, Comments: 1}, nil
		},
	}

	return &v
}

func (v *Validator) Validate(ctx context.Context, path string, format osmxml.Format) (*validator.Report, error) {
	return v.ValidateFunc(ctx, path, format)
}

type Extractor struct {
	ExtractFunc func(ctx context.Context, part string, format osmxml.Format, dir string, index int) (*splitter.Extraction, error)
}

func BaselineExtractor(t *testing.T) *Extractor {
	t.Helper()

	e := Extractor{
		ExtractFunc: func(_ context.Context, part string, _ osmxml.Format, _ string, _ int) (*splitter.Extraction, error) {
			extraction := splitter.Extraction{
				Part:     part,
				NotesCSV: "notes.csv",
				CommsCSV: "comments.csv",
				TextCSV:  "text.csv",
				Notes:    1,
				Comments: 1,
				Texts:    1,
			}
			return &extraction, nil
		},
	}

	return &e
}

func (e *Extractor) Extract(ctx context.Context, part string, format osmxml.Format, dir string, index int) (*splitter.Extraction, error) {
	return e.ExtractFunc(ctx, part, format, dir, index)
}

type Splitter struct {
	SplitFunc func(ctx context.Context, path string, format osmxml.Format, total int, workers int, dir string) ([]string, error)
}

func BaselineSplitter(t *testing.T) *Splitter {
	t.Helper()

	s := Splitter{
		SplitFunc: func(context.Context, string, osmxml.Format, int, int, string) ([]string, error) {
			return []string{"part_00001.xml"}, nil
		},
	}

	return &s
}

func (s *Splitter) Split(ctx context.Context, path string, format osmxml.Format, total int, workers int, dir string) ([]string, error) {
	return s.SplitFunc(ctx, path, format, total, workers, dir)
}

type Planet struct {
	DownloadFunc func(ctx context.Context, dir string) (string, error)
	ExtractFunc  func(ctx context.Context, archive string) (string, error)
}

func BaselinePlanet(t *testing.T) *Planet {
	t.Helper()

	p := Planet{
		DownloadFunc: func(context.Context, string) (string, error) {
			return "planet-notes-latest.osn.bz2", nil
		},
		ExtractFunc: func(context.Context, string) (string, error) {
			return "planet-notes-latest.osn", nil
		},
	}

	return &p
}

func (p *Planet) Download(ctx context.Context, dir string) (string, error) {
	return p.DownloadFunc(ctx, dir)
}

func (p *Planet) Extract(ctx context.Context, archive string) (string, error) {
	return p.ExtractFunc(ctx, archive)
}
